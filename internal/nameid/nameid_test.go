package nameid

import (
	"strings"
	"testing"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"MyCA", "myca", false},
		{"  sub-ca.1  ", "sub-ca.1", false},
		{"profile_tls:server", "profile_tls:server", false},
		{"", "", true},
		{"   ", "", true},
		{"has space", "", true},
		{"has/slash", "", true},
		{strings.Repeat("a", MaxNameLen+1), "", true},
	}

	for _, tt := range tests {
		got, err := NormalizeName(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("NormalizeName(%q) expected error, got %q", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeName(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRegistryBidirectional(t *testing.T) {
	r := NewRegistry()

	if err := r.Add(1, "RootCA"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	id, ok := r.NameToID("rootca")
	if !ok || id != 1 {
		t.Errorf("NameToID(rootca) = %d, %v; want 1, true", id, ok)
	}

	// Case-insensitive lookup
	id, ok = r.NameToID("ROOTCA")
	if !ok || id != 1 {
		t.Errorf("NameToID(ROOTCA) = %d, %v; want 1, true", id, ok)
	}

	name, ok := r.IDToName(1)
	if !ok || name != "rootca" {
		t.Errorf("IDToName(1) = %q, %v; want rootca, true", name, ok)
	}
}

func TestRegistryDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(1, "ca1"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	// Re-adding the identical pair is a no-op.
	if err := r.Add(1, "CA1"); err != nil {
		t.Errorf("re-Add identical pair error = %v", err)
	}

	if err := r.Add(1, "other"); err == nil {
		t.Error("Add with duplicate id should fail")
	}
	if err := r.Add(2, "ca1"); err == nil {
		t.Error("Add with duplicate name should fail")
	}
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(7, "gone"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	r.Remove(7)

	if _, ok := r.IDToName(7); ok {
		t.Error("IDToName after Remove should miss")
	}
	if _, ok := r.NameToID("gone"); ok {
		t.Error("NameToID after Remove should miss")
	}
	if err := r.Add(8, "gone"); err != nil {
		t.Errorf("name should be reusable after Remove: %v", err)
	}
}
