package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogAndVerifyChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger := NewLogger(path)

	if err := logger.Log(EventCertIssued, true, "myca", "ab", "cn=alice", map[string]string{"profile": "ee"}); err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if err := logger.Log(EventCertRevoked, true, "myca", "ab", "cn=alice", nil); err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if err := logger.Log(EventCrlGenerated, true, "myca", "", "", nil); err != nil {
		t.Fatalf("Log() error = %v", err)
	}

	if err := Verify(path); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger := NewLogger(path)

	if err := logger.Log(EventCertIssued, true, "myca", "ab", "cn=alice", nil); err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if err := logger.Log(EventCertRevoked, true, "myca", "ab", "cn=alice", nil); err != nil {
		t.Fatalf("Log() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	tampered := strings.Replace(string(data), "cn=alice", "cn=mallory", 1)
	if err := os.WriteFile(path, []byte(tampered), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if err := Verify(path); err == nil {
		t.Fatal("Verify() should detect the tampered event")
	}
}

func TestEventsAreChained(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger := NewLogger(path)

	_ = logger.Log(EventSystemRestarted, true, "", "", "", nil)
	_ = logger.Log(EventSystemUnlocked, true, "", "", "", nil)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}

	var first, second Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if first.HashPrev != "" {
		t.Errorf("first event hash_prev = %q, want empty", first.HashPrev)
	}
	if second.HashPrev != first.Hash {
		t.Errorf("second event hash_prev = %q, want %q", second.HashPrev, first.Hash)
	}
}

func TestNilLoggerDiscards(t *testing.T) {
	var logger *Logger
	if err := logger.Log(EventCertIssued, true, "", "", "", nil); err != nil {
		t.Errorf("nil logger Log() error = %v", err)
	}
}
