package crypto

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"math/big"
	"path/filepath"
	"sync"
	"testing"

	"github.com/frestoinc/xipki/internal/x509util"
)

func TestParseKeyspec(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"RSA/2048", "RSA/2048", false},
		{"rsa/4096", "RSA/4096", false},
		{"EC/secp256r1", "EC/secp256r1", false},
		{"ec/P-384", "EC/p-384", false},
		{"ED25519", "ED25519", false},
		{"x448", "X448", false},
		{"RSA", "", true},
		{"EC", "", true},
		{"ED25519/foo", "", true},
		{"", "", true},
		{"FOO/1", "", true},
	}

	for _, tt := range tests {
		got, err := ParseKeyspec(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseKeyspec(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseKeyspec(%q) error = %v", tt.in, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("ParseKeyspec(%q) = %q, want %q", tt.in, got.String(), tt.want)
		}
	}
}

func TestParseSignAlgo(t *testing.T) {
	algo, err := ParseSignAlgo("sha256withRSA")
	if err != nil || algo != SignRSASHA256 {
		t.Errorf("ParseSignAlgo() = %v, %v", algo, err)
	}
	if _, err := ParseSignAlgo("MD5withRSA"); err == nil {
		t.Error("MD5withRSA should be rejected")
	}
}

func TestAlgorithmIdentifierEncodings(t *testing.T) {
	// RSA carries NULL parameters.
	der, err := SignRSASHA256.AlgorithmIdentifier()
	if err != nil {
		t.Fatalf("AlgorithmIdentifier() error = %v", err)
	}
	// SEQUENCE { OID 1.2.840.113549.1.1.11, NULL }
	want := []byte{0x30, 0x0d, 0x06, 0x09, 0x2a, 0x86, 0x48, 0x86, 0xf7, 0x0d, 0x01, 0x01, 0x0b, 0x05, 0x00}
	if len(der) != len(want) {
		t.Errorf("RSA identifier = %x, want %x", der, want)
	}

	// Ed25519 carries no parameters.
	der, err = SignEd25519.AlgorithmIdentifier()
	if err != nil {
		t.Fatalf("AlgorithmIdentifier() error = %v", err)
	}
	want = []byte{0x30, 0x05, 0x06, 0x03, 0x2b, 0x65, 0x70}
	if string(der) != string(want) {
		t.Errorf("Ed25519 identifier = %x, want %x", der, want)
	}
}

func TestROCAFingerprint(t *testing.T) {
	// Residues of 65537^k lie in the generated subgroups by construction.
	affected := new(big.Int).Exp(big.NewInt(65537), big.NewInt(3), nil)
	if !IsROCAAffected(affected) {
		t.Error("65537^3 must carry the fingerprint")
	}

	// A fresh random RSA modulus virtually never does.
	clean, err := rand.Prime(rand.Reader, 512)
	if err != nil {
		t.Fatalf("rand.Prime() error = %v", err)
	}
	clean2, err := rand.Prime(rand.Reader, 512)
	if err != nil {
		t.Fatalf("rand.Prime() error = %v", err)
	}
	modulus := new(big.Int).Mul(clean, clean2)
	if IsROCAAffected(modulus) {
		t.Error("random modulus flagged as ROCA affected")
	}
}

func TestEncryptedKeyRoundtrip(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "test.key")
	if err := SaveEncryptedKey(path, priv, []byte("hunter2")); err != nil {
		t.Fatalf("SaveEncryptedKey() error = %v", err)
	}

	loaded, err := LoadEncryptedKey(path, []byte("hunter2"))
	if err != nil {
		t.Fatalf("LoadEncryptedKey() error = %v", err)
	}
	loadedEd, ok := loaded.(ed25519.PrivateKey)
	if !ok {
		t.Fatalf("loaded key type %T", loaded)
	}
	if !priv.Equal(loadedEd) {
		t.Error("loaded key differs from saved key")
	}

	if _, err := LoadEncryptedKey(path, []byte("wrong")); err == nil {
		t.Error("wrong passphrase must fail")
	}
}

func TestSignerSetSelection(t *testing.T) {
	edSigner, err := GenerateSoftwareSigner(SignEd25519)
	if err != nil {
		t.Fatalf("GenerateSoftwareSigner() error = %v", err)
	}
	ecSigner, err := GenerateSoftwareSigner(SignECDSASHA256)
	if err != nil {
		t.Fatalf("GenerateSoftwareSigner() error = %v", err)
	}

	set := NewSignerSet(
		NewConcurrentSigner("ed", edSigner, 2),
		NewConcurrentSigner("ec", ecSigner, 2),
	)

	if got := set.ForAlgorithms(nil); got.Name() != "ed" {
		t.Errorf("empty list should pick the first signer, got %s", got.Name())
	}
	if got := set.ForAlgorithms([]SignAlgo{SignECDSASHA256}); got == nil || got.Name() != "ec" {
		t.Errorf("ECDSA selection failed: %v", got)
	}
	if got := set.ForAlgorithms([]SignAlgo{SignRSASHA256}); got != nil {
		t.Errorf("RSA selection should miss, got %s", got.Name())
	}
	// Order of the allowed list wins.
	if got := set.ForAlgorithms([]SignAlgo{SignECDSASHA256, SignEd25519}); got.Name() != "ec" {
		t.Errorf("preference order ignored, got %s", got.Name())
	}
}

func TestConcurrentSignerParallelSigning(t *testing.T) {
	signer, err := GenerateSoftwareSigner(SignEd25519)
	if err != nil {
		t.Fatalf("GenerateSoftwareSigner() error = %v", err)
	}
	pooled := NewConcurrentSigner("t", signer, 2)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := SignMessage(context.Background(), pooled, []byte("message")); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("SignMessage() error = %v", err)
	}
}

func TestKeyspecOfSPKI(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	spki := x509util.NewSPKI(x509util.OIDKeyEd25519, nil, pub)

	keyspec, err := KeyspecOfSPKI(spki)
	if err != nil {
		t.Fatalf("KeyspecOfSPKI() error = %v", err)
	}
	if keyspec.Type != KeyTypeEd25519 {
		t.Errorf("type = %s, want ED25519", keyspec.Type)
	}
}
