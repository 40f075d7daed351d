package kpgen

import (
	"crypto/x509"
	"testing"

	"github.com/frestoinc/xipki/internal/crypto"
	"github.com/frestoinc/xipki/internal/x509util"
)

func mustKeyspec(t *testing.T, spec string) *crypto.Keyspec {
	t.Helper()
	ks, err := crypto.ParseKeyspec(spec)
	if err != nil {
		t.Fatalf("ParseKeyspec(%q) error = %v", spec, err)
	}
	return ks
}

func TestSoftwareSupports(t *testing.T) {
	gen := NewSoftware("soft")

	supported := []string{"RSA/2048", "EC/secp256r1", "EC/secp384r1", "ED25519", "ED448", "X25519", "X448"}
	for _, spec := range supported {
		if !gen.Supports(mustKeyspec(t, spec)) {
			t.Errorf("Supports(%s) = false", spec)
		}
	}

	if gen.Supports(mustKeyspec(t, "RSA/1024")) {
		t.Error("RSA/1024 must not be supported")
	}
	if gen.Supports(mustKeyspec(t, "DSA/2048")) {
		t.Error("DSA generation must not be supported")
	}
}

func TestGenerateEC(t *testing.T) {
	gen := NewSoftware("soft")
	kp, err := gen.Generate(mustKeyspec(t, "EC/secp256r1"))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if !kp.PublicKey.Algorithm.Algorithm.Equal(x509util.OIDKeyEC) {
		t.Errorf("SPKI algorithm = %s, want ecPublicKey", kp.PublicKey.Algorithm.Algorithm)
	}
	curve, err := x509util.NamedCurve(kp.PublicKey)
	if err != nil {
		t.Fatalf("NamedCurve() error = %v", err)
	}
	if !curve.Equal(x509util.OIDCurveP256) {
		t.Errorf("curve = %s, want P-256", curve)
	}

	// The private key must be stdlib-parseable.
	key, err := x509.ParsePKCS8PrivateKey(kp.PrivateKeyDER)
	if err != nil {
		t.Fatalf("ParsePKCS8PrivateKey() error = %v", err)
	}
	if key == nil {
		t.Fatal("nil private key")
	}
}

func TestGenerateEd25519(t *testing.T) {
	gen := NewSoftware("soft")
	kp, err := gen.Generate(mustKeyspec(t, "ED25519"))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(kp.PublicKey.PublicKey.Bytes) != 32 {
		t.Errorf("Ed25519 public key length = %d, want 32", len(kp.PublicKey.PublicKey.Bytes))
	}
	if _, err := x509.ParsePKCS8PrivateKey(kp.PrivateKeyDER); err != nil {
		t.Errorf("ParsePKCS8PrivateKey() error = %v", err)
	}
}

func TestGenerateEd448AndX448(t *testing.T) {
	gen := NewSoftware("soft")

	kp, err := gen.Generate(mustKeyspec(t, "ED448"))
	if err != nil {
		t.Fatalf("Generate(ED448) error = %v", err)
	}
	if len(kp.PublicKey.PublicKey.Bytes) != 57 {
		t.Errorf("Ed448 public key length = %d, want 57", len(kp.PublicKey.PublicKey.Bytes))
	}
	if !kp.PublicKey.Algorithm.Algorithm.Equal(x509util.OIDKeyEd448) {
		t.Errorf("algorithm = %s, want Ed448", kp.PublicKey.Algorithm.Algorithm)
	}
	if len(kp.PrivateKeyDER) == 0 {
		t.Error("missing PKCS#8 private key")
	}

	kp, err = gen.Generate(mustKeyspec(t, "X448"))
	if err != nil {
		t.Fatalf("Generate(X448) error = %v", err)
	}
	if len(kp.PublicKey.PublicKey.Bytes) != 56 {
		t.Errorf("X448 public key length = %d, want 56", len(kp.PublicKey.PublicKey.Bytes))
	}
}

func TestGenerateRSA(t *testing.T) {
	gen := NewSoftware("soft")
	kp, err := gen.Generate(mustKeyspec(t, "RSA/2048"))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	modulus, err := x509util.RSAModulus(kp.PublicKey)
	if err != nil {
		t.Fatalf("RSAModulus() error = %v", err)
	}
	if modulus.BitLen() != 2048 {
		t.Errorf("modulus bits = %d, want 2048", modulus.BitLen())
	}
	if crypto.IsROCAAffected(modulus) {
		t.Error("freshly generated modulus flagged as ROCA affected")
	}
}

func TestSelect(t *testing.T) {
	generators := []Generator{NewSoftware("a"), NewSoftware("b")}

	if got := Select(generators, mustKeyspec(t, "EC/secp256r1")); got == nil || got.Name() != "a" {
		t.Errorf("Select() = %v, want first generator", got)
	}
	if got := Select(generators, mustKeyspec(t, "DSA/2048")); got != nil {
		t.Errorf("Select(DSA) = %v, want nil", got)
	}
	if got := Select(nil, mustKeyspec(t, "ED25519")); got != nil {
		t.Errorf("Select(nil) = %v, want nil", got)
	}
}
