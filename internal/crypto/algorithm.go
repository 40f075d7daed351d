// Package crypto provides the signing abstractions of the CA core: signature
// algorithm identifiers, the Signer interface with its concurrent pool, the
// software key backend, and the weak-key checks applied to requested public
// keys.
package crypto

import (
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"strings"

	"github.com/frestoinc/xipki/internal/x509util"
)

// SignAlgo identifies a signature algorithm by its JCA-style name, e.g.
// "SHA256withRSA" or "Ed25519". Names compare case-insensitively.
type SignAlgo string

const (
	SignRSASHA256   SignAlgo = "SHA256withRSA"
	SignRSASHA384   SignAlgo = "SHA384withRSA"
	SignRSASHA512   SignAlgo = "SHA512withRSA"
	SignECDSASHA256 SignAlgo = "SHA256withECDSA"
	SignECDSASHA384 SignAlgo = "SHA384withECDSA"
	SignECDSASHA512 SignAlgo = "SHA512withECDSA"
	SignEd25519     SignAlgo = "Ed25519"
)

var signAlgos = map[string]SignAlgo{
	"sha256withrsa":   SignRSASHA256,
	"sha384withrsa":   SignRSASHA384,
	"sha512withrsa":   SignRSASHA512,
	"sha256withecdsa": SignECDSASHA256,
	"sha384withecdsa": SignECDSASHA384,
	"sha512withecdsa": SignECDSASHA512,
	"ed25519":         SignEd25519,
}

// ParseSignAlgo resolves a signature algorithm name.
func ParseSignAlgo(name string) (SignAlgo, error) {
	algo, ok := signAlgos[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("unknown signature algorithm %q", name)
	}
	return algo, nil
}

// IsValid reports whether the algorithm is a known one.
func (a SignAlgo) IsValid() bool {
	_, ok := signAlgos[strings.ToLower(string(a))]
	return ok
}

// X509SignatureAlgorithm maps the algorithm to the crypto/x509 enum.
func (a SignAlgo) X509SignatureAlgorithm() x509.SignatureAlgorithm {
	switch a {
	case SignRSASHA256:
		return x509.SHA256WithRSA
	case SignRSASHA384:
		return x509.SHA384WithRSA
	case SignRSASHA512:
		return x509.SHA512WithRSA
	case SignECDSASHA256:
		return x509.ECDSAWithSHA256
	case SignECDSASHA384:
		return x509.ECDSAWithSHA384
	case SignECDSASHA512:
		return x509.ECDSAWithSHA512
	case SignEd25519:
		return x509.PureEd25519
	default:
		return x509.UnknownSignatureAlgorithm
	}
}

// KeyType is the key family of a keyspec.
type KeyType string

const (
	KeyTypeRSA     KeyType = "RSA"
	KeyTypeEC      KeyType = "EC"
	KeyTypeDSA     KeyType = "DSA"
	KeyTypeEd25519 KeyType = "ED25519"
	KeyTypeEd448   KeyType = "ED448"
	KeyTypeX25519  KeyType = "X25519"
	KeyTypeX448    KeyType = "X448"
)

// Keyspec describes a key generation request, e.g. "RSA/2048",
// "EC/secp256r1", or "ED25519".
type Keyspec struct {
	Type  KeyType
	Param string
}

// ParseKeyspec parses the textual keyspec form.
func ParseKeyspec(spec string) (*Keyspec, error) {
	trimmed := strings.TrimSpace(spec)
	if trimmed == "" {
		return nil, fmt.Errorf("empty keyspec")
	}

	parts := strings.SplitN(trimmed, "/", 2)
	keyType := KeyType(strings.ToUpper(parts[0]))

	switch keyType {
	case KeyTypeRSA, KeyTypeDSA:
		if len(parts) != 2 {
			return nil, fmt.Errorf("keyspec %q requires a bit length", spec)
		}
		return &Keyspec{Type: keyType, Param: parts[1]}, nil
	case KeyTypeEC:
		if len(parts) != 2 {
			return nil, fmt.Errorf("keyspec %q requires a curve name", spec)
		}
		return &Keyspec{Type: keyType, Param: strings.ToLower(parts[1])}, nil
	case KeyTypeEd25519, KeyTypeEd448, KeyTypeX25519, KeyTypeX448:
		if len(parts) != 1 {
			return nil, fmt.Errorf("keyspec %q takes no parameter", spec)
		}
		return &Keyspec{Type: keyType}, nil
	default:
		return nil, fmt.Errorf("unknown key type in keyspec %q", spec)
	}
}

// String returns the canonical textual form.
func (k *Keyspec) String() string {
	if k.Param == "" {
		return string(k.Type)
	}
	return string(k.Type) + "/" + k.Param
}

// AlgorithmOID returns the SubjectPublicKeyInfo algorithm OID for the key
// type.
func (k *Keyspec) AlgorithmOID() (asn1.ObjectIdentifier, error) {
	switch k.Type {
	case KeyTypeRSA:
		return x509util.OIDKeyRSA, nil
	case KeyTypeEC:
		return x509util.OIDKeyEC, nil
	case KeyTypeDSA:
		return x509util.OIDKeyDSA, nil
	case KeyTypeEd25519:
		return x509util.OIDKeyEd25519, nil
	case KeyTypeEd448:
		return x509util.OIDKeyEd448, nil
	case KeyTypeX25519:
		return x509util.OIDKeyX25519, nil
	case KeyTypeX448:
		return x509util.OIDKeyX448, nil
	default:
		return nil, fmt.Errorf("no algorithm OID for key type %s", k.Type)
	}
}

// CurveOID resolves the named-curve OID of an EC keyspec.
func (k *Keyspec) CurveOID() (asn1.ObjectIdentifier, error) {
	if k.Type != KeyTypeEC {
		return nil, fmt.Errorf("keyspec %s is not EC", k)
	}
	switch k.Param {
	case "secp256r1", "p-256", "p256", "prime256v1":
		return x509util.OIDCurveP256, nil
	case "secp384r1", "p-384", "p384":
		return x509util.OIDCurveP384, nil
	case "secp521r1", "p-521", "p521":
		return x509util.OIDCurveP521, nil
	default:
		return nil, fmt.Errorf("unknown curve %q", k.Param)
	}
}

// KeyspecOfSPKI derives the keyspec of a SubjectPublicKeyInfo. Used to
// inherit the CA's own key algorithm for server-side key generation.
func KeyspecOfSPKI(spki *x509util.SubjectPublicKeyInfo) (*Keyspec, error) {
	alg := spki.Algorithm.Algorithm
	switch {
	case alg.Equal(x509util.OIDKeyRSA):
		modulus, err := x509util.RSAModulus(spki)
		if err != nil {
			return nil, err
		}
		return &Keyspec{Type: KeyTypeRSA, Param: fmt.Sprintf("%d", modulus.BitLen())}, nil
	case alg.Equal(x509util.OIDKeyEC):
		curve, err := x509util.NamedCurve(spki)
		if err != nil {
			return nil, err
		}
		switch {
		case curve.Equal(x509util.OIDCurveP256):
			return &Keyspec{Type: KeyTypeEC, Param: "secp256r1"}, nil
		case curve.Equal(x509util.OIDCurveP384):
			return &Keyspec{Type: KeyTypeEC, Param: "secp384r1"}, nil
		case curve.Equal(x509util.OIDCurveP521):
			return &Keyspec{Type: KeyTypeEC, Param: "secp521r1"}, nil
		default:
			return nil, fmt.Errorf("unsupported curve %s", curve)
		}
	case alg.Equal(x509util.OIDKeyEd25519):
		return &Keyspec{Type: KeyTypeEd25519}, nil
	case alg.Equal(x509util.OIDKeyEd448):
		return &Keyspec{Type: KeyTypeEd448}, nil
	case alg.Equal(x509util.OIDKeyX25519):
		return &Keyspec{Type: KeyTypeX25519}, nil
	case alg.Equal(x509util.OIDKeyX448):
		return &Keyspec{Type: KeyTypeX448}, nil
	default:
		return nil, fmt.Errorf("unsupported public key algorithm %s", alg)
	}
}
