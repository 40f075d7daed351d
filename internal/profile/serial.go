package profile

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/frestoinc/xipki/internal/x509util"
)

// SerialByCA reports whether serial generation is delegated to the CA.
func (p *Profile) SerialByCA() bool {
	return p.serialMode == "ca"
}

// GenerateSerialNumber produces a profile-driven serial number. Serials are
// positive, at most 20 octets, with the high bit clear so the DER INTEGER
// never grows a padding octet.
func (p *Profile) GenerateSerialNumber(
	caSubject pkix.RDNSequence, caPublicKey *x509util.SubjectPublicKeyInfo,
	reqSubject pkix.RDNSequence, reqPublicKey *x509util.SubjectPublicKeyInfo,
	extraControl map[string]string,
) (*big.Int, error) {
	switch p.serialMode {
	case "random":
		return randomSerial(p.serialSize)
	case "pubkeyhash":
		return p.pubkeyHashSerial(caSubject, caPublicKey, reqSubject, reqPublicKey, extraControl)
	default:
		return nil, fmt.Errorf("profile %s delegates serial generation to the CA", p.name)
	}
}

func randomSerial(size int) (*big.Int, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate random serial: %w", err)
	}
	buf[0] &= 0x7f
	buf[0] |= 0x40
	return new(big.Int).SetBytes(buf), nil
}

// pubkeyHashSerial derives a deterministic serial from the issuing CA and the
// requested subject and key, so re-enrollment of the same subject and key
// under the same CA yields the same serial.
func (p *Profile) pubkeyHashSerial(
	caSubject pkix.RDNSequence, caPublicKey *x509util.SubjectPublicKeyInfo,
	reqSubject pkix.RDNSequence, reqPublicKey *x509util.SubjectPublicKeyInfo,
	extraControl map[string]string,
) (*big.Int, error) {
	h := sha256.New()

	write := func(der []byte, err error) error {
		if err != nil {
			return err
		}
		h.Write(der)
		return nil
	}

	if err := write(asn1.Marshal(caSubject)); err != nil {
		return nil, fmt.Errorf("failed to hash CA subject: %w", err)
	}
	if caPublicKey != nil {
		if err := write(caPublicKey.Encode()); err != nil {
			return nil, fmt.Errorf("failed to hash CA public key: %w", err)
		}
	}
	if err := write(asn1.Marshal(reqSubject)); err != nil {
		return nil, fmt.Errorf("failed to hash requested subject: %w", err)
	}
	if reqPublicKey != nil {
		if err := write(reqPublicKey.Encode()); err != nil {
			return nil, fmt.Errorf("failed to hash requested public key: %w", err)
		}
	}
	if salt, ok := extraControl["serial.salt"]; ok {
		h.Write([]byte(salt))
	}

	sum := h.Sum(nil)[:p.serialSize]
	sum[0] &= 0x7f
	sum[0] |= 0x40
	return new(big.Int).SetBytes(sum), nil
}
