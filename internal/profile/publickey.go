package profile

import (
	"github.com/frestoinc/xipki/internal/caerrors"
	"github.com/frestoinc/xipki/internal/crypto"
	"github.com/frestoinc/xipki/internal/x509util"
)

// minRSAModulusBits is the smallest RSA modulus the engine accepts at all,
// independent of the profile whitelist.
const minRSAModulusBits = 2048

// CheckPublicKey canonicalises and validates a requested public key against
// the profile: the algorithm/keyspec must be allowed, RSA keys must meet the
// minimum size and must not carry the ROCA fingerprint.
func (p *Profile) CheckPublicKey(spki *x509util.SubjectPublicKeyInfo) (*x509util.SubjectPublicKeyInfo, error) {
	canonical, err := x509util.ToRFC3279Style(spki)
	if err != nil {
		return nil, caerrors.Wrap(caerrors.BadCertTemplate, "invalid SubjectPublicKeyInfo", err)
	}

	keyspec, err := crypto.KeyspecOfSPKI(canonical)
	if err != nil {
		return nil, caerrors.Wrap(caerrors.BadCertTemplate, "invalid SubjectPublicKeyInfo", err)
	}

	if keyspec.Type == crypto.KeyTypeRSA {
		modulus, err := x509util.RSAModulus(canonical)
		if err != nil {
			return nil, caerrors.Wrap(caerrors.BadCertTemplate, "invalid format of RSA public key", err)
		}
		if modulus.BitLen() < minRSAModulusBits {
			return nil, caerrors.Errorf(caerrors.BadCertTemplate, "RSA modulus of %d bits is too small", modulus.BitLen())
		}
		if crypto.IsROCAAffected(modulus) {
			return nil, caerrors.New(caerrors.BadCertTemplate, "RSA public key is too weak")
		}
	}

	if len(p.allowedKeyspecs) > 0 {
		allowed := false
		for _, want := range p.allowedKeyspecs {
			if keyspecMatches(want, keyspec) {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, caerrors.Errorf(caerrors.BadCertTemplate, "key %s is not permitted by the profile", keyspec)
		}
	}

	return canonical, nil
}

// keyspecMatches compares a whitelist entry with a concrete keyspec.
func keyspecMatches(want, got *crypto.Keyspec) bool {
	if want.Type != got.Type {
		return false
	}
	return want.Param == got.Param
}
