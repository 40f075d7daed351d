package crypto

import (
	"context"
	stdcrypto "crypto"
	"crypto/rand"
	"encoding/asn1"
	"fmt"
)

var asn1Null = []byte{0x05, 0x00}

// signature algorithm OIDs.
var (
	oidSigRSASHA256   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	oidSigRSASHA384   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}
	oidSigRSASHA512   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}
	oidSigECDSASHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	oidSigECDSASHA384 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	oidSigECDSASHA512 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}
	oidSigEd25519     = asn1.ObjectIdentifier{1, 3, 101, 112}
)

// Hash returns the digest the algorithm signs (0 for EdDSA, which signs the
// message itself).
func (a SignAlgo) Hash() stdcrypto.Hash {
	switch a {
	case SignRSASHA256, SignECDSASHA256:
		return stdcrypto.SHA256
	case SignRSASHA384, SignECDSASHA384:
		return stdcrypto.SHA384
	case SignRSASHA512, SignECDSASHA512:
		return stdcrypto.SHA512
	default:
		return 0
	}
}

// AlgorithmIdentifier returns the DER AlgorithmIdentifier of the signature
// algorithm: RSA variants carry NULL parameters, ECDSA and Ed25519 carry
// none.
func (a SignAlgo) AlgorithmIdentifier() ([]byte, error) {
	var oid asn1.ObjectIdentifier
	withNull := false

	switch a {
	case SignRSASHA256:
		oid, withNull = oidSigRSASHA256, true
	case SignRSASHA384:
		oid, withNull = oidSigRSASHA384, true
	case SignRSASHA512:
		oid, withNull = oidSigRSASHA512, true
	case SignECDSASHA256:
		oid = oidSigECDSASHA256
	case SignECDSASHA384:
		oid = oidSigECDSASHA384
	case SignECDSASHA512:
		oid = oidSigECDSASHA512
	case SignEd25519:
		oid = oidSigEd25519
	default:
		return nil, fmt.Errorf("unknown signature algorithm %q", a)
	}

	if withNull {
		type algWithParams struct {
			Algorithm  asn1.ObjectIdentifier
			Parameters asn1.RawValue
		}
		return asn1.Marshal(algWithParams{Algorithm: oid, Parameters: asn1.RawValue{FullBytes: asn1Null}})
	}
	type algBare struct {
		Algorithm asn1.ObjectIdentifier
	}
	return asn1.Marshal(algBare{Algorithm: oid})
}

// SignMessage signs message with the pooled signer: hash-then-sign for RSA
// and ECDSA, direct message signing for Ed25519.
func SignMessage(ctx context.Context, signer *ConcurrentSigner, message []byte) ([]byte, error) {
	algo := signer.Algorithm()
	hash := algo.Hash()

	if hash == 0 {
		return signer.Sign(ctx, rand.Reader, message, stdcrypto.Hash(0))
	}

	h := hash.New()
	h.Write(message)
	return signer.Sign(ctx, rand.Reader, h.Sum(nil), hash)
}
