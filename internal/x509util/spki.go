package x509util

import (
	"bytes"
	"crypto/sha1"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
)

var asn1Null = []byte{0x05, 0x00}

// SubjectPublicKeyInfo is the decoded form of an RFC 5280
// SubjectPublicKeyInfo.
type SubjectPublicKeyInfo struct {
	Algorithm pkix.AlgorithmIdentifier
	PublicKey asn1.BitString
}

// ParseSPKI decodes a DER-encoded SubjectPublicKeyInfo.
func ParseSPKI(der []byte) (*SubjectPublicKeyInfo, error) {
	var spki SubjectPublicKeyInfo
	rest, err := asn1.Unmarshal(der, &spki)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SubjectPublicKeyInfo: %w", err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("trailing data after SubjectPublicKeyInfo")
	}
	return &spki, nil
}

// Encode returns the DER encoding of the SubjectPublicKeyInfo.
func (s *SubjectPublicKeyInfo) Encode() ([]byte, error) {
	der, err := asn1.Marshal(*s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal SubjectPublicKeyInfo: %w", err)
	}
	return der, nil
}

// NewSPKI builds a SubjectPublicKeyInfo from an algorithm OID, optional
// raw parameters, and the public key bytes.
func NewSPKI(algorithm asn1.ObjectIdentifier, parameters []byte, publicKey []byte) *SubjectPublicKeyInfo {
	spki := &SubjectPublicKeyInfo{
		Algorithm: pkix.AlgorithmIdentifier{Algorithm: algorithm},
		PublicKey: asn1.BitString{Bytes: publicKey, BitLength: len(publicKey) * 8},
	}
	if parameters != nil {
		spki.Algorithm.Parameters = asn1.RawValue{FullBytes: parameters}
	}
	return spki
}

// ToRFC3279Style canonicalises the algorithm identifier per RFC 3279/8410:
// RSA and DSA carry an explicit NULL parameter, EC keeps its named curve,
// and the modern EdDSA / XDH algorithms carry no parameters at all.
// Unknown key algorithms are rejected.
func ToRFC3279Style(spki *SubjectPublicKeyInfo) (*SubjectPublicKeyInfo, error) {
	out := &SubjectPublicKeyInfo{
		Algorithm: spki.Algorithm,
		PublicKey: spki.PublicKey,
	}

	alg := spki.Algorithm.Algorithm
	switch {
	case alg.Equal(OIDKeyRSA), alg.Equal(OIDKeyDSA):
		params := spki.Algorithm.Parameters.FullBytes
		if len(params) == 0 {
			out.Algorithm.Parameters = asn1.RawValue{FullBytes: asn1Null}
		} else if alg.Equal(OIDKeyRSA) && !bytes.Equal(params, asn1Null) {
			return nil, fmt.Errorf("rsaEncryption parameters must be NULL")
		}
	case alg.Equal(OIDKeyEC):
		if len(spki.Algorithm.Parameters.FullBytes) == 0 {
			return nil, fmt.Errorf("ecPublicKey requires named-curve parameters")
		}
	case alg.Equal(OIDKeyEd25519), alg.Equal(OIDKeyEd448), alg.Equal(OIDKeyX25519), alg.Equal(OIDKeyX448):
		if len(spki.Algorithm.Parameters.FullBytes) > 0 {
			out.Algorithm.Parameters = asn1.RawValue{}
		}
	default:
		return nil, fmt.Errorf("unsupported public key algorithm %s", alg)
	}

	return out, nil
}

// SubjectKeyID derives the RFC 5280 (method 1) key identifier: the SHA-1
// digest of the public key BIT STRING content.
func SubjectKeyID(spki *SubjectPublicKeyInfo) []byte {
	sum := sha1.Sum(spki.PublicKey.Bytes)
	return sum[:]
}

// rsaPublicKey is the PKCS#1 RSAPublicKey structure.
type rsaPublicKey struct {
	Modulus  *big.Int
	Exponent *big.Int
}

// RSAModulus extracts the modulus of an rsaEncryption SubjectPublicKeyInfo.
func RSAModulus(spki *SubjectPublicKeyInfo) (*big.Int, error) {
	if !spki.Algorithm.Algorithm.Equal(OIDKeyRSA) {
		return nil, fmt.Errorf("not an RSA public key: %s", spki.Algorithm.Algorithm)
	}
	var pk rsaPublicKey
	rest, err := asn1.Unmarshal(spki.PublicKey.Bytes, &pk)
	if err != nil {
		return nil, fmt.Errorf("invalid format of RSA public key: %w", err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("invalid format of RSA public key: trailing data")
	}
	if pk.Modulus.Sign() != 1 {
		return nil, fmt.Errorf("invalid format of RSA public key: non-positive modulus")
	}
	return pk.Modulus, nil
}

// EncodeRSAPublicKey encodes a PKCS#1 RSAPublicKey from its components.
func EncodeRSAPublicKey(modulus, exponent *big.Int) ([]byte, error) {
	der, err := asn1.Marshal(rsaPublicKey{Modulus: modulus, Exponent: exponent})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal RSA public key: %w", err)
	}
	return der, nil
}

// NamedCurve extracts the named-curve OID of an ecPublicKey
// SubjectPublicKeyInfo.
func NamedCurve(spki *SubjectPublicKeyInfo) (asn1.ObjectIdentifier, error) {
	if !spki.Algorithm.Algorithm.Equal(OIDKeyEC) {
		return nil, fmt.Errorf("not an EC public key: %s", spki.Algorithm.Algorithm)
	}
	var curve asn1.ObjectIdentifier
	if _, err := asn1.Unmarshal(spki.Algorithm.Parameters.FullBytes, &curve); err != nil {
		return nil, fmt.Errorf("invalid EC parameters: %w", err)
	}
	return curve, nil
}
