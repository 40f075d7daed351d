package x509util

import (
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"
)

// TBSCertificateParams collects the fields of a to-be-signed certificate.
// Raw DER is used for the names and the SubjectPublicKeyInfo so encodings
// produced by the profile engine pass through byte-exact; crypto/x509 cannot
// represent key algorithms it does not know (Ed448, X448).
type TBSCertificateParams struct {
	SerialNumber *big.Int

	// SignatureAlgorithm is the DER AlgorithmIdentifier of the signature.
	SignatureAlgorithm []byte

	// Issuer and Subject are DER RDNSequences.
	Issuer  []byte
	Subject []byte

	NotBefore time.Time
	NotAfter  time.Time

	// SPKI is the DER SubjectPublicKeyInfo.
	SPKI []byte

	Extensions []Extension
}

// certTime encodes a validity time per RFC 5280: UTCTime through 2049,
// GeneralizedTime from 2050 on.
func certTime(t time.Time) (asn1.RawValue, error) {
	t = t.UTC()
	if t.Year() < 1950 {
		return asn1.RawValue{}, fmt.Errorf("certificate time %s before 1950", t)
	}
	if t.Year() < 2050 {
		return asn1.RawValue{
			Tag:   asn1.TagUTCTime,
			Bytes: []byte(t.Format("060102150405Z")),
		}, nil
	}
	return asn1.RawValue{
		Tag:   asn1.TagGeneralizedTime,
		Bytes: []byte(t.Format("20060102150405Z")),
	}, nil
}

type validityASN struct {
	NotBefore asn1.RawValue
	NotAfter  asn1.RawValue
}

type extensionASN struct {
	OID      asn1.ObjectIdentifier
	Critical bool `asn1:"optional"`
	Value    []byte
}

type tbsCertificateASN struct {
	Version            int `asn1:"explicit,tag:0"`
	SerialNumber       *big.Int
	SignatureAlgorithm asn1.RawValue
	Issuer             asn1.RawValue
	Validity           validityASN
	Subject            asn1.RawValue
	SPKI               asn1.RawValue
	Extensions         []extensionASN `asn1:"optional,explicit,tag:3"`
}

// BuildTBSCertificate encodes an X.509 v3 TBSCertificate.
func BuildTBSCertificate(params *TBSCertificateParams) ([]byte, error) {
	if params.SerialNumber == nil || params.SerialNumber.Sign() != 1 {
		return nil, fmt.Errorf("serial number must be positive")
	}
	if len(params.Issuer) == 0 || len(params.Subject) == 0 {
		return nil, fmt.Errorf("issuer and subject are required")
	}
	if len(params.SPKI) == 0 {
		return nil, fmt.Errorf("subject public key info is required")
	}

	notBefore, err := certTime(params.NotBefore)
	if err != nil {
		return nil, err
	}
	notAfter, err := certTime(params.NotAfter)
	if err != nil {
		return nil, err
	}

	exts := make([]extensionASN, 0, len(params.Extensions))
	for _, e := range params.Extensions {
		exts = append(exts, extensionASN{OID: e.OID, Critical: e.Critical, Value: e.Value})
	}

	tbs := tbsCertificateASN{
		Version:            2, // v3
		SerialNumber:       params.SerialNumber,
		SignatureAlgorithm: asn1.RawValue{FullBytes: params.SignatureAlgorithm},
		Issuer:             asn1.RawValue{FullBytes: params.Issuer},
		Validity:           validityASN{NotBefore: notBefore, NotAfter: notAfter},
		Subject:            asn1.RawValue{FullBytes: params.Subject},
		SPKI:               asn1.RawValue{FullBytes: params.SPKI},
		Extensions:         exts,
	}

	der, err := asn1.Marshal(tbs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TBSCertificate: %w", err)
	}
	return der, nil
}

type certificateASN struct {
	TBS                asn1.RawValue
	SignatureAlgorithm asn1.RawValue
	SignatureValue     asn1.BitString
}

// AssembleCertificate wraps a TBSCertificate and its signature into the
// final Certificate structure.
func AssembleCertificate(tbs, signatureAlgorithm, signature []byte) ([]byte, error) {
	cert := certificateASN{
		TBS:                asn1.RawValue{FullBytes: tbs},
		SignatureAlgorithm: asn1.RawValue{FullBytes: signatureAlgorithm},
		SignatureValue:     asn1.BitString{Bytes: signature, BitLength: len(signature) * 8},
	}
	der, err := asn1.Marshal(cert)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Certificate: %w", err)
	}
	return der, nil
}
