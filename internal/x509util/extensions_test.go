package x509util

import (
	"bytes"
	"encoding/asn1"
	"net"
	"testing"
)

func TestKeyUsageRoundtripAndBitTrimming(t *testing.T) {
	tests := []struct {
		usage   KeyUsage
		wantLen int // expected BitLength
	}{
		{KeyUsageDigitalSignature, 1},
		{KeyUsageDigitalSignature | KeyUsageKeyEncipherment, 3},
		{KeyUsageKeyCertSign | KeyUsageCRLSign, 7},
		{KeyUsageDecipherOnly, 9},
	}

	for _, tt := range tests {
		der, err := EncodeKeyUsage(tt.usage)
		if err != nil {
			t.Fatalf("EncodeKeyUsage(%v) error = %v", tt.usage, err)
		}
		got, err := ParseKeyUsage(der)
		if err != nil {
			t.Fatalf("ParseKeyUsage() error = %v", err)
		}
		if got != tt.usage {
			t.Errorf("roundtrip = %v, want %v", got.Names(), tt.usage.Names())
		}
		var bits asn1.BitString
		if _, err := asn1.Unmarshal(der, &bits); err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if bits.BitLength != tt.wantLen {
			t.Errorf("BitLength = %d, want %d", bits.BitLength, tt.wantLen)
		}
	}

	if _, err := EncodeKeyUsage(0); err == nil {
		t.Error("EncodeKeyUsage(0) should fail")
	}
}

func TestKeyUsageMatchesStdlib(t *testing.T) {
	// The encoding must agree with what crypto/x509 understands.
	der, err := EncodeKeyUsage(KeyUsageDigitalSignature | KeyUsageKeyEncipherment)
	if err != nil {
		t.Fatalf("EncodeKeyUsage() error = %v", err)
	}
	// digitalSignature is bit 0 (MSB of the first octet).
	// 03 02 05 A0 = BIT STRING, 5 unused bits, 0xA0.
	want := []byte{0x03, 0x02, 0x05, 0xa0}
	if !bytes.Equal(der, want) {
		t.Errorf("encoding = %x, want %x", der, want)
	}
}

func TestBasicConstraintsVariants(t *testing.T) {
	// End entity: empty SEQUENCE.
	der, err := EncodeBasicConstraints(false, -1)
	if err != nil {
		t.Fatalf("EncodeBasicConstraints() error = %v", err)
	}
	if !bytes.Equal(der, []byte{0x30, 0x00}) {
		t.Errorf("EE encoding = %x, want 3000", der)
	}

	// CA without path length.
	der, err = EncodeBasicConstraints(true, -1)
	if err != nil {
		t.Fatalf("EncodeBasicConstraints() error = %v", err)
	}
	isCA, pathLen, err := ParseBasicConstraints(der)
	if err != nil || !isCA || pathLen != -1 {
		t.Errorf("CA roundtrip = (%v, %d, %v), want (true, -1, nil)", isCA, pathLen, err)
	}

	// CA with path length 0.
	der, err = EncodeBasicConstraints(true, 0)
	if err != nil {
		t.Fatalf("EncodeBasicConstraints() error = %v", err)
	}
	isCA, pathLen, err = ParseBasicConstraints(der)
	if err != nil || !isCA || pathLen != 0 {
		t.Errorf("CA pathLen 0 roundtrip = (%v, %d, %v)", isCA, pathLen, err)
	}
}

func TestGeneralNamesRoundtrip(t *testing.T) {
	names := []GeneralName{
		DNSName("example.com"),
		URIName("https://example.com"),
		RFC822Name("admin@example.com"),
		IPName(net.ParseIP("192.0.2.7")),
	}

	der, err := EncodeGeneralNames(names)
	if err != nil {
		t.Fatalf("EncodeGeneralNames() error = %v", err)
	}
	parsed, err := ParseGeneralNames(der)
	if err != nil {
		t.Fatalf("ParseGeneralNames() error = %v", err)
	}
	if len(parsed) != len(names) {
		t.Fatalf("parsed %d names, want %d", len(parsed), len(names))
	}
	for i := range names {
		if parsed[i].Tag != names[i].Tag || !bytes.Equal(parsed[i].Value, names[i].Value) {
			t.Errorf("name %d = %+v, want %+v", i, parsed[i], names[i])
		}
	}

	// An IPv4 address must be the 4-byte form.
	if len(names[3].Value) != 4 {
		t.Errorf("IPv4 encoding length = %d, want 4", len(names[3].Value))
	}
}

func TestCRLDistributionPoints(t *testing.T) {
	uris := []string{"http://crl.example.com/ca.crl", "ldap://ldap.example.com/cn=ca"}
	der, err := EncodeCRLDistributionPoints(uris)
	if err != nil {
		t.Fatalf("EncodeCRLDistributionPoints() error = %v", err)
	}
	parsed, err := ParseCRLDistributionPointURIs(der)
	if err != nil {
		t.Fatalf("ParseCRLDistributionPointURIs() error = %v", err)
	}
	if len(parsed) != 2 || parsed[0] != uris[0] || parsed[1] != uris[1] {
		t.Errorf("parsed = %v, want %v", parsed, uris)
	}
}

func TestCertificatePolicies(t *testing.T) {
	der, err := EncodeCertificatePolicies([]PolicyInformation{
		{Policy: OIDCabDomainValidated, CPSURI: "https://pki.example.com/cps"},
	})
	if err != nil {
		t.Fatalf("EncodeCertificatePolicies() error = %v", err)
	}
	oids, err := ParseCertificatePolicyOIDs(der)
	if err != nil {
		t.Fatalf("ParseCertificatePolicyOIDs() error = %v", err)
	}
	if len(oids) != 1 || !oids[0].Equal(OIDCabDomainValidated) {
		t.Errorf("policies = %v", oids)
	}
}

func TestAccessDescriptionsRoundtrip(t *testing.T) {
	descs := []AccessDescription{
		{Method: OIDAccessOCSP, Location: URIName("http://ocsp.example.com")},
		{Method: OIDAccessCAIssuers, Location: URIName("http://pki.example.com/ca.der")},
	}
	der, err := EncodeAccessDescriptions(descs)
	if err != nil {
		t.Fatalf("EncodeAccessDescriptions() error = %v", err)
	}
	parsed, err := ParseAccessDescriptions(der)
	if err != nil {
		t.Fatalf("ParseAccessDescriptions() error = %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("parsed %d descriptions", len(parsed))
	}
	if !parsed[0].Method.Equal(OIDAccessOCSP) || string(parsed[0].Location.Value) != "http://ocsp.example.com" {
		t.Errorf("first description = %+v", parsed[0])
	}
}

func TestAuthorityKeyIDStdlibCompatible(t *testing.T) {
	keyID := bytes.Repeat([]byte{0x5a}, 20)
	der, err := EncodeAuthorityKeyID(keyID, nil, nil)
	if err != nil {
		t.Fatalf("EncodeAuthorityKeyID() error = %v", err)
	}
	parsed, err := ParseAuthorityKeyID(der)
	if err != nil {
		t.Fatalf("ParseAuthorityKeyID() error = %v", err)
	}
	if !bytes.Equal(parsed, keyID) {
		t.Errorf("keyID roundtrip = %x", parsed)
	}
}

func TestIsCCCExtension(t *testing.T) {
	if !IsCCCExtension(OIDCCCSimplified) {
		t.Error("OIDCCCSimplified should be a CCC extension")
	}
	if IsCCCExtension(OIDExtKeyUsage) {
		t.Error("keyUsage is not a CCC extension")
	}
}

func TestOCSPNoCheckIsNull(t *testing.T) {
	der, err := EncodeOCSPNoCheck()
	if err != nil {
		t.Fatalf("EncodeOCSPNoCheck() error = %v", err)
	}
	if !bytes.Equal(der, []byte{0x05, 0x00}) {
		t.Errorf("encoding = %x, want 0500", der)
	}
}

func TestEKURoundtrip(t *testing.T) {
	der, err := EncodeExtKeyUsage([]asn1.ObjectIdentifier{OIDEKUServerAuth, OIDEKUClientAuth})
	if err != nil {
		t.Fatalf("EncodeExtKeyUsage() error = %v", err)
	}
	oids, err := ParseExtKeyUsage(der)
	if err != nil {
		t.Fatalf("ParseExtKeyUsage() error = %v", err)
	}
	if len(oids) != 2 || !oids[0].Equal(OIDEKUServerAuth) {
		t.Fatalf("parsed = %v", oids)
	}
}
