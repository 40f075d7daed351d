package x509util

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"net"
)

// Extension is one computed certificate extension: the value is the DER
// encoding of the extnValue content (before OCTET STRING wrapping).
type Extension struct {
	OID      asn1.ObjectIdentifier
	Critical bool
	Value    []byte
}

// PkixExtension converts an Extension to the pkix form used by crypto/x509.
func (e Extension) PkixExtension() pkix.Extension {
	return pkix.Extension{Id: e.OID, Critical: e.Critical, Value: e.Value}
}

// GeneralName tags per RFC 5280 section 4.2.1.6.
const (
	GeneralNameOtherName = 0
	GeneralNameRFC822    = 1
	GeneralNameDNS       = 2
	GeneralNameDirectory = 4
	GeneralNameURI       = 6
	GeneralNameIP        = 7
	GeneralNameRegistID  = 8
)

// GeneralName is a minimally-typed GeneralName: Tag selects the CHOICE arm,
// Value holds the inner content bytes.
type GeneralName struct {
	Tag   int
	Value []byte
}

// DNSName builds a dNSName GeneralName.
func DNSName(name string) GeneralName {
	return GeneralName{Tag: GeneralNameDNS, Value: []byte(name)}
}

// URIName builds a uniformResourceIdentifier GeneralName.
func URIName(uri string) GeneralName {
	return GeneralName{Tag: GeneralNameURI, Value: []byte(uri)}
}

// RFC822Name builds an rfc822Name GeneralName.
func RFC822Name(email string) GeneralName {
	return GeneralName{Tag: GeneralNameRFC822, Value: []byte(email)}
}

// IPName builds an iPAddress GeneralName.
func IPName(ip net.IP) GeneralName {
	if v4 := ip.To4(); v4 != nil {
		return GeneralName{Tag: GeneralNameIP, Value: v4}
	}
	return GeneralName{Tag: GeneralNameIP, Value: ip.To16()}
}

// DirectoryName builds a directoryName GeneralName from an encoded
// RDNSequence.
func DirectoryName(rdns pkix.RDNSequence) (GeneralName, error) {
	der, err := asn1.Marshal(rdns)
	if err != nil {
		return GeneralName{}, fmt.Errorf("failed to marshal directoryName: %w", err)
	}
	return GeneralName{Tag: GeneralNameDirectory, Value: der}, nil
}

func (g GeneralName) rawValue() asn1.RawValue {
	// directoryName is an explicitly tagged EXPLICIT choice arm (it wraps a
	// full SEQUENCE); the string forms are implicit primitives.
	if g.Tag == GeneralNameDirectory {
		inner := asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: g.Tag, IsCompound: true, Bytes: g.Value}
		return inner
	}
	return asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: g.Tag, Bytes: g.Value}
}

// EncodeGeneralNames encodes a GeneralNames SEQUENCE.
func EncodeGeneralNames(names []GeneralName) ([]byte, error) {
	raw := make([]asn1.RawValue, 0, len(names))
	for _, n := range names {
		raw = append(raw, n.rawValue())
	}
	der, err := asn1.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GeneralNames: %w", err)
	}
	return der, nil
}

// ParseGeneralNames decodes a GeneralNames SEQUENCE into its CHOICE arms.
func ParseGeneralNames(der []byte) ([]GeneralName, error) {
	var seq asn1.RawValue
	rest, err := asn1.Unmarshal(der, &seq)
	if err != nil {
		return nil, fmt.Errorf("failed to parse GeneralNames: %w", err)
	}
	if len(rest) > 0 || seq.Tag != asn1.TagSequence {
		return nil, fmt.Errorf("malformed GeneralNames")
	}

	var names []GeneralName
	data := seq.Bytes
	for len(data) > 0 {
		var v asn1.RawValue
		data, err = asn1.Unmarshal(data, &v)
		if err != nil {
			return nil, fmt.Errorf("failed to parse GeneralName: %w", err)
		}
		if v.Class != asn1.ClassContextSpecific {
			return nil, fmt.Errorf("unexpected GeneralName class %d", v.Class)
		}
		names = append(names, GeneralName{Tag: v.Tag, Value: v.Bytes})
	}
	return names, nil
}

// EncodeSubjectKeyID encodes a SubjectKeyIdentifier extension value.
func EncodeSubjectKeyID(keyID []byte) ([]byte, error) {
	return asn1.Marshal(keyID)
}

// ParseSubjectKeyID decodes a SubjectKeyIdentifier extension value.
func ParseSubjectKeyID(der []byte) ([]byte, error) {
	var keyID []byte
	if _, err := asn1.Unmarshal(der, &keyID); err != nil {
		return nil, fmt.Errorf("failed to parse SubjectKeyIdentifier: %w", err)
	}
	return keyID, nil
}

// authorityKeyID mirrors the RFC 5280 AuthorityKeyIdentifier SEQUENCE.
type authorityKeyID struct {
	KeyID  []byte        `asn1:"optional,tag:0"`
	Issuer asn1.RawValue `asn1:"optional,tag:1"`
	Serial *big.Int      `asn1:"optional,tag:2"`
}

// EncodeAuthorityKeyID encodes an AuthorityKeyIdentifier extension value.
// issuer and serial are optional; when provided both must be present.
func EncodeAuthorityKeyID(keyID []byte, issuer pkix.RDNSequence, serial *big.Int) ([]byte, error) {
	aki := authorityKeyID{KeyID: keyID}

	if serial != nil {
		dirName, err := DirectoryName(issuer)
		if err != nil {
			return nil, err
		}
		namesDER, err := EncodeGeneralNames([]GeneralName{dirName})
		if err != nil {
			return nil, err
		}
		// Re-tag the GeneralNames SEQUENCE as [1] IMPLICIT.
		var seq asn1.RawValue
		if _, err := asn1.Unmarshal(namesDER, &seq); err != nil {
			return nil, err
		}
		aki.Issuer = asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 1, IsCompound: true, Bytes: seq.Bytes}
		aki.Serial = serial
	}

	der, err := asn1.Marshal(aki)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal AuthorityKeyIdentifier: %w", err)
	}
	return der, nil
}

// ParseAuthorityKeyID extracts the keyIdentifier of an
// AuthorityKeyIdentifier extension value.
func ParseAuthorityKeyID(der []byte) ([]byte, error) {
	var aki authorityKeyID
	if _, err := asn1.Unmarshal(der, &aki); err != nil {
		return nil, fmt.Errorf("failed to parse AuthorityKeyIdentifier: %w", err)
	}
	return aki.KeyID, nil
}

// basicConstraints mirrors the RFC 5280 BasicConstraints SEQUENCE.
type basicConstraints struct {
	IsCA       bool `asn1:"optional"`
	MaxPathLen int  `asn1:"optional,default:-1"`
}

// EncodeBasicConstraints encodes a BasicConstraints extension value.
// pathLen < 0 omits the pathLenConstraint.
func EncodeBasicConstraints(isCA bool, pathLen int) ([]byte, error) {
	bc := basicConstraints{IsCA: isCA, MaxPathLen: -1}
	if isCA && pathLen >= 0 {
		bc.MaxPathLen = pathLen
	}
	if bc.MaxPathLen < 0 {
		// Marshal without the optional INTEGER.
		if !isCA {
			return asn1.Marshal(struct{}{})
		}
		return asn1.Marshal(struct {
			IsCA bool
		}{true})
	}
	return asn1.Marshal(struct {
		IsCA       bool
		MaxPathLen int
	}{isCA, bc.MaxPathLen})
}

// ParseBasicConstraints decodes a BasicConstraints extension value.
// The returned path length is -1 when absent.
func ParseBasicConstraints(der []byte) (isCA bool, pathLen int, err error) {
	var bc basicConstraints
	bc.MaxPathLen = -1
	if _, err = asn1.Unmarshal(der, &bc); err != nil {
		return false, 0, fmt.Errorf("failed to parse BasicConstraints: %w", err)
	}
	return bc.IsCA, bc.MaxPathLen, nil
}

// KeyUsage is the RFC 5280 KeyUsage bit set. Bit positions follow the ASN.1
// definition (digitalSignature = bit 0).
type KeyUsage uint16

const (
	KeyUsageDigitalSignature KeyUsage = 1 << iota
	KeyUsageContentCommitment
	KeyUsageKeyEncipherment
	KeyUsageDataEncipherment
	KeyUsageKeyAgreement
	KeyUsageKeyCertSign
	KeyUsageCRLSign
	KeyUsageEncipherOnly
	KeyUsageDecipherOnly
)

var keyUsageNames = []struct {
	bit  KeyUsage
	name string
}{
	{KeyUsageDigitalSignature, "digitalSignature"},
	{KeyUsageContentCommitment, "contentCommitment"},
	{KeyUsageKeyEncipherment, "keyEncipherment"},
	{KeyUsageDataEncipherment, "dataEncipherment"},
	{KeyUsageKeyAgreement, "keyAgreement"},
	{KeyUsageKeyCertSign, "keyCertSign"},
	{KeyUsageCRLSign, "cRLSign"},
	{KeyUsageEncipherOnly, "encipherOnly"},
	{KeyUsageDecipherOnly, "decipherOnly"},
}

// ParseKeyUsageName resolves a textual key usage name to its bit.
func ParseKeyUsageName(name string) (KeyUsage, error) {
	for _, ku := range keyUsageNames {
		if ku.name == name {
			return ku.bit, nil
		}
	}
	return 0, fmt.Errorf("unknown key usage %q", name)
}

// Names returns the textual names of the set bits.
func (u KeyUsage) Names() []string {
	var names []string
	for _, ku := range keyUsageNames {
		if u&ku.bit != 0 {
			names = append(names, ku.name)
		}
	}
	return names
}

// EncodeKeyUsage encodes a KeyUsage extension value as a BIT STRING with
// trailing zero bits trimmed.
func EncodeKeyUsage(usage KeyUsage) ([]byte, error) {
	if usage == 0 {
		return nil, fmt.Errorf("empty key usage")
	}

	highest := 0
	for i := 0; i < 9; i++ {
		if usage&(1<<i) != 0 {
			highest = i
		}
	}

	bitLen := highest + 1
	data := make([]byte, (bitLen+7)/8)
	for i := 0; i < 9; i++ {
		if usage&(1<<i) != 0 {
			data[i/8] |= 0x80 >> (i % 8)
		}
	}

	return asn1.Marshal(asn1.BitString{Bytes: data, BitLength: bitLen})
}

// ParseKeyUsage decodes a KeyUsage extension value.
func ParseKeyUsage(der []byte) (KeyUsage, error) {
	var bits asn1.BitString
	if _, err := asn1.Unmarshal(der, &bits); err != nil {
		return 0, fmt.Errorf("failed to parse KeyUsage: %w", err)
	}
	var usage KeyUsage
	for i := 0; i < 9 && i < bits.BitLength; i++ {
		if bits.At(i) == 1 {
			usage |= 1 << i
		}
	}
	return usage, nil
}

// EncodeExtKeyUsage encodes an ExtendedKeyUsage extension value.
func EncodeExtKeyUsage(oids []asn1.ObjectIdentifier) ([]byte, error) {
	if len(oids) == 0 {
		return nil, fmt.Errorf("empty extended key usage")
	}
	return asn1.Marshal(oids)
}

// ParseExtKeyUsage decodes an ExtendedKeyUsage extension value.
func ParseExtKeyUsage(der []byte) ([]asn1.ObjectIdentifier, error) {
	var oids []asn1.ObjectIdentifier
	if _, err := asn1.Unmarshal(der, &oids); err != nil {
		return nil, fmt.Errorf("failed to parse ExtendedKeyUsage: %w", err)
	}
	return oids, nil
}

// AccessDescription is one AIA / SIA entry.
type AccessDescription struct {
	Method   asn1.ObjectIdentifier
	Location GeneralName
}

type accessDescriptionASN struct {
	Method   asn1.ObjectIdentifier
	Location asn1.RawValue
}

// EncodeAccessDescriptions encodes an AuthorityInfoAccess or
// SubjectInfoAccess extension value.
func EncodeAccessDescriptions(descs []AccessDescription) ([]byte, error) {
	if len(descs) == 0 {
		return nil, fmt.Errorf("empty access descriptions")
	}
	out := make([]accessDescriptionASN, 0, len(descs))
	for _, d := range descs {
		out = append(out, accessDescriptionASN{Method: d.Method, Location: d.Location.rawValue()})
	}
	return asn1.Marshal(out)
}

// ParseAccessDescriptions decodes an AIA / SIA extension value.
func ParseAccessDescriptions(der []byte) ([]AccessDescription, error) {
	var raw []accessDescriptionASN
	if _, err := asn1.Unmarshal(der, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse access descriptions: %w", err)
	}
	descs := make([]AccessDescription, 0, len(raw))
	for _, r := range raw {
		descs = append(descs, AccessDescription{
			Method:   r.Method,
			Location: GeneralName{Tag: r.Location.Tag, Value: r.Location.Bytes},
		})
	}
	return descs, nil
}

// EncodeCRLDistributionPoints encodes a CRLDistributionPoints (or
// FreshestCRL) extension value carrying one distribution point with the given
// fullName URIs.
func EncodeCRLDistributionPoints(uris []string) ([]byte, error) {
	if len(uris) == 0 {
		return nil, fmt.Errorf("empty distribution points")
	}

	names := make([]GeneralName, 0, len(uris))
	for _, uri := range uris {
		names = append(names, URIName(uri))
	}
	namesDER, err := EncodeGeneralNames(names)
	if err != nil {
		return nil, err
	}
	var namesSeq asn1.RawValue
	if _, err := asn1.Unmarshal(namesDER, &namesSeq); err != nil {
		return nil, err
	}

	// DistributionPointName ::= CHOICE { fullName [0] IMPLICIT GeneralNames }
	fullName := asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: namesSeq.Bytes}
	fullNameDER, err := asn1.Marshal(fullName)
	if err != nil {
		return nil, err
	}

	// DistributionPoint ::= SEQUENCE { distributionPoint [0] EXPLICIT ... }
	dpName := asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: fullNameDER}
	type distributionPoint struct {
		DistributionPoint asn1.RawValue `asn1:"optional,tag:0"`
	}
	return asn1.Marshal([]distributionPoint{{DistributionPoint: dpName}})
}

// ParseCRLDistributionPointURIs extracts all fullName URIs from a
// CRLDistributionPoints extension value.
func ParseCRLDistributionPointURIs(der []byte) ([]string, error) {
	type distributionPoint struct {
		DistributionPoint asn1.RawValue `asn1:"optional,tag:0"`
	}
	var dps []distributionPoint
	if _, err := asn1.Unmarshal(der, &dps); err != nil {
		return nil, fmt.Errorf("failed to parse CRLDistributionPoints: %w", err)
	}

	var uris []string
	for _, dp := range dps {
		if len(dp.DistributionPoint.Bytes) == 0 {
			continue
		}
		var fullName asn1.RawValue
		if _, err := asn1.Unmarshal(dp.DistributionPoint.Bytes, &fullName); err != nil {
			return nil, fmt.Errorf("failed to parse DistributionPointName: %w", err)
		}
		data := fullName.Bytes
		for len(data) > 0 {
			var v asn1.RawValue
			var err error
			data, err = asn1.Unmarshal(data, &v)
			if err != nil {
				return nil, fmt.Errorf("failed to parse GeneralName: %w", err)
			}
			if v.Class == asn1.ClassContextSpecific && v.Tag == GeneralNameURI {
				uris = append(uris, string(v.Bytes))
			}
		}
	}
	return uris, nil
}

// PolicyInformation is one CertificatePolicies entry.
type PolicyInformation struct {
	Policy     asn1.ObjectIdentifier
	CPSURI     string
	UserNotice string
}

var (
	oidQualifierCPS        = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 2, 1}
	oidQualifierUserNotice = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 2, 2}
)

type policyQualifierInfo struct {
	ID        asn1.ObjectIdentifier
	Qualifier asn1.RawValue
}

type policyInformationASN struct {
	Policy     asn1.ObjectIdentifier
	Qualifiers []policyQualifierInfo `asn1:"optional"`
}

// EncodeCertificatePolicies encodes a CertificatePolicies extension value.
func EncodeCertificatePolicies(policies []PolicyInformation) ([]byte, error) {
	if len(policies) == 0 {
		return nil, fmt.Errorf("empty certificate policies")
	}

	out := make([]policyInformationASN, 0, len(policies))
	for _, p := range policies {
		entry := policyInformationASN{Policy: p.Policy}
		if p.CPSURI != "" {
			cps, err := asn1.MarshalWithParams(p.CPSURI, "ia5")
			if err != nil {
				return nil, fmt.Errorf("failed to marshal CPS URI: %w", err)
			}
			entry.Qualifiers = append(entry.Qualifiers, policyQualifierInfo{
				ID:        oidQualifierCPS,
				Qualifier: asn1.RawValue{FullBytes: cps},
			})
		}
		if p.UserNotice != "" {
			explicit, err := asn1.MarshalWithParams(p.UserNotice, "utf8")
			if err != nil {
				return nil, fmt.Errorf("failed to marshal user notice: %w", err)
			}
			notice, err := asn1.Marshal(struct {
				ExplicitText asn1.RawValue
			}{asn1.RawValue{FullBytes: explicit}})
			if err != nil {
				return nil, fmt.Errorf("failed to marshal UserNotice: %w", err)
			}
			entry.Qualifiers = append(entry.Qualifiers, policyQualifierInfo{
				ID:        oidQualifierUserNotice,
				Qualifier: asn1.RawValue{FullBytes: notice},
			})
		}
		out = append(out, entry)
	}
	return asn1.Marshal(out)
}

// ParseCertificatePolicyOIDs extracts the policy OIDs of a
// CertificatePolicies extension value.
func ParseCertificatePolicyOIDs(der []byte) ([]asn1.ObjectIdentifier, error) {
	var raw []policyInformationASN
	if _, err := asn1.Unmarshal(der, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse CertificatePolicies: %w", err)
	}
	oids := make([]asn1.ObjectIdentifier, 0, len(raw))
	for _, p := range raw {
		oids = append(oids, p.Policy)
	}
	return oids, nil
}

// EncodeOCSPNoCheck encodes the id-pkix-ocsp-nocheck extension value (NULL).
func EncodeOCSPNoCheck() ([]byte, error) {
	return []byte{0x05, 0x00}, nil
}

// GeneralSubtree is one NameConstraints subtree (minimum 0, no maximum).
type GeneralSubtree struct {
	Base GeneralName
}

type generalSubtreeASN struct {
	Base asn1.RawValue
}

type nameConstraintsASN struct {
	Permitted []generalSubtreeASN `asn1:"optional,tag:0"`
	Excluded  []generalSubtreeASN `asn1:"optional,tag:1"`
}

// EncodeNameConstraints encodes a NameConstraints extension value.
func EncodeNameConstraints(permitted, excluded []GeneralSubtree) ([]byte, error) {
	if len(permitted) == 0 && len(excluded) == 0 {
		return nil, fmt.Errorf("empty name constraints")
	}
	conv := func(subtrees []GeneralSubtree) []generalSubtreeASN {
		out := make([]generalSubtreeASN, 0, len(subtrees))
		for _, s := range subtrees {
			out = append(out, generalSubtreeASN{Base: s.Base.rawValue()})
		}
		return out
	}
	return asn1.Marshal(nameConstraintsASN{
		Permitted: conv(permitted),
		Excluded:  conv(excluded),
	})
}

// QCStatement is one RFC 3739 QCStatement: an OID with optional raw info.
type QCStatement struct {
	ID   asn1.ObjectIdentifier
	Info []byte
}

type qcStatementASN struct {
	ID   asn1.ObjectIdentifier
	Info asn1.RawValue `asn1:"optional"`
}

// EncodeQCStatements encodes a QCStatements extension value.
func EncodeQCStatements(statements []QCStatement) ([]byte, error) {
	if len(statements) == 0 {
		return nil, fmt.Errorf("empty QC statements")
	}
	out := make([]qcStatementASN, 0, len(statements))
	for _, s := range statements {
		entry := qcStatementASN{ID: s.ID}
		if len(s.Info) > 0 {
			entry.Info = asn1.RawValue{FullBytes: s.Info}
		}
		out = append(out, entry)
	}
	return asn1.Marshal(out)
}

// BiometricData is one RFC 3739 BiometricData entry. TypeOID may be nil for
// the predefined integer types (0 = picture, 1 = handwritten signature).
type BiometricData struct {
	TypeID        int
	TypeOID       asn1.ObjectIdentifier
	HashAlgorithm asn1.ObjectIdentifier
	Hash          []byte
	SourceDataURI string
}

// EncodeBiometricInfo encodes a BiometricInfo extension value.
func EncodeBiometricInfo(data []BiometricData) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty biometric data")
	}

	type biometricDataASN struct {
		TypeOfData    asn1.RawValue
		HashAlgorithm pkix.AlgorithmIdentifier
		BiometricHash []byte
		SourceDataURI string `asn1:"optional,ia5"`
	}

	out := make([]biometricDataASN, 0, len(data))
	for _, d := range data {
		var typeOfData asn1.RawValue
		if d.TypeOID != nil {
			der, err := asn1.Marshal(d.TypeOID)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal biometric type OID: %w", err)
			}
			typeOfData = asn1.RawValue{FullBytes: der}
		} else {
			der, err := asn1.Marshal(d.TypeID)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal biometric type id: %w", err)
			}
			typeOfData = asn1.RawValue{FullBytes: der}
		}
		out = append(out, biometricDataASN{
			TypeOfData:    typeOfData,
			HashAlgorithm: pkix.AlgorithmIdentifier{Algorithm: d.HashAlgorithm, Parameters: asn1.RawValue{FullBytes: asn1Null}},
			BiometricHash: d.Hash,
			SourceDataURI: d.SourceDataURI,
		})
	}
	return asn1.Marshal(out)
}

// AdmissionProfession is one profession entry of an ISIS-MTT admission.
type AdmissionProfession struct {
	ProfessionItems    []string
	ProfessionOIDs     []asn1.ObjectIdentifier
	RegistrationNumber string
}

// EncodeAdmission encodes an ISIS-MTT Admission extension value with a single
// Admissions entry, no admission authority, and the given professions.
func EncodeAdmission(professions []AdmissionProfession) ([]byte, error) {
	if len(professions) == 0 {
		return nil, fmt.Errorf("empty admission professions")
	}

	type professionInfoASN struct {
		ProfessionItems    []string                `asn1:"utf8"`
		ProfessionOIDs     []asn1.ObjectIdentifier `asn1:"optional"`
		RegistrationNumber string                  `asn1:"optional,printable"`
	}
	type admissionsASN struct {
		ProfessionInfos []professionInfoASN
	}
	type admissionSyntaxASN struct {
		ContentsOfAdmissions []admissionsASN
	}

	infos := make([]professionInfoASN, 0, len(professions))
	for _, p := range professions {
		infos = append(infos, professionInfoASN{
			ProfessionItems:    p.ProfessionItems,
			ProfessionOIDs:     p.ProfessionOIDs,
			RegistrationNumber: p.RegistrationNumber,
		})
	}
	return asn1.Marshal(admissionSyntaxASN{
		ContentsOfAdmissions: []admissionsASN{{ProfessionInfos: infos}},
	})
}

// EncodeUTF8String encodes a bare UTF8String value; the GM/T 0015 identity
// extensions are plain strings under private OIDs.
func EncodeUTF8String(value string) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("empty string value")
	}
	return asn1.MarshalWithParams(value, "utf8")
}

// ParseUTF8String decodes a bare UTF8String value.
func ParseUTF8String(der []byte) (string, error) {
	var s string
	if _, err := asn1.UnmarshalWithParams(der, &s, "utf8"); err != nil {
		return "", fmt.Errorf("failed to parse UTF8String: %w", err)
	}
	return s, nil
}
