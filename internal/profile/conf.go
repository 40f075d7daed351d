package profile

import (
	"encoding/asn1"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Conf is the YAML representation of a certificate profile. It is parsed and
// validated once by Initialize; the resulting Profile is immutable.
type Conf struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	CertLevel  string `yaml:"certLevel,omitempty"`
	CertDomain string `yaml:"certDomain,omitempty"`

	// Validity is the maximum validity, e.g. "365d" or "8760h".
	Validity string `yaml:"validity"`

	// NotBeforeOption is "current", "midnight", or a signed offset duration.
	NotBeforeOption string `yaml:"notBeforeOption,omitempty"`

	NotAfterMode string `yaml:"notAfterMode,omitempty"`

	// NoWellDefinedExpiration forces notAfter = 9999-12-31T23:59:59Z.
	// Only permitted for EndEntity profiles.
	NoWellDefinedExpiration bool `yaml:"noWellDefinedExpiration,omitempty"`

	SignatureAlgorithms []string `yaml:"signatureAlgorithms,omitempty"`

	KeypairGen *KeypairGenConf `yaml:"keypairGen,omitempty"`

	// AllowedKeyspecs whitelists requested public keys, e.g. "RSA/2048".
	// Empty means any supported key is accepted.
	AllowedKeyspecs []string `yaml:"allowedKeyspecs,omitempty"`

	SerialNumber *SerialConf `yaml:"serialNumber,omitempty"`

	// PathLen is the BasicConstraints path length for CA profiles.
	// Unset means no constraint.
	PathLen *int `yaml:"pathLen,omitempty"`

	Subject    SubjectConf    `yaml:"subject"`
	Extensions ExtensionsConf `yaml:"extensions"`
}

// KeypairGenConf controls server-side key generation.
type KeypairGenConf struct {
	// Mode is "inheritCA", "forbidden" or "explicit".
	Mode string `yaml:"mode"`

	// Keyspec is required in explicit mode, e.g. "EC/secp256r1".
	Keyspec string `yaml:"keyspec,omitempty"`
}

// SerialConf controls serial number generation.
type SerialConf struct {
	// Mode is "ca" (CA-level random), "random" (profile random of Size
	// octets) or "pubkeyHash" (deterministic digest of CA and subject keys).
	Mode string `yaml:"mode"`

	// Size is the serial length in octets (default 16, max 20).
	Size int `yaml:"size,omitempty"`
}

// SubjectConf describes the subject DN policy.
type SubjectConf struct {
	// ValidationPolicy selects the CA/B BR subject rule set for EndEntity
	// profiles: "", "domainValidated", "organizationValidated" or
	// "individualValidated".
	ValidationPolicy string `yaml:"validationPolicy,omitempty"`

	// RDNs are the permitted subject attributes in granted order.
	RDNs []RDNConf `yaml:"rdns"`
}

// RDNConf describes one subject attribute.
type RDNConf struct {
	// Type is an attribute short name (cn, o, ou, c, ...) or a dotted OID.
	Type string `yaml:"type"`

	// Value fixes the attribute to a constant, overriding the request.
	Value string `yaml:"value,omitempty"`

	// Required fails subject building when the request omits the attribute.
	Required bool `yaml:"required,omitempty"`
}

// ControlConf carries the per-extension control flags.
type ControlConf struct {
	Critical bool `yaml:"critical,omitempty"`
	Required bool `yaml:"required,omitempty"`

	// Request permits the enrollment request to contribute the value.
	Request bool `yaml:"request,omitempty"`
}

// ExtensionsConf is the structured extension configuration.
type ExtensionsConf struct {
	SubjectKeyIdentifier   *ControlConf         `yaml:"subjectKeyIdentifier,omitempty"`
	AuthorityKeyIdentifier *AKIConf             `yaml:"authorityKeyIdentifier,omitempty"`
	IssuerAltName          *ControlConf         `yaml:"issuerAltName,omitempty"`
	AuthorityInfoAccess    *AIAConf             `yaml:"authorityInfoAccess,omitempty"`
	CRLDistributionPoints  *CRLDPConf           `yaml:"crlDistributionPoints,omitempty"`
	FreshestCRL            *CRLDPConf           `yaml:"freshestCrl,omitempty"`
	BasicConstraints       *ControlConf         `yaml:"basicConstraints,omitempty"`
	KeyUsage               *KeyUsageConf        `yaml:"keyUsage,omitempty"`
	ExtendedKeyUsage       *EKUConf             `yaml:"extendedKeyUsage,omitempty"`
	OCSPNoCheck            *ControlConf         `yaml:"ocspNoCheck,omitempty"`
	SubjectAltName         *ControlConf         `yaml:"subjectAltName,omitempty"`
	SubjectInfoAccess      *SIAConf             `yaml:"subjectInfoAccess,omitempty"`
	CertificatePolicies    *PoliciesConf        `yaml:"certificatePolicies,omitempty"`
	NameConstraints        *NameConstraintsConf `yaml:"nameConstraints,omitempty"`
	Admission              *AdmissionConf       `yaml:"admission,omitempty"`
	QCStatements           *QCStatementsConf    `yaml:"qcStatements,omitempty"`
	BiometricInfo          *BiometricConf       `yaml:"biometricInfo,omitempty"`
	GMT0015                *GMT0015Conf         `yaml:"gmt0015,omitempty"`
	Constants              []ConstantExtConf    `yaml:"constants,omitempty"`
}

// AKIConf configures the AuthorityKeyIdentifier extension.
type AKIConf struct {
	ControlConf `yaml:",inline"`

	// IncludeIssuerSerial additionally embeds the CA issuer name and serial.
	IncludeIssuerSerial bool `yaml:"includeIssuerSerial,omitempty"`
}

// AIAConf configures AuthorityInfoAccess.
type AIAConf struct {
	ControlConf `yaml:",inline"`

	IncludeCAIssuers bool `yaml:"includeCaIssuers,omitempty"`
	IncludeOCSP      bool `yaml:"includeOcsp,omitempty"`

	// Protocols whitelists URI schemes, e.g. [http, https]. Empty permits
	// http and https.
	Protocols []string `yaml:"protocols,omitempty"`
}

// CRLDPConf configures CRLDistributionPoints / FreshestCRL.
type CRLDPConf struct {
	ControlConf `yaml:",inline"`

	Protocols []string `yaml:"protocols,omitempty"`
}

// KeyUsageItem is one key usage bit with its requiredness.
type KeyUsageItem struct {
	Name     string `yaml:"name"`
	Required bool   `yaml:"required,omitempty"`
}

// KeyUsageConf configures the KeyUsage extension.
type KeyUsageConf struct {
	ControlConf `yaml:",inline"`

	Usages []KeyUsageItem `yaml:"usages"`
}

// EKUItem is one extended key usage OID with its requiredness.
type EKUItem struct {
	OID      string `yaml:"oid"`
	Required bool   `yaml:"required,omitempty"`
}

// EKUConf configures the ExtendedKeyUsage extension.
type EKUConf struct {
	ControlConf `yaml:",inline"`

	Usages []EKUItem `yaml:"usages"`
}

// SIAConf configures SubjectInfoAccess.
type SIAConf struct {
	ControlConf `yaml:",inline"`

	// AccessMethods whitelists access method OIDs copied from the request.
	AccessMethods []string `yaml:"accessMethods"`
}

// PolicyConf is one certificate policy.
type PolicyConf struct {
	OID        string `yaml:"oid"`
	CPSURI     string `yaml:"cpsUri,omitempty"`
	UserNotice string `yaml:"userNotice,omitempty"`
}

// PoliciesConf configures CertificatePolicies.
type PoliciesConf struct {
	ControlConf `yaml:",inline"`

	Policies []PolicyConf `yaml:"policies"`
}

// NameConstraintsConf configures NameConstraints.
type NameConstraintsConf struct {
	ControlConf `yaml:",inline"`

	PermittedDNS []string `yaml:"permittedDns,omitempty"`
	ExcludedDNS  []string `yaml:"excludedDns,omitempty"`
}

// AdmissionProfessionConf is one ISIS-MTT profession entry.
type AdmissionProfessionConf struct {
	Items              []string `yaml:"items,omitempty"`
	OIDs               []string `yaml:"oids,omitempty"`
	RegistrationNumber string   `yaml:"registrationNumber,omitempty"`
}

// AdmissionConf configures the Admission extension.
type AdmissionConf struct {
	ControlConf `yaml:",inline"`

	Professions []AdmissionProfessionConf `yaml:"professions"`
}

// QCStatementConf is one QCStatement.
type QCStatementConf struct {
	OID string `yaml:"oid"`

	// Info is the base64 DER of the statementInfo, if any.
	Info string `yaml:"info,omitempty"`
}

// QCStatementsConf configures QCStatements.
type QCStatementsConf struct {
	ControlConf `yaml:",inline"`

	Statements []QCStatementConf `yaml:"statements"`
}

// BiometricDataConf is one BiometricData entry template.
type BiometricDataConf struct {
	// TypeID is 0 (picture) or 1 (handwritten signature); TypeOID overrides.
	TypeID  int    `yaml:"typeId,omitempty"`
	TypeOID string `yaml:"typeOid,omitempty"`
}

// BiometricConf configures BiometricInfo. The encoded value comes from the
// request and is copied as-is; Types must list at least one entry, but the
// requested types are not checked against it.
type BiometricConf struct {
	ControlConf `yaml:",inline"`

	Types []BiometricDataConf `yaml:"types"`
}

// GMT0015Conf configures the GM/T 0015 identity extensions. Each field is a
// constant value or, when FromRequest is set, copied from the request.
type GMT0015Conf struct {
	ControlConf `yaml:",inline"`

	IdentityCode         string `yaml:"identityCode,omitempty"`
	InsuranceNumber      string `yaml:"insuranceNumber,omitempty"`
	ICRegistrationNumber string `yaml:"icRegistrationNumber,omitempty"`
	OrganizationCode     string `yaml:"organizationCode,omitempty"`
	TaxationNumber       string `yaml:"taxationNumber,omitempty"`

	FromRequest bool `yaml:"fromRequest,omitempty"`
}

// ConstantExtConf is a precomputed extension: the profile carries the final
// DER value.
type ConstantExtConf struct {
	OID      string `yaml:"oid"`
	Critical bool   `yaml:"critical,omitempty"`

	// Value is the base64 DER of the extnValue content.
	Value string `yaml:"value"`
}

// LoadConf reads a profile configuration from a YAML file.
func LoadConf(path string) (*Conf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile file: %w", err)
	}
	return ParseConf(data)
}

// ParseConf parses a profile configuration from YAML bytes.
func ParseConf(data []byte) (*Conf, error) {
	var conf Conf
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return nil, fmt.Errorf("failed to parse profile YAML: %w", err)
	}
	return &conf, nil
}

// parseValidity accepts Go durations plus a "Nd" day and "Ny" year suffix.
func parseValidity(s string) (time.Duration, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("empty validity")
	}
	if strings.HasSuffix(trimmed, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(trimmed, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid validity %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	if strings.HasSuffix(trimmed, "y") {
		years, err := strconv.Atoi(strings.TrimSuffix(trimmed, "y"))
		if err != nil {
			return 0, fmt.Errorf("invalid validity %q", s)
		}
		return time.Duration(years) * 365 * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid validity %q", s)
	}
	return d, nil
}

// parseOID parses a dotted OID string.
func parseOID(s string) (asn1.ObjectIdentifier, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid OID %q", s)
	}
	oid := make(asn1.ObjectIdentifier, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid OID %q", s)
		}
		oid = append(oid, n)
	}
	return oid, nil
}
