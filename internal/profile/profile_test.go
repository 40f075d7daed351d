package profile

import (
	"strings"
	"testing"
	"time"
)

func baseEEConf() *Conf {
	return &Conf{
		Name:                "test-ee",
		CertLevel:           "EndEntity",
		Validity:            "365d",
		SignatureAlgorithms: []string{"SHA256withECDSA"},
		Subject: SubjectConf{
			RDNs: []RDNConf{{Type: "cn", Required: true}},
		},
		Extensions: ExtensionsConf{
			KeyUsage: &KeyUsageConf{
				ControlConf: ControlConf{Critical: true, Required: true},
				Usages:      []KeyUsageItem{{Name: "digitalSignature", Required: true}},
			},
		},
	}
}

func TestInitializeValidProfile(t *testing.T) {
	p, err := Initialize(baseEEConf())
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if p.CertLevel() != CertLevelEndEntity {
		t.Errorf("CertLevel() = %v, want EndEntity", p.CertLevel())
	}
	if p.Version() != 3 {
		t.Errorf("Version() = %d, want 3", p.Version())
	}
	if p.Validity() != 365*24*time.Hour {
		t.Errorf("Validity() = %v, want 8760h", p.Validity())
	}
}

func TestInitializeRejectsNoExpirationForCA(t *testing.T) {
	conf := baseEEConf()
	conf.CertLevel = "SubCA"
	conf.PathLen = intPtr(0)
	conf.NoWellDefinedExpiration = true

	_, err := Initialize(conf)
	if err == nil {
		t.Fatal("Initialize() should reject noWellDefinedExpiration for SubCA")
	}
	if !strings.Contains(err.Error(), "noWellDefinedExpiration") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestInitializeNoExpirationForEndEntity(t *testing.T) {
	conf := baseEEConf()
	conf.Validity = ""
	conf.NoWellDefinedExpiration = true

	p, err := Initialize(conf)
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if !p.HasNoWellDefinedExpiration() {
		t.Error("HasNoWellDefinedExpiration() = false")
	}
}

func TestInitializeRejectsBREEWithoutSAN(t *testing.T) {
	conf := baseEEConf()
	conf.CertDomain = "CABForumBR"

	_, err := Initialize(conf)
	if err == nil {
		t.Fatal("Initialize() should reject a BR EndEntity profile without subjectAltName")
	}
}

func TestInitializeBREEWithSAN(t *testing.T) {
	conf := baseEEConf()
	conf.CertDomain = "CABForumBR"
	conf.Subject.ValidationPolicy = "domainValidated"
	conf.Extensions.SubjectAltName = &ControlConf{Required: true, Request: true}

	if _, err := Initialize(conf); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
}

func TestInitializeRejectsNonCriticalCCC(t *testing.T) {
	conf := baseEEConf()
	conf.Extensions.Constants = []ConstantExtConf{
		{OID: "1.3.6.1.4.1.41577.7.1", Critical: false, Value: "BQA="},
	}

	_, err := Initialize(conf)
	if err == nil {
		t.Fatal("Initialize() should reject a non-critical CCC extension")
	}
	if !strings.Contains(err.Error(), "CCC") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestInitializeRejectsTwoCCCExtensions(t *testing.T) {
	conf := baseEEConf()
	conf.Extensions.Constants = []ConstantExtConf{
		{OID: "1.3.6.1.4.1.41577.7.1", Critical: true, Value: "BQA="},
		{OID: "1.3.6.1.4.1.41577.7.2", Critical: true, Value: "BQA="},
	}

	_, err := Initialize(conf)
	if err == nil {
		t.Fatal("Initialize() should reject two CCC extensions")
	}
}

func TestInitializeRejectsPathLenForEndEntity(t *testing.T) {
	conf := baseEEConf()
	conf.PathLen = intPtr(1)

	if _, err := Initialize(conf); err == nil {
		t.Fatal("Initialize() should reject pathLen on an EndEntity profile")
	}
}

func TestInitializeRejectsUnknownSignatureAlgorithm(t *testing.T) {
	conf := baseEEConf()
	conf.SignatureAlgorithms = []string{"MD5withRSA"}

	if _, err := Initialize(conf); err == nil {
		t.Fatal("Initialize() should reject an unknown signature algorithm")
	}
}

func TestParseConfYAML(t *testing.T) {
	yaml := `
name: tls-server
certLevel: EndEntity
certDomain: CABForumBR
validity: 365d
signatureAlgorithms: [SHA256withECDSA, SHA256withRSA]
subject:
  validationPolicy: domainValidated
  rdns:
    - type: cn
      required: true
extensions:
  subjectAltName:
    required: true
    request: true
  keyUsage:
    critical: true
    required: true
    usages:
      - name: digitalSignature
        required: true
`
	conf, err := ParseConf([]byte(yaml))
	if err != nil {
		t.Fatalf("ParseConf() error = %v", err)
	}
	p, err := Initialize(conf)
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if p.Name() != "tls-server" {
		t.Errorf("Name() = %q", p.Name())
	}
	if p.CertDomain() != CertDomainCABForumBR {
		t.Errorf("CertDomain() = %v", p.CertDomain())
	}
	if len(p.SignatureAlgorithms()) != 2 {
		t.Errorf("SignatureAlgorithms() count = %d, want 2", len(p.SignatureAlgorithms()))
	}
}

func TestNotBeforeOptions(t *testing.T) {
	now := time.Date(2025, 6, 15, 13, 45, 0, 0, time.UTC)

	conf := baseEEConf()
	p, err := Initialize(conf)
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if got := p.NotBefore(time.Time{}, now); !got.Equal(now) {
		t.Errorf("NotBefore(zero) = %v, want %v", got, now)
	}
	requested := now.Add(48 * time.Hour)
	if got := p.NotBefore(requested, now); !got.Equal(requested) {
		t.Errorf("NotBefore(requested) = %v, want %v", got, requested)
	}

	conf = baseEEConf()
	conf.NotBeforeOption = "midnight"
	p, err = Initialize(conf)
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	got := p.NotBefore(time.Time{}, now)
	want := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NotBefore(midnight) = %v, want %v", got, want)
	}
}

func intPtr(v int) *int { return &v }
