// Package ca implements the per-CA issuance core: the granted-template
// builder, the CA instance with its signer pool, CRL generation, and the
// publisher fan-out.
package ca

import (
	"crypto/x509"
	"fmt"
	"strings"
	"time"

	"github.com/frestoinc/xipki/internal/certstore"
	"github.com/frestoinc/xipki/internal/crypto"
	"github.com/frestoinc/xipki/internal/nameid"
	"github.com/frestoinc/xipki/internal/profile"
	"github.com/frestoinc/xipki/internal/x509util"
)

// ValidityMode controls how a notAfter beyond the CA's own validity is
// handled at the CA level.
type ValidityMode string

const (
	ValidityStrict ValidityMode = "strict"
	ValidityCutoff ValidityMode = "cutoff"
	ValidityLax    ValidityMode = "lax"
)

// ParseValidityMode resolves a mode name.
func ParseValidityMode(s string) (ValidityMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return ValidityStrict, nil
	case "cutoff":
		return ValidityCutoff, nil
	case "lax":
		return ValidityLax, nil
	default:
		return "", fmt.Errorf("unknown validity mode %q", s)
	}
}

// Status is the CA activation state.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// CrlControl configures periodic CRL generation.
type CrlControl struct {
	// Interval between CRL generations (0 disables the schedule).
	Interval time.Duration `yaml:"interval"`

	// Validity of a generated CRL (nextUpdate = thisUpdate + Validity).
	Validity time.Duration `yaml:"validity"`
}

// CaInfo is the state of one CA instance.
type CaInfo struct {
	Ident *nameid.NameID

	Cert      *x509.Certificate
	CertChain []*x509.Certificate

	Signers *crypto.SignerSet

	// MaxValidity caps the validity of issued certificates.
	MaxValidity time.Duration

	// NoNewCertificateAfter is the last point the CA may issue.
	NoNewCertificateAfter time.Time

	RevocationInfo *certstore.RevocationInfo

	ValidityMode ValidityMode
	Status       Status

	// ExtraControl is the CA's free-form control bag.
	ExtraControl map[string]string

	CrlControl *CrlControl

	// NextCrlNumber is the number after the last reserved CRL number.
	NextCrlNumber int64

	// Publication URIs.
	CACertURIs   []string
	OCSPURIs     []string
	CRLURIs      []string
	DeltaCRLURIs []string

	// Derived fields, filled by Complete().
	caSPKI       *x509util.SubjectPublicKeyInfo
	caKeyspec    *crypto.Keyspec
	pathLen      int
	c14nSubject  string
	sanExtension []byte
}

// Complete derives the computed fields from the CA certificate. It must be
// called once before the CaInfo is used.
func (ci *CaInfo) Complete() error {
	if ci.Cert == nil {
		return fmt.Errorf("CA %s has no certificate", ci.Ident)
	}

	spki, err := x509util.ParseSPKI(ci.Cert.RawSubjectPublicKeyInfo)
	if err != nil {
		return fmt.Errorf("CA %s: %w", ci.Ident, err)
	}
	ci.caSPKI = spki

	keyspec, err := crypto.KeyspecOfSPKI(spki)
	if err != nil {
		return fmt.Errorf("CA %s: %w", ci.Ident, err)
	}
	ci.caKeyspec = keyspec

	ci.pathLen = profile.PathLenUnlimited
	if ci.Cert.BasicConstraintsValid && ci.Cert.MaxPathLen >= 0 {
		if ci.Cert.MaxPathLen > 0 || ci.Cert.MaxPathLenZero {
			ci.pathLen = ci.Cert.MaxPathLen
		}
	}

	var subjectRDNs = ci.Cert.Subject.ToRDNSequence()
	ci.c14nSubject = x509util.CanonicalizeRDNSequence(subjectRDNs)

	for _, ext := range ci.Cert.Extensions {
		if ext.Id.Equal(x509util.OIDExtSubjectAltName) {
			ci.sanExtension = ext.Value
		}
	}

	if ci.NoNewCertificateAfter.IsZero() {
		ci.NoNewCertificateAfter = ci.Cert.NotAfter
	}
	if ci.ValidityMode == "" {
		ci.ValidityMode = ValidityStrict
	}
	if ci.Status == "" {
		ci.Status = StatusActive
	}
	return nil
}

// NotBefore returns the CA certificate's notBefore.
func (ci *CaInfo) NotBefore() time.Time { return ci.Cert.NotBefore }

// NotAfter returns the CA certificate's notAfter.
func (ci *CaInfo) NotAfter() time.Time { return ci.Cert.NotAfter }

// PathLen returns the CA's own path length constraint.
func (ci *CaInfo) PathLen() int { return ci.pathLen }

// Keyspec returns the CA key's keyspec.
func (ci *CaInfo) Keyspec() *crypto.Keyspec { return ci.caKeyspec }

// C14nSubject returns the canonicalised subject string.
func (ci *CaInfo) C14nSubject() string { return ci.c14nSubject }

// IssuerInfo builds the profile-engine view of this CA.
func (ci *CaInfo) IssuerInfo() *profile.IssuerInfo {
	return &profile.IssuerInfo{
		SubjectKeyID:   ci.Cert.SubjectKeyId,
		Subject:        ci.Cert.Subject.ToRDNSequence(),
		IssuerSubject:  ci.Cert.Issuer.ToRDNSequence(),
		SerialNumber:   ci.Cert.SerialNumber,
		SubjectAltName: ci.sanExtension,
		CACertURIs:     ci.CACertURIs,
		OCSPURIs:       ci.OCSPURIs,
		CRLURIs:        ci.CRLURIs,
		DeltaCRLURIs:   ci.DeltaCRLURIs,
		PathLen:        ci.pathLen,
	}
}
