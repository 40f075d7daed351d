// Package qa validates issued certificates against their profiles: it
// recomputes the expected extension set and compares it bit-exactly with
// what the certificate carries. Used as a test oracle and by the QA service
// endpoint.
package qa

import (
	"bytes"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/frestoinc/xipki/internal/profile"
	"github.com/frestoinc/xipki/internal/x509util"
)

// ValidationIssue is one finding of the checker.
type ValidationIssue struct {
	// Tag locates the check, e.g. "extension.2.5.29.15.value".
	Tag string

	// Failed marks the issue as an error; informational findings keep it
	// false.
	Failed bool

	Message string
}

func (i ValidationIssue) String() string {
	state := "ok"
	if i.Failed {
		state = "failed"
	}
	if i.Message == "" {
		return fmt.Sprintf("%s: %s", i.Tag, state)
	}
	return fmt.Sprintf("%s: %s (%s)", i.Tag, state, i.Message)
}

// CheckRequest is the original enrollment request the certificate answered.
type CheckRequest struct {
	RequestedExtensions []x509util.Extension
}

// Checker recomputes profile extensions for issued certificates.
type Checker struct {
	profile *profile.Profile
	issuer  *profile.IssuerInfo
}

// NewChecker creates a Checker for one profile under one issuing CA.
func NewChecker(prof *profile.Profile, issuer *profile.IssuerInfo) *Checker {
	return &Checker{profile: prof, issuer: issuer}
}

// Check validates cert against the profile. The returned list contains one
// issue per divergence; an empty list means the certificate matches.
func (c *Checker) Check(cert *x509.Certificate, req *CheckRequest) []ValidationIssue {
	var issues []ValidationIssue

	fail := func(tag, format string, args ...any) {
		issues = append(issues, ValidationIssue{Tag: tag, Failed: true, Message: fmt.Sprintf(format, args...)})
	}

	if cert.Version != 3 {
		fail("cert.version", "version is %d, expected 3", cert.Version)
	}

	requestedSubject := cert.Subject.ToRDNSequence()
	subjectInfo, err := c.profile.GetSubject(requestedSubject)
	if err != nil {
		fail("cert.subject", "subject does not satisfy the profile: %v", err)
		return issues
	}

	spki, err := x509util.ParseSPKI(cert.RawSubjectPublicKeyInfo)
	if err != nil {
		fail("cert.spki", "unparseable SubjectPublicKeyInfo: %v", err)
		return issues
	}

	var reqExts *profile.RequestedExtensions
	if req != nil {
		reqExts = profile.NewRequestedExtensions(req.RequestedExtensions)
	}

	expected, err := c.profile.GetExtensions(
		c.issuer, requestedSubject, subjectInfo.Granted, reqExts,
		spki, cert.NotBefore, cert.NotAfter)
	if err != nil {
		fail("extensions", "failed to recompute extensions: %v", err)
		return issues
	}

	issues = append(issues, compareExtensions(cert, expected)...)
	issues = append(issues, c.checkValidity(cert)...)
	return issues
}

// compareExtensions matches the certificate's extension list against the
// recomputed one: same set, same criticality, byte-identical values.
func compareExtensions(cert *x509.Certificate, expected *profile.ExtensionValues) []ValidationIssue {
	var issues []ValidationIssue
	fail := func(tag, format string, args ...any) {
		issues = append(issues, ValidationIssue{Tag: tag, Failed: true, Message: fmt.Sprintf(format, args...)})
	}

	present := make(map[string]pkixExt)
	for _, ext := range cert.Extensions {
		present[ext.Id.String()] = pkixExt{critical: ext.Critical, value: ext.Value}
	}

	// The SubjectKeyIdentifier the profile derives may legitimately differ
	// when the request supplied its own; the value compare below covers it.
	for _, want := range expected.List() {
		key := want.OID.String()
		got, ok := present[key]
		if !ok {
			fail("extension."+key, "required extension is missing")
			continue
		}
		if got.critical != want.Critical {
			fail("extension."+key+".critical", "critical is %v, expected %v", got.critical, want.Critical)
		}
		if !bytes.Equal(got.value, want.Value) {
			fail("extension."+key+".value", "encoded value differs from the profile computation")
		}
		delete(present, key)
	}

	for key := range present {
		fail("extension."+key, "extension not permitted by the profile")
	}
	return issues
}

type pkixExt struct {
	critical bool
	value    []byte
}

func (c *Checker) checkValidity(cert *x509.Certificate) []ValidationIssue {
	var issues []ValidationIssue

	if c.profile.HasNoWellDefinedExpiration() {
		if !cert.NotAfter.Equal(profile.MaxCertTime) {
			issues = append(issues, ValidationIssue{
				Tag:    "cert.notAfter",
				Failed: true,
				Message: fmt.Sprintf("notAfter is %s, expected %s",
					cert.NotAfter.UTC().Format(time.RFC3339), profile.MaxCertTime.Format(time.RFC3339)),
			})
		}
		return issues
	}

	if c.profile.Validity() > 0 {
		maxNotAfter := cert.NotBefore.Add(c.profile.Validity())
		if cert.NotAfter.After(maxNotAfter) {
			issues = append(issues, ValidationIssue{
				Tag:    "cert.notAfter",
				Failed: true,
				Message: fmt.Sprintf("notAfter %s exceeds profile validity (max %s)",
					cert.NotAfter.UTC().Format(time.RFC3339), maxNotAfter.UTC().Format(time.RFC3339)),
			})
		}
	}
	return issues
}
