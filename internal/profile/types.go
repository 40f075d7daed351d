// Package profile implements the certificate profile engine: it parses and
// validates profile definitions and, for each enrollment request, produces
// the granted subject and the complete, deterministically ordered extension
// set.
package profile

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/frestoinc/xipki/internal/x509util"
)

// CertLevel classifies what kind of certificate a profile issues.
type CertLevel string

const (
	CertLevelRootCA    CertLevel = "RootCA"
	CertLevelSubCA     CertLevel = "SubCA"
	CertLevelCross     CertLevel = "Cross"
	CertLevelEndEntity CertLevel = "EndEntity"
)

// IsCA reports whether the level describes a CA certificate.
func (l CertLevel) IsCA() bool {
	return l == CertLevelRootCA || l == CertLevelSubCA || l == CertLevelCross
}

// ParseCertLevel resolves a level name.
func ParseCertLevel(s string) (CertLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rootca":
		return CertLevelRootCA, nil
	case "subca":
		return CertLevelSubCA, nil
	case "cross":
		return CertLevelCross, nil
	case "endentity", "":
		return CertLevelEndEntity, nil
	default:
		return "", fmt.Errorf("unknown cert level %q", s)
	}
}

// CertDomain selects the rule set applied on top of RFC 5280.
type CertDomain string

const (
	CertDomainGeneric    CertDomain = "generic"
	CertDomainCABForumBR CertDomain = "CABForumBR"
)

// ParseCertDomain resolves a domain name.
func ParseCertDomain(s string) (CertDomain, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "generic", "":
		return CertDomainGeneric, nil
	case "cabforumbr", "cabforum", "br":
		return CertDomainCABForumBR, nil
	default:
		return "", fmt.Errorf("unknown cert domain %q", s)
	}
}

// NotAfterMode controls how a notAfter beyond the CA's own validity is
// handled.
type NotAfterMode string

const (
	NotAfterByCA   NotAfterMode = "byCA"
	NotAfterStrict NotAfterMode = "strict"
	NotAfterCutoff NotAfterMode = "cutoff"
)

// ParseNotAfterMode resolves a mode name.
func ParseNotAfterMode(s string) (NotAfterMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "byca", "":
		return NotAfterByCA, nil
	case "strict":
		return NotAfterStrict, nil
	case "cutoff":
		return NotAfterCutoff, nil
	default:
		return "", fmt.Errorf("unknown notAfter mode %q", s)
	}
}

// KeypairGenMode controls server-side key generation.
type KeypairGenMode string

const (
	KeypairGenInheritCA KeypairGenMode = "inheritCA"
	KeypairGenForbidden KeypairGenMode = "forbidden"
	KeypairGenExplicit  KeypairGenMode = "explicit"
)

// MaxCertTime is 9999-12-31T23:59:59Z, the largest notAfter a certificate
// may carry.
var MaxCertTime = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// PathLenUnlimited marks an absent path length constraint.
const PathLenUnlimited = math.MaxInt32

// ExtensionControl describes how one extension OID is treated by a profile.
type ExtensionControl struct {
	// Critical marks the produced extension critical.
	Critical bool

	// Required fails issuance when the extension cannot be computed.
	Required bool

	// PermittedInRequest allows the request to contribute the value.
	PermittedInRequest bool
}

// ExtensionValues is the ordered, deterministic extension set computed for
// one certificate.
type ExtensionValues struct {
	exts  []x509util.Extension
	index map[string]int
}

// NewExtensionValues creates an empty set.
func NewExtensionValues() *ExtensionValues {
	return &ExtensionValues{index: make(map[string]int)}
}

// Add appends an extension. Adding the same OID twice is an error.
func (v *ExtensionValues) Add(ext x509util.Extension) error {
	key := ext.OID.String()
	if _, dup := v.index[key]; dup {
		return fmt.Errorf("extension %s added twice", key)
	}
	v.index[key] = len(v.exts)
	v.exts = append(v.exts, ext)
	return nil
}

// Get returns the extension with the given OID.
func (v *ExtensionValues) Get(oid string) (x509util.Extension, bool) {
	i, ok := v.index[oid]
	if !ok {
		return x509util.Extension{}, false
	}
	return v.exts[i], true
}

// List returns the extensions in computation order.
func (v *ExtensionValues) List() []x509util.Extension {
	return v.exts
}

// Len returns the number of extensions.
func (v *ExtensionValues) Len() int {
	return len(v.exts)
}

// RequestedExtensions is the extension set carried by an enrollment request.
type RequestedExtensions struct {
	exts []x509util.Extension
}

// NewRequestedExtensions wraps the request's extensions.
func NewRequestedExtensions(exts []x509util.Extension) *RequestedExtensions {
	return &RequestedExtensions{exts: exts}
}

// Get returns the requested value for an OID.
func (r *RequestedExtensions) Get(oid string) ([]byte, bool) {
	if r == nil {
		return nil, false
	}
	for _, e := range r.exts {
		if e.OID.String() == oid {
			return e.Value, true
		}
	}
	return nil, false
}

// List returns all requested extensions.
func (r *RequestedExtensions) List() []x509util.Extension {
	if r == nil {
		return nil
	}
	return r.exts
}
