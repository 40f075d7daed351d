package profile

import (
	"encoding/asn1"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/frestoinc/xipki/internal/crypto"
	"github.com/frestoinc/xipki/internal/x509util"
)

// ConfError marks a profile configuration contradiction detected at load
// time. A CA with a broken profile must not activate.
type ConfError struct {
	Profile string
	Msg     string
}

func (e *ConfError) Error() string {
	return fmt.Sprintf("profile %s: %s", e.Profile, e.Msg)
}

func confErrorf(profile, format string, args ...any) *ConfError {
	return &ConfError{Profile: profile, Msg: fmt.Sprintf(format, args...)}
}

// rdnControl is one compiled subject attribute rule.
type rdnControl struct {
	oid      asn1.ObjectIdentifier
	value    string
	required bool
}

// Profile is a compiled, immutable certificate profile.
type Profile struct {
	name        string
	description string

	certLevel  CertLevel
	certDomain CertDomain

	validity                time.Duration
	notBeforeMidnight       bool
	notBeforeOffset         time.Duration
	notAfterMode            NotAfterMode
	noWellDefinedExpiration bool

	signAlgos []crypto.SignAlgo

	keypairGenMode KeypairGenMode
	keypairGenSpec *crypto.Keyspec

	allowedKeyspecs []*crypto.Keyspec

	serialMode string
	serialSize int

	pathLen *int

	validationPolicy string
	rdns             []rdnControl

	extensions ExtensionsConf
	controls   map[string]ExtensionControl
}

// subject attribute short names.
var rdnTypeNames = map[string]asn1.ObjectIdentifier{
	"cn":                   x509util.OIDDNCommonName,
	"c":                    x509util.OIDDNCountry,
	"o":                    x509util.OIDDNOrganization,
	"ou":                   x509util.OIDDNOrganizationalUnit,
	"st":                   x509util.OIDDNProvince,
	"l":                    x509util.OIDDNLocality,
	"street":               x509util.OIDDNStreetAddress,
	"postalcode":           x509util.OIDDNPostalCode,
	"serialnumber":         x509util.OIDDNSerialNumber,
	"givenname":            x509util.OIDDNGivenName,
	"surname":              x509util.OIDDNSurname,
	"title":                x509util.OIDDNTitle,
	"businesscategory":     x509util.OIDDNBusinessCategory,
	"pseudonym":            x509util.OIDDNPseudonym,
	"emailaddress":         x509util.OIDDNEmailAddress,
	"dateofbirth":          x509util.OIDDNDateOfBirth,
	"countryofcitizenship": x509util.OIDDNCountryOfCitizen,
	"countryofresidence":   x509util.OIDDNCountryOfResidence,
	"jurisdictioncountry":  x509util.OIDDNJurisdictionCountry,
}

func resolveRDNType(name string) (asn1.ObjectIdentifier, error) {
	if oid, ok := rdnTypeNames[strings.ToLower(strings.TrimSpace(name))]; ok {
		return oid, nil
	}
	return parseOID(name)
}

// Initialize parses and validates a profile configuration. All
// contradictions fail here with a ConfError; issuance never sees an invalid
// profile.
func Initialize(conf *Conf) (*Profile, error) {
	if conf.Name == "" {
		return nil, confErrorf("?", "name is required")
	}

	p := &Profile{
		name:        conf.Name,
		description: conf.Description,
		extensions:  conf.Extensions,
		controls:    make(map[string]ExtensionControl),
	}

	var err error
	if p.certLevel, err = ParseCertLevel(conf.CertLevel); err != nil {
		return nil, confErrorf(conf.Name, "%v", err)
	}
	if p.certDomain, err = ParseCertDomain(conf.CertDomain); err != nil {
		return nil, confErrorf(conf.Name, "%v", err)
	}
	if p.notAfterMode, err = ParseNotAfterMode(conf.NotAfterMode); err != nil {
		return nil, confErrorf(conf.Name, "%v", err)
	}

	p.noWellDefinedExpiration = conf.NoWellDefinedExpiration
	if p.noWellDefinedExpiration {
		if p.certLevel != CertLevelEndEntity {
			return nil, confErrorf(conf.Name, "noWellDefinedExpiration is not permitted for cert level %s", p.certLevel)
		}
	} else {
		if p.validity, err = parseValidity(conf.Validity); err != nil {
			return nil, confErrorf(conf.Name, "%v", err)
		}
		if p.validity <= 0 {
			return nil, confErrorf(conf.Name, "validity must be positive")
		}
	}

	switch opt := strings.TrimSpace(conf.NotBeforeOption); opt {
	case "", "current":
	case "midnight":
		p.notBeforeMidnight = true
	default:
		offset, err := time.ParseDuration(opt)
		if err != nil {
			return nil, confErrorf(conf.Name, "invalid notBeforeOption %q", opt)
		}
		p.notBeforeOffset = offset
	}

	for _, name := range conf.SignatureAlgorithms {
		algo, err := crypto.ParseSignAlgo(name)
		if err != nil {
			return nil, confErrorf(conf.Name, "%v", err)
		}
		p.signAlgos = append(p.signAlgos, algo)
	}

	if err := p.compileKeypairGen(conf); err != nil {
		return nil, err
	}
	if err := p.compileSerial(conf); err != nil {
		return nil, err
	}

	for _, spec := range conf.AllowedKeyspecs {
		ks, err := crypto.ParseKeyspec(spec)
		if err != nil {
			return nil, confErrorf(conf.Name, "%v", err)
		}
		p.allowedKeyspecs = append(p.allowedKeyspecs, ks)
	}

	if conf.PathLen != nil {
		if !p.certLevel.IsCA() {
			return nil, confErrorf(conf.Name, "pathLen is only permitted for CA profiles")
		}
		if *conf.PathLen < 0 {
			return nil, confErrorf(conf.Name, "pathLen must not be negative")
		}
		v := *conf.PathLen
		p.pathLen = &v
	}

	if err := p.compileSubject(conf); err != nil {
		return nil, err
	}
	if err := p.compileExtensionControls(conf); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Profile) compileKeypairGen(conf *Conf) error {
	if conf.KeypairGen == nil {
		p.keypairGenMode = KeypairGenForbidden
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(conf.KeypairGen.Mode)) {
	case "inheritca", "inherit":
		p.keypairGenMode = KeypairGenInheritCA
	case "forbidden", "":
		p.keypairGenMode = KeypairGenForbidden
	case "explicit":
		p.keypairGenMode = KeypairGenExplicit
		ks, err := crypto.ParseKeyspec(conf.KeypairGen.Keyspec)
		if err != nil {
			return confErrorf(p.name, "keypairGen: %v", err)
		}
		p.keypairGenSpec = ks
	default:
		return confErrorf(p.name, "unknown keypairGen mode %q", conf.KeypairGen.Mode)
	}
	return nil
}

func (p *Profile) compileSerial(conf *Conf) error {
	if conf.SerialNumber == nil {
		p.serialMode = "ca"
		return nil
	}
	mode := strings.ToLower(strings.TrimSpace(conf.SerialNumber.Mode))
	switch mode {
	case "", "ca":
		p.serialMode = "ca"
	case "random", "pubkeyhash":
		p.serialMode = mode
		p.serialSize = conf.SerialNumber.Size
		if p.serialSize == 0 {
			p.serialSize = 16
		}
		if p.serialSize < 8 || p.serialSize > 20 {
			return confErrorf(p.name, "serial size %d out of range [8, 20]", p.serialSize)
		}
	default:
		return confErrorf(p.name, "unknown serial mode %q", conf.SerialNumber.Mode)
	}
	return nil
}

func (p *Profile) compileSubject(conf *Conf) error {
	policy := strings.TrimSpace(conf.Subject.ValidationPolicy)
	switch policy {
	case "", "domainValidated", "organizationValidated", "individualValidated":
		p.validationPolicy = policy
	default:
		return confErrorf(p.name, "unknown validation policy %q", policy)
	}
	if policy != "" && (p.certDomain != CertDomainCABForumBR || p.certLevel != CertLevelEndEntity) {
		return confErrorf(p.name, "validation policy requires a CABForumBR EndEntity profile")
	}

	seen := make(map[string]bool)
	for _, rc := range conf.Subject.RDNs {
		oid, err := resolveRDNType(rc.Type)
		if err != nil {
			return confErrorf(p.name, "subject rdn: %v", err)
		}
		key := oid.String()
		if seen[key] {
			return confErrorf(p.name, "subject rdn %s configured twice", rc.Type)
		}
		seen[key] = true
		p.rdns = append(p.rdns, rdnControl{oid: oid, value: rc.Value, required: rc.Required})
	}
	return nil
}

func (p *Profile) compileExtensionControls(conf *Conf) error {
	ext := conf.Extensions

	add := func(oid asn1.ObjectIdentifier, c ControlConf) {
		p.controls[oid.String()] = ExtensionControl{
			Critical:           c.Critical,
			Required:           c.Required,
			PermittedInRequest: c.Request,
		}
	}

	// SubjectKeyIdentifier and AuthorityKeyIdentifier are always produced.
	skiCtl := ControlConf{Required: true}
	if ext.SubjectKeyIdentifier != nil {
		skiCtl = *ext.SubjectKeyIdentifier
		skiCtl.Required = true
	}
	if skiCtl.Critical {
		return confErrorf(p.name, "subjectKeyIdentifier must not be critical")
	}
	add(x509util.OIDExtSubjectKeyID, skiCtl)

	akiCtl := ControlConf{Required: true}
	if ext.AuthorityKeyIdentifier != nil {
		akiCtl = ext.AuthorityKeyIdentifier.ControlConf
		akiCtl.Required = true
	}
	if akiCtl.Critical {
		return confErrorf(p.name, "authorityKeyIdentifier must not be critical")
	}
	add(x509util.OIDExtAuthorityKeyID, akiCtl)

	if ext.IssuerAltName != nil {
		add(x509util.OIDExtIssuerAltName, *ext.IssuerAltName)
	}
	if ext.AuthorityInfoAccess != nil {
		add(x509util.OIDExtAuthorityInfoAccess, ext.AuthorityInfoAccess.ControlConf)
	}
	if ext.CRLDistributionPoints != nil {
		add(x509util.OIDExtCRLDistributionPoints, ext.CRLDistributionPoints.ControlConf)
	}
	if ext.FreshestCRL != nil {
		add(x509util.OIDExtFreshestCRL, ext.FreshestCRL.ControlConf)
	}

	// BasicConstraints is always produced; critical per RFC 5280.
	bcCtl := ControlConf{Critical: true, Required: true}
	if ext.BasicConstraints != nil {
		bcCtl = *ext.BasicConstraints
		bcCtl.Critical = true
		bcCtl.Required = true
	}
	add(x509util.OIDExtBasicConstraints, bcCtl)

	if ext.KeyUsage != nil {
		for _, u := range ext.KeyUsage.Usages {
			if _, err := x509util.ParseKeyUsageName(u.Name); err != nil {
				return confErrorf(p.name, "%v", err)
			}
		}
		add(x509util.OIDExtKeyUsage, ext.KeyUsage.ControlConf)
	}
	if ext.ExtendedKeyUsage != nil {
		for _, u := range ext.ExtendedKeyUsage.Usages {
			if _, err := parseOID(u.OID); err != nil {
				return confErrorf(p.name, "extendedKeyUsage: %v", err)
			}
		}
		add(x509util.OIDExtExtKeyUsage, ext.ExtendedKeyUsage.ControlConf)
	}
	if ext.OCSPNoCheck != nil {
		ctl := *ext.OCSPNoCheck
		// OCSP-nocheck is only ever produced on request.
		ctl.Request = true
		ctl.Required = false
		add(x509util.OIDExtOCSPNoCheck, ctl)
	}
	if ext.SubjectAltName != nil {
		add(x509util.OIDExtSubjectAltName, *ext.SubjectAltName)
	}
	if ext.SubjectInfoAccess != nil {
		for _, m := range ext.SubjectInfoAccess.AccessMethods {
			if _, err := parseOID(m); err != nil {
				return confErrorf(p.name, "subjectInfoAccess: %v", err)
			}
		}
		ctl := ext.SubjectInfoAccess.ControlConf
		ctl.Request = true
		add(x509util.OIDExtSubjectInfoAccess, ctl)
	}
	if ext.CertificatePolicies != nil {
		if len(ext.CertificatePolicies.Policies) == 0 {
			return confErrorf(p.name, "certificatePolicies requires at least one policy")
		}
		for _, pc := range ext.CertificatePolicies.Policies {
			if _, err := parseOID(pc.OID); err != nil {
				return confErrorf(p.name, "certificatePolicies: %v", err)
			}
		}
		add(x509util.OIDExtCertificatePolicies, ext.CertificatePolicies.ControlConf)
	}
	if ext.NameConstraints != nil {
		if !p.certLevel.IsCA() {
			return confErrorf(p.name, "nameConstraints is only permitted for CA profiles")
		}
		if len(ext.NameConstraints.PermittedDNS) == 0 && len(ext.NameConstraints.ExcludedDNS) == 0 {
			return confErrorf(p.name, "nameConstraints requires at least one subtree")
		}
		ctl := ext.NameConstraints.ControlConf
		ctl.Critical = true
		add(x509util.OIDExtNameConstraints, ctl)
	}
	if ext.Admission != nil {
		if len(ext.Admission.Professions) == 0 {
			return confErrorf(p.name, "admission requires at least one profession")
		}
		for _, prof := range ext.Admission.Professions {
			for _, o := range prof.OIDs {
				if _, err := parseOID(o); err != nil {
					return confErrorf(p.name, "admission: %v", err)
				}
			}
		}
		add(x509util.OIDExtAdmission, ext.Admission.ControlConf)
	}
	if ext.QCStatements != nil {
		if len(ext.QCStatements.Statements) == 0 {
			return confErrorf(p.name, "qcStatements requires at least one statement")
		}
		for _, s := range ext.QCStatements.Statements {
			if _, err := parseOID(s.OID); err != nil {
				return confErrorf(p.name, "qcStatements: %v", err)
			}
			if s.Info != "" {
				if _, err := base64.StdEncoding.DecodeString(s.Info); err != nil {
					return confErrorf(p.name, "qcStatements info of %s is not base64", s.OID)
				}
			}
		}
		add(x509util.OIDExtQCStatements, ext.QCStatements.ControlConf)
	}
	if ext.BiometricInfo != nil {
		if len(ext.BiometricInfo.Types) == 0 {
			return confErrorf(p.name, "biometricInfo requires at least one type")
		}
		ctl := ext.BiometricInfo.ControlConf
		ctl.Request = true
		add(x509util.OIDExtBiometricInfo, ctl)
	}
	if ext.GMT0015 != nil {
		g := ext.GMT0015
		fields := map[string]string{
			x509util.OIDGMTIdentityCode.String():         g.IdentityCode,
			x509util.OIDGMTInsuranceNumber.String():      g.InsuranceNumber,
			x509util.OIDGMTICRegistrationNumber.String(): g.ICRegistrationNumber,
			x509util.OIDGMTOrganizationCode.String():     g.OrganizationCode,
			x509util.OIDGMTTaxationNumber.String():       g.TaxationNumber,
		}
		configured := g.FromRequest
		for oidStr, v := range fields {
			if v == "" && !g.FromRequest {
				continue
			}
			configured = true
			oid, _ := parseOID(oidStr)
			ctl := g.ControlConf
			ctl.Request = g.FromRequest
			add(oid, ctl)
		}
		if !configured {
			return confErrorf(p.name, "gmt0015 configured without any field")
		}
	}

	cccSeen := false
	for _, c := range ext.Constants {
		oid, err := parseOID(c.OID)
		if err != nil {
			return confErrorf(p.name, "constant extension: %v", err)
		}
		if _, err := base64.StdEncoding.DecodeString(c.Value); err != nil {
			return confErrorf(p.name, "constant extension %s value is not base64", c.OID)
		}
		if x509util.IsCCCExtension(oid) {
			if cccSeen {
				return confErrorf(p.name, "at most one CCC extension is permitted")
			}
			cccSeen = true
			if !c.Critical {
				return confErrorf(p.name, "CCC extension must be critical")
			}
		}
		if _, dup := p.controls[oid.String()]; dup {
			return confErrorf(p.name, "extension %s configured twice", c.OID)
		}
		add(oid, ControlConf{Critical: c.Critical, Required: true})
	}

	// A CABForumBR EndEntity certificate must carry its CN in the
	// SubjectAltName, so the SAN extension must be admitted by the profile.
	if p.certDomain == CertDomainCABForumBR && p.certLevel == CertLevelEndEntity {
		ctl, ok := p.controls[x509util.OIDExtSubjectAltName.String()]
		if !ok || !ctl.PermittedInRequest {
			return confErrorf(p.name, "CABForumBR EndEntity profile requires subjectAltName permitted in request")
		}
	}

	return nil
}

// Name returns the profile name.
func (p *Profile) Name() string { return p.name }

// Description returns the profile description.
func (p *Profile) Description() string { return p.description }

// CertLevel returns the certificate level.
func (p *Profile) CertLevel() CertLevel { return p.certLevel }

// CertDomain returns the certificate domain.
func (p *Profile) CertDomain() CertDomain { return p.certDomain }

// Version returns the X.509 version the profile produces (always v3).
func (p *Profile) Version() int { return 3 }

// Validity returns the maximum validity duration.
func (p *Profile) Validity() time.Duration { return p.validity }

// NotAfterMode returns the notAfter clamping mode.
func (p *Profile) NotAfterMode() NotAfterMode { return p.notAfterMode }

// HasNoWellDefinedExpiration reports the 9999-12-31 expiration flag.
func (p *Profile) HasNoWellDefinedExpiration() bool { return p.noWellDefinedExpiration }

// SignatureAlgorithms returns the ordered allowed signature algorithms.
func (p *Profile) SignatureAlgorithms() []crypto.SignAlgo { return p.signAlgos }

// KeypairGenMode returns the server-side keypair generation mode.
func (p *Profile) KeypairGenMode() KeypairGenMode { return p.keypairGenMode }

// KeypairGenKeyspec returns the explicit keyspec, if mode is explicit.
func (p *Profile) KeypairGenKeyspec() *crypto.Keyspec { return p.keypairGenSpec }

// PathLen returns the configured path length, or nil.
func (p *Profile) PathLen() *int { return p.pathLen }

// ValidationPolicy returns the BR subject validation policy ("" if none).
func (p *Profile) ValidationPolicy() string { return p.validationPolicy }

// Control returns the extension control for an OID.
func (p *Profile) Control(oid asn1.ObjectIdentifier) (ExtensionControl, bool) {
	ctl, ok := p.controls[oid.String()]
	return ctl, ok
}

// Controls returns a copy of the full control map keyed by OID string.
func (p *Profile) Controls() map[string]ExtensionControl {
	out := make(map[string]ExtensionControl, len(p.controls))
	for k, v := range p.controls {
		out[k] = v
	}
	return out
}

// NotBefore computes the granted notBefore from the requested one.
func (p *Profile) NotBefore(requested time.Time, now time.Time) time.Time {
	granted := requested
	if granted.IsZero() {
		granted = now.Add(p.notBeforeOffset)
	}
	if p.notBeforeMidnight {
		granted = time.Date(granted.Year(), granted.Month(), granted.Day(), 0, 0, 0, 0, time.UTC)
	}
	return granted.UTC()
}
