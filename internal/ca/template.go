package ca

import (
	"crypto/x509/pkix"
	"time"

	"github.com/frestoinc/xipki/internal/caerrors"
	"github.com/frestoinc/xipki/internal/crypto"
	"github.com/frestoinc/xipki/internal/kpgen"
	"github.com/frestoinc/xipki/internal/profile"
	"github.com/frestoinc/xipki/internal/x509util"
)

// backdateTolerance absorbs clients with inaccurate clocks: a requested
// notBefore may lie at most this far in the past.
const backdateTolerance = 10 * time.Minute

// CertTemplateData is one issuance request as the CA core consumes it.
type CertTemplateData struct {
	// Subject is the requested subject DN.
	Subject pkix.RDNSequence

	// PublicKey is the requested SubjectPublicKeyInfo DER. Nil together with
	// ServerKeygen=false is rejected.
	PublicKey []byte

	// ServerKeygen asks the CA to generate the subject key.
	ServerKeygen bool

	// Extensions are the requested extensions.
	Extensions []x509util.Extension

	// NotBefore / NotAfter are optional hints.
	NotBefore time.Time
	NotAfter  time.Time

	// ProfileName selects the certificate profile.
	ProfileName string

	// ForCrossCert marks a cross-certificate request: the requested subject
	// is granted verbatim.
	ForCrossCert bool

	// CertReqID correlates the response with a multi-request message.
	CertReqID string
}

// GrantedCertTemplate is the reconciled, final to-be-signed template.
type GrantedCertTemplate struct {
	RequestedSubject pkix.RDNSequence
	GrantedSubject   pkix.RDNSequence

	PublicKey *x509util.SubjectPublicKeyInfo

	// PrivateKey is the PKCS#8 DER of a server-generated key, nil otherwise.
	PrivateKey []byte

	NotBefore time.Time
	NotAfter  time.Time

	Profile *profile.Profile
	Signer  *crypto.ConcurrentSigner

	Extensions *profile.RequestedExtensions

	CertReqID string
	Warning   string
}

// templateBuilder reconciles request, profile and CA state. The check order
// fixes error precedence.
type templateBuilder struct {
	caInfo *CaInfo
	nowFn  func() time.Time
}

func newTemplateBuilder(caInfo *CaInfo) *templateBuilder {
	return &templateBuilder{caInfo: caInfo, nowFn: time.Now}
}

func (b *templateBuilder) create(
	prof *profile.Profile, data *CertTemplateData, generators []kpgen.Generator,
) (*GrantedCertTemplate, error) {
	caInfo := b.caInfo

	if caInfo.RevocationInfo != nil {
		return nil, caerrors.New(caerrors.NotPermitted, "CA is revoked")
	}
	if prof == nil {
		return nil, caerrors.Errorf(caerrors.UnknownCertProfile, "unknown cert profile %s", data.ProfileName)
	}

	signer := caInfo.Signers.ForAlgorithms(prof.SignatureAlgorithms())
	if signer == nil {
		return nil, caerrors.New(caerrors.SystemFailure,
			"CA does not support any signature algorithm restricted by the cert profile")
	}

	if prof.Version() != 3 {
		return nil, caerrors.Errorf(caerrors.SystemFailure, "unknown cert version %d", prof.Version())
	}

	switch prof.CertLevel() {
	case profile.CertLevelRootCA:
		return nil, caerrors.New(caerrors.NotPermitted, "CA is not allowed to generate Root CA certificate")
	case profile.CertLevelSubCA, profile.CertLevelCross:
		reqPathLen := prof.PathLen()
		caPathLen := caInfo.PathLen()
		allowed := (reqPathLen == nil && caPathLen == profile.PathLenUnlimited) ||
			(reqPathLen != nil && *reqPathLen < caPathLen)
		if !allowed {
			return nil, caerrors.New(caerrors.NotPermitted, "invalid BasicConstraints.pathLenConstraint")
		}
	}

	requestedSubject := data.Subject
	if !data.ForCrossCert {
		requestedSubject = x509util.RemoveEmptyRDNs(requestedSubject)
	}

	now := b.nowFn().UTC()
	grantedNotBefore := prof.NotBefore(data.NotBefore, now)
	if earliest := now.Add(-backdateTolerance); grantedNotBefore.Before(earliest) {
		grantedNotBefore = earliest
	}
	if grantedNotBefore.After(caInfo.NoNewCertificateAfter) {
		return nil, caerrors.Errorf(caerrors.NotPermitted,
			"CA is not permitted to issue certificate after %s", caInfo.NoNewCertificateAfter.Format(time.RFC3339))
	}
	if grantedNotBefore.Before(caInfo.NotBefore()) {
		grantedNotBefore = caInfo.NotBefore()
	}

	var warnings []string

	grantedPublicKey, privateKey, err := b.resolvePublicKey(prof, data, generators)
	if err != nil {
		return nil, err
	}

	grantedSubject := requestedSubject
	if !data.ForCrossCert {
		subjectInfo, err := prof.GetSubject(requestedSubject)
		if err != nil {
			return nil, err
		}
		grantedSubject = subjectInfo.Granted
		if subjectInfo.Warning != "" {
			warnings = append(warnings, subjectInfo.Warning)
		}
	}

	if x509util.CanonicalizeRDNSequence(grantedSubject) == caInfo.C14nSubject() {
		return nil, caerrors.New(caerrors.AlreadyIssued, "certificate with the same subject as CA is not allowed")
	}

	grantedNotAfter, notAfterWarning, err := b.resolveNotAfter(prof, data, grantedNotBefore)
	if err != nil {
		return nil, err
	}
	if notAfterWarning != "" {
		warnings = append(warnings, notAfterWarning)
	}

	gct := &GrantedCertTemplate{
		RequestedSubject: requestedSubject,
		GrantedSubject:   grantedSubject,
		PublicKey:        grantedPublicKey,
		PrivateKey:       privateKey,
		NotBefore:        grantedNotBefore,
		NotAfter:         grantedNotAfter,
		Profile:          prof,
		Signer:           signer,
		Extensions:       profile.NewRequestedExtensions(data.Extensions),
		CertReqID:        data.CertReqID,
	}
	if len(warnings) > 0 {
		gct.Warning = joinWarnings(warnings)
	}
	return gct, nil
}

func (b *templateBuilder) resolvePublicKey(
	prof *profile.Profile, data *CertTemplateData, generators []kpgen.Generator,
) (*x509util.SubjectPublicKeyInfo, []byte, error) {
	if len(data.PublicKey) > 0 {
		spki, err := x509util.ParseSPKI(data.PublicKey)
		if err != nil {
			return nil, nil, caerrors.Wrap(caerrors.BadCertTemplate, "invalid SubjectPublicKeyInfo", err)
		}
		granted, err := prof.CheckPublicKey(spki)
		if err != nil {
			return nil, nil, err
		}
		return granted, nil, nil
	}

	if !data.ServerKeygen {
		return nil, nil, caerrors.New(caerrors.BadCertTemplate, "no public key is specified")
	}

	var keyspec *crypto.Keyspec
	switch prof.KeypairGenMode() {
	case profile.KeypairGenForbidden:
		return nil, nil, caerrors.New(caerrors.BadCertTemplate, "no public key is specified")
	case profile.KeypairGenInheritCA:
		keyspec = b.caInfo.Keyspec()
	case profile.KeypairGenExplicit:
		keyspec = prof.KeypairGenKeyspec()
	}

	generator := kpgen.Select(generators, keyspec)
	if generator == nil {
		return nil, nil, caerrors.Errorf(caerrors.SystemFailure, "found no keypair generator for keyspec %s", keyspec)
	}

	keypair, err := generator.Generate(keyspec)
	if err != nil {
		return nil, nil, caerrors.Wrap(caerrors.SystemFailure,
			"error generating keypair "+keyspec.String()+" using generator "+generator.Name(), err)
	}

	return keypair.PublicKey, keypair.PrivateKeyDER, nil
}

// resolveNotAfter computes the granted notAfter, applying the profile
// validity, the 9999-12-31 ceiling, and the (caMode, profileMode) matrix.
func (b *templateBuilder) resolveNotAfter(
	prof *profile.Profile, data *CertTemplateData, grantedNotBefore time.Time,
) (time.Time, string, error) {
	if prof.HasNoWellDefinedExpiration() {
		return profile.MaxCertTime, "", nil
	}

	caInfo := b.caInfo

	validity := prof.Validity()
	if validity == 0 || validity > caInfo.MaxValidity {
		if caInfo.MaxValidity > 0 {
			validity = caInfo.MaxValidity
		}
	}

	maxNotAfter := grantedNotBefore.Add(validity)
	if maxNotAfter.After(profile.MaxCertTime) {
		maxNotAfter = profile.MaxCertTime
	}

	granted := data.NotAfter
	warning := ""
	if !granted.IsZero() {
		if granted.After(maxNotAfter) {
			granted = maxNotAfter
			warning = "notAfter modified"
		}
	} else {
		granted = maxNotAfter
	}

	if granted.After(caInfo.NotAfter()) {
		profileMode := prof.NotAfterMode()

		if profileMode == profile.NotAfterStrict {
			return time.Time{}, "", caerrors.New(caerrors.NotPermitted,
				"notAfter outside of CA's validity is not permitted by the CertProfile")
		}

		switch caInfo.ValidityMode {
		case ValidityStrict:
			return time.Time{}, "", caerrors.New(caerrors.NotPermitted,
				"notAfter outside of CA's validity is not permitted by the CA")
		case ValidityCutoff:
			granted = caInfo.NotAfter()
		case ValidityLax:
			if profileMode == profile.NotAfterCutoff {
				granted = caInfo.NotAfter()
			}
		}
	}

	return granted.UTC(), warning, nil
}

func joinWarnings(warnings []string) string {
	out := warnings[0]
	for _, w := range warnings[1:] {
		out += ", " + w
	}
	return out
}
