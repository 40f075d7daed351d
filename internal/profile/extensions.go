package profile

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/frestoinc/xipki/internal/caerrors"
	"github.com/frestoinc/xipki/internal/x509util"
)

// IssuerInfo is the CA state the extension engine needs: identifiers, the
// CA certificate's names, and the publication URIs.
type IssuerInfo struct {
	// SubjectKeyID is the CA certificate's subject key identifier.
	SubjectKeyID []byte

	// Subject is the CA certificate's subject DN.
	Subject pkix.RDNSequence

	// IssuerSubject is the CA certificate's issuer DN.
	IssuerSubject pkix.RDNSequence

	// SerialNumber is the CA certificate's serial.
	SerialNumber *big.Int

	// SubjectAltName is the raw extnValue of the CA certificate's
	// subjectAltName, if any.
	SubjectAltName []byte

	// Publication URIs.
	CACertURIs   []string
	OCSPURIs     []string
	CRLURIs      []string
	DeltaCRLURIs []string

	// PathLen is the CA's own path length constraint (PathLenUnlimited when
	// unconstrained).
	PathLen int
}

// GetExtensions computes the full extension set for one certificate. The
// computation order is fixed so encodings are reproducible.
func (p *Profile) GetExtensions(
	issuer *IssuerInfo,
	requestedSubject, grantedSubject pkix.RDNSequence,
	requestedExts *RequestedExtensions,
	grantedPublicKey *x509util.SubjectPublicKeyInfo,
	notBefore, notAfter time.Time,
) (*ExtensionValues, error) {
	_ = requestedSubject
	_ = notBefore
	_ = notAfter

	values := NewExtensionValues()

	addValue := func(oid asn1.ObjectIdentifier, value []byte, err error) error {
		if err != nil {
			return caerrors.Wrap(caerrors.SystemFailure, "failed to encode extension "+oid.String(), err)
		}
		ctl := p.controls[oid.String()]
		return values.Add(x509util.Extension{OID: oid, Critical: ctl.Critical, Value: value})
	}

	// 1. SubjectKeyIdentifier
	skiCtl := p.controls[x509util.OIDExtSubjectKeyID.String()]
	var ski []byte
	if reqVal, ok := requestedExts.Get(x509util.OIDExtSubjectKeyID.String()); ok && skiCtl.PermittedInRequest {
		parsed, err := x509util.ParseSubjectKeyID(reqVal)
		if err != nil {
			return nil, caerrors.Wrap(caerrors.BadCertTemplate, "invalid requested subjectKeyIdentifier", err)
		}
		ski = parsed
	} else {
		ski = x509util.SubjectKeyID(grantedPublicKey)
	}
	skiValue, err := x509util.EncodeSubjectKeyID(ski)
	if err := addValue(x509util.OIDExtSubjectKeyID, skiValue, err); err != nil {
		return nil, err
	}

	// 2. AuthorityKeyIdentifier
	var akiIssuer pkix.RDNSequence
	var akiSerial *big.Int
	if p.extensions.AuthorityKeyIdentifier != nil && p.extensions.AuthorityKeyIdentifier.IncludeIssuerSerial {
		akiIssuer = issuer.IssuerSubject
		akiSerial = issuer.SerialNumber
	}
	akiValue, err := x509util.EncodeAuthorityKeyID(issuer.SubjectKeyID, akiIssuer, akiSerial)
	if err := addValue(x509util.OIDExtAuthorityKeyID, akiValue, err); err != nil {
		return nil, err
	}

	// 3. IssuerAltName
	if ctl, ok := p.controls[x509util.OIDExtIssuerAltName.String()]; ok {
		if len(issuer.SubjectAltName) > 0 {
			if err := addValue(x509util.OIDExtIssuerAltName, issuer.SubjectAltName, nil); err != nil {
				return nil, err
			}
		} else if ctl.Required {
			return nil, confErrorf(p.name, "issuerAltName required but the CA certificate has no subjectAltName")
		}
	}

	// 4. AuthorityInfoAccess
	if conf := p.extensions.AuthorityInfoAccess; conf != nil {
		var descs []x509util.AccessDescription
		if conf.IncludeCAIssuers {
			for _, uri := range filterURIs(issuer.CACertURIs, conf.Protocols) {
				descs = append(descs, x509util.AccessDescription{
					Method: x509util.OIDAccessCAIssuers, Location: x509util.URIName(uri),
				})
			}
		}
		if conf.IncludeOCSP {
			for _, uri := range filterURIs(issuer.OCSPURIs, conf.Protocols) {
				descs = append(descs, x509util.AccessDescription{
					Method: x509util.OIDAccessOCSP, Location: x509util.URIName(uri),
				})
			}
		}
		// No reachable URI: the extension is omitted.
		if len(descs) > 0 {
			value, err := x509util.EncodeAccessDescriptions(descs)
			if err := addValue(x509util.OIDExtAuthorityInfoAccess, value, err); err != nil {
				return nil, err
			}
		}
	}

	// 5. CRLDistributionPoints / FreshestCRL
	if conf := p.extensions.CRLDistributionPoints; conf != nil {
		uris, err := checkedURIs(issuer.CRLURIs, conf.Protocols)
		if err != nil {
			return nil, err
		}
		if len(uris) > 0 {
			value, err := x509util.EncodeCRLDistributionPoints(uris)
			if err := addValue(x509util.OIDExtCRLDistributionPoints, value, err); err != nil {
				return nil, err
			}
		}
	}
	if conf := p.extensions.FreshestCRL; conf != nil {
		uris, err := checkedURIs(issuer.DeltaCRLURIs, conf.Protocols)
		if err != nil {
			return nil, err
		}
		if len(uris) > 0 {
			value, err := x509util.EncodeCRLDistributionPoints(uris)
			if err := addValue(x509util.OIDExtFreshestCRL, value, err); err != nil {
				return nil, err
			}
		}
	}

	// 6. BasicConstraints
	bcValue, err := p.basicConstraintsValue(issuer, requestedExts)
	if err != nil {
		return nil, err
	}
	if err := addValue(x509util.OIDExtBasicConstraints, bcValue, nil); err != nil {
		return nil, err
	}

	// 7. KeyUsage
	if conf := p.extensions.KeyUsage; conf != nil {
		usage, err := p.keyUsageValue(conf, requestedExts)
		if err != nil {
			return nil, err
		}
		value, err := x509util.EncodeKeyUsage(usage)
		if err := addValue(x509util.OIDExtKeyUsage, value, err); err != nil {
			return nil, err
		}
	}

	// 8. ExtendedKeyUsage
	if conf := p.extensions.ExtendedKeyUsage; conf != nil {
		oids, critical, err := p.extKeyUsageValue(conf, requestedExts)
		if err != nil {
			return nil, err
		}
		value, err := x509util.EncodeExtKeyUsage(oids)
		if err != nil {
			return nil, caerrors.Wrap(caerrors.SystemFailure, "failed to encode extendedKeyUsage", err)
		}
		if err := values.Add(x509util.Extension{OID: x509util.OIDExtExtKeyUsage, Critical: critical, Value: value}); err != nil {
			return nil, err
		}
	}

	// 9. OCSP-nocheck, only when requested.
	if ctl, ok := p.controls[x509util.OIDExtOCSPNoCheck.String()]; ok {
		if _, requested := requestedExts.Get(x509util.OIDExtOCSPNoCheck.String()); requested {
			value, err := x509util.EncodeOCSPNoCheck()
			if err != nil {
				return nil, caerrors.Wrap(caerrors.SystemFailure, "failed to encode ocspNoCheck", err)
			}
			if err := values.Add(x509util.Extension{OID: x509util.OIDExtOCSPNoCheck, Critical: ctl.Critical, Value: value}); err != nil {
				return nil, err
			}
		}
	}

	// 10. SubjectInfoAccess, from the request filtered by allowed methods.
	if conf := p.extensions.SubjectInfoAccess; conf != nil {
		if reqVal, ok := requestedExts.Get(x509util.OIDExtSubjectInfoAccess.String()); ok {
			value, err := p.subjectInfoAccessValue(conf, reqVal)
			if err != nil {
				return nil, err
			}
			if value != nil {
				if err := addValue(x509util.OIDExtSubjectInfoAccess, value, nil); err != nil {
					return nil, err
				}
			}
		}
	}

	// 11. CertificatePolicies
	if conf := p.extensions.CertificatePolicies; conf != nil {
		policies := make([]x509util.PolicyInformation, 0, len(conf.Policies))
		for _, pc := range conf.Policies {
			oid, err := parseOID(pc.OID)
			if err != nil {
				return nil, confErrorf(p.name, "certificatePolicies: %v", err)
			}
			policies = append(policies, x509util.PolicyInformation{
				Policy: oid, CPSURI: pc.CPSURI, UserNotice: pc.UserNotice,
			})
		}
		value, err := x509util.EncodeCertificatePolicies(policies)
		if err := addValue(x509util.OIDExtCertificatePolicies, value, err); err != nil {
			return nil, err
		}
	}

	// 12+. Profile-provided extras.
	if err := p.addExtraExtensions(values, requestedExts); err != nil {
		return nil, err
	}

	// Every required extension must have been produced.
	var missing []string
	for oidStr, ctl := range p.controls {
		if !ctl.Required {
			continue
		}
		if _, ok := values.Get(oidStr); !ok {
			missing = append(missing, oidStr)
		}
	}
	if len(missing) > 0 {
		return nil, confErrorf(p.name, "could not add required extensions %s", strings.Join(missing, ", "))
	}

	// CA/B BR checks run on the composed result.
	var sanValue []byte
	if san, ok := values.Get(x509util.OIDExtSubjectAltName.String()); ok {
		sanValue = san.Value
	}
	if err := p.checkBaselineRequirements(grantedSubject, sanValue); err != nil {
		return nil, err
	}

	return values, nil
}

func (p *Profile) basicConstraintsValue(issuer *IssuerInfo, requestedExts *RequestedExtensions) ([]byte, error) {
	reqVal, requested := requestedExts.Get(x509util.OIDExtBasicConstraints.String())

	if !p.certLevel.IsCA() {
		if requested {
			reqCA, _, err := x509util.ParseBasicConstraints(reqVal)
			if err != nil {
				return nil, caerrors.Wrap(caerrors.BadCertTemplate, "invalid requested basicConstraints", err)
			}
			if reqCA {
				return nil, caerrors.New(caerrors.BadCertTemplate, "request asks for a CA certificate but the profile is EndEntity")
			}
		}
		value, err := x509util.EncodeBasicConstraints(false, -1)
		if err != nil {
			return nil, caerrors.Wrap(caerrors.SystemFailure, "failed to encode basicConstraints", err)
		}
		return value, nil
	}

	pathLen := PathLenUnlimited
	if p.pathLen != nil {
		pathLen = *p.pathLen
	}

	ctl := p.controls[x509util.OIDExtBasicConstraints.String()]
	if requested && ctl.PermittedInRequest {
		reqCA, reqPathLen, err := x509util.ParseBasicConstraints(reqVal)
		if err != nil {
			return nil, caerrors.Wrap(caerrors.BadCertTemplate, "invalid requested basicConstraints", err)
		}
		if !reqCA {
			return nil, caerrors.New(caerrors.BadCertTemplate, "request asks for an EndEntity certificate but the profile is CA")
		}
		if reqPathLen >= 0 && reqPathLen < pathLen {
			pathLen = reqPathLen
		}
	}

	// The subordinate constraint must stay below the issuing CA's.
	if issuer.PathLen != PathLenUnlimited && issuer.PathLen > 0 && pathLen > issuer.PathLen-1 {
		pathLen = issuer.PathLen - 1
	}

	encodedPathLen := -1
	if pathLen != PathLenUnlimited {
		encodedPathLen = pathLen
	}
	value, err := x509util.EncodeBasicConstraints(true, encodedPathLen)
	if err != nil {
		return nil, caerrors.Wrap(caerrors.SystemFailure, "failed to encode basicConstraints", err)
	}
	return value, nil
}

func (p *Profile) keyUsageValue(conf *KeyUsageConf, requestedExts *RequestedExtensions) (x509util.KeyUsage, error) {
	var required, optional x509util.KeyUsage
	for _, item := range conf.Usages {
		bit, err := x509util.ParseKeyUsageName(item.Name)
		if err != nil {
			return 0, confErrorf(p.name, "%v", err)
		}
		if item.Required {
			required |= bit
		} else {
			optional |= bit
		}
	}

	usage := required
	ctl := p.controls[x509util.OIDExtKeyUsage.String()]
	if reqVal, ok := requestedExts.Get(x509util.OIDExtKeyUsage.String()); ok && ctl.PermittedInRequest {
		reqUsage, err := x509util.ParseKeyUsage(reqVal)
		if err != nil {
			return 0, caerrors.Wrap(caerrors.BadCertTemplate, "invalid requested keyUsage", err)
		}
		if conflict := reqUsage &^ (required | optional); conflict != 0 {
			return 0, caerrors.Errorf(caerrors.BadCertTemplate,
				"requested key usage %v is not permitted by the profile", conflict.Names())
		}
		usage |= reqUsage
	}

	if usage == 0 {
		return 0, caerrors.New(caerrors.BadCertTemplate, "no key usage granted")
	}
	return usage, nil
}

func (p *Profile) extKeyUsageValue(conf *EKUConf, requestedExts *RequestedExtensions) ([]asn1.ObjectIdentifier, bool, error) {
	var granted []asn1.ObjectIdentifier
	permitted := make(map[string]bool)

	for _, item := range conf.Usages {
		oid, err := parseOID(item.OID)
		if err != nil {
			return nil, false, confErrorf(p.name, "extendedKeyUsage: %v", err)
		}
		permitted[oid.String()] = true
		if item.Required {
			granted = append(granted, oid)
		}
	}

	ctl := p.controls[x509util.OIDExtExtKeyUsage.String()]
	if reqVal, ok := requestedExts.Get(x509util.OIDExtExtKeyUsage.String()); ok && ctl.PermittedInRequest {
		reqOIDs, err := x509util.ParseExtKeyUsage(reqVal)
		if err != nil {
			return nil, false, caerrors.Wrap(caerrors.BadCertTemplate, "invalid requested extendedKeyUsage", err)
		}
		for _, oid := range reqOIDs {
			if !permitted[oid.String()] {
				return nil, false, caerrors.Errorf(caerrors.BadCertTemplate,
					"requested extended key usage %s is not permitted by the profile", oid)
			}
			if !containsOID(granted, oid) {
				granted = append(granted, oid)
			}
		}
	}

	if len(granted) == 0 {
		return nil, false, caerrors.New(caerrors.BadCertTemplate, "no extended key usage granted")
	}

	// Criticality auto-flip: anyExtendedKeyUsage forces non-critical,
	// timeStamping forces critical.
	critical := ctl.Critical
	if containsOID(granted, x509util.OIDEKUAny) {
		critical = false
	}
	if containsOID(granted, x509util.OIDEKUTimeStamping) {
		critical = true
	}
	return granted, critical, nil
}

func (p *Profile) subjectInfoAccessValue(conf *SIAConf, reqVal []byte) ([]byte, error) {
	descs, err := x509util.ParseAccessDescriptions(reqVal)
	if err != nil {
		return nil, caerrors.Wrap(caerrors.BadCertTemplate, "invalid requested subjectInfoAccess", err)
	}

	allowed := make(map[string]bool)
	for _, m := range conf.AccessMethods {
		oid, err := parseOID(m)
		if err != nil {
			return nil, confErrorf(p.name, "subjectInfoAccess: %v", err)
		}
		allowed[oid.String()] = true
	}

	var kept []x509util.AccessDescription
	for _, d := range descs {
		if allowed[d.Method.String()] {
			kept = append(kept, d)
		}
	}
	if len(kept) == 0 {
		return nil, nil
	}
	value, err := x509util.EncodeAccessDescriptions(kept)
	if err != nil {
		return nil, caerrors.Wrap(caerrors.SystemFailure, "failed to encode subjectInfoAccess", err)
	}
	return value, nil
}

func (p *Profile) addExtraExtensions(values *ExtensionValues, requestedExts *RequestedExtensions) error {
	addValue := func(oid asn1.ObjectIdentifier, value []byte, err error) error {
		if err != nil {
			return caerrors.Wrap(caerrors.SystemFailure, "failed to encode extension "+oid.String(), err)
		}
		ctl := p.controls[oid.String()]
		return values.Add(x509util.Extension{OID: oid, Critical: ctl.Critical, Value: value})
	}

	// SubjectAltName from the request.
	if ctl, ok := p.controls[x509util.OIDExtSubjectAltName.String()]; ok && ctl.PermittedInRequest {
		if reqVal, requested := requestedExts.Get(x509util.OIDExtSubjectAltName.String()); requested {
			if _, err := x509util.ParseGeneralNames(reqVal); err != nil {
				return caerrors.Wrap(caerrors.BadCertTemplate, "invalid requested subjectAltName", err)
			}
			if err := addValue(x509util.OIDExtSubjectAltName, reqVal, nil); err != nil {
				return err
			}
		}
	}

	// NameConstraints from the profile.
	if conf := p.extensions.NameConstraints; conf != nil {
		toSubtrees := func(domains []string) []x509util.GeneralSubtree {
			subtrees := make([]x509util.GeneralSubtree, 0, len(domains))
			for _, d := range domains {
				subtrees = append(subtrees, x509util.GeneralSubtree{Base: x509util.DNSName(d)})
			}
			return subtrees
		}
		value, err := x509util.EncodeNameConstraints(toSubtrees(conf.PermittedDNS), toSubtrees(conf.ExcludedDNS))
		if err := addValue(x509util.OIDExtNameConstraints, value, err); err != nil {
			return err
		}
	}

	// Admission from the profile.
	if conf := p.extensions.Admission; conf != nil {
		professions := make([]x509util.AdmissionProfession, 0, len(conf.Professions))
		for _, prof := range conf.Professions {
			entry := x509util.AdmissionProfession{
				ProfessionItems:    prof.Items,
				RegistrationNumber: prof.RegistrationNumber,
			}
			for _, o := range prof.OIDs {
				oid, err := parseOID(o)
				if err != nil {
					return confErrorf(p.name, "admission: %v", err)
				}
				entry.ProfessionOIDs = append(entry.ProfessionOIDs, oid)
			}
			professions = append(professions, entry)
		}
		value, err := x509util.EncodeAdmission(professions)
		if err := addValue(x509util.OIDExtAdmission, value, err); err != nil {
			return err
		}
	}

	// QCStatements from the profile.
	if conf := p.extensions.QCStatements; conf != nil {
		statements := make([]x509util.QCStatement, 0, len(conf.Statements))
		for _, s := range conf.Statements {
			oid, err := parseOID(s.OID)
			if err != nil {
				return confErrorf(p.name, "qcStatements: %v", err)
			}
			entry := x509util.QCStatement{ID: oid}
			if s.Info != "" {
				info, err := base64.StdEncoding.DecodeString(s.Info)
				if err != nil {
					return confErrorf(p.name, "qcStatements info of %s is not base64", s.OID)
				}
				entry.Info = info
			}
			statements = append(statements, entry)
		}
		value, err := x509util.EncodeQCStatements(statements)
		if err := addValue(x509util.OIDExtQCStatements, value, err); err != nil {
			return err
		}
	}

	// BiometricInfo: the request supplies the encoded data, the profile
	// admits it as-is; the requested types are not compared with the
	// profile's list, here or in the QA checker.
	if _, ok := p.controls[x509util.OIDExtBiometricInfo.String()]; ok {
		if reqVal, requested := requestedExts.Get(x509util.OIDExtBiometricInfo.String()); requested {
			if err := addValue(x509util.OIDExtBiometricInfo, reqVal, nil); err != nil {
				return err
			}
		}
	}

	// GM/T 0015 identity extensions.
	if conf := p.extensions.GMT0015; conf != nil {
		fields := []struct {
			oid   asn1.ObjectIdentifier
			value string
		}{
			{x509util.OIDGMTIdentityCode, conf.IdentityCode},
			{x509util.OIDGMTInsuranceNumber, conf.InsuranceNumber},
			{x509util.OIDGMTICRegistrationNumber, conf.ICRegistrationNumber},
			{x509util.OIDGMTOrganizationCode, conf.OrganizationCode},
			{x509util.OIDGMTTaxationNumber, conf.TaxationNumber},
		}
		for _, f := range fields {
			value := f.value
			if value == "" && conf.FromRequest {
				if reqVal, ok := requestedExts.Get(f.oid.String()); ok {
					parsed, err := x509util.ParseUTF8String(reqVal)
					if err != nil {
						return caerrors.Wrap(caerrors.BadCertTemplate, "invalid requested "+f.oid.String(), err)
					}
					value = parsed
				}
			}
			if value == "" {
				continue
			}
			encoded, err := x509util.EncodeUTF8String(value)
			if err := addValue(f.oid, encoded, err); err != nil {
				return err
			}
		}
	}

	// Constant extensions carry precomputed bytes.
	for _, c := range p.extensions.Constants {
		oid, err := parseOID(c.OID)
		if err != nil {
			return confErrorf(p.name, "constant extension: %v", err)
		}
		value, err := base64.StdEncoding.DecodeString(c.Value)
		if err != nil {
			return confErrorf(p.name, "constant extension %s value is not base64", c.OID)
		}
		if err := values.Add(x509util.Extension{OID: oid, Critical: c.Critical, Value: value}); err != nil {
			return err
		}
	}

	return nil
}

func containsOID(oids []asn1.ObjectIdentifier, oid asn1.ObjectIdentifier) bool {
	for _, o := range oids {
		if o.Equal(oid) {
			return true
		}
	}
	return false
}

// filterURIs keeps the URIs whose scheme is whitelisted. An empty whitelist
// permits http and https.
func filterURIs(uris, protocols []string) []string {
	allowed := map[string]bool{"http": true, "https": true}
	if len(protocols) > 0 {
		allowed = make(map[string]bool, len(protocols))
		for _, proto := range protocols {
			allowed[strings.ToLower(proto)] = true
		}
	}

	var kept []string
	for _, raw := range uris {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		if allowed[strings.ToLower(u.Scheme)] {
			kept = append(kept, raw)
		}
	}
	return kept
}

// checkedURIs is filterURIs but rejects a URI with a non-whitelisted scheme
// instead of dropping it, and its empty whitelist also permits ldap; CRL
// distribution points must not silently lose configured locations.
func checkedURIs(uris, protocols []string) ([]string, error) {
	allowed := map[string]bool{"http": true, "https": true, "ldap": true}
	if len(protocols) > 0 {
		allowed = make(map[string]bool, len(protocols))
		for _, proto := range protocols {
			allowed[strings.ToLower(proto)] = true
		}
	}

	var kept []string
	for _, raw := range uris {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, caerrors.Errorf(caerrors.SystemFailure, "invalid CRL URI %q", raw)
		}
		if !allowed[strings.ToLower(u.Scheme)] {
			return nil, caerrors.Errorf(caerrors.SystemFailure, "CRL URI scheme %q is not permitted by the profile", u.Scheme)
		}
		kept = append(kept, raw)
	}
	return kept, nil
}
