package profile

import (
	"crypto/x509/pkix"
	"fmt"
	"strings"

	"github.com/frestoinc/xipki/internal/caerrors"
	"github.com/frestoinc/xipki/internal/x509util"
)

// SubjectInfo is the result of subject normalisation: the granted subject
// and an optional warning describing non-fatal drift from the request.
type SubjectInfo struct {
	Granted pkix.RDNSequence
	Warning string
}

// countryAttributes are the DN attributes whose values must be ISO 3166
// country codes.
var countryAttributes = []struct {
	oid  string
	name string
}{
	{x509util.OIDDNCountry.String(), "C"},
	{x509util.OIDDNCountryOfCitizen.String(), "countryOfCitizenship"},
	{x509util.OIDDNCountryOfResidence.String(), "countryOfResidence"},
	{x509util.OIDDNJurisdictionCountry.String(), "jurisdictionCountry"},
}

// GetSubject normalises the requested subject against the profile's DN
// template: fixed values override, configured order is applied, unknown
// attributes are dropped with a warning, missing required ones fail.
func (p *Profile) GetSubject(requested pkix.RDNSequence) (*SubjectInfo, error) {
	requested = x509util.RemoveEmptyRDNs(requested)

	if err := p.checkCountryCodes(requested); err != nil {
		return nil, err
	}

	// No template: pass the requested subject through unchanged.
	if len(p.rdns) == 0 {
		return &SubjectInfo{Granted: requested}, nil
	}

	var granted pkix.RDNSequence
	var warnings []string
	used := make(map[string]bool)

	for _, rc := range p.rdns {
		key := rc.oid.String()
		used[key] = true

		if rc.value != "" {
			reqVals := x509util.AttributeValues(requested, rc.oid)
			if len(reqVals) > 0 && reqVals[0] != rc.value {
				warnings = append(warnings, fmt.Sprintf("attribute %s replaced by profile value", key))
			}
			granted = x509util.AppendAttribute(granted, rc.oid, rc.value)
			continue
		}

		values := x509util.AttributeValues(requested, rc.oid)
		if len(values) == 0 {
			if rc.required {
				return nil, caerrors.Errorf(caerrors.BadCertTemplate, "required subject attribute %s is missing", key)
			}
			continue
		}
		for _, v := range values {
			granted = x509util.AppendAttribute(granted, rc.oid, strings.TrimSpace(v))
		}
	}

	// Attributes present in the request but absent from the template are not
	// granted.
	for _, rdn := range requested {
		for _, atv := range rdn {
			if !used[atv.Type.String()] {
				warnings = append(warnings, fmt.Sprintf("attribute %s removed", atv.Type.String()))
			}
		}
	}

	info := &SubjectInfo{Granted: granted}
	if len(warnings) > 0 {
		info.Warning = strings.Join(warnings, "; ")
	}
	return info, nil
}

func (p *Profile) checkCountryCodes(rdns pkix.RDNSequence) error {
	for _, attr := range countryAttributes {
		oid, _ := parseOID(attr.oid)
		for _, v := range x509util.AttributeValues(rdns, oid) {
			code := strings.ToUpper(strings.TrimSpace(v))
			if !IsValidCountryCode(code) {
				return caerrors.Errorf(caerrors.BadCertTemplate, "invalid country code %q in %s", v, attr.name)
			}
		}
	}
	return nil
}
