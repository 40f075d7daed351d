package profile

import (
	"crypto/x509/pkix"
	"net"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"

	"github.com/frestoinc/xipki/internal/caerrors"
	"github.com/frestoinc/xipki/internal/x509util"
)

// checkBaselineRequirements applies the CA/B BR checks to a composed
// EndEntity certificate: SAN name hygiene, CN-in-SAN, and the subject DN
// rules of the configured validation policy.
func (p *Profile) checkBaselineRequirements(granted pkix.RDNSequence, sanValue []byte) error {
	if p.certDomain != CertDomainCABForumBR || p.certLevel != CertLevelEndEntity {
		return nil
	}

	if len(sanValue) == 0 {
		return caerrors.New(caerrors.BadCertTemplate, "subjectAltName is required by the baseline requirements")
	}

	names, err := x509util.ParseGeneralNames(sanValue)
	if err != nil {
		return caerrors.Wrap(caerrors.BadCertTemplate, "invalid subjectAltName", err)
	}

	var dnsNames []string
	var ips []net.IP
	for _, gn := range names {
		switch gn.Tag {
		case x509util.GeneralNameDNS:
			name := string(gn.Value)
			if err := checkBRDNSName(name); err != nil {
				return err
			}
			dnsNames = append(dnsNames, name)
		case x509util.GeneralNameIP:
			ips = append(ips, net.IP(gn.Value))
		}
	}

	if cn := x509util.FirstAttributeValue(granted, x509util.OIDDNCommonName); cn != "" {
		if !cnInSAN(cn, dnsNames, ips) {
			return caerrors.Errorf(caerrors.BadCertTemplate, "commonName %q is not present in subjectAltName", cn)
		}
	}

	return p.checkBRSubject(granted)
}

// checkBRDNSName validates one SAN dNSName: no underscores, valid IDNA
// label syntax, and a registrable name under an ICANN public suffix.
func checkBRDNSName(name string) error {
	if strings.Contains(name, "_") {
		return caerrors.Errorf(caerrors.BadCertTemplate, "dNSName %q contains an underscore", name)
	}

	checkable := name
	wildcard := strings.HasPrefix(name, "*.")
	if wildcard {
		checkable = name[2:]
	}

	ascii, err := idna.Lookup.ToASCII(checkable)
	if err != nil {
		return caerrors.Errorf(caerrors.BadCertTemplate, "dNSName %q is not a valid DNS name", name)
	}

	suffix, icann := publicsuffix.PublicSuffix(strings.ToLower(ascii))
	if !icann {
		return caerrors.Errorf(caerrors.BadCertTemplate, "dNSName %q is not under a public suffix", name)
	}
	if strings.EqualFold(ascii, suffix) {
		return caerrors.Errorf(caerrors.BadCertTemplate, "dNSName %q is a bare public suffix", name)
	}
	return nil
}

// cnInSAN reports whether the CN matches a SAN dNSName or a literal IP
// address (dotted IPv4 or any textual IPv6 form).
func cnInSAN(cn string, dnsNames []string, ips []net.IP) bool {
	for _, d := range dnsNames {
		if strings.EqualFold(cn, d) {
			return true
		}
	}
	if cnIP := net.ParseIP(cn); cnIP != nil {
		for _, ip := range ips {
			if cnIP.Equal(ip) {
				return true
			}
		}
	}
	return false
}

// checkBRSubject applies the per-policy DN attribute rules.
func (p *Profile) checkBRSubject(granted pkix.RDNSequence) error {
	has := func(oid string) bool {
		parsed, _ := parseOID(oid)
		return x509util.HasAttribute(granted, parsed)
	}

	hasO := has(x509util.OIDDNOrganization.String())
	hasGivenName := has(x509util.OIDDNGivenName.String())
	hasSurname := has(x509util.OIDDNSurname.String())
	hasC := has(x509util.OIDDNCountry.String())
	hasL := has(x509util.OIDDNLocality.String())
	hasST := has(x509util.OIDDNProvince.String())
	hasStreet := has(x509util.OIDDNStreetAddress.String())
	hasPostal := has(x509util.OIDDNPostalCode.String())

	prohibited := func(present bool, attr string) error {
		if present {
			return caerrors.Errorf(caerrors.BadCertTemplate,
				"subject attribute %s is prohibited under the %s policy", attr, p.validationPolicy)
		}
		return nil
	}
	required := func(present bool, attr string) error {
		if !present {
			return caerrors.Errorf(caerrors.BadCertTemplate,
				"subject attribute %s is required under the %s policy", attr, p.validationPolicy)
		}
		return nil
	}

	switch p.validationPolicy {
	case "domainValidated":
		checks := []error{
			prohibited(hasO, "O"),
			prohibited(hasGivenName, "givenName"),
			prohibited(hasSurname, "surname"),
			prohibited(hasStreet, "street"),
			prohibited(hasL, "L"),
			prohibited(hasST, "ST"),
			prohibited(hasPostal, "postalCode"),
		}
		for _, err := range checks {
			if err != nil {
				return err
			}
		}

	case "organizationValidated":
		checks := []error{
			required(hasO, "O"),
			required(hasC, "C"),
			prohibited(hasGivenName, "givenName"),
			prohibited(hasSurname, "surname"),
		}
		for _, err := range checks {
			if err != nil {
				return err
			}
		}
		if !hasL && !hasST {
			return caerrors.New(caerrors.BadCertTemplate,
				"either L or ST is required under the organizationValidated policy")
		}

	case "individualValidated":
		checks := []error{
			required(hasGivenName, "givenName"),
			required(hasSurname, "surname"),
			required(hasC, "C"),
			prohibited(hasO, "O"),
		}
		for _, err := range checks {
			if err != nil {
				return err
			}
		}
		if !hasL && !hasST {
			return caerrors.New(caerrors.BadCertTemplate,
				"either L or ST is required under the individualValidated policy")
		}
	}

	return nil
}
