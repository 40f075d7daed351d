// Package x509util provides the ASN.1 helpers shared by the CA issuance core
// and the QA extension checker: OID definitions, distinguished-name
// canonicalisation, SubjectPublicKeyInfo normalisation, and encoders for the
// extension subset the profile engine produces.
//
// It deliberately does not attempt to be a general ASN.1 library.
package x509util

import (
	"encoding/asn1"
)

// Standard certificate extension OIDs.
var (
	OIDExtSubjectKeyID          = asn1.ObjectIdentifier{2, 5, 29, 14}
	OIDExtKeyUsage              = asn1.ObjectIdentifier{2, 5, 29, 15}
	OIDExtSubjectAltName        = asn1.ObjectIdentifier{2, 5, 29, 17}
	OIDExtIssuerAltName         = asn1.ObjectIdentifier{2, 5, 29, 18}
	OIDExtBasicConstraints      = asn1.ObjectIdentifier{2, 5, 29, 19}
	OIDExtNameConstraints       = asn1.ObjectIdentifier{2, 5, 29, 30}
	OIDExtCRLDistributionPoints = asn1.ObjectIdentifier{2, 5, 29, 31}
	OIDExtCertificatePolicies   = asn1.ObjectIdentifier{2, 5, 29, 32}
	OIDExtPolicyMappings        = asn1.ObjectIdentifier{2, 5, 29, 33}
	OIDExtAuthorityKeyID        = asn1.ObjectIdentifier{2, 5, 29, 35}
	OIDExtPolicyConstraints     = asn1.ObjectIdentifier{2, 5, 29, 36}
	OIDExtExtKeyUsage           = asn1.ObjectIdentifier{2, 5, 29, 37}
	OIDExtFreshestCRL           = asn1.ObjectIdentifier{2, 5, 29, 46}
	OIDExtInhibitAnyPolicy      = asn1.ObjectIdentifier{2, 5, 29, 54}

	OIDExtAuthorityInfoAccess = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 1}
	OIDExtSubjectInfoAccess   = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 11}
	OIDExtBiometricInfo       = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 2}
	OIDExtQCStatements        = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 3}
	OIDExtOCSPNoCheck         = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 1, 5}

	// ISIS-MTT admission extension.
	OIDExtAdmission = asn1.ObjectIdentifier{1, 3, 36, 8, 3, 3}

	// CRL entry extensions.
	OIDExtCRLNumber      = asn1.ObjectIdentifier{2, 5, 29, 20}
	OIDExtCRLReason      = asn1.ObjectIdentifier{2, 5, 29, 21}
	OIDExtInvalidityDate = asn1.ObjectIdentifier{2, 5, 29, 24}
)

// Access method OIDs for AIA / SIA.
var (
	OIDAccessOCSP       = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 1}
	OIDAccessCAIssuers  = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 2}
	OIDAccessTimeStamp  = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 3}
	OIDAccessCARepo     = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 5}
	OIDAccessRPKIManif  = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 10}
	OIDAccessSignedObj  = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 11}
	OIDAccessRPKINotify = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 13}
)

// Extended key usage OIDs.
var (
	OIDEKUAny             = asn1.ObjectIdentifier{2, 5, 29, 37, 0}
	OIDEKUServerAuth      = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 1}
	OIDEKUClientAuth      = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 2}
	OIDEKUCodeSigning     = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 3}
	OIDEKUEmailProtection = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 4}
	OIDEKUTimeStamping    = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 8}
	OIDEKUOCSPSigning     = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 9}
)

// Certificate policy OIDs of the CA/Browser Forum baseline requirements.
var (
	OIDCabDomainValidated       = asn1.ObjectIdentifier{2, 23, 140, 1, 2, 1}
	OIDCabOrganizationValidated = asn1.ObjectIdentifier{2, 23, 140, 1, 2, 2}
	OIDCabIndividualValidated   = asn1.ObjectIdentifier{2, 23, 140, 1, 2, 3}
)

// Public key algorithm OIDs.
var (
	OIDKeyRSA     = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	OIDKeyEC      = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	OIDKeyDSA     = asn1.ObjectIdentifier{1, 2, 840, 10040, 4, 1}
	OIDKeyX25519  = asn1.ObjectIdentifier{1, 3, 101, 110}
	OIDKeyX448    = asn1.ObjectIdentifier{1, 3, 101, 111}
	OIDKeyEd25519 = asn1.ObjectIdentifier{1, 3, 101, 112}
	OIDKeyEd448   = asn1.ObjectIdentifier{1, 3, 101, 113}
)

// Named curve OIDs.
var (
	OIDCurveP256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}
	OIDCurveP384 = asn1.ObjectIdentifier{1, 3, 132, 0, 34}
	OIDCurveP521 = asn1.ObjectIdentifier{1, 3, 132, 0, 35}
)

// DN attribute type OIDs.
var (
	OIDDNCommonName          = asn1.ObjectIdentifier{2, 5, 4, 3}
	OIDDNSurname             = asn1.ObjectIdentifier{2, 5, 4, 4}
	OIDDNSerialNumber        = asn1.ObjectIdentifier{2, 5, 4, 5}
	OIDDNCountry             = asn1.ObjectIdentifier{2, 5, 4, 6}
	OIDDNLocality            = asn1.ObjectIdentifier{2, 5, 4, 7}
	OIDDNProvince            = asn1.ObjectIdentifier{2, 5, 4, 8}
	OIDDNStreetAddress       = asn1.ObjectIdentifier{2, 5, 4, 9}
	OIDDNOrganization        = asn1.ObjectIdentifier{2, 5, 4, 10}
	OIDDNOrganizationalUnit  = asn1.ObjectIdentifier{2, 5, 4, 11}
	OIDDNTitle               = asn1.ObjectIdentifier{2, 5, 4, 12}
	OIDDNBusinessCategory    = asn1.ObjectIdentifier{2, 5, 4, 15}
	OIDDNPostalCode          = asn1.ObjectIdentifier{2, 5, 4, 17}
	OIDDNGivenName           = asn1.ObjectIdentifier{2, 5, 4, 42}
	OIDDNPseudonym           = asn1.ObjectIdentifier{2, 5, 4, 65}
	OIDDNCountryOfCitizen    = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 9, 4}
	OIDDNCountryOfResidence  = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 9, 5}
	OIDDNDateOfBirth         = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 9, 1}
	OIDDNEmailAddress        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}
	OIDDNJurisdictionCountry = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 60, 2, 1, 3}
)

// GM/T 0015 identity extension OIDs (Chinese cryptographic industry
// standard).
var (
	OIDGMTIdentityCode         = asn1.ObjectIdentifier{1, 2, 156, 10260, 4, 1, 1}
	OIDGMTInsuranceNumber      = asn1.ObjectIdentifier{1, 2, 156, 10260, 4, 1, 2}
	OIDGMTICRegistrationNumber = asn1.ObjectIdentifier{1, 2, 156, 10260, 4, 1, 3}
	OIDGMTOrganizationCode     = asn1.ObjectIdentifier{1, 2, 156, 10260, 4, 1, 4}
	OIDGMTTaxationNumber       = asn1.ObjectIdentifier{1, 2, 156, 10260, 4, 1, 5}
)

// CCC (certificate transparency for vehicular PKI) extension arc. At most one
// CCC extension may appear in a certificate and it must be critical.
var (
	OIDCCCSimplified  = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 41577, 7, 1}
	OIDCCCInstanceCA  = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 41577, 7, 2}
	OIDCCCVehicleCert = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 41577, 7, 3}
)

// IsCCCExtension reports whether oid belongs to the CCC arc.
func IsCCCExtension(oid asn1.ObjectIdentifier) bool {
	prefix := asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 41577, 7}
	if len(oid) != len(prefix)+1 {
		return false
	}
	for i := range prefix {
		if oid[i] != prefix[i] {
			return false
		}
	}
	return true
}

// OIDEqual compares two OIDs for equality.
func OIDEqual(a, b asn1.ObjectIdentifier) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
