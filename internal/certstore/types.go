// Package certstore implements the authoritative certificate and revocation
// store on an embedded bbolt database. Buckets model the logical tables;
// one bbolt transaction is the atomic boundary of one store operation.
package certstore

import (
	"fmt"
	"strings"
	"time"
)

// CrlReason is an RFC 5280 CRL reason code.
type CrlReason int

const (
	ReasonUnspecified          CrlReason = 0
	ReasonKeyCompromise        CrlReason = 1
	ReasonCACompromise         CrlReason = 2
	ReasonAffiliationChanged   CrlReason = 3
	ReasonSuperseded           CrlReason = 4
	ReasonCessationOfOperation CrlReason = 5
	ReasonCertificateHold      CrlReason = 6
	ReasonRemoveFromCRL        CrlReason = 8
	ReasonPrivilegeWithdrawn   CrlReason = 9
	ReasonAACompromise         CrlReason = 10
)

// String returns the RFC name of the reason.
func (r CrlReason) String() string {
	switch r {
	case ReasonUnspecified:
		return "unspecified"
	case ReasonKeyCompromise:
		return "keyCompromise"
	case ReasonCACompromise:
		return "caCompromise"
	case ReasonAffiliationChanged:
		return "affiliationChanged"
	case ReasonSuperseded:
		return "superseded"
	case ReasonCessationOfOperation:
		return "cessationOfOperation"
	case ReasonCertificateHold:
		return "certificateHold"
	case ReasonRemoveFromCRL:
		return "removeFromCRL"
	case ReasonPrivilegeWithdrawn:
		return "privilegeWithdrawn"
	case ReasonAACompromise:
		return "aaCompromise"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// ParseCrlReason resolves a reason name.
func ParseCrlReason(s string) (CrlReason, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unspecified":
		return ReasonUnspecified, nil
	case "keycompromise":
		return ReasonKeyCompromise, nil
	case "cacompromise":
		return ReasonCACompromise, nil
	case "affiliationchanged":
		return ReasonAffiliationChanged, nil
	case "superseded":
		return ReasonSuperseded, nil
	case "cessationofoperation", "cessation":
		return ReasonCessationOfOperation, nil
	case "certificatehold", "hold":
		return ReasonCertificateHold, nil
	case "removefromcrl":
		return ReasonRemoveFromCRL, nil
	case "privilegewithdrawn":
		return ReasonPrivilegeWithdrawn, nil
	case "aacompromise":
		return ReasonAACompromise, nil
	default:
		return 0, fmt.Errorf("unknown CRL reason %q", s)
	}
}

// RevocationInfo describes one revocation: the reason, when it happened, and
// the optional invalidity date.
type RevocationInfo struct {
	Reason         CrlReason  `json:"reason"`
	RevocationTime time.Time  `json:"revocationTime"`
	InvalidityTime *time.Time `json:"invalidityTime,omitempty"`
}

// CertRecord is one row of the cert table.
type CertRecord struct {
	ID       int64  `json:"id"`
	IssuerID int    `json:"issuerId"`
	Serial   string `json:"serial"` // lowercase hex, no leading zeros

	Subject   string    `json:"subject"`
	NotBefore time.Time `json:"notBefore"`
	NotAfter  time.Time `json:"notAfter"`

	Revoked    bool            `json:"revoked"`
	Revocation *RevocationInfo `json:"revocation,omitempty"`

	ProfileID   int `json:"profileId"`
	RequestorID int `json:"requestorId,omitempty"`

	// CertHash is the base64 digest of the DER certificate, computed with
	// the DBSCHEMA CERTHASH_ALGO.
	CertHash string `json:"certHash,omitempty"`

	// Raw is the DER certificate, kept for republish.
	Raw []byte `json:"raw,omitempty"`

	// CrlID links the record to the CRL that covers it (0 = none).
	CrlID int `json:"crlId,omitempty"`
}

// IssuerRecord is one row of the issuer table.
type IssuerRecord struct {
	ID        int       `json:"id"`
	Subject   string    `json:"subject"`
	NotBefore time.Time `json:"notBefore"`
	NotAfter  time.Time `json:"notAfter"`

	// Sha1Fp is the lowercase hex SHA-1 of the DER certificate.
	Sha1Fp string `json:"sha1Fp"`

	// Raw is the DER certificate.
	Raw []byte `json:"raw"`

	Revocation *RevocationInfo `json:"revocation,omitempty"`

	// CrlID links the issuer to its current CRL (0 = none).
	CrlID int `json:"crlId,omitempty"`
}

// CrlInfoRecord is one row of the crl_info table.
type CrlInfoRecord struct {
	ID         int       `json:"id"`
	IssuerID   int       `json:"issuerId"`
	CrlNumber  int64     `json:"crlNumber"`
	ThisUpdate time.Time `json:"thisUpdate"`
	NextUpdate time.Time `json:"nextUpdate"`
}

// SystemEvent is one row of the system_event table.
type SystemEvent struct {
	Name  string `json:"name"`
	Owner string `json:"owner"`
	Time  int64  `json:"time"` // epoch seconds
}

// PublishQueueEntry is one pending publisher notification.
type PublishQueueEntry struct {
	CertID      int64 `json:"certId"`
	PublisherID int   `json:"publisherId"`
}

// Well-known system event names.
const (
	EventLock     = "LOCK"
	EventCaChange = "CA_CHANGE"
)

// Reserved DBSCHEMA keys that cannot be modified after initialisation.
var reservedSchemaKeys = map[string]bool{
	"VERSION":         true,
	"VENDOR":          true,
	"X500NAME_MAXLEN": true,
}

// SchemaKeyCertHashAlgo names the digest algorithm of CertRecord.CertHash.
const SchemaKeyCertHashAlgo = "CERTHASH_ALGO"
