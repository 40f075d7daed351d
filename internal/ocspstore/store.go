package ocspstore

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/frestoinc/xipki/internal/certstore"
)

// crlExpiryHeadroom: a CRL that expires within this window is already
// treated as expired.
const crlExpiryHeadroom = 5 * time.Minute

// CertStatus is the resolved status of one serial.
type CertStatus int

const (
	StatusGood CertStatus = iota
	StatusRevoked
	StatusUnknown
	StatusIgnore
	StatusCrlExpired
)

func (s CertStatus) String() string {
	switch s {
	case StatusGood:
		return "good"
	case StatusRevoked:
		return "revoked"
	case StatusUnknown:
		return "unknown"
	case StatusIgnore:
		return "ignore"
	case StatusCrlExpired:
		return "crlExpired"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// UnknownCertBehaviour controls how unknown serials interact with CA
// revocation inheritance.
type UnknownCertBehaviour string

const (
	UnknownAsUnknown UnknownCertBehaviour = "unknown"
	UnknownAsGood    UnknownCertBehaviour = "good"
)

// CertStatusInfo is the full answer for one serial.
type CertStatusInfo struct {
	Status CertStatus

	ThisUpdate time.Time
	NextUpdate *time.Time

	Revocation *certstore.RevocationInfo

	CertHash     []byte
	CertHashAlgo string

	ArchiveCutoff *time.Time

	CrlID int
}

// Config configures one OCSP store.
type Config struct {
	Name string `yaml:"name"`

	// UpdateInterval between issuer refreshes (default 5m).
	UpdateInterval time.Duration `yaml:"updateInterval,omitempty"`

	IgnoreExpiredCrls     bool `yaml:"ignoreExpiredCrls,omitempty"`
	IgnoreNotYetValidCert bool `yaml:"ignoreNotYetValidCert,omitempty"`
	IgnoreExpiredCert     bool `yaml:"ignoreExpiredCert,omitempty"`

	UnknownCertBehaviour UnknownCertBehaviour `yaml:"unknownCertBehaviour,omitempty"`

	// RetentionInterval in days controls the archiveCutoff: negative keeps
	// expired certificates forever (cutoff = issuer notBefore), zero
	// disables the extension.
	RetentionInterval    int  `yaml:"retentionInterval,omitempty"`
	IncludeArchiveCutoff bool `yaml:"includeArchiveCutoff,omitempty"`
	IncludeCrlID         bool `yaml:"includeCrlId,omitempty"`

	// IncludeIssuerFps / ExcludeIssuerFps filter issuers by hex SHA-1
	// fingerprint of the DER certificate.
	IncludeIssuerFps []string `yaml:"includeIssuers,omitempty"`
	ExcludeIssuerFps []string `yaml:"excludeIssuers,omitempty"`

	// SnapshotPath enables the CBOR warm-start snapshot.
	SnapshotPath string `yaml:"snapshotPath,omitempty"`
}

// IssuerFilter selects issuers by SHA-1 fingerprint.
type IssuerFilter struct {
	include map[string]bool
	exclude map[string]bool
}

// NewIssuerFilter builds a filter; an empty include list admits everything
// not excluded.
func NewIssuerFilter(include, exclude []string) *IssuerFilter {
	f := &IssuerFilter{}
	if len(include) > 0 {
		f.include = make(map[string]bool, len(include))
		for _, fp := range include {
			f.include[strings.ToLower(fp)] = true
		}
	}
	if len(exclude) > 0 {
		f.exclude = make(map[string]bool, len(exclude))
		for _, fp := range exclude {
			f.exclude[strings.ToLower(fp)] = true
		}
	}
	return f
}

// IncludeAll reports whether the filter admits every issuer.
func (f *IssuerFilter) IncludeAll() bool {
	return f.include == nil && f.exclude == nil
}

// Admits reports whether the fingerprint passes the filter.
func (f *IssuerFilter) Admits(sha1Fp string) bool {
	fp := strings.ToLower(sha1Fp)
	if f.exclude != nil && f.exclude[fp] {
		return false
	}
	if f.include == nil {
		return true
	}
	return f.include[fp]
}

// Store answers per-serial status queries from the cert store through the
// in-memory issuer index.
type Store struct {
	cfg    Config
	db     *certstore.Store
	filter *IssuerFilter

	issuerStore *IssuerStore

	certHashAlgo string

	initialized atomic.Bool

	// updateInProgress serialises refreshes; force refreshes wait on cond.
	updateInProgress atomic.Bool
	cond             *sync.Cond

	stopCh  chan struct{}
	stopped sync.WaitGroup

	nowFn func() time.Time

	log *logrus.Entry
}

// ErrNotInitialized is returned while the first refresh has not completed.
var ErrNotInitialized = errors.New("initialization of CertStore is still in process")

// NewStore creates a Store bound to the authoritative cert store (or a
// replica). Init must be called before serving.
func NewStore(cfg Config, db *certstore.Store) *Store {
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = 5 * time.Minute
	}
	if cfg.UnknownCertBehaviour == "" {
		cfg.UnknownCertBehaviour = UnknownAsUnknown
	}
	s := &Store{
		cfg:         cfg,
		db:          db,
		filter:      NewIssuerFilter(cfg.IncludeIssuerFps, cfg.ExcludeIssuerFps),
		issuerStore: NewIssuerStore(),
		nowFn:       time.Now,
		log:         logrus.WithField("ocspStore", cfg.Name),
	}
	s.cond = sync.NewCond(&sync.Mutex{})
	return s
}

// Init reads the cert-hash algorithm from DBSCHEMA, warm-starts from the
// snapshot if configured, runs the first refresh, and starts the scheduler.
func (s *Store) Init() error {
	algo, err := s.db.GetDbSchema(certstore.SchemaKeyCertHashAlgo)
	if err != nil {
		return fmt.Errorf("could not read DBSCHEMA: %w", err)
	}
	if algo == "" {
		return fmt.Errorf("DBSCHEMA entry %s is not defined", certstore.SchemaKeyCertHashAlgo)
	}
	s.certHashAlgo = algo

	if s.cfg.SnapshotPath != "" {
		if err := s.loadSnapshot(); err != nil {
			s.log.WithError(err).Warn("failed to load issuer snapshot, starting cold")
		} else if s.issuerStore.Size() > 0 {
			s.initialized.Store(true)
		}
	}

	s.UpdateIssuerStore(true)
	if !s.initialized.Load() {
		return fmt.Errorf("initial issuer refresh failed")
	}

	s.stopCh = make(chan struct{})
	s.startScheduler()
	return nil
}

// Close stops the refresh scheduler.
func (s *Store) Close() {
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	s.stopped.Wait()
}

// Name returns the store name.
func (s *Store) Name() string {
	return s.cfg.Name
}

// IssuerStore exposes the index (used by tests and the health endpoint).
func (s *Store) IssuerStore() *IssuerStore {
	return s.issuerStore
}

// KnowsIssuer reports whether the index answers for the request issuer.
func (s *Store) KnowsIssuer(req *RequestIssuer) bool {
	return s.issuerStore.KnowsIssuer(req)
}

// GetIssuerCert returns the DER certificate of the matching issuer, or nil.
func (s *Store) GetIssuerCert(req *RequestIssuer) []byte {
	issuer := s.issuerStore.IssuerForFp(req)
	if issuer == nil {
		return nil
	}
	return issuer.Cert.Raw
}

// IsHealthy reports whether the store is initialised and the database
// answers.
func (s *Store) IsHealthy() bool {
	return s.initialized.Load() && s.db.IsHealthy()
}

// GetCertStatus resolves (issuer, serial) to a status. A nil result means
// the issuer is not known here and the query is not this store's
// responsibility.
func (s *Store) GetCertStatus(
	at time.Time, reqIssuer *RequestIssuer, serial *big.Int,
	includeCertHash, includeRit, inheritCaRevocation bool,
) (*CertStatusInfo, error) {
	if serial.Sign() != 1 {
		// Non-positive serial numbers never exist.
		return &CertStatusInfo{Status: StatusUnknown, ThisUpdate: s.nowFn().UTC()}, nil
	}

	if !s.initialized.Load() {
		return nil, ErrNotInitialized
	}

	view := s.issuerStore.view()

	issuer := issuerForFpIn(view, reqIssuer)
	if issuer == nil {
		return nil, nil
	}

	var crlInfo *CrlInfo
	if issuer.CrlID != 0 {
		crlInfo = view.crlInfos[issuer.CrlID]
		if crlInfo != nil && s.cfg.IgnoreExpiredCrls {
			if crlInfo.NextUpdate.Before(at.Add(crlExpiryHeadroom)) {
				return &CertStatusInfo{Status: StatusCrlExpired}, nil
			}
		}
	}

	serialHex := certstore.NormSerial(serial)
	record, err := s.db.GetCert(issuer.ID, serialHex)
	unknown := false
	if err != nil {
		if !errors.Is(err, certstore.ErrNotFound) {
			return nil, fmt.Errorf("cert store query failed: %w", err)
		}
		unknown = true
	}

	ignore := false
	crlID := issuer.CrlID
	if !unknown {
		if record.CrlID != 0 {
			crlID = record.CrlID
		}
		if s.cfg.IgnoreNotYetValidCert && at.Before(record.NotBefore) {
			ignore = true
		}
		if !ignore && s.cfg.IgnoreExpiredCert && at.After(record.NotAfter) {
			ignore = true
		}
	}

	if crlInfo == nil && crlID != 0 {
		crlInfo = view.crlInfos[crlID]
		if crlInfo != nil && s.cfg.IgnoreExpiredCrls {
			if crlInfo.NextUpdate.Before(at.Add(crlExpiryHeadroom)) {
				return &CertStatusInfo{Status: StatusCrlExpired}, nil
			}
		}
	}

	thisUpdate := s.nowFn().UTC()
	var nextUpdate *time.Time
	if crlInfo != nil {
		thisUpdate = crlInfo.ThisUpdate
		nu := crlInfo.NextUpdate
		nextUpdate = &nu
	}

	info := &CertStatusInfo{ThisUpdate: thisUpdate, NextUpdate: nextUpdate}

	switch {
	case unknown:
		info.Status = StatusUnknown
	case ignore:
		info.Status = StatusIgnore
	case record.Revoked:
		info.Status = StatusRevoked
		rev := *record.Revocation
		if !includeRit {
			rev.InvalidityTime = nil
		}
		info.Revocation = &rev
	default:
		info.Status = StatusGood
	}

	if includeCertHash && !unknown && !ignore && record.CertHash != "" {
		hashBytes, err := base64.StdEncoding.DecodeString(record.CertHash)
		if err == nil {
			info.CertHash = hashBytes
			info.CertHashAlgo = s.certHashAlgo
		}
	}

	if s.cfg.IncludeCrlID && crlInfo != nil {
		info.CrlID = crlInfo.CrlID
	}

	if s.cfg.IncludeArchiveCutoff && s.cfg.RetentionInterval != 0 {
		var cutoff time.Time
		if s.cfg.RetentionInterval < 0 {
			// Expired certificates remain in the status store forever.
			cutoff = issuer.NotBefore
		} else {
			earliest := s.nowFn().UTC().Add(-time.Duration(s.cfg.RetentionInterval) * 24 * time.Hour)
			cutoff = issuer.NotBefore
			if earliest.Before(cutoff) {
				cutoff = earliest
			}
		}
		info.ArchiveCutoff = &cutoff
	}

	if !inheritCaRevocation || issuer.Revocation == nil {
		return info, nil
	}
	return s.applyCaRevocation(info, issuer.Revocation), nil
}

// applyCaRevocation implements the inheritance table: the CA's revocation
// replaces the underlying status for Good certificates, Unknown/Ignore under
// the "good" behaviour, and revocations younger than the CA's.
func (s *Store) applyCaRevocation(info *CertStatusInfo, caRev *certstore.RevocationInfo) *CertStatusInfo {
	replaced := false
	switch info.Status {
	case StatusGood:
		replaced = true
	case StatusUnknown, StatusIgnore:
		replaced = s.cfg.UnknownCertBehaviour == UnknownAsGood
	case StatusRevoked:
		replaced = info.Revocation.RevocationTime.After(caRev.RevocationTime)
	}
	if !replaced {
		return info
	}

	newRev := caRev
	if caRev.Reason != certstore.ReasonCACompromise {
		newRev = &certstore.RevocationInfo{
			Reason:         certstore.ReasonCACompromise,
			RevocationTime: caRev.RevocationTime,
			InvalidityTime: caRev.InvalidityTime,
		}
	}

	return &CertStatusInfo{
		Status:        StatusRevoked,
		ThisUpdate:    info.ThisUpdate,
		NextUpdate:    info.NextUpdate,
		Revocation:    newRev,
		CertHash:      info.CertHash,
		CertHashAlgo:  info.CertHashAlgo,
		ArchiveCutoff: info.ArchiveCutoff,
		CrlID:         info.CrlID,
	}
}

func issuerForFpIn(view *snapshot, req *RequestIssuer) *IssuerEntry {
	for _, issuer := range view.issuers {
		if issuer.MatchesHash(req) {
			return issuer
		}
	}
	return nil
}
