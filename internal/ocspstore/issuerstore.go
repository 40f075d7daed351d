// Package ocspstore implements the OCSP responder's status engine: the
// in-memory issuer index, per-serial status resolution with CRL-freshness
// awareness and CA-revocation inheritance, and the periodic database
// refresh that atomically swaps the index.
package ocspstore

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"fmt"
	"hash"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frestoinc/xipki/internal/certstore"
)

// HashAlgo identifies a CertID hash algorithm.
type HashAlgo string

const (
	HashSHA1   HashAlgo = "SHA1"
	HashSHA256 HashAlgo = "SHA256"
	HashSHA384 HashAlgo = "SHA384"
	HashSHA512 HashAlgo = "SHA512"
)

func (h HashAlgo) newHash() (hash.Hash, error) {
	switch h {
	case HashSHA1:
		return sha1.New(), nil
	case HashSHA256:
		return sha256.New(), nil
	case HashSHA384:
		return sha512.New384(), nil
	case HashSHA512:
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", h)
	}
}

// RequestIssuer is the issuer identification of an OCSP request: the CertID
// name and key hashes under one algorithm.
type RequestIssuer struct {
	HashAlgo HashAlgo
	NameHash []byte
	KeyHash  []byte
}

// RequestIssuerFromCert computes the RequestIssuer a client would send for
// certificates issued by the given CA certificate.
func RequestIssuerFromCert(algo HashAlgo, cert *x509.Certificate) (*RequestIssuer, error) {
	nameHash, keyHash, err := issuerHashes(algo, cert)
	if err != nil {
		return nil, err
	}
	return &RequestIssuer{HashAlgo: algo, NameHash: nameHash, KeyHash: keyHash}, nil
}

// issuerHashes computes (hash(subject), hash(subjectPublicKey)) of a CA
// certificate.
func issuerHashes(algo HashAlgo, cert *x509.Certificate) (nameHash, keyHash []byte, err error) {
	h, err := algo.newHash()
	if err != nil {
		return nil, nil, err
	}
	h.Write(cert.RawSubject)
	nameHash = h.Sum(nil)

	spki := cert.RawSubjectPublicKeyInfo
	keyBytes, err := publicKeyBitString(spki)
	if err != nil {
		return nil, nil, err
	}
	h, err = algo.newHash()
	if err != nil {
		return nil, nil, err
	}
	h.Write(keyBytes)
	keyHash = h.Sum(nil)
	return nameHash, keyHash, nil
}

// publicKeyBitString extracts the subjectPublicKey BIT STRING content from a
// DER SubjectPublicKeyInfo; the CertID issuerKeyHash covers exactly these
// bytes.
func publicKeyBitString(spkiDER []byte) ([]byte, error) {
	var spki struct {
		Algorithm asn1.RawValue
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(spkiDER, &spki); err != nil {
		return nil, fmt.Errorf("failed to parse SubjectPublicKeyInfo: %w", err)
	}
	return spki.PublicKey.Bytes, nil
}

type issuerHashPair struct {
	nameHash []byte
	keyHash  []byte
}

// IssuerEntry is one issuer of the index.
type IssuerEntry struct {
	ID   int
	Cert *x509.Certificate

	// Sha1Fp is the lowercase hex SHA-1 of the DER certificate.
	Sha1Fp string

	SubjectKeyID []byte
	NotBefore    time.Time

	Revocation *certstore.RevocationInfo

	CrlID int

	// hashes caches the per-algorithm encoded issuer hashes, computed
	// lazily on first use.
	mu     sync.Mutex
	hashes map[HashAlgo]issuerHashPair
}

// NewIssuerEntry builds an entry from a decoded issuer certificate.
func NewIssuerEntry(id int, cert *x509.Certificate) *IssuerEntry {
	sum := sha1.Sum(cert.Raw)
	return &IssuerEntry{
		ID:           id,
		Cert:         cert,
		Sha1Fp:       hex.EncodeToString(sum[:]),
		SubjectKeyID: cert.SubjectKeyId,
		NotBefore:    cert.NotBefore,
		hashes:       make(map[HashAlgo]issuerHashPair),
	}
}

// MatchesHash reports whether the entry answers for the request issuer.
func (e *IssuerEntry) MatchesHash(req *RequestIssuer) bool {
	pair, err := e.hashPair(req.HashAlgo)
	if err != nil {
		return false
	}
	return bytes.Equal(pair.nameHash, req.NameHash) && bytes.Equal(pair.keyHash, req.KeyHash)
}

func (e *IssuerEntry) hashPair(algo HashAlgo) (issuerHashPair, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if pair, ok := e.hashes[algo]; ok {
		return pair, nil
	}
	nameHash, keyHash, err := issuerHashes(algo, e.Cert)
	if err != nil {
		return issuerHashPair{}, err
	}
	pair := issuerHashPair{nameHash: nameHash, keyHash: keyHash}
	e.hashes[algo] = pair
	return pair, nil
}

// CrlInfo is the freshness metadata of one CRL.
type CrlInfo struct {
	CrlID      int
	CrlNumber  int64
	ThisUpdate time.Time
	NextUpdate time.Time
}

// snapshot is one immutable generation of the index. Readers always see a
// consistent (issuers, ids, crlInfos) bundle.
type snapshot struct {
	issuers  []*IssuerEntry
	ids      map[int]bool
	crlInfos map[int]*CrlInfo
}

// IssuerStore is the in-memory issuer index. All mutation replaces the
// whole snapshot through one atomic pointer; readers never block.
type IssuerStore struct {
	current atomic.Pointer[snapshot]

	// generation counts snapshot swaps; readers may use it to detect
	// staleness across calls.
	generation atomic.Uint64
}

// NewIssuerStore creates an empty index.
func NewIssuerStore() *IssuerStore {
	s := &IssuerStore{}
	s.current.Store(&snapshot{ids: map[int]bool{}, crlInfos: map[int]*CrlInfo{}})
	return s
}

// SetIssuers replaces the issuer list and id set. Duplicate ids are
// rejected.
func (s *IssuerStore) SetIssuers(issuers []*IssuerEntry) error {
	ids := make(map[int]bool, len(issuers))
	for _, issuer := range issuers {
		if ids[issuer.ID] {
			return fmt.Errorf("issuer with the same id %d duplicated", issuer.ID)
		}
		ids[issuer.ID] = true
	}

	old := s.current.Load()
	s.current.Store(&snapshot{
		issuers:  append([]*IssuerEntry(nil), issuers...),
		ids:      ids,
		crlInfos: old.crlInfos,
	})
	s.generation.Add(1)
	return nil
}

// SetCrlInfos replaces the CRL info table wholesale.
func (s *IssuerStore) SetCrlInfos(infos map[int]*CrlInfo) {
	old := s.current.Load()
	copied := make(map[int]*CrlInfo, len(infos))
	for id, info := range infos {
		copied[id] = info
	}
	s.current.Store(&snapshot{
		issuers:  old.issuers,
		ids:      old.ids,
		crlInfos: copied,
	})
	s.generation.Add(1)
}

// Replace swaps issuers and CRL infos in one generation.
func (s *IssuerStore) Replace(issuers []*IssuerEntry, infos map[int]*CrlInfo) error {
	ids := make(map[int]bool, len(issuers))
	for _, issuer := range issuers {
		if ids[issuer.ID] {
			return fmt.Errorf("issuer with the same id %d duplicated", issuer.ID)
		}
		ids[issuer.ID] = true
	}
	copied := make(map[int]*CrlInfo, len(infos))
	for id, info := range infos {
		copied[id] = info
	}
	s.current.Store(&snapshot{
		issuers:  append([]*IssuerEntry(nil), issuers...),
		ids:      ids,
		crlInfos: copied,
	})
	s.generation.Add(1)
	return nil
}

// Generation returns the snapshot generation counter.
func (s *IssuerStore) Generation() uint64 {
	return s.generation.Load()
}

// Size returns the number of issuers.
func (s *IssuerStore) Size() int {
	return len(s.current.Load().issuers)
}

// IDs returns the current id set.
func (s *IssuerStore) IDs() map[int]bool {
	return s.current.Load().ids
}

// IssuerForID finds an issuer by id.
func (s *IssuerStore) IssuerForID(id int) *IssuerEntry {
	for _, issuer := range s.current.Load().issuers {
		if issuer.ID == id {
			return issuer
		}
	}
	return nil
}

// IssuerForFp scans for the issuer matching the request's hash pair.
func (s *IssuerStore) IssuerForFp(req *RequestIssuer) *IssuerEntry {
	for _, issuer := range s.current.Load().issuers {
		if issuer.MatchesHash(req) {
			return issuer
		}
	}
	return nil
}

// KnowsIssuer reports whether an issuer matches.
func (s *IssuerStore) KnowsIssuer(req *RequestIssuer) bool {
	return s.IssuerForFp(req) != nil
}

// CrlInfoForID returns the CRL info for a crl id.
func (s *IssuerStore) CrlInfoForID(id int) *CrlInfo {
	return s.current.Load().crlInfos[id]
}

// view returns the consistent (issuers, crlInfos) pair of one generation.
func (s *IssuerStore) view() *snapshot {
	return s.current.Load()
}
