package certstore

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/frestoinc/xipki/internal/caerrors"
)

// Bucket names; each bucket models one logical table.
var (
	bucketIssuer       = []byte("issuer")
	bucketCert         = []byte("cert")
	bucketCertSerial   = []byte("cert_serial") // (issuerId, serial) -> certId
	bucketCrlInfo      = []byte("crl_info")
	bucketCrlNumber    = []byte("crl_number") // caId -> last reserved number
	bucketRequestor    = []byte("requestor")
	bucketProfile      = []byte("profile")
	bucketPublishQueue = []byte("publish_queue")
	bucketSystemEvent  = []byte("system_event")
	bucketDBSchema     = []byte("dbschema")
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = fmt.Errorf("record not found")

// ErrDuplicate is returned when a unique constraint is violated.
var ErrDuplicate = fmt.Errorf("duplicate record")

// Store is the bbolt-backed certificate store.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cert store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketIssuer, bucketCert, bucketCertSerial, bucketCrlInfo,
			bucketCrlNumber, bucketRequestor, bucketProfile,
			bucketPublishQueue, bucketSystemEvent, bucketDBSchema,
		}
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialise cert store: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func itob64(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func itob32(v int) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return b
}

// NormSerial canonicalises a serial for use as a key: lowercase hex without
// leading zeros.
func NormSerial(serial *big.Int) string {
	return serial.Text(16)
}

func serialKey(issuerID int, serial string) []byte {
	key := make([]byte, 0, 4+len(serial))
	key = append(key, itob32(issuerID)...)
	key = append(key, []byte(serial)...)
	return key
}

// AddIssuer inserts or replaces an issuer row.
func (s *Store) AddIssuer(rec *IssuerRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketIssuer).Put(itob32(rec.ID), data)
	})
}

// GetIssuer loads one issuer row.
func (s *Store) GetIssuer(id int) (*IssuerRecord, error) {
	var rec IssuerRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketIssuer).Get(itob32(id))
		if data == nil {
			return fmt.Errorf("issuer %d: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListIssuers loads all issuer rows ordered by id.
func (s *Store) ListIssuers() ([]*IssuerRecord, error) {
	var out []*IssuerRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIssuer).ForEach(func(_, v []byte) error {
			var rec IssuerRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetIssuerRevocation updates an issuer's revocation info (nil clears it).
func (s *Store) SetIssuerRevocation(id int, rev *RevocationInfo) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIssuer)
		data := b.Get(itob32(id))
		if data == nil {
			return fmt.Errorf("issuer %d: %w", id, ErrNotFound)
		}
		var rec IssuerRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		rec.Revocation = rev
		updated, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		return b.Put(itob32(id), updated)
	})
}

// AddCert inserts a certificate row. The (issuerId, serial) pair is unique.
func (s *Store) AddCert(rec *CertRecord) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		skey := serialKey(rec.IssuerID, rec.Serial)
		serials := tx.Bucket(bucketCertSerial)
		if serials.Get(skey) != nil {
			return fmt.Errorf("certificate (issuer=%d, serial=%s): %w", rec.IssuerID, rec.Serial, ErrDuplicate)
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketCert).Put(itob64(rec.ID), data); err != nil {
			return err
		}
		return serials.Put(skey, itob64(rec.ID))
	})
	if err != nil {
		return wrapStoreErr(err)
	}
	return nil
}

// GetCert loads a certificate row by (issuerId, serial).
func (s *Store) GetCert(issuerID int, serial string) (*CertRecord, error) {
	var rec CertRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketCertSerial).Get(serialKey(issuerID, serial))
		if id == nil {
			return fmt.Errorf("certificate (issuer=%d, serial=%s): %w", issuerID, serial, ErrNotFound)
		}
		data := tx.Bucket(bucketCert).Get(id)
		if data == nil {
			return fmt.Errorf("certificate row %x: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// HasCert reports whether the (issuerId, serial) pair exists.
func (s *Store) HasCert(issuerID int, serial string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketCertSerial).Get(serialKey(issuerID, serial)) != nil
		return nil
	})
	return found, err
}

// RevocationOp describes a requested revocation state change.
type RevocationOp struct {
	Reason         CrlReason
	RevocationTime time.Time
	InvalidityTime *time.Time
}

// ChangeRevocation transitions a certificate's revocation state:
// good -> revoked(reason); a held certificate may be revoked with a final
// reason; removeFromCRL is only valid on a held certificate and releases it.
func (s *Store) ChangeRevocation(issuerID int, serial string, op RevocationOp) (*CertRecord, error) {
	var rec CertRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		certs := tx.Bucket(bucketCert)
		id := tx.Bucket(bucketCertSerial).Get(serialKey(issuerID, serial))
		if id == nil {
			return fmt.Errorf("certificate (issuer=%d, serial=%s): %w", issuerID, serial, ErrNotFound)
		}
		data := certs.Get(id)
		if data == nil {
			return fmt.Errorf("certificate row %x: %w", id, ErrNotFound)
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}

		held := rec.Revoked && rec.Revocation != nil && rec.Revocation.Reason == ReasonCertificateHold

		switch {
		case op.Reason == ReasonRemoveFromCRL:
			if !held {
				return caerrors.New(caerrors.NotPermitted,
					"could not unsuspend certificate that is not on hold")
			}
			rec.Revoked = false
			rec.Revocation = nil

		case rec.Revoked && !held:
			return caerrors.Errorf(caerrors.NotPermitted,
				"certificate is already revoked with reason %s", rec.Revocation.Reason)

		default:
			rec.Revoked = true
			rec.Revocation = &RevocationInfo{
				Reason:         op.Reason,
				RevocationTime: op.RevocationTime.UTC(),
				InvalidityTime: op.InvalidityTime,
			}
		}

		updated, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		return certs.Put(id, updated)
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return &rec, nil
}

// RemoveCert physically deletes a certificate row.
func (s *Store) RemoveCert(issuerID int, serial string) (*CertRecord, error) {
	var rec CertRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		serials := tx.Bucket(bucketCertSerial)
		skey := serialKey(issuerID, serial)
		id := serials.Get(skey)
		if id == nil {
			return fmt.Errorf("certificate (issuer=%d, serial=%s): %w", issuerID, serial, ErrNotFound)
		}
		certs := tx.Bucket(bucketCert)
		data := certs.Get(id)
		if data != nil {
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
		}
		if err := certs.Delete(id); err != nil {
			return err
		}
		return serials.Delete(skey)
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return &rec, nil
}

// ListFilter selects certificate rows.
type ListFilter struct {
	// IssuerID restricts to one issuer (0 = all).
	IssuerID int

	// OnlyRevoked keeps revoked certificates only.
	OnlyRevoked bool

	// ValidAt drops certificates outside their validity at the given time.
	ValidAt *time.Time

	// Limit bounds the result size (0 = unlimited).
	Limit int
}

// ListCerts returns the rows matching filter, ordered by id.
func (s *Store) ListCerts(filter ListFilter) ([]*CertRecord, error) {
	var out []*CertRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketCert).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec CertRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if filter.IssuerID != 0 && rec.IssuerID != filter.IssuerID {
				continue
			}
			if filter.OnlyRevoked && !rec.Revoked {
				continue
			}
			if filter.ValidAt != nil {
				if filter.ValidAt.Before(rec.NotBefore) || filter.ValidAt.After(rec.NotAfter) {
					continue
				}
			}
			out = append(out, &rec)
			if filter.Limit > 0 && len(out) >= filter.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListRevoked returns the revoked rows of an issuer ordered by
// (revocationTime, serial), the CRL entry order.
func (s *Store) ListRevoked(issuerID int) ([]*CertRecord, error) {
	revoked, err := s.ListCerts(ListFilter{IssuerID: issuerID, OnlyRevoked: true})
	if err != nil {
		return nil, err
	}
	sort.Slice(revoked, func(i, j int) bool {
		ti := revoked[i].Revocation.RevocationTime
		tj := revoked[j].Revocation.RevocationTime
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		si := new(big.Int)
		sj := new(big.Int)
		si.SetString(revoked[i].Serial, 16)
		sj.SetString(revoked[j].Serial, 16)
		return si.Cmp(sj) < 0
	})
	return revoked, nil
}

// NextCrlNumber reserves and returns the next CRL number of a CA.
func (s *Store) NextCrlNumber(caID int) (int64, error) {
	var next int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCrlNumber)
		key := itob32(caID)
		current := int64(0)
		if data := b.Get(key); data != nil {
			current = int64(binary.BigEndian.Uint64(data))
		}
		next = current + 1
		return b.Put(key, itob64(next))
	})
	if err != nil {
		return 0, wrapStoreErr(err)
	}
	return next, nil
}

// AddCrlInfo inserts or replaces a crl_info row.
func (s *Store) AddCrlInfo(rec *CrlInfoRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketCrlInfo).Put(itob32(rec.ID), data)
	})
}

// ListCrlInfos loads all crl_info rows.
func (s *Store) ListCrlInfos() ([]*CrlInfoRecord, error) {
	var out []*CrlInfoRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCrlInfo).ForEach(func(_, v []byte) error {
			var rec CrlInfoRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetSystemEvent loads a system event by name, or nil.
func (s *Store) GetSystemEvent(name string) (*SystemEvent, error) {
	var event *SystemEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSystemEvent).Get([]byte(name))
		if data == nil {
			return nil
		}
		event = &SystemEvent{}
		return json.Unmarshal(data, event)
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// ChangeSystemEvent replaces a system event row.
func (s *Store) ChangeSystemEvent(event *SystemEvent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSystemEvent).Put([]byte(event.Name), data)
	})
}

// DeleteSystemEvent removes a system event row.
func (s *Store) DeleteSystemEvent(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSystemEvent).Delete([]byte(name))
	})
}

// GetDbSchema reads a DBSCHEMA value ("" when absent).
func (s *Store) GetDbSchema(key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(bucketDBSchema).Get([]byte(key)); data != nil {
			value = string(data)
		}
		return nil
	})
	return value, err
}

// SetDbSchema writes a DBSCHEMA value. Reserved keys are immutable once set.
func (s *Store) SetDbSchema(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDBSchema)
		if reservedSchemaKeys[key] && b.Get([]byte(key)) != nil {
			return caerrors.Errorf(caerrors.NotPermitted, "DBSCHEMA key %s is immutable", key)
		}
		return b.Put([]byte(key), []byte(value))
	})
}

// AddNameID registers an id/name pair in the requestor or profile table.
func (s *Store) AddNameID(table string, id int, name string) error {
	bucket, err := nameIDBucket(table)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(itob32(id), []byte(name))
	})
}

// ListNameIDs returns the id -> name mapping of the requestor or profile
// table.
func (s *Store) ListNameIDs(table string) (map[int]string, error) {
	bucket, err := nameIDBucket(table)
	if err != nil {
		return nil, err
	}
	out := make(map[int]string)
	err = s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, v []byte) error {
			out[int(binary.BigEndian.Uint32(k))] = string(v)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func nameIDBucket(table string) ([]byte, error) {
	switch table {
	case "requestor":
		return bucketRequestor, nil
	case "profile":
		return bucketProfile, nil
	default:
		return nil, fmt.Errorf("unknown name table %q", table)
	}
}

// EnqueuePublish records a pending publisher notification.
func (s *Store) EnqueuePublish(entry PublishQueueEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := make([]byte, 0, 12)
		key = append(key, itob64(entry.CertID)...)
		key = append(key, itob32(entry.PublisherID)...)
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPublishQueue).Put(key, data)
	})
}

// DrainPublishQueue removes and returns up to limit pending notifications.
func (s *Store) DrainPublishQueue(limit int) ([]PublishQueueEntry, error) {
	var out []PublishQueueEntry
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPublishQueue)
		c := b.Cursor()
		var keys [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var entry PublishQueueEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			out = append(out, entry)
			keys = append(keys, bytes.Clone(k))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IsHealthy reports whether the store answers queries.
func (s *Store) IsHealthy() bool {
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIssuer).ForEach(func(_, _ []byte) error { return nil })
	})
	return err == nil
}

// wrapStoreErr keeps typed operation errors intact and maps everything else
// to DATABASE_FAILURE.
func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	var oe *caerrors.OperationError
	if errors.As(err, &oe) {
		return err
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicate) {
		return err
	}
	return caerrors.Wrap(caerrors.DatabaseFailure, "cert store operation failed", err)
}
