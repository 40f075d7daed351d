package ocspstore

import (
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/frestoinc/xipki/internal/certstore"
)

// The warm-start snapshot persists the issuer index between restarts so the
// responder can answer before its first database refresh completes. CBOR
// keeps the file compact; the DER certificates dominate the size.

type snapshotIssuer struct {
	ID         int                       `cbor:"1,keyasint"`
	Raw        []byte                    `cbor:"2,keyasint"`
	Revocation *certstore.RevocationInfo `cbor:"3,keyasint,omitempty"`
	CrlID      int                       `cbor:"4,keyasint,omitempty"`
}

type snapshotCrlInfo struct {
	CrlID      int       `cbor:"1,keyasint"`
	CrlNumber  int64     `cbor:"2,keyasint"`
	ThisUpdate time.Time `cbor:"3,keyasint"`
	NextUpdate time.Time `cbor:"4,keyasint"`
}

type snapshotFile struct {
	Version  int               `cbor:"1,keyasint"`
	Issuers  []snapshotIssuer  `cbor:"2,keyasint"`
	CrlInfos []snapshotCrlInfo `cbor:"3,keyasint"`
}

const snapshotVersion = 1

func (s *Store) saveSnapshot() error {
	view := s.issuerStore.view()

	file := snapshotFile{Version: snapshotVersion}
	for _, issuer := range view.issuers {
		file.Issuers = append(file.Issuers, snapshotIssuer{
			ID:         issuer.ID,
			Raw:        issuer.Cert.Raw,
			Revocation: issuer.Revocation,
			CrlID:      issuer.CrlID,
		})
	}
	for _, info := range view.crlInfos {
		file.CrlInfos = append(file.CrlInfos, snapshotCrlInfo{
			CrlID:      info.CrlID,
			CrlNumber:  info.CrlNumber,
			ThisUpdate: info.ThisUpdate,
			NextUpdate: info.NextUpdate,
		})
	}

	data, err := cbor.Marshal(file)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmp := s.cfg.SnapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return os.Rename(tmp, s.cfg.SnapshotPath)
}

func (s *Store) loadSnapshot() error {
	data, err := os.ReadFile(s.cfg.SnapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	var file snapshotFile
	if err := cbor.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if file.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", file.Version)
	}

	entries := make([]*IssuerEntry, 0, len(file.Issuers))
	for _, si := range file.Issuers {
		cert, err := x509.ParseCertificate(si.Raw)
		if err != nil {
			return fmt.Errorf("snapshot issuer %d: %w", si.ID, err)
		}
		entry := NewIssuerEntry(si.ID, cert)
		entry.Revocation = si.Revocation
		entry.CrlID = si.CrlID
		entries = append(entries, entry)
	}

	infos := make(map[int]*CrlInfo, len(file.CrlInfos))
	for _, ci := range file.CrlInfos {
		infos[ci.CrlID] = &CrlInfo{
			CrlID:      ci.CrlID,
			CrlNumber:  ci.CrlNumber,
			ThisUpdate: ci.ThisUpdate,
			NextUpdate: ci.NextUpdate,
		}
	}

	return s.issuerStore.Replace(entries, infos)
}
