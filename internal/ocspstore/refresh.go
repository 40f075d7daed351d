package ocspstore

import (
	"crypto/x509"
	"fmt"
	"math/rand"
	"time"

	"github.com/frestoinc/xipki/internal/certstore"
)

// startScheduler runs the periodic issuer refresh. The first tick is
// jittered by up to 60 seconds so a fleet of responders does not hit the
// database in lockstep.
func (s *Store) startScheduler() {
	stopCh := s.stopCh
	s.stopped.Add(1)
	go func() {
		defer s.stopped.Done()

		jitter := time.Duration(rand.Int63n(int64(60 * time.Second)))
		select {
		case <-stopCh:
			return
		case <-time.After(s.cfg.UpdateInterval + jitter):
		}

		ticker := time.NewTicker(s.cfg.UpdateInterval)
		defer ticker.Stop()

		s.UpdateIssuerStore(false)
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				s.UpdateIssuerStore(false)
			}
		}
	}()
}

// UpdateIssuerStore refreshes the issuer index from the cert store. A
// non-forced refresh yields when one is already running; a forced refresh
// waits for the running one and then runs itself.
func (s *Store) UpdateIssuerStore(force bool) {
	if !force {
		if !s.updateInProgress.CompareAndSwap(false, true) {
			return
		}
	} else {
		s.cond.L.Lock()
		for !s.updateInProgress.CompareAndSwap(false, true) {
			s.cond.Wait()
		}
		s.cond.L.Unlock()
	}

	defer func() {
		s.updateInProgress.Store(false)
		s.cond.L.Lock()
		s.cond.Broadcast()
		s.cond.L.Unlock()
	}()

	if err := s.updateIssuers(); err != nil {
		s.log.WithError(err).Error("issuer refresh failed, keeping previous snapshot")
		return
	}
	if err := s.updateCrls(); err != nil {
		s.log.WithError(err).Error("CRL info refresh failed, keeping previous snapshot")
		return
	}

	s.initialized.Store(true)

	if s.cfg.SnapshotPath != "" {
		if err := s.saveSnapshot(); err != nil {
			s.log.WithError(err).Warn("failed to write issuer snapshot")
		}
	}
}

// updateIssuers runs the fast path first: when the id set and per-entry
// revocation state are unchanged, the full reload is skipped.
func (s *Store) updateIssuers() error {
	records, err := s.db.ListIssuers()
	if err != nil {
		return fmt.Errorf("failed to list issuers: %w", err)
	}

	var kept []*certstore.IssuerRecord
	for _, rec := range records {
		if s.filter.IncludeAll() || s.filter.Admits(rec.Sha1Fp) {
			kept = append(kept, rec)
		}
	}

	if s.initialized.Load() && s.issuersUnchanged(kept) {
		return nil
	}

	entries := make([]*IssuerEntry, 0, len(kept))
	for _, rec := range kept {
		cert, err := x509.ParseCertificate(rec.Raw)
		if err != nil {
			return fmt.Errorf("failed to parse issuer %d certificate: %w", rec.ID, err)
		}

		entry := NewIssuerEntry(rec.ID, cert)
		entry.Revocation = rec.Revocation
		entry.CrlID = rec.CrlID

		// No two issuers may share (subject, key): a request hash pair must
		// resolve to exactly one issuer, otherwise the whole update fails.
		req, err := RequestIssuerFromCert(HashSHA1, cert)
		if err != nil {
			return err
		}
		for _, existing := range entries {
			if existing.MatchesHash(req) {
				return fmt.Errorf("found at least two issuers with the same subject and key")
			}
		}

		entries = append(entries, entry)
	}

	if err := s.issuerStore.SetIssuers(entries); err != nil {
		return err
	}
	s.log.WithField("issuers", len(entries)).Info("issuer store updated")
	return nil
}

// issuersUnchanged compares (id, revocation) pairs against the current
// snapshot.
func (s *Store) issuersUnchanged(records []*certstore.IssuerRecord) bool {
	ids := s.issuerStore.IDs()
	if len(ids) != len(records) {
		return false
	}
	for _, rec := range records {
		if !ids[rec.ID] {
			return false
		}
		current := s.issuerStore.IssuerForID(rec.ID)
		if current == nil {
			return false
		}
		if !revocationEqual(current.Revocation, rec.Revocation) {
			return false
		}
		if current.CrlID != rec.CrlID {
			return false
		}
	}
	return true
}

func revocationEqual(a, b *certstore.RevocationInfo) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Reason == b.Reason && a.RevocationTime.Equal(b.RevocationTime)
}

// updateCrls reloads the CRL info table wholesale.
func (s *Store) updateCrls() error {
	records, err := s.db.ListCrlInfos()
	if err != nil {
		return fmt.Errorf("failed to list CRL infos: %w", err)
	}

	infos := make(map[int]*CrlInfo, len(records))
	for _, rec := range records {
		infos[rec.ID] = &CrlInfo{
			CrlID:      rec.ID,
			CrlNumber:  rec.CrlNumber,
			ThisUpdate: rec.ThisUpdate,
			NextUpdate: rec.NextUpdate,
		}
	}
	s.issuerStore.SetCrlInfos(infos)
	return nil
}
