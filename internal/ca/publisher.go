package ca

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/frestoinc/xipki/internal/certstore"
	"github.com/frestoinc/xipki/internal/nameid"
)

// PublishedCert is the view of an issued certificate handed to publishers.
type PublishedCert struct {
	CA      *nameid.NameID
	Record  *certstore.CertRecord
	RawCert []byte
}

// Publisher receives certificate lifecycle notifications. Implementations
// must be safe for concurrent use.
type Publisher interface {
	// Ident identifies the publisher.
	Ident() *nameid.NameID

	// CertificateAdded is called after a certificate is stored.
	CertificateAdded(cert *PublishedCert) error

	// CertificateStatusChanged is called after a revocation state change;
	// record reflects the new state.
	CertificateStatusChanged(ca *nameid.NameID, record *certstore.CertRecord) error

	// CertificateRemoved is called after a certificate row is deleted.
	CertificateRemoved(ca *nameid.NameID, serial string) error

	// CrlAdded is called after a CRL is generated.
	CrlAdded(ca *nameid.NameID, crlDER []byte) error
}

// publisherFanout delivers notifications asynchronously. A failed
// certificate-added delivery is parked in the store's publish queue for the
// next republish run; failed status-change, removal and CRL deliveries are
// only logged.
type publisherFanout struct {
	publishers []Publisher
	store      *certstore.Store
	log        *logrus.Entry

	wg sync.WaitGroup
}

func newPublisherFanout(publishers []Publisher, store *certstore.Store, log *logrus.Entry) *publisherFanout {
	return &publisherFanout{publishers: publishers, store: store, log: log}
}

func (f *publisherFanout) certAdded(cert *PublishedCert) {
	for _, pub := range f.publishers {
		pub := pub
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			if err := pub.CertificateAdded(cert); err != nil {
				f.log.WithError(err).WithField("publisher", pub.Ident().Name).
					Warn("publisher rejected certificate, queued for republish")
				if qerr := f.store.EnqueuePublish(certstore.PublishQueueEntry{
					CertID:      cert.Record.ID,
					PublisherID: pub.Ident().ID,
				}); qerr != nil {
					f.log.WithError(qerr).Error("failed to queue publish entry")
				}
			}
		}()
	}
}

func (f *publisherFanout) statusChanged(ca *nameid.NameID, record *certstore.CertRecord) {
	for _, pub := range f.publishers {
		pub := pub
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			if err := pub.CertificateStatusChanged(ca, record); err != nil {
				f.log.WithError(err).WithField("publisher", pub.Ident().Name).
					Warn("publisher rejected status change")
			}
		}()
	}
}

func (f *publisherFanout) certRemoved(ca *nameid.NameID, serial string) {
	for _, pub := range f.publishers {
		pub := pub
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			if err := pub.CertificateRemoved(ca, serial); err != nil {
				f.log.WithError(err).WithField("publisher", pub.Ident().Name).
					Warn("publisher rejected removal")
			}
		}()
	}
}

func (f *publisherFanout) crlAdded(ca *nameid.NameID, crlDER []byte) {
	for _, pub := range f.publishers {
		pub := pub
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			if err := pub.CrlAdded(ca, crlDER); err != nil {
				f.log.WithError(err).WithField("publisher", pub.Ident().Name).
					Warn("publisher rejected CRL")
			}
		}()
	}
}

// wait blocks until in-flight notifications are delivered. Used by shutdown
// and tests.
func (f *publisherFanout) wait() {
	f.wg.Wait()
}
