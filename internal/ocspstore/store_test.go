package ocspstore

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frestoinc/xipki/internal/certstore"
)

func newIssuerCert(t *testing.T, cn string) *x509.Certificate {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(7),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:              time.Date(2034, 1, 1, 0, 0, 0, 0, time.UTC),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
		SubjectKeyId:          []byte{1, 2, 3, 4},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

type fixture struct {
	store *Store
	db    *certstore.Store
	cert  *x509.Certificate
	req   *RequestIssuer
	caID  int
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	db, err := certstore.Open(filepath.Join(t.TempDir(), "ocsp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.SetDbSchema(certstore.SchemaKeyCertHashAlgo, "SHA256"))

	cert := newIssuerCert(t, "OCSP Test CA")
	sum := sha1.Sum(cert.Raw)
	require.NoError(t, db.AddIssuer(&certstore.IssuerRecord{
		ID:        1,
		Subject:   cert.Subject.String(),
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		Sha1Fp:    hex.EncodeToString(sum[:]),
		Raw:       cert.Raw,
	}))

	if cfg.Name == "" {
		cfg.Name = "test"
	}
	store := NewStore(cfg, db)
	require.NoError(t, store.Init())
	t.Cleanup(store.Close)

	req, err := RequestIssuerFromCert(HashSHA1, cert)
	require.NoError(t, err)

	return &fixture{store: store, db: db, cert: cert, req: req, caID: 1}
}

func addCert(t *testing.T, db *certstore.Store, id int64, serial string, rev *certstore.RevocationInfo) {
	t.Helper()
	rec := &certstore.CertRecord{
		ID:        id,
		IssuerID:  1,
		Serial:    serial,
		Subject:   "cn=leaf",
		NotBefore: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:  time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		CertHash:  "c2FtcGxlLWhhc2g=",
	}
	if rev != nil {
		rec.Revoked = true
		rec.Revocation = rev
	}
	require.NoError(t, db.AddCert(rec))
}

func TestNonPositiveSerialIsUnknownS6(t *testing.T) {
	f := newFixture(t, Config{})

	info, err := f.store.GetCertStatus(time.Now(), f.req, big.NewInt(0), false, false, false)
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, info.Status)

	info, err = f.store.GetCertStatus(time.Now(), f.req, big.NewInt(-5), false, false, false)
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, info.Status)
}

func TestUnknownIssuerReturnsNil(t *testing.T) {
	f := newFixture(t, Config{})

	other := newIssuerCert(t, "Somebody Else")
	req, err := RequestIssuerFromCert(HashSHA1, other)
	require.NoError(t, err)

	info, err := f.store.GetCertStatus(time.Now(), req, big.NewInt(1), false, false, false)
	require.NoError(t, err)
	assert.Nil(t, info, "foreign issuer is not our responsibility")
	assert.False(t, f.store.KnowsIssuer(req))
	assert.True(t, f.store.KnowsIssuer(f.req))
	assert.Equal(t, f.cert.Raw, f.store.GetIssuerCert(f.req))
}

func TestGoodRevokedUnknownStatuses(t *testing.T) {
	f := newFixture(t, Config{})
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	addCert(t, f.db, 1, "aa", nil)
	revTime := time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC)
	addCert(t, f.db, 2, "bb", &certstore.RevocationInfo{
		Reason: certstore.ReasonKeyCompromise, RevocationTime: revTime,
	})

	info, err := f.store.GetCertStatus(now, f.req, big.NewInt(0xAA), true, true, false)
	require.NoError(t, err)
	assert.Equal(t, StatusGood, info.Status)
	assert.NotEmpty(t, info.CertHash)
	assert.Equal(t, "SHA256", info.CertHashAlgo)

	info, err = f.store.GetCertStatus(now, f.req, big.NewInt(0xBB), false, true, false)
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, info.Status)
	require.NotNil(t, info.Revocation)
	assert.Equal(t, certstore.ReasonKeyCompromise, info.Revocation.Reason)
	assert.True(t, info.Revocation.RevocationTime.Equal(revTime))

	info, err = f.store.GetCertStatus(now, f.req, big.NewInt(0xCC), false, false, false)
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, info.Status)
}

func TestIgnoreFilters(t *testing.T) {
	f := newFixture(t, Config{IgnoreNotYetValidCert: true, IgnoreExpiredCert: true})
	addCert(t, f.db, 1, "aa", nil)

	// Before notBefore.
	info, err := f.store.GetCertStatus(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), f.req, big.NewInt(0xAA), false, false, false)
	require.NoError(t, err)
	assert.Equal(t, StatusIgnore, info.Status)

	// After notAfter.
	info, err = f.store.GetCertStatus(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), f.req, big.NewInt(0xAA), false, false, false)
	require.NoError(t, err)
	assert.Equal(t, StatusIgnore, info.Status)

	// In between.
	info, err = f.store.GetCertStatus(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), f.req, big.NewInt(0xAA), false, false, false)
	require.NoError(t, err)
	assert.Equal(t, StatusGood, info.Status)
}

func TestCrlExpiredS7(t *testing.T) {
	f := newFixture(t, Config{IgnoreExpiredCrls: true})
	now := time.Now().UTC()

	require.NoError(t, f.db.AddCrlInfo(&certstore.CrlInfoRecord{
		ID: 9, IssuerID: 1, CrlNumber: 9,
		ThisUpdate: now.Add(-24 * time.Hour),
		NextUpdate: now.Add(3 * time.Minute), // expires within the 5 minute headroom
	}))

	// Bind the issuer to the CRL and refresh.
	issuer, err := f.db.GetIssuer(1)
	require.NoError(t, err)
	issuer.CrlID = 9
	require.NoError(t, f.db.AddIssuer(issuer))
	f.store.UpdateIssuerStore(true)

	addCert(t, f.db, 1, "aa", nil)
	info, err := f.store.GetCertStatus(now, f.req, big.NewInt(0xAA), false, false, false)
	require.NoError(t, err)
	assert.Equal(t, StatusCrlExpired, info.Status)
}

func TestCaRevocationInheritanceS5(t *testing.T) {
	f := newFixture(t, Config{})
	caRevTime := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, f.db.SetIssuerRevocation(1, &certstore.RevocationInfo{
		Reason: certstore.ReasonSuperseded, RevocationTime: caRevTime,
	}))
	f.store.UpdateIssuerStore(true)

	addCert(t, f.db, 1, "ab", nil) // serial 0xAB good in store

	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	info, err := f.store.GetCertStatus(at, f.req, big.NewInt(0xAB), false, false, true)
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, info.Status)
	require.NotNil(t, info.Revocation)
	// The inherited reason is always caCompromise unless the CA was revoked
	// with caCompromise already.
	assert.Equal(t, certstore.ReasonCACompromise, info.Revocation.Reason)
	assert.True(t, info.Revocation.RevocationTime.Equal(caRevTime))

	// Without inheritance the underlying status stands.
	info, err = f.store.GetCertStatus(at, f.req, big.NewInt(0xAB), false, false, false)
	require.NoError(t, err)
	assert.Equal(t, StatusGood, info.Status)
}

func TestCaRevocationInheritanceTable(t *testing.T) {
	caRevTime := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	type tc struct {
		name       string
		behaviour  UnknownCertBehaviour
		serial     int64
		setup      func(t *testing.T, f *fixture)
		wantStatus CertStatus
		wantCaRev  bool
	}

	tests := []tc{
		{
			name: "good replaced", behaviour: UnknownAsUnknown, serial: 0xA1,
			setup: func(t *testing.T, f *fixture) { addCert(t, f.db, 1, "a1", nil) },
			wantStatus: StatusRevoked, wantCaRev: true,
		},
		{
			name: "unknown kept under unknown behaviour", behaviour: UnknownAsUnknown, serial: 0xA2,
			setup:      func(t *testing.T, f *fixture) {},
			wantStatus: StatusUnknown, wantCaRev: false,
		},
		{
			name: "unknown replaced under good behaviour", behaviour: UnknownAsGood, serial: 0xA3,
			setup:      func(t *testing.T, f *fixture) {},
			wantStatus: StatusRevoked, wantCaRev: true,
		},
		{
			name: "revocation after CA revocation replaced", behaviour: UnknownAsUnknown, serial: 0xA4,
			setup: func(t *testing.T, f *fixture) {
				addCert(t, f.db, 1, "a4", &certstore.RevocationInfo{
					Reason:         certstore.ReasonKeyCompromise,
					RevocationTime: caRevTime.Add(7 * 24 * time.Hour),
				})
			},
			wantStatus: StatusRevoked, wantCaRev: true,
		},
		{
			name: "revocation before CA revocation kept", behaviour: UnknownAsUnknown, serial: 0xA5,
			setup: func(t *testing.T, f *fixture) {
				addCert(t, f.db, 1, "a5", &certstore.RevocationInfo{
					Reason:         certstore.ReasonKeyCompromise,
					RevocationTime: caRevTime.Add(-7 * 24 * time.Hour),
				})
			},
			wantStatus: StatusRevoked, wantCaRev: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{UnknownCertBehaviour: tt.behaviour})
			require.NoError(t, f.db.SetIssuerRevocation(1, &certstore.RevocationInfo{
				Reason: certstore.ReasonSuperseded, RevocationTime: caRevTime,
			}))
			f.store.UpdateIssuerStore(true)
			tt.setup(t, f)

			info, err := f.store.GetCertStatus(at, f.req, big.NewInt(tt.serial), false, false, true)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, info.Status)
			if tt.wantCaRev {
				require.NotNil(t, info.Revocation)
				assert.Equal(t, certstore.ReasonCACompromise, info.Revocation.Reason)
				assert.True(t, info.Revocation.RevocationTime.Equal(caRevTime))
			}
		})
	}
}

func TestCaRevocationWithCaCompromiseReusedUnchanged(t *testing.T) {
	f := newFixture(t, Config{})
	caRevTime := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	invalidity := caRevTime.Add(-time.Hour)

	require.NoError(t, f.db.SetIssuerRevocation(1, &certstore.RevocationInfo{
		Reason:         certstore.ReasonCACompromise,
		RevocationTime: caRevTime,
		InvalidityTime: &invalidity,
	}))
	f.store.UpdateIssuerStore(true)
	addCert(t, f.db, 1, "ab", nil)

	info, err := f.store.GetCertStatus(time.Now(), f.req, big.NewInt(0xAB), false, false, true)
	require.NoError(t, err)
	require.NotNil(t, info.Revocation)
	assert.Equal(t, certstore.ReasonCACompromise, info.Revocation.Reason)
	require.NotNil(t, info.Revocation.InvalidityTime)
	assert.True(t, info.Revocation.InvalidityTime.Equal(invalidity))
}

func TestArchiveCutoff(t *testing.T) {
	f := newFixture(t, Config{IncludeArchiveCutoff: true, RetentionInterval: -1})
	addCert(t, f.db, 1, "aa", nil)

	info, err := f.store.GetCertStatus(time.Now(), f.req, big.NewInt(0xAA), false, false, false)
	require.NoError(t, err)
	require.NotNil(t, info.ArchiveCutoff)
	assert.True(t, info.ArchiveCutoff.Equal(f.cert.NotBefore), "negative retention uses the CA's notBefore")
}

func TestRefreshFastPathKeepsGeneration(t *testing.T) {
	f := newFixture(t, Config{})

	gen := f.store.IssuerStore().Generation()
	f.store.UpdateIssuerStore(true)
	// Nothing changed: the fast path must not swap the issuer snapshot.
	// (CRL infos are reloaded wholesale, which bumps the generation once.)
	f.store.UpdateIssuerStore(true)
	assert.LessOrEqual(t, f.store.IssuerStore().Generation(), gen+2)

	// A revocation change forces the slow path.
	require.NoError(t, f.db.SetIssuerRevocation(1, &certstore.RevocationInfo{
		Reason: certstore.ReasonSuperseded, RevocationTime: time.Now().UTC(),
	}))
	sizeBefore := f.store.IssuerStore().Size()
	f.store.UpdateIssuerStore(true)
	assert.Equal(t, sizeBefore, f.store.IssuerStore().Size())
	issuer := f.store.IssuerStore().IssuerForID(1)
	require.NotNil(t, issuer)
	assert.NotNil(t, issuer.Revocation)
}

func TestDuplicateIssuerFailsUpdateKeepingOldSnapshot(t *testing.T) {
	f := newFixture(t, Config{})

	// A second row with the same certificate (same subject and key) must
	// fail the update and keep the previous snapshot serving.
	require.NoError(t, f.db.AddIssuer(&certstore.IssuerRecord{
		ID:        2,
		Subject:   f.cert.Subject.String(),
		NotBefore: f.cert.NotBefore,
		NotAfter:  f.cert.NotAfter,
		Sha1Fp:    "different",
		Raw:       f.cert.Raw,
	}))

	f.store.UpdateIssuerStore(true)
	assert.Equal(t, 1, f.store.IssuerStore().Size())
	assert.True(t, f.store.KnowsIssuer(f.req))
}

func TestIssuerFilterExcludes(t *testing.T) {
	db, err := certstore.Open(filepath.Join(t.TempDir(), "ocsp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.SetDbSchema(certstore.SchemaKeyCertHashAlgo, "SHA256"))

	cert := newIssuerCert(t, "Filtered CA")
	fp := sha1.Sum(cert.Raw)
	fpHex := hex.EncodeToString(fp[:])
	require.NoError(t, db.AddIssuer(&certstore.IssuerRecord{
		ID: 1, Subject: cert.Subject.String(), Sha1Fp: fpHex, Raw: cert.Raw,
		NotBefore: cert.NotBefore, NotAfter: cert.NotAfter,
	}))

	store := NewStore(Config{Name: "filtered", ExcludeIssuerFps: []string{fpHex}}, db)
	require.NoError(t, store.Init())
	t.Cleanup(store.Close)

	assert.Equal(t, 0, store.IssuerStore().Size())
}

func TestMissingCertHashAlgoFailsInit(t *testing.T) {
	db, err := certstore.Open(filepath.Join(t.TempDir(), "ocsp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := NewStore(Config{Name: "no-algo"}, db)
	err = store.Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CERTHASH_ALGO")
}

func TestSnapshotWarmStart(t *testing.T) {
	dir := t.TempDir()
	snapshotPath := filepath.Join(dir, "issuers.cbor")

	db, err := certstore.Open(filepath.Join(dir, "ocsp.db"))
	require.NoError(t, err)
	require.NoError(t, db.SetDbSchema(certstore.SchemaKeyCertHashAlgo, "SHA256"))

	cert := newIssuerCert(t, "Warm CA")
	fp := sha1.Sum(cert.Raw)
	require.NoError(t, db.AddIssuer(&certstore.IssuerRecord{
		ID: 1, Subject: cert.Subject.String(), Sha1Fp: hex.EncodeToString(fp[:]), Raw: cert.Raw,
		NotBefore: cert.NotBefore, NotAfter: cert.NotAfter,
	}))

	store := NewStore(Config{Name: "warm", SnapshotPath: snapshotPath}, db)
	require.NoError(t, store.Init())
	store.Close()
	require.NoError(t, db.Close())

	// Re-open and load only the snapshot, without a refresh from the DB; the
	// loaded index must already answer for the issuer.
	db2, err := certstore.Open(filepath.Join(dir, "ocsp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db2.Close() })

	store2 := NewStore(Config{Name: "warm2", SnapshotPath: snapshotPath}, db2)
	require.NoError(t, store2.loadSnapshot())
	assert.Equal(t, 1, store2.IssuerStore().Size())

	req, err := RequestIssuerFromCert(HashSHA1, cert)
	require.NoError(t, err)
	assert.True(t, store2.IssuerStore().KnowsIssuer(req))
}

func TestSnapshotAtomicityUnderConcurrentReaders(t *testing.T) {
	store := NewIssuerStore()

	certA := newIssuerCert(t, "Gen A")
	certB := newIssuerCert(t, "Gen B")

	entriesA := []*IssuerEntry{NewIssuerEntry(1, certA)}
	entriesB := []*IssuerEntry{NewIssuerEntry(2, certB), NewIssuerEntry(3, certA)}
	require.NoError(t, store.SetIssuers(entriesA))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			if i%2 == 0 {
				_ = store.SetIssuers(entriesB)
			} else {
				_ = store.SetIssuers(entriesA)
			}
		}
	}()

	// Readers must always observe a snapshot whose id set matches its
	// issuer list exactly, never a mix of two generations.
	for i := 0; i < 5000; i++ {
		view := store.view()
		require.Equal(t, len(view.issuers), len(view.ids), "ids and issuers from different generations")
		for _, issuer := range view.issuers {
			require.True(t, view.ids[issuer.ID], "issuer %d missing from its own generation's id set", issuer.ID)
		}
	}
	<-done
}
