package certstore

import (
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frestoinc/xipki/internal/caerrors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "certstore.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleCert(id int64, issuerID int, serial string) *CertRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return &CertRecord{
		ID:        id,
		IssuerID:  issuerID,
		Serial:    serial,
		Subject:   "CN=test",
		NotBefore: now,
		NotAfter:  now.Add(365 * 24 * time.Hour),
		ProfileID: 1,
	}
}

func TestAddCertUniqueSerial(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.AddCert(sampleCert(1, 1, "ab")))

	err := store.AddCert(sampleCert(2, 1, "ab"))
	require.ErrorIs(t, err, ErrDuplicate)

	// Same serial under another issuer is fine.
	require.NoError(t, store.AddCert(sampleCert(3, 2, "ab")))
}

func TestGetCert(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.AddCert(sampleCert(1, 1, "ab")))

	rec, err := store.GetCert(1, "ab")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ID)
	assert.Equal(t, "CN=test", rec.Subject)

	_, err = store.GetCert(1, "ff")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestChangeRevocationTransitions(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.AddCert(sampleCert(1, 1, "ab")))
	now := time.Now().UTC()

	// good -> hold
	rec, err := store.ChangeRevocation(1, "ab", RevocationOp{Reason: ReasonCertificateHold, RevocationTime: now})
	require.NoError(t, err)
	assert.True(t, rec.Revoked)
	assert.Equal(t, ReasonCertificateHold, rec.Revocation.Reason)

	// hold -> keyCompromise (allowed)
	rec, err = store.ChangeRevocation(1, "ab", RevocationOp{Reason: ReasonKeyCompromise, RevocationTime: now})
	require.NoError(t, err)
	assert.Equal(t, ReasonKeyCompromise, rec.Revocation.Reason)

	// revoked (non-hold) -> revoke again: not permitted
	_, err = store.ChangeRevocation(1, "ab", RevocationOp{Reason: ReasonSuperseded, RevocationTime: now})
	assert.True(t, caerrors.IsCode(err, caerrors.NotPermitted))
}

func TestUnsuspendOnlyFromHold(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.AddCert(sampleCert(1, 1, "ab")))
	now := time.Now().UTC()

	// removeFromCRL on a good certificate: not permitted.
	_, err := store.ChangeRevocation(1, "ab", RevocationOp{Reason: ReasonRemoveFromCRL, RevocationTime: now})
	require.True(t, caerrors.IsCode(err, caerrors.NotPermitted))

	// Hold, then release.
	_, err = store.ChangeRevocation(1, "ab", RevocationOp{Reason: ReasonCertificateHold, RevocationTime: now})
	require.NoError(t, err)
	rec, err := store.ChangeRevocation(1, "ab", RevocationOp{Reason: ReasonRemoveFromCRL, RevocationTime: now})
	require.NoError(t, err)
	assert.False(t, rec.Revoked)
	assert.Nil(t, rec.Revocation)

	// removeFromCRL on a keyCompromise-revoked certificate: not permitted.
	_, err = store.ChangeRevocation(1, "ab", RevocationOp{Reason: ReasonKeyCompromise, RevocationTime: now})
	require.NoError(t, err)
	_, err = store.ChangeRevocation(1, "ab", RevocationOp{Reason: ReasonRemoveFromCRL, RevocationTime: now})
	assert.True(t, caerrors.IsCode(err, caerrors.NotPermitted))
}

func TestRemoveCert(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.AddCert(sampleCert(1, 1, "ab")))

	rec, err := store.RemoveCert(1, "ab")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ID)

	_, err = store.GetCert(1, "ab")
	require.ErrorIs(t, err, ErrNotFound)

	// The serial becomes reusable.
	require.NoError(t, store.AddCert(sampleCert(2, 1, "ab")))
}

func TestNextCrlNumberMonotonic(t *testing.T) {
	store := newTestStore(t)

	first, err := store.NextCrlNumber(1)
	require.NoError(t, err)
	second, err := store.NextCrlNumber(1)
	require.NoError(t, err)
	assert.Equal(t, first+1, second)

	// Independent per CA.
	other, err := store.NextCrlNumber(2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), other)
}

func TestListRevokedOrder(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	serials := []string{"0a", "0b", "0c", "0d"}
	for i, serial := range serials {
		require.NoError(t, store.AddCert(sampleCert(int64(i+1), 1, serial)))
	}

	// Revoke out of order: 0c and 0a share a revocation time; 0b later.
	_, err := store.ChangeRevocation(1, "0c", RevocationOp{Reason: ReasonKeyCompromise, RevocationTime: base})
	require.NoError(t, err)
	_, err = store.ChangeRevocation(1, "0a", RevocationOp{Reason: ReasonKeyCompromise, RevocationTime: base})
	require.NoError(t, err)
	_, err = store.ChangeRevocation(1, "0b", RevocationOp{Reason: ReasonSuperseded, RevocationTime: base.Add(time.Hour)})
	require.NoError(t, err)

	revoked, err := store.ListRevoked(1)
	require.NoError(t, err)
	require.Len(t, revoked, 3)

	// Ordered by (revocationTime, serial).
	assert.Equal(t, "0a", revoked[0].Serial)
	assert.Equal(t, "0c", revoked[1].Serial)
	assert.Equal(t, "0b", revoked[2].Serial)
}

func TestSystemEvents(t *testing.T) {
	store := newTestStore(t)

	event, err := store.GetSystemEvent(EventLock)
	require.NoError(t, err)
	assert.Nil(t, event)

	require.NoError(t, store.ChangeSystemEvent(&SystemEvent{Name: EventLock, Owner: "node-1", Time: 12345}))
	event, err = store.GetSystemEvent(EventLock)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "node-1", event.Owner)

	require.NoError(t, store.DeleteSystemEvent(EventLock))
	event, err = store.GetSystemEvent(EventLock)
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestDbSchemaReservedKeys(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SetDbSchema("VERSION", "9"))
	err := store.SetDbSchema("VERSION", "10")
	assert.True(t, caerrors.IsCode(err, caerrors.NotPermitted))

	require.NoError(t, store.SetDbSchema(SchemaKeyCertHashAlgo, "SHA256"))
	require.NoError(t, store.SetDbSchema(SchemaKeyCertHashAlgo, "SHA512"))
	value, err := store.GetDbSchema(SchemaKeyCertHashAlgo)
	require.NoError(t, err)
	assert.Equal(t, "SHA512", value)
}

func TestPublishQueue(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.EnqueuePublish(PublishQueueEntry{CertID: 1, PublisherID: 1}))
	require.NoError(t, store.EnqueuePublish(PublishQueueEntry{CertID: 2, PublisherID: 1}))

	entries, err := store.DrainPublishQueue(0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, err = store.DrainPublishQueue(0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNormSerial(t *testing.T) {
	assert.Equal(t, "ab", NormSerial(big.NewInt(0xAB)))
	assert.Equal(t, "1234567890abcdef", NormSerial(big.NewInt(0x1234567890ABCDEF)))
}
