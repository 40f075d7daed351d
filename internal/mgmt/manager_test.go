package mgmt

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frestoinc/xipki/internal/ca"
	"github.com/frestoinc/xipki/internal/caerrors"
	"github.com/frestoinc/xipki/internal/certstore"
	"github.com/frestoinc/xipki/internal/crypto"
	"github.com/frestoinc/xipki/internal/x509util"
)

const testProfileYAML = `
name: ee
certLevel: EndEntity
validity: 365d
signatureAlgorithms: [Ed25519]
subject:
  rdns:
    - type: cn
      required: true
extensions:
  keyUsage:
    critical: true
    required: true
    usages:
      - name: digitalSignature
        required: true
`

// writeTestSetup creates a CA cert + encrypted key + profile + manager conf
// in dir and returns the conf path.
func writeTestSetup(t *testing.T, dir string, master bool) string {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Manager Test CA"},
		NotBefore:             time.Now().Add(-time.Hour).UTC(),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour).UTC(),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		SubjectKeyId:          bytes.Repeat([]byte{7}, 20),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	require.NoError(t, err)

	certPath := filepath.Join(dir, "ca.crt")
	certFile, err := os.Create(certPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(certFile, &pem.Block{Type: "CERTIFICATE", Bytes: der}))
	require.NoError(t, certFile.Close())

	keyPath := filepath.Join(dir, "ca.key")
	require.NoError(t, crypto.SaveEncryptedKey(keyPath, priv, []byte("test-password")))

	profilePath := filepath.Join(dir, "ee.yaml")
	require.NoError(t, os.WriteFile(profilePath, []byte(testProfileYAML), 0644))

	conf := fmt.Sprintf(`
master: %v
shardId: 1
storePath: certstore.db
lockFile: lock.id
auditLog: audit.log
certHashAlgo: SHA256
profiles:
  - name: ee
    id: 1
    file: ee.yaml
requestors:
  - name: ra1
    id: 1
cas:
  - name: testca
    id: 1
    certFile: ca.crt
    keyFile: ca.key
    keyPassword: test-password
    signatureAlgorithm: Ed25519
    validityMode: cutoff
    maxValidity: 3650d
    profiles: [ee]
    requestors: [ra1]
    aliases: [default]
`, master)
	confPath := filepath.Join(dir, "ca-conf.yaml")
	require.NoError(t, os.WriteFile(confPath, []byte(conf), 0644))
	return confPath
}

func TestManagerStartAsMaster(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(writeTestSetup(t, dir, true))
	require.NoError(t, m.Start())
	defer m.Shutdown()

	assert.Equal(t, StatusStartedAsMaster, m.Status())
	assert.NotEmpty(t, m.InstanceID())
	assert.ElementsMatch(t, []string{"testca"}, m.CaNames())
	assert.Empty(t, m.FailedCaNames())

	event, err := m.Store().GetSystemEvent(certstore.EventLock)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, m.InstanceID(), event.Owner)
}

func TestManagerLockRefusedForForeignOwner(t *testing.T) {
	dir := t.TempDir()
	confPath := writeTestSetup(t, dir, true)

	m1 := NewManager(confPath)
	require.NoError(t, m1.Start())
	m1.Shutdown() // lock event survives shutdown

	// A different instance (fresh lock file) must refuse to start.
	require.NoError(t, os.Remove(filepath.Join(dir, "lock.id")))
	m2 := NewManager(confPath)
	err := m2.Start()
	var lockErr *ErrLockFailed
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, StatusLockFailed, m2.Status())

	// Operator unlock clears the way.
	require.NoError(t, m2.UnlockCaSystem())
	m2.Shutdown()
	require.NoError(t, m2.Start())
	defer m2.Shutdown()
	assert.Equal(t, StatusStartedAsMaster, m2.Status())
}

func TestManagerRelockSameOwner(t *testing.T) {
	dir := t.TempDir()
	confPath := writeTestSetup(t, dir, true)

	m1 := NewManager(confPath)
	require.NoError(t, m1.Start())
	m1.Shutdown()

	// Same lock file: the instance re-locks.
	m2 := NewManager(confPath)
	require.NoError(t, m2.Start())
	defer m2.Shutdown()
	assert.Equal(t, StatusStartedAsMaster, m2.Status())
}

func TestManagerIssuanceWithRequestorBinding(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(writeTestSetup(t, dir, true))
	require.NoError(t, m.Start())
	defer m.Shutdown()

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	spki, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)

	data := &ca.CertTemplateData{
		Subject: pkix.RDNSequence{
			{pkix.AttributeTypeAndValue{Type: x509util.OIDDNCommonName, Value: "alice"}},
		},
		PublicKey:   spki,
		ProfileName: "ee",
	}

	issued, err := m.GenerateCertificate(context.Background(), "ra1", "default", data)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(issued.CertDER)
	require.NoError(t, err)
	assert.Equal(t, "alice", cert.Subject.CommonName)

	_, err = m.GenerateCertificate(context.Background(), "intruder", "testca", data)
	assert.True(t, caerrors.IsCode(err, caerrors.NotPermitted))
}

func TestManagerRestartEmitsCaChange(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(writeTestSetup(t, dir, true))
	require.NoError(t, m.Start())
	defer m.Shutdown()

	before, err := m.Store().GetSystemEvent(certstore.EventCaChange)
	require.NoError(t, err)
	assert.Nil(t, before)

	summary, err := m.RestartCaSystem()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"testca"}, summary.Started)
	assert.Empty(t, summary.Failed)

	after, err := m.Store().GetSystemEvent(certstore.EventCaChange)
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, m.InstanceID(), after.Owner)
}

func TestManagerSlaveRestartsOnCaChange(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(writeTestSetup(t, dir, false))
	m.slavePoll = 50 * time.Millisecond
	require.NoError(t, m.Start())
	defer m.Shutdown()

	require.Equal(t, StatusStartedAsSlave, m.Status())

	m.mu.RLock()
	firstStart := m.lastStartTime
	m.mu.RUnlock()

	// Simulate a master's change notification from the future.
	require.NoError(t, m.Store().ChangeSystemEvent(&certstore.SystemEvent{
		Name:  certstore.EventCaChange,
		Owner: "other-instance",
		Time:  time.Now().Add(time.Minute).Unix(),
	}))

	require.Eventually(t, func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.lastStartTime.After(firstStart)
	}, 5*time.Second, 20*time.Millisecond, "slave should restart after CA_CHANGE")
}

func TestManagerExportImportRoundtrip(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(writeTestSetup(t, dir, true))
	require.NoError(t, m.Start())
	defer m.Shutdown()

	var buf bytes.Buffer
	require.NoError(t, m.ExportConf(&buf))

	summary, err := m.ImportConf(buf.Bytes())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"testca"}, summary.Started)
}

func TestManagerImportRejectsBrokenArchivePreservingState(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(writeTestSetup(t, dir, true))
	require.NoError(t, m.Start())
	defer m.Shutdown()

	_, err := m.ImportConf([]byte("not a zip"))
	require.Error(t, err)

	// Live state unchanged.
	assert.Equal(t, StatusStartedAsMaster, m.Status())
	assert.ElementsMatch(t, []string{"testca"}, m.CaNames())
}

func TestManagerFailedCaListedSeparately(t *testing.T) {
	dir := t.TempDir()
	confPath := writeTestSetup(t, dir, true)

	// Break the CA key so activation fails, but keep the rest intact.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ca.key"), []byte("garbage"), 0600))

	m := NewManager(confPath)
	require.NoError(t, m.Start())
	defer m.Shutdown()

	assert.Equal(t, StatusStartedAsMaster, m.Status())
	assert.Empty(t, m.CaNames())
	assert.ElementsMatch(t, []string{"testca"}, m.FailedCaNames())

	_, err := m.GetCa("testca")
	assert.True(t, caerrors.IsCode(err, caerrors.BadRequest))
}
