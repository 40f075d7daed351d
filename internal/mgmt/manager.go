package mgmt

import (
	"context"
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/frestoinc/xipki/internal/audit"
	"github.com/frestoinc/xipki/internal/ca"
	"github.com/frestoinc/xipki/internal/caerrors"
	"github.com/frestoinc/xipki/internal/certstore"
	"github.com/frestoinc/xipki/internal/crypto"
	"github.com/frestoinc/xipki/internal/kpgen"
	"github.com/frestoinc/xipki/internal/nameid"
	"github.com/frestoinc/xipki/internal/profile"
	"github.com/frestoinc/xipki/internal/uid"
)

// SystemStatus is the manager's state-machine state.
type SystemStatus string

const (
	StatusUninitialised   SystemStatus = "Uninitialised"
	StatusInitialising    SystemStatus = "Initialising"
	StatusStartedAsMaster SystemStatus = "StartedAsMaster"
	StatusStartedAsSlave  SystemStatus = "StartedAsSlave"
	StatusLockFailed      SystemStatus = "LockFailed"
	StatusError           SystemStatus = "Error"
)

// slavePollInterval is the CA_CHANGE polling period of a slave.
const slavePollInterval = 300 * time.Second

// ErrLockFailed reports that another master owns the cluster lock.
type ErrLockFailed struct {
	Owner string
}

func (e *ErrLockFailed) Error() string {
	return fmt.Sprintf("CA system is locked by instance %s; run unlock to take over", e.Owner)
}

// RestartSummary reports the per-CA outcome of a (re)start.
type RestartSummary struct {
	Started  []string
	Failed   []string
	Inactive []string
}

type profileEntry struct {
	prof *profile.Profile
	id   int
}

// Requestor is an authorised issuance caller.
type Requestor struct {
	Ident *nameid.NameID
	Cert  *x509.Certificate
}

// Manager owns all CA state. Sub-components receive short-lived borrowed
// handles; nothing holds a back-reference to the manager.
type Manager struct {
	confPath string

	mu     sync.RWMutex // guards registries; exclusive during restart
	status SystemStatus

	conf       *Conf
	instanceID string

	store    *certstore.Store
	auditLog *audit.Logger
	idgen    *uid.Generator

	// caIDs and profileIDs enforce the unique id <-> name mapping across
	// the whole registry, independent of the per-map keys.
	caIDs      *nameid.Registry
	profileIDs *nameid.Registry

	cas        map[string]*ca.CA
	caAliases  map[string]string
	profiles   map[string]*profileEntry
	publishers map[string]ca.Publisher
	requestors map[string]*Requestor
	kpgens     map[string]kpgen.Generator

	caHasProfiles   map[string]map[string]bool
	caHasPublishers map[string]map[string]bool
	caHasRequestors map[string]map[string]bool

	failedCaNames   []string
	inactiveCaNames []string

	lastStartTime time.Time

	stopCh  chan struct{}
	stopped sync.WaitGroup

	// slavePoll overrides slavePollInterval in tests.
	slavePoll time.Duration

	log *logrus.Entry
}

// NewManager creates an uninitialised manager for the given config file.
func NewManager(confPath string) *Manager {
	return &Manager{
		confPath:  confPath,
		status:    StatusUninitialised,
		slavePoll: slavePollInterval,
		log:       logrus.WithField("component", "camgr"),
	}
}

// Status returns the state-machine state.
func (m *Manager) Status() SystemStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// InstanceID returns the lock-id token identifying this instance.
func (m *Manager) InstanceID() string {
	return m.instanceID
}

// Start initialises the manager: config, store, cluster lock, CA system.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.status = StatusInitialising

	conf, err := LoadConf(m.confPath)
	if err != nil {
		m.status = StatusError
		return err
	}
	m.conf = conf

	if m.auditLog == nil && conf.AuditLog != "" {
		m.auditLog = audit.NewLogger(conf.Resolve(conf.AuditLog))
	}

	instanceID, err := loadOrCreateLockID(conf.Resolve(conf.LockFile))
	if err != nil {
		m.status = StatusError
		return err
	}
	m.instanceID = instanceID

	store, err := certstore.Open(conf.Resolve(conf.StorePath))
	if err != nil {
		m.status = StatusError
		return err
	}
	m.store = store

	if err := m.initSchema(); err != nil {
		m.status = StatusError
		return err
	}

	if conf.Master {
		if err := m.acquireLock(); err != nil {
			m.status = StatusLockFailed
			return err
		}
	}

	idgen, err := uid.New(conf.ShardID)
	if err != nil {
		m.status = StatusError
		return err
	}
	m.idgen = idgen

	summary := m.startCaSystem()
	m.lastStartTime = time.Now()

	m.stopCh = make(chan struct{})
	if conf.Master {
		m.status = StatusStartedAsMaster
		m.startCrlSchedulers()
	} else {
		m.status = StatusStartedAsSlave
		m.startSlaveWatcher()
	}

	m.log.WithFields(logrus.Fields{
		"status":   m.status,
		"started":  summary.Started,
		"failed":   summary.Failed,
		"inactive": summary.Inactive,
	}).Info("CA system started")
	return nil
}

func (m *Manager) initSchema() error {
	defaults := map[string]string{
		"VERSION":         "9",
		"VENDOR":          "XIPKI",
		"X500NAME_MAXLEN": "350",
	}
	for key, value := range defaults {
		existing, err := m.store.GetDbSchema(key)
		if err != nil {
			return err
		}
		if existing == "" {
			if err := m.store.SetDbSchema(key, value); err != nil {
				return err
			}
		}
	}

	algo := strings.ToUpper(m.conf.CertHashAlgo)
	if algo == "" {
		algo = "SHA256"
	}
	return m.store.SetDbSchema(certstore.SchemaKeyCertHashAlgo, algo)
}

func loadOrCreateLockID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read lock file: %w", err)
	}

	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("failed to write lock file: %w", err)
	}
	return id, nil
}

// acquireLock takes the LOCK system event. A row owned by a different
// instance refuses the start.
func (m *Manager) acquireLock() error {
	event, err := m.store.GetSystemEvent(certstore.EventLock)
	if err != nil {
		return caerrors.Wrap(caerrors.DatabaseFailure, "failed to read lock event", err)
	}
	if event != nil && event.Owner != m.instanceID {
		return &ErrLockFailed{Owner: event.Owner}
	}
	return m.store.ChangeSystemEvent(&certstore.SystemEvent{
		Name:  certstore.EventLock,
		Owner: m.instanceID,
		Time:  time.Now().Unix(),
	})
}

// UnlockCaSystem wipes the LOCK event. Destructive: the current master will
// not notice until its next restart.
func (m *Manager) UnlockCaSystem() error {
	if err := m.store.DeleteSystemEvent(certstore.EventLock); err != nil {
		return caerrors.Wrap(caerrors.DatabaseFailure, "failed to delete lock event", err)
	}
	_ = m.auditLog.Log(audit.EventSystemUnlocked, true, "", "", "", nil)
	return nil
}

// startCaSystem loads all registries and activates the CAs. Callers hold the
// write lock.
func (m *Manager) startCaSystem() RestartSummary {
	m.caIDs = nameid.NewRegistry()
	m.profileIDs = nameid.NewRegistry()
	m.cas = make(map[string]*ca.CA)
	m.caAliases = make(map[string]string)
	m.profiles = make(map[string]*profileEntry)
	m.publishers = make(map[string]ca.Publisher)
	m.requestors = make(map[string]*Requestor)
	m.kpgens = make(map[string]kpgen.Generator)
	m.caHasProfiles = make(map[string]map[string]bool)
	m.caHasPublishers = make(map[string]map[string]bool)
	m.caHasRequestors = make(map[string]map[string]bool)
	m.failedCaNames = nil
	m.inactiveCaNames = nil

	var summary RestartSummary

	for _, entry := range m.conf.Profiles {
		conf, err := profile.LoadConf(m.conf.Resolve(entry.File))
		if err != nil {
			m.log.WithError(err).WithField("profile", entry.Name).Error("failed to load profile")
			continue
		}
		prof, err := profile.Initialize(conf)
		if err != nil {
			m.log.WithError(err).WithField("profile", entry.Name).Error("invalid profile")
			continue
		}
		if err := m.profileIDs.Add(entry.ID, entry.Name); err != nil {
			m.log.WithError(err).WithField("profile", entry.Name).Error("profile identity rejected")
			continue
		}
		m.profiles[entry.Name] = &profileEntry{prof: prof, id: entry.ID}
		_ = m.store.AddNameID("profile", entry.ID, entry.Name)
	}

	for _, entry := range m.conf.Requestors {
		requestor := &Requestor{Ident: nameid.MustNew(entry.ID, entry.Name)}
		if entry.CertFile != "" {
			cert, err := loadCertPEM(m.conf.Resolve(entry.CertFile))
			if err != nil {
				m.log.WithError(err).WithField("requestor", entry.Name).Error("failed to load requestor cert")
				continue
			}
			requestor.Cert = cert
		}
		m.requestors[entry.Name] = requestor
		_ = m.store.AddNameID("requestor", entry.ID, entry.Name)
	}

	for _, entry := range m.conf.Publishers {
		switch entry.Type {
		case "fs":
			pub, err := ca.NewFSPublisher(nameid.MustNew(entry.ID, entry.Name), m.conf.Resolve(entry.Directory))
			if err != nil {
				m.log.WithError(err).WithField("publisher", entry.Name).Error("failed to create publisher")
				continue
			}
			m.publishers[entry.Name] = pub
		default:
			m.log.WithField("publisher", entry.Name).Errorf("unknown publisher type %q", entry.Type)
		}
	}

	for _, entry := range m.conf.KeypairGens {
		switch entry.Type {
		case "software":
			m.kpgens[entry.Name] = kpgen.NewSoftware(entry.Name)
		default:
			m.log.WithField("keypairGen", entry.Name).Errorf("unknown keypair generator type %q", entry.Type)
		}
	}
	if len(m.kpgens) == 0 {
		m.kpgens["software"] = kpgen.NewSoftware("software")
	}

	for _, entry := range m.conf.CAs {
		if strings.EqualFold(entry.Status, string(ca.StatusInactive)) {
			m.inactiveCaNames = append(m.inactiveCaNames, entry.Name)
			summary.Inactive = append(summary.Inactive, entry.Name)
			continue
		}
		if err := m.activateCa(entry); err != nil {
			m.log.WithError(err).WithField("ca", entry.Name).Error("failed to start CA")
			m.caIDs.Remove(entry.ID)
			m.failedCaNames = append(m.failedCaNames, entry.Name)
			summary.Failed = append(summary.Failed, entry.Name)
			continue
		}
		summary.Started = append(summary.Started, entry.Name)
	}

	return summary
}

func (m *Manager) activateCa(entry CaEntryConf) error {
	if err := m.caIDs.Add(entry.ID, entry.Name); err != nil {
		return err
	}

	cert, err := loadCertPEM(m.conf.Resolve(entry.CertFile))
	if err != nil {
		return err
	}

	algo, err := crypto.ParseSignAlgo(entry.SignatureAlgorithm)
	if err != nil {
		return err
	}

	var signer crypto.Signer
	if entry.Token != nil {
		tokenSigner, err := crypto.OpenTokenSigner(*entry.Token, algo, cert.PublicKey)
		if err != nil {
			return err
		}
		signer = tokenSigner
	} else {
		key, err := crypto.LoadEncryptedKey(m.conf.Resolve(entry.KeyFile), []byte(entry.KeyPassword))
		if err != nil {
			return err
		}
		signer, err = crypto.NewSoftwareSigner(key, algo)
		if err != nil {
			return err
		}
	}

	validityMode, err := ca.ParseValidityMode(entry.ValidityMode)
	if err != nil {
		return err
	}
	maxValidity, err := parseDuration(entry.MaxValidity)
	if err != nil {
		return err
	}

	info := &ca.CaInfo{
		Ident:        nameid.MustNew(entry.ID, entry.Name),
		Cert:         cert,
		Signers:      crypto.NewSignerSet(crypto.NewConcurrentSigner(entry.Name+"-signer", signer, entry.SignerParallelism)),
		MaxValidity:  maxValidity,
		ValidityMode: validityMode,
		ExtraControl: entry.ExtraControl,
		CrlControl:   entry.CrlControl,
		CACertURIs:   entry.CACertURIs,
		OCSPURIs:     entry.OCSPURIs,
		CRLURIs:      entry.CRLURIs,
		DeltaCRLURIs: entry.DeltaCRLURIs,
	}
	if entry.NoNewCertificateBefore != "" {
		head, err := parseDuration(entry.NoNewCertificateBefore)
		if err != nil {
			return err
		}
		info.NoNewCertificateAfter = cert.NotAfter.Add(-head)
	}
	if err := info.Complete(); err != nil {
		return err
	}

	issuer, err := m.store.GetIssuer(entry.ID)
	if err == nil {
		info.RevocationInfo = issuer.Revocation
	} else {
		if err := m.store.AddIssuer(&certstore.IssuerRecord{
			ID:        entry.ID,
			Subject:   info.C14nSubject(),
			NotBefore: cert.NotBefore,
			NotAfter:  cert.NotAfter,
			Sha1Fp:    sha1Hex(cert.Raw),
			Raw:       cert.Raw,
		}); err != nil {
			return err
		}
	}

	boundProfiles := make(map[string]bool)
	resolver := func(name string) (*profile.Profile, int, bool) {
		if !boundProfiles[name] {
			return nil, 0, false
		}
		entry, ok := m.profiles[name]
		if !ok {
			return nil, 0, false
		}
		return entry.prof, entry.id, true
	}

	var publishers []ca.Publisher
	for _, name := range entry.Publishers {
		pub, ok := m.publishers[name]
		if !ok {
			return fmt.Errorf("unknown publisher %q", name)
		}
		publishers = append(publishers, pub)
	}

	var generators []kpgen.Generator
	for _, g := range m.kpgens {
		generators = append(generators, g)
	}

	instance, err := ca.New(ca.Config{
		Info:         info,
		Store:        m.store,
		IDGenerator:  m.idgen,
		Profiles:     resolver,
		KeypairGens:  generators,
		Publishers:   publishers,
		AuditLogger:  m.auditLog,
		CertHashAlgo: m.conf.CertHashAlgo,
	})
	if err != nil {
		return err
	}

	profileSet := make(map[string]bool)
	for _, name := range entry.Profiles {
		if _, ok := m.profiles[name]; !ok {
			return fmt.Errorf("unknown profile %q", name)
		}
		profileSet[name] = true
		boundProfiles[name] = true
	}

	caKey := strings.ToLower(entry.Name)
	m.cas[caKey] = instance
	m.caHasProfiles[caKey] = profileSet

	pubSet := make(map[string]bool)
	for _, name := range entry.Publishers {
		pubSet[name] = true
	}
	m.caHasPublishers[caKey] = pubSet

	reqSet := make(map[string]bool)
	for _, name := range entry.Requestors {
		if _, ok := m.requestors[name]; !ok {
			return fmt.Errorf("unknown requestor %q", name)
		}
		reqSet[strings.ToLower(name)] = true
	}
	m.caHasRequestors[caKey] = reqSet

	for _, alias := range entry.Aliases {
		m.caAliases[strings.ToLower(alias)] = caKey
	}
	return nil
}

// RestartCaSystem tears down all CAs and rebuilds from the persisted
// configuration, then emits CA_CHANGE so slaves follow.
func (m *Manager) RestartCaSystem() (RestartSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.store == nil {
		return RestartSummary{}, fmt.Errorf("manager is shut down")
	}

	m.teardownLocked()

	conf, err := LoadConf(m.confPath)
	if err != nil {
		m.status = StatusError
		return RestartSummary{}, err
	}
	m.conf = conf

	summary := m.startCaSystem()
	m.lastStartTime = time.Now()

	m.stopCh = make(chan struct{})
	if conf.Master {
		m.status = StatusStartedAsMaster
		m.startCrlSchedulers()
	} else {
		m.status = StatusStartedAsSlave
		m.startSlaveWatcher()
	}

	// Only the master announces changes; a slave restarting in response to
	// CA_CHANGE must not re-trigger the cluster.
	if conf.Master {
		if err := m.notifyCaChangeLocked(); err != nil {
			m.log.WithError(err).Warn("failed to emit CA_CHANGE")
		}
	}
	_ = m.auditLog.Log(audit.EventSystemRestarted, true, "", "", "", map[string]string{
		"started": strings.Join(summary.Started, ","),
		"failed":  strings.Join(summary.Failed, ","),
	})
	return summary, nil
}

func (m *Manager) teardownLocked() {
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
	m.stopped.Wait()

	for _, instance := range m.cas {
		instance.Close()
	}
	m.cas = nil
}

// NotifyCaChange updates the CA_CHANGE event timestamp.
func (m *Manager) NotifyCaChange() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.notifyCaChangeLocked()
}

func (m *Manager) notifyCaChangeLocked() error {
	return m.store.ChangeSystemEvent(&certstore.SystemEvent{
		Name:  certstore.EventCaChange,
		Owner: m.instanceID,
		Time:  time.Now().Unix(),
	})
}

// startSlaveWatcher polls CA_CHANGE and restarts when the master signalled a
// configuration change after our last start.
func (m *Manager) startSlaveWatcher() {
	stopCh := m.stopCh
	m.stopped.Add(1)
	go func() {
		defer m.stopped.Done()
		ticker := time.NewTicker(m.slavePoll)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				event, err := m.store.GetSystemEvent(certstore.EventCaChange)
				if err != nil {
					m.log.WithError(err).Warn("failed to poll CA_CHANGE, retrying next tick")
					continue
				}
				if event == nil {
					continue
				}
				m.mu.RLock()
				stale := event.Time > m.lastStartTime.Unix()
				m.mu.RUnlock()
				if stale {
					m.log.Info("CA_CHANGE detected, restarting CA system")
					// Restart from a fresh goroutine: teardown waits for
					// this watcher to exit.
					go func() {
						if _, err := m.RestartCaSystem(); err != nil {
							m.log.WithError(err).Error("slave restart failed")
						}
					}()
					return
				}
			}
		}
	}()
}

// startCrlSchedulers runs the per-CA periodic CRL generation.
func (m *Manager) startCrlSchedulers() {
	stopCh := m.stopCh
	for name, instance := range m.cas {
		control := instance.Info().CrlControl
		if control == nil || control.Interval <= 0 {
			continue
		}
		name, instance := name, instance
		m.stopped.Add(1)
		go func() {
			defer m.stopped.Done()
			ticker := time.NewTicker(control.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-stopCh:
					return
				case <-ticker.C:
					if _, err := instance.GenerateCrl(context.Background()); err != nil {
						m.log.WithError(err).WithField("ca", name).Error("scheduled CRL generation failed")
					}
				}
			}
		}()
	}
}

// Shutdown stops schedulers and closes the store.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
	if m.store != nil {
		_ = m.store.Close()
		m.store = nil
	}
	m.status = StatusUninitialised
}

// GetCa resolves a CA by name or alias.
func (m *Manager) GetCa(name string) (*ca.CA, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := strings.ToLower(strings.TrimSpace(name))
	if target, ok := m.caAliases[key]; ok {
		key = target
	}
	instance, ok := m.cas[key]
	if !ok {
		return nil, caerrors.Errorf(caerrors.BadRequest, "unknown CA %q", name)
	}
	return instance, nil
}

// CaNames lists active CA names.
func (m *Manager) CaNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.cas))
	for name := range m.cas {
		names = append(names, name)
	}
	return names
}

// FailedCaNames lists CAs that failed to start.
func (m *Manager) FailedCaNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.failedCaNames...)
}

// InactiveCaNames lists configured but inactive CAs.
func (m *Manager) InactiveCaNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.inactiveCaNames...)
}

// CaNameByID resolves a CA id to its registered name.
func (m *Manager) CaNameByID(id int) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.caIDs == nil {
		return "", false
	}
	return m.caIDs.IDToName(id)
}

// ProfileNames lists registered profile names.
func (m *Manager) ProfileNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.profiles))
	for name := range m.profiles {
		names = append(names, name)
	}
	return names
}

// Store exposes the cert store for the OCSP responder and the API layer.
func (m *Manager) Store() *certstore.Store {
	return m.store
}

// GenerateCertificate issues a certificate after checking the requestor's
// binding to the CA.
func (m *Manager) GenerateCertificate(
	ctx context.Context, requestorName, caName string, data *ca.CertTemplateData,
) (*ca.IssuedCert, error) {
	instance, err := m.GetCa(caName)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	requestorOK := false
	if bindings, ok := m.caHasRequestors[strings.ToLower(instance.Info().Ident.Name)]; ok {
		requestorOK = bindings[strings.ToLower(requestorName)]
	}
	m.mu.RUnlock()
	if !requestorOK {
		return nil, caerrors.Errorf(caerrors.NotPermitted,
			"requestor %q is not authorised for CA %q", requestorName, caName)
	}

	return instance.Generate(ctx, data)
}

// RevokeCertificate revokes one certificate.
func (m *Manager) RevokeCertificate(caName string, serial *big.Int, reason certstore.CrlReason, invalidityTime *time.Time) error {
	instance, err := m.GetCa(caName)
	if err != nil {
		return err
	}
	return instance.Revoke(serial, reason, invalidityTime)
}

// UnsuspendCertificate releases one certificate from hold.
func (m *Manager) UnsuspendCertificate(caName string, serial *big.Int) error {
	instance, err := m.GetCa(caName)
	if err != nil {
		return err
	}
	return instance.Unsuspend(serial)
}

// RemoveCertificate deletes one certificate row.
func (m *Manager) RemoveCertificate(caName string, serial *big.Int) error {
	instance, err := m.GetCa(caName)
	if err != nil {
		return err
	}
	return instance.Remove(serial)
}

// GenerateCrl produces a CRL on demand.
func (m *Manager) GenerateCrl(ctx context.Context, caName string) ([]byte, error) {
	instance, err := m.GetCa(caName)
	if err != nil {
		return nil, err
	}
	return instance.GenerateCrl(ctx)
}

// RevokeCa revokes a CA; issued certificates inherit at OCSP time.
func (m *Manager) RevokeCa(caName string, rev *certstore.RevocationInfo) error {
	instance, err := m.GetCa(caName)
	if err != nil {
		return err
	}
	return instance.RevokeCa(rev)
}

// UnrevokeCa clears a CA revocation.
func (m *Manager) UnrevokeCa(caName string) error {
	instance, err := m.GetCa(caName)
	if err != nil {
		return err
	}
	return instance.UnrevokeCa()
}

func sha1Hex(der []byte) string {
	sum := sha1.Sum(der)
	return hex.EncodeToString(sum[:])
}

func loadCertPEM(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("no certificate found in %s", path)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}
