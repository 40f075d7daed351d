package ca

import (
	"context"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/frestoinc/xipki/internal/audit"
	"github.com/frestoinc/xipki/internal/caerrors"
	"github.com/frestoinc/xipki/internal/certstore"
	"github.com/frestoinc/xipki/internal/crypto"
	"github.com/frestoinc/xipki/internal/kpgen"
	"github.com/frestoinc/xipki/internal/profile"
	"github.com/frestoinc/xipki/internal/uid"
	"github.com/frestoinc/xipki/internal/x509util"
)

// ProfileResolver looks up an active profile and its registered id by name.
type ProfileResolver func(name string) (*profile.Profile, int, bool)

// CA is one active certificate authority instance. It is created by the CA
// manager on activation and destroyed on restart or removal.
type CA struct {
	info     *CaInfo
	store    *certstore.Store
	idgen    *uid.Generator
	profiles ProfileResolver
	kpgens   []kpgen.Generator
	fanout   *publisherFanout
	auditLog *audit.Logger
	log      *logrus.Entry

	builder *templateBuilder

	// certHashAlgo is the DBSCHEMA CERTHASH_ALGO digest.
	certHashAlgo string

	mu sync.Mutex // serialises CRL generation
}

// Config wires a CA instance.
type Config struct {
	Info         *CaInfo
	Store        *certstore.Store
	IDGenerator  *uid.Generator
	Profiles     ProfileResolver
	KeypairGens  []kpgen.Generator
	Publishers   []Publisher
	AuditLogger  *audit.Logger
	CertHashAlgo string
}

// New creates a CA instance. The CaInfo must be Complete()d.
func New(cfg Config) (*CA, error) {
	if cfg.Info == nil || cfg.Store == nil || cfg.IDGenerator == nil {
		return nil, fmt.Errorf("incomplete CA configuration")
	}
	if cfg.Profiles == nil {
		return nil, fmt.Errorf("profile resolver is required")
	}
	algo := strings.ToUpper(cfg.CertHashAlgo)
	if algo == "" {
		algo = "SHA256"
	}
	if _, err := newCertHasher(algo); err != nil {
		return nil, err
	}

	log := logrus.WithField("ca", cfg.Info.Ident.Name)
	return &CA{
		info:         cfg.Info,
		store:        cfg.Store,
		idgen:        cfg.IDGenerator,
		profiles:     cfg.Profiles,
		kpgens:       cfg.KeypairGens,
		fanout:       newPublisherFanout(cfg.Publishers, cfg.Store, log),
		auditLog:     cfg.AuditLogger,
		log:          log,
		builder:      newTemplateBuilder(cfg.Info),
		certHashAlgo: algo,
	}, nil
}

// Info returns the CA state.
func (ca *CA) Info() *CaInfo {
	return ca.info
}

func newCertHasher(algo string) (hash.Hash, error) {
	switch algo {
	case "SHA1":
		return sha1.New(), nil
	case "SHA256":
		return sha256.New(), nil
	case "SHA512":
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unsupported cert hash algorithm %q", algo)
	}
}

// IssuedCert is the result of one issuance.
type IssuedCert struct {
	CertDER []byte

	// PrivateKeyDER carries the PKCS#8 key of a server-generated keypair.
	PrivateKeyDER []byte

	Serial  *big.Int
	Warning string
}

// Generate runs the full issuance path: template building, extension
// computation, signing, storage and publisher fan-out. The operation is
// idempotent by (issuerId, serial): re-issuing an existing profile-driven
// serial returns the stored certificate.
func (ca *CA) Generate(ctx context.Context, data *CertTemplateData) (*IssuedCert, error) {
	prof, profileID, ok := ca.profiles(data.ProfileName)
	if !ok {
		return nil, caerrors.Errorf(caerrors.UnknownCertProfile, "unknown cert profile %s", data.ProfileName)
	}

	gct, err := ca.builder.create(prof, data, ca.kpgens)
	if err != nil {
		ca.logIssueFailure(data, err)
		return nil, err
	}

	serial, err := ca.grantSerial(gct)
	if err != nil {
		ca.logIssueFailure(data, err)
		return nil, err
	}
	serialHex := certstore.NormSerial(serial)

	// Idempotency: an existing (issuer, serial) row wins.
	if existing, err := ca.store.GetCert(ca.info.Ident.ID, serialHex); err == nil {
		return &IssuedCert{CertDER: existing.Raw, Serial: serial}, nil
	} else if !errors.Is(err, certstore.ErrNotFound) {
		return nil, caerrors.Wrap(caerrors.DatabaseFailure, "failed to query cert store", err)
	}

	extensions, err := gct.Profile.GetExtensions(
		ca.info.IssuerInfo(), gct.RequestedSubject, gct.GrantedSubject,
		gct.Extensions, gct.PublicKey, gct.NotBefore, gct.NotAfter)
	if err != nil {
		ca.logIssueFailure(data, err)
		return nil, err
	}

	certDER, err := ca.signCertificate(ctx, gct, serial, extensions)
	if err != nil {
		ca.logIssueFailure(data, err)
		return nil, err
	}

	record, err := ca.storeCert(gct, serialHex, profileID, certDER)
	if err != nil {
		ca.logIssueFailure(data, err)
		return nil, err
	}

	ca.fanout.certAdded(&PublishedCert{CA: ca.info.Ident, Record: record, RawCert: certDER})

	subject := x509util.CanonicalizeRDNSequence(gct.GrantedSubject)
	_ = ca.auditLog.Log(audit.EventCertIssued, true, ca.info.Ident.Name, serialHex, subject, map[string]string{
		"profile": gct.Profile.Name(),
	})
	ca.log.WithFields(logrus.Fields{"serial": serialHex, "profile": gct.Profile.Name()}).
		Info("certificate issued")

	return &IssuedCert{
		CertDER:       certDER,
		PrivateKeyDER: gct.PrivateKey,
		Serial:        serial,
		Warning:       gct.Warning,
	}, nil
}

func (ca *CA) grantSerial(gct *GrantedCertTemplate) (*big.Int, error) {
	if gct.Profile.SerialByCA() {
		serial, err := randomCASerial()
		if err != nil {
			return nil, caerrors.Wrap(caerrors.SystemFailure, "failed to generate serial", err)
		}
		return serial, nil
	}

	issuer := ca.info.IssuerInfo()
	serial, err := gct.Profile.GenerateSerialNumber(
		issuer.Subject, ca.info.caSPKI, gct.GrantedSubject, gct.PublicKey, ca.info.ExtraControl)
	if err != nil {
		return nil, caerrors.Wrap(caerrors.SystemFailure, "failed to generate serial", err)
	}
	return serial, nil
}

func (ca *CA) signCertificate(
	ctx context.Context, gct *GrantedCertTemplate, serial *big.Int, extensions *profile.ExtensionValues,
) ([]byte, error) {
	sigAlgID, err := gct.Signer.Algorithm().AlgorithmIdentifier()
	if err != nil {
		return nil, caerrors.Wrap(caerrors.SystemFailure, "failed to encode signature algorithm", err)
	}

	subjectDER, err := asn1.Marshal(gct.GrantedSubject)
	if err != nil {
		return nil, caerrors.Wrap(caerrors.SystemFailure, "failed to encode granted subject", err)
	}
	spkiDER, err := gct.PublicKey.Encode()
	if err != nil {
		return nil, caerrors.Wrap(caerrors.SystemFailure, "failed to encode public key", err)
	}

	tbs, err := x509util.BuildTBSCertificate(&x509util.TBSCertificateParams{
		SerialNumber:       serial,
		SignatureAlgorithm: sigAlgID,
		Issuer:             ca.info.Cert.RawSubject,
		Subject:            subjectDER,
		NotBefore:          gct.NotBefore,
		NotAfter:           gct.NotAfter,
		SPKI:               spkiDER,
		Extensions:         extensions.List(),
	})
	if err != nil {
		return nil, caerrors.Wrap(caerrors.SystemFailure, "failed to build TBSCertificate", err)
	}

	signature, err := crypto.SignMessage(ctx, gct.Signer, tbs)
	if err != nil {
		return nil, caerrors.Wrap(caerrors.SystemFailure, "signing failed", err)
	}

	certDER, err := x509util.AssembleCertificate(tbs, sigAlgID, signature)
	if err != nil {
		return nil, caerrors.Wrap(caerrors.SystemFailure, "failed to assemble certificate", err)
	}
	return certDER, nil
}

func (ca *CA) storeCert(
	gct *GrantedCertTemplate, serialHex string, profileID int, certDER []byte,
) (*certstore.CertRecord, error) {
	id, err := ca.idgen.Next()
	if err != nil {
		return nil, caerrors.Wrap(caerrors.SystemFailure, "failed to allocate certificate id", err)
	}

	hasher, err := newCertHasher(ca.certHashAlgo)
	if err != nil {
		return nil, caerrors.Wrap(caerrors.SystemFailure, "bad cert hash algorithm", err)
	}
	hasher.Write(certDER)
	certHash := base64.StdEncoding.EncodeToString(hasher.Sum(nil))

	record := &certstore.CertRecord{
		ID:        id,
		IssuerID:  ca.info.Ident.ID,
		Serial:    serialHex,
		Subject:   x509util.CanonicalizeRDNSequence(gct.GrantedSubject),
		NotBefore: gct.NotBefore,
		NotAfter:  gct.NotAfter,
		ProfileID: profileID,
		CertHash:  certHash,
		Raw:       certDER,
	}
	if err := ca.store.AddCert(record); err != nil {
		if errors.Is(err, certstore.ErrDuplicate) {
			return nil, caerrors.Errorf(caerrors.AlreadyIssued, "certificate with serial %s already issued", serialHex)
		}
		return nil, err
	}
	return record, nil
}

func (ca *CA) logIssueFailure(data *CertTemplateData, err error) {
	_ = ca.auditLog.Log(audit.EventCertIssued, false, ca.info.Ident.Name, "", "", map[string]string{
		"profile": data.ProfileName,
		"reason":  caerrors.CodeOf(err).String(),
	})
}

// Revoke transitions a certificate to revoked(reason). A held certificate
// may be revoked with a final reason.
func (ca *CA) Revoke(serial *big.Int, reason certstore.CrlReason, invalidityTime *time.Time) error {
	serialHex := certstore.NormSerial(serial)

	record, err := ca.store.ChangeRevocation(ca.info.Ident.ID, serialHex, certstore.RevocationOp{
		Reason:         reason,
		RevocationTime: time.Now().UTC(),
		InvalidityTime: invalidityTime,
	})
	if err != nil {
		_ = ca.auditLog.Log(audit.EventCertRevoked, false, ca.info.Ident.Name, serialHex, "", nil)
		return err
	}

	ca.fanout.statusChanged(ca.info.Ident, record)
	_ = ca.auditLog.Log(audit.EventCertRevoked, true, ca.info.Ident.Name, serialHex, record.Subject,
		map[string]string{"reason": reason.String()})
	ca.log.WithFields(logrus.Fields{"serial": serialHex, "reason": reason.String()}).
		Info("certificate revoked")
	return nil
}

// Unsuspend releases a certificate from hold.
func (ca *CA) Unsuspend(serial *big.Int) error {
	serialHex := certstore.NormSerial(serial)

	record, err := ca.store.ChangeRevocation(ca.info.Ident.ID, serialHex, certstore.RevocationOp{
		Reason:         certstore.ReasonRemoveFromCRL,
		RevocationTime: time.Now().UTC(),
	})
	if err != nil {
		_ = ca.auditLog.Log(audit.EventCertUnsuspended, false, ca.info.Ident.Name, serialHex, "", nil)
		return err
	}

	ca.fanout.statusChanged(ca.info.Ident, record)
	_ = ca.auditLog.Log(audit.EventCertUnsuspended, true, ca.info.Ident.Name, serialHex, record.Subject, nil)
	return nil
}

// Remove physically deletes a certificate row.
func (ca *CA) Remove(serial *big.Int) error {
	serialHex := certstore.NormSerial(serial)

	record, err := ca.store.RemoveCert(ca.info.Ident.ID, serialHex)
	if err != nil {
		_ = ca.auditLog.Log(audit.EventCertRemoved, false, ca.info.Ident.Name, serialHex, "", nil)
		return err
	}

	ca.fanout.certRemoved(ca.info.Ident, serialHex)
	_ = ca.auditLog.Log(audit.EventCertRemoved, true, ca.info.Ident.Name, serialHex, record.Subject, nil)
	return nil
}

// PublishCerts republishes stored certificates to all publishers with the
// given parallelism. Per-certificate failures are reported without aborting
// the batch; the returned map lists failed serials with their errors.
func (ca *CA) PublishCerts(ctx context.Context, threads int) (map[string]error, error) {
	if threads < 1 {
		threads = 1
	}

	records, err := ca.store.ListCerts(certstore.ListFilter{IssuerID: ca.info.Ident.ID})
	if err != nil {
		return nil, caerrors.Wrap(caerrors.DatabaseFailure, "failed to list certificates", err)
	}

	var stop atomic.Bool
	go func() {
		<-ctx.Done()
		stop.Store(true)
	}()

	jobs := make(chan *certstore.CertRecord)
	var mu sync.Mutex
	failures := make(map[string]error)

	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for record := range jobs {
				if stop.Load() {
					continue
				}
				for _, pub := range ca.fanout.publishers {
					if err := pub.CertificateAdded(&PublishedCert{
						CA: ca.info.Ident, Record: record, RawCert: record.Raw,
					}); err != nil {
						mu.Lock()
						failures[record.Serial] = err
						mu.Unlock()
					}
				}
			}
		}()
	}

	for _, record := range records {
		if stop.Load() {
			break
		}
		jobs <- record
	}
	close(jobs)
	wg.Wait()

	return failures, nil
}

// GenerateCrl produces a CRL with the next CRL number, entries ordered by
// (revocationTime, serial).
func (ca *CA) GenerateCrl(ctx context.Context) ([]byte, error) {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	signer := ca.info.Signers.ForAlgorithms(nil)
	if signer == nil {
		return nil, caerrors.New(caerrors.CRLFailure, "CA has no signer")
	}

	revoked, err := ca.store.ListRevoked(ca.info.Ident.ID)
	if err != nil {
		return nil, caerrors.Wrap(caerrors.CRLFailure, "failed to list revoked certificates", err)
	}

	crlNumber, err := ca.store.NextCrlNumber(ca.info.Ident.ID)
	if err != nil {
		return nil, caerrors.Wrap(caerrors.CRLFailure, "failed to reserve CRL number", err)
	}
	ca.info.NextCrlNumber = crlNumber + 1

	entries := make([]x509.RevocationListEntry, 0, len(revoked))
	for _, rec := range revoked {
		serial, ok := new(big.Int).SetString(rec.Serial, 16)
		if !ok {
			return nil, caerrors.Errorf(caerrors.CRLFailure, "malformed serial %q", rec.Serial)
		}
		entries = append(entries, x509.RevocationListEntry{
			SerialNumber:   serial,
			RevocationTime: rec.Revocation.RevocationTime,
			ReasonCode:     int(rec.Revocation.Reason),
		})
	}

	now := time.Now().UTC()
	validity := 24 * time.Hour
	if ca.info.CrlControl != nil && ca.info.CrlControl.Validity > 0 {
		validity = ca.info.CrlControl.Validity
	}
	nextUpdate := now.Add(validity)

	template := &x509.RevocationList{
		RevokedCertificateEntries: entries,
		Number:                    big.NewInt(crlNumber),
		ThisUpdate:                now,
		NextUpdate:                nextUpdate,
	}

	_ = ctx
	crlDER, err := x509.CreateRevocationList(rand.Reader, template, ca.info.Cert, signer.Underlying())
	if err != nil {
		return nil, caerrors.Wrap(caerrors.CRLFailure, "failed to sign CRL", err)
	}

	if err := ca.store.AddCrlInfo(&certstore.CrlInfoRecord{
		ID:         int(crlNumber),
		IssuerID:   ca.info.Ident.ID,
		CrlNumber:  crlNumber,
		ThisUpdate: now,
		NextUpdate: nextUpdate,
	}); err != nil {
		return nil, caerrors.Wrap(caerrors.CRLFailure, "failed to store CRL info", err)
	}

	ca.fanout.crlAdded(ca.info.Ident, crlDER)
	_ = ca.auditLog.Log(audit.EventCrlGenerated, true, ca.info.Ident.Name, "", "", map[string]string{
		"crlNumber": fmt.Sprintf("%d", crlNumber),
		"entries":   fmt.Sprintf("%d", len(entries)),
	})
	ca.log.WithFields(logrus.Fields{"crlNumber": crlNumber, "entries": len(entries)}).
		Info("CRL generated")

	return crlDER, nil
}

// RevokeCa marks the CA itself revoked. Issued certificates inherit the
// revocation at OCSP time.
func (ca *CA) RevokeCa(rev *certstore.RevocationInfo) error {
	if err := ca.store.SetIssuerRevocation(ca.info.Ident.ID, rev); err != nil {
		_ = ca.auditLog.Log(audit.EventCaRevoked, false, ca.info.Ident.Name, "", "", nil)
		return caerrors.Wrap(caerrors.DatabaseFailure, "failed to store CA revocation", err)
	}
	ca.info.RevocationInfo = rev
	_ = ca.auditLog.Log(audit.EventCaRevoked, true, ca.info.Ident.Name, "", "", map[string]string{
		"reason": rev.Reason.String(),
	})
	return nil
}

// UnrevokeCa clears the CA revocation.
func (ca *CA) UnrevokeCa() error {
	if err := ca.store.SetIssuerRevocation(ca.info.Ident.ID, nil); err != nil {
		_ = ca.auditLog.Log(audit.EventCaUnrevoked, false, ca.info.Ident.Name, "", "", nil)
		return caerrors.Wrap(caerrors.DatabaseFailure, "failed to clear CA revocation", err)
	}
	ca.info.RevocationInfo = nil
	_ = ca.auditLog.Log(audit.EventCaUnrevoked, true, ca.info.Ident.Name, "", "", nil)
	return nil
}

// Close waits for in-flight publisher notifications.
func (ca *CA) Close() {
	ca.fanout.wait()
}

// randomCASerial generates the CA-level random serial: 16 octets, positive,
// high bit clear.
func randomCASerial() (*big.Int, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate serial: %w", err)
	}
	buf[0] &= 0x7f
	buf[0] |= 0x40
	return new(big.Int).SetBytes(buf), nil
}
