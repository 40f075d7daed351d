package ca

import (
	"context"
	"crypto/x509"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/frestoinc/xipki/internal/caerrors"
	"github.com/frestoinc/xipki/internal/certstore"
	"github.com/frestoinc/xipki/internal/kpgen"
	"github.com/frestoinc/xipki/internal/nameid"
	"github.com/frestoinc/xipki/internal/profile"
	"github.com/frestoinc/xipki/internal/uid"
)

type recordingPublisher struct {
	ident *nameid.NameID

	mu      sync.Mutex
	added   []string
	changed []string
	crls    int
}

func (p *recordingPublisher) Ident() *nameid.NameID { return p.ident }

func (p *recordingPublisher) CertificateAdded(cert *PublishedCert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.added = append(p.added, cert.Record.Serial)
	return nil
}

func (p *recordingPublisher) CertificateStatusChanged(_ *nameid.NameID, record *certstore.CertRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, record.Serial)
	return nil
}

func (p *recordingPublisher) CertificateRemoved(_ *nameid.NameID, serial string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, serial)
	return nil
}

func (p *recordingPublisher) CrlAdded(_ *nameid.NameID, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.crls++
	return nil
}

func newTestCA(t *testing.T) (*CA, *certstore.Store, *recordingPublisher) {
	t.Helper()

	info, _ := newTestCAInfo(t)

	store, err := certstore.Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.AddIssuer(&certstore.IssuerRecord{
		ID:        info.Ident.ID,
		Subject:   info.C14nSubject(),
		NotBefore: info.NotBefore(),
		NotAfter:  info.NotAfter(),
		Raw:       info.Cert.Raw,
	}); err != nil {
		t.Fatalf("AddIssuer() error = %v", err)
	}

	idgen, err := uid.New(1)
	if err != nil {
		t.Fatalf("uid.New() error = %v", err)
	}

	prof := eeProfile(t)
	resolver := func(name string) (*profile.Profile, int, bool) {
		if name == "ee" {
			return prof, 1, true
		}
		return nil, 0, false
	}

	pub := &recordingPublisher{ident: nameid.MustNew(1, "testpub")}

	instance, err := New(Config{
		Info:        info,
		Store:       store,
		IDGenerator: idgen,
		Profiles:    resolver,
		KeypairGens: []kpgen.Generator{kpgen.NewSoftware("soft1")},
		Publishers:  []Publisher{pub},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return instance, store, pub
}

func TestGenerateEndToEnd(t *testing.T) {
	instance, store, pub := newTestCA(t)

	issued, err := instance.Generate(context.Background(), &CertTemplateData{
		Subject:     requestCN("alice"),
		PublicKey:   ed25519SPKI(t),
		ProfileName: "ee",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	cert, err := x509.ParseCertificate(issued.CertDER)
	if err != nil {
		t.Fatalf("ParseCertificate() error = %v", err)
	}
	if cert.Subject.CommonName != "alice" {
		t.Errorf("CommonName = %q, want alice", cert.Subject.CommonName)
	}
	if cert.SerialNumber.Cmp(issued.Serial) != 0 {
		t.Errorf("serial mismatch: cert %v, issued %v", cert.SerialNumber, issued.Serial)
	}
	if err := cert.CheckSignatureFrom(instance.Info().Cert); err != nil {
		t.Errorf("CheckSignatureFrom() error = %v", err)
	}
	if cert.KeyUsage&x509.KeyUsageDigitalSignature == 0 {
		t.Error("digitalSignature key usage missing")
	}
	if len(cert.SubjectKeyId) == 0 {
		t.Error("subjectKeyId missing")
	}
	if cert.IsCA {
		t.Error("end entity certificate must not be a CA")
	}

	// Invariant: CA notBefore <= cert notBefore, cert notAfter <= CA notAfter.
	info := instance.Info()
	if cert.NotBefore.Before(info.NotBefore()) {
		t.Errorf("cert notBefore %v before CA notBefore %v", cert.NotBefore, info.NotBefore())
	}
	if cert.NotAfter.After(info.NotAfter()) {
		t.Errorf("cert notAfter %v after CA notAfter %v", cert.NotAfter, info.NotAfter())
	}

	// Stored record matches.
	record, err := store.GetCert(info.Ident.ID, certstore.NormSerial(issued.Serial))
	if err != nil {
		t.Fatalf("GetCert() error = %v", err)
	}
	if record.ProfileID != 1 {
		t.Errorf("profileId = %d, want 1", record.ProfileID)
	}

	instance.Close()
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.added) != 1 {
		t.Errorf("publisher notified %d times, want 1", len(pub.added))
	}
}

func TestGenerateUnknownProfile(t *testing.T) {
	instance, _, _ := newTestCA(t)

	_, err := instance.Generate(context.Background(), &CertTemplateData{
		Subject:     requestCN("alice"),
		PublicKey:   ed25519SPKI(t),
		ProfileName: "nope",
	})
	if !caerrors.IsCode(err, caerrors.UnknownCertProfile) {
		t.Fatalf("Generate() error = %v, want UNKNOWN_CERT_PROFILE", err)
	}
}

func TestRevokeUnsuspendLifecycle(t *testing.T) {
	instance, store, _ := newTestCA(t)

	issued, err := instance.Generate(context.Background(), &CertTemplateData{
		Subject:     requestCN("bob"),
		PublicKey:   ed25519SPKI(t),
		ProfileName: "ee",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	// Hold, unsuspend, then revoke for good.
	if err := instance.Revoke(issued.Serial, certstore.ReasonCertificateHold, nil); err != nil {
		t.Fatalf("Revoke(hold) error = %v", err)
	}
	if err := instance.Unsuspend(issued.Serial); err != nil {
		t.Fatalf("Unsuspend() error = %v", err)
	}
	if err := instance.Revoke(issued.Serial, certstore.ReasonKeyCompromise, nil); err != nil {
		t.Fatalf("Revoke(keyCompromise) error = %v", err)
	}

	// Unsuspending a finally-revoked certificate fails.
	if err := instance.Unsuspend(issued.Serial); !caerrors.IsCode(err, caerrors.NotPermitted) {
		t.Fatalf("Unsuspend() error = %v, want NOT_PERMITTED", err)
	}

	record, err := store.GetCert(instance.Info().Ident.ID, certstore.NormSerial(issued.Serial))
	if err != nil {
		t.Fatalf("GetCert() error = %v", err)
	}
	if !record.Revoked || record.Revocation.Reason != certstore.ReasonKeyCompromise {
		t.Errorf("record state = %+v, want revoked keyCompromise", record)
	}
}

func TestRemoveCertificate(t *testing.T) {
	instance, store, _ := newTestCA(t)

	issued, err := instance.Generate(context.Background(), &CertTemplateData{
		Subject:     requestCN("carol"),
		PublicKey:   ed25519SPKI(t),
		ProfileName: "ee",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if err := instance.Remove(issued.Serial); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	_, err = store.GetCert(instance.Info().Ident.ID, certstore.NormSerial(issued.Serial))
	if err == nil {
		t.Fatal("certificate should be removed")
	}
}

func TestGenerateCrlOrderAndNumber(t *testing.T) {
	instance, store, pub := newTestCA(t)
	ctx := context.Background()

	var serials []*big.Int
	for _, cn := range []string{"u1", "u2", "u3"} {
		issued, err := instance.Generate(ctx, &CertTemplateData{
			Subject: requestCN(cn), PublicKey: ed25519SPKI(t), ProfileName: "ee",
		})
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		serials = append(serials, issued.Serial)
	}

	for _, serial := range serials[:2] {
		if err := instance.Revoke(serial, certstore.ReasonSuperseded, nil); err != nil {
			t.Fatalf("Revoke() error = %v", err)
		}
	}

	crlDER, err := instance.GenerateCrl(ctx)
	if err != nil {
		t.Fatalf("GenerateCrl() error = %v", err)
	}
	crl, err := x509.ParseRevocationList(crlDER)
	if err != nil {
		t.Fatalf("ParseRevocationList() error = %v", err)
	}
	if len(crl.RevokedCertificateEntries) != 2 {
		t.Errorf("CRL entries = %d, want 2", len(crl.RevokedCertificateEntries))
	}
	if crl.Number.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("CRL number = %v, want 1", crl.Number)
	}

	// Second CRL bumps the number.
	crlDER, err = instance.GenerateCrl(ctx)
	if err != nil {
		t.Fatalf("GenerateCrl() error = %v", err)
	}
	crl, err = x509.ParseRevocationList(crlDER)
	if err != nil {
		t.Fatalf("ParseRevocationList() error = %v", err)
	}
	if crl.Number.Cmp(big.NewInt(2)) != 0 {
		t.Errorf("second CRL number = %v, want 2", crl.Number)
	}

	infos, err := store.ListCrlInfos()
	if err != nil {
		t.Fatalf("ListCrlInfos() error = %v", err)
	}
	if len(infos) != 2 {
		t.Errorf("crl_info rows = %d, want 2", len(infos))
	}

	instance.Close()
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.crls != 2 {
		t.Errorf("publisher received %d CRLs, want 2", pub.crls)
	}
}

func TestRevokeCaInheritedState(t *testing.T) {
	instance, store, _ := newTestCA(t)
	now := time.Now().UTC().Truncate(time.Second)

	rev := &certstore.RevocationInfo{Reason: certstore.ReasonCACompromise, RevocationTime: now}
	if err := instance.RevokeCa(rev); err != nil {
		t.Fatalf("RevokeCa() error = %v", err)
	}

	issuer, err := store.GetIssuer(instance.Info().Ident.ID)
	if err != nil {
		t.Fatalf("GetIssuer() error = %v", err)
	}
	if issuer.Revocation == nil || issuer.Revocation.Reason != certstore.ReasonCACompromise {
		t.Errorf("issuer revocation = %+v, want caCompromise", issuer.Revocation)
	}

	// Issuance is now refused.
	_, err = instance.Generate(context.Background(), &CertTemplateData{
		Subject: requestCN("dave"), PublicKey: ed25519SPKI(t), ProfileName: "ee",
	})
	if !caerrors.IsCode(err, caerrors.NotPermitted) {
		t.Fatalf("Generate() after CA revocation error = %v, want NOT_PERMITTED", err)
	}

	if err := instance.UnrevokeCa(); err != nil {
		t.Fatalf("UnrevokeCa() error = %v", err)
	}
	if _, err := instance.Generate(context.Background(), &CertTemplateData{
		Subject: requestCN("dave"), PublicKey: ed25519SPKI(t), ProfileName: "ee",
	}); err != nil {
		t.Fatalf("Generate() after unrevoke error = %v", err)
	}
}

func TestPublishCertsBulk(t *testing.T) {
	instance, _, pub := newTestCA(t)
	ctx := context.Background()

	for _, cn := range []string{"p1", "p2", "p3", "p4"} {
		if _, err := instance.Generate(ctx, &CertTemplateData{
			Subject: requestCN(cn), PublicKey: ed25519SPKI(t), ProfileName: "ee",
		}); err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
	}
	instance.Close()

	failures, err := instance.PublishCerts(ctx, 3)
	if err != nil {
		t.Fatalf("PublishCerts() error = %v", err)
	}
	if len(failures) != 0 {
		t.Errorf("failures = %v, want none", failures)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	// 4 from issuance fan-out + 4 from republish.
	if len(pub.added) != 8 {
		t.Errorf("publisher add notifications = %d, want 8", len(pub.added))
	}
}
