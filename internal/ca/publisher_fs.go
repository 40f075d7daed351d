package ca

import (
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/frestoinc/xipki/internal/certstore"
	"github.com/frestoinc/xipki/internal/nameid"
)

// FSPublisher publishes issued certificates and CRLs to a directory tree:
//
//	{base}/{ca}/certs/{serial}.crt
//	{base}/{ca}/{ca}.crl
//
// Revoked or removed certificates are reflected by a ".revoked" marker and
// file removal respectively.
type FSPublisher struct {
	ident *nameid.NameID
	base  string
}

// NewFSPublisher creates a directory publisher rooted at base.
func NewFSPublisher(ident *nameid.NameID, base string) (*FSPublisher, error) {
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("failed to create publisher directory: %w", err)
	}
	return &FSPublisher{ident: ident, base: base}, nil
}

// Ident implements Publisher.
func (p *FSPublisher) Ident() *nameid.NameID {
	return p.ident
}

func (p *FSPublisher) certPath(ca *nameid.NameID, serial string) string {
	return filepath.Join(p.base, ca.Name, "certs", serial+".crt")
}

// CertificateAdded implements Publisher.
func (p *FSPublisher) CertificateAdded(cert *PublishedCert) error {
	path := p.certPath(cert.CA, cert.Record.Serial)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create cert directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create cert file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := pem.Encode(f, &pem.Block{Type: "CERTIFICATE", Bytes: cert.RawCert}); err != nil {
		return fmt.Errorf("failed to write cert file: %w", err)
	}
	return nil
}

// CertificateStatusChanged implements Publisher.
func (p *FSPublisher) CertificateStatusChanged(ca *nameid.NameID, record *certstore.CertRecord) error {
	marker := p.certPath(ca, record.Serial) + ".revoked"

	if record.Revoked {
		if err := os.MkdirAll(filepath.Dir(marker), 0755); err != nil {
			return fmt.Errorf("failed to create cert directory: %w", err)
		}
		content := record.Revocation.Reason.String() + "\n"
		if err := os.WriteFile(marker, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to write revocation marker: %w", err)
		}
		return nil
	}

	// Unsuspended: drop the marker.
	if err := os.Remove(marker); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove revocation marker: %w", err)
	}
	return nil
}

// CertificateRemoved implements Publisher.
func (p *FSPublisher) CertificateRemoved(ca *nameid.NameID, serial string) error {
	path := p.certPath(ca, serial)
	_ = os.Remove(path + ".revoked")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove cert file: %w", err)
	}
	return nil
}

// CrlAdded implements Publisher.
func (p *FSPublisher) CrlAdded(ca *nameid.NameID, crlDER []byte) error {
	dir := filepath.Join(p.base, ca.Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create CRL directory: %w", err)
	}

	path := filepath.Join(dir, ca.Name+".crl")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create CRL file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := pem.Encode(f, &pem.Block{Type: "X509 CRL", Bytes: crlDER}); err != nil {
		return fmt.Errorf("failed to write CRL file: %w", err)
	}
	return nil
}
