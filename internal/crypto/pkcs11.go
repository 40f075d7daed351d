//go:build cgo

// PKCS#11 token backend for the CA signer pool. A CA configured with a
// "pkcs11:" signer keeps its issuing key inside an HSM; only signing
// operations cross the module boundary.
package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"fmt"
	"io"
	"sync"

	"github.com/miekg/pkcs11"
)

// TokenConfig locates a signing key inside a PKCS#11 module.
type TokenConfig struct {
	// ModulePath is the path to the PKCS#11 module (.so).
	ModulePath string `yaml:"module"`

	// SlotID selects the token slot.
	SlotID uint `yaml:"slot"`

	// PIN is the user PIN for the token.
	PIN string `yaml:"pin"`

	// KeyLabel is the CKA_LABEL of the private key object.
	KeyLabel string `yaml:"keyLabel"`

	// Parallelism bounds concurrent sessions used for signing.
	Parallelism int `yaml:"parallelism"`
}

// tokenSession is one logged-in PKCS#11 session bound to a key handle.
type tokenSession struct {
	session pkcs11.SessionHandle
	key     pkcs11.ObjectHandle
}

// TokenSigner is a Signer backed by a PKCS#11 token. Sessions are pooled;
// each Sign borrows one for the duration of the operation.
type TokenSigner struct {
	ctx  *pkcs11.Ctx
	cfg  TokenConfig
	algo SignAlgo
	pub  crypto.PublicKey

	mu       sync.Mutex
	sessions []tokenSession
	closed   bool
}

// OpenTokenSigner initialises the module, logs in and locates the key. pub
// must be supplied by the caller (from the CA certificate); the token is not
// queried for it.
func OpenTokenSigner(cfg TokenConfig, algo SignAlgo, pub crypto.PublicKey) (*TokenSigner, error) {
	if !algo.IsValid() {
		return nil, fmt.Errorf("unknown signature algorithm %q", algo)
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}

	ctx := pkcs11.New(cfg.ModulePath)
	if ctx == nil {
		return nil, fmt.Errorf("failed to load PKCS#11 module %s", cfg.ModulePath)
	}
	if err := ctx.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialise PKCS#11 module: %w", err)
	}

	ts := &TokenSigner{ctx: ctx, cfg: cfg, algo: algo, pub: pub}
	for i := 0; i < cfg.Parallelism; i++ {
		sess, err := ts.openSession(i == 0)
		if err != nil {
			ts.Close()
			return nil, err
		}
		ts.sessions = append(ts.sessions, sess)
	}
	return ts, nil
}

func (t *TokenSigner) openSession(login bool) (tokenSession, error) {
	session, err := t.ctx.OpenSession(t.cfg.SlotID, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return tokenSession{}, fmt.Errorf("failed to open PKCS#11 session: %w", err)
	}

	if login {
		if err := t.ctx.Login(session, pkcs11.CKU_USER, t.cfg.PIN); err != nil && err != pkcs11.Error(pkcs11.CKR_USER_ALREADY_LOGGED_IN) {
			_ = t.ctx.CloseSession(session)
			return tokenSession{}, fmt.Errorf("failed to log in to token: %w", err)
		}
	}

	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, t.cfg.KeyLabel),
	}
	if err := t.ctx.FindObjectsInit(session, template); err != nil {
		_ = t.ctx.CloseSession(session)
		return tokenSession{}, fmt.Errorf("failed to search key objects: %w", err)
	}
	handles, _, err := t.ctx.FindObjects(session, 1)
	if ferr := t.ctx.FindObjectsFinal(session); err == nil {
		err = ferr
	}
	if err != nil {
		_ = t.ctx.CloseSession(session)
		return tokenSession{}, fmt.Errorf("failed to enumerate key objects: %w", err)
	}
	if len(handles) == 0 {
		_ = t.ctx.CloseSession(session)
		return tokenSession{}, fmt.Errorf("no private key with label %q in slot %d", t.cfg.KeyLabel, t.cfg.SlotID)
	}

	return tokenSession{session: session, key: handles[0]}, nil
}

// Public returns the public key supplied at open time.
func (t *TokenSigner) Public() crypto.PublicKey {
	return t.pub
}

// Algorithm returns the signer's signature algorithm.
func (t *TokenSigner) Algorithm() SignAlgo {
	return t.algo
}

func (t *TokenSigner) mechanism() (*pkcs11.Mechanism, error) {
	switch t.pub.(type) {
	case *rsa.PublicKey:
		return pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil), nil
	case *ecdsa.PublicKey:
		return pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil), nil
	default:
		return nil, fmt.Errorf("unsupported token key type %T", t.pub)
	}
}

// Sign signs the digest inside the token.
func (t *TokenSigner) Sign(_ io.Reader, digest []byte, _ crypto.SignerOpts) ([]byte, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("token signer is closed")
	}
	if len(t.sessions) == 0 {
		t.mu.Unlock()
		return nil, fmt.Errorf("no free token session")
	}
	sess := t.sessions[len(t.sessions)-1]
	t.sessions = t.sessions[:len(t.sessions)-1]
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		if !t.closed {
			t.sessions = append(t.sessions, sess)
		}
		t.mu.Unlock()
	}()

	mech, err := t.mechanism()
	if err != nil {
		return nil, err
	}
	if err := t.ctx.SignInit(sess.session, []*pkcs11.Mechanism{mech}, sess.key); err != nil {
		return nil, fmt.Errorf("failed to initialise token signing: %w", err)
	}
	sig, err := t.ctx.Sign(sess.session, digest)
	if err != nil {
		return nil, fmt.Errorf("token signing failed: %w", err)
	}
	return sig, nil
}

// Close releases all sessions and finalises the module.
func (t *TokenSigner) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for _, sess := range t.sessions {
		_ = t.ctx.CloseSession(sess.session)
	}
	t.sessions = nil
	_ = t.ctx.Finalize()
	t.ctx.Destroy()
}
