//go:build !cgo

// Stubs used when CGO is unavailable. PKCS#11 token signing requires CGO.
package crypto

import (
	"crypto"
	"fmt"
	"io"
)

// TokenConfig locates a signing key inside a PKCS#11 module.
type TokenConfig struct {
	ModulePath  string `yaml:"module"`
	SlotID      uint   `yaml:"slot"`
	PIN         string `yaml:"pin"`
	KeyLabel    string `yaml:"keyLabel"`
	Parallelism int    `yaml:"parallelism"`
}

var errNoCGO = fmt.Errorf("PKCS#11 support requires CGO (build with CGO_ENABLED=1)")

// TokenSigner is the no-CGO stub of the PKCS#11 signer.
type TokenSigner struct {
	algo SignAlgo
	pub  crypto.PublicKey
}

// OpenTokenSigner fails without CGO.
func OpenTokenSigner(TokenConfig, SignAlgo, crypto.PublicKey) (*TokenSigner, error) {
	return nil, errNoCGO
}

func (t *TokenSigner) Public() crypto.PublicKey {
	return t.pub
}

func (t *TokenSigner) Algorithm() SignAlgo {
	return t.algo
}

func (t *TokenSigner) Sign(io.Reader, []byte, crypto.SignerOpts) ([]byte, error) {
	return nil, errNoCGO
}

// Close is a no-op.
func (t *TokenSigner) Close() {}
