package crypto

import (
	"context"
	"crypto"
	"fmt"
	"io"
)

// Signer extends crypto.Signer with algorithm metadata.
type Signer interface {
	crypto.Signer

	// Algorithm returns the signature algorithm this signer produces.
	Algorithm() SignAlgo
}

// ConcurrentSigner wraps a Signer with a bounded concurrency slot pool.
// Hardware-backed signers (PKCS#11 sessions) serialise a limited number of
// parallel operations; software signers simply bound goroutine fan-out.
type ConcurrentSigner struct {
	name   string
	signer Signer
	slots  chan struct{}
}

// NewConcurrentSigner creates a pool around signer with the given
// parallelism (minimum 1).
func NewConcurrentSigner(name string, signer Signer, parallelism int) *ConcurrentSigner {
	if parallelism < 1 {
		parallelism = 1
	}
	slots := make(chan struct{}, parallelism)
	for i := 0; i < parallelism; i++ {
		slots <- struct{}{}
	}
	return &ConcurrentSigner{name: name, signer: signer, slots: slots}
}

// Name returns the signer's configured name.
func (s *ConcurrentSigner) Name() string {
	return s.name
}

// Algorithm returns the signature algorithm of the wrapped signer.
func (s *ConcurrentSigner) Algorithm() SignAlgo {
	return s.signer.Algorithm()
}

// Public returns the signer's public key.
func (s *ConcurrentSigner) Public() crypto.PublicKey {
	return s.signer.Public()
}

// Sign acquires a slot and signs. A signing operation is not interruptible
// once started; ctx only bounds the wait for a free slot.
func (s *ConcurrentSigner) Sign(ctx context.Context, rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	select {
	case <-s.slots:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for signer %s: %w", s.name, ctx.Err())
	}
	defer func() { s.slots <- struct{}{} }()

	return s.signer.Sign(rand, digest, opts)
}

// Underlying exposes the wrapped Signer for crypto/x509 template signing,
// which drives the crypto.Signer interface itself.
func (s *ConcurrentSigner) Underlying() Signer {
	return s.signer
}

// SignerSet is an ordered collection of concurrent signers owned by one CA.
type SignerSet struct {
	signers []*ConcurrentSigner
}

// NewSignerSet creates a SignerSet.
func NewSignerSet(signers ...*ConcurrentSigner) *SignerSet {
	return &SignerSet{signers: signers}
}

// ForAlgorithms returns the first signer whose algorithm is in allowed.
// An empty allowed list matches any signer.
func (s *SignerSet) ForAlgorithms(allowed []SignAlgo) *ConcurrentSigner {
	if len(s.signers) == 0 {
		return nil
	}
	if len(allowed) == 0 {
		return s.signers[0]
	}
	for _, want := range allowed {
		for _, signer := range s.signers {
			if signer.Algorithm() == want {
				return signer
			}
		}
	}
	return nil
}

// All returns all signers in configuration order.
func (s *SignerSet) All() []*ConcurrentSigner {
	return s.signers
}
