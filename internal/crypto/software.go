package crypto

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/scrypt"
)

// softwareSigner is a Signer backed by an in-memory private key.
type softwareSigner struct {
	key  crypto.Signer
	algo SignAlgo
}

// NewSoftwareSigner wraps an in-memory private key.
func NewSoftwareSigner(key crypto.Signer, algo SignAlgo) (Signer, error) {
	if !algo.IsValid() {
		return nil, fmt.Errorf("unknown signature algorithm %q", algo)
	}
	return &softwareSigner{key: key, algo: algo}, nil
}

// GenerateSoftwareSigner generates a fresh key matching the signature
// algorithm.
func GenerateSoftwareSigner(algo SignAlgo) (Signer, error) {
	var key crypto.Signer
	var err error

	switch algo {
	case SignRSASHA256, SignRSASHA384, SignRSASHA512:
		key, err = rsa.GenerateKey(rand.Reader, 3072)
	case SignECDSASHA256:
		key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case SignECDSASHA384:
		key, err = ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case SignECDSASHA512:
		key, err = ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	case SignEd25519:
		_, key, err = ed25519.GenerateKey(rand.Reader)
	default:
		return nil, fmt.Errorf("unknown signature algorithm %q", algo)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to generate key for %s: %w", algo, err)
	}

	return &softwareSigner{key: key, algo: algo}, nil
}

func (s *softwareSigner) Public() crypto.PublicKey {
	return s.key.Public()
}

func (s *softwareSigner) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	return s.key.Sign(rand, digest, opts)
}

func (s *softwareSigner) Algorithm() SignAlgo {
	return s.algo
}

const encryptedKeyPEMType = "ENCRYPTED XIPKI PRIVATE KEY"

// scrypt parameters for key-at-rest encryption.
const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltLen      = 16
)

// SaveEncryptedKey writes the private key PKCS#8-encoded and encrypted with
// an scrypt-derived AES-256-GCM key.
func SaveEncryptedKey(path string, key crypto.Signer, passphrase []byte) error {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	aead, err := newKeyAEAD(passphrase, salt)
	if err != nil {
		return err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, der, nil)
	payload := append(append(salt, nonce...), sealed...)

	block := &pem.Block{Type: encryptedKeyPEMType, Bytes: payload}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := pem.Encode(f, block); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// LoadEncryptedKey reads a key written by SaveEncryptedKey.
func LoadEncryptedKey(path string, passphrase []byte) (crypto.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != encryptedKeyPEMType {
		return nil, fmt.Errorf("no encrypted private key found in %s", path)
	}

	if len(block.Bytes) < saltLen+12 {
		return nil, fmt.Errorf("truncated key file %s", path)
	}
	salt := block.Bytes[:saltLen]

	aead, err := newKeyAEAD(passphrase, salt)
	if err != nil {
		return nil, err
	}

	nonceLen := aead.NonceSize()
	if len(block.Bytes) < saltLen+nonceLen {
		return nil, fmt.Errorf("truncated key file %s", path)
	}
	nonce := block.Bytes[saltLen : saltLen+nonceLen]
	sealed := block.Bytes[saltLen+nonceLen:]

	der, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt private key: %w", err)
	}

	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("key type %T cannot sign", key)
	}
	return signer, nil
}

func newKeyAEAD(passphrase, salt []byte) (cipher.AEAD, error) {
	derived, err := scrypt.Key(passphrase, salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	blockCipher, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise cipher: %w", err)
	}
	aead, err := cipher.NewGCM(blockCipher)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise GCM: %w", err)
	}
	return aead, nil
}
