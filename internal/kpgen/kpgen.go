// Package kpgen implements the server-side keypair generators used when an
// enrollment request asks the CA to generate the subject key.
//
// Each key family is wrapped in its own capability that both generates the
// key and derives the SubjectPublicKeyInfo from it, so adding an algorithm
// is one implementation, not edits across the template builder.
package kpgen

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"math/big"
	"strconv"

	"github.com/cloudflare/circl/dh/x25519"
	"github.com/cloudflare/circl/dh/x448"
	"github.com/cloudflare/circl/sign/ed448"

	"github.com/frestoinc/xipki/internal/crypto"
	"github.com/frestoinc/xipki/internal/x509util"
)

// Keypair is a generated key: the PKCS#8 private key DER and the matching
// RFC 3279/8410 style SubjectPublicKeyInfo.
type Keypair struct {
	Keyspec       *crypto.Keyspec
	PrivateKeyDER []byte
	PublicKey     *x509util.SubjectPublicKeyInfo
}

// Generator produces keypairs for the keyspecs it supports.
type Generator interface {
	// Name identifies the generator in configuration and logs.
	Name() string

	// Supports reports whether the generator can produce keys for spec.
	Supports(spec *crypto.Keyspec) bool

	// Generate produces a fresh keypair for spec.
	Generate(spec *crypto.Keyspec) (*Keypair, error)
}

// Select returns the first generator supporting spec, or nil.
func Select(generators []Generator, spec *crypto.Keyspec) Generator {
	for _, g := range generators {
		if g.Supports(spec) {
			return g
		}
	}
	return nil
}

// family generates one key family.
type family interface {
	generate(spec *crypto.Keyspec) (*Keypair, error)
}

// Software is the in-process software keypair generator.
type Software struct {
	name     string
	families map[crypto.KeyType]family
}

// NewSoftware creates a software generator supporting RSA, EC, Ed25519,
// Ed448, X25519 and X448.
func NewSoftware(name string) *Software {
	return &Software{
		name: name,
		families: map[crypto.KeyType]family{
			crypto.KeyTypeRSA:     rsaFamily{},
			crypto.KeyTypeEC:      ecFamily{},
			crypto.KeyTypeEd25519: ed25519Family{},
			crypto.KeyTypeEd448:   ed448Family{},
			crypto.KeyTypeX25519:  x25519Family{},
			crypto.KeyTypeX448:    x448Family{},
		},
	}
}

// Name implements Generator.
func (s *Software) Name() string {
	return s.name
}

// Supports implements Generator.
func (s *Software) Supports(spec *crypto.Keyspec) bool {
	_, ok := s.families[spec.Type]
	if !ok {
		return false
	}
	// Validate the parameter eagerly so selection failures surface before
	// generation.
	switch spec.Type {
	case crypto.KeyTypeRSA:
		bits, err := strconv.Atoi(spec.Param)
		return err == nil && bits >= 2048 && bits <= 8192
	case crypto.KeyTypeEC:
		_, err := spec.CurveOID()
		return err == nil
	default:
		return true
	}
}

// Generate implements Generator.
func (s *Software) Generate(spec *crypto.Keyspec) (*Keypair, error) {
	f, ok := s.families[spec.Type]
	if !ok {
		return nil, fmt.Errorf("generator %s does not support key type %s", s.name, spec.Type)
	}
	kp, err := f.generate(spec)
	if err != nil {
		return nil, err
	}
	kp.Keyspec = spec
	canonical, err := x509util.ToRFC3279Style(kp.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("generated key failed canonicalisation: %w", err)
	}
	kp.PublicKey = canonical
	return kp, nil
}

type rsaFamily struct{}

func (rsaFamily) generate(spec *crypto.Keyspec) (*Keypair, error) {
	bits, err := strconv.Atoi(spec.Param)
	if err != nil {
		return nil, fmt.Errorf("invalid RSA bit length %q", spec.Param)
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA-%d key: %w", bits, err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal RSA private key: %w", err)
	}

	pubDER, err := x509util.EncodeRSAPublicKey(key.N, big.NewInt(int64(key.E)))
	if err != nil {
		return nil, err
	}
	nullParams := []byte{0x05, 0x00}
	return &Keypair{
		PrivateKeyDER: der,
		PublicKey:     x509util.NewSPKI(x509util.OIDKeyRSA, nullParams, pubDER),
	}, nil
}

type ecFamily struct{}

func (ecFamily) generate(spec *crypto.Keyspec) (*Keypair, error) {
	curveOID, err := spec.CurveOID()
	if err != nil {
		return nil, err
	}

	var curve elliptic.Curve
	switch {
	case curveOID.Equal(x509util.OIDCurveP256):
		curve = elliptic.P256()
	case curveOID.Equal(x509util.OIDCurveP384):
		curve = elliptic.P384()
	case curveOID.Equal(x509util.OIDCurveP521):
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported curve %s", curveOID)
	}

	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate EC key on %s: %w", spec.Param, err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal EC private key: %w", err)
	}

	params, err := asn1.Marshal(curveOID)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal curve OID: %w", err)
	}
	//nolint:staticcheck // uncompressed point form is what RFC 5480 certificates carry
	point := elliptic.Marshal(curve, key.X, key.Y)

	return &Keypair{
		PrivateKeyDER: der,
		PublicKey:     x509util.NewSPKI(x509util.OIDKeyEC, params, point),
	}, nil
}

type ed25519Family struct{}

func (ed25519Family) generate(*crypto.Keyspec) (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate Ed25519 key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Ed25519 private key: %w", err)
	}
	return &Keypair{
		PrivateKeyDER: der,
		PublicKey:     x509util.NewSPKI(x509util.OIDKeyEd25519, nil, pub),
	}, nil
}

type ed448Family struct{}

func (ed448Family) generate(*crypto.Keyspec) (*Keypair, error) {
	pub, priv, err := ed448.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate Ed448 key: %w", err)
	}
	der, err := marshalRFC8410PrivateKey(x509util.OIDKeyEd448, priv.Seed())
	if err != nil {
		return nil, err
	}
	return &Keypair{
		PrivateKeyDER: der,
		PublicKey:     x509util.NewSPKI(x509util.OIDKeyEd448, nil, pub),
	}, nil
}

type x25519Family struct{}

func (x25519Family) generate(*crypto.Keyspec) (*Keypair, error) {
	var priv, pub x25519.Key
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("failed to generate X25519 key: %w", err)
	}
	x25519.KeyGen(&pub, &priv)

	der, err := marshalRFC8410PrivateKey(x509util.OIDKeyX25519, priv[:])
	if err != nil {
		return nil, err
	}
	return &Keypair{
		PrivateKeyDER: der,
		PublicKey:     x509util.NewSPKI(x509util.OIDKeyX25519, nil, pub[:]),
	}, nil
}

type x448Family struct{}

func (x448Family) generate(*crypto.Keyspec) (*Keypair, error) {
	var priv, pub x448.Key
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("failed to generate X448 key: %w", err)
	}
	x448.KeyGen(&pub, &priv)

	der, err := marshalRFC8410PrivateKey(x509util.OIDKeyX448, priv[:])
	if err != nil {
		return nil, err
	}
	return &Keypair{
		PrivateKeyDER: der,
		PublicKey:     x509util.NewSPKI(x509util.OIDKeyX448, nil, pub[:]),
	}, nil
}

// marshalRFC8410PrivateKey encodes a PKCS#8 PrivateKeyInfo for the modern
// curve keys the standard library cannot marshal (Ed448, X448, raw X25519).
// The privateKey field is an OCTET STRING wrapping the CurvePrivateKey
// OCTET STRING per RFC 8410 section 7.
func marshalRFC8410PrivateKey(algorithm asn1.ObjectIdentifier, seed []byte) ([]byte, error) {
	inner, err := asn1.Marshal(seed)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal curve private key: %w", err)
	}
	type privateKeyInfo struct {
		Version    int
		Algorithm  struct{ Algorithm asn1.ObjectIdentifier }
		PrivateKey []byte
	}
	var pki privateKeyInfo
	pki.Algorithm.Algorithm = algorithm
	pki.PrivateKey = inner
	der, err := asn1.Marshal(pki)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal PrivateKeyInfo: %w", err)
	}
	return der, nil
}
