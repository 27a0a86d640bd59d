// Package crypto is the abstract cryptographic service the rest of the
// module depends on: keypair generation, signing, verification, and
// content hashing. Spec treats these as an external collaborator — the
// module never cares which concrete scheme backs Signer/Verifier/Hasher,
// only that the contract holds. The default implementation here is a
// thin wrapper over crypto/ed25519 and crypto/sha256; no third-party
// library in the example pack specializes in replacing these (oasis-core's
// own signature package is itself a comparable stdlib wrapper), so the
// standard library is the right tool rather than a gap (see DESIGN.md).
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"fmt"
)

// Keypair is an author's signing identity.
type Keypair struct {
	Address    string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// GenerateKeypair produces a fresh author keypair whose address is
// "@" + shortname + "." + the encoded public key, following the
// @shortname.publickey grammar in spec §6.
func GenerateKeypair(shortname string) (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Keypair{
		Address:    "@" + shortname + "." + EncodePublicKey(pub),
		PublicKey:  pub,
		PrivateKey: priv,
	}, nil
}

// EncodePublicKey renders a public key using the base32-like alphabet the
// address grammar requires (lowercase, no padding).
func EncodePublicKey(pub ed25519.PublicKey) string {
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return "b" + toLower(enc.EncodeToString(pub))
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c - 'A' + 'a'
		}
	}
	return string(b)
}

// Signer signs arbitrary bytes under a keypair's private key.
type Signer interface {
	Sign(kp *Keypair, message []byte) (signature string, err error)
}

// Verifier checks a signature against an author's public address.
type Verifier interface {
	Verify(authorAddress string, message []byte, signature string) (bool, error)
}

// Hasher computes a content hash used for Document.ContentHash.
type Hasher interface {
	Hash(content []byte) string
}

// Service bundles Signer, Verifier, and Hasher behind the one dependency
// the bowl and doc packages take.
type Service interface {
	Signer
	Verifier
	Hasher
}

// ed25519Service is the default Service: ed25519 signatures over the raw
// message bytes, sha256 content hashing, both base32-encoded.
type ed25519Service struct{}

// NewService returns the default ed25519/sha256 crypto service.
func NewService() Service {
	return ed25519Service{}
}

func (ed25519Service) Sign(kp *Keypair, message []byte) (string, error) {
	if kp == nil || len(kp.PrivateKey) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("sign: invalid keypair")
	}
	sig := ed25519.Sign(kp.PrivateKey, message)
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return "x" + toLower(enc.EncodeToString(sig)), nil
}

func (ed25519Service) Verify(authorAddress string, message []byte, signature string) (bool, error) {
	pub, err := decodeAddressKey(authorAddress)
	if err != nil {
		return false, err
	}
	sig, err := decodeSig(signature)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(pub, message, sig), nil
}

func (ed25519Service) Hash(content []byte) string {
	sum := sha256.Sum256(content)
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return "b" + toLower(enc.EncodeToString(sum[:]))
}

func decodeAddressKey(address string) (ed25519.PublicKey, error) {
	// Address grammar: @shortname.bKEY — the key is everything after the
	// last '.', with its leading 'b' stripped.
	dot := -1
	for i := len(address) - 1; i >= 0; i-- {
		if address[i] == '.' {
			dot = i
			break
		}
	}
	if dot < 0 || dot+2 > len(address) {
		return nil, fmt.Errorf("malformed author address %q", address)
	}
	encoded := address[dot+2:]
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	raw, err := enc.DecodeString(toUpper(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode author key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("author key has wrong size %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

func decodeSig(signature string) ([]byte, error) {
	if len(signature) < 1 {
		return nil, fmt.Errorf("empty signature")
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	raw, err := enc.DecodeString(toUpper(signature[1:]))
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	return raw, nil
}

func toUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}
