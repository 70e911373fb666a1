// Package security implements the session shape of spec §4.4 with real
// (non-stub) primitives: X25519 key agreement, HKDF-derived session
// keys, XChaCha20-Poly1305 AEAD, and Ed25519 signatures — supplementing
// a feature the spec leaves as an external collaborator but that
// original_source/umicp/cpp/src/security.cpp actually implements (DH
// exchange plus session key derivation).
//
// The spec explicitly calls out that the placeholder XOR/random
// constructs visible in some reference sources are non-secure MVP stubs
// and are not part of the contract; nothing here ships one.
package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/relaymesh/umicp"
)

// Manager is the security interface of spec §4.4, consulted by the
// orchestrator for authentication state and by callers needing to
// sign, verify, encrypt or decrypt payloads.
type Manager interface {
	GenerateKeypair() error
	LoadPrivateKey(priv []byte) error
	SetPeerPublicKey(pub []byte) error

	Sign(data []byte) ([]byte, error)
	Verify(data, signature []byte) (bool, error)

	Encrypt(data []byte) ([]byte, error)
	Decrypt(data []byte) ([]byte, error)

	EstablishSession(peerID string) error
	CloseSession()
	HasSession() bool

	IsAuthenticated() bool
	PeerID() string
}

// manager is the real implementation: X25519 for key agreement,
// HKDF-SHA256 to derive a session key, XChaCha20-Poly1305 for the AEAD
// named by the frame flag ENCRYPTED_XCHACHA20, and Ed25519 (standard
// library, since no third-party signature library appears anywhere in
// this module's reference material) for Sign/Verify.
type manager struct {
	mu sync.RWMutex

	signPriv ed25519.PrivateKey
	signPub  ed25519.PublicKey

	dhPriv [32]byte
	dhPub  [32]byte

	peerDHPub [32]byte
	hasPeer   bool

	sessionID  string
	sessionKey []byte
	aead       cipherAEAD

	authenticated bool
	peerID        string
}

type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
}

// NewManager builds an unkeyed Manager. Call GenerateKeypair or
// LoadPrivateKey before Sign/EstablishSession.
func NewManager() Manager {
	return &manager{}
}

func (m *manager) GenerateKeypair() error {
	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return umicp.NewError(umicp.ErrAuthenticationFailed, fmt.Sprintf("generate signing key: %v", err))
	}

	var dhPriv [32]byte
	if _, err := rand.Read(dhPriv[:]); err != nil {
		return umicp.NewError(umicp.ErrAuthenticationFailed, fmt.Sprintf("generate dh key: %v", err))
	}
	var dhPub [32]byte
	curve25519.ScalarBaseMult(&dhPub, &dhPriv)

	m.mu.Lock()
	m.signPub, m.signPriv = signPub, signPriv
	m.dhPriv, m.dhPub = dhPriv, dhPub
	m.mu.Unlock()
	return nil
}

// LoadPrivateKey loads a previously generated Ed25519 private key (64
// bytes, the standard library's seed+public encoding). The X25519
// keypair is still freshly generated: the spec treats signing identity
// and session key agreement as separable concerns.
func (m *manager) LoadPrivateKey(priv []byte) error {
	if len(priv) != ed25519.PrivateKeySize {
		return umicp.NewError(umicp.ErrInvalidArgument, fmt.Sprintf("private key must be %d bytes", ed25519.PrivateKeySize))
	}
	var dhPriv [32]byte
	if _, err := rand.Read(dhPriv[:]); err != nil {
		return umicp.NewError(umicp.ErrAuthenticationFailed, fmt.Sprintf("generate dh key: %v", err))
	}
	var dhPub [32]byte
	curve25519.ScalarBaseMult(&dhPub, &dhPriv)

	key := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	copy(key, priv)

	m.mu.Lock()
	m.signPriv = key
	m.signPub = key.Public().(ed25519.PublicKey)
	m.dhPriv, m.dhPub = dhPriv, dhPub
	m.mu.Unlock()
	return nil
}

// SetPeerPublicKey records the peer's X25519 public key, used by the
// next EstablishSession call.
func (m *manager) SetPeerPublicKey(pub []byte) error {
	if len(pub) != 32 {
		return umicp.NewError(umicp.ErrInvalidArgument, "peer public key must be 32 bytes")
	}
	m.mu.Lock()
	copy(m.peerDHPub[:], pub)
	m.hasPeer = true
	m.mu.Unlock()
	return nil
}

func (m *manager) Sign(data []byte) ([]byte, error) {
	m.mu.RLock()
	priv := m.signPriv
	m.mu.RUnlock()
	if priv == nil {
		return nil, umicp.NewError(umicp.ErrAuthenticationFailed, "no signing key loaded")
	}
	return ed25519.Sign(priv, data), nil
}

func (m *manager) Verify(data, signature []byte) (bool, error) {
	m.mu.RLock()
	pub := m.signPub
	m.mu.RUnlock()
	if pub == nil {
		return false, umicp.NewError(umicp.ErrAuthenticationFailed, "no verification key loaded")
	}
	return ed25519.Verify(pub, data, signature), nil
}

// EstablishSession derives a shared session key via X25519 + HKDF from
// the local private key and the peer's public key set via
// SetPeerPublicKey, then marks the manager authenticated for peerID.
// Supplements the spec's external-collaborator security interface with
// the minimal real DH handshake original_source/umicp/cpp/src/
// security.cpp performs (no wire round-trip of its own here; callers
// exchange public keys over CONTROL envelopes before calling this).
func (m *manager) EstablishSession(peerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.hasPeer {
		return umicp.NewError(umicp.ErrAuthenticationFailed, "peer public key not set")
	}

	shared, err := curve25519.X25519(m.dhPriv[:], m.peerDHPub[:])
	if err != nil {
		return umicp.NewError(umicp.ErrAuthenticationFailed, fmt.Sprintf("key agreement failed: %v", err))
	}

	kdf := hkdf.New(sha256.New, shared, nil, []byte("umicp-session-v1"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := kdf.Read(key); err != nil {
		return umicp.NewError(umicp.ErrAuthenticationFailed, fmt.Sprintf("derive session key: %v", err))
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return umicp.NewError(umicp.ErrAuthenticationFailed, fmt.Sprintf("init aead: %v", err))
	}

	m.sessionID = uuid.NewString()
	m.sessionKey = key
	m.aead = aead
	m.authenticated = true
	m.peerID = peerID
	return nil
}

func (m *manager) CloseSession() {
	m.mu.Lock()
	m.sessionID = ""
	m.sessionKey = nil
	m.aead = nil
	m.authenticated = false
	m.peerID = ""
	m.mu.Unlock()
}

func (m *manager) HasSession() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.aead != nil
}

func (m *manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.authenticated
}

func (m *manager) PeerID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peerID
}

// Encrypt seals data under the established session's AEAD, prepending
// a fresh random nonce, matching the frame flag ENCRYPTED_XCHACHA20.
func (m *manager) Encrypt(data []byte) ([]byte, error) {
	m.mu.RLock()
	aead := m.aead
	m.mu.RUnlock()
	if aead == nil {
		return nil, umicp.NewError(umicp.ErrAuthenticationFailed, "no established session")
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, umicp.NewError(umicp.ErrDecryptionFailed, fmt.Sprintf("generate nonce: %v", err))
	}
	sealed := aead.Seal(nil, nonce, data, nil)
	return append(nonce, sealed...), nil
}

// Decrypt reverses Encrypt.
func (m *manager) Decrypt(data []byte) ([]byte, error) {
	m.mu.RLock()
	aead := m.aead
	m.mu.RUnlock()
	if aead == nil {
		return nil, umicp.NewError(umicp.ErrAuthenticationFailed, "no established session")
	}

	n := aead.NonceSize()
	if len(data) < n {
		return nil, umicp.NewError(umicp.ErrDecryptionFailed, "ciphertext shorter than nonce")
	}
	nonce, ciphertext := data[:n], data[n:]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, umicp.NewError(umicp.ErrDecryptionFailed, err.Error())
	}
	return plain, nil
}
