// Package secrets seals the pot and mint keypairs of a game so that only
// public addresses live next to the game state.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultIterations is the PBKDF2-HMAC-SHA256 work factor.
	DefaultIterations = 480_000

	saltLen        = 16
	aesKeyLen      = 32
	currentVersion = 1
)

var (
	ErrEmptyPassphrase = errors.New("secrets: passphrase must not be empty")
	ErrBadEnvelope     = errors.New("secrets: malformed envelope")
	ErrDecrypt         = errors.New("secrets: decryption failed (wrong passphrase or corrupted data)")
)

// envelope is the stored format of one sealed secret.
type envelope struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Sealer encrypts secrets with AES-256-GCM under a key derived from a passphrase.
//
// Key derivation is expensive, so a Sealer seals everything under one salt
// generated on first use and caches the derived key of every salt it opens.
type Sealer struct {
	passphrase []byte
	iterations int

	mu   sync.Mutex
	salt []byte
	keys map[string][]byte // base64 salt -> derived key
}

// NewSealer creates a Sealer. iterations <= 0 uses DefaultIterations.
func NewSealer(passphrase string, iterations int) (*Sealer, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return &Sealer{
		passphrase: []byte(passphrase),
		iterations: iterations,
		keys:       make(map[string][]byte),
	}, nil
}

func (s *Sealer) key(salt []byte) []byte {
	id := base64.StdEncoding.EncodeToString(salt)
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		return k
	}
	k := pbkdf2.Key(s.passphrase, salt, s.iterations, aesKeyLen, sha256.New)
	s.keys[id] = k
	return k
}

func (s *Sealer) currentSalt() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.salt == nil {
		salt := make([]byte, saltLen)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("secrets: generating salt: %w", err)
		}
		s.salt = salt
	}
	return s.salt, nil
}

// Seal encrypts plaintext and returns the JSON envelope.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	salt, err := s.currentSalt()
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(s.key(salt))
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("secrets: generating nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	out, err := json.Marshal(envelope{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	})
	if err != nil {
		return nil, fmt.Errorf("secrets: marshalling envelope: %w", err)
	}
	return out, nil
}

// Open decrypts an envelope produced by Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(sealed, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if env.Version != currentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadEnvelope, env.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: salt: %v", ErrBadEnvelope, err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", ErrBadEnvelope, err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", ErrBadEnvelope, err)
	}

	gcm, err := newGCM(s.key(salt))
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("%w: nonce length %d", ErrBadEnvelope, len(nonce))
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: creating GCM: %w", err)
	}
	return gcm, nil
}
