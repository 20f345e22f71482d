package identity

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const sealInfo = "sync-gateway sealed session v1"

// SessionTokens is the plaintext carried inside a sealed session cookie.
type SessionTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Sealer encrypts session tokens into an opaque cookie value and back.
// Format: base64url(nonce || XChaCha20-Poly1305 ciphertext).
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the sealing key from the cookie password.
func NewSealer(password string) (*Sealer, error) {
	if len(password) < 32 {
		return nil, errors.New("cookie password must be at least 32 characters")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(password), nil, []byte(sealInfo)), key); err != nil {
		return nil, fmt.Errorf("derive sealing key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create aead: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts tokens.
func (s *Sealer) Seal(tokens SessionTokens) (string, error) {
	plaintext, err := json.Marshal(tokens)
	if err != nil {
		return "", fmt.Errorf("encode tokens: %w", err)
	}
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Unseal decrypts a sealed value. Tampered, truncated or foreign values fail.
func (s *Sealer) Unseal(sealed string) (*SessionTokens, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("decode sealed session: %w", err)
	}
	if len(raw) < s.aead.NonceSize()+s.aead.Overhead() {
		return nil, errors.New("sealed session too short")
	}
	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed session: %w", err)
	}

	var tokens SessionTokens
	if err := json.Unmarshal(plaintext, &tokens); err != nil {
		return nil, fmt.Errorf("decode tokens: %w", err)
	}
	if tokens.AccessToken == "" {
		return nil, errors.New("sealed session has no access token")
	}
	return &tokens, nil
}
