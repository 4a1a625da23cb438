// Package secrets provides the security provider that decrypts per-call
// secret blobs for the execution sandbox. Scripts never see ciphertext or
// keys; they receive plaintext only through the sandbox's secrets accessor.
package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SecurityProvider decrypts secret ciphertext inside a trusted boundary.
// The sandbox delegates every secrets.get call here.
type SecurityProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// LocalProvider implements SecurityProvider with AES-256-GCM. The data key
// is derived from a master secret with HKDF so encryption never uses the
// master secret directly.
type LocalProvider struct {
	aead cipher.AEAD
}

// NewLocalProvider derives the data key and prepares the cipher.
func NewLocalProvider(masterSecret []byte) (*LocalProvider, error) {
	if len(masterSecret) == 0 {
		return nil, fmt.Errorf("master secret is empty")
	}

	salt := []byte("secrets-data-key")
	info := []byte("secret-blob-encryption")
	reader := hkdf.New(sha256.New, masterSecret, salt, info)
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive data key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &LocalProvider{aead: aead}, nil
}

// Encrypt seals plaintext with a random nonce prepended to the output.
func (p *LocalProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, p.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return p.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt.
func (p *LocalProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < p.aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := ciphertext[:p.aead.NonceSize()], ciphertext[p.aead.NonceSize():]
	plaintext, err := p.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt secret: %w", err)
	}
	return plaintext, nil
}
