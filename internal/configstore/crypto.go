package configstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrDecrypt reports ciphertext that could not be opened, usually because
// the master key changed.
var ErrDecrypt = errors.New("decrypt failed")

// Encryptor seals provider API keys before they are written to disk.
// The master key is stretched to 32 bytes with SHA-256.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor derives an AES-256-GCM encryptor from the master key.
func NewEncryptor(masterKey string) (*Encryptor, error) {
	if masterKey == "" {
		return nil, errors.New("master encryption key is empty")
	}
	sum := sha256.Sum256([]byte(masterKey))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (e *Encryptor) Decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrDecrypt
	}
	ns := e.aead.NonceSize()
	if len(sealed) < ns {
		return "", ErrDecrypt
	}
	plain, err := e.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// EncryptConfig returns a copy of cfg with its API keys sealed.
func (e *Encryptor) EncryptConfig(cfg UserConfig) (UserConfig, error) {
	var err error
	if cfg.LLMAPIKey != "" {
		if cfg.LLMAPIKey, err = e.Encrypt(cfg.LLMAPIKey); err != nil {
			return cfg, err
		}
	}
	if cfg.EmbeddingAPIKey != "" {
		if cfg.EmbeddingAPIKey, err = e.Encrypt(cfg.EmbeddingAPIKey); err != nil {
			return cfg, err
		}
	}
	if cfg.WebSearchAPIKey != "" {
		if cfg.WebSearchAPIKey, err = e.Encrypt(cfg.WebSearchAPIKey); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// DecryptConfig reverses EncryptConfig.
func (e *Encryptor) DecryptConfig(cfg UserConfig) (UserConfig, error) {
	var err error
	if cfg.LLMAPIKey != "" {
		if cfg.LLMAPIKey, err = e.Decrypt(cfg.LLMAPIKey); err != nil {
			return cfg, err
		}
	}
	if cfg.EmbeddingAPIKey != "" {
		if cfg.EmbeddingAPIKey, err = e.Decrypt(cfg.EmbeddingAPIKey); err != nil {
			return cfg, err
		}
	}
	if cfg.WebSearchAPIKey != "" {
		if cfg.WebSearchAPIKey, err = e.Decrypt(cfg.WebSearchAPIKey); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}
