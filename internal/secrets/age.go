// Package secrets encrypts and decrypts cluster API token values with age so
// connection files can be committed without plaintext credentials.
package secrets

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"filippo.io/age"
)

// EncryptedPrefix marks an encrypted token value. The rest of the value is
// the base64 encoded age ciphertext.
const EncryptedPrefix = "age:"

var (
	// ErrNoPublicKey is returned when no public key is configured for encryption.
	ErrNoPublicKey = errors.New("no public key configured for encryption")
	// ErrNoPrivateKey is returned when no private key is configured for decryption.
	ErrNoPrivateKey = errors.New("no private key configured for decryption")
	// ErrDecryptionFailed is returned when decryption fails.
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrEncryptionFailed is returned when encryption fails.
	ErrEncryptionFailed = errors.New("encryption failed")
	// ErrInvalidKey is returned when a key is invalid.
	ErrInvalidKey = errors.New("invalid key format")
)

// Cipher encrypts and decrypts token values.
type Cipher struct {
	publicKey  *age.X25519Recipient
	privateKey *age.X25519Identity
	logger     *slog.Logger
}

// Config holds the keys of a Cipher.
type Config struct {
	// AgePublicKey is the age public key used to encrypt.
	// Format: age1... (Bech32 encoded)
	AgePublicKey string
	// AgePrivateKey is the age private key used to decrypt. When set without
	// a public key, the public key is derived from it.
	// Format: AGE-SECRET-KEY-1... (Bech32 encoded)
	AgePrivateKey string
}

// NewCipher creates a cipher. Both keys are optional; operations needing a
// missing key fail.
func NewCipher(cfg *Config, logger *slog.Logger) (*Cipher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Cipher{logger: logger}

	if cfg.AgePrivateKey != "" {
		identity, err := age.ParseX25519Identity(strings.TrimSpace(cfg.AgePrivateKey))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid private key: %v", ErrInvalidKey, err)
		}
		c.privateKey = identity
		c.publicKey = identity.Recipient()
	}

	if cfg.AgePublicKey != "" {
		recipient, err := age.ParseX25519Recipient(strings.TrimSpace(cfg.AgePublicKey))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid public key: %v", ErrInvalidKey, err)
		}
		c.publicKey = recipient
	}

	return c, nil
}

// IsEncrypted reports whether a token value carries the encrypted prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

// Encrypt encrypts plaintext with the configured public key.
func (c *Cipher) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if c.publicKey == nil {
		return nil, ErrNoPublicKey
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, c.publicKey)
	if err != nil {
		c.logger.Error("failed to create age encryptor", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	return buf.Bytes(), nil
}

// Decrypt decrypts age ciphertext with the configured private key.
func (c *Cipher) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if c.privateKey == nil {
		return nil, ErrNoPrivateKey
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), c.privateKey)
	if err != nil {
		c.logger.Error("failed to create age decryptor", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return plaintext, nil
}

// EncryptToken returns the encrypted, prefixed form of a token value.
func (c *Cipher) EncryptToken(ctx context.Context, token string) (string, error) {
	ciphertext, err := c.Encrypt(ctx, []byte(token))
	if err != nil {
		return "", err
	}
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptToken returns the plaintext of a token value. Values without the
// encrypted prefix are returned unchanged.
func (c *Cipher) DecryptToken(ctx context.Context, value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, EncryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: invalid encoding: %v", ErrDecryptionFailed, err)
	}

	plaintext, err := c.Decrypt(ctx, ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// CanEncrypt returns true if the cipher is configured for encryption.
func (c *Cipher) CanEncrypt() bool {
	return c.publicKey != nil
}

// CanDecrypt returns true if the cipher is configured for decryption.
func (c *Cipher) CanDecrypt() bool {
	return c.privateKey != nil
}

// PublicKey returns the configured public key string, or empty if not configured.
func (c *Cipher) PublicKey() string {
	if c.publicKey == nil {
		return ""
	}
	return c.publicKey.String()
}

// GenerateKeyPair generates a new age key pair.
func GenerateKeyPair() (publicKey, privateKey string, err error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate age key pair: %w", err)
	}

	return identity.Recipient().String(), identity.String(), nil
}
