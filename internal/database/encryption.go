package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	encryptionSecretEnv = "CHANRELAY_ENCRYPTION_SECRET"
	keyDerivationSalt   = "chanrelay-watermark-store"
	keyDerivationIters  = 100000
	keySize             = 32
	nonceSize           = 12
)

// encryptor provides optional at-rest encryption of channel identifiers.
// Lookups use a deterministic HMAC of the plaintext so encrypted rows stay
// addressable without decrypting the table.
type encryptor struct {
	gcm       cipher.AEAD
	lookupKey []byte
}

func newEncryptor() (*encryptor, error) {
	secret := os.Getenv(encryptionSecretEnv)
	if secret == "" {
		return &encryptor{}, nil
	}

	key := pbkdf2.Key([]byte(secret), []byte(keyDerivationSalt), keyDerivationIters, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	lookupKey := pbkdf2.Key([]byte(secret), []byte(keyDerivationSalt+"-lookup"), keyDerivationIters, keySize, sha256.New)

	return &encryptor{gcm: gcm, lookupKey: lookupKey}, nil
}

func (e *encryptor) enabled() bool {
	return e.gcm != nil
}

// EncryptIfEnabled encrypts plaintext when encryption is configured,
// otherwise returns it unchanged.
func (e *encryptor) EncryptIfEnabled(plaintext string) (string, error) {
	if plaintext == "" || !e.enabled() {
		return plaintext, nil
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := e.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(append(nonce, ciphertext...)), nil
}

// DecryptIfEnabled reverses EncryptIfEnabled.
func (e *encryptor) DecryptIfEnabled(value string) (string, error) {
	if value == "" || !e.enabled() {
		return value, nil
	}

	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	if len(raw) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	plaintext, err := e.gcm.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// HashForLookup returns a deterministic handle for value. Without a configured
// secret it falls back to a plain SHA-256 so the schema stays uniform.
func (e *encryptor) HashForLookup(value string) string {
	if e.enabled() {
		mac := hmac.New(sha256.New, e.lookupKey)
		mac.Write([]byte(value))
		return base64.StdEncoding.EncodeToString(mac.Sum(nil))
	}
	sum := sha256.Sum256([]byte(value))
	return base64.StdEncoding.EncodeToString(sum[:])
}
