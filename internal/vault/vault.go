// internal/vault/vault.go

// Package vault seals and opens subscriber push keys. One symmetric key
// is derived from the configured secret at construction; plaintext key
// material never leaves this package except as the transient return
// value of Decrypt.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"

	apperrors "push-dispatch/internal/common/errors"
	"push-dispatch/internal/models"
)

// scrypt parameters; 32-byte output matches AES-256.
const (
	scryptN     = 1 << 15
	scryptR     = 8
	scryptP     = 1
	keyLength   = 32
	nonceLength = 12
)

type Vault struct {
	aead cipher.AEAD
}

// New derives the process-wide key and prepares the AEAD. A missing
// secret or salt is a configuration error and fatal at startup.
func New(secret, salt string) (*Vault, error) {
	if secret == "" {
		return nil, apperrors.NewConfigurationError("vault: encryption secret is not set")
	}
	if salt == "" {
		return nil, apperrors.NewConfigurationError("vault: key derivation salt is not set")
	}

	key, err := scrypt.Key([]byte(secret), []byte(salt), scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("vault: key derivation failed: %v", err))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("vault: cipher init failed: %v", err))
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("vault: AEAD init failed: %v", err))
	}

	return &Vault{aead: aead}, nil
}

// Encrypt seals key material under a fresh random nonce. The returned
// blob carries everything Decrypt needs.
func (v *Vault) Encrypt(km models.KeyMaterial) (models.EncryptedBlob, error) {
	plaintext, err := json.Marshal(km)
	if err != nil {
		return models.EncryptedBlob{}, fmt.Errorf("vault: marshal key material: %w", err)
	}

	nonce := make([]byte, nonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return models.EncryptedBlob{}, fmt.Errorf("vault: nonce generation: %w", err)
	}

	sealed := v.aead.Seal(nil, nonce, plaintext, nil)
	tagStart := len(sealed) - v.aead.Overhead()

	return models.EncryptedBlob{
		Nonce:      hex.EncodeToString(nonce),
		Ciphertext: hex.EncodeToString(sealed[:tagStart]),
		AuthTag:    hex.EncodeToString(sealed[tagStart:]),
	}, nil
}

// Decrypt opens a blob. Any tampering or corruption fails the tag check
// and surfaces as an integrity error; the caller attaches the
// subscriber id, this package never sees it.
func (v *Vault) Decrypt(blob models.EncryptedBlob) (models.KeyMaterial, error) {
	nonce, err := hex.DecodeString(blob.Nonce)
	if err != nil || len(nonce) != nonceLength {
		return models.KeyMaterial{}, apperrors.NewIntegrityError("")
	}
	ciphertext, err := hex.DecodeString(blob.Ciphertext)
	if err != nil {
		return models.KeyMaterial{}, apperrors.NewIntegrityError("")
	}
	tag, err := hex.DecodeString(blob.AuthTag)
	if err != nil || len(tag) != v.aead.Overhead() {
		return models.KeyMaterial{}, apperrors.NewIntegrityError("")
	}

	plaintext, err := v.aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return models.KeyMaterial{}, apperrors.NewIntegrityError("")
	}

	var km models.KeyMaterial
	if err := json.Unmarshal(plaintext, &km); err != nil {
		return models.KeyMaterial{}, apperrors.NewIntegrityError("")
	}
	return km, nil
}
