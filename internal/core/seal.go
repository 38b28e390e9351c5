package core

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"pipelinecore/pkg/domain"
)

// Sealed value token format: "pc1.<salt>.<nonce||ciphertext>", both segments
// base64url without padding. The key is derived per value from the password
// and a random salt; the ciphertext is AES-256-GCM, so tampering and wrong
// passwords fail authentication instead of yielding corrupt plaintext.
const (
	sealPrefix     = "pc1"
	sealSaltLen    = 16
	sealKeyLen     = 32
	sealIterations = 10000
)

var sealEncoding = base64.RawURLEncoding

func sealKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, sealIterations, sealKeyLen, sha256.New)
}

// SealValue encrypts a sensitive field value under the process password.
// Sealing never partially succeeds: any failure returns an empty ciphertext.
func SealValue(value, password string) (string, error) {
	if password == "" {
		return "", &domain.SealingError{Op: "seal", Err: errors.New("empty password")}
	}
	salt := make([]byte, sealSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", &domain.SealingError{Op: "seal", Err: err}
	}
	aead, err := newSealAEAD(password, salt)
	if err != nil {
		return "", &domain.SealingError{Op: "seal", Err: err}
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", &domain.SealingError{Op: "seal", Err: err}
	}
	sealed := aead.Seal(nonce, nonce, []byte(value), nil)
	return sealPrefix + "." + sealEncoding.EncodeToString(salt) + "." + sealEncoding.EncodeToString(sealed), nil
}

// UnsealValue reverses SealValue. Malformed tokens and password mismatches
// surface as a SealingError.
func UnsealValue(token, password string) (string, error) {
	if password == "" {
		return "", &domain.SealingError{Op: "unseal", Err: errors.New("empty password")}
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] != sealPrefix {
		return "", &domain.SealingError{Op: "unseal", Err: errors.New("malformed sealed value")}
	}
	salt, err := sealEncoding.DecodeString(parts[1])
	if err != nil {
		return "", &domain.SealingError{Op: "unseal", Err: fmt.Errorf("decode salt: %w", err)}
	}
	sealed, err := sealEncoding.DecodeString(parts[2])
	if err != nil {
		return "", &domain.SealingError{Op: "unseal", Err: fmt.Errorf("decode payload: %w", err)}
	}
	aead, err := newSealAEAD(password, salt)
	if err != nil {
		return "", &domain.SealingError{Op: "unseal", Err: err}
	}
	if len(sealed) < aead.NonceSize() {
		return "", &domain.SealingError{Op: "unseal", Err: errors.New("sealed payload too short")}
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", &domain.SealingError{Op: "unseal", Err: fmt.Errorf("authentication failed: %w", err)}
	}
	return string(plain), nil
}

func newSealAEAD(password string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(sealKey(password, salt))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
