// Package seal is the symmetric codec for scene payloads that leave
// the local machine: room broadcasts and inline share tokens. AES-256
// in GCM mode, random nonce prefixed to the ciphertext. The key rides
// in the location fragment and never reaches the relay or the object
// store, so neither can read what it carries.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

var errTooShort = errors.New("seal: payload shorter than nonce")

// Key is one room or share key.
type Key [KeySize]byte

// NewKey returns a fresh random key.
func NewKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, fmt.Errorf("seal: generate key: %w", err)
	}
	return k, nil
}

// ParseKey decodes the fragment form produced by String.
func ParseKey(s string) (Key, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Key{}, fmt.Errorf("seal: decode key: %w", err)
	}
	if len(raw) != KeySize {
		return Key{}, fmt.Errorf("seal: key is %d bytes, want %d", len(raw), KeySize)
	}
	var k Key
	copy(k[:], raw)
	return k, nil
}

// String renders the key in the URL-safe form used in location
// fragments.
func (k Key) String() string {
	return base64.RawURLEncoding.EncodeToString(k[:])
}

// Seal encrypts plaintext and returns nonce || ciphertext.
func (k Key) Seal(plaintext []byte) ([]byte, error) {
	gcm, err := k.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("seal: nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a payload produced by Seal. Any tampering or a wrong
// key fails authentication.
func (k Key) Open(sealed []byte) ([]byte, error) {
	gcm, err := k.aead()
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, errTooShort
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("seal: open: %w", err)
	}
	return plaintext, nil
}

func (k Key) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(k[:])
	if err != nil {
		return nil, fmt.Errorf("seal: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("seal: gcm: %w", err)
	}
	return gcm, nil
}
