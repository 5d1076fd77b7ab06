package models

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	"github.com/rohanthewiz/serr"
	"golang.org/x/crypto/argon2"
)

// Sealed blobs are laid out as salt | nonce | ciphertext+tag.
const (
	sealSaltLen = 16
	sealKeyLen  = 32 // AES-256

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// Sealer encrypts small secrets such as the persisted session with
// AES-256-GCM under a key derived from a passphrase.
//
// The salt is random per seal and stored in the blob, so the same
// passphrase yields different ciphertexts and no key material is stored.
type Sealer struct {
	passphrase []byte
}

// NewSealer returns a Sealer for passphrase. An empty passphrase is rejected
// because the persisted session holds a refresh token.
func NewSealer(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, serr.New("session key is required to seal the session")
	}
	return &Sealer{passphrase: []byte(passphrase)}, nil
}

func (s *Sealer) gcm(salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(s.passphrase, salt, argonTime, argonMemory, argonThreads, sealKeyLen)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, serr.Wrap(err, "failed to create AES cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, serr.Wrap(err, "failed to create GCM mode")
	}
	return gcm, nil
}

// Seal encrypts plaintext. A fresh salt and nonce are drawn every call.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, sealSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, serr.Wrap(err, "failed to generate salt")
	}

	gcm, err := s.gcm(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, serr.Wrap(err, "failed to generate random nonce")
	}

	out := make([]byte, 0, len(salt)+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// Open decrypts a blob produced by Seal. Tampering or a wrong passphrase
// fails GCM authentication.
func (s *Sealer) Open(blob []byte) ([]byte, error) {
	if len(blob) < sealSaltLen {
		return nil, serr.New("sealed blob too short")
	}
	salt := blob[:sealSaltLen]

	gcm, err := s.gcm(salt)
	if err != nil {
		return nil, err
	}

	rest := blob[sealSaltLen:]
	if len(rest) < gcm.NonceSize() {
		return nil, serr.New("sealed blob too short")
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, serr.Wrap(err, "decryption failed: wrong session key or corrupted blob")
	}
	return plaintext, nil
}
