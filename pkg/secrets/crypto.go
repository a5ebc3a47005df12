package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// pbkdf2Iterations, keySize and saltSize follow spec.md §4.4 (the nonce is
// sized by the GCM cipher itself): "AES-256-GCM
// ... per-secret salt + nonce derived from the master key via
// PBKDF2-SHA256, 100,000 iterations".
const (
	pbkdf2Iterations = 100_000
	keySize          = 32 // AES-256
	saltSize         = 16
)

// deriveKey derives a per-secret AES-256 key from the master key and a
// per-secret salt (spec.md §4.4).
func deriveKey(masterKey, salt []byte) []byte {
	return pbkdf2.Key(masterKey, salt, pbkdf2Iterations, keySize, sha256.New)
}

// sealed is the ciphertext/salt/nonce triple produced by encrypt.
type sealed struct {
	Ciphertext []byte
	Salt       []byte
	Nonce      []byte
}

// encrypt seals plaintext under a key derived from masterKey and a freshly
// generated per-secret salt, using AES-256-GCM with a random nonce.
func encrypt(masterKey []byte, plaintext string) (sealed, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return sealed{}, fmt.Errorf("secrets: generate salt: %w", err)
	}

	gcm, err := newGCM(deriveKey(masterKey, salt))
	if err != nil {
		return sealed{}, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return sealed{}, fmt.Errorf("secrets: generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return sealed{Ciphertext: ciphertext, Salt: salt, Nonce: nonce}, nil
}

// decrypt reverses encrypt: decrypt(encrypt(x, key), key) == x (spec.md §8
// round-trip law).
func decrypt(masterKey []byte, s sealed) (string, error) {
	gcm, err := newGCM(deriveKey(masterKey, s.Salt))
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, s.Nonce, s.Ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("secrets: decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: new gcm: %w", err)
	}
	return gcm, nil
}

// Zeroize overwrites a key's bytes in place. Called on the previous master
// key once a rotation's final re-encryption row has committed (spec.md §5:
// "on rotation the previous key is zeroized after the final re-encryption
// row commits").
func Zeroize(key []byte) {
	for i := range key {
		key[i] = 0
	}
}
