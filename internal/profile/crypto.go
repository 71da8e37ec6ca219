package profile

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// ErrWrongCredential indicates the envelope failed to authenticate, which
// almost always means a wrong passphrase.
var ErrWrongCredential = errors.New("wrong credential or corrupted data")

const (
	envelopeVersion = 1

	saltSize  = 16
	nonceSize = 12
	keySize   = 32
)

// argon2id parameters, sized for interactive use on a personal machine.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
)

// deriveKey stretches the credential into an AES key
func deriveKey(credential string, salt []byte) []byte {
	return argon2.IDKey([]byte(credential), salt, argonTime, argonMemory, argonThreads, keySize)
}

// seal encrypts plaintext under credential. Envelope layout:
// version(1) || salt(16) || nonce(12) || ciphertext.
func seal(plaintext []byte, credential string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(credential, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	envelope := make([]byte, 0, 1+saltSize+nonceSize+len(plaintext)+gcm.Overhead())
	envelope = append(envelope, envelopeVersion)
	envelope = append(envelope, salt...)
	envelope = append(envelope, nonce...)
	envelope = gcm.Seal(envelope, nonce, plaintext, nil)
	return envelope, nil
}

// open decrypts an envelope produced by seal
func open(envelope []byte, credential string) ([]byte, error) {
	if len(envelope) < 1+saltSize+nonceSize {
		return nil, fmt.Errorf("envelope too short: %w", ErrWrongCredential)
	}
	if envelope[0] != envelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version %d", envelope[0])
	}

	salt := envelope[1 : 1+saltSize]
	nonce := envelope[1+saltSize : 1+saltSize+nonceSize]
	ciphertext := envelope[1+saltSize+nonceSize:]

	block, err := aes.NewCipher(deriveKey(credential, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrWrongCredential
	}
	return plaintext, nil
}
