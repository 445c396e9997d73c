package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
)

// localStrategy is the deterministic fallback: AES-256-GCM with a key
// derived from the configured secret. It requires no network and cannot be
// unavailable, so it terminates the strategy chain.
type localStrategy struct {
	aead       cipher.AEAD
	keyVersion int
}

func newLocalStrategy(secret string, keyVersion int) (*localStrategy, error) {
	if secret == "" {
		return nil, fmt.Errorf("vault: local secret is required")
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("vault: local cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, localNonceSize)
	if err != nil {
		return nil, fmt.Errorf("vault: local aead: %w", err)
	}
	return &localStrategy{aead: aead, keyVersion: keyVersion}, nil
}

func (s *localStrategy) name() string { return AlgorithmLocal }

func (s *localStrategy) canDecrypt(algorithm string) bool {
	return algorithm == AlgorithmLocal
}

func (s *localStrategy) encrypt(_ context.Context, plaintext []byte) (Envelope, error) {
	nonce := make([]byte, localNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Envelope{}, fmt.Errorf("vault: nonce: %w", err)
	}
	sealed := s.aead.Seal(nil, nonce, plaintext, nil)
	// Seal appends the tag to the ciphertext; the envelope keeps them apart.
	ct := sealed[:len(sealed)-localTagSize]
	tag := sealed[len(sealed)-localTagSize:]
	return Envelope{
		Algorithm:  AlgorithmLocal,
		KeyVersion: s.keyVersion,
		Nonce:      nonce,
		Tag:        tag,
		Ciphertext: ct,
	}, nil
}

func (s *localStrategy) decrypt(_ context.Context, env Envelope) ([]byte, error) {
	if len(env.Nonce) == 0 && len(env.Tag) == 0 && len(env.Ciphertext) >= localNonceSize+localTagSize {
		// Envelope labeled for another algorithm: re-split the raw body
		// using local geometry for backward compatibility.
		raw := env.Ciphertext
		env.Nonce = raw[:localNonceSize]
		env.Tag = raw[localNonceSize : localNonceSize+localTagSize]
		env.Ciphertext = raw[localNonceSize+localTagSize:]
	}
	if len(env.Nonce) != localNonceSize || len(env.Tag) != localTagSize {
		return nil, fmt.Errorf("vault: malformed local envelope")
	}
	sealed := make([]byte, 0, len(env.Ciphertext)+localTagSize)
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.Tag...)
	plaintext, err := s.aead.Open(nil, env.Nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("vault: local decrypt: %w", err)
	}
	return plaintext, nil
}
