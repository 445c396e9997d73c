package vault

import (
	"encoding/base64"
	"fmt"
)

// Algorithm tags. The tag travels out of band from the envelope bytes
// (stored alongside, never embedded) so key rotation does not require
// reparsing old envelopes.
const (
	// AlgorithmManaged marks ciphertext produced by the managed key
	// service. The service embeds its own nonce and authentication data
	// in the blob, so Nonce and Tag are empty.
	AlgorithmManaged = "kms"

	// AlgorithmLocal marks ciphertext produced by the local AEAD
	// fallback: AES-256-GCM with a 16-byte nonce and 16-byte tag.
	AlgorithmLocal = "aes256gcm"
)

// Local AEAD geometry.
const (
	localNonceSize = 16
	localTagSize   = 16
)

// Envelope is the structured output of authenticated encryption.
type Envelope struct {
	Algorithm  string
	KeyVersion int
	Nonce      []byte
	Tag        []byte
	Ciphertext []byte
}

// Encode serializes the envelope body as base64(nonce || tag || ciphertext).
// Algorithm and KeyVersion are intentionally not part of the byte string.
func (e Envelope) Encode() string {
	buf := make([]byte, 0, len(e.Nonce)+len(e.Tag)+len(e.Ciphertext))
	buf = append(buf, e.Nonce...)
	buf = append(buf, e.Tag...)
	buf = append(buf, e.Ciphertext...)
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeEnvelope parses an encoded envelope body given its out-of-band
// algorithm tag and key version. For AlgorithmLocal the body splits into
// nonce, tag, and ciphertext; for AlgorithmManaged the whole body is the
// managed service's opaque blob.
func DecodeEnvelope(algorithm string, keyVersion int, encoded string) (Envelope, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Envelope{}, fmt.Errorf("vault: decode envelope: %w", err)
	}
	env := Envelope{Algorithm: algorithm, KeyVersion: keyVersion}
	switch algorithm {
	case AlgorithmLocal:
		if len(raw) < localNonceSize+localTagSize {
			return Envelope{}, fmt.Errorf("vault: envelope too short: %d bytes", len(raw))
		}
		env.Nonce = raw[:localNonceSize]
		env.Tag = raw[localNonceSize : localNonceSize+localTagSize]
		env.Ciphertext = raw[localNonceSize+localTagSize:]
	case AlgorithmManaged:
		env.Ciphertext = raw
	default:
		return Envelope{}, fmt.Errorf("vault: unknown algorithm %q", algorithm)
	}
	return env, nil
}
