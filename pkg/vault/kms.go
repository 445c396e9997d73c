package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/googleapis/gax-go/v2"
)

// encryptionContext binds purpose and application tags into the managed
// ciphertext. The same context must be presented at decrypt time, so
// ciphertext cannot be replayed under a different purpose.
var encryptionContext = map[string]string{
	"purpose": "transcript",
	"app":     "sona",
}

// KMSClient abstracts the KMS API operations used by the managed strategy.
// The [kms.Client] type satisfies this interface.
type KMSClient interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// managedStrategy encrypts through the managed key service. Transient
// failures are retried with backoff; persistent failure hands the
// operation to the next strategy in the chain.
type managedStrategy struct {
	client     KMSClient
	keyID      string
	keyVersion int

	attempts int
	backoff  gax.Backoff
}

func newManagedStrategy(client KMSClient, keyID string, keyVersion int) *managedStrategy {
	return &managedStrategy{
		client:     client,
		keyID:      keyID,
		keyVersion: keyVersion,
		attempts:   3,
		backoff: gax.Backoff{
			Initial:    100 * time.Millisecond,
			Max:        2 * time.Second,
			Multiplier: 2,
		},
	}
}

func (s *managedStrategy) name() string { return AlgorithmManaged }

func (s *managedStrategy) canDecrypt(algorithm string) bool {
	return algorithm == AlgorithmManaged
}

// retry runs fn up to s.attempts times with exponential backoff between
// failures, respecting context cancellation.
func (s *managedStrategy) retry(ctx context.Context, fn func() error) error {
	bo := s.backoff
	var err error
	for i := 0; i < s.attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < s.attempts-1 {
			if serr := gax.Sleep(ctx, bo.Pause()); serr != nil {
				return serr
			}
		}
	}
	return err
}

func (s *managedStrategy) encrypt(ctx context.Context, plaintext []byte) (Envelope, error) {
	var out *kms.EncryptOutput
	err := s.retry(ctx, func() error {
		var err error
		out, err = s.client.Encrypt(ctx, &kms.EncryptInput{
			KeyId:             aws.String(s.keyID),
			Plaintext:         plaintext,
			EncryptionContext: encryptionContext,
		})
		return err
	})
	if err != nil {
		return Envelope{}, fmt.Errorf("vault: kms encrypt: %w", err)
	}
	return Envelope{
		Algorithm:  AlgorithmManaged,
		KeyVersion: s.keyVersion,
		Ciphertext: out.CiphertextBlob,
	}, nil
}

func (s *managedStrategy) decrypt(ctx context.Context, env Envelope) ([]byte, error) {
	var out *kms.DecryptOutput
	err := s.retry(ctx, func() error {
		var err error
		out, err = s.client.Decrypt(ctx, &kms.DecryptInput{
			CiphertextBlob:    env.Ciphertext,
			EncryptionContext: encryptionContext,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("vault: kms decrypt: %w", err)
	}
	return out.Plaintext, nil
}
