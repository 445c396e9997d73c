package vault_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/lumenkind/sona/pkg/vault"
)

// fakeKMS simulates the managed key service with reversible "encryption"
// (a marker prefix) and a switchable failure mode.
type fakeKMS struct {
	unavailable bool
	calls       int
}

const fakePrefix = "kms-blob:"

func (f *fakeKMS) Encrypt(_ context.Context, in *kms.EncryptInput, _ ...func(*kms.Options)) (*kms.EncryptOutput, error) {
	f.calls++
	if f.unavailable {
		return nil, errors.New("kms: service unavailable")
	}
	blob := append([]byte(fakePrefix), in.Plaintext...)
	return &kms.EncryptOutput{CiphertextBlob: blob}, nil
}

func (f *fakeKMS) Decrypt(_ context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	f.calls++
	if f.unavailable {
		return nil, errors.New("kms: service unavailable")
	}
	blob := in.CiphertextBlob
	if !strings.HasPrefix(string(blob), fakePrefix) {
		return nil, errors.New("kms: invalid ciphertext")
	}
	return &kms.DecryptOutput{Plaintext: blob[len(fakePrefix):]}, nil
}

func newLocalService(t *testing.T) *vault.Service {
	t.Helper()
	s, err := vault.New(context.Background(), vault.Config{LocalSecret: "test-secret"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newLocalService(t)

	inputs := []string{"", "hello", "长文本 with unicode ✓", strings.Repeat("x", 64<<10)}
	for _, in := range inputs {
		env, err := s.Encrypt(ctx, in)
		if err != nil {
			t.Fatalf("Encrypt(%d bytes): %v", len(in), err)
		}
		if env.Algorithm != vault.AlgorithmLocal {
			t.Fatalf("algorithm = %s, want %s", env.Algorithm, vault.AlgorithmLocal)
		}
		out, err := s.Decrypt(ctx, env)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if out != in {
			t.Fatalf("round trip mismatch: %d bytes in, %d bytes out", len(in), len(out))
		}
	}
}

func TestManagedRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := vault.New(ctx, vault.Config{
		KMSClient:   &fakeKMS{},
		KMSKeyID:    "key-1",
		LocalSecret: "test-secret",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	env, err := s.Encrypt(ctx, "managed payload")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if env.Algorithm != vault.AlgorithmManaged {
		t.Fatalf("algorithm = %s, want %s", env.Algorithm, vault.AlgorithmManaged)
	}
	out, err := s.Decrypt(ctx, env)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if out != "managed payload" {
		t.Fatalf("Decrypt = %q", out)
	}
}

func TestManagedUnavailableFallsBackToLocal(t *testing.T) {
	ctx := context.Background()
	fake := &fakeKMS{}
	s, err := vault.New(ctx, vault.Config{
		KMSClient:   fake,
		KMSKeyID:    "key-1",
		LocalSecret: "test-secret",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	fake.unavailable = true
	env, err := s.Encrypt(ctx, "fallback payload")
	if err != nil {
		t.Fatalf("Encrypt with kms down: %v", err)
	}
	// The caller sees a well-formed envelope; only the tag reveals the path.
	if env.Algorithm != vault.AlgorithmLocal {
		t.Fatalf("algorithm = %s, want local fallback", env.Algorithm)
	}

	out, err := s.Decrypt(ctx, env)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if out != "fallback payload" {
		t.Fatalf("Decrypt = %q", out)
	}
}

func TestDecryptTamperedEnvelopeFails(t *testing.T) {
	ctx := context.Background()
	s := newLocalService(t)

	env, err := s.Encrypt(ctx, "authentic")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	env.Ciphertext[0] ^= 0xFF

	_, err = s.Decrypt(ctx, env)
	if !errors.Is(err, vault.ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt, got %v", err)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	ctx := context.Background()
	s1 := newLocalService(t)
	s2, err := vault.New(ctx, vault.Config{LocalSecret: "other-secret"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	env, err := s1.Encrypt(ctx, "secret data")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := s2.Decrypt(ctx, env); !errors.Is(err, vault.ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt under wrong key, got %v", err)
	}
}

func TestEnvelopeEncodeDecode(t *testing.T) {
	ctx := context.Background()
	s := newLocalService(t)

	env, err := s.Encrypt(ctx, "wire format")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	// nonce || tag || ciphertext survives the string form with the
	// algorithm and key version carried out of band.
	encoded := env.Encode()
	back, err := vault.DecodeEnvelope(env.Algorithm, env.KeyVersion, encoded)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	out, err := s.Decrypt(ctx, back)
	if err != nil {
		t.Fatalf("Decrypt decoded envelope: %v", err)
	}
	if out != "wire format" {
		t.Fatalf("Decrypt = %q", out)
	}

	if _, err := vault.DecodeEnvelope("bogus-alg", 1, encoded); err == nil {
		t.Fatal("expected error for unknown algorithm")
	}
	if _, err := vault.DecodeEnvelope(vault.AlgorithmLocal, 1, "!!not-base64!!"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
	if _, err := vault.DecodeEnvelope(vault.AlgorithmLocal, 1, "c2hvcnQ="); err == nil {
		t.Fatal("expected error for truncated body")
	}
}

func TestSelfCheckFailureRefusesService(t *testing.T) {
	_, err := vault.New(context.Background(), vault.Config{LocalSecret: ""})
	if err == nil {
		t.Fatal("expected construction to fail without a local secret")
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"email", "write to me at alice@example.com today", "write to me at [email] today"},
		{"phone", "call 555-123-4567 any time", "call [phone] any time"},
		{"national id", "my ssn is 123-45-6789 ok", "my ssn is [national-id] ok"},
		{"card", "card 4111 1111 1111 1111 expires soon", "card [card-number] expires soon"},
		{"address", "I live at 42 Maple Street with family", "I live at [address] with family"},
		{"clean text", "nothing sensitive here", "nothing sensitive here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := vault.Sanitize(tt.in); got != tt.want {
				t.Fatalf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeBeforeEncrypt(t *testing.T) {
	ctx := context.Background()
	s, err := vault.New(ctx, vault.Config{LocalSecret: "test-secret", SanitizeBeforeEncrypt: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	env, err := s.Encrypt(ctx, "reach me at bob@example.com")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	out, err := s.Decrypt(ctx, env)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if strings.Contains(out, "bob@example.com") {
		t.Fatalf("plaintext retained the email: %q", out)
	}
	if !strings.Contains(out, "[email]") {
		t.Fatalf("expected redaction marker, got %q", out)
	}
}
