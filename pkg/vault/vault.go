// Package vault provides authenticated encryption for transcript payloads
// with a managed-key primary path and a deterministic local-key fallback.
//
// Encryption tries an ordered list of strategies: the managed key service
// first (when configured), then local AES-256-GCM. The policy is data, not
// control flow: each strategy reports a typed result and the first success
// wins, so callers cannot distinguish which path ran except via the
// envelope's algorithm tag.
//
// The package also offers pattern-based sanitization of common personal
// identifiers. Sanitization is lossy and best-effort; it is not a privacy
// guarantee.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Sentinel errors.
var (
	// ErrDecrypt is returned when every capable strategy failed to
	// decrypt an envelope. This implies possible user-data loss and is
	// never silently swallowed.
	ErrDecrypt = errors.New("vault: decrypt failed")

	// ErrUnavailable is returned when the service refused to start
	// because its round-trip self-check failed.
	ErrUnavailable = errors.New("vault: self-check failed")
)

// selfCheckValue is round-tripped at startup; serving encryption without
// a working decrypt path would silently persist unreadable data.
const selfCheckValue = "sona-vault-self-check"

// strategy is one encryption path. Strategies are tried in order; a
// failure hands the payload to the next one.
type strategy interface {
	name() string
	canDecrypt(algorithm string) bool
	encrypt(ctx context.Context, plaintext []byte) (Envelope, error)
	decrypt(ctx context.Context, env Envelope) ([]byte, error)
}

// attemptResult records one strategy's outcome for an operation, keeping
// the fallback chain observable in logs and tests.
type attemptResult struct {
	Strategy string
	Err      error
}

// Config configures the Service.
type Config struct {
	// KMSClient and KMSKeyID enable the managed path. Leave the client
	// nil to run local-only (development mode).
	KMSClient KMSClient
	KMSKeyID  string

	// LocalSecret derives the fallback AES-256 key. Required.
	LocalSecret string

	// KeyVersion is stamped into produced envelopes for rotation.
	KeyVersion int

	// SanitizeBeforeEncrypt applies pattern-based redaction to plaintext
	// before encryption.
	SanitizeBeforeEncrypt bool

	// Logger receives fallback and self-check events. Defaults to
	// slog.Default.
	Logger *slog.Logger
}

// Service performs envelope encryption for session transcripts.
type Service struct {
	strategies []strategy
	sanitize   bool
	log        *slog.Logger
}

// New creates a Service and performs the startup round-trip self-check.
// A service whose self-check fails refuses to serve.
func New(ctx context.Context, cfg Config) (*Service, error) {
	if cfg.KeyVersion <= 0 {
		cfg.KeyVersion = 1
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "vault")

	local, err := newLocalStrategy(cfg.LocalSecret, cfg.KeyVersion)
	if err != nil {
		return nil, err
	}

	var strategies []strategy
	if cfg.KMSClient != nil && cfg.KMSKeyID != "" {
		strategies = append(strategies, newManagedStrategy(cfg.KMSClient, cfg.KMSKeyID, cfg.KeyVersion))
	}
	strategies = append(strategies, local)

	s := &Service{strategies: strategies, sanitize: cfg.SanitizeBeforeEncrypt, log: log}
	if err := s.selfCheck(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// selfCheck round-trips a known value through the full strategy chain.
func (s *Service) selfCheck(ctx context.Context) error {
	env, err := s.Encrypt(ctx, selfCheckValue)
	if err != nil {
		return fmt.Errorf("%w: encrypt: %v", ErrUnavailable, err)
	}
	plain, err := s.Decrypt(ctx, env)
	if err != nil {
		return fmt.Errorf("%w: decrypt: %v", ErrUnavailable, err)
	}
	if plain != selfCheckValue {
		return fmt.Errorf("%w: round trip mismatch", ErrUnavailable)
	}
	return nil
}

// Encrypt produces a well-formed envelope for the plaintext, trying each
// strategy in order. It fails only if every strategy fails, which with the
// local fallback present means a local crypto failure.
func (s *Service) Encrypt(ctx context.Context, plaintext string) (Envelope, error) {
	if s.sanitize {
		plaintext = Sanitize(plaintext)
	}

	var attempts []attemptResult
	for _, st := range s.strategies {
		env, err := st.encrypt(ctx, []byte(plaintext))
		if err == nil {
			if len(attempts) > 0 {
				s.log.Warn("encrypt fell back",
					"strategy", st.name(), "failed", attempts[0].Strategy, "error", attempts[0].Err)
			}
			return env, nil
		}
		attempts = append(attempts, attemptResult{Strategy: st.name(), Err: err})
	}
	return Envelope{}, fmt.Errorf("vault: encrypt: all strategies failed: %w", attempts[len(attempts)-1].Err)
}

// Decrypt recovers plaintext from an envelope. The strategy matching the
// envelope's algorithm runs first; on failure the remaining strategies are
// attempted for backward compatibility. If every attempt fails, the error
// wraps ErrDecrypt.
func (s *Service) Decrypt(ctx context.Context, env Envelope) (string, error) {
	ordered := make([]strategy, 0, len(s.strategies))
	for _, st := range s.strategies {
		if st.canDecrypt(env.Algorithm) {
			ordered = append(ordered, st)
		}
	}
	if env.Algorithm == AlgorithmManaged {
		// Managed envelopes written before the managed path existed (or
		// mislabeled by older builds) may still be locally decryptable.
		for _, st := range s.strategies {
			if !st.canDecrypt(env.Algorithm) {
				ordered = append(ordered, st)
			}
		}
	}
	if len(ordered) == 0 {
		return "", fmt.Errorf("%w: no strategy for algorithm %q", ErrDecrypt, env.Algorithm)
	}

	var attempts []attemptResult
	for _, st := range ordered {
		plain, err := st.decrypt(ctx, env)
		if err == nil {
			return string(plain), nil
		}
		attempts = append(attempts, attemptResult{Strategy: st.name(), Err: err})
	}
	for _, a := range attempts {
		s.log.Error("decrypt attempt failed", "strategy", a.Strategy, "error", a.Err)
	}
	return "", fmt.Errorf("%w: algorithm %s", ErrDecrypt, env.Algorithm)
}
