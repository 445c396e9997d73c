package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/lumenkind/sona/cmd/sona/internal/config"
	"github.com/lumenkind/sona/pkg/archive"
	"github.com/lumenkind/sona/pkg/kv"
	"github.com/lumenkind/sona/pkg/summarize"
	"github.com/lumenkind/sona/pkg/therapy/repo"
	"github.com/lumenkind/sona/pkg/vault"
)

// setupLogging installs the process-wide slog handler.
func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// loadConfig reads the file named by the global --config flag.
func loadConfig() (*config.File, error) {
	return config.Load(configPath)
}

// openStore opens the configured badger store. The caller owns Close.
func openStore(cfg *config.File) (*kv.Badger, error) {
	return kv.NewBadger(kv.BadgerOptions{
		Dir:      cfg.Datastore.Dir,
		InMemory: cfg.Datastore.InMemory,
	})
}

// awsClientConfig builds the shared AWS client configuration from the
// vault section. Static credentials override the default provider chain.
func awsClientConfig(ctx context.Context, cfg *config.File) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Vault.AWSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Vault.AWSRegion))
	}
	if cfg.Vault.AWSAccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.Vault.AWSAccessKeyID, cfg.Vault.AWSSecretAccessKey, "")))
	}
	out, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("aws config: %w", err)
	}
	return out, nil
}

// buildVault creates the encryption service, attaching the managed KMS
// path when a key is configured.
func buildVault(ctx context.Context, cfg *config.File) (*vault.Service, error) {
	vcfg := vault.Config{
		LocalSecret:           cfg.Vault.LocalSecret,
		KeyVersion:            cfg.Vault.KeyVersion,
		SanitizeBeforeEncrypt: cfg.Vault.Sanitize,
	}
	if cfg.Vault.KMSKeyID != "" {
		awsCfg, err := awsClientConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		vcfg.KMSClient = kms.NewFromConfig(awsCfg)
		vcfg.KMSKeyID = cfg.Vault.KMSKeyID
	}
	return vault.New(ctx, vcfg)
}

// buildSummarizer creates the configured summary backend, or nil when no
// summarizer is configured (sessions then carry the default summary).
func buildSummarizer(ctx context.Context, cfg *config.File) (summarize.Summarizer, error) {
	s := cfg.Summarizer
	if s == nil {
		return nil, nil
	}
	switch s.Backend {
	case "openai":
		return summarize.NewOpenAI(*s.OpenAI)
	case "gemini":
		return summarize.NewGemini(ctx, *s.Gemini)
	default:
		return nil, fmt.Errorf("unknown summarizer backend %q", s.Backend)
	}
}

// buildArchiver creates the configured session archive backend.
func buildArchiver(ctx context.Context, cfg *config.File) (*archive.Archiver, error) {
	a := cfg.Archive
	if a == nil {
		return nil, fmt.Errorf("no archive section in config")
	}
	if a.Dir != "" {
		store, err := archive.NewLocal(a.Dir)
		if err != nil {
			return nil, err
		}
		return archive.NewArchiver(store), nil
	}
	awsCfg, err := awsClientConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if a.S3Region != "" {
		awsCfg.Region = a.S3Region
	}
	client := s3.NewFromConfig(awsCfg)
	return archive.NewArchiver(archive.NewS3(client, a.S3Bucket, a.S3Prefix)), nil
}

// openRepo is the common open path for inspection commands.
func openRepo(cfg *config.File) (*repo.Repo, *kv.Badger, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	return repo.New(store), store, nil
}
