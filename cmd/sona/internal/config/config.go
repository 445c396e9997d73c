// Package config loads and validates the sona serve configuration file.
//
// The file is YAML with one section per subsystem:
//
//	server:
//	  addr: ":8080"
//	datastore:
//	  dir: /var/lib/sona
//	vault:
//	  local_secret: change-me
//	  kms_key_id: arn:aws:kms:...     # optional, enables the managed path
//	  aws_region: us-east-1
//	  sanitize: true
//	model:
//	  url: wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview
//	  api_key: sk-...
//	summarizer:
//	  backend: openai
//	  openai:
//	    api_key: sk-...
//	    model: gpt-4o-mini
//	archive:
//	  dir: /var/lib/sona/archive
//
// The decoded document is validated against a JSON schema derived from
// the File struct before any subsystem sees it, so type mismatches fail
// at startup with a field path rather than deep inside wiring.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/google/jsonschema-go/jsonschema"

	"github.com/lumenkind/sona/pkg/model"
	"github.com/lumenkind/sona/pkg/summarize"
)

// File is the root of the serve configuration.
type File struct {
	Server     Server                `yaml:"server,omitempty" json:"server,omitempty"`
	Datastore  Datastore             `yaml:"datastore,omitempty" json:"datastore,omitempty"`
	Vault      Vault                 `yaml:"vault" json:"vault"`
	Model      *model.RealtimeConfig `yaml:"model,omitempty" json:"model,omitempty"`
	Summarizer *Summarizer           `yaml:"summarizer,omitempty" json:"summarizer,omitempty"`
	Archive    *Archive              `yaml:"archive,omitempty" json:"archive,omitempty"`
	Session    Session               `yaml:"session,omitempty" json:"session,omitempty"`
}

// Server holds the HTTP listener settings.
type Server struct {
	// Addr is the listen address. Defaults to ":8080".
	Addr string `yaml:"addr,omitempty" json:"addr,omitempty"`

	// SampleRate of client microphone audio in Hz. Zero takes the relay
	// default.
	SampleRate int `yaml:"sample_rate,omitempty" json:"sample_rate,omitempty"`
}

// Datastore selects the badger backend. An empty Dir with InMemory unset
// is rejected.
type Datastore struct {
	Dir      string `yaml:"dir,omitempty" json:"dir,omitempty"`
	InMemory bool   `yaml:"in_memory,omitempty" json:"in_memory,omitempty"`
}

// Vault configures transcript encryption. LocalSecret is always required:
// it backs the fallback path even when the managed key is configured.
type Vault struct {
	LocalSecret string `yaml:"local_secret" json:"local_secret"`
	KMSKeyID    string `yaml:"kms_key_id,omitempty" json:"kms_key_id,omitempty"`
	AWSRegion   string `yaml:"aws_region,omitempty" json:"aws_region,omitempty"`
	KeyVersion  int    `yaml:"key_version,omitempty" json:"key_version,omitempty"`
	Sanitize    bool   `yaml:"sanitize,omitempty" json:"sanitize,omitempty"`

	// Static AWS credentials. Leave empty to use the default provider
	// chain (environment, shared config, instance role).
	AWSAccessKeyID     string `yaml:"aws_access_key_id,omitempty" json:"aws_access_key_id,omitempty"`
	AWSSecretAccessKey string `yaml:"aws_secret_access_key,omitempty" json:"aws_secret_access_key,omitempty"`
}

// Summarizer selects the summary derivation backend.
type Summarizer struct {
	// Backend is "openai" or "gemini".
	Backend string `yaml:"backend" json:"backend"`

	OpenAI *summarize.OpenAIConfig `yaml:"openai,omitempty" json:"openai,omitempty"`
	Gemini *summarize.GeminiConfig `yaml:"gemini,omitempty" json:"gemini,omitempty"`
}

// Archive configures session export. Dir selects the local backend; S3
// settings select the S3 backend. Exactly one may be set.
type Archive struct {
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty"`

	S3Bucket string `yaml:"s3_bucket,omitempty" json:"s3_bucket,omitempty"`
	S3Prefix string `yaml:"s3_prefix,omitempty" json:"s3_prefix,omitempty"`
	S3Region string `yaml:"s3_region,omitempty" json:"s3_region,omitempty"`
}

// Session timing knobs, parsed as Go duration strings.
type Session struct {
	AbandonAfter  string `yaml:"abandon_after,omitempty" json:"abandon_after,omitempty"`
	SweepInterval string `yaml:"sweep_interval,omitempty" json:"sweep_interval,omitempty"`
}

// Load reads, schema-validates, and decodes the config file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse validates and decodes config bytes.
func Parse(data []byte) (*File, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := validateAgainstSchema(raw); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var cfg File
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateAgainstSchema(raw any) error {
	schema, err := jsonschema.For[File](nil)
	if err != nil {
		return fmt.Errorf("build schema: %w", err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("resolve schema: %w", err)
	}
	// The YAML decoder and the validator disagree on number and map
	// types, so normalize through JSON first.
	buf, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("normalize: %w", err)
	}
	var instance any
	if err := json.Unmarshal(buf, &instance); err != nil {
		return fmt.Errorf("normalize: %w", err)
	}
	return resolved.Validate(instance)
}

func (c *File) validate() error {
	if c.Vault.LocalSecret == "" {
		return fmt.Errorf("config: vault.local_secret is required")
	}
	if c.Datastore.Dir == "" && !c.Datastore.InMemory {
		return fmt.Errorf("config: datastore.dir is required unless datastore.in_memory is set")
	}
	if s := c.Summarizer; s != nil {
		switch s.Backend {
		case "openai":
			if s.OpenAI == nil {
				return fmt.Errorf("config: summarizer.openai section is required for the openai backend")
			}
		case "gemini":
			if s.Gemini == nil {
				return fmt.Errorf("config: summarizer.gemini section is required for the gemini backend")
			}
		default:
			return fmt.Errorf("config: summarizer.backend must be openai or gemini, got %q", s.Backend)
		}
	}
	if a := c.Archive; a != nil {
		if a.Dir == "" && a.S3Bucket == "" {
			return fmt.Errorf("config: archive needs dir or s3_bucket")
		}
		if a.Dir != "" && a.S3Bucket != "" {
			return fmt.Errorf("config: archive dir and s3_bucket are mutually exclusive")
		}
	}
	return nil
}

// ListenAddr returns the configured address or the default.
func (c *File) ListenAddr() string {
	if c.Server.Addr != "" {
		return c.Server.Addr
	}
	return ":8080"
}

// ParseDuration parses a duration knob, returning def for an empty value.
func ParseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config: bad duration %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: duration %q must be positive", s)
	}
	return d, nil
}
