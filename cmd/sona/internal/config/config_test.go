package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/lumenkind/sona/cmd/sona/internal/config"
)

const minimal = `
datastore:
  in_memory: true
vault:
  local_secret: test-secret
`

func TestParseMinimal(t *testing.T) {
	cfg, err := config.Parse([]byte(minimal))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Vault.LocalSecret != "test-secret" {
		t.Fatalf("local_secret = %q", cfg.Vault.LocalSecret)
	}
	if cfg.ListenAddr() != ":8080" {
		t.Fatalf("ListenAddr = %q, want default", cfg.ListenAddr())
	}
}

func TestParseFull(t *testing.T) {
	cfg, err := config.Parse([]byte(`
server:
  addr: ":9090"
  sample_rate: 24000
datastore:
  dir: /tmp/sona-data
vault:
  local_secret: s
  kms_key_id: alias/sona
  aws_region: us-east-1
  sanitize: true
model:
  url: wss://example.test/v1/realtime?model=m
  api_key: k
summarizer:
  backend: openai
  openai:
    api_key: k
    model: gpt-4o-mini
archive:
  dir: /tmp/sona-archive
session:
  abandon_after: 45m
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.ListenAddr() != ":9090" {
		t.Fatalf("ListenAddr = %q", cfg.ListenAddr())
	}
	if cfg.Model == nil || cfg.Model.APIKey != "k" {
		t.Fatalf("model = %+v", cfg.Model)
	}
	if cfg.Summarizer.Backend != "openai" {
		t.Fatalf("backend = %q", cfg.Summarizer.Backend)
	}
	d, err := config.ParseDuration(cfg.Session.AbandonAfter, 30*time.Minute)
	if err != nil {
		t.Fatalf("ParseDuration: %v", err)
	}
	if d != 45*time.Minute {
		t.Fatalf("abandon_after = %s", d)
	}
}

func TestParseRejections(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing local secret",
			yaml: "datastore:\n  in_memory: true\nvault:\n  kms_key_id: k\n",
			want: "local_secret",
		},
		{
			name: "no datastore",
			yaml: "vault:\n  local_secret: s\n",
			want: "datastore",
		},
		{
			name: "unknown summarizer backend",
			yaml: minimal + "summarizer:\n  backend: mystery\n",
			want: "backend",
		},
		{
			name: "openai backend without section",
			yaml: minimal + "summarizer:\n  backend: openai\n",
			want: "openai",
		},
		{
			name: "archive with both backends",
			yaml: minimal + "archive:\n  dir: /tmp/a\n  s3_bucket: b\n",
			want: "mutually exclusive",
		},
		{
			name: "wrong type for sample rate",
			yaml: "server:\n  sample_rate: fast\ndatastore:\n  in_memory: true\nvault:\n  local_secret: s\n",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestParseDurationDefaults(t *testing.T) {
	d, err := config.ParseDuration("", 30*time.Minute)
	if err != nil {
		t.Fatalf("ParseDuration: %v", err)
	}
	if d != 30*time.Minute {
		t.Fatalf("default = %s", d)
	}
	if _, err := config.ParseDuration("-5m", time.Minute); err == nil {
		t.Fatal("expected error for negative duration")
	}
}
