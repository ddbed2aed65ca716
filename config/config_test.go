package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/require"
)

const structuredYAML = `
kafka:
  host: "localhost"
  deliveries_updated_topic_name: "parcelpoll.deliveries.updated"
redis:
  host: "localhost"
  port: 6379
parcelpoll:
  upstream_kind: "structured"
  credential: "from-file"
  poll_interval_minutes: 15
`

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(structuredYAML), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "parcelpoll.deliveries.updated", cfg.Kafka.DeliveriesUpdatedTopicName)
	require.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers())
	require.Equal(t, "localhost:6379", cfg.Redis.Addr())
	require.Equal(t, 15*time.Minute, cfg.ParcelPoll.PollInterval())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := parse(context.Background(), []byte(`
parcelpoll:
  upstream_kind: structured
  credential: k
`), envconfig.MapLookuper(nil))
	require.NoError(t, err)

	p := cfg.ParcelPoll
	require.Equal(t, 10, p.PollIntervalMinutes)
	require.Equal(t, DefaultStructuredBaseURL, p.StructuredBaseURL)
	require.Equal(t, 10*time.Second, p.RequestTimeout())
	require.Equal(t, 60, p.RateLimitBaseSeconds)
	require.Equal(t, 600, p.RateLimitCapSeconds)
	require.Equal(t, 5, p.RateLimitMaxRetries)
	require.Equal(t, ":8082", p.WorkerHTTPAddr)
	require.Equal(t, "info", p.LogLevel)
	require.False(t, cfg.Redis.Enabled())
	require.False(t, cfg.Kafka.Enabled())
}

func TestParse_EnvOverridesSecrets(t *testing.T) {
	cfg, err := parse(context.Background(), []byte(structuredYAML), envconfig.MapLookuper(map[string]string{
		"PARCELPOLL_CREDENTIAL":     "from-env",
		"PARCELPOLL_REDIS_PASSWORD": "pw",
	}))
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.ParcelPoll.Credential)
	require.Equal(t, "pw", cfg.Redis.Password)
}

func TestParse_Legacy(t *testing.T) {
	data := []byte(`
parcelpoll:
  upstream_kind: legacy
  legacy_endpoint_url: "https://legacy.example.com/orders"
`)
	_, err := parse(context.Background(), data, envconfig.MapLookuper(nil))
	require.Error(t, err, "session token is required for legacy")

	cfg, err := parse(context.Background(), data, envconfig.MapLookuper(map[string]string{
		"PARCELPOLL_LEGACY_SESSION_TOKEN": "tok",
	}))
	require.NoError(t, err)
	require.Equal(t, "tok", cfg.ParcelPoll.LegacySessionToken)
	require.Empty(t, cfg.ParcelPoll.Credential)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown kind": `
parcelpoll:
  upstream_kind: soap
  credential: k`,
		"interval too short": `
parcelpoll:
  upstream_kind: structured
  credential: k
  poll_interval_minutes: 5`,
		"interval too long": `
parcelpoll:
  upstream_kind: structured
  credential: k
  poll_interval_minutes: 61`,
		"structured without credential": `
parcelpoll:
  upstream_kind: structured`,
		"legacy bad url": `
parcelpoll:
  upstream_kind: legacy
  legacy_endpoint_url: "not a url"
  legacy_session_token: t`,
		"cap below base": `
parcelpoll:
  upstream_kind: structured
  credential: k
  rate_limit_base_seconds: 120
  rate_limit_cap_seconds: 60`,
		"bad log level": `
parcelpoll:
  upstream_kind: structured
  credential: k
  log_level: verbose`,
		"not yaml": `parcelpoll: [`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parse(context.Background(), []byte(data), envconfig.MapLookuper(nil))
			require.Error(t, err)
		})
	}
}

func TestLoadConfig_Example(t *testing.T) {
	t.Setenv("PARCELPOLL_CREDENTIAL", "k")

	cfg, err := LoadConfig("parcel-worker.example.yaml")
	require.NoError(t, err)
	require.Equal(t, "structured", cfg.ParcelPoll.UpstreamKind)
	require.Equal(t, "k", cfg.ParcelPoll.Credential)
	require.Equal(t, "parcelpoll.refresh.requested", cfg.Kafka.RefreshRequestsTopicName)
	require.True(t, cfg.Redis.Enabled())
}
