package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
maker:
  name: sim
  pair: btc_usd
taker:
  name: sim
  pair: btcusd
trading:
  buying:
    value: 600
    profit: 1.5
  selling:
    value: 2
    profit: 1.5
    fx_rate: 10
  time_to_live_seconds: 25
storage:
  dsn: /tmp/arbot-test.db
notify:
  channel: telegram
  telegram_token: tok
  telegram_chat_id: "42"
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sim", cfg.Maker.Name)
	assert.Equal(t, "btc_usd", cfg.Maker.Pair)
	assert.InDelta(t, 600, cfg.Trading.Buying.Value, 1e-9)
	assert.InDelta(t, 1.5, cfg.Trading.Buying.Profit, 1e-9)
	assert.InDelta(t, 10, cfg.Trading.Selling.FxRate, 1e-9)
	assert.Equal(t, 25*time.Second, cfg.TimeToLive())
	assert.Equal(t, 30*time.Second, cfg.CloseTimeToLive()) // defaulted
	assert.Equal(t, "/tmp/arbot-test.db", cfg.Storage.DSN)
	assert.Equal(t, "telegram", cfg.Notify.Channel)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
maker:
  name: sim
  pair: btc_usd
taker:
  name: sim
  pair: btcusd
trading:
  buying:
    value: 600
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 20*time.Second, cfg.TimeToLive())
	assert.Equal(t, 30*time.Second, cfg.CloseTimeToLive())
	assert.Equal(t, "arbot.db", cfg.Storage.DSN)
	assert.Equal(t, "console", cfg.Notify.Channel)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MAKER_API_KEY", "maker-secret")
	t.Setenv("LOG_LEVEL", "warn")

	path := writeConfig(t, `
maker:
  name: sim
  pair: btc_usd
  api_key: yaml-key
taker:
  name: sim
  pair: btcusd
trading:
  buying:
    value: 600
log:
  level: info
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "maker-secret", cfg.Maker.APIKey)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_RejectsMissingVenues(t *testing.T) {
	path := writeConfig(t, `
trading:
  buying:
    value: 600
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maker and taker venues are required")
}

func TestLoad_RejectsZeroOrderValues(t *testing.T) {
	path := writeConfig(t, `
maker:
  name: sim
  pair: btc_usd
taker:
  name: sim
  pair: btcusd
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "positive order value")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
