package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yield-engine/model"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

const lendingYAML = `
run_id: test-run
mode: pure_lending
execution_mode: backtest
share_class: USDT
reserve_ratio: 0.05
dust_delta: 0.002
enabled_risk_types: [delta, ltv]
risk_limits:
  delta: {warning: 0.05, critical: 0.10}
  ltv: {warning: 0.6, critical: 0.75}
initial_capital: 100000
instruments:
  - {venue: wallet, kind: wallet, asset: USDT}
  - {venue: aave_v3, kind: supply, asset: USDT}
start: 2024-01-01T00:00:00Z
end: 2024-01-11T00:00:00Z
tick_interval: 24h
strategy:
  lending_venue: aave_v3
`

func TestLoad(t *testing.T) {
	path := writeTempConfig(t, lendingYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "pure_lending", cfg.Mode)
	assert.Equal(t, ModeBacktest, cfg.ExecutionMode)
	assert.Equal(t, "USDT", cfg.Asset, "asset defaults to share class")
	assert.Equal(t, "USDT", cfg.ReserveCurrency)
	assert.Equal(t, 24*time.Hour, cfg.TickInterval)
	assert.Equal(t, 0.75, cfg.RiskLimits[model.RiskLTV].Critical)
	require.Len(t, cfg.InitialBalances, 1, "initial capital seeds the wallet")
	assert.Equal(t, model.PositionKey{Venue: "wallet", Kind: model.KindWallet, Asset: "USDT"}, cfg.InitialBalances[0].PositionKey)
	assert.Equal(t, 100000.0, cfg.InitialBalances[0].Amount)
	assert.Equal(t, 3, cfg.Execution.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Execution.Backoff)
	assert.Equal(t, YieldBounds{Min: -0.05, Max: 0.15}, cfg.YieldBounds)
	assert.Equal(t, 3, cfg.TrendWindow)
	assert.True(t, cfg.RiskEnabled(model.RiskDelta))
	assert.False(t, cfg.RiskEnabled(model.RiskCEXMargin))
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, lendingYAML)
	t.Setenv("YE_RUN_ID", "env-run")
	t.Setenv("YE_POSTGRES_DSN", "postgres://u:p@db/results")
	cfg, err := LoadWithEnvOverrides(path)
	require.NoError(t, err)
	assert.Equal(t, "env-run", cfg.RunID)
	assert.Equal(t, "postgres://u:p@db/results", cfg.Sinks.PostgresDSN)
}

func TestValidateRejects(t *testing.T) {
	base, err := Parse([]byte(lendingYAML))
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*RunConfig)
	}{
		{"missing mode", func(c *RunConfig) { c.Mode = "" }},
		{"bad execution mode", func(c *RunConfig) { c.ExecutionMode = "paper" }},
		{"reserve ratio too high", func(c *RunConfig) { c.ReserveRatio = 1 }},
		{"negative dust", func(c *RunConfig) { c.DustDelta = -0.1 }},
		{"inverted delta limits", func(c *RunConfig) {
			c.RiskLimits[model.RiskDelta] = RiskLimit{Warning: 0.2, Critical: 0.1}
		}},
		{"margin limits direction", func(c *RunConfig) {
			c.RiskLimits = map[model.RiskType]RiskLimit{model.RiskCEXMargin: {Warning: 0.1, Critical: 0.2}}
		}},
		{"no instruments", func(c *RunConfig) { c.Instruments = nil }},
		{"lst without underlying", func(c *RunConfig) {
			c.Instruments = append(c.Instruments, model.PositionKey{Venue: "etherfi", Kind: model.KindLST, Asset: "weETH"})
		}},
		{"backtest window", func(c *RunConfig) { c.End = c.Start }},
		{"yield bounds", func(c *RunConfig) { c.YieldBounds = YieldBounds{Min: 1, Max: 0} }},
		{"reserve currency differs from share class", func(c *RunConfig) { c.ReserveCurrency = "USDC" }},
		{"trend window of one", func(c *RunConfig) { c.TrendWindow = 1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			cfg.RiskLimits = map[model.RiskType]RiskLimit{}
			for k, v := range base.RiskLimits {
				cfg.RiskLimits[k] = v
			}
			cfg.Instruments = append([]model.PositionKey(nil), base.Instruments...)
			tc.mutate(&cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrConfigInvalid))
		})
	}
}

func TestParseBadYAML(t *testing.T) {
	_, err := Parse([]byte("mode: [unterminated"))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrConfigInvalid)
}

func TestParseRejectsForeignReserveCurrency(t *testing.T) {
	_, err := Parse([]byte(lendingYAML + "reserve_currency: USDC\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrConfigInvalid)

	cfg, err := Parse([]byte(lendingYAML + "reserve_currency: USDT\n"))
	require.NoError(t, err)
	assert.Equal(t, "USDT", cfg.ReserveCurrency)
}
