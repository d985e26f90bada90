package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brendanplayford/weathertrader/pkg/weather"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "db_path: test.db\n"))
	require.NoError(t, err)

	require.Equal(t, "test.db", cfg.DBPath)
	require.False(t, cfg.KillSwitch)
	require.Equal(t, 6, cfg.TradingWindows.HighTemp.StartHourET)
	require.Equal(t, 17, cfg.TradingWindows.HighTemp.EndHourET)
	require.Equal(t, 20, cfg.TradingWindows.LowTemp.StartHourET)
	require.Equal(t, 11, cfg.TradingWindows.LowTemp.EndHourET)
	require.Equal(t, 40.0, cfg.Risk.MaxPositionPct)
	require.Equal(t, 2, cfg.Risk.MaxBracketsPerEvent)
	require.Equal(t, 50, cfg.Risk.MaxContractsPerTick)
}

func TestLoad_FileOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
use_demo: true
kill_switch: true
disabled_cities: [atl, DC]
kalshi:
  api_key_id: key-123
  private_key_path: /tmp/key.pem
risk:
  min_edge_pct: 20
  take_profit_pct: 35
trading_windows:
  high_temp:
    start_hour_et: 7
    end_hour_et: 16
`))
	require.NoError(t, err)

	require.True(t, cfg.UseDemo)
	require.True(t, cfg.KillSwitch)
	require.Equal(t, "key-123", cfg.Kalshi.APIKeyID)
	require.Equal(t, 20.0, cfg.Risk.MinEdgePct)
	require.Equal(t, 7, cfg.TradingWindows.HighTemp.StartHourET)
	require.NoError(t, cfg.Validate())

	require.True(t, cfg.CityDisabled("ATL"))
	require.True(t, cfg.CityDisabled("dc"))
	require.False(t, cfg.CityDisabled("NYC"))
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		// viper reports missing explicit files as read errors; defaults
		// still apply when no path is forced.
		t.Skip("explicit missing path surfaces an error")
	}
	require.Equal(t, "weather_bot.db", cfg.DBPath)
}

func TestValidate_MissingCredentials(t *testing.T) {
	cfg := &Config{}
	require.ErrorIs(t, cfg.Validate(), ErrMissingAPIKey)

	cfg.Kalshi.APIKeyID = "key"
	require.ErrorIs(t, cfg.Validate(), ErrMissingPrivateKey)
}

func TestAPIBaseURL(t *testing.T) {
	cfg, err := Load(writeConfig(t, "use_demo: true\n"))
	require.NoError(t, err)
	require.Contains(t, cfg.APIBaseURL(), "demo-api")

	cfg.UseDemo = false
	require.Contains(t, cfg.APIBaseURL(), "api.elections")
}

func TestWindow_Contains(t *testing.T) {
	high := Window{StartHourET: 6, EndHourET: 17}
	require.True(t, high.Contains(6))
	require.True(t, high.Contains(17))
	require.False(t, high.Contains(18))
	require.False(t, high.Contains(2))

	// The low window wraps midnight.
	low := Window{StartHourET: 20, EndHourET: 11}
	require.True(t, low.Contains(20))
	require.True(t, low.Contains(23))
	require.True(t, low.Contains(3))
	require.True(t, low.Contains(11))
	require.False(t, low.Contains(15))
}

func TestActiveCities_OverridesAndDisables(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
disabled_cities: [BOS]
cities:
  NYC:
    primary: KLGA
    kalshi_low: KXLOWTNY2
`))
	require.NoError(t, err)

	cities := cfg.ActiveCities()
	byCode := map[string]*weather.City{}
	for _, c := range cities {
		byCode[c.Code] = c
	}

	require.NotContains(t, byCode, "BOS")
	require.Equal(t, "KLGA", byCode["NYC"].Primary)
	require.Equal(t, "KXLOWTNY2", byCode["NYC"].LowSeries)

	// The shared registry must stay untouched.
	require.Equal(t, "KNYC", weather.GetCity("NYC").Primary)
}
