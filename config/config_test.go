package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	assert.NoError(t, err)

	check.Equal(t, ":8080", cfg.HTTPAddr)
	check.Equal(t, 64, cfg.MaxWorkers)
	check.Equal(t, "openprocure.db", cfg.DBPath)
	check.Equal(t, 2*time.Minute, cfg.AntiSnipeWindow)
	check.Equal(t, 5, cfg.MaxExtensions)
	check.Equal(t, time.Duration(0), cfg.MaxAggregationWindow)
	check.False(t, cfg.StrictContributions)
	check.Equal(t, 5*time.Second, cfg.AutoBidInterval)
	check.Equal(t, 4, cfg.AutoBidConcurrency)

	check.Equal(t, cfg.AntiSnipeExtension, cfg.Engine().AntiSnipeExtension)
	check.Equal(t, "info", cfg.Logging().Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OPENPROCURE_HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("OPENPROCURE_MAX_AGGREGATION_WINDOW", "72h")
	t.Setenv("OPENPROCURE_STRICT_CONTRIBUTIONS", "true")
	t.Setenv("OPENPROCURE_MAX_EXTENSIONS", "2")

	cfg, err := Load("")
	assert.NoError(t, err)
	check.Equal(t, "127.0.0.1:9000", cfg.HTTPAddr)
	check.Equal(t, 72*time.Hour, cfg.Demand().MaxAggregationWindow)
	check.True(t, cfg.Demand().StrictContributions)
	check.Equal(t, 2, cfg.Engine().MaxExtensions)
}

func TestLoad_DotenvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	assert.NoError(t, os.WriteFile(path, []byte("OPENPROCURE_LOG_LEVEL=debug\nOPENPROCURE_MAX_WORKERS=8\n"), 0o600))
	// Registered so the variables the file sets are restored after the test.
	t.Setenv("OPENPROCURE_LOG_LEVEL", "")
	t.Setenv("OPENPROCURE_MAX_WORKERS", "")
	assert.NoError(t, os.Unsetenv("OPENPROCURE_LOG_LEVEL"))
	assert.NoError(t, os.Unsetenv("OPENPROCURE_MAX_WORKERS"))

	cfg, err := Load(path)
	assert.NoError(t, err)
	check.Equal(t, "debug", cfg.LogLevel)
	check.Equal(t, 8, cfg.MaxWorkers)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	check.NoError(t, err)
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv("OPENPROCURE_MAX_WORKERS", "not-an-int")
	_, err := Load("")
	check.Error(t, err)
	check.True(t, strings.Contains(err.Error(), "parse env:"))

	t.Setenv("OPENPROCURE_MAX_WORKERS", "0")
	_, err = Load("")
	check.Error(t, err)
}

const seedYAML = `
products:
  - id: flour-25kg
    category: baking
    target_quantity: 1000
    min_viable_quantity: 600
    price_floor: 3.00
suppliers:
  - id: mill-a
    min_order_quantity: 200
rules:
  - id: rule-1
    supplier_id: mill-a
    category: baking
    max_price: 3.45
    min_win_probability: 0.2
    max_quantity: 5000
    enabled: true
`

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))

	seed, err := LoadSeed(path)
	assert.NoError(t, err)

	catalog, err := seed.Catalog()
	assert.NoError(t, err)
	p, ok := catalog["flour-25kg"]
	assert.True(t, ok)
	check.Equal(t, "3", p.PriceFloor.String())
	check.Equal(t, int64(600), p.MinViableQuantity)

	check.Equal(t, int64(200), seed.Profiles().MinOrderQuantity("mill-a"))
	check.Equal(t, int64(1), seed.Profiles().MinOrderQuantity("unknown"))

	assert.Equal(t, 1, len(seed.Rules))
	check.Equal(t, "3.45", seed.Rules[0].MaxPrice.String())
	check.True(t, seed.Rules[0].Enabled)

	empty, err := LoadSeed("")
	assert.NoError(t, err)
	check.Equal(t, 0, len(empty.Products))

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	assert.NoError(t, os.WriteFile(bad, []byte("suppliers:\n  - min_order_quantity: 5\n"), 0o600))
	_, err = LoadSeed(bad)
	check.Error(t, err)
}
