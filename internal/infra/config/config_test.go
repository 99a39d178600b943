package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadWithArgs(t *testing.T, opts LoadOptions, args ...string) *Config {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	if opts.EnvFile == "" {
		opts.EnvFile = filepath.Join(t.TempDir(), "missing.env")
	}
	cfg, err := Load(fs, opts)
	require.NoError(t, err)
	return cfg
}

func TestLoadFlags(t *testing.T) {
	cfg := loadWithArgs(t, LoadOptions{},
		"-q", "-vvv", "-d", "30", "-p", "/usr/bin/electrum", "-k", "keys.txt",
		"--command-policy", "strict", "--sweep-rate", "0.5")

	assert.True(t, cfg.Quiet)
	assert.Equal(t, 3, cfg.Verbose)
	assert.Equal(t, 30, cfg.Delay)
	assert.Equal(t, "/usr/bin/electrum", cfg.Path)
	assert.Equal(t, "keys.txt", cfg.KeyFile)
	assert.Equal(t, PolicyStrict, cfg.Commands.Policy)
	assert.Equal(t, 0.5, cfg.Sweep.Rate)
	assert.Equal(t, "sweeper_wallet", cfg.Wallet.Name)
	assert.Equal(t, ".", cfg.Wallet.Dir)
	assert.Equal(t, 5, cfg.Sweep.BreakerThreshold)
	assert.Equal(t, 30*time.Second, cfg.DelayDuration())
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingDelay(t *testing.T) {
	cfg := loadWithArgs(t, LoadOptions{}, "-p", "electrum", "-k", "keys.txt")
	assert.Equal(t, -1, cfg.Delay)
	assert.ErrorContains(t, cfg.Validate(), "delay is required")
}

func TestLoadZeroDelayIsValid(t *testing.T) {
	cfg := loadWithArgs(t, LoadOptions{}, "-d", "0", "-p", "electrum", "-k", "keys.txt")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Duration(0), cfg.DelayDuration())
}

func TestLoadEnvAndDotenv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("SWEEPER_KEY_FILE=from-dotenv.txt\n"), 0644))
	t.Setenv("SWEEPER_DELAY", "15")
	t.Setenv("SWEEPER_PATH", "/opt/electrum")
	t.Setenv("SWEEPER_WALLET_NETWORK", "testnet")
	t.Cleanup(func() { os.Unsetenv("SWEEPER_KEY_FILE") })

	cfg := loadWithArgs(t, LoadOptions{EnvFile: envFile})
	assert.Equal(t, 15, cfg.Delay)
	assert.Equal(t, "/opt/electrum", cfg.Path)
	assert.Equal(t, "from-dotenv.txt", cfg.KeyFile)
	params, err := cfg.Params()
	require.NoError(t, err)
	assert.Equal(t, &chaincfg.TestNet3Params, params)
}

func TestLoadConfigFileFlagOverrides(t *testing.T) {
	dir := t.TempDir()
	yamlFile := filepath.Join(dir, "sweeper.yaml")
	yaml := `
delay: 60
path: /from/yaml/electrum
key_file: yaml-keys.txt
commands:
  policy: warn
  timeout: 90
telegram:
  bot_token: "123:abc"
  chat_id: 42
`
	require.NoError(t, os.WriteFile(yamlFile, []byte(yaml), 0644))

	cfg := loadWithArgs(t, LoadOptions{ConfigFile: yamlFile}, "--delay", "5")
	assert.Equal(t, 5, cfg.Delay)
	assert.Equal(t, "/from/yaml/electrum", cfg.Path)
	assert.Equal(t, PolicyWarn, cfg.Commands.Policy)
	assert.Equal(t, 90*time.Second, cfg.CommandTimeout())
	assert.Equal(t, int64(42), cfg.Telegram.ChatID)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFileMissing(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	_, err := Load(fs, LoadOptions{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Delay:    10,
			Path:     "electrum",
			KeyFile:  "keys.txt",
			Wallet:   WalletConfig{Name: "sweeper_wallet", Network: "mainnet"},
			Commands: CommandsConfig{Policy: PolicyIgnore},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"ok", func(c *Config) {}, ""},
		{"no path", func(c *Config) { c.Path = "" }, "electrum path is required"},
		{"no key file", func(c *Config) { c.KeyFile = "" }, "key file is required"},
		{"bad policy", func(c *Config) { c.Commands.Policy = "maybe" }, "unknown command policy"},
		{"bad network", func(c *Config) { c.Wallet.Network = "litecoin" }, "unknown network"},
		{"negative rate", func(c *Config) { c.Sweep.Rate = -1 }, "sweep rate"},
		{"half telegram", func(c *Config) { c.Telegram.BotToken = "x" }, "telegram"},
		{"empty wallet", func(c *Config) { c.Wallet.Name = "" }, "wallet name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
