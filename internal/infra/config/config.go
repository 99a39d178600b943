package config

// Configuration for the sweeper
// Sources, lowest priority first:
// 1. defaults
// 2. config.yaml (or the file passed with --config)
// 3. .env file and SWEEPER_* environment variables
// 4. command line flags

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "SWEEPER"

// Command policies for wallet sub-commands whose outcome is not parsed
const (
	PolicyIgnore = "ignore"
	PolicyWarn   = "warn"
	PolicyStrict = "strict"
)

type Config struct {
	Quiet   bool   `mapstructure:"quiet"`
	Verbose int    `mapstructure:"verbose"`
	Delay   int    `mapstructure:"delay"`    // seconds between poll cycles
	Path    string `mapstructure:"path"`     // electrum executable
	KeyFile string `mapstructure:"key_file"` // private_key|target_address per line

	Wallet   WalletConfig   `mapstructure:"wallet"`
	Keys     KeysConfig     `mapstructure:"keys"`
	Commands CommandsConfig `mapstructure:"commands"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	App      AppConfig      `mapstructure:"app"`
}

type WalletConfig struct {
	Name    string `mapstructure:"name"`
	Dir     string `mapstructure:"dir"`
	Network string `mapstructure:"network"`
}

type KeysConfig struct {
	Strict   bool `mapstructure:"strict"`   // reject duplicate private keys
	Validate bool `mapstructure:"validate"` // decode keys and addresses for the configured network
}

type CommandsConfig struct {
	Policy            string `mapstructure:"policy"`
	Timeout           int    `mapstructure:"timeout"` // seconds, 0 = wait forever
	DaemonWaitRetries int    `mapstructure:"daemon_wait_retries"`
}

type SweepConfig struct {
	Rate             float64 `mapstructure:"rate"` // sweeps per second, 0 = unlimited
	BreakerThreshold int     `mapstructure:"breaker_threshold"`
	MaxCycles        int     `mapstructure:"max_cycles"` // 0 = forever
	DryRun           bool    `mapstructure:"dry_run"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

type AppConfig struct {
	LogDir     string `mapstructure:"log_dir"`
	StatusFile string `mapstructure:"status_file"`
}

// flagKeys maps command line flag names to config keys
var flagKeys = map[string]string{
	"quiet":               "quiet",
	"verbose":             "verbose",
	"delay":               "delay",
	"path":                "path",
	"key_file":            "key_file",
	"wallet":              "wallet.name",
	"wallet-dir":          "wallet.dir",
	"network":             "wallet.network",
	"strict-keys":         "keys.strict",
	"validate-keys":       "keys.validate",
	"command-policy":      "commands.policy",
	"command-timeout":     "commands.timeout",
	"daemon-wait-retries": "commands.daemon_wait_retries",
	"sweep-rate":          "sweep.rate",
	"breaker-threshold":   "sweep.breaker_threshold",
	"max-cycles":          "sweep.max_cycles",
	"dry-run":             "sweep.dry_run",
	"telegram-token":      "telegram.bot_token",
	"telegram-chat-id":    "telegram.chat_id",
	"log-dir":             "app.log_dir",
	"status-file":         "app.status_file",
}

// RegisterFlags adds every config flag to fs
func RegisterFlags(fs *pflag.FlagSet) {
	fs.BoolP("quiet", "q", false, "Suppress all console logging")
	fs.CountP("verbose", "v", "Increase console verbosity (-v warn, -vv info, -vvv debug)")
	fs.IntP("delay", "d", 0, "Seconds to wait between balance checks (required, env: SWEEPER_DELAY)")
	fs.StringP("path", "p", "", "Path to the electrum executable (required, env: SWEEPER_PATH)")
	fs.StringP("key_file", "k", "", "Path to the key file, private_key|target_address per line (required, env: SWEEPER_KEY_FILE)")

	fs.String("wallet", "sweeper_wallet", "Name of the throwaway electrum wallet")
	fs.String("wallet-dir", ".", "Directory holding the wallet file that is removed on start")
	fs.String("network", "mainnet", "Network: mainnet, testnet, regtest or signet")

	fs.Bool("strict-keys", false, "Reject key files with duplicate private keys")
	fs.Bool("validate-keys", false, "Validate private keys (WIF) and target addresses for the network")

	fs.String("command-policy", PolicyIgnore, "Handling of failed wallet commands: ignore, warn or strict")
	fs.Int("command-timeout", 0, "Timeout in seconds for a single wallet command, 0 waits forever")
	fs.Int("daemon-wait-retries", 0, "Retries of getinfo after starting the daemon, 0 skips the check")

	fs.Float64("sweep-rate", 0, "Maximum sweeps per second, 0 is unlimited")
	fs.Int("breaker-threshold", 5, "Consecutive sweep failures before the rest of a cycle is skipped")
	fs.Int("max-cycles", 0, "Stop after this many poll cycles, 0 runs forever")
	fs.Bool("dry-run", false, "Detect funded keys but do not sweep them")

	fs.String("telegram-token", "", "Telegram bot token for sweep notifications (env: SWEEPER_TELEGRAM_BOT_TOKEN)")
	fs.Int64("telegram-chat-id", 0, "Telegram chat ID for sweep notifications (env: SWEEPER_TELEGRAM_CHAT_ID)")

	fs.String("log-dir", "", "Directory for the debug log file, empty disables it")
	fs.String("status-file", "", "Write a JSON summary of the last cycle to this file")
}

// LoadOptions tells Load where to look for files
type LoadOptions struct {
	ConfigFile string // explicit yaml file; empty searches ./config.yaml
	EnvFile    string // dotenv file; empty uses .env
}

// Load merges all sources into a Config. It does not validate.
func Load(fs *pflag.FlagSet, opts LoadOptions) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	// missing .env is fine
	godotenv.Load(envFile)

	v := viper.New()
	setDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config.yaml: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if !v.IsSet("delay") {
		cfg.Delay = -1
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("quiet", false)
	v.SetDefault("verbose", 0)
	v.SetDefault("path", "")
	v.SetDefault("key_file", "")

	v.SetDefault("wallet.name", "sweeper_wallet")
	v.SetDefault("wallet.dir", ".")
	v.SetDefault("wallet.network", "mainnet")

	v.SetDefault("keys.strict", false)
	v.SetDefault("keys.validate", false)

	v.SetDefault("commands.policy", PolicyIgnore)
	v.SetDefault("commands.timeout", 0)
	v.SetDefault("commands.daemon_wait_retries", 0)

	v.SetDefault("sweep.rate", 0.0)
	v.SetDefault("sweep.breaker_threshold", 5)
	v.SetDefault("sweep.max_cycles", 0)
	v.SetDefault("sweep.dry_run", false)

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", 0)

	v.SetDefault("app.log_dir", "")
	v.SetDefault("app.status_file", "")
}

// ValidateKeyFile checks what the `check` command needs
func (c *Config) ValidateKeyFile() error {
	if c.KeyFile == "" {
		return fmt.Errorf("key file is required: --key_file or SWEEPER_KEY_FILE")
	}
	if _, err := c.Params(); err != nil {
		return err
	}
	return nil
}

// Validate checks everything the sweep loop needs
func (c *Config) Validate() error {
	if err := c.ValidateKeyFile(); err != nil {
		return err
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay is required and must be >= 0: --delay or SWEEPER_DELAY")
	}
	if c.Path == "" {
		return fmt.Errorf("electrum path is required: --path or SWEEPER_PATH")
	}
	if c.Wallet.Name == "" {
		return fmt.Errorf("wallet name must not be empty")
	}
	switch c.Commands.Policy {
	case PolicyIgnore, PolicyWarn, PolicyStrict:
	default:
		return fmt.Errorf("unknown command policy %q: use ignore, warn or strict", c.Commands.Policy)
	}
	if c.Commands.Timeout < 0 {
		return fmt.Errorf("command timeout must be >= 0")
	}
	if c.Commands.DaemonWaitRetries < 0 {
		return fmt.Errorf("daemon wait retries must be >= 0")
	}
	if c.Sweep.Rate < 0 {
		return fmt.Errorf("sweep rate must be >= 0")
	}
	if c.Sweep.MaxCycles < 0 {
		return fmt.Errorf("max cycles must be >= 0")
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == 0) {
		return fmt.Errorf("telegram notifications need both bot token and chat id")
	}
	return nil
}

// DelayDuration is the pause between poll cycles
func (c *Config) DelayDuration() time.Duration {
	if c.Delay <= 0 {
		return 0
	}
	return time.Duration(c.Delay) * time.Second
}

// CommandTimeout is the per-command limit, 0 when unlimited
func (c *Config) CommandTimeout() time.Duration {
	if c.Commands.Timeout <= 0 {
		return 0
	}
	return time.Duration(c.Commands.Timeout) * time.Second
}

// Params returns chain parameters for the configured network
func (c *Config) Params() (*chaincfg.Params, error) {
	switch strings.ToLower(c.Wallet.Network) {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q: use mainnet, testnet, regtest or signet", c.Wallet.Network)
	}
}
