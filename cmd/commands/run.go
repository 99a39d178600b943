package commands

// Sweeper command
// Loads the key file, bootstraps the Electrum wallet and polls until SIGINT/SIGTERM
// Fatal errors (bad key file, unknown funded key, broken list output) end the process with status 1

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"electrum-sweeper/internal/clients_api/electrum"
	"electrum-sweeper/internal/features/keystore"
	"electrum-sweeper/internal/features/notify"
	"electrum-sweeper/internal/features/sweeper"
	"electrum-sweeper/internal/infra/config"
	executil "electrum-sweeper/internal/infra/exec"
	logging "electrum-sweeper/internal/infra/log"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func runSweeper(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logging.Setup(logging.Options{
		Quiet:     cfg.Quiet,
		Verbosity: cfg.Verbose,
		LogDir:    cfg.App.LogDir,
	}); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logging.Sync()

	electrumPath, err := resolveExecutable(cfg.Path)
	if err != nil {
		return err
	}
	logging.LogInfo("Using electrum binary", zap.String("path", electrumPath))

	store, err := loadKeyStore(cfg)
	if err != nil {
		logging.LogError("Failed to load key file", zap.Error(err))
		return &sweeper.StartupError{Step: "load_keys", Err: err}
	}
	if store.Len() == 0 {
		logging.LogError("Key file has no private keys", zap.String("path", cfg.KeyFile))
		return &sweeper.StartupError{Step: "load_keys", Err: errors.New("key file has no private keys")}
	}
	logging.LogInfo("Loaded private keys", zap.Int("count", store.Len()), zap.Int("duplicates", store.Duplicates()))
	if store.Duplicates() > 0 {
		logging.LogWarn("Key file redefines private keys, the last target wins", zap.Int("duplicates", store.Duplicates()))
	}

	policy, err := electrum.ParsePolicy(cfg.Commands.Policy)
	if err != nil {
		return err
	}

	// the breaker stays open until the next cycle
	cooldown := cfg.DelayDuration()
	if cooldown < time.Second {
		cooldown = time.Second
	}

	runner := executil.NewProcessRunner(cfg.CommandTimeout(), cfg.Wallet.Dir)
	client := electrum.NewClient(electrum.Config{
		Path:             electrumPath,
		Wallet:           cfg.Wallet.Name,
		Network:          cfg.Wallet.Network,
		Policy:           policy,
		SweepRate:        cfg.Sweep.Rate,
		BreakerThreshold: cfg.Sweep.BreakerThreshold,
		BreakerCooldown:  cooldown,
	}, runner)

	opts := sweeper.Options{
		WalletDir:         cfg.Wallet.Dir,
		WalletName:        cfg.Wallet.Name,
		Policy:            policy,
		DaemonWaitRetries: cfg.Commands.DaemonWaitRetries,
		Delay:             cfg.DelayDuration(),
		MaxCycles:         cfg.Sweep.MaxCycles,
		DryRun:            cfg.Sweep.DryRun,
		StatusFile:        cfg.App.StatusFile,
	}

	if cfg.Telegram.BotToken != "" {
		tg, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			logging.LogWarn("Telegram notifications disabled", zap.Error(err))
		} else {
			opts.Notifier = tg
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logging.LogInfo("Starting sweeper",
		zap.Duration("delay", opts.Delay),
		zap.String("policy", policy.String()),
		zap.String("network", cfg.Wallet.Network),
		zap.Bool("dry_run", opts.DryRun))

	sw := sweeper.New(client, store, opts)
	if err := sw.Run(ctx); err != nil {
		logging.LogError("Sweeper stopped", zap.String("state", sw.State().String()), zap.Error(err))
		return err
	}

	logging.LogInfo("Sweeper stopped", zap.String("state", sw.State().String()))
	return nil
}

func loadKeyStore(cfg *config.Config) (*keystore.Store, error) {
	opts := keystore.Options{RejectDuplicates: cfg.Keys.Strict}
	if cfg.Keys.Validate {
		params, err := cfg.Params()
		if err != nil {
			return nil, err
		}
		opts.Params = params
	}
	return keystore.Load(cfg.KeyFile, opts)
}

// resolveExecutable makes a relative path absolute, since commands run inside the wallet dir
func resolveExecutable(path string) (string, error) {
	resolved := path
	if strings.ContainsRune(path, filepath.Separator) && !filepath.IsAbs(path) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", &sweeper.StartupError{Step: "resolve_electrum", Err: err}
		}
		resolved = abs
	}
	if err := executil.ValidateExecutable(resolved); err != nil {
		return "", &sweeper.StartupError{Step: "resolve_electrum", Err: err}
	}
	return resolved, nil
}
