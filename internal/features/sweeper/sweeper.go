package sweeper

// Sweep cycle: reset and restore the throwaway wallet once, then poll for
// funded keys and sweep each one to its target address

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"electrum-sweeper/internal/clients_api/electrum"
	"electrum-sweeper/internal/features/notify"
	executil "electrum-sweeper/internal/infra/exec"
	"electrum-sweeper/internal/infra/fs"
	"electrum-sweeper/internal/infra/log"
	"electrum-sweeper/internal/infra/retry"

	"go.uber.org/zap"
)

type State int

const (
	Uninitialized State = iota
	DaemonStarted
	WalletRestored
	WalletLoaded
	Polling
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case DaemonStarted:
		return "daemon_started"
	case WalletRestored:
		return "wallet_restored"
	case WalletLoaded:
		return "wallet_loaded"
	case Polling:
		return "polling"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// KeyStore is the part of keystore.Store the cycle uses
type KeyStore interface {
	Lookup(privateKey string) (string, error)
	PrivateKeys() []string
	Len() int
}

type Notifier interface {
	NotifySweep(ctx context.Context, ev notify.SweepEvent) error
}

type Options struct {
	WalletDir  string
	WalletName string
	Policy     electrum.Policy

	DaemonWaitRetries int
	WalletFileWait    time.Duration // how long to wait for the restored wallet file, 0 uses 5s

	Delay     time.Duration
	MaxCycles int
	DryRun    bool

	StatusFile string
	Notifier   Notifier
}

type Sweeper struct {
	bridge electrum.Bridge
	keys   KeyStore
	opts   Options

	mu    sync.Mutex
	state State
	cycle int
	now   func() time.Time
}

func New(bridge electrum.Bridge, keys KeyStore, opts Options) *Sweeper {
	if opts.WalletName == "" {
		opts.WalletName = electrum.DefaultWallet
	}
	if opts.WalletFileWait <= 0 {
		opts.WalletFileWait = 5 * time.Second
	}
	return &Sweeper{
		bridge: bridge,
		keys:   keys,
		opts:   opts,
		now:    time.Now,
	}
}

func (s *Sweeper) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Sweeper) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	log.LogDebug("sweeper state changed", zap.String("state", st.String()))
}

// WalletPath is the wallet file removed before every run
func (s *Sweeper) WalletPath() string {
	return filepath.Join(s.opts.WalletDir, s.opts.WalletName)
}

// Run bootstraps the wallet and polls until ctx is cancelled, MaxCycles is
// reached or a fatal error occurs. Cancellation returns nil.
func (s *Sweeper) Run(ctx context.Context) error {
	if err := s.Bootstrap(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	sched := &Scheduler{
		Delay:     s.opts.Delay,
		MaxCycles: s.opts.MaxCycles,
		Step: func(ctx context.Context) error {
			_, err := s.Poll(ctx)
			return err
		},
	}
	return sched.Run(ctx)
}

// Bootstrap moves Uninitialized -> WalletLoaded. Running it again starts over
// from a fresh wallet file.
func (s *Sweeper) Bootstrap(ctx context.Context) error {
	s.setState(Uninitialized)

	walletPath := s.WalletPath()
	removed, err := fs.RemoveIfExists(walletPath)
	switch {
	case err != nil:
		log.LogWarn("Failed to remove old wallet", zap.String("path", walletPath), zap.Error(err))
	case removed:
		log.LogInfo("Removed old wallet", zap.String("path", walletPath))
	}

	if err := s.step(ctx, "start_daemon", s.bridge.StartDaemon); err != nil {
		return err
	}
	if s.opts.DaemonWaitRetries > 0 {
		if err := s.waitForDaemon(ctx); err != nil {
			return err
		}
	}
	s.setState(DaemonStarted)
	log.LogInfo("Started electrum daemon")

	keys := s.keys.PrivateKeys()
	if len(keys) == 0 {
		return &StartupError{Step: "restore", Err: errors.New("key file has no private keys")}
	}
	err = s.step(ctx, "restore", func(ctx context.Context) error {
		return s.bridge.Restore(ctx, keys)
	})
	if err != nil {
		return err
	}
	if err := s.checkWalletFile(ctx); err != nil {
		return err
	}
	s.setState(WalletRestored)
	log.LogInfo("Restored wallet", zap.Int("keys", len(keys)), zap.String("wallet", s.opts.WalletName))

	if err := s.step(ctx, "load_wallet", s.bridge.LoadWallet); err != nil {
		return err
	}
	s.setState(WalletLoaded)
	log.LogSuccess("Loaded electrum wallet", zap.String("wallet", s.opts.WalletName))
	return nil
}

// step runs one bootstrap call. Transient command errors are logged and skipped.
func (s *Sweeper) step(ctx context.Context, name string, fn func(context.Context) error) error {
	err := fn(ctx)
	if err == nil {
		return nil
	}
	if electrum.IsTransient(err) {
		log.LogWarn("Wallet command reported a failure, continuing", zap.String("step", name), zap.Error(err))
		return nil
	}
	return &StartupError{Step: name, Err: err}
}

func (s *Sweeper) waitForDaemon(ctx context.Context) error {
	err := retry.Do(ctx, retry.Options{
		MaxRetries: s.opts.DaemonWaitRetries,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Retryable: func(err error) bool {
			var spawn *executil.SpawnError
			return !errors.As(err, &spawn)
		},
		OnRetry: func(attempt int, err error, sleep time.Duration) {
			log.LogDebug("electrum daemon not ready yet",
				zap.Int("attempt", attempt), zap.Duration("sleep", sleep), zap.Error(err))
		},
	}, func() error {
		return s.bridge.Ping(ctx)
	})
	if err == nil {
		return nil
	}
	if s.opts.Policy == electrum.PolicyStrict || ctx.Err() != nil {
		return &StartupError{Step: "wait_daemon", Err: err}
	}
	var spawn *executil.SpawnError
	if errors.As(err, &spawn) {
		return &StartupError{Step: "wait_daemon", Err: err}
	}
	log.LogWarn("Electrum daemon did not answer getinfo, continuing", zap.Error(err))
	return nil
}

// checkWalletFile verifies restore wrote the wallet when failures are not ignored
func (s *Sweeper) checkWalletFile(ctx context.Context) error {
	if s.opts.Policy == electrum.PolicyIgnore {
		return nil
	}
	err := fs.WaitForFile(ctx, s.WalletPath(), s.opts.WalletFileWait)
	if err == nil {
		return nil
	}
	if s.opts.Policy == electrum.PolicyStrict || ctx.Err() != nil {
		return &StartupError{Step: "restore", Err: err}
	}
	log.LogWarn("Restored wallet file not found, continuing", zap.String("path", s.WalletPath()), zap.Error(err))
	return nil
}

type target struct {
	key     string
	address string
}

// Poll lists funded keys and sweeps each of them in order. Every returned
// error is fatal; per-sweep failures the policy allows are only counted.
func (s *Sweeper) Poll(ctx context.Context) (*CycleReport, error) {
	s.setState(Polling)
	s.mu.Lock()
	s.cycle++
	report := &CycleReport{Cycle: s.cycle, StartedAt: s.now(), DryRun: s.opts.DryRun}
	s.mu.Unlock()

	log.LogInfo("Checking wallet balances", zap.Int("cycle", report.Cycle))

	funded, err := s.bridge.ListFundedKeys(ctx)
	if err != nil {
		if IsFatal(err) {
			return report, err
		}
		report.Errors = append(report.Errors, err.Error())
		log.LogWarn("Listing funded keys failed, retrying next cycle", zap.Error(err))
		s.finish(report)
		return report, nil
	}
	report.Funded = len(funded)

	if len(funded) == 0 {
		log.LogInfo("No keys with balance")
		s.finish(report)
		return report, nil
	}

	// resolve everything before the first sweep
	targets := make([]target, 0, len(funded))
	for _, key := range funded {
		addr, err := s.keys.Lookup(key)
		if err != nil {
			return report, &LookupError{Key: log.RedactKey(key), Err: err}
		}
		targets = append(targets, target{key: key, address: addr})
	}

	log.LogInfo("Sweeping keys", zap.Int("count", len(targets)))

	for i, t := range targets {
		if s.opts.DryRun {
			log.LogInfo("Dry run: would sweep", log.Key(t.key), zap.String("target", t.address))
			report.Swept = append(report.Swept, SweptKey{Key: log.RedactKey(t.key), Target: t.address})
			s.notify(ctx, notify.SweepEvent{Key: log.RedactKey(t.key), Target: t.address, DryRun: true, At: s.now()})
			continue
		}

		res, err := s.bridge.Sweep(ctx, t.key, t.address)
		switch {
		case err == nil:
			txid := ""
			if res.Verified {
				txid = res.TxID
				log.LogSuccess("Swept key", log.Key(t.key), zap.String("target", t.address), zap.String("txid", txid))
			} else {
				log.LogInfo("Sweep issued, electrum did not confirm the broadcast", log.Key(t.key), zap.String("target", t.address))
			}
			report.Swept = append(report.Swept, SweptKey{
				Key:        log.RedactKey(t.key),
				Target:     t.address,
				TxID:       txid,
				Unverified: !res.Verified,
			})
			s.notify(ctx, notify.SweepEvent{
				Key:        log.RedactKey(t.key),
				Target:     t.address,
				TxID:       txid,
				Unverified: !res.Verified,
				At:         s.now(),
			})
		case electrum.IsBreakerOpen(err):
			report.Skipped = len(targets) - i
			log.LogWarn("Sweep circuit breaker open, skipping the rest of this cycle",
				zap.Int("skipped", report.Skipped), zap.Error(err))
			s.finish(report)
			return report, nil
		case electrum.IsTransient(err):
			report.Failed++
			report.Errors = append(report.Errors, err.Error())
			log.LogWarn("Sweep failed, will retry next cycle", log.Key(t.key), zap.String("target", t.address), zap.Error(err))
		default:
			return report, err
		}
	}

	s.finish(report)
	return report, nil
}

func (s *Sweeper) notify(ctx context.Context, ev notify.SweepEvent) {
	if s.opts.Notifier == nil {
		return
	}
	if err := s.opts.Notifier.NotifySweep(ctx, ev); err != nil {
		log.LogWarn("Failed to send sweep notification", zap.Error(err))
	}
}

func (s *Sweeper) finish(report *CycleReport) {
	report.FinishedAt = s.now()
	if s.opts.StatusFile == "" {
		return
	}
	if err := fs.SaveJSON(s.opts.StatusFile, report); err != nil {
		log.LogWarn("Failed to write status file", zap.String("path", s.opts.StatusFile), zap.Error(err))
	}
}
