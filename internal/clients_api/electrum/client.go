package electrum

// Package electrum drives the Electrum command line tool
// Every operation is a fixed argv pipeline; callers never build command text
// Acts as transport layer - doesn't know about key files or cycles, just runs commands and reads their output

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	executil "electrum-sweeper/internal/infra/exec"
	"electrum-sweeper/internal/infra/log"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const DefaultWallet = "sweeper_wallet"

// Op is one of the operations the sweeper issues against electrum
type Op int

const (
	OpStartDaemon Op = iota
	OpGetInfo
	OpRestore
	OpLoadWallet
	OpListFundedKeys
	OpSweep
)

func (o Op) String() string {
	switch o {
	case OpStartDaemon:
		return "start_daemon"
	case OpGetInfo:
		return "getinfo"
	case OpRestore:
		return "restore"
	case OpLoadWallet:
		return "load_wallet"
	case OpListFundedKeys:
		return "list_funded_keys"
	case OpSweep:
		return "sweep"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Policy decides what a failed, unparsed command means
type Policy int

const (
	// PolicyIgnore treats anything that started as success
	PolicyIgnore Policy = iota
	// PolicyWarn reports failures as transient CommandErrors
	PolicyWarn
	// PolicyStrict reports failures as fatal CommandErrors
	PolicyStrict
)

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ignore":
		return PolicyIgnore, nil
	case "warn":
		return PolicyWarn, nil
	case "strict":
		return PolicyStrict, nil
	default:
		return PolicyIgnore, fmt.Errorf("unknown command policy %q", s)
	}
}

func (p Policy) String() string {
	switch p {
	case PolicyWarn:
		return "warn"
	case PolicyStrict:
		return "strict"
	default:
		return "ignore"
	}
}

// Bridge is everything the sweep cycle needs from the wallet engine
type Bridge interface {
	StartDaemon(ctx context.Context) error
	Ping(ctx context.Context) error
	Restore(ctx context.Context, privateKeys []string) error
	LoadWallet(ctx context.Context) error
	ListFundedKeys(ctx context.Context) ([]string, error)
	Sweep(ctx context.Context, privateKey, target string) (SweepResult, error)
}

// SweepResult is what broadcast printed. Verified is false when the ignore
// policy let a failed or silent sweep through, so TxID may be anything.
type SweepResult struct {
	TxID     string
	Verified bool
}

// CommandError is a command that ran but did not look successful,
// or one that was killed by the command timeout (Err is then set)
type CommandError struct {
	Op       Op
	ExitCode int
	Output   string
	Fatal    bool
	Err      error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("electrum %s: %v", e.Op, e.Err)
	}
	if e.ExitCode != 0 {
		return fmt.Sprintf("electrum %s exited with status %d", e.Op, e.ExitCode)
	}
	return fmt.Sprintf("electrum %s produced no output", e.Op)
}

func (e *CommandError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a CommandError the caller may log and skip
func IsTransient(err error) bool {
	var ce *CommandError
	return errors.As(err, &ce) && !ce.Fatal
}

// ResponseParseError means list_funded_keys did not return a JSON array of strings.
// Output may hold private keys, so Error() only reports its size.
type ResponseParseError struct {
	Output   string
	ExitCode int
	Err      error
}

func (e *ResponseParseError) Error() string {
	return fmt.Sprintf("unexpected list_funded_keys output (exit %d, %d bytes): %v", e.ExitCode, len(e.Output), e.Err)
}

func (e *ResponseParseError) Unwrap() error { return e.Err }

type Config struct {
	Path    string
	Wallet  string
	Network string // mainnet, testnet, regtest or signet
	Policy  Policy

	SweepRate        float64       // sweeps per second, 0 is unlimited
	BreakerThreshold int           // consecutive sweep failures that open the breaker, 0 disables it
	BreakerCooldown  time.Duration // how long the breaker stays open
}

// Client is a Bridge backed by the electrum executable
type Client struct {
	cfg            Config
	runner         executil.Runner
	rateLimiter    *rate.Limiter
	circuitBreaker *gobreaker.CircuitBreaker
}

func NewClient(cfg Config, runner executil.Runner) *Client {
	if cfg.Wallet == "" {
		cfg.Wallet = DefaultWallet
	}

	limit := rate.Inf
	if cfg.SweepRate > 0 {
		limit = rate.Limit(cfg.SweepRate)
	}

	c := &Client{
		cfg:         cfg,
		runner:      runner,
		rateLimiter: rate.NewLimiter(limit, 1),
	}

	if cfg.BreakerThreshold > 0 {
		cooldown := cfg.BreakerCooldown
		if cooldown <= 0 {
			cooldown = 30 * time.Second
		}
		threshold := uint32(cfg.BreakerThreshold)
		c.circuitBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "ElectrumSweep",
			MaxRequests: 1,
			Timeout:     cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.LogWarn("Sweep circuit breaker changed state",
					zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
	}
	return c
}

func (c *Client) Policy() Policy { return c.cfg.Policy }

// WalletName is the -w argument, also the wallet file name
func (c *Client) WalletName() string { return c.cfg.Wallet }

func (c *Client) global() []string {
	switch strings.ToLower(c.cfg.Network) {
	case "testnet":
		return []string{"--testnet"}
	case "regtest":
		return []string{"--regtest"}
	case "signet":
		return []string{"--signet"}
	default:
		return nil
	}
}

func (c *Client) daemonCmd(args ...string) executil.Command {
	return executil.Command{Name: c.cfg.Path, Args: append(c.global(), args...)}
}

func (c *Client) walletCmd(args ...string) executil.Command {
	full := append(c.global(), "-w", c.cfg.Wallet)
	return executil.Command{Name: c.cfg.Path, Args: append(full, args...)}
}

// Commands returns the pipeline for an operation
func (c *Client) Commands(op Op, args ...string) []executil.Command {
	switch op {
	case OpStartDaemon:
		return []executil.Command{c.daemonCmd("daemon", "-d")}
	case OpGetInfo:
		return []executil.Command{c.daemonCmd("getinfo")}
	case OpRestore:
		return []executil.Command{c.walletCmd("restore", strings.Join(args, " "))}
	case OpLoadWallet:
		return []executil.Command{c.walletCmd("load_wallet")}
	case OpListFundedKeys:
		return []executil.Command{
			c.walletCmd("listaddresses", "--funded"),
			c.walletCmd("getprivatekeys", "-"),
		}
	case OpSweep:
		return []executil.Command{
			c.walletCmd(append([]string{"sweep"}, args...)...),
			c.walletCmd("broadcast", "-"),
		}
	default:
		return nil
	}
}

// run executes op. Arguments may contain private keys and are never logged.
func (c *Client) run(ctx context.Context, op Op, args ...string) (executil.Result, error) {
	start := time.Now()
	res, err := c.runner.Run(ctx, c.Commands(op, args...)...)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		log.LogDebug("electrum command failed to run",
			zap.String("op", op.String()), zap.Int64("duration_ms", duration), zap.Error(err))
		return res, fmt.Errorf("electrum %s: %w", op, err)
	}
	log.LogDebug("electrum command finished",
		zap.String("op", op.String()),
		zap.Int("exit_code", res.ExitCode),
		zap.Int("output_bytes", len(res.Stdout)),
		zap.Int64("duration_ms", duration))
	return res, nil
}

// check applies the policy to a finished command
func (c *Client) check(op Op, res executil.Result, requireOutput bool) error {
	out := strings.TrimSpace(string(res.Stdout))
	if res.ExitCode == 0 && (!requireOutput || out != "") {
		return nil
	}
	if c.cfg.Policy == PolicyIgnore {
		log.LogDebug("ignoring electrum command failure",
			zap.String("op", op.String()), zap.Int("exit_code", res.ExitCode))
		return nil
	}
	return &CommandError{
		Op:       op,
		ExitCode: res.ExitCode,
		Output:   truncate(out, 200),
		Fatal:    c.cfg.Policy == PolicyStrict,
	}
}

// timedOut applies the policy to a command killed by the command timeout
func (c *Client) timedOut(op Op, err error) error {
	if c.cfg.Policy == PolicyIgnore {
		log.LogDebug("ignoring electrum command timeout", zap.String("op", op.String()), zap.Error(err))
		return nil
	}
	return &CommandError{Op: op, Err: err, Fatal: c.cfg.Policy == PolicyStrict}
}

// outcome turns a run into the error callers see: spawn failures as they are,
// timeouts and failed commands through the policy
func (c *Client) outcome(op Op, res executil.Result, err error, requireOutput bool) error {
	if err != nil {
		if errors.Is(err, executil.ErrTimeout) {
			return c.timedOut(op, err)
		}
		return err
	}
	return c.check(op, res, requireOutput)
}

func (c *Client) StartDaemon(ctx context.Context) error {
	res, err := c.run(ctx, OpStartDaemon)
	return c.outcome(OpStartDaemon, res, err, false)
}

// Ping succeeds once the daemon answers getinfo. Policy does not apply.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.run(ctx, OpGetInfo)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &CommandError{Op: OpGetInfo, ExitCode: res.ExitCode, Output: truncate(string(res.Stdout), 200)}
	}
	return nil
}

// Restore creates the wallet from every key in one call
func (c *Client) Restore(ctx context.Context, privateKeys []string) error {
	if len(privateKeys) == 0 {
		return errors.New("electrum restore: no private keys")
	}
	res, err := c.run(ctx, OpRestore, privateKeys...)
	return c.outcome(OpRestore, res, err, true)
}

func (c *Client) LoadWallet(ctx context.Context) error {
	res, err := c.run(ctx, OpLoadWallet)
	return c.outcome(OpLoadWallet, res, err, true)
}

// ListFundedKeys returns the private keys of every funded address, in electrum's order.
// A timeout leaves nothing to parse, so outside strict mode it only skips the cycle.
func (c *Client) ListFundedKeys(ctx context.Context) ([]string, error) {
	res, err := c.run(ctx, OpListFundedKeys)
	if err != nil {
		if errors.Is(err, executil.ErrTimeout) {
			return nil, &CommandError{Op: OpListFundedKeys, Err: err, Fatal: c.cfg.Policy == PolicyStrict}
		}
		return nil, err
	}
	keys, err := ParseKeyList(res.Stdout)
	if err != nil {
		return nil, &ResponseParseError{Output: string(res.Stdout), ExitCode: res.ExitCode, Err: err}
	}
	return keys, nil
}

// ParseKeyList decodes a JSON array of strings
func ParseKeyList(data []byte) ([]string, error) {
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "[") {
		return nil, errors.New("not a JSON array")
	}
	var keys []string
	if err := json.Unmarshal([]byte(trimmed), &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// Sweep moves the balance of privateKey to target and broadcasts it.
// TxID is whatever broadcast printed, normally the txid.
func (c *Client) Sweep(ctx context.Context, privateKey, target string) (SweepResult, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return SweepResult{}, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	sweep := func() (SweepResult, error) {
		res, err := c.run(ctx, OpSweep, privateKey, target)
		if err := c.outcome(OpSweep, res, err, true); err != nil {
			return SweepResult{}, err
		}
		txid := strings.TrimSpace(string(res.Stdout))
		return SweepResult{
			TxID:     txid,
			Verified: err == nil && res.ExitCode == 0 && txid != "",
		}, nil
	}

	if c.circuitBreaker == nil {
		return sweep()
	}

	out, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return sweep()
	})
	if err != nil {
		return SweepResult{}, err
	}
	return out.(SweepResult), nil
}

// IsBreakerOpen reports whether err came from an open circuit breaker
func IsBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
