package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"electrum-sweeper/internal/features/sweeper"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeElectrum answers the handful of commands the sweeper issues and logs every argv
const fakeElectrum = `#!/bin/sh
# second pipeline stages log only after the first stage has closed the pipe
case "$*" in
  *" getprivatekeys -"|*" broadcast -") cat > /dev/null ;;
esac
echo "$@" >> "$FAKE_ELECTRUM_CALLS"
echo "noise on stderr" >&2
case "$*" in
  "daemon -d") echo "starting daemon" ;;
  *" restore "*) echo '{"wallet_type": "imported"}' > "$2"; echo '{"path": "'"$2"'"}' ;;
  *" load_wallet") echo true ;;
  *" listaddresses --funded") echo '["1FundedAddr"]' ;;
  *" getprivatekeys -") echo '["abc123"]' ;;
  *" sweep "*) echo "0200000001rawtx" ;;
  *" broadcast -") echo "f00dfeed" ;;
  *) exit 1 ;;
esac
`

func TestRunSweeperEndToEnd(t *testing.T) {
	dir := t.TempDir()
	walletDir := filepath.Join(dir, "wallets")
	require.NoError(t, os.MkdirAll(walletDir, 0755))

	script := filepath.Join(dir, "electrum")
	require.NoError(t, os.WriteFile(script, []byte(fakeElectrum), 0755))

	calls := filepath.Join(dir, "calls.log")
	t.Setenv("FAKE_ELECTRUM_CALLS", calls)

	keyFile := filepath.Join(dir, "keys.txt")
	require.NoError(t, os.WriteFile(keyFile, []byte("abc123|1TargetAddr\ndef456|1OtherAddr\n"), 0600))

	stale := filepath.Join(walletDir, "sweeper_wallet")
	require.NoError(t, os.WriteFile(stale, []byte("stale"), 0600))

	statusFile := filepath.Join(dir, "status.json")

	rootCmd.SetArgs([]string{
		"-q",
		"-d", "0",
		"-p", script,
		"-k", keyFile,
		"--wallet-dir", walletDir,
		"--command-policy", "strict",
		"--max-cycles", "2",
		"--status-file", statusFile,
	})
	require.NoError(t, Execute())

	data, err := os.ReadFile(calls)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, []string{
		"daemon -d",
		"-w sweeper_wallet restore abc123 def456",
		"-w sweeper_wallet load_wallet",
		"-w sweeper_wallet listaddresses --funded",
		"-w sweeper_wallet getprivatekeys -",
		"-w sweeper_wallet sweep abc123 1TargetAddr",
		"-w sweeper_wallet broadcast -",
		"-w sweeper_wallet listaddresses --funded",
		"-w sweeper_wallet getprivatekeys -",
		"-w sweeper_wallet sweep abc123 1TargetAddr",
		"-w sweeper_wallet broadcast -",
	}, lines)

	wallet, err := os.ReadFile(stale)
	require.NoError(t, err)
	assert.Contains(t, string(wallet), "imported")

	raw, err := os.ReadFile(statusFile)
	require.NoError(t, err)
	var report sweeper.CycleReport
	require.NoError(t, json.Unmarshal(raw, &report))
	assert.Equal(t, 2, report.Cycle)
	require.Len(t, report.Swept, 1)
	assert.Equal(t, "1TargetAddr", report.Swept[0].Target)
	assert.Equal(t, "f00dfeed", report.Swept[0].TxID)
}

func TestRunSweeperRejectsEmptyKeyFile(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "electrum")
	require.NoError(t, os.WriteFile(script, []byte(fakeElectrum), 0755))

	calls := filepath.Join(dir, "calls.log")
	t.Setenv("FAKE_ELECTRUM_CALLS", calls)

	keyFile := filepath.Join(dir, "keys.txt")
	require.NoError(t, os.WriteFile(keyFile, []byte("\n  \n"), 0600))

	stale := filepath.Join(dir, "sweeper_wallet")
	require.NoError(t, os.WriteFile(stale, []byte("stale"), 0600))

	rootCmd.SetArgs([]string{"-q", "-d", "0", "-p", script, "-k", keyFile, "--wallet-dir", dir})
	err := Execute()

	var se *sweeper.StartupError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "load_keys", se.Step)

	data, err := os.ReadFile(stale)
	require.NoError(t, err)
	assert.Equal(t, "stale", string(data))
	assert.NoFileExists(t, calls)
}

func TestCheckCommand(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "keys.txt")
	require.NoError(t, os.WriteFile(keyFile, []byte("abc|T1\ndef|T2\nabc|T3\n"), 0600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() { rootCmd.SetOut(nil) })
	rootCmd.SetArgs([]string{"check", "-k", keyFile})
	require.NoError(t, Execute())

	assert.Contains(t, out.String(), "2 private keys")
	assert.Contains(t, out.String(), "1 duplicate lines")
}

func TestCheckCommandMalformed(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "keys.txt")
	require.NoError(t, os.WriteFile(keyFile, []byte("abc|T1\nbroken line\n"), 0600))

	rootCmd.SetArgs([]string{"check", "-k", keyFile})
	err := Execute()
	assert.ErrorContains(t, err, "line 2")
}
