package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

var (
	artifactsDir  = filepath.Join("testdata", "out")
	deployConfig  = filepath.Join("testdata", "deploy.yaml")
	upgradeConfig = filepath.Join("testdata", "upgrade.yaml")
)

// testRootOptions returns global options pointing at a fresh database.
func testRootOptions(t *testing.T, format string) *RootOptions {
	t.Helper()
	return &RootOptions{
		Format:   format,
		Database: filepath.Join(t.TempDir(), "diamondctl.db"),
		Name:     "core",
		Network:  "local",
		ChainID:  31337,
	}
}

// execute runs cmd with args and returns what it wrote to stdout. Usage and
// error echoes are silenced the way the root command silences them.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// decode parses a JSON CLI response and unpacks its data into data.
func decode(t *testing.T, out string, data any) CLIResponse {
	t.Helper()
	var raw struct {
		CLIResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw), out)
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data), string(raw.Data))
	}
	return raw.CLIResponse
}

func writeTestFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}
