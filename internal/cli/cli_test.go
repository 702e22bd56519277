package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reprisedb/go-reprise"
	"github.com/reprisedb/go-reprise/config"
	"github.com/reprisedb/go-reprise/internal/cli"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "reprise.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	return path
}

func seed(t *testing.T, path string, values ...string) {
	t.Helper()

	ctx := context.Background()

	cfg, err := config.Load(path)
	require.NoError(t, err)

	db, err := reprise.Open(ctx, cfg, reprise.WithLogger(zap.NewNop()))
	require.NoError(t, err)

	for _, v := range values {
		txn, err := db.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, txn.Put(ctx, []byte("k"), []byte(v)))

		_, err = txn.Commit(ctx)
		require.NoError(t, err)
	}

	require.NoError(t, db.Close())
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	buf := &bytes.Buffer{}

	cmd := cli.NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())

	return buf.String(), err
}

func runJSON[T any](t *testing.T, args ...string) T {
	t.Helper()

	out, err := run(t, append(args, "--format", "json")...)
	require.NoError(t, err)

	var res T
	require.NoError(t, json.Unmarshal([]byte(out), &res))

	return res
}

func TestArchiveLifecycle(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, "node:\n  data_dir: "+dir+"\nlogging:\n  level: error\n")

	seed(t, path, "v1", "v2", "v3")

	head := runJSON[cli.HeadResult](t, "head", "--config", path)
	assert.Equal(t, int64(3), head.Revision)
	assert.NotEmpty(t, head.Hash)
	assert.Equal(t, int64(0), head.Checkpoint)

	out, err := run(t, "verify-chain", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "chain verified through revision 3")

	created := runJSON[cli.ArchiveResult](t, "archive", "create", "--config", path)
	assert.Equal(t, int64(1), created.From)
	assert.Equal(t, int64(3), created.To)
	assert.Equal(t, 3, created.Count)

	listed := runJSON[[]cli.ArchiveResult](t, "archive", "list", "--config", path)
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)

	verified := runJSON[[]cli.ArchiveResult](t, "archive", "verify", created.File, "--config", path)
	require.Len(t, verified, 1)
	assert.Equal(t, created.TipHash, verified[0].TipHash)

	compacted := runJSON[cli.CompactResult](t, "compact", "--keep", "1", "--config", path)
	assert.Equal(t, 2, compacted.Removed)

	head = runJSON[cli.HeadResult](t, "head", "--config", path)
	assert.Equal(t, int64(3), head.Checkpoint)

	verifiedChain := runJSON[cli.VerifyResult](t, "verify-chain", "--config", path)
	assert.Equal(t, int64(3), verifiedChain.Verified)

	restoreDir := t.TempDir()
	restorePath := writeConfig(t, "node:\n  data_dir: "+restoreDir+
		"\narchive:\n  dir: "+filepath.Join(dir, "archive")+"\nlogging:\n  level: error\n")

	restored := runJSON[cli.RestoreResult](t, "archive", "restore", created.File, "--config", restorePath)
	assert.Equal(t, int64(3), restored.Head)

	restoredHead := runJSON[cli.HeadResult](t, "head", "--config", restorePath)
	assert.Equal(t, head.Hash, restoredHead.Hash)
}

func TestCommands_negative(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, "node:\n  data_dir: "+dir+"\nlogging:\n  level: error\n")

	tests := []struct {
		name string
		args []string
	}{
		{"invalid format", []string{"head", "--config", path, "--format", "xml"}},
		{"missing config", []string{"head", "--config", filepath.Join(dir, "absent.yaml")}},
		{"compact without archives", []string{"compact", "--config", path}},
		{"conflicting policies", []string{"compact", "--keep", "2", "--since", "3", "--config", path}},
		{"invalid policy", []string{"compact", "--keep", "0", "--config", path}},
		{"verify without files", []string{"archive", "verify", "--config", path}},
		{"verify missing file", []string{"archive", "verify", "absent.rpa", "--config", path}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
		})
	}
}
