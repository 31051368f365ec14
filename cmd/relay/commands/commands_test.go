package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/chat-relay/internal/auth"
	"github.com/suPer8Hu/chat-relay/internal/signature"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSignCmd(t *testing.T) {
	body := `{"events":[]}`
	path := filepath.Join(t.TempDir(), "body.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	out, err := run(t, "", "sign", "--secret", "s", "--file", path)
	require.NoError(t, err)
	sig := strings.TrimSpace(out)
	require.NoError(t, signature.NewVerifier("s").Verify([]byte(body), sig))

	out, err = run(t, body, "sign", "--secret", "s")
	require.NoError(t, err)
	require.Equal(t, sig, strings.TrimSpace(out))
}

func TestSignCmd_NeedsSecret(t *testing.T) {
	t.Setenv("LINE_CHANNEL_SECRET", "")
	_, err := run(t, "{}", "sign")
	require.Error(t, err)
}

func TestHashPasswordCmd(t *testing.T) {
	out, err := run(t, "", "hash-password", "hunter2")
	require.NoError(t, err)
	require.True(t, auth.CheckPassword(strings.TrimSpace(out), "hunter2"))

	out, err = run(t, "from-stdin\n", "hash-password")
	require.NoError(t, err)
	require.True(t, auth.CheckPassword(strings.TrimSpace(out), "from-stdin"))

	_, err = run(t, "", "hash-password")
	require.Error(t, err)
}

func TestWorkerCmd_RequiresRabbit(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LINE_CHANNEL_SECRET", "s")
	t.Setenv("LINE_CHANNEL_ACCESS_TOKEN", "t")
	t.Setenv("QUEUE_BACKEND", "local")
	t.Setenv("CONFIG_PATH", "")

	_, err := run(t, "", "worker")
	require.ErrorContains(t, err, "QUEUE_BACKEND=rabbitmq")
}
