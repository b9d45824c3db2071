package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Cypherspark/bulk-sms/internal/config"
	"github.com/Cypherspark/bulk-sms/internal/core"
)

func TestReadRecipients(t *testing.T) {
	in := strings.NewReader("# header\n+420777123456\n\n+12025550100, +351912345678\n  \n")
	got, err := readRecipients(in)
	require.NoError(t, err)
	require.Equal(t, []string{"+420777123456", "+12025550100", "+351912345678"}, got)
}

func memoryConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("SMS_PROVIDER", "dummy")
	t.Setenv("PUBLIC_BASE_URL", "https://sms.example.com")
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestRun_PrintsResult(t *testing.T) {
	cfg := memoryConfig(t)
	var out bytes.Buffer

	code, err := run(context.Background(), cfg, core.SendRequest{Recipients: []string{"+420777123456", "+12025550100"}, Message: "Hi {{link}}", Test: true}, &out, zerolog.Nop())
	require.NoError(t, err)
	require.Zero(t, code)

	var res core.SendResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	require.True(t, res.Success)
	require.Equal(t, 2, res.SentCount)
}

func TestRun_ExitCodes(t *testing.T) {
	cfg := memoryConfig(t)

	code, err := run(context.Background(), cfg, core.SendRequest{Recipients: []string{"not-a-number"}, Message: "hi"}, &bytes.Buffer{}, zerolog.Nop())
	require.Error(t, err)
	require.Equal(t, 1, code)

	code, err = run(context.Background(), cfg, core.SendRequest{Message: "hi"}, &bytes.Buffer{}, zerolog.Nop())
	require.Error(t, err)
	require.Equal(t, 2, code)
}

func TestExecute_RecipientsFile(t *testing.T) {
	cfg := memoryConfig(t)
	req := core.SendRequest{Message: "hi", Test: true}

	code, err := execute(context.Background(), cfg, filepath.Join(t.TempDir(), "missing.txt"), req, &bytes.Buffer{}, zerolog.Nop())
	require.Error(t, err)
	require.Equal(t, 2, code, "unreadable recipients means the send never started")

	path := filepath.Join(t.TempDir(), "recipients.txt")
	require.NoError(t, os.WriteFile(path, []byte("+420777123456\n+12025550100\n"), 0o600))
	var out bytes.Buffer
	code, err = execute(context.Background(), cfg, path, req, &out, zerolog.Nop())
	require.NoError(t, err)
	require.Zero(t, code)
	require.Contains(t, out.String(), `"sentCount": 2`)
}
