// Command blast runs one bulk send from the command line and prints the
// result as JSON. Recipients are read one per line (commas also separate);
// blank lines and lines starting with # are ignored.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/Cypherspark/bulk-sms/internal/app"
	"github.com/Cypherspark/bulk-sms/internal/config"
	"github.com/Cypherspark/bulk-sms/internal/core"
	"github.com/Cypherspark/bulk-sms/internal/logger"
)

func main() {
	_ = godotenv.Load()

	recipientsPath := flag.String("recipients", "-", "file with one phone number per line, - for stdin")
	message := flag.String("message", "", "message body; {{ link }} is replaced per recipient")
	sender := flag.String("sender", "", "sender id (default DEFAULT_SENDER)")
	campaign := flag.String("campaign", "", "campaign id to track recipients under")
	test := flag.Bool("test", false, "ask the provider to simulate the send")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	// Logs go to stderr so stdout carries only the result.
	log := logger.NewWithWriter(os.Stderr, cfg.LogLevel, cfg.LogPretty)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	req := core.SendRequest{Message: *message, Sender: *sender, CampaignID: *campaign, Test: *test}
	code, err := execute(ctx, cfg, *recipientsPath, req, os.Stdout, log)
	if err != nil {
		log.Error().Err(err).Msg("blast failed")
	}
	os.Exit(code)
}

// execute loads the recipients and runs the send. An unreadable recipients
// source means the send could not start.
func execute(ctx context.Context, cfg config.Config, path string, req core.SendRequest, out io.Writer, log zerolog.Logger) (int, error) {
	recipients, err := loadRecipients(path)
	if err != nil {
		return 2, err
	}
	req.Recipients = recipients
	return run(ctx, cfg, req, out, log)
}

// run returns the process exit code: 0 when something was sent, 1 when
// nothing was, 2 when the send could not start.
func run(ctx context.Context, cfg config.Config, req core.SendRequest, out io.Writer, log zerolog.Logger) (int, error) {
	store, closeStore, err := app.OpenStore(ctx, cfg.Store, log, false)
	if err != nil {
		return 2, err
	}
	defer closeStore()

	svc := app.NewService(cfg, app.NewGateway(cfg.Gateway, log), store, log)
	res, err := svc.SendSMS(ctx, req, func(p int) {
		log.Info().Int("progress", p).Msg("batch done")
	})
	if err != nil {
		return 2, err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return 2, err
	}
	if !res.Success {
		return 1, errors.New(res.Error)
	}
	return 0, nil
}

func loadRecipients(path string) ([]string, error) {
	if path == "" || path == "-" {
		return readRecipients(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recipients: %w", err)
	}
	defer f.Close()
	out, err := readRecipients(f)
	if err != nil {
		return nil, fmt.Errorf("read recipients: %w", err)
	}
	return out, nil
}

func readRecipients(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, p := range strings.Split(line, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out, sc.Err()
}
