package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"roomnotify/internal/app"
	"roomnotify/internal/config"
)

var version = "dev"

func main() {
	var cfgPath string

	cmd := &cli.Command{
		Name:    "roomnotify",
		Usage:   "Receive room maintenance notifications and alerts in real time",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file (JSON or YAML)",
				Sources:     cli.EnvVars("ROOMNOTIFY_CONFIG"),
				Value:       "./roomnotify.yaml",
				Destination: &cfgPath,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() > 0 {
				return fmt.Errorf("unknown command %q. Run 'roomnotify --help' for usage", c.Args().First())
			}
			return run(ctx, cfgPath)
		},
		Commands: []*cli.Command{
			{
				Name:  "check",
				Usage: "validate the config file and exit",
				Action: func(ctx context.Context, c *cli.Command) error {
					return check(cfgPath)
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	var (
		reason app.StopReason
		runErr error
	)
	select {
	case sig := <-sigs:
		reason = app.ReasonForSignal(sig)
	case <-a.Done():
		reason = app.StopFatalError
		runErr = a.Err()
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Stop(stopCtx, reason)
	return runErr
}

func check(cfgPath string) error {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return err
	}
	digest := "off"
	if cfg.Digest != nil && cfg.Digest.Enabled {
		digest = cfg.Digest.Schedule
	}
	fmt.Printf("config ok: %s\n", cfgPath)
	fmt.Printf("  entity_id: %s\n", or(cfg.Viewer.EntityID, "(unset)"))
	fmt.Printf("  token set: %t\n", strings.TrimSpace(cfg.Viewer.Token) != "")
	fmt.Printf("  url:       %s\n", or(cfg.Realtime.URL, "(default)"))
	fmt.Printf("  console:   %t\n", cfg.Console.Enabled)
	fmt.Printf("  digest:    %s\n", digest)
	return nil
}

func or(s, fallback string) string {
	if s = strings.TrimSpace(s); s == "" {
		return fallback
	}
	return s
}
