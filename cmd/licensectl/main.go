// licensectl operates the license controller from the command line:
// activate, reactivate, deactivate, validate, status, and
// seal-credentials. Commands wire the controller directly against the
// shared state file; a running daemon picks the changes up on its next
// snapshot read.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"brvlicense/internal/app"
	"brvlicense/internal/config"
	"brvlicense/internal/license"
	"brvlicense/internal/security"
	"brvlicense/pkg/contracts/domain"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:    "licensectl",
		Usage:   "operate the license controller",
		Version: app.Version,
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to the configuration file",
				EnvVars: []string{"BRV_CONFIG_FILE"},
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "debug logging on stderr",
			},
		},
		Commands: []*cli.Command{
			activateCommand(out),
			reactivateCommand(out),
			deactivateCommand(out),
			validateCommand(out),
			statusCommand(out),
			sealCredentialsCommand(out),
		},
	}
}

func activateCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "activate",
		Usage: "activate a license key against the remote service",
		Flags: []cli.Flag{
			keyFlag("license key to activate (defaults to the stored key)"),
			tokenFlag("existing activation token to reuse"),
		},
		Action: func(cCtx *cli.Context) error {
			return runOperation(cCtx, out, func(ctx context.Context, ctl *license.Controller) error {
				_, err := ctl.Activate(ctx, cCtx.String("key"), cCtx.String("token"))
				return err
			})
		},
	}
}

func reactivateCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "reactivate",
		Usage: "re-register the held activation token, retrying once past the activation limit",
		Flags: []cli.Flag{
			tokenFlag("activation token to re-register (defaults to the stored token)"),
			keyFlag("license key (defaults to the stored key)"),
		},
		Action: func(cCtx *cli.Context) error {
			return runOperation(cCtx, out, func(ctx context.Context, ctl *license.Controller) error {
				_, err := ctl.Reactivate(ctx, cCtx.String("token"), cCtx.String("key"))
				return err
			})
		},
	}
}

func deactivateCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "deactivate",
		Usage: "release the activation on the remote service",
		Flags: []cli.Flag{
			tokenFlag("activation token to release (defaults to the stored token)"),
			keyFlag("license key (defaults to the stored key)"),
		},
		Action: func(cCtx *cli.Context) error {
			return runOperation(cCtx, out, func(ctx context.Context, ctl *license.Controller) error {
				_, err := ctl.Deactivate(ctx, cCtx.String("token"), cCtx.String("key"))
				return err
			})
		},
	}
}

func validateCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "confirm the license against the remote service",
		Flags: []cli.Flag{
			keyFlag("license key to validate (defaults to the stored key)"),
		},
		Action: func(cCtx *cli.Context) error {
			return runOperation(cCtx, out, func(ctx context.Context, ctl *license.Controller) error {
				_, err := ctl.Validate(ctx, cCtx.String("key"))
				return err
			})
		},
	}
}

func statusCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "print the local license state",
		Action: func(cCtx *cli.Context) error {
			ctl, err := loadController(cCtx)
			if err != nil {
				return err
			}
			return printSnapshot(cCtx.Context, out, ctl)
		},
	}
}

func sealCredentialsCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "seal-credentials",
		Usage: "encrypt api_key and api_secret into a sealed credentials file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "api-key", Usage: "license API consumer key", Required: true},
			&cli.StringFlag{Name: "api-secret", Usage: "license API consumer secret", Required: true},
			&cli.StringFlag{
				Name:    "passphrase",
				Usage:   "sealing passphrase",
				EnvVars: []string{"BRV_LICENSE_PASSPHRASE"},
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "output path (default: credentials_file from config, else <data dir>/credentials.sealed)",
			},
		},
		Action: func(cCtx *cli.Context) error {
			cfg, err := loadConfig(cCtx)
			if err != nil {
				return err
			}
			paths, err := config.ResolvePaths(cfg)
			if err != nil {
				return err
			}

			output := cCtx.String("output")
			if output == "" {
				output = paths.CredentialsFile
			}
			if output == "" {
				output = filepath.Join(paths.DataDir, "credentials.sealed")
			}

			creds := security.Credentials{
				APIKey:    cCtx.String("api-key"),
				APISecret: cCtx.String("api-secret"),
			}
			if err := security.SealToFile(output, creds, cCtx.String("passphrase")); err != nil {
				return err
			}
			fmt.Fprintf(out, "sealed credentials written to %s\n", output)
			return nil
		},
	}
}

func keyFlag(usage string) cli.Flag {
	return &cli.StringFlag{Name: "key", Usage: usage}
}

func tokenFlag(usage string) cli.Flag {
	return &cli.StringFlag{Name: "token", Usage: usage}
}

// runOperation executes one controller operation and prints the
// resulting state.
func runOperation(cCtx *cli.Context, out io.Writer, op func(context.Context, *license.Controller) error) error {
	ctl, err := loadController(cCtx)
	if err != nil {
		return err
	}
	if err := op(cCtx.Context, ctl); err != nil {
		return err
	}
	return printSnapshot(cCtx.Context, out, ctl)
}

func loadController(cCtx *cli.Context) (*license.Controller, error) {
	cfg, err := loadConfig(cCtx)
	if err != nil {
		return nil, err
	}
	ctl, _, err := app.NewCLIController(cfg, cliLogger(cCtx))
	return ctl, err
}

func loadConfig(cCtx *cli.Context) (*config.Config, error) {
	if path := cCtx.String("config"); path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func cliLogger(cCtx *cli.Context) *slog.Logger {
	level := slog.LevelWarn
	if cCtx.Bool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func printSnapshot(ctx context.Context, out io.Writer, ctl *license.Controller) error {
	snap, err := ctl.Snapshot(ctx)
	if err != nil {
		return err
	}
	writeSnapshot(out, snap)
	return nil
}

func writeSnapshot(out io.Writer, snap domain.LicenseSnapshot) {
	fmt.Fprintf(out, "status: %s\n", snap.Status)
	if snap.LicenseKey != "" {
		fmt.Fprintf(out, "license_key: %s\n", snap.LicenseKey)
	}
	fmt.Fprintf(out, "has_token: %t\n", snap.HasToken)
	if snap.Reason != "" {
		fmt.Fprintf(out, "reason: %s\n", snap.Reason)
	}
	if snap.ExpiresAt != nil {
		fmt.Fprintf(out, "expires_at: %s\n", snap.ExpiresAt.Format(time.RFC3339))
	}
	if snap.GraceUntil != nil {
		fmt.Fprintf(out, "grace_until: %s\n", snap.GraceUntil.Format(time.RFC3339))
	}
	if snap.LastValidated != nil {
		fmt.Fprintf(out, "last_validated: %s\n", snap.LastValidated.Format(time.RFC3339))
	}
}
