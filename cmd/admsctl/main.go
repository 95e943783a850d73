// Command admsctl is the operator tool for the ADMS gateway database.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/your-org/admsgw/internal/auth"
	"github.com/your-org/admsgw/internal/commands"
	"github.com/your-org/admsgw/internal/config"
	"github.com/your-org/admsgw/internal/observability"
	"github.com/your-org/admsgw/internal/presence"
	"github.com/your-org/admsgw/internal/storage"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		printHelp()
		return nil
	}

	name, rest := args[0], args[1:]
	switch name {
	case "migrate":
		return withStore("migrate", rest, func(ctx context.Context, db *storage.PostgresStore, _ []string) error {
			if err := db.Migrate(ctx); err != nil {
				return err
			}
			fmt.Println("schema is up to date")
			return nil
		})
	case "enqueue":
		return withStore("enqueue", rest, enqueue)
	case "devices":
		return withStore("devices", rest, listDevices)
	case "hash-key":
		return hashKey(rest)
	default:
		printHelp()
		return fmt.Errorf("unknown command %q", name)
	}
}

func printHelp() {
	fmt.Fprint(os.Stderr, `admsctl manages the ADMS gateway database.

Usage:
  admsctl migrate  [--config path]
  admsctl enqueue  [--config path] <serial> <command...>
  admsctl devices  [--config path]
  admsctl hash-key <api-key>

Examples:
  # Ask a terminal to upload its user table on its next poll
  admsctl enqueue CQZ7231460012 DATA QUERY USERINFO

  # Produce a bcrypt hash for server.api_key_hashes
  admsctl hash-key "$(openssl rand -hex 24)"
`)
}

type storeCommand func(ctx context.Context, db *storage.PostgresStore, args []string) error

// withStore parses the shared flags, connects to Postgres and runs fn.
func withStore(name string, args []string, fn storeCommand) error {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", "configs/config.yaml", "path to config file")
	timeout := flagSet.Duration("timeout", 30*time.Second, "overall deadline")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	observability.SetupLogger("warn", "text")

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(ctx, db, flagSet.Args())
}

func enqueue(ctx context.Context, db *storage.PostgresStore, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: admsctl enqueue <serial> <command...>")
	}
	cmd, err := commands.NewQueue(db, nil).Enqueue(ctx, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Printf("queued command %d for %s\n", cmd.CommandID, cmd.DeviceSN)
	return nil
}

func listDevices(ctx context.Context, db *storage.PostgresStore, _ []string) error {
	devices, err := db.ListDevices(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERIAL\tNAME\tFIRMWARE\tLAST SEEN\tONLINE")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n",
			d.SerialNumber,
			orDash(d.Name),
			orDash(d.FirmwareVersion),
			d.LastSeen.Format(time.RFC3339),
			presence.IsOnline(d.LastSeen, now),
		)
	}
	return w.Flush()
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func hashKey(args []string) error {
	flagSet := pflag.NewFlagSet("hash-key", pflag.ContinueOnError)
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return errors.New("usage: admsctl hash-key <api-key>")
	}
	hash, err := auth.HashKey(flagSet.Arg(0))
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
