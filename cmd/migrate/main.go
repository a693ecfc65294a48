// Package main applies the embedded schema migrations.
//
// Usage:
//
//	migrate [-steps N] [up|down|version]
//
// "up" (the default) applies all pending migrations, or N of them with
// -steps. "down" requires -steps and rolls back that many. "version" prints
// the applied version and whether notification claiming is available.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/golang-migrate/migrate/v4"

	"leadflow/internal/app"
	"leadflow/internal/config"
	"leadflow/internal/db"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	steps := fs.Int("steps", 0, "number of migrations to apply (up) or roll back (down)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	command := "up"
	if fs.NArg() > 0 {
		command = fs.Arg(0)
	}
	if err := validateCommand(command, *steps); err != nil {
		return err
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := app.NewLogger(cfg)

	m, err := db.NewMigrator(cfg.Database.URL.Unmask())
	if err != nil {
		return err
	}
	defer m.Close()

	switch command {
	case "up":
		if *steps > 0 {
			err = m.Steps(*steps)
		} else {
			err = m.Up()
		}
	case "down":
		err = m.Steps(-*steps)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", command, err)
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		version, dirty, err = 0, false, nil
	}
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	logger.Info("schema migration complete",
		"command", command,
		"version", version,
		"dirty", dirty,
	)
	fmt.Fprintln(out, describeVersion(version, dirty))
	return nil
}

func validateCommand(command string, steps int) error {
	switch command {
	case "up", "version":
		if steps < 0 {
			return fmt.Errorf("-steps must not be negative")
		}
		return nil
	case "down":
		if steps <= 0 {
			return fmt.Errorf("down requires -steps > 0")
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q (want up, down or version)", command)
	}
}

func describeVersion(version uint, dirty bool) string {
	claiming := !dirty && version >= db.ClaimMigrationVersion
	s := fmt.Sprintf("schema version %d", version)
	if dirty {
		s += " (dirty)"
	}
	if claiming {
		return s + ": notification claiming available"
	}
	return s + ": legacy mode (no notification claiming)"
}

