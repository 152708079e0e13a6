// Package main provides the database migration CLI tool for Metaline.
//
// Migration files are embedded at build time, so the binary is self-contained
// and deployable without external file dependencies. Supports up, down,
// status, version, and drop commands.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
)

// Build-time version information, set with -ldflags.
var (
	Version   = "1.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
	name      = "migrator"
)

func main() {
	var (
		configHelp  = flag.Bool("help", false, "Show help information")
		showVersion = flag.Bool("version", false, "Show version information")
	)

	flag.Parse()

	if *showVersion {
		printVersionInfo()
		os.Exit(0)
	}

	if *configHelp || len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	command := os.Args[1]

	config, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	runner, err := NewMigrationRunner(config)
	if err != nil {
		log.Fatalf("Failed to create migration runner: %v", err)
	}

	defer func() {
		_ = runner.Close()
	}()

	if err := runCommand(runner, command); err != nil {
		log.Fatalf("Command %q failed: %v", command, err)
	}
}

func runCommand(runner MigrationRunner, command string) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "status":
		return runner.Status()
	case "version":
		return runner.Version()
	case "drop":
		return runner.Drop()
	default:
		printUsage()

		return fmt.Errorf("unknown command: %s", command)
	}
}

func printVersionInfo() {
	fmt.Printf("%s %s (commit: %s, built: %s)\n", name, Version, GitCommit, BuildTime)
}

func printUsage() {
	fmt.Printf(`%s - database migration tool

Usage:
  %s <command>

Commands:
  up       Apply all pending migrations
  down     Rollback the last migration
  status   Show current migration status and pending migrations
  version  Show current migration version
  drop     Drop all tables (destructive)

Environment:
  DATABASE_URL     PostgreSQL connection string (required)
  MIGRATION_TABLE  Migration tracking table (default: schema_migrations)
`, name, name)
}
