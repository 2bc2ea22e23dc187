// Package main provides the maintenance CLI of the change service.
//
// Subcommands:
//
//	abort-provisions   force every RUNNING provision to ABORTED (crash recovery)
//	export             dump per-device derived configuration as YAML files
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/wobcom/netbox-sub000/internal/config"
	"github.com/wobcom/netbox-sub000/internal/infrastructure"
	"github.com/wobcom/netbox-sub000/internal/inventory"
	"github.com/wobcom/netbox-sub000/internal/pkg/logger"
	"github.com/wobcom/netbox-sub000/internal/repository"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "changeadm error: %v\n", err)
		os.Exit(1)
	}
}

func usage() error {
	fmt.Fprintln(os.Stderr, "usage: changeadm <abort-provisions|export> [flags]")
	return flag.ErrHelp
}

func run() error {
	if len(os.Args) < 2 {
		return usage()
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	switch os.Args[1] {
	case "abort-provisions":
		return abortProvisions(ctx, db)
	case "export":
		return export(ctx, db, os.Args[2:])
	default:
		return usage()
	}
}

// abortProvisions reconciles database state after an unclean shutdown: any
// run stuck in RUNNING lost its process and is forced to ABORTED.
func abortProvisions(ctx context.Context, db *infrastructure.DatabaseClients) error {
	provisions := repository.NewProvisionRepo(db.Pool)
	count, err := provisions.AbortRunning(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Marked %d provisions as aborted.\n", count)
	return nil
}

func export(ctx context.Context, db *infrastructure.DatabaseClients, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	dest := fs.String("dest", ".", "destination directory for the rendered files")
	if err := fs.Parse(args); err != nil {
		return err
	}

	exporter := inventory.NewExporter(repository.NewDeviceRepo(db.Pool))
	written, err := exporter.Export(ctx, *dest, fs.Args())
	if err != nil {
		return err
	}
	fmt.Printf("Exported %d devices to %s.\n", written, *dest)
	return nil
}
