// Package main is the entry point for the descriptor importer. It loads a
// JSON array of descriptor records from a local file or an s3:// object into
// the descriptor store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/config"
	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/db"
	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/descriptor"
	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/importer"
	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/middleware"
	"github.com/lukeboustridge-prog/Worldskills-sub002/migrations"
)

var errMissingLocation = errors.New("an import location is required")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		slog.Error("import failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("importer", flag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.String("config", "", "path to an optional YAML config file")
	replace := fs.Bool("replace", false, "replace the whole corpus in one transaction")
	dryRun := fs.Bool("dry-run", false, "validate records without writing")
	fs.Usage = func() {
		fmt.Fprintln(out, "Descriptor Importer")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Usage: importer [options] <file | s3://bucket/key>")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errMissingLocation
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	var repo importer.Writer
	switch {
	case cfg.DatabaseURL != "":
		conn, err := db.Open(ctx, cfg.DatabaseURL, db.DefaultPoolConfig())
		if err != nil {
			return err
		}
		defer conn.Close()
		if _, err := db.Migrate(ctx, conn, migrations.FS, logger); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		repo = descriptor.NewPostgresRepository(conn, logger)
	case *dryRun:
		repo = descriptor.NewInMemoryRepository(logger)
	default:
		return config.ErrMissingDatabaseURL
	}

	src, err := importer.SourceFor(fs.Arg(0), func() importer.ObjectGetter {
		return importer.NewS3Client(importer.S3Config{
			Endpoint:        cfg.ImportS3Endpoint,
			Region:          cfg.ImportS3Region,
			AccessKeyID:     cfg.ImportS3AccessKeyID,
			SecretAccessKey: cfg.ImportS3SecretAccessKey,
		})
	})
	if err != nil {
		return err
	}

	report, err := importer.New(repo, logger).Run(ctx, src, importer.Options{Replace: *replace, DryRun: *dryRun})
	if report != nil {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(report); encErr != nil {
			logger.Error("failed to write report", "error", encErr)
		}
	}
	return err
}
