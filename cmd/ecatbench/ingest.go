package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ecatlab/ecatbench/pkg/config"
	"github.com/ecatlab/ecatbench/pkg/ingest"
	"github.com/ecatlab/ecatbench/pkg/resultstore"
	"github.com/ecatlab/ecatbench/pkg/upload"
	"github.com/spf13/cobra"
)

var (
	ingestMetaPath   string
	ingestExportPath string
	ingestUpload     bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [run-name...]",
	Short: "Ingest run artifacts into the result store",
	Long: `Ingest one or more runs into the result store. Each run name resolves
to <dumps_dir>/<name>.json (run metadata) and <dumps_dir>/<name>.csv (the
capture export). Use --meta and --export to ingest a single run from
explicit paths instead.`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&ingestMetaPath, "meta", "",
		"path to a run metadata JSON file (requires --export)")
	ingestCmd.Flags().StringVar(&ingestExportPath, "export", "",
		"path to a capture export CSV file (requires --meta)")
	ingestCmd.Flags().BoolVar(&ingestUpload, "upload", false,
		"archive raw capture artifacts to S3 after a successful ingest")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	explicit := ingestMetaPath != "" || ingestExportPath != ""

	if explicit {
		if ingestMetaPath == "" || ingestExportPath == "" {
			return fmt.Errorf("--meta and --export must be used together")
		}

		if len(args) > 0 {
			return fmt.Errorf("run names cannot be combined with --meta/--export")
		}
	} else if len(args) == 0 {
		return fmt.Errorf("at least one run name is required")
	}

	ctx := context.Background()

	store := resultstore.NewStore(log, &cfg.Database)
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("starting result store: %w", err)
	}

	defer func() {
		if err := store.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop result store")
		}
	}()

	uploader, err := buildUploader(ctx, cfg.Upload)
	if err != nil {
		return err
	}

	ing := ingest.NewIngester(log, store, &cfg.Ingest)

	if explicit {
		summary, err := ing.IngestRun(ctx, ingestMetaPath, ingestExportPath)
		if err != nil {
			return err
		}

		return archiveRun(ctx, uploader, summary.Run,
			[]string{ingestMetaPath, ingestExportPath})
	}

	for _, name := range args {
		summary, err := ing.IngestRunByName(ctx, name)
		if err != nil {
			return fmt.Errorf("ingesting run %q: %w", name, err)
		}

		if err := archiveRun(ctx, uploader, summary.Run,
			runArtifactPaths(cfg.Ingest.DumpsDir, name)); err != nil {
			return err
		}
	}

	return nil
}

// buildUploader creates and preflights the S3 uploader when --upload was
// given. Upload must also be enabled and configured in the config file.
func buildUploader(ctx context.Context, cfg *config.S3UploadConfig) (upload.Uploader, error) {
	if !ingestUpload {
		return nil, nil
	}

	if cfg == nil || !cfg.Enabled {
		return nil, fmt.Errorf("--upload requires an enabled upload section in the config")
	}

	uploader, err := upload.NewS3Uploader(log, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating uploader: %w", err)
	}

	if err := uploader.Preflight(ctx); err != nil {
		return nil, fmt.Errorf("upload preflight: %w", err)
	}

	return uploader, nil
}

// archiveRun uploads the run's raw artifacts, including the pcapng capture
// when present next to the export.
func archiveRun(
	ctx context.Context, uploader upload.Uploader, runName string, paths []string,
) error {
	if uploader == nil {
		return nil
	}

	existing := make([]string, 0, len(paths))

	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			log.WithField("path", path).Debug("Skipping missing artifact")

			continue
		}

		existing = append(existing, path)
	}

	if err := uploader.UploadRunArtifacts(ctx, runName, existing); err != nil {
		return fmt.Errorf("archiving run %q: %w", runName, err)
	}

	return nil
}

// runArtifactPaths lists the artifact files a named run may have in the
// dumps directory.
func runArtifactPaths(dumpsDir, name string) []string {
	return []string{
		filepath.Join(dumpsDir, name+".json"),
		filepath.Join(dumpsDir, name+".csv"),
		filepath.Join(dumpsDir, name+".pcapng"),
	}
}
