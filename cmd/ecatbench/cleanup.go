package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ecatlab/ecatbench/pkg/resultstore"
	"github.com/spf13/cobra"
)

var (
	cleanupPrefix string
	cleanupDryRun bool
	forceCleanup  bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup [run-name...]",
	Short: "Delete runs and all of their frame and cycle rows",
	Long: `Delete stored runs by exact name, or every run whose name starts with
--prefix. Deleting a run also removes all of its frame and cycle rows. This
is useful for clearing out aborted or superseded measurement runs.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().StringVar(&cleanupPrefix, "prefix", "",
		"delete all runs whose name starts with this prefix")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false,
		"list the runs that would be deleted without deleting them")
	cleanupCmd.Flags().BoolVarP(&forceCleanup, "force", "f", false,
		"Skip confirmation prompt")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && cleanupPrefix == "" {
		return fmt.Errorf("run names or --prefix required")
	}

	if len(args) > 0 && cleanupPrefix != "" {
		return fmt.Errorf("run names cannot be combined with --prefix")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
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

	targets, err := resolveCleanupTargets(ctx, store, args)
	if err != nil {
		return err
	}

	if len(targets) == 0 {
		log.Info("No matching runs found")

		return nil
	}

	fmt.Printf("\nRuns to be deleted (%d):\n", len(targets))

	for _, name := range targets {
		fmt.Printf("  - %s\n", name)
	}

	fmt.Println()

	if cleanupDryRun {
		log.Info("Dry run, nothing deleted")

		return nil
	}

	// Prompt for confirmation if not forced.
	if !forceCleanup {
		fmt.Print("Are you sure you want to delete these runs? [y/N] ")

		reader := bufio.NewReader(os.Stdin)

		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}

		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			log.Info("Cleanup cancelled")

			return nil
		}
	}

	for _, name := range targets {
		log.WithField("run", name).Info("Deleting run")

		if err := store.DeleteRun(ctx, name); err != nil {
			return fmt.Errorf("deleting run %q: %w", name, err)
		}
	}

	log.Info("Cleanup completed")

	return nil
}

// resolveCleanupTargets expands --prefix into matching run names, or
// verifies that each explicitly named run exists.
func resolveCleanupTargets(
	ctx context.Context, store resultstore.Store, args []string,
) ([]string, error) {
	if cleanupPrefix != "" {
		runs, err := store.FindRunsByNamePrefix(ctx, cleanupPrefix)
		if err != nil {
			return nil, fmt.Errorf("finding runs by prefix: %w", err)
		}

		names := make([]string, 0, len(runs))
		for _, run := range runs {
			names = append(names, run.Name)
		}

		return names, nil
	}

	for _, name := range args {
		if _, err := store.GetRun(ctx, name); err != nil {
			return nil, fmt.Errorf("run %q: %w", name, err)
		}
	}

	return args, nil
}
