package main

import (
	"context"
	"fmt"

	"github.com/ecatlab/ecatbench/pkg/sysinfo"
	"github.com/spf13/cobra"
)

var sysinfoIface string

var sysinfoCmd = &cobra.Command{
	Use:   "sysinfo",
	Short: "Print a snapshot of the measurement host environment",
	Long: `Collect and print the host environment as JSON: hostname, kernel,
realtime status, tuned profile and interface coalescing settings. The output
matches the settings document stored with each run, so it can be used to
verify a host before measuring.`,
	RunE: runSysinfo,
}

func init() {
	rootCmd.AddCommand(sysinfoCmd)

	sysinfoCmd.Flags().StringVar(&sysinfoIface, "interface", "",
		"network interface to probe for coalescing settings")
}

func runSysinfo(cmd *cobra.Command, args []string) error {
	snapshot, err := sysinfo.Collect(context.Background(), log, sysinfoIface)
	if err != nil {
		return fmt.Errorf("collecting system info: %w", err)
	}

	data, err := snapshot.JSON()
	if err != nil {
		return fmt.Errorf("encoding system info: %w", err)
	}

	fmt.Println(data)

	return nil
}
