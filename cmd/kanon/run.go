package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/majkutK-unitn/anonymization-module/internal/clierr"
	"github.com/majkutK-unitn/anonymization-module/internal/driver"
)

var (
	algorithmFlag string
	backendFlag   string
	inputFlag     string
	outputFlag    string
	dbFlag        string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Anonymize a dataset with the selected algorithm and backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		if configPath == "" {
			return clierr.NewConfigError("run", fmt.Errorf("--config is required"))
		}

		report, err := driver.Run(cmd.Context(), driver.Options{
			Algorithm:  algorithmFlag,
			Backend:    backendFlag,
			ConfigPath: configPath,
			InputPath:  inputFlag,
			OutputPath: outputFlag,
			DBPath:     dbFlag,
		}, loggers.Run, loggers.Queries)
		if err != nil {
			return err
		}

		fmt.Printf("algorithm:   %s\n", report.Algorithm)
		fmt.Printf("k:           %d\n", report.K)
		fmt.Printf("dataset size: %d\n", report.DatasetSize)
		fmt.Printf("partitions:  %d\n", report.PartitionCount)
		fmt.Printf("NCP:         %.4f%%\n", report.NCP)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&algorithmFlag, "algorithm", "mondrian", "anonymization algorithm: mondrian|datafly")
	runCmd.Flags().StringVar(&backendFlag, "backend", "memdoc", "storage backend: memdoc|relational")
	runCmd.Flags().StringVar(&inputFlag, "input", "", "path to the source JSON document array")
	runCmd.Flags().StringVar(&outputFlag, "output", "", "path to write anonymized output (memdoc backend only)")
	runCmd.Flags().StringVar(&dbFlag, "db", "", "path to the SQLite database file (relational backend only)")
}
