package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/arkantrust/geocrud-api/config"
	"github.com/arkantrust/geocrud-api/ingest"
	"github.com/arkantrust/geocrud-api/store"
)

// importResult is printed to stdout once per imported file.
type importResult struct {
	File string `json:"file"`
	ingest.BatchSummary
}

func newImportCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	cfg := config.New()
	importCmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Ingest records from JSON files.",
		Long: `geocrud import reads each FILE (- for stdin) as the body of a POST /api/geo
request: one JSON object or an array of them. Every record goes through the
same validation, colour normalization and duplicate detection as the API.

A summary per file is printed to stdout as one JSON line. Logs go to stderr.
A file that is not a JSON object or array stops the import.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := config.SetupLogger(cfg, stderr)

			s, err := store.Open(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			pipeline := ingest.NewPipeline(s, ingest.NewDuplicateChecker(s), logger)
			enc := json.NewEncoder(stdout)

			for _, name := range args {
				data, err := readInput(name, stdin)
				if err != nil {
					return err
				}
				payload, err := ingest.DecodePayload(data)
				if err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}

				summary := pipeline.IngestBatch(cmd.Context(), payload.Inputs)
				logger.Info("file imported", slog.String("file", name), slog.String("batch_id", summary.BatchID))
				if err := enc.Encode(importResult{File: name, BatchSummary: summary}); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cfg.StoreFlags(importCmd.Flags())
	return importCmd
}

func readInput(name string, stdin io.Reader) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}
