package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rpattn/tickstore/internal/config"
	"github.com/rpattn/tickstore/internal/ingestion"
)

var (
	importType  string
	importActor string

	importCmd = &cobra.Command{
		Use:   "import [file.csv|file.xlsx]",
		Short: "Save every row of a sheet as an entity, ticking changed tracked fields",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
)

func init() {
	importCmd.Flags().StringVarP(&importType, "type", "t", "animal", "entity type the rows belong to")
	importCmd.Flags().StringVar(&importActor, "actor", os.Getenv("USER"), "actor recorded on the import activity")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	payload, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	b, err := openBackend(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer b.close()

	service := ingestion.NewService(b.engine, b.activities, b.logger)
	summary, err := service.Ingest(cmd.Context(), ingestion.Request{
		EntityType: importType,
		FileName:   filepath.Base(args[0]),
		Payload:    payload,
		Actor:      importActor,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
