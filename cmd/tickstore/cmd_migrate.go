package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/rpattn/tickstore/internal/config"
)

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	b, err := openBackend(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer b.close()

	for _, registered := range b.engine.Registry().Types() {
		log.Printf("Tables ready for %s: %s, %s", registered.Type.Name, registered.Tables.Entity, registered.Tables.Clock)
	}
	return nil
}
