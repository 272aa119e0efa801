package main

import (
	"log"

	"github.com/spf13/cobra"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "tickstore",
		Short: "Versioned entity storage with per-entity tick clocks",
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply static migrations and create the tables of every catalog type",
		RunE:  runMigrate,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve entity timelines and point-in-time values over HTTP",
		RunE:  runServe,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config-dir", "c", ".", "directory holding config.yaml")
	rootCmd.AddCommand(migrateCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
