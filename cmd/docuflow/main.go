// Command docuflow runs the document-processing pipeline: the HTTP
// ingress API, the durable job queue's worker pool and bulk sweeper, and
// the operator subcommands (migrate, template management).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/docuflow/pkg/log"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "docuflow",
	Short:   "Docuflow - scanned-document ingest and key/value extraction pipeline",
	Version: Version,
	Long: `Docuflow ingests scanned fax and medical documents, runs them through
OCR and LLM-driven key/value extraction, and lands confidence-scored
records in content-addressed two-tier object storage.`,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("docuflow version %s\ncommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(templateCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(level),
		JSONOutput: jsonOutput,
	})
}
