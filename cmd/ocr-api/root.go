package main

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:   "ocr-api",
	Short: "Remote OCR API server",
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(runCmd)
}
