package main

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:   "ocr-worker",
	Short: "Remote OCR worker",
}

func init() {
	rootCmd.AddCommand(runCmd)
}
