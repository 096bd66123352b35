package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "renderboxd",
	Short: "renderboxd - sandbox lifecycle and snapshot service",
	Long: `renderboxd provisions short-lived, isolated rendering sandboxes for
canvas nodes, serves files out of them, and keeps durable snapshots of their
output so a node's state survives sandbox destruction.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
