package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrSco/ha-eufy-robovac-s1-pro/internal/config"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "robovacd",
		Short:         "Local control daemon for the eufy Robovac S1 Pro",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to the YAML config file")
	root.AddCommand(serveCmd(), decodeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
