// ABOUTME: modelregistry command line: root command and shared flags
// ABOUTME: Subcommands serve the registry, dump a database file, or talk to a running server

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	version = "dev"

	cfgFile string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:           "modelregistry",
	Short:         "ML model registry server and client",
	Long:          `Stores registered models, versions, artifacts, experiments and runs, and serves them over gRPC and REST.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./config.yaml or ~/.config/model-registry/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "",
		"dotenv file loaded before the environment is read (default: .env)")

	rootCmd.AddCommand(newServeCmd(), newDumpCmd(), newListCmd(), newGetCmd(), newStatsCmd())
}

// render writes v as YAML, or JSON when format is "json". v goes through
// JSON first so the field names match the wire format.
func render(w io.Writer, format string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	switch format {
	case "json":
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml", "":
		var out any
		if err := yaml.Unmarshal(data, &out); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
