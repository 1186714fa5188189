package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

var debugShowConfigTOML bool

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debugging utilities (not for general use)",
	Long:  `Contains helper commands for debugging application behavior, like inspecting configuration.`,
}

var debugShowConfigCmd = &cobra.Command{
	Use:   "show-config",
	Short: "Print the fully loaded configuration",
	Long: `Loads configuration via defaults, .env, config file, environment and flags
(respecting precedence) and prints the result as JSON, or as TOML with --toml.
Useful for verifying how settings are merged.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// globalConfig is populated by PersistentPreRunE
		if debugShowConfigTOML {
			return toml.NewEncoder(os.Stdout).Encode(globalConfig)
		}
		jsonBytes, err := json.MarshalIndent(globalConfig, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Println(string(jsonBytes))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(debugCmd)
	debugCmd.AddCommand(debugShowConfigCmd)

	debugShowConfigCmd.Flags().BoolVar(&debugShowConfigTOML, "toml", false, "Print as TOML instead of JSON")
	// Same download flags as queue, so overrides can be inspected.
	addDownloadFlags(debugShowConfigCmd)
}
