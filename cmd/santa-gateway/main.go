// Santa Gateway - AI message gateway for the Santa tracker
// This is the main entry point
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/santa-tracker/santa-gateway/internal/config"
	"github.com/santa-tracker/santa-gateway/internal/configstore"
	"github.com/santa-tracker/santa-gateway/internal/version"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "santa-gateway",
	Short:        "Santa tracker AI gateway",
	Long:         "Serves the Santa tracker UI and proxies its message generation to a local Ollama server or a cloud chat-completions API.",
	SilenceUsage: true,
	RunE:         runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionInfo().FullString())
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration document",
}

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a configuration document",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runValidate,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "settings file (default $SANTA_GATEWAY_CONFIG or config/gateway.yaml)")

	addServeFlags(rootCmd)
	addServeFlags(serveCmd)

	configCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(serveCmd, versionCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// settingsManager locates the bootstrap settings file
func settingsManager() *config.Manager {
	path := configPath
	if path == "" {
		path = os.Getenv("SANTA_GATEWAY_CONFIG")
	}
	if path == "" {
		return config.NewManager()
	}
	return config.NewManagerWithPath(path)
}

// runValidate checks a document file and prints every violation. The
// exit code is 1 when the document is invalid.
func runValidate(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		settings, err := settingsManager().Load()
		if err != nil {
			return err
		}
		settings.ApplyEnv()
		path = settings.ConfigStore.Path()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	valid, errs := configstore.Validate(data)
	if valid {
		fmt.Printf("✓ %s is valid\n", path)
		return nil
	}

	fmt.Printf("✗ %s is invalid:\n", path)
	for _, e := range errs {
		fmt.Printf("  - %s\n", e)
	}
	return fmt.Errorf("%d validation error(s)", len(errs))
}
