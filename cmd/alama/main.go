// Alama marks exam answers through a chain of AI providers.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jkaninda/alama/internal/config"
)

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "alama",
	Short: "AI marking orchestration for exam answers",
	Long: `Alama routes marking requests across AI providers with retries,
prompt-strategy fallback, provider fallback and a response cache.
Served over HTTP, as an MCP tool, or from the command line.`,
	PersistentPreRunE: loadEnvFile,
	RunE:              runServe,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", config.DefaultConfigPath(), "path to config file")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file with provider keys; missing is fine")
	rootCmd.AddCommand(serveCmd, markCmd, batchCmd, mcpCmd, purgeCmd, versionCmd)
}

// loadEnvFile populates provider credentials before config is read. Variables
// already in the environment win.
func loadEnvFile(cmd *cobra.Command, _ []string) error {
	if envFile == "" {
		return nil
	}
	err := godotenv.Load(envFile)
	if err == nil || (errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("env-file")) {
		return nil
	}
	return fmt.Errorf("loading %s: %w", envFile, err)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "alama: %v\n", err)
		os.Exit(1)
	}
}
