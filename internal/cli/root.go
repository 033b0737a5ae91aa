// Package cli implements the affnet command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/affnet-network/affnet/internal/daemon"
	"github.com/affnet-network/affnet/internal/version"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "affnet",
	Short: "Affiliate commission and qualification engine",
	Long: `affnet runs the commission rules of an affiliate network: CPA
qualification of referred players, tier progression with level-up bonuses,
the GGR to NGR waterfall, MLM distribution of the cofre over five upline
levels and the daily inactivity pass.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.toml (default $AFFNET_HOME/config.toml)")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the affnet version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "affnet %s\n", version.Version)
	},
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func loadConfig() (daemon.Config, error) {
	path := configPath
	if path == "" {
		path = daemon.ConfigPath()
	}
	return daemon.LoadConfig(path)
}

// openDaemon loads the config and opens the engine. The caller must Close it.
func openDaemon(ctx context.Context) (*daemon.Daemon, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return daemon.New(ctx, cfg)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
