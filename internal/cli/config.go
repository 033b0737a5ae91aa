package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/affnet-network/affnet/internal/domain"
	"github.com/affnet-network/affnet/internal/infra/snapshot"
)

// ─── Configuration CLI ──────────────────────────────────────────────────────
// Business rules live in versioned snapshots. Documents are JSON with the
// catalog, the active CPA rule, NGR settings and the inactivity schedule.

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configApplyCmd)
	configCmd.AddCommand(configShowCmd)

	configInitCmd.Flags().BoolP("force", "f", false, "Overwrite an existing file")
	configApplyCmd.Flags().String("author", "", "Author recorded on the snapshot (default $USER)")
	configShowCmd.Flags().Int64("version", 0, "Show a historical version instead of the active one")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration snapshots",
}

// ─── config init ────────────────────────────────────────────────────────────

var configInitCmd = &cobra.Command{
	Use:   "init FILE",
	Short: "Write a starter configuration document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		path := args[0]
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s exists; use --force to overwrite", path)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return err
		}
		if err := printJSON(f, snapshot.StarterDocument()); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Starter configuration written to %s\n", path)
		fmt.Fprintf(cmd.OutOrStdout(), "   Apply with: affnet config apply %s\n", path)
		return nil
	},
}

// ─── config validate ────────────────────────────────────────────────────────

var configValidateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Check a configuration document without saving it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		draft, err := readDocument(args[0])
		if err == nil {
			err = snapshot.Validate(draft)
		}
		if err != nil {
			printProblems(cmd, err)
			return errors.New("configuration rejected")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ %s is valid\n", args[0])
		return nil
	},
}

// ─── config apply ───────────────────────────────────────────────────────────

var configApplyCmd = &cobra.Command{
	Use:   "apply FILE",
	Short: "Validate a document and publish it as the next snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		author, _ := cmd.Flags().GetString("author")
		if author == "" {
			author = os.Getenv("USER")
		}
		draft, err := readDocument(args[0])
		if err != nil {
			printProblems(cmd, err)
			return errors.New("configuration rejected")
		}

		d, err := openDaemon(cmd.Context())
		if err != nil {
			return err
		}
		defer d.Close()

		saved, err := d.Service.SaveConfig(cmd.Context(), draft, author)
		if err != nil {
			printProblems(cmd, err)
			return errors.New("configuration rejected")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Published configuration v%d (%s)\n", saved.Version, saved.ID)
		return nil
	},
}

// ─── config show ────────────────────────────────────────────────────────────

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active (or a historical) snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		version, _ := cmd.Flags().GetInt64("version")

		d, err := openDaemon(cmd.Context())
		if err != nil {
			return err
		}
		defer d.Close()

		var snap *domain.Snapshot
		if version > 0 {
			snap, err = d.Service.ConfigVersion(cmd.Context(), version)
		} else {
			snap, err = d.Service.CurrentConfig()
		}
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), snap)
	},
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func readDocument(path string) (domain.Snapshot, error) {
	var doc snapshot.Document
	if err := readJSONFile(path, &doc); err != nil {
		return domain.Snapshot{}, err
	}
	return doc.Snapshot()
}

// printProblems lists every joined configuration error on stderr.
func printProblems(cmd *cobra.Command, err error) {
	w := cmd.ErrOrStderr()
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		fmt.Fprintf(w, "  • %v\n", err)
		return
	}
	for _, e := range joined.Unwrap() {
		printProblems(cmd, e)
	}
}
