package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/affnet-network/affnet/internal/domain"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(passCmd)

	passCmd.Flags().String("as-of", "", "Evaluation date (YYYY-MM-DD or RFC 3339, default now)")
	passCmd.Flags().Bool("retry", false, "Only re-evaluate affiliates left pending by earlier passes")
}

// ─── serve ──────────────────────────────────────────────────────────────────

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the daily inactivity runner",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		d, err := openDaemon(ctx)
		if err != nil {
			return err
		}
		defer d.Close()
		return d.Serve(ctx)
	},
}

// ─── pass ───────────────────────────────────────────────────────────────────

var passCmd = &cobra.Command{
	Use:   "pass",
	Short: "Run the inactivity pass once",
	Long: `Evaluate every affiliate against the inactivity schedule of the
active configuration and store the resulting states. Affiliates that fail are
recorded and can be re-evaluated with --retry.`,
	RunE: runPass,
}

func runPass(cmd *cobra.Command, args []string) error {
	asOfFlag, _ := cmd.Flags().GetString("as-of")
	retry, _ := cmd.Flags().GetBool("retry")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	d, err := openDaemon(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	asOf := time.Now()
	if asOfFlag != "" {
		loc, err := d.Config.Location()
		if err != nil {
			return err
		}
		if asOf, err = parseAsOf(asOfFlag, loc); err != nil {
			return err
		}
	}

	var run domain.PassRun
	if retry {
		run, err = d.Service.RetryFailed(ctx, asOf)
	} else {
		run, err = d.Service.RunInactivityPass(ctx, asOf)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Pass %s as of %s (config v%d)\n", run.ID, run.AsOf.Format(time.RFC3339), run.SnapshotVersion)
	fmt.Fprintf(out, "  processed:   %d\n", run.Processed)
	fmt.Fprintf(out, "  transitions: %d\n", run.Transitions)
	fmt.Fprintf(out, "  failures:    %d\n", len(run.Failures))
	for _, f := range run.Failures {
		fmt.Fprintf(out, "    • %s: %s\n", f.AffiliateID, f.Error)
	}
	return nil
}

// parseAsOf accepts a date (midnight in loc) or a full RFC 3339 timestamp.
func parseAsOf(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--as-of %q: want YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}
