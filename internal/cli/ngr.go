package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/affnet-network/affnet/internal/domain"
	"github.com/affnet-network/affnet/internal/infra/mlm"
	"github.com/affnet-network/affnet/internal/infra/ngr"
)

func init() {
	rootCmd.AddCommand(ngrCmd)

	ngrCmd.Flags().String("ggr", "", "Gross gaming revenue of the period (required)")
	ngrCmd.Flags().String("daily-streak", "0", "Daily streak payouts of the period")
	ngrCmd.Flags().String("chests", "0", "Chest payouts of the period")
	ngrCmd.Flags().String("level-up", "0", "Level-up payouts of the period")
	ngrCmd.Flags().String("referrer", "", "Also distribute the cofre over this affiliate's upline")
	ngrCmd.Flags().Bool("json", false, "Print the result as JSON")
	_ = ngrCmd.MarkFlagRequired("ggr")
}

// ─── ngr ────────────────────────────────────────────────────────────────────

var ngrCmd = &cobra.Command{
	Use:   "ngr",
	Short: "Run the GGR to NGR waterfall with the active configuration",
	Long: `Compute NGR, cofre and rankings pool from a period's GGR and its
actual abatement payouts. With --referrer the cofre is also split over the
referrer's upline.`,
	RunE: runNgr,
}

func runNgr(cmd *cobra.Command, args []string) error {
	amounts := map[string]domain.Money{}
	for _, name := range []string{"ggr", "daily-streak", "chests", "level-up"} {
		raw, _ := cmd.Flags().GetString(name)
		m, err := domain.NewMoney(raw)
		if err != nil {
			return fmt.Errorf("--%s: %w", name, err)
		}
		amounts[name] = m
	}
	referrer, _ := cmd.Flags().GetString("referrer")
	asJSON, _ := cmd.Flags().GetBool("json")

	d, err := openDaemon(cmd.Context())
	if err != nil {
		return err
	}
	defer d.Close()

	actual := domain.Abatements{
		DailyStreak: amounts["daily-streak"],
		Chests:      amounts["chests"],
		LevelUp:     amounts["level-up"],
	}
	out := cmd.OutOrStdout()

	if referrer != "" {
		st, err := d.Service.Settle(cmd.Context(), referrer, amounts["ggr"], actual)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(out, st)
		}
		printWaterfall(out, st.Ngr, st.SnapshotVersion)
		printDistribution(out, st.Distribution)
		return nil
	}

	res, version, err := d.Service.ComputeNgr(amounts["ggr"], actual)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(out, res)
	}
	printWaterfall(out, res, version)
	return nil
}

func printWaterfall(w io.Writer, r ngr.Result, version int64) {
	fmt.Fprintf(w, "GGR %s (config v%d)\n", r.GGR, version)
	for _, s := range r.Steps {
		fmt.Fprintf(w, "  - %-20s %12s  → %s\n", s.Name, s.Deduction.Round(), s.Remainder.Round())
	}
	fmt.Fprintf(w, "NGR:      %s\n", r.NGR)
	fmt.Fprintf(w, "Cofre:    %s\n", r.Cofre)
	fmt.Fprintf(w, "Rankings: %s\n", r.Rankings)
}

func printDistribution(w io.Writer, d mlm.Distribution) {
	fmt.Fprintln(w, "Distribution:")
	for _, p := range d.Breakdown {
		fmt.Fprintf(w, "  %d. %-20s %s (−%s)  %s\n", p.Position, p.AffiliateID, p.Rate, p.Reduction, p.Amount)
	}
	fmt.Fprintf(w, "Retained: %s\n", d.Retained)
}
