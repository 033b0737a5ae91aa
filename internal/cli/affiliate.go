package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/affnet-network/affnet/internal/app/engine"
	"github.com/affnet-network/affnet/internal/domain"
)

// ─── Affiliate CLI ──────────────────────────────────────────────────────────
// Operator commands against the local database. Referral intake and payouts
// go through the HTTP API; these cover onboarding and administrative actions.

func init() {
	rootCmd.AddCommand(affiliateCmd)
	affiliateCmd.AddCommand(affiliateAddCmd)
	affiliateCmd.AddCommand(affiliateShowCmd)
	affiliateCmd.AddCommand(affiliateResetCmd)
	affiliateCmd.AddCommand(affiliateApproveCmd)

	affiliateAddCmd.Flags().String("upline", "", "ID of the referring affiliate")
	affiliateAddCmd.Flags().Int64("referrals", 0, "Validated referrals carried over from another system")
	affiliateResetCmd.Flags().String("actor", "", "Operator recorded in the logs (default $USER)")
	affiliateApproveCmd.Flags().String("actor", "", "Operator recorded in the logs (default $USER)")
}

var affiliateCmd = &cobra.Command{
	Use:     "affiliate",
	Aliases: []string{"aff"},
	Short:   "Register and inspect affiliates",
}

// ─── affiliate add ──────────────────────────────────────────────────────────

var affiliateAddCmd = &cobra.Command{
	Use:   "add ID",
	Short: "Register a new affiliate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		upline, _ := cmd.Flags().GetString("upline")
		referrals, _ := cmd.Flags().GetInt64("referrals")

		d, err := openDaemon(cmd.Context())
		if err != nil {
			return err
		}
		defer d.Close()

		a, err := d.Service.RegisterAffiliate(cmd.Context(), engine.Registration{
			ID:                      args[0],
			UplineID:                upline,
			TotalValidatedReferrals: referrals,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Affiliate %q registered at %s / %s\n", a.ID, a.CurrentCategoryID, a.CurrentLevelID)
		return nil
	},
}

// ─── affiliate show ─────────────────────────────────────────────────────────

var affiliateShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show an affiliate's tier, progress and inactivity state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon(cmd.Context())
		if err != nil {
			return err
		}
		defer d.Close()

		a, err := d.Service.Affiliate(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		p, err := d.Service.Progress(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		chain, err := d.Service.Chain(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printAffiliate(cmd.OutOrStdout(), a, p, chain)
		return nil
	},
}

func printAffiliate(w io.Writer, a domain.Affiliate, p engine.Progress, chain []domain.Affiliate) {
	fmt.Fprintf(w, "Affiliate:   %s\n", a.ID)
	if a.UplineID != "" {
		fmt.Fprintf(w, "Upline:      %s\n", a.UplineID)
	}
	fmt.Fprintf(w, "Tier:        %s / %s\n", a.CurrentCategoryID, a.CurrentLevelID)
	fmt.Fprintf(w, "Referrals:   %d\n", a.TotalValidatedReferrals)
	if p.NextLevelID != "" {
		fmt.Fprintf(w, "Next level:  %s in %d referrals\n", p.NextLevelID, p.ReferralsToNext)
	} else {
		fmt.Fprintln(w, "Next level:  top of the catalog")
	}
	fmt.Fprintf(w, "Status:      %s", a.Inactivity.Status)
	if a.Inactivity.Status != domain.StatusActive {
		fmt.Fprintf(w, " (%d days, reduction %s, attempts %d)",
			a.Inactivity.DaysInactive, a.Inactivity.ReductionPercentage, a.Inactivity.FailedAttempts)
	}
	fmt.Fprintln(w)
	if len(chain) > 1 {
		fmt.Fprintln(w, "Upline chain:")
		for i, up := range chain[1:] {
			fmt.Fprintf(w, "  %d. %s (%s / %s)\n", i+1, up.ID, up.CurrentCategoryID, up.CurrentLevelID)
		}
	}
}

// ─── affiliate reset / approve ──────────────────────────────────────────────

var affiliateResetCmd = &cobra.Command{
	Use:   "reset ID",
	Short: "Return an affiliate to Active (when manual reset is allowed)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransition(cmd, args[0], "reset")
	},
}

var affiliateApproveCmd = &cobra.Command{
	Use:   "approve ID",
	Short: "Approve the reactivation of an eligible affiliate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransition(cmd, args[0], "approve")
	},
}

func runTransition(cmd *cobra.Command, id, what string) error {
	actor, _ := cmd.Flags().GetString("actor")
	if actor == "" {
		actor = os.Getenv("USER")
	}

	d, err := openDaemon(cmd.Context())
	if err != nil {
		return err
	}
	defer d.Close()

	var a domain.Affiliate
	if what == "reset" {
		a, err = d.Service.ManualReset(cmd.Context(), id, actor)
	} else {
		a, err = d.Service.ApproveReactivation(cmd.Context(), id, actor)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Affiliate %q is now %s\n", a.ID, a.Inactivity.Status)
	return nil
}
