package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/bounty/internal/models"
	"github.com/joescharf/bounty/internal/output"
	"github.com/joescharf/bounty/internal/verify"
)

var resolveFailed bool

var fundCmd = &cobra.Command{
	Use:   "fund <bug-id> <amount>",
	Short: "Contribute toward a bug's bounty",
	Long:  "Contribute money toward a bug. Only Open and Funded bugs accept funding.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseAmount(args[1])
		if err != nil {
			return err
		}
		return fundRun(args[0], amount)
	},
}

var fundedByCmd = &cobra.Command{
	Use:   "funded-by [user-id]",
	Short: "Show how much a user has contributed across all bugs",
	Long:  "Total the contributions of a user. Defaults to the current identity.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var userID string
		if len(args) > 0 {
			userID = args[0]
		}
		return fundedByRun(userID)
	},
}

var claimCmd = &cobra.Command{
	Use:   "claim <bug-id>",
	Short: "Claim an Open or Funded bug as the current developer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return claimRun(args[0])
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit <bug-id>",
	Short: "Submit a claimed bug for review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return submitRun(args[0])
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <bug-id>",
	Short: "Resolve a bug that is In Review",
	Long:  "Mark a bug Resolved. With --failed the fix is rejected and the bug returns to Claimed.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveRun(args[0], !resolveFailed)
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <bug-id> <pr-link>",
	Short: "Run automated verification of a submitted fix",
	Long: `Score a pull request against a bug that is In Review and resolve it.

A score above 75 resolves the bug; anything lower sends it back to Claimed.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return verifyRun(args[0], args[1])
	},
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveFailed, "failed", false, "Reject the fix and return the bug to Claimed")

	rootCmd.AddCommand(fundCmd)
	rootCmd.AddCommand(fundedByCmd)
	rootCmd.AddCommand(claimCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(verifyCmd)
}

// parseAmount parses a money argument, accepting an optional leading "$".
func parseAmount(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimPrefix(strings.TrimSpace(s), "$"), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func fundRun(id string, amount float64) error {
	funder, err := callerID()
	if err != nil {
		return err
	}
	l, err := getLedger()
	if err != nil {
		return err
	}
	ctx := context.Background()

	bug, err := findBug(ctx, l, id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would fund %s with %s as %s", shortID(bug.ID), output.Money(amount), funder)
		return nil
	}

	updated, err := l.FundBug(ctx, bug.ID, funder, amount)
	if err != nil {
		return fmt.Errorf("fund bug: %w", err)
	}

	ui.Success("Funded %s with %s: %s raised (%s)", output.Cyan(shortID(updated.ID)), output.Money(amount),
		output.Progress(updated.FundsRaised, updated.Bounty), output.StatusColor(string(updated.Status)))
	return nil
}

func fundedByRun(userID string) error {
	if userID == "" {
		id, err := callerID()
		if err != nil {
			return err
		}
		userID = id
	}
	l, err := getLedger()
	if err != nil {
		return err
	}

	total, err := l.FundedBy(context.Background(), userID)
	if err != nil {
		return fmt.Errorf("funded by: %w", err)
	}
	fmt.Fprintf(ui.Out, "%s has funded %s\n", output.Cyan(userID), output.Money(total))
	return nil
}

func claimRun(id string) error {
	dev, err := callerID()
	if err != nil {
		return err
	}
	l, err := getLedger()
	if err != nil {
		return err
	}
	ctx := context.Background()

	bug, err := findBug(ctx, l, id)
	if err != nil {
		return err
	}

	if u, err := l.Store().GetUser(ctx, dev); err == nil && u.Role != models.RoleDeveloper {
		ui.Warning("%s is not a developer account", dev)
	}

	if dryRun {
		ui.DryRunMsg("Would claim %s as %s", shortID(bug.ID), dev)
		return nil
	}

	updated, err := l.ClaimBug(ctx, bug.ID, dev)
	if err != nil {
		return fmt.Errorf("claim bug: %w", err)
	}

	ui.Success("Claimed %s: %s", output.Cyan(shortID(updated.ID)), updated.Title)
	return nil
}

func submitRun(id string) error {
	l, err := getLedger()
	if err != nil {
		return err
	}
	ctx := context.Background()

	bug, err := findBug(ctx, l, id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would submit %s for review", shortID(bug.ID))
		return nil
	}

	updated, err := l.SubmitForReview(ctx, bug.ID)
	if err != nil {
		return fmt.Errorf("submit bug: %w", err)
	}

	ui.Success("Submitted %s for review", output.Cyan(shortID(updated.ID)))
	return nil
}

func resolveRun(id string, passed bool) error {
	l, err := getLedger()
	if err != nil {
		return err
	}
	ctx := context.Background()

	bug, err := findBug(ctx, l, id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would resolve %s (passed=%t)", shortID(bug.ID), passed)
		return nil
	}

	updated, err := l.ResolveBug(ctx, bug.ID, passed)
	if err != nil {
		return fmt.Errorf("resolve bug: %w", err)
	}

	if passed {
		ui.Success("Resolved %s: %s", output.Cyan(shortID(updated.ID)), updated.Title)
	} else {
		ui.Warning("Fix rejected, %s is back to %s", shortID(updated.ID), output.StatusColor(string(updated.Status)))
	}
	return nil
}

func verifyRun(id, prLink string) error {
	dev, err := callerID()
	if err != nil {
		return err
	}
	l, err := getLedger()
	if err != nil {
		return err
	}
	ctx := context.Background()

	bug, err := findBug(ctx, l, id)
	if err != nil {
		return err
	}

	if dryRun {
		res := verify.Score(prLink)
		ui.DryRunMsg("Would verify %s: similarity %.2f (passed=%t)", shortID(bug.ID), res.SimilarityScore, res.Passed)
		return nil
	}

	v, updated, err := verify.New(l).Verify(ctx, bug.ID, dev, prLink)
	if err != nil {
		return fmt.Errorf("verify fix: %w", err)
	}

	fmt.Fprintf(ui.Out, "  Similarity: %s\n", output.ScoreColor(v.SimilarityScore))
	fmt.Fprintf(ui.Out, "  Diff:       %s\n", v.DiffSummary)
	if v.Passed {
		ui.Success("Verification passed, %s is %s", output.Cyan(shortID(updated.ID)), output.StatusColor(string(updated.Status)))
	} else {
		ui.Warning("Verification failed, %s is back to %s", shortID(updated.ID), output.StatusColor(string(updated.Status)))
	}
	return nil
}
