package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/bounty/internal/analysis"
	"github.com/joescharf/bounty/internal/analytics"
	"github.com/joescharf/bounty/internal/ledger"
	"github.com/joescharf/bounty/internal/models"
	"github.com/joescharf/bounty/internal/output"
	"github.com/joescharf/bounty/internal/seed"
)

var matchLimit int

var analyzeCmd = &cobra.Command{
	Use:   "analyze <bug-id>",
	Short: "Analyze a bug: category, complexity, bounty estimate and priority",
	Long: `Analyze a bug and record the priority score, category and complexity on it.

If the bug has no bounty yet and still accepts funding, the estimated bounty
becomes its goal.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return analyzeRun(args[0])
	},
}

var matchCmd = &cobra.Command{
	Use:   "match <bug-id>",
	Short: "Rank developers for a bug",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return matchRun(args[0])
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show marketplace statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return statsRun()
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load demo users, developers and bugs",
	Long:  "Load the built-in demo dataset. Does nothing if the store already has users.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return seedRun()
	},
}

func init() {
	matchCmd.Flags().IntVar(&matchLimit, "limit", 5, "Maximum developers to show")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(matchCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(seedCmd)
}

// newAnalysisService builds an analysis service with the configured cache TTL.
func newAnalysisService(l *ledger.Ledger) *analysis.Service {
	return analysis.NewService(l, viper.GetDuration("analysis.cache_ttl"))
}

func analyzeRun(id string) error {
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
		a := analysis.Engine{}.Analyze(bug)
		ui.DryRunMsg("Would record analysis of %s: %s, %s complexity, estimate %s",
			shortID(bug.ID), a.Category, a.Complexity, output.Money(a.EstimatedBounty))
		return nil
	}

	a, err := newAnalysisService(l).Analyze(ctx, bug.ID)
	if err != nil {
		return fmt.Errorf("analyze bug: %w", err)
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(shortID(bug.ID)), bug.Title)
	fmt.Fprintf(ui.Out, "  Category:    %s\n", a.Category)
	fmt.Fprintf(ui.Out, "  Complexity:  %s (%.1f)\n", a.Complexity, a.ComplexityScore)
	fmt.Fprintf(ui.Out, "  Estimate:    %s (confidence %.1f%%)\n", output.Money(a.EstimatedBounty), a.ConfidenceScore)
	fmt.Fprintf(ui.Out, "  Priority:    %s\n", output.ScoreColor(a.PriorityScore))
	fmt.Fprintf(ui.Out, "  Impact:      users %.0f, severity %.0f, urgency %.0f, popularity %.0f\n",
		a.ImpactScore.UserImpact, a.ImpactScore.Severity, a.ImpactScore.Urgency, a.ImpactScore.Popularity)
	fmt.Fprintf(ui.Out, "  Summary:     %s\n", a.NLPSummary)
	if len(a.ErrorClusters) > 0 {
		fmt.Fprintf(ui.Out, "  Errors:      %s\n", strings.Join(a.ErrorClusters, ", "))
	}
	for _, insight := range a.LogInsights {
		fmt.Fprintf(ui.Out, "  - %s\n", insight)
	}

	if updated, err := l.GetBug(ctx, bug.ID); err == nil && updated.Bounty != bug.Bounty {
		ui.Success("Bounty set to %s from the estimate", output.Money(updated.Bounty))
	}
	return nil
}

func matchRun(id string) error {
	l, err := getLedger()
	if err != nil {
		return err
	}
	ctx := context.Background()

	bug, err := findBug(ctx, l, id)
	if err != nil {
		return err
	}

	matches, err := newAnalysisService(l).Matches(ctx, bug.ID)
	if err != nil {
		return fmt.Errorf("match developers: %w", err)
	}
	if len(matches) == 0 {
		ui.Info("No developers registered.")
		return nil
	}
	if matchLimit > 0 && len(matches) > matchLimit {
		matches = matches[:matchLimit]
	}

	table := ui.Table([]string{"Developer", "Name", "Match", "Success", "Resolved", "Skills"})
	for _, m := range matches {
		_ = table.Append([]string{
			m.ID,
			m.Name,
			output.ScoreColor(m.MatchScore),
			fmt.Sprintf("%.0f%%", m.SuccessRate),
			fmt.Sprintf("%d", m.BugsResolved),
			strings.Join(m.Skills, ", "),
		})
	}
	_ = table.Render()
	return nil
}

func statsRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	d, err := analytics.Build(context.Background(), s)
	if err != nil {
		return fmt.Errorf("build dashboard: %w", err)
	}

	fmt.Fprintf(ui.Out, "  Bugs:        %d (%d resolved, %.1f%%)\n", d.TotalBugs, d.ResolvedBugs, d.ResolvedPercentage)
	fmt.Fprintf(ui.Out, "  Funding:     %s raised\n", output.Money(d.TotalFunding))
	fmt.Fprintf(ui.Out, "  Avg bounty:  %s\n", output.Money(d.AverageBounty))

	var byStatus []string
	for _, st := range models.BugStatuses {
		byStatus = append(byStatus, fmt.Sprintf("%s %d", output.StatusColor(string(st)), d.BugsByStatus[st]))
	}
	fmt.Fprintf(ui.Out, "  By status:   %s\n", strings.Join(byStatus, ", "))

	var bySeverity []string
	for _, sev := range models.Severities {
		bySeverity = append(bySeverity, fmt.Sprintf("%s %d", sev, d.BugsBySeverity[sev]))
	}
	fmt.Fprintf(ui.Out, "  By severity: %s\n", strings.Join(bySeverity, ", "))

	if len(d.TopDevelopers) > 0 {
		fmt.Fprintln(ui.Out)
		table := ui.Table([]string{"Developer", "Name", "Resolved", "Success"})
		for _, u := range d.TopDevelopers {
			_ = table.Append([]string{u.ID, u.Name, fmt.Sprintf("%d", u.BugsResolved), fmt.Sprintf("%.0f%%", u.SuccessRate)})
		}
		_ = table.Render()
	}
	return nil
}

func seedRun() error {
	d, err := seed.Default()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would seed %d users, %d developers and %d bugs", len(d.Users), len(d.Developers), len(d.Bugs))
		return nil
	}

	l, err := getLedger()
	if err != nil {
		return err
	}

	res, err := seed.Apply(context.Background(), l, d)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	if res.Skipped {
		ui.Info("Store already has users, skipping seed.")
		return nil
	}
	ui.Success("Seeded %d users, %d developers, %d bugs", res.Users, res.Developers, res.Bugs)
	return nil
}
