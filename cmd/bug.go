package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/bounty/internal/ledger"
	"github.com/joescharf/bounty/internal/models"
	"github.com/joescharf/bounty/internal/output"
	"github.com/joescharf/bounty/internal/store"
)

var (
	bugTitle       string
	bugDesc        string
	bugRepo        string
	bugLogs        string
	bugExpected    string
	bugSeverity    string
	bugStatus      string
	bugTag         string
	bugTags        []string
	bugMine        bool
	bugAssignedDev string
)

var bugCmd = &cobra.Command{
	Use:   "bug",
	Short: "Report and browse bugs",
	Long:  "Report bugs, browse the board and set bounties.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugListRun()
	},
}

var bugListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List bugs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugListRun()
	},
}

var bugShowCmd = &cobra.Command{
	Use:   "show <bug-id>",
	Short: "Show bug details and contributions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugShowRun(args[0])
	},
}

var bugReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Report a new bug",
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugReportRun()
	},
}

var bugBountyCmd = &cobra.Command{
	Use:   "bounty <bug-id> <amount>",
	Short: "Set the bounty goal of an Open or Funded bug",
	Long:  "Set the bounty goal. A bounty can only be set once; reaching it with funding marks the bug Funded.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseAmount(args[1])
		if err != nil {
			return err
		}
		return bugBountyRun(args[0], amount)
	},
}

func init() {
	bugReportCmd.Flags().StringVar(&bugTitle, "title", "", "Bug title (required)")
	bugReportCmd.Flags().StringVar(&bugDesc, "desc", "", "What goes wrong (required)")
	bugReportCmd.Flags().StringVar(&bugRepo, "repo", "", "Repository URL")
	bugReportCmd.Flags().StringVar(&bugLogs, "logs", "", "Relevant log output")
	bugReportCmd.Flags().StringVar(&bugExpected, "expected", "", "Expected behavior")
	bugReportCmd.Flags().StringVar(&bugSeverity, "severity", "Medium", "Severity: Low, Medium, High, Critical")
	bugReportCmd.Flags().StringSliceVar(&bugTags, "tag", nil, "Tag to apply (repeatable)")
	_ = bugReportCmd.MarkFlagRequired("title")
	_ = bugReportCmd.MarkFlagRequired("desc")

	bugListCmd.Flags().StringVar(&bugStatus, "status", "", "Filter by status: Open, Funded, Claimed, In Review, Resolved")
	bugListCmd.Flags().StringVar(&bugSeverity, "severity", "", "Filter by severity")
	bugListCmd.Flags().StringVar(&bugTag, "tag", "", "Filter by tag")
	bugListCmd.Flags().BoolVar(&bugMine, "mine", false, "Only bugs reported by the current identity")
	bugListCmd.Flags().StringVar(&bugAssignedDev, "developer", "", "Only bugs assigned to this developer")

	bugCmd.AddCommand(bugListCmd)
	bugCmd.AddCommand(bugShowCmd)
	bugCmd.AddCommand(bugReportCmd)
	bugCmd.AddCommand(bugBountyCmd)
	rootCmd.AddCommand(bugCmd)
}

func bugListRun() error {
	l, err := getLedger()
	if err != nil {
		return err
	}
	ctx := context.Background()

	filter := store.BugListFilter{
		Status:      models.BugStatus(bugStatus),
		Severity:    models.Severity(bugSeverity),
		Tag:         bugTag,
		DeveloperID: bugAssignedDev,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return fmt.Errorf("unknown status %q", bugStatus)
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		return fmt.Errorf("unknown severity %q", bugSeverity)
	}
	if bugMine {
		id, err := callerID()
		if err != nil {
			return err
		}
		filter.AuthorID = id
	}

	bugs, err := l.ListBugs(ctx, filter)
	if err != nil {
		return err
	}

	if len(bugs) == 0 {
		ui.Info("No bugs found.")
		return nil
	}

	table := ui.Table([]string{"ID", "Title", "Status", "Severity", "Funding", "Backers"})
	for _, b := range bugs {
		_ = table.Append([]string{
			shortID(b.ID),
			b.Title,
			output.StatusColor(string(b.Status)),
			output.SeverityColor(string(b.Severity)),
			output.Progress(b.FundsRaised, b.Bounty),
			fmt.Sprintf("%d", b.Contributors),
		})
	}
	_ = table.Render()
	return nil
}

func bugShowRun(id string) error {
	l, err := getLedger()
	if err != nil {
		return err
	}
	ctx := context.Background()

	bug, err := findBug(ctx, l, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(shortID(bug.ID)), bug.Title)
	fmt.Fprintf(ui.Out, "  Status:     %s\n", output.StatusColor(string(bug.Status)))
	fmt.Fprintf(ui.Out, "  Severity:   %s\n", output.SeverityColor(string(bug.Severity)))
	fmt.Fprintf(ui.Out, "  Bounty:     %s\n", output.Money(bug.Bounty))
	fmt.Fprintf(ui.Out, "  Raised:     %s from %d backers\n", output.Money(bug.FundsRaised), bug.Contributors)
	fmt.Fprintf(ui.Out, "  Author:     %s\n", bug.AuthorID)
	if bug.AssignedDeveloperID != "" {
		fmt.Fprintf(ui.Out, "  Developer:  %s\n", bug.AssignedDeveloperID)
	}
	if bug.RepoLink != "" {
		fmt.Fprintf(ui.Out, "  Repo:       %s\n", bug.RepoLink)
	}
	if len(bug.Tags) > 0 {
		fmt.Fprintf(ui.Out, "  Tags:       %s\n", strings.Join(bug.Tags, ", "))
	}
	if bug.Category != "" {
		fmt.Fprintf(ui.Out, "  Category:   %s (%s complexity)\n", bug.Category, bug.Complexity)
	}
	if bug.AIScore != nil {
		fmt.Fprintf(ui.Out, "  Priority:   %s\n", output.ScoreColor(*bug.AIScore))
	}
	fmt.Fprintf(ui.Out, "  Desc:       %s\n", bug.Description)
	if bug.ExpectedBehavior != "" {
		fmt.Fprintf(ui.Out, "  Expected:   %s\n", bug.ExpectedBehavior)
	}
	if next := ledger.Allowed(bug.Status); len(next) > 0 {
		names := make([]string, len(next))
		for i, ev := range next {
			names[i] = string(ev)
		}
		fmt.Fprintf(ui.Out, "  Next:       %s\n", strings.Join(names, ", "))
	}
	fmt.Fprintf(ui.Out, "  Created:    %s\n", bug.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(ui.Out, "  Full ID:    %s\n", bug.ID)

	contributions, err := l.Contributions(ctx, bug.ID)
	if err != nil {
		return err
	}
	if len(contributions) > 0 {
		fmt.Fprintln(ui.Out)
		table := ui.Table([]string{"Funder", "Amount", "When"})
		for _, c := range contributions {
			_ = table.Append([]string{c.FunderID, output.Money(c.Amount), c.CreatedAt.Format(time.RFC3339)})
		}
		_ = table.Render()
	}
	return nil
}

func bugReportRun() error {
	author, err := callerID()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would report bug: %s [%s]", bugTitle, bugSeverity)
		return nil
	}

	l, err := getLedger()
	if err != nil {
		return err
	}

	bug, err := l.CreateBug(context.Background(), models.BugDraft{
		Title:            bugTitle,
		Description:      bugDesc,
		RepoLink:         bugRepo,
		Logs:             bugLogs,
		Tags:             bugTags,
		Severity:         models.Severity(bugSeverity),
		ExpectedBehavior: bugExpected,
		AuthorID:         author,
	})
	if err != nil {
		return fmt.Errorf("report bug: %w", err)
	}

	ui.Success("Reported bug %s: %s", output.Cyan(shortID(bug.ID)), bug.Title)
	return nil
}

func bugBountyRun(id string, amount float64) error {
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
		ui.DryRunMsg("Would set bounty of %s to %s", shortID(bug.ID), output.Money(amount))
		return nil
	}

	updated, err := l.SetBounty(ctx, bug.ID, amount)
	if err != nil {
		return fmt.Errorf("set bounty: %w", err)
	}

	ui.Success("Bounty for %s set to %s (%s)", output.Cyan(shortID(updated.ID)),
		output.Money(updated.Bounty), output.StatusColor(string(updated.Status)))
	return nil
}
