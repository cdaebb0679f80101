// Command snipectl manages snipes from the shell. It talks to the same store
// and worker directory as the server, so it can also be run from cron in
// place of the built-in scheduler:
//
//	* * * * * snipectl tick
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/evetabi/snipe/internal/app"
	"github.com/evetabi/snipe/internal/config"
	"github.com/evetabi/snipe/internal/domain"
	"github.com/evetabi/snipe/internal/logging"
	"github.com/evetabi/snipe/internal/service"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var cliName = "snipectl"

// builder opens the application for one command invocation.
type builder func(ctx context.Context) (*app.App, error)

func main() {
	if err := newRootCmd(buildFromEnv).Execute(); err != nil {
		os.Exit(1)
	}
}

func buildFromEnv(ctx context.Context) (*app.App, error) {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.New(os.Stderr, cfg.IsProd(), os.Getenv("LOG_DEBUG") != "")
	return app.New(ctx, cfg, logger, app.Options{})
}

func newRootCmd(build builder) *cobra.Command {
	root := &cobra.Command{
		Use:   cliName,
		Short: "snipectl manages last-second auction bids",
		Long: `snipectl manages last-second auction bids.

Every snipe is one bidding worker process plus a task file and a log file in
WORK_DIR. Snipes can be grouped; once one member of a group wins, the others
are superseded and their workers stopped.

Configuration is read from the environment (and a .env file, if present).
`,
		SilenceUsage: true,
	}

	// run opens the app, hands it to fn and closes it again.
	run := func(fn func(ctx context.Context, a *app.App, out io.Writer, args []string) error) func(*cobra.Command, []string) error {
		return func(c *cobra.Command, args []string) error {
			ctx := c.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := build(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			return fn(ctx, a, c.OutOrStdout(), args)
		}
	}

	root.AddCommand(
		tickCmd(run),
		snipeCmd(run),
		listCmd(run),
		deleteCmd(run),
		purgeCmd(run),
		groupCmd(run),
		tokenCmd(run),
	)
	return root
}

type runner func(fn func(ctx context.Context, a *app.App, out io.Writer, args []string) error) func(*cobra.Command, []string) error

// ── Commands ──────────────────────────────────────────────────────────────────

func tickCmd(run runner) *cobra.Command {
	var asJSON bool
	c := &cobra.Command{
		Use:   "tick",
		Short: "Run one reconciliation pass",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *app.App, out io.Writer, _ []string) error {
			report, err := a.Reconcile.Tick(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(out).Encode(report)
			}
			fmt.Fprintf(out, "observed=%d updated=%d won=%d superseded=%d launched=%d terminated=%d files_removed=%d\n",
				report.Observed, report.Updated, report.Won, report.Superseded,
				report.Launched, report.Terminated, report.FilesRemoved)
			for _, ch := range report.Changes {
				fmt.Fprintf(out, "  %d: %s -> %s\n", ch.AuctionID, ch.From, ch.To)
			}
			for _, msg := range report.ErrorMessages() {
				fmt.Fprintf(out, "  error: %s\n", msg)
			}
			return nil
		}),
	}
	c.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return c
}

func snipeCmd(run runner) *cobra.Command {
	var group int64
	c := &cobra.Command{
		Use:   "snipe <auction-id> <bid>",
		Short: "Create a snipe or change its bid",
		Long: `Create a snipe or change its bid.

The bid accepts either '.' or ',' as the decimal separator. --group moves the
snipe into a group; --group 0 removes it from its group.`,
		Args: cobra.ExactArgs(2),
		RunE: run(func(ctx context.Context, a *app.App, out io.Writer, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var groupID *int64
			if group >= 0 {
				groupID = &group
			}
			auction, err := a.Snipes.PlaceSnipe(ctx, id, args[1], groupID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d %s %s\n", auction.ID, auction.Bid.String(), auction.Status)
			return nil
		}),
	}
	c.Flags().Int64Var(&group, "group", -1, "Group id (0 ungroups)")
	return c
}

func listCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List snipes",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *app.App, out io.Writer, _ []string) error {
			views, err := a.Snipes.List(ctx)
			if err != nil {
				return err
			}
			printAuctions(out, views)
			return nil
		}),
	}
}

func deleteCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <auction-id>",
		Short: "Stop a snipe and remove its record and files",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, a *app.App, out io.Writer, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.Snipes.Delete(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(out, "deleted %d\n", id)
			return nil
		}),
	}
}

func purgeCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete every snipe that is no longer running",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *app.App, out io.Writer, _ []string) error {
			n, err := a.Snipes.PurgeFinished(ctx)
			fmt.Fprintf(out, "removed %d\n", n)
			return err
		}),
	}
}

func groupCmd(run runner) *cobra.Command {
	c := &cobra.Command{
		Use:   "group",
		Short: "Manage snipe groups",
	}

	var notes string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a group",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, a *app.App, out io.Writer, args []string) error {
			g, err := a.Groups.Create(ctx, args[0], notes)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d %s\n", g.ID, g.Name)
			return nil
		}),
	}
	create.Flags().StringVar(&notes, "notes", "", "Free-form notes")

	list := &cobra.Command{
		Use:   "list",
		Short: "List groups with member counts",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *app.App, out io.Writer, _ []string) error {
			groups, err := a.Groups.List(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tMEMBERS\tRUNNING\tWON\tNOTES")
			for _, g := range groups {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%s\n", g.ID, g.Name, g.Members, g.Counts.Running, g.Counts.Won, g.Notes)
			}
			return tw.Flush()
		}),
	}

	setNotes := &cobra.Command{
		Use:   "notes <group-id> <notes>",
		Short: "Replace a group's notes",
		Args:  cobra.ExactArgs(2),
		RunE: run(func(ctx context.Context, a *app.App, out io.Writer, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if _, err := a.Groups.UpdateNotes(ctx, id, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(out, "updated %d\n", id)
			return nil
		}),
	}

	del := &cobra.Command{
		Use:   "delete <group-id>",
		Short: "Delete a group; its snipes are kept ungrouped",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, a *app.App, out io.Writer, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.Groups.Delete(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(out, "deleted group %d\n", id)
			return nil
		}),
	}

	c.AddCommand(create, list, setNotes, del)
	return c
}

func tokenCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "token <operator>",
		Short: "Issue an API token",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(_ context.Context, a *app.App, out io.Writer, args []string) error {
			tok, exp, err := a.Auth.IssueToken(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\nexpires %s\n", tok, exp.Format("2006-01-02 15:04:05 MST"))
			return nil
		}),
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func printAuctions(out io.Writer, views []*service.AuctionView) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tBID\tHIGHEST\tSTATUS\tGROUP\tEND\tLIVE")
	for _, v := range views {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%t\n",
			v.ID, v.Bid.String(), optDecimal(v.Auction), v.Status, optGroup(v.GroupID), optEnd(v.Auction), v.Live)
	}
	_ = tw.Flush()
}

func optDecimal(a *domain.Auction) string {
	if a.HighestBid == nil {
		return "-"
	}
	return a.HighestBid.String()
}

func optGroup(g *int64) string {
	if g == nil {
		return "-"
	}
	return strconv.FormatInt(*g, 10)
}

func optEnd(a *domain.Auction) string {
	if a.EndTime == nil {
		return "-"
	}
	return a.EndTime.Format("2006-01-02 15:04")
}
