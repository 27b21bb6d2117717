package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/matheus3301/textile/internal/app"
	"github.com/matheus3301/textile/internal/classify"
	"github.com/matheus3301/textile/internal/store"
)

type messageView struct {
	ID       int64  `json:"id"`
	Category string `json:"category"`
	Sender   string `json:"sender"`
	Body     string `json:"body"`
	Time     string `json:"time"`
	ThreadID string `json:"thread_id,omitempty"`
}

func viewOf(m store.Message) messageView {
	return messageView{
		ID:       m.ID,
		Category: m.Category,
		Sender:   m.Sender,
		Body:     m.Body,
		Time:     time.UnixMilli(m.Time).Format(time.DateTime),
		ThreadID: m.ThreadID,
	}
}

type listOptions struct {
	category  classify.Category
	days      int
	olderThan time.Duration
	limit     int
}

func cmdList(ctx context.Context, g *globals, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	days := fs.Int("days", 0, "only the last n days (7, 30, 90...; 0 for all time)")
	olderThan := fs.Duration("older-than", 0, "only messages older than this age, e.g. 10m or 48h")
	limit := fs.Int("limit", 50, "maximum messages to show (0 for no limit)")
	pos, err := parse(fs, args, 1, "list <category> [-days n] [-older-than d] [-limit n]")
	if err != nil {
		return err
	}
	cat, err := classify.ParseCategory(pos[0])
	if err != nil {
		return err
	}
	if *days < 0 || *olderThan < 0 || *limit < 0 {
		return fmt.Errorf("-days, -older-than and -limit must not be negative")
	}
	opts := listOptions{category: cat, days: *days, olderThan: *olderThan, limit: *limit}
	return withApp(ctx, g, func(_ context.Context, g *globals, c *app.Components) error {
		return runList(g, c.DB, opts)
	})
}

func runList(g *globals, db *store.DB, opts listOptions) error {
	now := g.now()
	f := store.Filter{Category: string(opts.category), Limit: opts.limit}
	if opts.days > 0 {
		f.Since = now.AddDate(0, 0, -opts.days).UnixMilli()
	}
	if opts.olderThan > 0 {
		f.Until = now.Add(-opts.olderThan).UnixMilli()
	}
	msgs, err := db.ListMessages(f)
	if err != nil {
		return err
	}

	if g.json {
		views := make([]messageView, len(msgs))
		for i, m := range msgs {
			views[i] = viewOf(m)
		}
		return outputJSON(g.out, views)
	}
	if len(msgs) == 0 {
		fmt.Fprintf(g.out, "No %s messages in range.\n", opts.category)
		return nil
	}
	for _, m := range msgs {
		fmt.Fprintf(g.out, "%6d  %s  %-16s %s\n", m.ID,
			time.UnixMilli(m.Time).Format(time.DateTime), clip(m.Sender, 16), clip(m.Body, 60))
	}
	if opts.limit > 0 && len(msgs) == opts.limit {
		fmt.Fprintf(g.out, "(showing the newest %d; use -limit to see more)\n", opts.limit)
	}
	return nil
}

func cmdShow(ctx context.Context, g *globals, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	pos, err := parse(fs, args, 1, "show <id>")
	if err != nil {
		return err
	}
	ids, err := parseIDs(pos[:1])
	if err != nil {
		return err
	}
	return withApp(ctx, g, func(_ context.Context, g *globals, c *app.Components) error {
		return runShow(g, c.DB, ids[0])
	})
}

func runShow(g *globals, db *store.DB, id int64) error {
	m, err := db.GetMessage(id)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("message %d not found", id)
	}
	v := viewOf(*m)
	if g.json {
		return outputJSON(g.out, v)
	}
	fmt.Fprintf(g.out, "ID:        %d\n", v.ID)
	fmt.Fprintf(g.out, "Category:  %s\n", v.Category)
	fmt.Fprintf(g.out, "Sender:    %s\n", v.Sender)
	fmt.Fprintf(g.out, "Time:      %s\n", v.Time)
	if v.ThreadID != "" {
		fmt.Fprintf(g.out, "Thread:    %s\n", v.ThreadID)
	}
	fmt.Fprintf(g.out, "\n%s\n", v.Body)
	return nil
}

func cmdDelete(ctx context.Context, g *globals, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	pos, err := parse(fs, args, 1, "delete <id>...")
	if err != nil {
		return err
	}
	ids, err := parseIDs(pos)
	if err != nil {
		return err
	}
	return withApp(ctx, g, func(_ context.Context, g *globals, c *app.Components) error {
		return runDelete(g, c.DB, ids)
	})
}

func runDelete(g *globals, db *store.DB, ids []int64) error {
	n, err := db.DeleteIDs(ids...)
	if err != nil {
		return err
	}
	if g.json {
		return outputJSON(g.out, map[string]int64{"deleted": n})
	}
	fmt.Fprintf(g.out, "Deleted %d of %d messages.\n", n, len(ids))
	return nil
}

// parseIDs reads message ids, dropping repeats.
func parseIDs(args []string) ([]int64, error) {
	seen := make(map[int64]bool, len(args))
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid message id %q", a)
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// purgePlan pairs a bulk delete with the count that previews it.
type purgePlan struct {
	what  string // completes "N messages ..."
	all   bool
	count func(*store.DB) (int64, error)
	run   func(*store.DB) (int64, error)
}

const purgeUsage = "purge category <name> | older <days> | all -yes [-dry-run]"

func planPurge(pos []string, now time.Time) (*purgePlan, error) {
	usage := fmt.Errorf("usage: textile %s", purgeUsage)
	if len(pos) == 0 {
		return nil, usage
	}
	switch pos[0] {
	case "category":
		if len(pos) < 2 {
			return nil, usage
		}
		cat, err := classify.ParseCategory(pos[1])
		if err != nil {
			return nil, err
		}
		return &purgePlan{
			what:  fmt.Sprintf("in category %s", cat),
			count: func(db *store.DB) (int64, error) { return db.CountByCategory(string(cat)) },
			run:   func(db *store.DB) (int64, error) { return db.DeleteByCategory(string(cat)) },
		}, nil
	case "older":
		if len(pos) < 2 {
			return nil, usage
		}
		days, err := strconv.Atoi(pos[1])
		if err != nil || days <= 0 {
			return nil, fmt.Errorf("days must be a positive number, got %q", pos[1])
		}
		cutoff := now.AddDate(0, 0, -days).UnixMilli()
		return &purgePlan{
			what:  fmt.Sprintf("older than %d days", days),
			count: func(db *store.DB) (int64, error) { return db.CountOlderThan(cutoff) },
			run:   func(db *store.DB) (int64, error) { return db.DeleteOlderThan(cutoff) },
		}, nil
	case "all":
		return &purgePlan{
			what:  "and all bills",
			all:   true,
			count: (*store.DB).CountAll,
			run:   (*store.DB).DeleteAll,
		}, nil
	default:
		return nil, usage
	}
}

func cmdPurge(ctx context.Context, g *globals, args []string) error {
	fs := flag.NewFlagSet("purge", flag.ContinueOnError)
	yes := fs.Bool("yes", false, "confirm deleting everything")
	dryRun := fs.Bool("dry-run", false, "only count what would be deleted")
	pos, err := parse(fs, args, 1, purgeUsage)
	if err != nil {
		return err
	}
	plan, err := planPurge(pos, g.now())
	if err != nil {
		return err
	}
	if plan.all && !*yes && !*dryRun {
		return fmt.Errorf("refusing to delete everything without -yes (preview with -dry-run)")
	}
	return withApp(ctx, g, func(_ context.Context, g *globals, c *app.Components) error {
		return runPurge(g, c.DB, plan, *dryRun)
	})
}

func runPurge(g *globals, db *store.DB, plan *purgePlan, dryRun bool) error {
	if dryRun {
		n, err := plan.count(db)
		if err != nil {
			return err
		}
		if g.json {
			return outputJSON(g.out, map[string]int64{"would_delete": n})
		}
		fmt.Fprintf(g.out, "Would delete %d messages %s.\n", n, plan.what)
		return nil
	}
	n, err := plan.run(db)
	if err != nil {
		return err
	}
	if g.json {
		return outputJSON(g.out, map[string]int64{"deleted": n})
	}
	fmt.Fprintf(g.out, "Deleted %d messages %s.\n", n, plan.what)
	return nil
}

func printInsights(w io.Writer, in *store.Insights) {
	if in.Total == 0 {
		return
	}
	fmt.Fprintln(w, "\nInsights:")
	fmt.Fprintf(w, "  Bills due this week: %d\n", in.BillsDueThisWeek)
	fmt.Fprintf(w, "  Expired OTPs:        %d\n", in.ExpiredOTPs)
	fmt.Fprintf(w, "  Spam today:          %d\n", in.SpamToday)
	if in.ExpiredOTPs > 0 {
		fmt.Fprintln(w, "  Clear expired OTPs with 'textile purge category expired'.")
	}
}
