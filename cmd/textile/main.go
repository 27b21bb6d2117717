package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"
	"unicode/utf8"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/textile/internal/alert"
	"github.com/matheus3301/textile/internal/app"
	"github.com/matheus3301/textile/internal/backup"
	"github.com/matheus3301/textile/internal/bus"
	"github.com/matheus3301/textile/internal/config"
	"github.com/matheus3301/textile/internal/export"
	"github.com/matheus3301/textile/internal/importer"
	"github.com/matheus3301/textile/internal/policy"
	"github.com/matheus3301/textile/internal/profile"
	"github.com/matheus3301/textile/internal/store"
)

type globals struct {
	profile string
	cfg     *config.Config
	json    bool
	out     io.Writer
	now     func() time.Time
}

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default ~/.textile/config.toml)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfgPath := *configFlag
	if cfgPath == "" {
		cfgPath = profile.ConfigPath()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fail(err)
	}

	g := &globals{profile: profile.Resolve(*profileFlag, cfg), cfg: cfg, json: *jsonFlag, out: os.Stdout, now: time.Now}
	if err := profile.ValidateName(g.profile); err != nil {
		fail(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, g, args[0], args[1:]); err != nil {
		stop()
		fail(err)
	}
}

func run(ctx context.Context, g *globals, cmd string, args []string) error {
	switch cmd {
	case "analyze":
		return cmdAnalyze(g, args)
	case "import":
		return cmdImport(ctx, g, args)
	case "split":
		return cmdSplit(ctx, g, args)
	case "truncate":
		return cmdTruncate(ctx, g, args)
	case "stats":
		return withApp(ctx, g, cmdStats)
	case "list":
		return cmdList(ctx, g, args)
	case "show":
		return cmdShow(ctx, g, args)
	case "delete":
		return cmdDelete(ctx, g, args)
	case "purge":
		return cmdPurge(ctx, g, args)
	case "export":
		return cmdExport(ctx, g, args)
	case "scan":
		return withApp(ctx, g, cmdScan)
	case "watch":
		return withApp(ctx, g, cmdWatch)
	case "bills":
		return cmdBills(ctx, g, args)
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: textile [--profile <name>] [--config <path>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  analyze <file>                      Recommend an import strategy")
	fmt.Fprintln(os.Stderr, "  import <file> [-strategy s] [-chunk-size n]")
	fmt.Fprintln(os.Stderr, "                                      Import a backup (auto, direct, chunked)")
	fmt.Fprintln(os.Stderr, "  split <file> [-per-file n]          Split a backup into smaller files")
	fmt.Fprintln(os.Stderr, "  truncate <file> [-keep n] [-force]  Keep only the most recent messages")
	fmt.Fprintln(os.Stderr, "  stats                               Show counts, insights and top senders")
	fmt.Fprintln(os.Stderr, "  list <category> [-days n] [-older-than d] [-limit n]")
	fmt.Fprintln(os.Stderr, "                                      List messages of one category, newest first")
	fmt.Fprintln(os.Stderr, "  show <id>                           Show one message")
	fmt.Fprintln(os.Stderr, "  delete <id>...                      Delete selected messages")
	fmt.Fprintln(os.Stderr, "  purge category <name> [-dry-run]    Delete one category")
	fmt.Fprintln(os.Stderr, "  purge older <days> [-dry-run]       Delete messages older than days")
	fmt.Fprintln(os.Stderr, "  purge all -yes [-dry-run]           Delete all messages and bills")
	fmt.Fprintln(os.Stderr, "  export csv|json|summary [-out path] Export messages ('-' for stdout)")
	fmt.Fprintln(os.Stderr, "  scan                                Report new urgent messages")
	fmt.Fprintln(os.Stderr, "  watch                               Scan for urgent messages periodically")
	fmt.Fprintln(os.Stderr, "  bills [list|refresh|pay <id>]       Track bills from upcoming messages")
}

// fail prints err with any remediation hints and exits.
func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	if remedies := policy.Remedies(err); len(remedies) > 0 {
		fmt.Fprintln(os.Stderr, "\nwhat you can do:")
		for _, r := range remedies {
			fmt.Fprintf(os.Stderr, "  - %s\n", r)
		}
	}
	os.Exit(1)
}

// withApp builds the profile's components, runs fn and shuts down.
func withApp(ctx context.Context, g *globals, fn func(context.Context, *globals, *app.Components) error) error {
	var c app.Components
	a := fx.New(
		app.Module(app.Params{Profile: g.profile, Config: g.cfg}),
		fx.NopLogger,
		fx.Populate(&c),
	)
	if err := a.Err(); err != nil {
		return unwrapFx(err)
	}
	if err := a.Start(ctx); err != nil {
		return unwrapFx(err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx)
	}()
	return fn(ctx, g, &c)
}

// unwrapFx strips the dependency graph's wrapping down to the first error
// that carries remedies, so the user sees the actionable message.
func unwrapFx(err error) error {
	if len(policy.Remedies(err)) == 0 {
		return err
	}
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		if len(policy.Remedies(err)) > 0 && len(policy.Remedies(next)) == 0 {
			return err
		}
		err = next
	}
}

func parse(fs *flag.FlagSet, args []string, positional int, usage string) ([]string, error) {
	// Allow flags after positional arguments: textile import file.xml -strategy chunked
	var pos []string
	for len(args) > 0 {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) > 0 {
			pos = append(pos, args[0])
			args = args[1:]
		}
	}
	if len(pos) < positional {
		return nil, fmt.Errorf("usage: textile %s", usage)
	}
	return pos, nil
}

func cmdAnalyze(g *globals, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	pos, err := parse(fs, args, 1, "analyze <file>")
	if err != nil {
		return err
	}
	src := backup.NewFile(pos[0])
	size, err := src.Size()
	if err != nil {
		return policy.Fatal("analyze", err, "Check that the backup file exists and is readable")
	}
	limits := g.cfg.Limits.Policy()
	rec := limits.Recommend(size)
	if g.json {
		return outputJSON(g.out, rec)
	}
	fmt.Fprintf(g.out, "File:      %s\n", src.Base())
	fmt.Fprintf(g.out, "Size:      %.1f MB\n", rec.SizeMB)
	fmt.Fprintf(g.out, "Messages:  ~%d\n", rec.EstimatedMessages)
	fmt.Fprintf(g.out, "Strategy:  %s\n", rec.Strategy)
	fmt.Fprintf(g.out, "Reason:    %s\n", rec.Reason)
	if limits.Risky(size) {
		fmt.Fprintln(g.out, "Warning:   file is close to the memory ceiling")
	}
	return nil
}

func cmdImport(ctx context.Context, g *globals, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	strategyFlag := fs.String("strategy", "auto", "auto, direct or chunked")
	chunkSize := fs.Int("chunk-size", 0, "records per chunk (default from config)")
	pos, err := parse(fs, args, 1, "import <file> [-strategy s] [-chunk-size n]")
	if err != nil {
		return err
	}
	strategy, err := policy.ParseStrategy(*strategyFlag)
	if err != nil {
		return err
	}
	if *chunkSize > 0 {
		g.cfg.Import.ChunkSize = *chunkSize
	}

	return withApp(ctx, g, func(ctx context.Context, g *globals, c *app.Components) error {
		done := printProgress(c.Bus, g.json)
		stats, err := c.Importer.ImportFile(ctx, backup.NewFile(pos[0]), strategy)
		done()
		if err != nil {
			return err
		}
		if _, err := c.Bills.Refresh(); err != nil {
			c.Logger.Warn("bill refresh failed after import", zap.Error(err))
		}
		if g.json {
			return outputJSON(g.out, stats)
		}
		printStats(g.out, stats)
		return nil
	})
}

// printProgress renders import events on stderr until the returned function
// is called.
func printProgress(b *bus.Bus, quiet bool) func() {
	ch, unsub := b.Subscribe("import.", 256)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for evt := range ch {
			if quiet {
				continue
			}
			switch p := evt.Payload.(type) {
			case importer.Progress:
				fmt.Fprintf(os.Stderr, "%s (%d%%)\n", p.Message, p.Percent)
			case bus.Warning:
				fmt.Fprintf(os.Stderr, "warning: %s\n", p.Message)
			}
		}
	}()
	return func() {
		unsub()
		<-finished
	}
}

func printStats(w io.Writer, s *importer.Stats) {
	fmt.Fprintf(w, "Total:      %d\n", s.Total)
	fmt.Fprintf(w, "Imported:   %d\n", s.Imported)
	fmt.Fprintf(w, "Duplicates: %d\n", s.Duplicates)
	fmt.Fprintf(w, "Failed:     %d\n", s.Failed)
	fmt.Fprintf(w, "Chunks:     %d\n", s.TotalChunks)
}

func cmdSplit(ctx context.Context, g *globals, args []string) error {
	fs := flag.NewFlagSet("split", flag.ContinueOnError)
	perFile := fs.Int("per-file", g.cfg.Import.SplitSize, "messages per output file")
	pos, err := parse(fs, args, 1, "split <file> [-per-file n]")
	if err != nil {
		return err
	}
	return withApp(ctx, g, func(ctx context.Context, g *globals, c *app.Components) error {
		files, err := c.Rewriter.SplitFile(ctx, backup.NewFile(pos[0]), *perFile)
		if err != nil {
			return err
		}
		if g.json {
			return outputJSON(g.out, map[string]any{"files": files})
		}
		fmt.Fprintf(g.out, "Wrote %d files:\n", len(files))
		for _, f := range files {
			fmt.Fprintf(g.out, "  %s\n", f)
		}
		fmt.Fprintln(g.out, "Import them one at a time with 'textile import <file>'.")
		return nil
	})
}

func cmdTruncate(ctx context.Context, g *globals, args []string) error {
	fs := flag.NewFlagSet("truncate", flag.ContinueOnError)
	keep := fs.Int("keep", g.cfg.Import.TruncateKeep, "most recent messages to keep")
	force := fs.Bool("force", false, "proceed for files close to the memory ceiling")
	pos, err := parse(fs, args, 1, "truncate <file> [-keep n] [-force]")
	if err != nil {
		return err
	}
	return withApp(ctx, g, func(ctx context.Context, g *globals, c *app.Components) error {
		done := printProgress(c.Bus, g.json)
		out, err := c.Rewriter.TruncateFile(ctx, backup.NewFile(pos[0]), *keep, *force)
		done()
		if err != nil {
			return err
		}
		if g.json {
			return outputJSON(g.out, map[string]any{"file": out, "changed": out != pos[0]})
		}
		if out == pos[0] {
			fmt.Fprintf(g.out, "%s already has %d messages or fewer; nothing to do.\n", out, *keep)
			return nil
		}
		fmt.Fprintf(g.out, "Wrote %s\n", out)
		return nil
	})
}

type statsOutput struct {
	Profile    string               `json:"profile"`
	Summary    *store.Summary       `json:"summary"`
	Insights   *store.Insights      `json:"insights"`
	LastImport *importer.LastImport `json:"last_import,omitempty"`
}

func cmdStats(_ context.Context, g *globals, c *app.Components) error {
	s, err := c.DB.Summary()
	if err != nil {
		return err
	}
	in, err := c.DB.Insights(g.now())
	if err != nil {
		return err
	}
	last, err := importer.ReadLastImport(c.DB)
	if err != nil {
		return err
	}
	if g.json {
		return outputJSON(g.out, statsOutput{Profile: g.profile, Summary: s, Insights: in, LastImport: last})
	}
	fmt.Fprintf(g.out, "Profile: %s\n\n", g.profile)
	if err := export.WriteSummary(g.out, s, time.Local); err != nil {
		return err
	}
	printInsights(g.out, in)
	if last != nil {
		fmt.Fprintf(g.out, "\nLast import: %s (%d imported, %d duplicates, %d failed)\n",
			time.UnixMilli(last.At).Format(time.DateTime),
			last.Stats.Imported, last.Stats.Duplicates, last.Stats.Failed)
	}
	actions, err := c.DB.ListActions(5)
	if err != nil {
		return err
	}
	if len(actions) > 0 {
		fmt.Fprintln(g.out, "\nRecent actions:")
		for _, a := range actions {
			fmt.Fprintf(g.out, "  %s  %-16s %6d  %s\n",
				time.UnixMilli(a.Timestamp).Format(time.DateTime), a.Type, a.ItemsAffected, a.Details)
		}
	}
	return nil
}

func cmdExport(ctx context.Context, g *globals, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	out := fs.String("out", "", "output path, '-' for stdout (default: profile output dir)")
	pos, err := parse(fs, args, 1, "export csv|json|summary [-out path]")
	if err != nil {
		return err
	}
	format, err := export.ParseFormat(pos[0])
	if err != nil {
		return err
	}
	path := *out
	if path == "" {
		path = filepath.Join(profile.OutputDir(g.profile), export.FileName(format, g.now()))
	}

	return withApp(ctx, g, func(_ context.Context, g *globals, c *app.Components) error {
		w := g.out
		if path != "-" {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()
			w = f
		}
		n, err := c.Exporter.Write(w, format)
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Fprintln(os.Stderr, "No messages to export. Import some messages first.")
		}
		if path != "-" {
			fmt.Fprintf(os.Stderr, "Exported %d messages to %s\n", n, path)
		}
		return nil
	})
}

func cmdScan(ctx context.Context, g *globals, c *app.Components) error {
	found, err := c.Scanner.ScanOnce(ctx)
	if err != nil {
		return err
	}
	if g.json {
		if found == nil {
			found = []alert.Urgent{}
		}
		return outputJSON(g.out, found)
	}
	if len(found) == 0 {
		fmt.Fprintln(g.out, "No new urgent messages.")
		return nil
	}
	printUrgent(g.out, found)
	return nil
}

func cmdWatch(ctx context.Context, g *globals, c *app.Components) error {
	ch, unsub := c.Bus.Subscribe(bus.AlertUrgent, 16)
	defer unsub()

	c.Scanner.Start(ctx)
	fmt.Fprintln(os.Stderr, "Watching for urgent messages; press Ctrl-C to stop.")
	for {
		select {
		case evt := <-ch:
			if found, ok := evt.Payload.([]alert.Urgent); ok {
				printUrgent(g.out, found)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func printUrgent(w io.Writer, found []alert.Urgent) {
	for _, u := range found {
		fmt.Fprintf(w, "[%s] %s (%s): %s\n", time.UnixMilli(u.Time).Format(time.DateTime), u.Sender, u.Reason, clip(u.Body, 100))
	}
}

// clip shortens s to at most n runes, marking the cut with an ellipsis.
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}

func cmdBills(ctx context.Context, g *globals, args []string) error {
	fs := flag.NewFlagSet("bills", flag.ContinueOnError)
	status := fs.String("status", "unpaid", "unpaid, paid or all")
	pos, err := parse(fs, args, 0, "bills [list|refresh|pay <id>] [-status s]")
	if err != nil {
		return err
	}
	sub := "list"
	if len(pos) > 0 {
		sub = pos[0]
	}

	return withApp(ctx, g, func(_ context.Context, g *globals, c *app.Components) error {
		switch sub {
		case "refresh":
			n, err := c.Bills.Refresh()
			if err != nil {
				return err
			}
			fmt.Fprintf(g.out, "Tracked %d bills.\n", n)
			return nil
		case "pay":
			if len(pos) < 2 {
				return fmt.Errorf("usage: textile bills pay <id>")
			}
			id, err := strconv.ParseInt(pos[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid bill id %q", pos[1])
			}
			if err := c.Bills.Pay(id); err != nil {
				return err
			}
			fmt.Fprintf(g.out, "Bill %d marked as paid.\n", id)
			return nil
		case "list":
			list, err := c.Bills.List(*status)
			if err != nil {
				return err
			}
			if g.json {
				return outputJSON(g.out, list)
			}
			if len(list) == 0 {
				fmt.Fprintln(g.out, "No bills. Run 'textile bills refresh' after importing.")
				return nil
			}
			for _, b := range list {
				fmt.Fprintf(g.out, "%4d  %-11s %10.2f  due %s  %-6s  %s\n", b.ID, b.BillType, b.Amount,
					time.UnixMilli(b.DueDate).Format(time.DateOnly), b.Status, b.Sender)
			}
			return nil
		default:
			return fmt.Errorf("unknown bills command: %s", sub)
		}
	})
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
