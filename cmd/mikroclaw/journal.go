// ABOUTME: history and audit commands reading the SQLite journal
// ABOUTME: Parses simple --flag value arguments and prints aligned tables

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/mikroclaw/mikroclaw/internal/store"
)

// parseFlags accepts "--name value" and "--name=value" for the given names.
func parseFlags(args []string, names ...string) (map[string]string, error) {
	out := make(map[string]string)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if !slices.Contains(names, name) {
			return nil, fmt.Errorf("unknown flag: %s", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--%s requires a value", name)
			}
			value = args[i+1]
			i++
		}
		out[name] = value
	}
	return out, nil
}

func parseLimit(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return n, nil
}

func openJournal() (*store.SQLiteStore, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return s, nil
}

func runHistory(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, "limit")
	if err != nil {
		return err
	}
	limit, err := parseLimit(flags["limit"])
	if err != nil {
		return err
	}

	s, err := openJournal()
	if err != nil {
		return err
	}
	defer s.Close()

	records, err := s.ListTaskRecords(ctx, limit)
	if err != nil {
		return err
	}
	printHistory(os.Stdout, records)
	return nil
}

func printHistory(w io.Writer, records []store.TaskRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "no finished tasks")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tTYPE\tSTATUS\tCOMPLETED\tRESULT")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Type, statusColor(r.Status), r.CompletedAt.Local().Format(time.DateTime), firstLine(r.Result, 60))
	}
	_ = tw.Flush()
}

func runAudit(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, "event", "ip", "since", "limit")
	if err != nil {
		return err
	}

	var filter store.AuditFilter
	if filter.Limit, err = parseLimit(flags["limit"]); err != nil {
		return err
	}
	if ev, ok := flags["event"]; ok {
		event := store.AuditEvent(ev)
		if !slices.Contains(store.ValidAuditEvents, event) {
			return fmt.Errorf("unknown event %q", ev)
		}
		filter.Event = &event
	}
	if ip, ok := flags["ip"]; ok {
		filter.ClientIP = &ip
	}
	if since, ok := flags["since"]; ok {
		d, err := time.ParseDuration(since)
		if err != nil || d <= 0 {
			return fmt.Errorf("since must be a positive duration like 1h or 30m")
		}
		t := time.Now().Add(-d)
		filter.Since = &t
	}

	s, err := openJournal()
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := s.ListAuditLog(ctx, filter)
	if err != nil {
		return err
	}
	printAudit(os.Stdout, entries)
	return nil
}

func printAudit(w io.Writer, entries []store.AuditEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no audit entries")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tEVENT\tCLIENT\tDETAIL")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime), e.Event, e.ClientIP, e.Detail)
	}
	_ = tw.Flush()
}

func statusColor(status string) string {
	switch status {
	case "complete":
		return color.GreenString(status)
	case "failed":
		return color.RedString(status)
	default:
		return color.YellowString(status)
	}
}

// firstLine returns the first line of s, cut to at most n runes.
func firstLine(s string, n int) string {
	s, _, _ = strings.Cut(s, "\n")
	r := []rune(s)
	if len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}
