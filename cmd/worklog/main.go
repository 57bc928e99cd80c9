package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pbaille/worklog/internal/api"
	"github.com/pbaille/worklog/internal/config"
	"github.com/pbaille/worklog/internal/domain"
	"github.com/pbaille/worklog/internal/logger"
	"github.com/pbaille/worklog/internal/matching"
	"github.com/pbaille/worklog/internal/recorder"
	"github.com/pbaille/worklog/internal/scoring"
	"github.com/pbaille/worklog/internal/semantic"
	"github.com/pbaille/worklog/internal/store"
)

var (
	dbPath string
	userID string
	cfg    *config.Config
	log    zerolog.Logger
)

func main() {
	var err error
	cfg, err = config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log = logger.New("worklog", cfg.LogLevel)

	rootCmd := &cobra.Command{
		Use:          "worklog",
		Short:        "Activity log with automatic start/end pairing",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", cfg.DBPath, "database path")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", cfg.UserID, "user id")

	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(unmatchedCmd())
	rootCmd.AddCommand(candidatesCmd())
	rootCmd.AddCommand(matchCmd())
	rootCmd.AddCommand(durationsCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if domain.CodeOf(err) != "" {
			fmt.Fprintln(os.Stderr, domain.UserMessage(err))
		}
		os.Exit(1)
	}
}

// app bundles everything a command needs
type app struct {
	store    *store.Store
	matcher  *matching.Coordinator
	recorder *recorder.Recorder
}

func (a *app) Close() error {
	return a.store.Close()
}

func getApp() (*app, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	s, err := store.New(dbPath)
	if err != nil {
		return nil, err
	}

	provider, err := semantic.New(cfg.Semantic())
	if err != nil {
		// Keyword scoring still works
		log.Warn().Err(err).Str("provider", cfg.SemanticProvider).Msg("semantic provider disabled")
	}

	scorer := scoring.New(cfg.Strategy(), provider, cfg.SemanticTimeout, log)
	m := matching.New(s, scorer, cfg.MatchingOptions(), log)
	return &app{
		store:    s,
		matcher:  m,
		recorder: recorder.New(s, m, cfg.Timezone, log),
	}, nil
}

// resolve expands an id prefix to one of the user's entries
func (a *app) resolve(ctx context.Context, prefix string) (string, error) {
	id, err := a.store.ResolveID(ctx, userID, prefix)
	if err != nil {
		return "", fmt.Errorf("entry %s: %w", prefix, err)
	}
	return id, nil
}

func addCmd() *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "add [content]",
		Short: "Record an activity",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args, " ")

			var ts time.Time
			if at != "" {
				var err error
				ts, err = time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
			}

			a, err := getApp()
			if err != nil {
				return err
			}
			defer a.Close()

			entry, err := a.recorder.Record(cmd.Context(), userID, content, ts)
			if err != nil {
				return err
			}

			fmt.Printf("Added entry: %s (%s)\n", entry.ID[:8], entry.LogType)
			fmt.Printf("Content: %s\n", truncate(entry.Content, 80))
			if entry.MatchStatus == domain.Matched && entry.MatchedLogID != nil {
				fmt.Printf("Matched with %s (score %.2f)\n", (*entry.MatchedLogID)[:8], deref(entry.SimilarityScore))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "timestamp in RFC3339 (default now)")
	return cmd
}

func listCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := getApp()
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.store.ListEntries(cmd.Context(), userID, limit, 0)
			if err != nil {
				return err
			}

			if len(entries) == 0 {
				fmt.Println("No entries yet. Use 'worklog add' to create one.")
				return nil
			}

			for _, e := range entries {
				printEntryLine(e)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show entry details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := getApp()
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			entry, err := a.store.EntryByID(cmd.Context(), id)
			if err != nil {
				return err
			}

			fmt.Printf("ID:       %s\n", entry.ID)
			fmt.Printf("At:       %s\n", entry.InputTimestamp.Format("2006-01-02 15:04:05"))
			fmt.Printf("Type:     %s (confidence %.1f)\n", entry.LogType, entry.Confidence)
			fmt.Printf("Activity: %s\n", entry.ActivityKey)
			if len(entry.Keywords) > 0 {
				fmt.Printf("Keywords: %s\n", strings.Join(entry.Keywords, ", "))
			}
			fmt.Printf("Status:   %s\n", entry.MatchStatus)
			if entry.MatchedLogID != nil {
				fmt.Printf("Matched:  %s (score %.2f)\n", *entry.MatchedLogID, deref(entry.SimilarityScore))
			}
			fmt.Printf("Content:\n%s\n", entry.Content)
			return nil
		},
	}
}

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search [query]",
		Short: "Search entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := getApp()
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.store.SearchEntries(cmd.Context(), userID, args[0])
			if err != nil {
				return err
			}

			if len(entries) == 0 {
				fmt.Println("No matching entries found.")
				return nil
			}

			for _, e := range entries {
				printEntryLine(e)
			}
			return nil
		},
	}
}

func unmatchedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unmatched",
		Short: "List start and end entries still waiting for a partner",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := getApp()
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.matcher.ListUnmatched(cmd.Context(), userID)
			if err != nil {
				return err
			}

			if len(entries) == 0 {
				fmt.Println("Nothing left to match.")
				return nil
			}

			for _, e := range entries {
				printEntryLine(e)
			}
			return nil
		},
	}
}

func candidatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "candidates [id]",
		Short: "Rank possible partners for an unmatched entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := getApp()
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			cands, err := a.matcher.FindCandidates(cmd.Context(), id, userID)
			if err != nil {
				return err
			}

			if len(cands) == 0 {
				fmt.Println("No candidates.")
				return nil
			}

			for _, c := range cands {
				e, err := a.store.EntryByID(cmd.Context(), c.LogID)
				if err != nil {
					return err
				}
				fmt.Printf("%s  %.2f  %s\n", c.LogID[:8], c.Score, truncate(e.Content, 50))
				fmt.Printf("          %s\n", c.Reason)
			}
			return nil
		},
	}
}

func matchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "match [start-id] [end-id]",
		Short: "Pair a start entry with an end entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := getApp()
			if err != nil {
				return err
			}
			defer a.Close()

			startID, err := a.resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			endID, err := a.resolve(cmd.Context(), args[1])
			if err != nil {
				return err
			}

			res, err := a.matcher.ManualMatch(cmd.Context(), startID, endID, userID)
			if err != nil {
				return err
			}

			fmt.Printf("Matched %s -> %s (%s)\n", res.Start.ID[:8], res.End.ID[:8],
				formatDuration(res.End.InputTimestamp.Sub(res.Start.InputTimestamp)))
			return nil
		},
	}
}

func durationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "durations",
		Short: "Show how long each matched activity took",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := getApp()
			if err != nil {
				return err
			}
			defer a.Close()

			pairs, err := a.matcher.Durations(cmd.Context(), userID)
			if err != nil {
				return err
			}

			if len(pairs) == 0 {
				fmt.Println("No matched activities yet.")
				return nil
			}

			for _, p := range pairs {
				flag := ""
				if p.Overlong {
					flag = "  (overlong)"
				}
				fmt.Printf("%s  %-20s %8s%s\n",
					p.Start.InputTimestamp.Format("2006-01-02 15:04"),
					truncate(p.Start.ActivityKey, 20),
					formatDuration(p.Duration), flag)
			}
			return nil
		},
	}
}

func printEntryLine(e *domain.ActivityEntry) {
	fmt.Printf("%s  %s  %-10s %s\n", e.ID[:8], e.InputTimestamp.Format("2006-01-02 15:04"), e.LogType, truncate(e.Content, 50))
}

func truncate(s string, max int) string {
	// Replace newlines with spaces for display
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

// formatDuration renders d like "1h 40m", "45m" or "30s"
func formatDuration(d time.Duration) string {
	seconds := int64(d.Round(time.Second) / time.Second)
	h := seconds / 3600
	m := (seconds % 3600) / 60
	sec := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%ds", sec)
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := getApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := api.New(a.store, a.recorder, a.matcher, addr, log)
			return server.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", cfg.HTTPAddr, "server address")
	return cmd
}
