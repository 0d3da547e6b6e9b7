package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mattjoyce/venhook/internal/config"
	"github.com/mattjoyce/venhook/internal/storage"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
)

// --- events ---

func runEvents(args []string) int {
	fs := newFlagSet("events")
	dbPath := fs.String("db", config.DefaultSQLitePath, "Path to the receiver's SQLite database")
	limit := fs.Int("limit", 20, "Maximum number of events to show")
	jsonOut := fs.Bool("json", false, "Output events as JSON")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "Error: --limit must be positive")
		return exitUsage
	}
	if _, err := os.Stat(*dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: database not found: %s\n", *dbPath)
		return exitFail
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := storage.OpenSQLite(ctx, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return exitFail
	}
	defer db.Close()

	store := storage.NewEventStore(db)
	recs, err := store.Recent(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query events: %v\n", err)
		return exitFail
	}
	if *jsonOut {
		if recs == nil {
			recs = []storage.EventRecord{}
		}
		return printJSON(recs)
	}

	counts, err := store.CountByKind(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to count events: %v\n", err)
		return exitFail
	}

	fmt.Println(renderEventTable(recs))
	fmt.Println(renderCounts(counts))
	return exitOK
}

func renderEventTable(recs []storage.EventRecord) string {
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		large := ""
		if r.LargeAttachments {
			large = "yes"
		}
		rows = append(rows, []string{
			r.ReceivedAt.Local().Format("2006-01-02 15:04:05"),
			r.Source,
			r.Kind,
			r.EventType,
			r.MessageID,
			r.Recipient,
			r.Status,
			r.CampaignID,
			large,
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("RECEIVED", "SOURCE", "KIND", "EVENT", "MESSAGE", "RECIPIENT", "STATUS", "CAMPAIGN", "LARGE").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.Render()
}

func renderCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "no events stored"
	}
	kinds := make([]string, 0, len(counts))
	total := 0
	for k, n := range counts {
		kinds = append(kinds, k)
		total += n
	}
	sort.Strings(kinds)

	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return fmt.Sprintf("total %d (%s)", total, strings.Join(parts, ", "))
}

// --- config ---

func runConfigNoun(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: venhook config check --config PATH [--hash BLAKE3]")
		return exitUsage
	}
	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return exitUsage
	}
}

func runConfigCheck(args []string) int {
	fs := newFlagSet("config check")
	configPath := fs.String("config", os.Getenv("VENHOOK_CONFIG"), "Path to configuration file")
	expected := fs.String("hash", "", "Expected BLAKE3 hash of the file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --config is required (or set VENHOOK_CONFIG)")
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Println(failStyle.Render("✗ invalid: ") + err.Error())
		return exitFail
	}

	if *expected != "" {
		if err := config.VerifyFileHash(*configPath, *expected); err != nil {
			fmt.Println(failStyle.Render("✗ integrity: ") + err.Error())
			return exitFail
		}
	}

	fmt.Println(okStyle.Render("✓ valid: ") + cfg.Path)
	fmt.Printf("  hash:    %s\n", cfg.Hash)
	fmt.Printf("  listen:  %s\n", cfg.Listen)
	fmt.Printf("  webhook: %s (signed: %t, encoding: %s)\n", cfg.Webhook.Path, !cfg.Webhook.AllowUnsigned, cfg.Webhook.Encoding)
	if cfg.Inbound.Enabled {
		fmt.Printf("  inbound: %s\n", cfg.Inbound.Path)
	}
	dedupBackend := "memory"
	if cfg.Dedup.RedisURL != "" {
		dedupBackend = "redis"
	}
	fmt.Printf("  dedup:   %s (ttl %s)\n", dedupBackend, cfg.Dedup.TTL)
	fmt.Printf("  storage: %s\n", cfg.Storage.SQLitePath)
	return exitOK
}
