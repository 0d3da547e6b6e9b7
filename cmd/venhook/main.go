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
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mattjoyce/venhook/internal/config"
	"github.com/mattjoyce/venhook/internal/dedup"
	"github.com/mattjoyce/venhook/internal/events"
	"github.com/mattjoyce/venhook/internal/lock"
	"github.com/mattjoyce/venhook/internal/log"
	"github.com/mattjoyce/venhook/internal/metrics"
	"github.com/mattjoyce/venhook/internal/receiver"
	"github.com/mattjoyce/venhook/internal/storage"
	"github.com/mattjoyce/venhook/internal/tui/watch"
	"github.com/mattjoyce/venhook/webhook"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Exit codes.
const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

const secretEnv = "VENHOOK_SECRET"

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage(os.Stderr)
		return exitUsage
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "serve":
		return runServe(args)
	case "sign":
		return runSign(args)
	case "verify":
		return runVerify(args)
	case "classify":
		return runClassify(args)
	case "normalize":
		return runNormalize(args)
	case "attachments":
		return runAttachments(args)
	case "events":
		return runEvents(args)
	case "watch":
		return runWatch(args)
	case "config":
		return runConfigNoun(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return exitUsage
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `venhook - Venmail webhook receiver and toolkit

Usage:
  venhook <command> [flags]

Receiver:
  serve         Run the webhook receiver (--config PATH)
  watch         Live view of a running receiver (--url URL [--token TOKEN])
  events        List stored events (--db PATH [--limit N] [--json])

Payload tools:
  sign          Compute the signature of a body (--secret S --file PATH|- [--encoding hex|base64])
  verify        Check a signature (--secret S --signature SIG --file PATH|- [--encoding hex|base64])
  classify      Classify a JSON payload (--file PATH|-)
  normalize     Normalize a status or bounce payload (--file PATH|-)
  attachments   List attachments and their URLs (--file PATH|- [--base-url URL] [--threshold SIZE])

Config:
  config check  Validate a config file (--config PATH [--hash BLAKE3])

General:
  version       Show version information
  help          Show this help message

The secret may also be supplied via VENHOOK_SECRET, the watch token via VENHOOK_TOKEN.
Exit codes: 0 success, 1 failure or mismatch, 2 usage error.
`)
}

// newFlagSet returns a flag set that reports parse errors instead of exiting.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

// --- serve ---

func runServe(args []string) int {
	fs := newFlagSet("serve")
	configPath := fs.String("config", os.Getenv("VENHOOK_CONFIG"), "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --config is required (or set VENHOOK_CONFIG)")
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitFail
	}

	log.Setup(cfg.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("venhook starting", "version", version, "config", cfg.Path, "config_hash", cfg.Hash)

	lockPath := cfg.Storage.LockPath
	if lockPath == "" {
		lockPath = lock.PathFor(cfg.Storage.SQLitePath)
	}
	pidLock, err := lock.AcquirePIDLock(lockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another receiver may be running)", "path", lockPath, "error", err)
		return exitFail
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", lockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.Storage.SQLitePath)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.Storage.SQLitePath, "error", err)
		return exitFail
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.Storage.SQLitePath)

	filter, closeFilter, err := dedup.NewFilter(ctx, cfg.Dedup.RedisURL, cfg.Dedup.TTL)
	if err != nil {
		logger.Error("failed to initialize dedup filter", "error", err)
		return exitFail
	}
	defer closeFilter()
	logger.Info("dedup filter ready", "redis", cfg.Dedup.RedisURL != "", "ttl", cfg.Dedup.TTL)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := receiver.New(receiver.ConfigFrom(cfg), receiver.Deps{
		Store:    storage.NewEventStore(db),
		Filter:   filter,
		Hub:      events.NewHub(cfg.Events.Buffer),
		Metrics:  metrics.NewPrometheusSink(reg),
		Gatherer: reg,
	}, log.WithComponent("receiver"))
	if err != nil {
		logger.Error("failed to configure receiver", "error", err)
		return exitFail
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() {
		done <- srv.Start(ctx)
	}()

	logger.Info("venhook running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
		if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("receiver shutdown failed", "error", err)
			return exitFail
		}
	case err := <-done:
		logger.Error("receiver failed", "error", err)
		return exitFail
	}

	logger.Info("venhook stopped")
	return exitOK
}

// --- sign / verify ---

func runSign(args []string) int {
	fs := newFlagSet("sign")
	secret := fs.String("secret", os.Getenv(secretEnv), "HMAC secret")
	file := fs.String("file", "-", "Body file, or - for stdin")
	encoding := fs.String("encoding", "hex", "Signature encoding: hex or base64")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	enc, err := webhook.ParseEncoding(*encoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}
	body, err := readInput(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFail
	}

	sig, err := webhook.ComputeSignature([]byte(*secret), body, enc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, webhook.ErrEmptySecret) {
			return exitUsage
		}
		return exitFail
	}
	fmt.Println(sig)
	return exitOK
}

func runVerify(args []string) int {
	fs := newFlagSet("verify")
	secret := fs.String("secret", os.Getenv(secretEnv), "HMAC secret")
	signature := fs.String("signature", "", "Signature to check")
	file := fs.String("file", "-", "Body file, or - for stdin")
	encoding := fs.String("encoding", "hex", "Signature encoding: hex or base64")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	enc, err := webhook.ParseEncoding(*encoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}
	body, err := readInput(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFail
	}

	ok, err := webhook.VerifySignature([]byte(*secret), *signature, body, enc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}
	if !ok {
		fmt.Println("invalid")
		return exitFail
	}
	fmt.Println("valid")
	return exitOK
}

// --- payload tools ---

func runClassify(args []string) int {
	payload, code := readPayloadFlag("classify", args, nil)
	if code != exitOK {
		return code
	}
	return printJSON(webhook.Classify(payload))
}

func runNormalize(args []string) int {
	payload, code := readPayloadFlag("normalize", args, nil)
	if code != exitOK {
		return code
	}
	return printJSON(webhook.Normalize(payload))
}

type attachmentReport struct {
	Attachments      []receiver.AttachmentLink `json:"attachments"`
	LargeAttachments bool                      `json:"large_attachments"`
}

func runAttachments(args []string) int {
	var baseURL, threshold *string
	payload, code := readPayloadFlag("attachments", args, func(fs *flag.FlagSet) {
		baseURL = fs.String("base-url", "", "Platform base URL for attachment links")
		threshold = fs.String("threshold", "10MB", "Large attachment threshold")
	})
	if code != exitOK {
		return code
	}

	limit, err := config.ParseSize(*threshold, webhook.DefaultLargeAttachmentThreshold)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid --threshold: %v\n", err)
		return exitUsage
	}

	atts := webhook.ExtractAttachments(payload)
	report := attachmentReport{
		Attachments:      make([]receiver.AttachmentLink, 0, len(atts)),
		LargeAttachments: webhook.HasLargeAttachments(atts, limit),
	}
	for _, att := range atts {
		link := receiver.AttachmentLink{Attachment: att, Thumbnail: webhook.ThumbnailURL(att, *baseURL)}
		if u, err := webhook.DownloadURL(att, *baseURL); err == nil {
			link.DownloadURL = u
		}
		report.Attachments = append(report.Attachments, link)
	}
	return printJSON(report)
}

// readPayloadFlag parses --file (plus any extra flags) and decodes the JSON it names.
func readPayloadFlag(name string, args []string, extra func(*flag.FlagSet)) (any, int) {
	fs := newFlagSet(name)
	file := fs.String("file", "-", "JSON payload file, or - for stdin")
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, exitUsage
	}

	data, err := readInput(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return nil, exitFail
	}
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid JSON: %v\n", err)
		return nil, exitFail
	}
	return payload, exitOK
}

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return exitFail
	}
	fmt.Println(string(data))
	return exitOK
}

// --- watch ---

func runWatch(args []string) int {
	fs := newFlagSet("watch")
	url := fs.String("url", "http://127.0.0.1:8090", "Receiver base URL")
	token := fs.String("token", os.Getenv("VENHOOK_TOKEN"), "Operator bearer token")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	p := tea.NewProgram(watch.New(*url, *token))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return exitFail
	}
	return exitOK
}

// --- version ---

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := newFlagSet("version")
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: venhook version [--json]")
		return exitUsage
	}

	info := currentVersionInfo()
	if *jsonOut {
		return printJSON(info)
	}

	fmt.Printf("venhook %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return exitOK
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return strings.TrimSpace(setting.Value)
		}
	}
	return ""
}
