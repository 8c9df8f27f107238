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
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/githubdeploy/internal/config"
	"github.com/mattjoyce/githubdeploy/internal/doctor"
	"github.com/mattjoyce/githubdeploy/internal/history"
	"github.com/mattjoyce/githubdeploy/internal/lock"
	"github.com/mattjoyce/githubdeploy/internal/log"
	"github.com/mattjoyce/githubdeploy/internal/pipeline"
	"github.com/mattjoyce/githubdeploy/internal/storage"
	"github.com/mattjoyce/githubdeploy/internal/tui/runs"
	"github.com/mattjoyce/githubdeploy/internal/webhook"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}
	os.Exit(run(os.Args[1], os.Args[2:]))
}

func run(cmd string, args []string) int {
	switch cmd {
	// --- NOUNS ---
	case "config":
		return runConfigNoun(args)
	case "runs":
		return runRunsNoun(args)

	// --- VERBS ---
	case "serve":
		if hasHelpFlag(args) {
			printServeHelp()
			return 0
		}
		return runServe(args)
	case "sign":
		if hasHelpFlag(args) {
			printSignHelp()
			return 0
		}
		return runSign(args)
	case "version":
		fmt.Printf("githubdeploy version %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `githubdeploy - run a deploy script when GitHub pushes to a branch

Usage:
  githubdeploy <command> [flags]
  githubdeploy <noun> <action> [flags]

Commands:
  serve             Listen for GitHub webhook deliveries and deploy
  sign              Print the X-Hub-Signature for a payload

Config Commands:
  config check      Load and validate the deployment manifest
  config lock       Record the manifest hash in .checksums

Run History Commands:
  runs list         Print recent deploy runs
  runs watch        Live view of deploy runs
  runs prune        Delete old deploy runs

General:
  version           Show version information
  help              Show this help message

Use 'githubdeploy <command> --help' for command flags.
`)
}

// --- NOUN DISPATCHERS ---

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runRunsNoun(args []string) int {
	if len(args) < 1 {
		printRunsNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printRunsNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printRunsListHelp()
			return 0
		}
		return runRunsList(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printRunsWatchHelp()
			return 0
		}
		return runRunsWatch(actionArgs)
	case "prune":
		if hasHelpFlag(actionArgs) {
			printRunsPruneHelp()
			return 0
		}
		return runRunsPrune(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown runs action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printConfigNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: githubdeploy config <check|lock> [--config PATH]")
}

func printRunsNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: githubdeploy runs <list|watch|prune> [--config PATH]")
}

func printServeHelp() {
	fmt.Println("Usage: githubdeploy serve [--config PATH]")
	fmt.Println("Listens on the manifest's listen address and deploys on every authentic push.")
}

func printSignHelp() {
	fmt.Println("Usage: githubdeploy sign --secret SECRET [--file PAYLOAD]")
	fmt.Println("Reads the payload from stdin when --file is not given.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: githubdeploy config check [--config PATH] [--strict] [--json]")
}

func printConfigLockHelp() {
	fmt.Println("Usage: githubdeploy config lock [--config PATH] [--dry-run] [-v]")
}

func printRunsListHelp() {
	fmt.Println("Usage: githubdeploy runs list [--config PATH] [--limit N] [--json]")
}

func printRunsWatchHelp() {
	fmt.Println("Usage: githubdeploy runs watch [--config PATH] [--refresh 2s]")
}

func printRunsPruneHelp() {
	fmt.Println("Usage: githubdeploy runs prune [--config PATH] --keep N")
}

// --- COMMANDS ---

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultManifest, "Path to the deployment manifest")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.LogLevel, cfg.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("githubdeploy starting", "version", version, "config", cfg.SourcePath)

	pidLockPath := getPIDLockPath(cfg)
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	if err := storage.ValidateLocalFilesystem(cfg.LockPath, "lockPath"); err != nil {
		logger.Error("run lock location rejected", "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := pipeline.Options{
		ConfigPath: cfg.SourcePath,
		Logger:     log.WithComponent("pipeline"),
	}
	if cfg.HistoryPath != "" {
		db, err := storage.OpenSQLite(ctx, cfg.HistoryPath)
		if err != nil {
			logger.Error("failed to open history database", "path", cfg.HistoryPath, "error", err)
			return 1
		}
		defer db.Close()
		opts.Recorder = history.NewStore(db)
		logger.Info("run history enabled", "path", cfg.HistoryPath)
	}
	deployer := pipeline.New(opts)

	webhookConfig, err := webhook.FromConfig(cfg)
	if err != nil {
		logger.Error("failed to configure webhook server", "error", err)
		return 1
	}
	server := webhook.New(webhookConfig, deployer, log.WithComponent("webhook"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	logger.Info("githubdeploy running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("webhook server stopped with error", "error", err)
			return 1
		}
	case err := <-errCh:
		logger.Error("webhook server failed", "error", err)
		return 1
	}

	logger.Info("githubdeploy stopped")
	return 0
}

// checkReport is the machine readable output of `config check`.
type checkReport struct {
	Valid      bool              `json:"valid"`
	Manifest   string            `json:"manifest"`
	Error      string            `json:"error,omitempty"`
	Required   map[string]string `json:"required,omitempty"`
	Settings   map[string]string `json:"settings,omitempty"`
	Integrity  string            `json:"integrity"`
	EventTypes []string          `json:"event_types,omitempty"`
	Doctor     *doctor.Result    `json:"environment,omitempty"`
}

func runConfigCheck(args []string) int {
	var configPath string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ExitOnError)
	fs.StringVar(&configPath, "config", config.DefaultManifest, "Path to the deployment manifest")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	report := checkReport{Manifest: configPath, Integrity: integrityStatus(configPath)}

	cfg, err := config.Load(configPath)
	if err != nil {
		report.Error = err.Error()
	} else {
		report.Valid = true
		report.Manifest = cfg.SourcePath
		report.EventTypes = cfg.EventTypes
		report.Required = make(map[string]string)
		for _, field := range config.RequiredFields() {
			report.Required[field] = "ok"
		}
		report.Settings = map[string]string{
			"listen":         cfg.Listen,
			"webhookPath":    cfg.WebhookPath,
			"maxBodySize":    fmt.Sprintf("%d", cfg.MaxBodyBytes),
			"commandTimeout": cfg.CommandTimeoutDur.String(),
			"workDir":        cfg.WorkDir,
			"lockPath":       cfg.LockPath,
			"logPath":        orNone(cfg.LogPath),
			"historyPath":    orNone(cfg.HistoryPath),
		}
		report.Doctor = doctor.New(cfg).Validate()
		report.Valid = report.Doctor.Valid
	}

	if jsonOut {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(string(out))
	} else {
		printCheckReport(report)
	}

	if !report.Valid {
		return 1
	}
	if strict && len(report.Doctor.Warnings) > 0 {
		return 2
	}
	return 0
}

func printCheckReport(r checkReport) {
	fmt.Printf("Manifest: %s\n", r.Manifest)
	fmt.Printf("Integrity: %s\n", r.Integrity)
	if r.Error != "" {
		fmt.Printf("INVALID: %s\n", r.Error)
		return
	}
	for _, field := range config.RequiredFields() {
		fmt.Printf("  %-14s %s\n", field, r.Required[field])
	}
	fmt.Printf("Event types: %v\n", r.EventTypes)
	for _, key := range []string{"listen", "webhookPath", "maxBodySize", "commandTimeout", "workDir", "lockPath", "logPath", "historyPath"} {
		fmt.Printf("  %-14s %s\n", key, r.Settings[key])
	}
	fmt.Print(doctor.FormatHuman(r.Doctor))
	if r.Valid {
		fmt.Println("OK")
	}
}

func integrityStatus(configPath string) string {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "unknown"
	}
	checksums, err := config.LoadChecksums(filepath.Dir(absPath))
	if errors.Is(err, config.ErrNoChecksums) {
		return "unlocked"
	}
	if err != nil {
		return "error: " + err.Error()
	}
	expected, ok := checksums.Hashes[filepath.Base(absPath)]
	if !ok {
		return "not recorded"
	}
	if err := config.VerifyFileHash(absPath, expected); err != nil {
		return "mismatch"
	}
	return "verified"
}

func runConfigLock(args []string) int {
	var configPath string
	var verbose, verboseShort, dryRun bool

	fs := flag.NewFlagSet("lock", flag.ExitOnError)
	fs.StringVar(&configPath, "config", config.DefaultManifest, "Path to the deployment manifest")
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&verboseShort, "v", false, "Verbose output")
	fs.BoolVar(&dryRun, "dry-run", false, "Dry run")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	report, err := config.LockManifest(configPath, dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock manifest: %v\n", err)
		return 1
	}

	if verbose || verboseShort {
		fmt.Printf("HASH %s: %s\n", filepath.Base(report.ManifestPath), report.Hash)
	}
	if !report.Written {
		fmt.Printf("DRY-RUN %s (not written)\n", report.ChecksumPath)
		return 0
	}
	fmt.Printf("WROTE %s\n", report.ChecksumPath)
	return 0
}

func runSign(args []string) int {
	var secret, file string

	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	fs.StringVar(&secret, "secret", "", "Shared webhook secret")
	fs.StringVar(&file, "file", "", "Payload file (default stdin)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if secret == "" {
		fmt.Fprintln(os.Stderr, "Error: --secret is required")
		return 1
	}

	var (
		body []byte
		err  error
	)
	if file == "" {
		body, err = io.ReadAll(os.Stdin)
	} else {
		body, err = os.ReadFile(file)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read payload: %v\n", err)
		return 1
	}

	fmt.Println(webhook.Sign(secret, body))
	return 0
}

// openHistory loads the manifest and opens its history database.
func openHistory(ctx context.Context, configPath string) (*history.Store, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.HistoryPath == "" {
		return nil, nil, fmt.Errorf("run history is disabled (set historyPath in %s)", cfg.SourcePath)
	}
	db, err := storage.OpenSQLite(ctx, cfg.HistoryPath)
	if err != nil {
		return nil, nil, err
	}
	return history.NewStore(db), func() { _ = db.Close() }, nil
}

func runRunsList(args []string) int {
	var configPath string
	var limit int
	var jsonOut bool

	fs := flag.NewFlagSet("list", flag.ExitOnError)
	fs.StringVar(&configPath, "config", config.DefaultManifest, "Path to the deployment manifest")
	fs.IntVar(&limit, "limit", history.DefaultLimit, "Number of runs to show")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	store, closeFn, err := openHistory(ctx, configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeFn()

	entries, err := store.Recent(ctx, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read history: %v\n", err)
		return 1
	}

	if jsonOut {
		out, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(string(out))
		return 0
	}

	if len(entries) == 0 {
		fmt.Println("No runs recorded.")
		return 0
	}
	fmt.Printf("%-36s  %-20s  %-10s  %-20s  %-18s  %s\n", "RUN", "STARTED", "OUTCOME", "STAGE", "REASON", "DURATION")
	for _, e := range entries {
		fmt.Printf("%-36s  %-20s  %-10s  %-20s  %-18s  %s\n",
			e.ID,
			e.StartedAt.UTC().Format(time.RFC3339),
			e.Outcome,
			e.Stage,
			orNone(e.Reason),
			e.Duration().Round(time.Millisecond),
		)
	}
	return 0
}

func runRunsWatch(args []string) int {
	var configPath string
	var refresh time.Duration

	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	fs.StringVar(&configPath, "config", config.DefaultManifest, "Path to the deployment manifest")
	fs.DurationVar(&refresh, "refresh", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	store, closeFn, err := openHistory(context.Background(), configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeFn()

	p := tea.NewProgram(runs.New(store, refresh))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		return 1
	}
	return 0
}

func runRunsPrune(args []string) int {
	var configPath string
	var keep int

	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	fs.StringVar(&configPath, "config", config.DefaultManifest, "Path to the deployment manifest")
	fs.IntVar(&keep, "keep", -1, "Number of most recent runs to keep")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if keep < 0 {
		fmt.Fprintln(os.Stderr, "Error: --keep is required")
		return 1
	}

	ctx := context.Background()
	store, closeFn, err := openHistory(ctx, configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeFn()

	n, err := store.Prune(ctx, keep)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to prune history: %v\n", err)
		return 1
	}
	fmt.Printf("Deleted %d run(s).\n", n)
	return 0
}

// getPIDLockPath keeps the PID file next to the run lock.
func getPIDLockPath(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.LockPath), "githubdeploy.pid")
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
