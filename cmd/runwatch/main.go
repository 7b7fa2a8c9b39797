package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/nightjarhq/runwatch/internal/api"
	"github.com/nightjarhq/runwatch/internal/auth"
	"github.com/nightjarhq/runwatch/internal/config"
	"github.com/nightjarhq/runwatch/internal/logger"
	"github.com/nightjarhq/runwatch/internal/transcript"
	"github.com/nightjarhq/runwatch/internal/watch"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "run":
			cmdRun(os.Args[2:])
			return
		case "watch":
			cmdWatch(os.Args[2:])
			return
		case "cred":
			cmdCred(os.Args[2:])
			return
		case "--version", "-v":
			fmt.Printf("runwatch %s\n", Version)
			return
		case "--help", "-h", "help":
			printUsage()
			return
		}
	}
	printUsage()
	os.Exit(2)
}

func printUsage() {
	fmt.Printf(`runwatch %s - Live run transcripts from the command line

Usage: runwatch <command> [options]

Commands:
  run <agent-id> <input...>   Start a run and stream its transcript
  watch <run-id>              Attach to an already-running run
  cred                        Manage stored credentials

Common Options:
  --config <dir>     Directory containing runwatch.jsonc
  --credential <n>   Use the named credential instead of the default

Watch Options:
  --resume <id>      Resume the stream after the given event id

Examples:
  runwatch run coder "refactor the parser"
  runwatch watch run-7f3a
  runwatch watch run-7f3a --resume evt-120
  runwatch cred set prod <token>
`, Version)
}

// loadConfig resolves and loads runwatch.jsonc, falling back to
// defaults when no file exists and the base URL comes from the env.
func loadConfig(configDir string) *config.Config {
	path, err := config.FindConfigPath(configDir)
	if err != nil {
		cfg := config.Default()
		cfg.Upstream.BaseURL = os.Getenv("RUNWATCH_BASE_URL")
		if cfg.Upstream.BaseURL == "" {
			fmt.Fprintf(os.Stderr, "no configuration found: %v (or set RUNWATCH_BASE_URL)\n", err)
			os.Exit(1)
		}
		return cfg
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	if err := logger.Init(filepath.Join(cfg.DataDir, "logs")); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
}

func openCredentials(cfg *config.Config) *auth.Store {
	store, err := auth.NewStore(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open credential store: %v\n", err)
		os.Exit(1)
	}
	return store
}

func buildWatcher(cfg *config.Config, creds *auth.Store, credential string, render watch.TranscriptFunc) *watch.Watcher {
	client := api.NewClient(cfg.Upstream.BaseURL, creds.Source(credential), api.Options{
		MaxRetries:        cfg.Upstream.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff(),
		RequestsPerSecond: cfg.Upstream.RequestsPerSecond,
	})
	return watch.New(cfg.Upstream.BaseURL, client, watch.Options{
		OnTranscript: render,
		Credentials:  creds.Source(credential),
		AutoClose:    cfg.AutoClose(),
		Fade:         cfg.Fade(),
		ReconnectMin: cfg.ReconnectMin(),
		ReconnectMax: cfg.ReconnectMax(),
	})
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configDir := fs.String("config", "", "directory containing runwatch.jsonc")
	credential := fs.String("credential", "", "named credential (default: the default credential)")
	_ = fs.Parse(args)

	rest := fs.Args()
	if len(rest) < 2 {
		fmt.Fprintln(os.Stderr, "usage: runwatch run <agent-id> <input...>")
		os.Exit(2)
	}
	agentID := rest[0]
	input := strings.Join(rest[1:], " ")

	cfg := loadConfig(*configDir)
	initLogger(cfg)
	defer func() { _ = logger.Close() }()
	creds := openCredentials(cfg)
	defer func() { _ = creds.Close() }()

	printer := newTranscriptPrinter(os.Stdout)
	w := buildWatcher(cfg, creds, *credential, printer.update)

	handle, err := w.Start(signalContext(), agentID, input, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start run: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "run %s started\n", handle.RunID)

	waitAndExit(w, printer)
}

func cmdWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configDir := fs.String("config", "", "directory containing runwatch.jsonc")
	credential := fs.String("credential", "", "named credential (default: the default credential)")
	resume := fs.String("resume", "", "resume the stream after this event id")
	_ = fs.Parse(args)

	rest := fs.Args()
	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "usage: runwatch watch <run-id> [--resume <event-id>]")
		os.Exit(2)
	}
	runID := rest[0]

	cfg := loadConfig(*configDir)
	initLogger(cfg)
	defer func() { _ = logger.Close() }()
	creds := openCredentials(cfg)
	defer func() { _ = creds.Close() }()

	printer := newTranscriptPrinter(os.Stdout)
	w := buildWatcher(cfg, creds, *credential, printer.update)
	if err := w.Watch(runID, *resume); err != nil {
		fmt.Fprintf(os.Stderr, "failed to attach to run: %v\n", err)
		os.Exit(1)
	}

	waitAndExit(w, printer)
}

// waitAndExit blocks until the run completes, flushes the transcript,
// and exits non-zero when the run failed.
func waitAndExit(w *watch.Watcher, printer *transcriptPrinter) {
	err := w.Wait(signalContext())
	printer.flush()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "cursor: %s (use --resume to continue after a disconnect)\n", w.Log().LastEventID())
}

func cmdCred(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: runwatch cred <set|list|rm|default> ...")
		os.Exit(2)
	}
	sub := args[0]
	fs := flag.NewFlagSet("cred", flag.ExitOnError)
	configDir := fs.String("config", "", "directory containing runwatch.jsonc")
	_ = fs.Parse(args[1:])
	rest := fs.Args()

	cfg := loadConfig(*configDir)
	creds := openCredentials(cfg)
	defer func() { _ = creds.Close() }()

	switch sub {
	case "set":
		if len(rest) != 2 {
			fmt.Fprintln(os.Stderr, "usage: runwatch cred set <name> <token>")
			os.Exit(2)
		}
		if err := creds.Save(rest[0], rest[1]); err != nil {
			fmt.Fprintf(os.Stderr, "failed to save credential: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("credential %q saved\n", rest[0])
	case "list":
		list, err := creds.List()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to list credentials: %v\n", err)
			os.Exit(1)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tDEFAULT\tCREATED\tLAST USED")
		for _, c := range list {
			lastUsed := "never"
			if c.LastUsedAt != nil {
				lastUsed = c.LastUsedAt.Format(time.RFC3339)
			}
			def := ""
			if c.Default {
				def = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Name, def, c.CreatedAt.Format(time.RFC3339), lastUsed)
		}
		_ = tw.Flush()
	case "rm":
		if len(rest) != 1 {
			fmt.Fprintln(os.Stderr, "usage: runwatch cred rm <name>")
			os.Exit(2)
		}
		if err := creds.Delete(rest[0]); err != nil {
			fmt.Fprintf(os.Stderr, "failed to delete credential: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("credential %q removed\n", rest[0])
	case "default":
		if len(rest) != 1 {
			fmt.Fprintln(os.Stderr, "usage: runwatch cred default <name>")
			os.Exit(2)
		}
		if err := creds.SetDefault(rest[0]); err != nil {
			fmt.Fprintf(os.Stderr, "failed to set default: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("credential %q is now the default\n", rest[0])
	default:
		fmt.Fprintf(os.Stderr, "unknown cred subcommand %q\n", sub)
		os.Exit(2)
	}
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx
}

// transcriptPrinter writes transcript items to stdout as they settle.
// The trailing item may still grow (token coalescing), so it is held
// back until a later item lands or the run ends.
type transcriptPrinter struct {
	mu      sync.Mutex
	out     *os.File
	printed int
	last    []transcript.Item
}

func newTranscriptPrinter(out *os.File) *transcriptPrinter {
	return &transcriptPrinter{out: out}
}

func (p *transcriptPrinter) update(items []transcript.Item) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = items

	// All items before the trailing one are final.
	for p.printed < len(items)-1 {
		p.print(items[p.printed])
		p.printed++
	}
}

// flush prints whatever the trailing item settled as.
func (p *transcriptPrinter) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.printed < len(p.last) {
		p.print(p.last[p.printed])
		p.printed++
	}
}

func (p *transcriptPrinter) print(item transcript.Item) {
	fmt.Fprintf(p.out, "[%s] %s\n", item.Role, item.Text)
}
