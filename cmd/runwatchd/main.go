package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/nightjarhq/runwatch/internal/api"
	"github.com/nightjarhq/runwatch/internal/auth"
	"github.com/nightjarhq/runwatch/internal/config"
	"github.com/nightjarhq/runwatch/internal/logger"
	"github.com/nightjarhq/runwatch/internal/metrics"
	"github.com/nightjarhq/runwatch/internal/schedule"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "schedule":
			cmdSchedule(os.Args[2:])
			return
		case "--version", "-v":
			fmt.Printf("runwatchd %s\n", Version)
			return
		case "--help", "-h", "help":
			printUsage()
			return
		}
	}

	runDaemon()
}

func printUsage() {
	fmt.Printf(`runwatchd %s - Scheduled run launcher daemon

Usage: runwatchd [command] [options]

Commands:
  (default)    Start the scheduler daemon
  schedule     Manage schedules (add, list, rm, pause, resume, history)

Daemon Options:
  --config <dir>   Directory containing runwatch.jsonc

Examples:
  runwatchd
  runwatchd schedule add --name nightly --cron "0 2 * * *" --agent reporter --input "daily summary"
  runwatchd schedule list
  runwatchd schedule history sched_1a2b3c4d
`, Version)
}

func loadConfig(configDir string) *config.Config {
	cfg, err := config.LoadDir(configDir)
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

func openScheduleStore(cfg *config.Config) *schedule.Store {
	store, err := schedule.NewStore(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open schedule store: %v\n", err)
		os.Exit(1)
	}
	return store
}

func runDaemon() {
	configDir := flag.String("config", "", "directory containing runwatch.jsonc")
	flag.Parse()

	cfg := loadConfig(*configDir)

	if err := logger.Init(filepath.Join(cfg.DataDir, "logs")); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Close() }()

	creds, err := auth.NewStore(cfg.DataDir)
	if err != nil {
		logger.Fatalf("failed to open credential store: %v", err)
	}
	defer func() { _ = creds.Close() }()

	store := openScheduleStore(cfg)
	defer func() { _ = store.Close() }()

	client := api.NewClient(cfg.Upstream.BaseURL, creds.Source(cfg.Upstream.Credential), api.Options{
		MaxRetries:        cfg.Upstream.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff(),
		RequestsPerSecond: cfg.Upstream.RequestsPerSecond,
	})

	runner := schedule.NewRunner(store, func(ctx context.Context, sched *schedule.Schedule) (string, error) {
		handle, err := client.StartRun(ctx, sched.AgentID, api.StartRunRequest{
			Input:  sched.Input,
			Source: "schedule:" + sched.ID,
		})
		if err != nil {
			return "", err
		}
		return handle.RunID, nil
	})
	runner.Start()
	defer runner.Stop()

	var metricsSrv *http.Server
	if cfg.Daemon.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.Daemon.MetricsAddress, Handler: mux}
		go func() {
			logger.Info("metrics listening on %s", cfg.Daemon.MetricsAddress)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server: %v", err)
			}
		}()
	}

	logger.Info("runwatchd %s started", Version)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(ctx)
	}
}

func cmdSchedule(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: runwatchd schedule <add|list|rm|pause|resume|history> ...")
		os.Exit(2)
	}
	sub := args[0]

	fs := flag.NewFlagSet("schedule", flag.ExitOnError)
	configDir := fs.String("config", "", "directory containing runwatch.jsonc")
	name := fs.String("name", "", "schedule name")
	cronExpr := fs.String("cron", "", "5-field cron expression")
	agentID := fs.String("agent", "", "agent to launch")
	input := fs.String("input", "", "input handed to each run")
	parallel := fs.Bool("parallel", false, "allow overlapping launches")
	_ = fs.Parse(args[1:])
	rest := fs.Args()

	cfg := loadConfig(*configDir)
	store := openScheduleStore(cfg)
	defer func() { _ = store.Close() }()

	switch sub {
	case "add":
		if *name == "" || *cronExpr == "" || *agentID == "" {
			fmt.Fprintln(os.Stderr, "usage: runwatchd schedule add --name <n> --cron <expr> --agent <id> [--input <text>] [--parallel]")
			os.Exit(2)
		}
		overlap := schedule.OverlapSkip
		if *parallel {
			overlap = schedule.OverlapParallel
		}
		sched := &schedule.Schedule{
			Name:     *name,
			CronExpr: *cronExpr,
			AgentID:  *agentID,
			Input:    *input,
			Enabled:  true,
			Overlap:  overlap,
		}
		if err := store.Create(sched); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create schedule: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("schedule %s created, next run %s\n", sched.ID, formatTime(sched.NextRunAt))
	case "list":
		schedules, err := store.List()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to list schedules: %v\n", err)
			os.Exit(1)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tCRON\tAGENT\tENABLED\tNEXT RUN")
		for _, s := range schedules {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%v\t%s\n",
				s.ID, s.Name, s.CronExpr, s.AgentID, s.Enabled, formatTime(s.NextRunAt))
		}
		_ = tw.Flush()
	case "rm":
		requireID(rest, "rm")
		if err := store.Delete(rest[0]); err != nil {
			fmt.Fprintf(os.Stderr, "failed to delete schedule: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("schedule %s removed\n", rest[0])
	case "pause", "resume":
		requireID(rest, sub)
		if err := store.SetEnabled(rest[0], sub == "resume"); err != nil {
			fmt.Fprintf(os.Stderr, "failed to %s schedule: %v\n", sub, err)
			os.Exit(1)
		}
		fmt.Printf("schedule %s %sd\n", rest[0], sub)
	case "history":
		requireID(rest, "history")
		launches, err := store.ListLaunches(rest[0], 20)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to list launches: %v\n", err)
			os.Exit(1)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "EXECUTED\tSTATUS\tRUN\tERROR")
		for _, l := range launches {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
				l.ExecutedAt.Format(time.RFC3339), l.Status, l.RunID, l.Error)
		}
		_ = tw.Flush()
	default:
		fmt.Fprintf(os.Stderr, "unknown schedule subcommand %q\n", sub)
		os.Exit(2)
	}
}

func requireID(rest []string, sub string) {
	if len(rest) != 1 || strings.TrimSpace(rest[0]) == "" {
		fmt.Fprintf(os.Stderr, "usage: runwatchd schedule %s <schedule-id>\n", sub)
		os.Exit(2)
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
