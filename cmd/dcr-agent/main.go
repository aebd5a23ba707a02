package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"dcr-agent/dcragent"
)

func main() {
	var configPath string
	var dbPath string
	var archiveDir string
	var debug bool

	flag.StringVar(&configPath, "config", "/etc/dcr-agent.yaml", "YAML config file path.")
	flag.StringVar(&dbPath, "db", "", "SQLite database path (overrides config.db).")
	flag.StringVar(&archiveDir, "archive-dir", "", "Report artifact directory (overrides config.archive_dir).")
	flag.BoolVar(&debug, "debug", false, "Enable debug logs.")
	flag.Parse()

	visited := map[string]bool{}
	flag.CommandLine.Visit(func(f *flag.Flag) {
		visited[f.Name] = true
	})

	cfg, err := dcragent.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if visited["db"] {
		cfg.DB = dbPath
	}
	if visited["archive-dir"] {
		cfg.ArchiveDir = archiveDir
	}
	if visited["debug"] {
		cfg.Debug = debug
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := dcragent.NewLogger(cfg.Debug)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	db, err := dcragent.OpenDB(cfg.DB)
	if err != nil {
		logger.Fatalw("open database", "path", cfg.DB, "error", err)
	}
	dedup := dcragent.NewDedupStore(db)

	artifacts, err := dcragent.NewFileStore(cfg.ArchiveDir)
	if err != nil {
		logger.Fatalw("open archive dir", "dir", cfg.ArchiveDir, "error", err)
	}

	var notifier dcragent.Notifier = dcragent.NopNotifier{}
	if cfg.Mail.Enabled {
		notifier = dcragent.NewMailNotifier(cfg.Mail)
	} else {
		logger.Infow("mail disabled, reports are archived only")
	}

	dispatcher := dcragent.NewDispatcher(dcragent.DispatcherConfig{
		Workers:     cfg.Dispatch.Workers,
		MaxAttempts: cfg.Dispatch.MaxAttempts,
		RetryBase:   cfg.Dispatch.RetryBase.Std(),
		QueueSize:   cfg.Dispatch.QueueSize,
		Recipients:  cfg.Mail.Recipients,
	}, artifacts, notifier, dedup, logger)

	assembler := dcragent.NewAssembler(cfg.Assembly.StaleAfter.Std(), dedup.Seen, logger)

	// The decoder collaborator runs as a separate process and pipes
	// fragments in as JSON lines.
	receiver := dcragent.NewReceiver(dcragent.NewJSONLineDecoder(os.Stdin, logger), 0)

	agent := dcragent.NewAgent(dcragent.AgentConfig{
		SweepInterval: cfg.Assembly.SweepInterval.Std(),
		Retention:     cfg.Retention.Std(),
		DrainTimeout:  cfg.Dispatch.DrainTimeout.Std(),
	}, receiver, assembler, dispatcher, dedup, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := agent.Run(ctx); err != nil {
		logger.Fatalw("agent stopped", "error", err)
	}
}
