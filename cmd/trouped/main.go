package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btclog/v2"
	"github.com/roasbeef/troupe"
	"github.com/roasbeef/troupe/actor"
	"github.com/roasbeef/troupe/internal/build"
	"github.com/roasbeef/troupe/netio"
	"github.com/roasbeef/troupe/remote"
	"github.com/roasbeef/troupe/sched"
)

func main() {
	var (
		configPath     = flag.String("config", "", "Path to config file (optional)")
		listenPort     = flag.Uint("port", 9009, "Port to publish the echo actor on (0 to disable)")
		logDir         = flag.String("log-dir", "~/.troupe/logs", "Directory for log files (empty to disable file logging)")
		maxLogFiles    = flag.Int("max-log-files", build.DefaultMaxLogFiles, "Maximum number of rotated log files to keep")
		maxLogFileSize = flag.Int("max-log-file-size", build.DefaultMaxLogFileSize, "Maximum log file size in MB before rotation")
		debugLevel     = flag.String("debug-level", "info", "Logging level: trace, debug, info, warn, error")
	)
	flag.Parse()

	// Expand home directory in paths.
	expandHome := func(path string) string {
		expanded := os.ExpandEnv(path)
		if expanded == path && len(path) > 0 && path[0] == '~' {
			home, err := os.UserHomeDir()
			if err != nil {
				log.Fatalf(
					"Failed to get home directory: %v",
					err,
				)
			}
			expanded = home + path[1:]
		}
		return expanded
	}

	logDirExpanded := expandHome(*logDir)

	// Initialize the rotating log file writer if a log directory is
	// configured. This creates ~/.troupe/logs/trouped.log with automatic
	// rotation and gzip compression of old files.
	var logRotator *build.RotatingLogWriter
	if logDirExpanded != "" {
		logRotator = build.NewRotatingLogWriter()
		err := logRotator.InitLogRotator(
			&build.LogRotatorConfig{
				LogDir:         logDirExpanded,
				MaxLogFiles:    *maxLogFiles,
				MaxLogFileSize: *maxLogFileSize,
			},
		)
		if err != nil {
			log.Printf(
				"Failed to init log rotator: %v "+
					"(continuing without file logging)",
				err,
			)
			logRotator = nil
		} else {
			defer logRotator.Close()

			// Redirect the standard log package to write to both
			// stderr and the log file.
			multiWriter := io.MultiWriter(os.Stderr, logRotator)
			log.SetOutput(multiWriter)
			log.SetFlags(log.LstdFlags)
		}
	}

	log.Printf("trouped version %s commit=%s go=%s",
		build.Version(), commitInfo(), build.GoVersion,
	)

	// Create btclog handlers for structured subsystem logging: console
	// always, plus the rotating log file when enabled.
	var btclogHandlers []btclog.Handler
	consoleHandler := btclog.NewDefaultHandler(os.Stderr)
	btclogHandlers = append(btclogHandlers, consoleHandler)

	if logRotator != nil {
		fileHandler := btclog.NewDefaultHandler(logRotator)
		btclogHandlers = append(btclogHandlers, fileHandler)
	}

	combinedHandler := build.NewHandlerSet(btclogHandlers...)
	if level, ok := build.ParseLevel(*debugLevel); ok {
		combinedHandler.SetLevel(level)
	}

	// Wire up every subsystem logger so lifecycle events are visible in
	// daemon logs.
	rootLogger := btclog.NewSLogger(combinedHandler)
	troupe.UseLogger(rootLogger.WithPrefix(troupe.Subsystem))
	actor.UseLogger(rootLogger.WithPrefix(actor.Subsystem))
	sched.UseLogger(rootLogger.WithPrefix(sched.Subsystem))
	netio.UseLogger(rootLogger.WithPrefix(netio.Subsystem))
	remote.UseLogger(rootLogger.WithPrefix(remote.Subsystem))

	// Load configuration (defaults when no file is given).
	cfg, err := troupe.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Assemble and start the runtime.
	rt, err := troupe.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create runtime: %v", err)
	}
	rt.Start()
	defer rt.Shutdown(30 * time.Second)

	troupe.RegisterTextCodec(rt)

	// Publish the echo actor so remote nodes (and the troupe CLI) have a
	// smoke-test target.
	if *listenPort != 0 {
		echo := rt.Spawn(troupe.EchoBehavior())
		defer echo.Release()

		addr, err := rt.Publish(
			echo, uint16(*listenPort), "troupe.text -> troupe.text",
		)
		if err != nil {
			log.Fatalf("Failed to publish echo actor: %v", err)
		}
		log.Printf("Echo actor published on %s", addr)
	}

	// Block until a shutdown signal arrives; a second signal forces an
	// immediate exit.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf(
			"Received %v, initiating graceful shutdown "+
				"(send again to force exit)...", sig,
		)
		cancel()

		sig = <-sigCh
		log.Printf("Received %v again, forcing immediate exit", sig)
		os.Exit(1)
	}()

	<-ctx.Done()
}

// commitInfo returns the best available commit identifier.
func commitInfo() string {
	if build.Commit != "" {
		return build.Commit
	}
	if build.CommitHash != "" {
		return build.CommitHash
	}

	return "dev"
}
