// Package main implements the heapstore CLI.
//
// By default it opens a heap file and starts a REPL of dot commands for
// inserting, reading and deleting records and for inspecting pages and the
// free-space map. With -serve it exposes the same heap file over HTTP.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/cabewaldrop/heapstore/internal/logging"
	"github.com/cabewaldrop/heapstore/internal/storage"
	"github.com/cabewaldrop/heapstore/internal/web"
)

const (
	version = "0.1.0"
	banner  = `
  _                          _
 | |__   ___  __ _ _ __  ___| |_ ___  _ __ ___
 | '_ \ / _ \/ _' | '_ \/ __| __/ _ \| '__/ _ \
 | | | |  __/ (_| | |_) \__ \ || (_) | | |  __/
 |_| |_|\___|\__,_| .__/|___/\__\___/|_|  \___|
                  |_|

  Heap File Storage Engine - Version %s
  Type '.help' for usage hints or '.quit' to exit.
`
)

// config holds the command-line settings.
type config struct {
	dbPath    string
	cacheSize int
	logLevel  string
	logFormat string
	logFile   string
	serve     bool
	port      int
}

func main() {
	cfg := config{}
	flag.StringVar(&cfg.dbPath, "db", "heap.db", "Path to heap file")
	flag.IntVar(&cfg.cacheSize, "cache", storage.DefaultCacheCapacity, "Page cache capacity in pages")
	flag.StringVar(&cfg.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.logFormat, "log-format", "text", "Log format (text, json)")
	flag.StringVar(&cfg.logFile, "log-file", "", "Write logs to this file instead of stderr")
	flag.BoolVar(&cfg.serve, "serve", false, "Serve the HTTP API instead of starting the REPL")
	flag.IntVar(&cfg.port, "port", 8080, "HTTP port for -serve")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("heapstore version %s\n", version)
		return
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config) error {
	if cfg.cacheSize < 1 {
		return fmt.Errorf("cache capacity must be at least 1, got %d", cfg.cacheSize)
	}

	logger, closeLog, err := logging.New(logging.Config{
		Level:      cfg.logLevel,
		Format:     cfg.logFormat,
		OutputPath: cfg.logFile,
	})
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer closeLog()

	heap, err := storage.Open(cfg.dbPath,
		storage.WithCacheCapacity(cfg.cacheSize),
		storage.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("open heap file: %w", err)
	}

	if cfg.serve {
		srv := web.NewServer(cfg.port, web.NewStore(heap), logger)
		serveErr := srv.Run(context.Background())
		if err := heap.Close(); err != nil {
			return fmt.Errorf("close heap file: %w", err)
		}
		return serveErr
	}

	fmt.Printf(banner, version)
	r := newREPL(heap, os.Stdin, os.Stdout)
	r.run()

	if err := heap.Close(); err != nil {
		return fmt.Errorf("close heap file: %w", err)
	}
	fmt.Println("Goodbye!")
	return nil
}
