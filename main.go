package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

func main() {
	// Check if we have a subcommand
	if len(os.Args) > 1 && !strings.HasPrefix(os.Args[1], "-") {
		subcommand := os.Args[1]
		args := os.Args[2:]

		switch subcommand {
		case "serve":
			os.Exit(runServeCommand(args))
		case "store":
			os.Exit(runStoreCommand(args))
		case "exists":
			os.Exit(runExistsCommand(args))
		case "resolve":
			os.Exit(runResolveCommand(args))
		case "help", "-h", "--help":
			printHelp()
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n\n", subcommand)
			printHelp()
			os.Exit(1)
		}
	}

	// No subcommand or starts with -, run the server
	os.Exit(runServeCommand(os.Args[1:]))
}

func printHelp() {
	fmt.Fprintf(os.Stderr, "Usage: %s [command] [flags]\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "A deduplicating video cache backed by an object store.\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  serve         Serve tool requests as JSON lines on stdin/stdout (default)\n")
	fmt.Fprintf(os.Stderr, "  store         Store one media locator, optionally linked to a source locator\n")
	fmt.Fprintf(os.Stderr, "  exists        Check whether a source locator already has stored media\n")
	fmt.Fprintf(os.Stderr, "  resolve       Resolve a share link to a public media URL\n")
	fmt.Fprintf(os.Stderr, "  help          Show this help message\n\n")
	fmt.Fprintf(os.Stderr, "Configuration:\n")
	fmt.Fprintf(os.Stderr, "  Flags can be set via command-line arguments or environment variables.\n")
	fmt.Fprintf(os.Stderr, "  Command-line flags take precedence over environment variables.\n\n")
	fmt.Fprintf(os.Stderr, "Run '%s [command] -h' for more information about a command.\n", os.Args[0])
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// setup builds the logger, dedupe group and App shared by every subcommand.
func setup(cfg Config, opts ...AppOption) (*App, *slog.Logger, io.Closer, error) {
	logger := newLogger(cfg.Debug)

	locker, closer, err := createDedupeGroup(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error creating dedupe group: %w", err)
	}

	app, err := NewApp(cfg, logger, append([]AppOption{WithLocker(locker)}, opts...)...)
	if err != nil {
		closer.Close()
		return nil, nil, nil, fmt.Errorf("error creating app: %w", err)
	}
	return app, logger, closer, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServeCommand(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	buildConfig := registerConfigFlags(fs)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s serve [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Serve store, exists and resolve_share requests as JSON lines on stdin/stdout.\n\n")
		fmt.Fprintf(os.Stderr, "Flags (can also be set via environment variables):\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Serve against an S3-compatible store:\n")
		fmt.Fprintf(os.Stderr, "  %s serve -endpoint=oss-cn-hangzhou.aliyuncs.com -bucket=videos\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  # Serve against a local directory:\n")
		fmt.Fprintf(os.Stderr, "  BACKEND_TYPE=disk DISK_DIR=/var/cache/media %s serve -endpoint=localhost -bucket=videos\n", os.Args[0])
	}

	fs.Parse(args)
	cfg := buildConfig()

	stats := NewStats()
	app, logger, closer, err := setup(cfg, WithStats(stats))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer closer.Close()

	ctx, cancel := signalContext()
	defer cancel()

	server := NewToolServer(app, os.Stdin, os.Stdout, logger, stats)
	err = server.Run(ctx)

	if cfg.PrintStats {
		stats.Print(os.Stderr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running tool server: %v\n", err)
		return 1
	}
	return 0
}

func runStoreCommand(args []string) int {
	fs := flag.NewFlagSet("store", flag.ExitOnError)
	buildConfig := registerConfigFlags(fs)
	var media, source string
	fs.StringVar(&media, "media", "", "Media locator to download (required)")
	fs.StringVar(&source, "source", "", "Source locator to link to the stored media (optional)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s store -media=URL [-source=URL] [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Download media into the store unless it is already cached.\n\n")
		fs.PrintDefaults()
	}

	fs.Parse(args)
	return runOnce(buildConfig(), func(ctx context.Context, app *App) (interface{}, bool) {
		res := app.StoreMedia(ctx, media, source, "")
		return res, res.Success
	})
}

func runExistsCommand(args []string) int {
	fs := flag.NewFlagSet("exists", flag.ExitOnError)
	buildConfig := registerConfigFlags(fs)
	var source string
	fs.StringVar(&source, "source", "", "Source locator to look up (required)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s exists -source=URL [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Report whether a source locator already leads to stored media.\n\n")
		fs.PrintDefaults()
	}

	fs.Parse(args)
	return runOnce(buildConfig(), func(ctx context.Context, app *App) (interface{}, bool) {
		res := app.ExistsBySource(ctx, source, "")
		return res, res.Success
	})
}

func runResolveCommand(args []string) int {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	buildConfig := registerConfigFlags(fs)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s resolve [flags] TEXT...\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Find a share link in TEXT and print a public URL for its media.\n\n")
		fs.PrintDefaults()
	}

	fs.Parse(args)
	input := strings.Join(fs.Args(), " ")
	return runOnce(buildConfig(), func(ctx context.Context, app *App) (interface{}, bool) {
		res := app.ResolveShareLink(ctx, input, "")
		return res, res.Success
	})
}

// runOnce runs a single App operation and prints its result as JSON.
func runOnce(cfg Config, op func(ctx context.Context, app *App) (interface{}, bool)) int {
	app, _, closer, err := setup(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer closer.Close()

	ctx, cancel := signalContext()
	defer cancel()

	result, ok := op(ctx, app)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing result: %v\n", err)
		return 1
	}
	if !ok {
		return 1
	}
	return 0
}
