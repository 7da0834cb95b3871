package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	tea "charm.land/bubbletea/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/go-authgate/dashboard-cli/authclient"
	"github.com/go-authgate/dashboard-cli/tokenstore"
	"github.com/go-authgate/dashboard-cli/tui"
)

const usage = `Usage: dashctl [global flags] <command> [command flags]

Commands:
  login   -username U -password P   exchange credentials for a token pair
  logout                            remove the stored tokens
  status  [-json]                   show the stored session
  call    [-d body] [-H header] METHOD PATH
                                    send an authenticated API request
`

const userAgent = "dashctl"

// Exit codes.
const (
	exitOK             = 0
	exitError          = 1
	exitUsage          = 2
	exitSessionExpired = 3
)

var errUsage = errors.New("invalid usage")

// action runs a parsed command.
type action func(ctx context.Context, a *app) error

// commands parse their own flags before any output is started, so usage
// errors never mix with the TUI.
var commands = map[string]func(args []string, output io.Writer) (action, error){
	"login":  parseLogin,
	"logout": parseLogout,
	"status": parseStatus,
	"call":   parseCall,
}

// app carries the wired dependencies of one invocation.
type app struct {
	cfg     *Config
	store   authclient.TokenStore
	client  *authclient.Client
	display tui.Displayer
	logger  *slog.Logger
	stdout  io.Writer

	// expired is set by the unauthorized signal.
	expired atomic.Bool
}

func main() {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs, gf := newGlobalFlagSet(stderr)
	if err := fs.Parse(args); err != nil {
		return parseExitCode(err)
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitUsage
	}

	parse, ok := commands[fs.Arg(0)]
	if !ok {
		fmt.Fprintf(stderr, "Error: unknown command %q\n\n", fs.Arg(0))
		fs.Usage()
		return exitUsage
	}
	act, err := parse(fs.Args()[1:], stderr)
	if err != nil {
		return parseExitCode(err)
	}

	cfg, err := loadConfig(gf)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	warnPlaintext(stderr, cfg.ServerURL)

	d, done := newDisplayer(stderr, cfg.Verbose)
	defer done()
	d.Banner(cfg.ServerURL, cfg.Profile)

	a, closeApp, err := newApp(ctx, cfg, d, stdout, stderr)
	if err != nil {
		d.Fatal(err)
		return exitError
	}
	defer closeApp()

	if err := act(ctx, a); err != nil {
		if a.expired.Load() {
			return exitSessionExpired
		}
		return exitError
	}
	return exitOK
}

func parseExitCode(err error) int {
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	return exitUsage
}

// isTTY reports whether stderr is a character device (interactive terminal).
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// newDisplayer starts the BubbleTea program when stderr is an interactive
// terminal and falls back to plain text otherwise. Verbose logging shares
// stderr with the display, so it always gets plain text.
func newDisplayer(stderr io.Writer, verbose bool) (tui.Displayer, func()) {
	if verbose || stderr != io.Writer(os.Stderr) || !isTTY() {
		return tui.NewPlainDisplayer(stderr), func() {}
	}

	// Run TUI program on stderr so stdout pipes are not corrupted.
	// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
	// capability queries (?2026/?2027). Ctrl+C is handled by signal.NotifyContext.
	p := tea.NewProgram(tui.NewModel(), tea.WithOutput(os.Stderr), tea.WithInput(nil))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := p.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		}
	}()

	return tui.NewProgramDisplayer(p), func() {
		p.Quit() // let BubbleTea drain terminal query responses before exiting
		wg.Wait()
	}
}

func newApp(
	ctx context.Context,
	cfg *Config,
	d tui.Displayer,
	stdout, stderr io.Writer,
) (*app, func(), error) {
	logger := slog.New(slog.DiscardHandler)
	if cfg.Verbose {
		logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	a := &app{
		cfg:     cfg,
		store:   store,
		display: d,
		logger:  logger,
		stdout:  stdout,
	}

	events := authclient.NewEvents()
	if err := a.subscribe(events); err != nil {
		closeStore()
		return nil, nil, fmt.Errorf("failed to subscribe to client events: %w", err)
	}

	loginDoer, err := authclient.NewRetryingTransport(logger)
	if err != nil {
		closeStore()
		return nil, nil, fmt.Errorf("failed to create retry client: %w", err)
	}

	a.client, err = authclient.New(cfg.ServerURL, store,
		authclient.WithTimeout(cfg.Timeout),
		authclient.WithEvents(events),
		authclient.WithLogger(logger),
		authclient.WithLoginDoer(loginDoer),
		authclient.WithHeader("User-Agent", userAgent),
	)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return a, closeStore, nil
}

// subscribe forwards client events to the display. The unauthorized signal
// additionally marks the invocation so it exits with exitSessionExpired.
func (a *app) subscribe(events *authclient.Events) error {
	return errors.Join(
		events.OnUnauthorized(func() {
			a.expired.Store(true)
			a.display.SessionExpired()
		}),
		events.OnRefreshStarted(a.display.RefreshStarted),
		events.OnRefreshSucceeded(a.display.RefreshOK),
		events.OnRefreshFailed(func(err *authclient.APIError) {
			a.display.RefreshFailed(err)
		}),
		events.OnRetry(func(info authclient.RetryInfo) {
			a.display.RetryScheduled(info.Attempt, info.Delay, info.Err)
		}),
	)
}

// openStore builds the configured token store and a func releasing it.
func openStore(ctx context.Context, cfg *Config) (authclient.TokenStore, func(), error) {
	noop := func() {}

	switch cfg.TokenStore {
	case storeMemory:
		// seeded from the environment for one-off and CI use
		return tokenstore.NewMemory(os.Getenv("ACCESS_TOKEN"), os.Getenv("REFRESH_TOKEN")), noop, nil

	case storeRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		store := tokenstore.NewRedis(rdb, cfg.RedisPrefix, cfg.Profile)
		return store, func() { rdb.Close() }, nil

	case storeKeyring:
		return tokenstore.NewKeyring(tokenstore.DefaultKeyringService, cfg.Profile), noop, nil

	default:
		store, err := tokenstore.NewFile(cfg.TokenFile, cfg.Profile)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	}
}
