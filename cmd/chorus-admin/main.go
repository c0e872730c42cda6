// Command chorus-admin is the operator CLI for the Chorus moderation
// console: it signs an admin in and runs the moderation operations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/aeolun/chorus/pkg/client"
	"github.com/aeolun/chorus/pkg/moderation"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var Version = "dev"

const defaultServerURL = "http://localhost:8080"

// errUsage is returned after usage has been printed.
var errUsage = errors.New("usage")

type command struct {
	summary string
	run     func(a *app, ctx context.Context, args []string) error
}

var commands = map[string]command{
	"login":          {"Sign in and store an admin token", (*app).login},
	"logout":         {"Forget the stored admin token", (*app).logout},
	"users":          {"List user profiles", (*app).users},
	"servers":        {"List servers with their owners", (*app).servers},
	"channels":       {"List channels with their servers", (*app).channels},
	"flags":          {"List unreviewed flagged messages", (*app).flags},
	"logs":           {"Show the latest moderation log entries", (*app).logs},
	"ban":            {"Ban a user from a server or globally", (*app).ban},
	"ipban":          {"Ban an IP address", (*app).ipBan},
	"delete-message": {"Soft delete a channel message or DM", (*app).deleteMessage},
	"delete-channel": {"Delete a channel and its messages", (*app).deleteChannel},
	"review":         {"Mark a flagged message as reviewed", (*app).review},
	"raw":            {"Run any operation with a JSON payload and print the reply", (*app).raw},
}

type app struct {
	console   *moderation.Console
	server    string
	token     string // from -token or CHORUS_ADMIN_TOKEN, bypasses the token file
	tokenPath string
	out       io.Writer
	in        io.Reader
	now       func() time.Time
}

func main() {
	// Credentials may come from a local .env
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	if err == nil {
		return
	}
	if !errors.Is(err, errUsage) {
		fmt.Fprintf(os.Stderr, "chorus-admin: %v\n", err)
		if client.KindOf(err) == client.AuthorizationFailure {
			fmt.Fprintln(os.Stderr, "Your admin token may have expired, run chorus-admin login.")
		}
	}
	os.Exit(1)
}

func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	fs := flag.NewFlagSet("chorus-admin", flag.ContinueOnError)
	fs.SetOutput(errOut)
	server := fs.String("server", envOr("CHORUS_SERVER_URL", defaultServerURL), "Chorus server URL")
	token := fs.String("token", os.Getenv("CHORUS_ADMIN_TOKEN"), "Admin token to use instead of the stored one")
	tokenFile := fs.String("token-file", defaultTokenPath(), "Where login stores the admin token")
	debug := fs.Bool("debug", false, "Log requests to stderr")
	version := fs.Bool("version", false, "Print the version and exit")
	fs.Usage = func() { usage(errOut, fs) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return errUsage
	}

	if *version {
		fmt.Fprintln(out, "chorus-admin", Version)
		return nil
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	name := fs.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(errOut, "unknown command %q\n\n", name)
		fs.Usage()
		return errUsage
	}

	logger := zap.NewNop()
	if *debug {
		l, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		logger = l
	}
	defer logger.Sync()

	baseURL := strings.TrimRight(*server, "/")
	a := &app{
		console:   moderation.NewConsole(baseURL, logger.Sugar()),
		server:    baseURL,
		token:     *token,
		tokenPath: expandPath(*tokenFile),
		out:       out,
		in:        in,
		now:       time.Now,
	}
	return cmd.run(a, ctx, fs.Args()[1:])
}

func usage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "Usage: chorus-admin [flags] <command> [command flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-15s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fs.PrintDefaults()
}

// credential returns the token to send, preferring an explicit one.
func (a *app) credential() (string, error) {
	if a.token != "" {
		return a.token, nil
	}
	saved, err := loadToken(a.tokenPath)
	if err != nil {
		return "", err
	}
	if saved.Server != a.server {
		return "", fmt.Errorf("stored token belongs to %s, run chorus-admin login for %s", saved.Server, a.server)
	}
	if saved.expired(a.now()) {
		return "", errors.New("admin token expired, run chorus-admin login")
	}
	return saved.Token, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
