// Command automod is a Chorus bot that watches channels and reports messages
// containing blocked terms to the moderation console.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aeolun/chorus/pkg/botlib"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var defaultTerms = []string{"spam", "scam", "phishing", "free nitro"}

func main() {
	// A .env next to the binary may carry the password
	_ = godotenv.Load()

	server := flag.String("server", envOr("CHORUS_SERVER_URL", "http://localhost:8080"), "Chorus server URL")
	username := flag.String("username", envOr("CHORUS_AUTOMOD_USERNAME", "automod"), "Bot account username")
	password := flag.String("password", os.Getenv("CHORUS_AUTOMOD_PASSWORD"), "Bot account password (or CHORUS_AUTOMOD_PASSWORD)")
	channels := flag.String("channels", "", "Comma-separated channels to watch: name or server/name (default: all)")
	invites := flag.String("invites", "", "Comma-separated invite codes to redeem on start")
	words := flag.String("words", "", "Comma-separated blocked terms")
	wordList := flag.String("wordlist", "", "File with one blocked term per line")
	severity := flag.String("severity", botlib.SeverityMedium, "Severity of raised flags: low, medium or high")
	warn := flag.Bool("warn", false, "Post a warning in the channel when a message is flagged")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logger, err := newLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	terms := splitList(*words)
	if *wordList != "" {
		fromFile, err := loadTerms(*wordList)
		if err != nil {
			logger.Fatalw("failed to load word list", "path", *wordList, "error", err)
		}
		terms = append(terms, fromFile...)
	}
	if len(terms) == 0 {
		terms = defaultTerms
	}
	blocked := newFilter(terms)

	switch *severity {
	case botlib.SeverityLow, botlib.SeverityMedium, botlib.SeverityHigh:
	default:
		logger.Fatalw("unknown severity", "severity", *severity)
	}

	bot := botlib.New(botlib.Config{
		ServerURL: strings.TrimRight(*server, "/"),
		Username:  *username,
		Password:  *password,
		Invites:   splitList(*invites),
		Channels:  splitList(*channels),
		Logger:    logger,
	})

	bot.OnMessage(func(ctx *botlib.Context, msg *botlib.Message) {
		term, ok := blocked.match(msg.Content)
		if !ok {
			return
		}
		reason := fmt.Sprintf("automod: blocked term %q", term)
		if err := ctx.Flag(reason, *severity); err != nil {
			ctx.Log("failed to flag message", "error", err)
			return
		}
		ctx.Log("message flagged", "author", msg.AuthorName, "term", term)

		if *warn {
			if err := ctx.Reply(fmt.Sprintf("@%s your message was sent to the moderators for review.", msg.AuthorName)); err != nil {
				ctx.Log("failed to post warning", "error", err)
			}
		}
	})

	// Mentions answer with what the bot is doing
	bot.OnMention(func(ctx *botlib.Context, msg *botlib.Message) {
		status := fmt.Sprintf("Watching %d channels for %d blocked terms.", len(bot.Channels()), blocked.size())
		if err := ctx.Reply(status); err != nil {
			ctx.Log("failed to reply", "error", err)
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Infow("starting automod",
		"server", *server,
		"username", *username,
		"terms", blocked.size(),
		"severity", *severity)

	if err := bot.Run(ctx); err != nil {
		logger.Fatalw("bot error", "error", err)
	}
}

func newLogger(debug bool) (*zap.SugaredLogger, error) {
	var (
		base *zap.Logger
		err  error
	)
	if debug {
		base, err = zap.NewDevelopment()
	} else {
		base, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return base.Sugar(), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
