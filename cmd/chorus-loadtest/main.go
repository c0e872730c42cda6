// Command chorus-loadtest signs up many simulated users against a Chorus
// server, has them chat in one channel and reports throughput and feed
// latency.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls one load test run.
type Config struct {
	ServerURL  string
	ServerName string
	Clients    int
	Duration   time.Duration
	MinDelay   time.Duration
	MaxDelay   time.Duration
	StatsEvery time.Duration
}

// getCPULoad returns the 1-minute load average
func getCPULoad() float64 {
	// Format: "0.52 0.58 0.59 1/285 12345"
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}
	var load1 float64
	fmt.Sscanf(string(data), "%f", &load1)
	return load1
}

func newLogger(logPath string, debug bool) (*zap.SugaredLogger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.DisableStacktrace = true
	cfg.OutputPaths = []string{"stdout"}
	if logPath != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, logPath)
	}
	if !debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "Chorus server URL")
	serverName := flag.String("server-name", "loadtest", "Name of the server the bots chat in")
	numClients := flag.Int("clients", 10, "Number of concurrent clients")
	duration := flag.Duration("duration", 1*time.Minute, "Test duration")
	minDelay := flag.Duration("min-delay", 100*time.Millisecond, "Minimum delay between posts")
	maxDelay := flag.Duration("max-delay", 1*time.Second, "Maximum delay between posts")
	logPath := flag.String("log", "loadtest.log", "Also write the log to this file (empty to disable)")
	debug := flag.Bool("debug", false, "Log every failed request")
	flag.Parse()

	if *numClients < 1 || *maxDelay < *minDelay {
		fmt.Fprintln(os.Stderr, "need -clients >= 1 and -max-delay >= -min-delay")
		os.Exit(2)
	}

	log, err := newLogger(*logPath, *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := Config{
		ServerURL:  strings.TrimRight(*serverURL, "/"),
		ServerName: *serverName,
		Clients:    *numClients,
		Duration:   *duration,
		MinDelay:   *minDelay,
		MaxDelay:   *maxDelay,
		StatsEvery: 5 * time.Second,
	}
	stats, err := runLoad(ctx, cfg, log)
	if err != nil {
		log.Fatalw("load test failed", "error", err)
	}
	stats.report(log, cfg, cfg.Clients)
}

// runLoad ramps clients up over the first quarter of the duration, lets them
// post until it ends and ramps them down in reverse order.
func runLoad(ctx context.Context, cfg Config, log *zap.SugaredLogger) (*Stats, error) {
	target, err := prepareTarget(ctx, cfg.ServerURL, cfg.ServerName, log)
	if err != nil {
		return nil, err
	}

	rampUpDuration := cfg.Duration / 4
	staggerDelay := rampUpDuration / time.Duration(cfg.Clients)
	if staggerDelay < time.Millisecond {
		staggerDelay = time.Millisecond
	}

	log.Infof("Starting load test:")
	log.Infof("  Server: %s (channel %s)", cfg.ServerURL, target.ChannelID)
	log.Infof("  Clients: %d", cfg.Clients)
	log.Infof("  Duration: %v", cfg.Duration)
	log.Infof("  Ramp-up: %v (%v per client)", rampUpDuration, staggerDelay)
	log.Infof("  Delay: %v - %v", cfg.MinDelay, cfg.MaxDelay)

	stats := &Stats{}
	stopStats := make(chan struct{})
	var reporter sync.WaitGroup
	reporter.Add(1)
	go func() {
		defer reporter.Done()
		reportPeriodically(stats, cfg.StatsEvery, stopStats, log)
	}()

	var wg sync.WaitGroup
spawn:
	for i := 0; i < cfg.Clients; i++ {
		// Reverse order for ramp-down
		shutdownDelay := staggerDelay * time.Duration(cfg.Clients-i-1)

		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			bot := NewBotClient(id, stats, log)
			if err := bot.Connect(ctx, cfg.ServerURL); err != nil {
				stats.recordConnectionError()
				log.Debugw("connect failed", "bot", id, "error", err)
				return
			}
			if err := bot.Setup(ctx, target); err != nil {
				stats.recordConnectionError()
				log.Debugw("setup failed", "bot", id, "error", err)
				bot.Close()
				return
			}
			stats.successfulClients.Add(1)

			// Only log every 100th client during ramp-up
			if id%100 == 0 {
				log.Infof("[Bot %d] Connected as %s", id, bot.username)
			}
			bot.Run(ctx, cfg.Duration, cfg.MinDelay, cfg.MaxDelay, shutdownDelay)
		}(i)

		select {
		case <-ctx.Done():
			log.Infof("Shutdown signal received, stopping test...")
			break spawn
		case <-time.After(staggerDelay):
		}
	}

	wg.Wait()
	close(stopStats)
	reporter.Wait()
	return stats, nil
}

func reportPeriodically(stats *Stats, every time.Duration, stop <-chan struct{}, log *zap.SugaredLogger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	startTime := time.Now()
	for {
		select {
		case <-ticker.C:
			snap := stats.snapshot()
			rate := float64(snap.Posted) / time.Since(startTime).Seconds()
			log.Infof("Stats: %d posted (%.1f/s), %d failed, %d conn errors, avg %.2fms, echo %.2fms, load %.2f, goroutines %d",
				snap.Posted, rate, snap.Failed, snap.ConnErrors, snap.AvgResponseUs/1000, snap.AvgEchoUs/1000,
				getCPULoad(), runtime.NumGoroutine())
		case <-stop:
			return
		}
	}
}
