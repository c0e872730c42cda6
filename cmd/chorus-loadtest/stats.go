package main

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Stats tracks performance metrics
type Stats struct {
	messagesPosted    atomic.Int64
	messagesFailed    atomic.Int64
	totalResponseTime atomic.Int64 // in microseconds
	connectionErrors  atomic.Int64
	successfulClients atomic.Int64 // clients that signed up, connected and joined

	// Feed echo of our own posts
	echoesReceived atomic.Int64
	totalEchoTime  atomic.Int64 // in microseconds
	othersReceived atomic.Int64 // posts by other bots seen on the feed

	// Detailed failure tracking
	postFailures   atomic.Int64
	rateLimited    atomic.Int64
	authFailures   atomic.Int64
	fetchFailures  atomic.Int64
	disconnections atomic.Int64

	// Setup failure breakdown
	setupSignUpFailed    atomic.Int64
	setupConnectFailed   atomic.Int64
	setupJoinFailed      atomic.Int64
	setupSubscribeFailed atomic.Int64
}

func (s *Stats) recordSuccess(responseTimeUs int64) {
	s.messagesPosted.Add(1)
	s.totalResponseTime.Add(responseTimeUs)
}

func (s *Stats) recordEcho(echoTimeUs int64) {
	s.echoesReceived.Add(1)
	s.totalEchoTime.Add(echoTimeUs)
}

func (s *Stats) recordPostFailure() {
	s.messagesFailed.Add(1)
	s.postFailures.Add(1)
}

func (s *Stats) recordRateLimited() {
	s.messagesFailed.Add(1)
	s.rateLimited.Add(1)
}

func (s *Stats) recordAuthFailure() {
	s.messagesFailed.Add(1)
	s.authFailures.Add(1)
}

func (s *Stats) recordFetchFailure() {
	s.fetchFailures.Add(1)
}

func (s *Stats) recordConnectionError() {
	s.connectionErrors.Add(1)
}

func (s *Stats) recordDisconnection() {
	s.disconnections.Add(1)
}

// Snapshot is a point-in-time copy of the headline numbers.
type Snapshot struct {
	Posted, Failed, ConnErrors int64
	Echoes, Others             int64
	AvgResponseUs, AvgEchoUs   float64
}

func (s *Stats) snapshot() Snapshot {
	snap := Snapshot{
		Posted:     s.messagesPosted.Load(),
		Failed:     s.messagesFailed.Load(),
		ConnErrors: s.connectionErrors.Load(),
		Echoes:     s.echoesReceived.Load(),
		Others:     s.othersReceived.Load(),
	}
	if snap.Posted > 0 {
		snap.AvgResponseUs = float64(s.totalResponseTime.Load()) / float64(snap.Posted)
	}
	if snap.Echoes > 0 {
		snap.AvgEchoUs = float64(s.totalEchoTime.Load()) / float64(snap.Echoes)
	}
	return snap
}

// report logs the final breakdown.
func (s *Stats) report(log *zap.SugaredLogger, cfg Config, attempted int) {
	snap := s.snapshot()
	successful := s.successfulClients.Load()
	rate := float64(snap.Posted) / cfg.Duration.Seconds()

	// Expected throughput based on successful clients
	avgDelay := (cfg.MinDelay + cfg.MaxDelay) / 2
	expectedPerClient := 0.0
	if avgDelay > 0 {
		expectedPerClient = float64(cfg.Duration) / float64(avgDelay)
	}
	expectedTotal := expectedPerClient * float64(successful)
	efficiency := 0.0
	if expectedTotal > 0 {
		efficiency = float64(snap.Posted) / expectedTotal * 100
	}

	log.Infof("=== Final Results ===")
	log.Infof("Clients: %d attempted, %d successful (%.1f%%)", attempted, successful, percent(successful, int64(attempted)))
	log.Infof("Duration: %v", cfg.Duration)
	log.Infof("Messages posted: %d (%.1f/s)", snap.Posted, rate)
	log.Infof("Messages failed: %d", snap.Failed)
	log.Infof("  - Post failures: %d", s.postFailures.Load())
	log.Infof("  - Rate limited: %d", s.rateLimited.Load())
	log.Infof("  - Authorization failures: %d", s.authFailures.Load())
	log.Infof("Fetch failures: %d", s.fetchFailures.Load())
	log.Infof("Feed disconnections: %d", s.disconnections.Load())
	log.Infof("Connection errors: %d", snap.ConnErrors)
	if snap.ConnErrors > 0 {
		log.Infof("  Setup phase breakdown:")
		log.Infof("    - Sign up failed: %d", s.setupSignUpFailed.Load())
		log.Infof("    - Connect failed: %d", s.setupConnectFailed.Load())
		log.Infof("    - Join server failed: %d", s.setupJoinFailed.Load())
		log.Infof("    - Subscribe failed: %d", s.setupSubscribeFailed.Load())
	}
	log.Infof("Average response time: %.2fms", snap.AvgResponseUs/1000)
	log.Infof("Feed echoes: %d of %d posts (%.1f%%), average %.2fms", snap.Echoes, snap.Posted, percent(snap.Echoes, snap.Posted), snap.AvgEchoUs/1000)
	log.Infof("Fan-out deliveries from other clients: %d", snap.Others)
	log.Infof("Expected throughput: %.0f messages (%.1f per client)", expectedTotal, expectedPerClient)
	log.Infof("Actual vs expected: %.1f%% efficiency", efficiency)
	if snap.Posted+snap.Failed > 0 {
		log.Infof("Success rate: %.1f%%", percent(snap.Posted, snap.Posted+snap.Failed))
	}
}

func percent(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}
