// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// duplexd is a minimal demonstration of the duplex transport: it opens
// a UDP socket, rendezvous-connects to a peer, exchanges a handful of
// reliable and unreliable messages, and logs what it delivers. It is
// not a production service — just enough wiring to exercise the whole
// stack end to end from the command line.
//
// Usage:
//
//	duplexd --listen :9000 --peer 203.0.113.7:9000
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/coldharbor/duplex/lib/config"
	"github.com/coldharbor/duplex/punch"
	"github.com/coldharbor/duplex/socket"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "duplexd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var listenAddr, peerAddr, configPath string
	var debug bool

	flagSet := pflag.NewFlagSet("duplexd", pflag.ContinueOnError)
	flagSet.StringVar(&listenAddr, "listen", ":0", "local UDP address to bind")
	flagSet.StringVar(&peerAddr, "peer", "", "remote peer's rendezvous address (host:port)")
	flagSet.StringVar(&configPath, "config", "", "path to duplex.yaml (defaults to DUPLEX_CONFIG, then built-in defaults)")
	flagSet.BoolVar(&debug, "debug", false, "enable debug logging")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if peerAddr == "" {
		return fmt.Errorf("--peer is required")
	}

	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	udpAddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return fmt.Errorf("resolving --listen %q: %w", listenAddr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", listenAddr, err)
	}
	logger.Info("listening", "local", conn.LocalAddr().String())

	remoteAddr, err := net.ResolveUDPAddr("udp", peerAddr)
	if err != nil {
		return fmt.Errorf("resolving --peer %q: %w", peerAddr, err)
	}

	keepAlive, receiveTimeout, pacer := cfg.Socket.Parsed()
	socketCfg := socket.Config{
		KeepAlivePeriod:            keepAlive,
		ReceiveTimeoutPeriod:       receiveTimeout,
		PacerMicrosPerByte:         pacer,
		MaxPendingReliableMessages: cfg.Socket.MaxPendingReliableMessages,
	}

	retryInterval, timeout := punchTunables(cfg)
	racer := punch.NewUDPRacer(retryInterval, timeout)
	var puncher socket.Puncher = racer
	if len(cfg.Punch.STUNServers) > 0 {
		puncher = &punch.STUNReflexive{Racer: racer, Servers: cfg.Punch.STUNServers, Logger: logger}
	}

	ep := socket.New(conn, puncher,
		socket.WithLogger(logger),
		socket.WithConfig(socketCfg),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	connectErr := make(chan error, 1)
	ep.RendezvousConnect(remoteAddr, func(err error) { connectErr <- err })

	select {
	case err := <-connectErr:
		if err != nil {
			return fmt.Errorf("rendezvous connect to %s: %w", peerAddr, err)
		}
	case <-ctx.Done():
		_ = ep.Close()
		return ctx.Err()
	}
	logger.Info("connected", "remote", ep.RemoteAddr())

	sessionID := uuid.New()
	logger.Info("session established", "session", sessionID.String())

	installReceivers(ep, logger)

	go pumpStdin(ep, logger)

	<-ctx.Done()
	logger.Info("shutting down")
	return ep.Close()
}

// installReceivers registers both stream callbacks, re-arming itself
// after every delivery so the demo keeps receiving for the life of the
// process.
func installReceivers(ep *socket.Endpoint, logger *slog.Logger) {
	var onReliable func(payload []byte, err error)
	onReliable = func(payload []byte, err error) {
		if err != nil {
			logger.Warn("reliable stream closed", "error", err)
			return
		}
		logger.Info("reliable message", "bytes", len(payload), "payload", string(payload))
		ep.ReceiveReliable(onReliable)
	}
	ep.ReceiveReliable(onReliable)

	var onUnreliable func(payload []byte, err error)
	onUnreliable = func(payload []byte, err error) {
		if err != nil {
			logger.Warn("unreliable stream closed", "error", err)
			return
		}
		logger.Info("unreliable message", "bytes", len(payload), "payload", string(payload))
		ep.ReceiveUnreliable(onUnreliable)
	}
	ep.ReceiveUnreliable(onUnreliable)
}

// pumpStdin reads lines from stdin and sends each as a reliable
// message, or as unreliable when prefixed with "!". This is the demo's
// only input surface — there's no framing beyond newlines.
func pumpStdin(ep *socket.Endpoint, logger *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if line[0] == '!' {
			if err := ep.SendUnreliable([]byte(line[1:])); err != nil {
				logger.Warn("sending unreliable message", "error", err)
			}
			continue
		}
		if err := ep.SendReliable([]byte(line)); err != nil {
			logger.Warn("sending reliable message", "error", err)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("reading stdin", "error", err)
	}
}

func handleSignals(cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
	cancel()
}

// loadConfig resolves configuration from --config, then DUPLEX_CONFIG,
// falling back to built-in defaults if neither is set — unlike
// lib/config.Load, a demo binary shouldn't refuse to start just
// because no config file was provided.
func loadConfig(explicitPath string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	switch {
	case explicitPath != "":
		cfg, err = config.LoadFile(explicitPath)
	case os.Getenv("DUPLEX_CONFIG") != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func punchTunables(cfg *config.Config) (retryInterval, timeout time.Duration) {
	retryInterval, err := time.ParseDuration(cfg.Punch.RetryInterval)
	if err != nil {
		retryInterval = 250 * time.Millisecond
	}
	timeout, err = time.ParseDuration(cfg.Punch.Timeout)
	if err != nil {
		timeout = 30 * time.Second
	}
	return retryInterval, timeout
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `duplexd — exchange reliable/unreliable messages with a rendezvous peer.

Usage:
  duplexd --peer host:port [flags]

Lines typed on stdin are sent as reliable messages. Prefix a line with
"!" to send it unreliably instead. Delivered messages from the peer
are logged to stderr.

Examples:
  # Listen on an ephemeral port and connect out to a known peer
  duplexd --peer 203.0.113.7:9000

  # Both sides listening on a fixed port for a LAN test
  duplexd --listen :9000 --peer 127.0.0.1:9001
  duplexd --listen :9001 --peer 127.0.0.1:9000

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
