package main

import (
	"context"
	"fmt"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/santerog80-rgb/Talkio/internal/auth"
	"github.com/santerog80-rgb/Talkio/internal/call"
	"github.com/santerog80-rgb/Talkio/internal/config"
	"github.com/santerog80-rgb/Talkio/internal/domain"
	"github.com/santerog80-rgb/Talkio/internal/presence"
	"github.com/santerog80-rgb/Talkio/internal/relay"
	"github.com/santerog80-rgb/Talkio/internal/rtc"
	"github.com/santerog80-rgb/Talkio/internal/store"
)

const helpText = `talkio - Talkio calling and presence client

Connects to the Talkio backend, publishes presence for the authenticated
user and answers incoming calls. With TALKIO_CALL set, places an outbound
call to that user id.

Environment Variables:
  TALKIO_TOKEN       Access token of the authenticated user (required)
  TALKIO_URL         Backend project URL (rest store / realtime relay)
  TALKIO_API_KEY     Backend project API key
  TALKIO_STORE       Data store backend: rest (default) or postgres
  TALKIO_DB_URL      Postgres connection string (postgres store)
  TALKIO_RELAY       Relay backend: realtime (default) or redis
  TALKIO_REDIS_ADDR  Redis address (redis relay), default localhost:6379
  TALKIO_CALL        User id to call on startup
  TALKIO_CALL_TIMEOUT  Pending call timeout in seconds, default 45
  TALKIO_HEARTBEAT   Presence heartbeat in seconds, default 30, 0 disables

Options:
  -h, --help  Show this help message
`

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[main] %v", err)
	}

	userID, err := auth.UserID(cfg.Token, cfg.JWTSecret)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	log.Printf("[main] authenticated as %s", userID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %s, shutting down", sig)
		cancel()
	}()

	// Step 1: data store
	var data domain.DataStore
	switch cfg.Store {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("[main] connect postgres: %v", err)
		}
		defer pool.Close()
		data = store.NewPostgres(pool)
	default:
		data = store.NewREST(cfg.URL, cfg.APIKey, cfg.Token)
	}

	// Step 2: relay channel
	var relayCh domain.RelayChannel
	var publisher domain.RelayPublisher
	switch cfg.Relay {
	case "redis":
		r, err := relay.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, 0)
		if err != nil {
			log.Fatalf("[main] %v", err)
		}
		defer r.Close()
		relayCh = r
		publisher = r
	default:
		relayCh = relay.NewRealtime(cfg.URL, cfg.APIKey, cfg.Token)
	}

	signals := store.NewSignals(data, publisher)
	profiles := store.NewProfiles(data)

	// Step 3: signaling router
	router := call.NewRouter(userID, signals, relayCh, rtc.Factory(cfg.ICEURLs), call.Config{
		PendingTimeout: cfg.CallTimeout,
	})
	router.Register(call.Observer{
		IncomingCall: func(s *call.Session) {
			log.Printf("[main] incoming call from %s, answering", s.RemoteUser)
			if err := s.Accept(ctx); err != nil {
				log.Printf("[main] accept: %v", err)
			}
		},
		RemoteTrack: func(s *call.Session, track domain.TrackInfo) {
			log.Printf("[main] remote %s track (%s) from %s", track.Kind, track.Codec, s.RemoteUser)
		},
		ConnectionState: func(s *call.Session, state domain.TransportState) {
			log.Printf("[main] call with %s: %s", s.RemoteUser, state)
		},
		CallEnded: func(remoteUser string, reason call.EndReason, detail string) {
			if detail != "" {
				log.Printf("[main] call with %s ended: %s (%s)", remoteUser, reason, detail)
				return
			}
			log.Printf("[main] call with %s ended: %s", remoteUser, reason)
		},
	})
	if err := router.Start(ctx); err != nil {
		log.Fatalf("[main] %v", err)
	}

	// Step 4: presence
	tracker := presence.New(profiles, userID, presence.WithHeartbeat(cfg.HeartbeatInterval))
	tracker.Start(ctx)

	// Step 5: optional outbound call
	if cfg.CallTarget != "" {
		log.Printf("[main] calling %s", cfg.CallTarget)
		if _, err := router.Call(ctx, cfg.CallTarget); err != nil {
			log.Printf("[main] call %s: %v", cfg.CallTarget, err)
		}
	}

	<-ctx.Done()
	log.Printf("[main] shutting down")

	router.Close()

	// The offline write must land before the process exits.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := tracker.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] publish offline: %v", err)
	}

	log.Printf("[main] done")
}
