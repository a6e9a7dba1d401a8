package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/themuffinator/q2repro-test-sub001/internal/auth"
	"github.com/themuffinator/q2repro-test-sub001/internal/gateway"
	"github.com/themuffinator/q2repro-test-sub001/internal/metrics"
	"github.com/themuffinator/q2repro-test-sub001/internal/proto"
	"github.com/themuffinator/q2repro-test-sub001/internal/sim"
	"github.com/themuffinator/q2repro-test-sub001/internal/store"
	"github.com/themuffinator/q2repro-test-sub001/internal/sv"
)

type serveOptions struct {
	addr       string
	publicURL  string
	tickRate   int
	maxClients int
	rate       int
	db         string
	password   string
	secret     string
	profile    string
	level      string
	entities   int
	bots       int
	items      int
	legacyGame bool
	seed       int64
}

func serveCmd(lf *logFlags) *cobra.Command {
	var o serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tick server and websocket gateway",
		Long: `Run the authoritative server over a simulated arena.

Routes:
  /ws           websocket endpoint (msgpack handshake, then netchan packets)
  /auth         POST name/password for a connect token
  /status       JSON server and session status
  /sessions/ID  JSON status of one session
  /connect.png  QR code of the websocket URL
  /metrics      Prometheus metrics

Examples:
  q2sync serve
  q2sync serve --addr=:27910 --tickrate=20 --db=q2sync.db
  q2sync serve --legacy-game --profile=legacy --password=secret`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := lf.logger()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), o, log)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.addr, "addr", ":27910", "HTTP listen address")
	f.StringVar(&o.publicURL, "public-url", "", "Websocket URL advertised by /connect.png (default from request)")
	f.IntVar(&o.tickRate, "tickrate", sv.DefaultTickRate, "Ticks per second")
	f.IntVar(&o.maxClients, "max-clients", sv.DefaultMaxClients, "Client slots")
	f.IntVar(&o.rate, "rate", sv.DefaultRate, "Default client rate in bytes per second")
	f.StringVar(&o.db, "db", "", "SQLite database for sessions and settings (empty disables persistence)")
	f.StringVar(&o.password, "password", "", "Server password (empty admits everyone)")
	f.StringVar(&o.secret, "secret", "", "Connect token secret (default: generated and stored in --db)")
	f.StringVar(&o.profile, "profile", "extended", "Best wire profile offered (legacy, extended)")
	f.StringVar(&o.level, "level", "base1", "Level name")
	f.IntVar(&o.entities, "entities", 512, "Entity slots in the simulated world")
	f.IntVar(&o.bots, "bots", 24, "Bots in the simulated world")
	f.IntVar(&o.items, "items", 16, "Items in the simulated world")
	f.BoolVar(&o.legacyGame, "legacy-game", false, "Run the simulation through the legacy game API")
	f.Int64Var(&o.seed, "seed", 1, "Simulation random seed")

	return cmd
}

func runServe(ctx context.Context, o serveOptions, log *slog.Logger) error {
	profile, err := proto.ParseProfile(o.profile)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var settings auth.Settings
	var srvOpts []sv.Option
	if o.db != "" {
		db, err := store.OpenDB(o.db)
		if err != nil {
			return fmt.Errorf("open %s: %w", o.db, err)
		}
		defer db.Close()
		netlog := store.NewNetLog(db, log)
		defer netlog.Stop()
		settings = db
		srvOpts = append(srvOpts, sv.WithObserver(netlog))
	}

	a, err := auth.New(o.password, o.secret, settings, log)
	if err != nil {
		return err
	}

	wcfg := sim.DefaultConfig()
	wcfg.MaxClients = o.maxClients
	wcfg.MaxEntities = o.entities
	wcfg.Bots = o.bots
	wcfg.Items = o.items
	wcfg.TickRate = o.tickRate
	wcfg.Seed = o.seed
	var game interface {
		sv.Game
		sv.Oracle
	}
	if o.legacyGame {
		game = sim.NewLegacy(wcfg, log)
	} else {
		game = sim.NewWorld(wcfg, log)
	}

	cfg := sv.DefaultConfig()
	cfg.TickRate = o.tickRate
	cfg.MaxClients = o.maxClients
	cfg.DefaultRate = o.rate
	cfg.Profile = profile
	srvOpts = append(srvOpts, sv.WithLogger(log), sv.WithRecorder(metrics.New()))
	srv := sv.New(cfg, game, game, srvOpts...)
	if err := srv.SpawnLevel(o.level); err != nil {
		return err
	}
	go srv.Run()
	defer srv.Stop()

	hub := gateway.NewHub(srv, a, gateway.Config{PublicURL: o.publicURL}, log)
	server := &http.Server{
		Addr:              o.addr,
		Handler:           hub.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", o.addr, "tickrate", cfg.TickRate, "profile", srv.Config().Profile.String(),
			"game", game.Variant().String(), "password", a.PasswordRequired())
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	srv.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
