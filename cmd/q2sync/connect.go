package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/themuffinator/q2repro-test-sub001/internal/cl"
	"github.com/themuffinator/q2repro-test-sub001/internal/gateway"
	"github.com/themuffinator/q2repro-test-sub001/internal/proto"
	"github.com/themuffinator/q2repro-test-sub001/internal/sv"
)

type connectOptions struct {
	name      string
	password  string
	token     string
	profile   string
	rate      int
	noGun     bool
	noBlend   bool
	noPredict bool
	noFrag    bool
	frames    int
	every     int
}

func connectCmd(lf *logFlags) *cobra.Command {
	var o connectOptions

	cmd := &cobra.Command{
		Use:   "connect URL",
		Short: "Run a headless client that decodes and logs snapshots",
		Long: `Connect to a q2sync gateway, decode every frame and log a snapshot
summary at a fixed interval.

Examples:
  q2sync connect ws://localhost:27910/ws
  q2sync connect ws://localhost:27910/ws --profile=legacy --no-frag --frames=600`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := lf.logger()
			if err != nil {
				return err
			}
			return runConnect(cmd.Context(), args[0], o, log)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.name, "name", "", "Player name (default: random guest name)")
	f.StringVar(&o.password, "password", "", "Server password")
	f.StringVar(&o.token, "token", "", "Connect token from /auth")
	f.StringVar(&o.profile, "profile", "extended", "Requested wire profile (legacy, extended)")
	f.IntVar(&o.rate, "rate", sv.DefaultRate, "Rate in bytes per second")
	f.BoolVar(&o.noGun, "no-gun", false, "Ignore gun updates")
	f.BoolVar(&o.noBlend, "no-blend", false, "Ignore screen blend updates")
	f.BoolVar(&o.noPredict, "no-predict", false, "Ignore prediction fields")
	f.BoolVar(&o.noFrag, "no-frag", false, "Use the non-fragmenting channel")
	f.IntVar(&o.frames, "frames", 0, "Stop after this many frames (0 runs until interrupted)")
	f.IntVar(&o.every, "log-every", 10, "Log a snapshot every N frames")

	return cmd
}

func runConnect(ctx context.Context, url string, o connectOptions, log *slog.Logger) error {
	profile, err := proto.ParseProfile(o.profile)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var settings proto.Settings
	if o.noGun {
		settings |= proto.SettingNoGun
	}
	if o.noBlend {
		settings |= proto.SettingNoBlend
	}
	if o.noPredict {
		settings |= proto.SettingNoPredict
	}
	every := max(o.every, 1)

	frames := 0
	handlers := cl.Handlers{
		Frame: func(c *cl.Client) {
			frames++
			if frames%every == 0 {
				snap := c.Snapshot()
				st := c.Stats()
				log.Info("snapshot",
					"frame", snap.Frame,
					"entities", len(snap.Entities),
					"origin", snap.PS.PMove.WorldOrigin(),
					"full", st.FullFrames,
					"invalid", st.InvalidFrames,
					"suppressed", st.SuppressedFrames)
			}
			if o.frames > 0 && frames >= o.frames {
				cancel()
			}
		},
		Print: func(level int, text string) {
			log.Info("print", "level", level, "text", text)
		},
		Disconnect: func(reason string) {
			log.Info("disconnected by server", "reason", reason)
		},
	}

	remote, err := gateway.Dial(ctx, url, gateway.DialConfig{
		Request: gateway.ConnectRequest{
			Name:        o.name,
			Token:       o.token,
			Password:    o.password,
			Profile:     uint8(profile),
			Rate:        o.rate,
			Settings:    uint8(settings),
			Fragmenting: !o.noFrag,
		},
		Handlers: handlers,
		Logger:   log,
	})
	if err != nil {
		return err
	}
	sd := remote.ServerData()
	log.Info("connected", "level", sd.Level, "name", sd.Name, "player", sd.PlayerNum,
		"profile", proto.Profile(sd.Profile).String(), "tickrate", sd.TickRate)

	err = remote.Run(ctx)
	var de *cl.DisconnectError
	switch {
	case errors.Is(err, context.Canceled), errors.As(err, &de):
		st := remote.Client().Stats()
		log.Info("done", "frames", st.FramesParsed, "entities", st.EntitiesParsed,
			"full", st.FullFrames, "invalid", st.InvalidFrames)
		return nil
	}
	return err
}
