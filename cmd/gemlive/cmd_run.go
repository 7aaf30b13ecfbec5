package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/enesunal-m/gemlive"
	"github.com/enesunal-m/gemlive/device"
	"github.com/enesunal-m/gemlive/observe"
)

type runFlags struct {
	wake       string
	sleepAfter string
	camera     bool
	observe    string
	record     string
	control    bool
}

func newRunCmd(root *rootFlags) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a voice session and keep it running until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root.configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("wake") {
				cfg.WakePhrase = flags.wake
			}
			if cmd.Flags().Changed("sleep-after") {
				cfg.SleepAfter = flags.sleepAfter
			}
			if cmd.Flags().Changed("camera") {
				cfg.Camera = flags.camera
			}
			if cmd.Flags().Changed("observe") {
				cfg.Observer.Addr = flags.observe
			}
			return run(cmd.Context(), cfg, flags)
		},
	}
	cmd.Flags().StringVar(&flags.wake, "wake", "", "wake phrase; the session starts asleep until it is heard")
	cmd.Flags().StringVar(&flags.sleepAfter, "sleep-after", "", "go back to sleep after this long without activity")
	cmd.Flags().BoolVar(&flags.camera, "camera", false, "allow the agent to turn the camera on")
	cmd.Flags().StringVar(&flags.observe, "observe", "", "serve state for renderers on this address, e.g. :8080")
	cmd.Flags().BoolVar(&flags.control, "control", false, "expose session start/stop/sleep on the observer")
	cmd.Flags().StringVar(&flags.record, "record", "", "write agent speech to this WAV file on exit")
	return cmd
}

func run(ctx context.Context, cfg fileConfig, flags *runFlags) error {
	log := cfg.logger()
	defer func() { _ = log.Sync() }()

	sleepAfter, err := cfg.sleepAfter()
	if err != nil {
		return err
	}

	speaker, err := device.NewSpeaker(gemlive.OutputSampleRate, 0, log)
	if err != nil {
		return err
	}
	defer speaker.Close()

	opts := gemlive.Options{
		Transport:  cfg.transport(log),
		Setup:      cfg.setup(),
		DialRetry:  cfg.retry(),
		Microphone: &device.Microphone{Log: log},
		Output:     speaker,
		WakePhrase: cfg.WakePhrase,
		SleepAfter: sleepAfter,
		Logger:     log,
	}
	if cfg.Camera {
		opts.Camera = &device.Camera{Width: 640, Height: 480, Log: log}
	}
	var rec *recorder
	if flags.record != "" {
		rec = &recorder{}
		opts.OnAgentAudio = rec.add
	}

	engine, err := gemlive.NewEngine(opts)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Observer.Addr != "" {
		srvOpts := observe.Options{AllowedOrigins: cfg.Observer.AllowedOrigins, Logger: log}
		if oc, ok := cfg.oidc(); ok {
			v, err := observe.NewOIDCVerifier(ctx, oc)
			if err != nil {
				_ = engine.Close()
				return err
			}
			srvOpts.Verifier = v
		}
		if flags.control {
			srvOpts.Control = engine
		}
		srv := observe.New(engine, srvOpts)
		g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Observer.Addr) })
	}

	g.Go(func() error {
		updates, unsubscribe := engine.Subscribe(16)
		defer unsubscribe()
		var last string
		active := false
		for {
			select {
			case <-gctx.Done():
				return nil
			case snap, ok := <-updates:
				if !ok {
					return nil
				}
				if snap.Status != last {
					last = snap.Status
					fmt.Fprintln(os.Stderr, "●", snap.Status)
				}
				// Without a controller nothing restarts an ended session.
				switch {
				case snap.State.Active():
					active = true
				case active && snap.State == gemlive.StateIdle && !flags.control:
					return fmt.Errorf("session ended: %s", snap.Status)
				}
			}
		}
	})

	g.Go(func() error {
		if err := engine.Start(gctx); err != nil {
			return fmt.Errorf("%s: %w", gemlive.StatusText(err), err)
		}
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	if cerr := engine.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if rec != nil {
		if werr := rec.write(flags.record); werr != nil {
			log.Error("record_write_failed", map[string]any{"path": flags.record, "err": werr.Error()})
		}
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// recorder collects agent speech for --record.
type recorder struct {
	mu   sync.Mutex
	pcm  []byte
	rate int
}

func (r *recorder) add(pcm []byte, rate int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rate == 0 {
		r.rate = rate
	}
	r.pcm = append(r.pcm, pcm...)
}

func (r *recorder) write(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rate := r.rate
	if rate == 0 {
		rate = gemlive.OutputSampleRate
	}
	return os.WriteFile(path, gemlive.WAVFromPCM16Mono(r.pcm, rate), 0o644)
}
