// cmd/displaylink/run.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tamzrod/display-link/internal/content"
	"github.com/tamzrod/display-link/internal/dispatch"
	"github.com/tamzrod/display-link/internal/display"
	"github.com/tamzrod/display-link/internal/link"
	"github.com/tamzrod/display-link/internal/protocol"
	"github.com/tamzrod/display-link/internal/runner"
	"github.com/tamzrod/display-link/internal/status"
	"github.com/tamzrod/display-link/internal/statusapi"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the display and keep it up to date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx)
		},
	}
}

func run(ctx context.Context) error {
	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	// --------------------
	// Build the pipeline
	// --------------------

	codec := protocol.NewCodec(limits(cfg))

	tr, err := buildTransport(cfg, codec, log)
	if err != nil {
		return err
	}

	lc := linkConfig(cfg)
	machine := link.New(lc, tr, codec, log.Named("link"))

	composer, err := display.NewComposer(codec.Limits(), budgets(cfg))
	if err != nil {
		return err
	}
	engine := display.NewEngine(cfg.Display.DiffThreshold)

	disp := dispatch.New(dispatch.Config{
		Pacing:       cfg.Dispatch.Pacing(),
		RefreshAfter: cfg.Dispatch.RefreshAfter == nil || *cfg.Dispatch.RefreshAfter,
		ClearRegions: cfg.Dispatch.ClearRegions,
	}, codec, machine, log.Named("dispatch"))
	defer disp.Close()

	poller, err := content.NewPoller(content.NewFileSource(cfg.Content.File), cfg.Content.PollInterval())
	if err != nil {
		return err
	}

	tracker := status.NewTracker(cfg.Content.ErrorAfter)
	defer tracker.Close()

	r, err := runner.New(runner.Config{BrightnessSteps: cfg.Input.BrightnessSteps}, runner.Deps{
		Poller:     poller,
		Composer:   composer,
		Engine:     engine,
		Dispatcher: disp,
		Link:       machine,
		Tracker:    tracker,
	}, log.Named("runner"))
	if err != nil {
		return err
	}

	// --------------------
	// Start
	// --------------------

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 4)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("component stopped", "component", name, "error", err)
				errCh <- err
				cancel()
			}
		}()
	}

	start("link", machine.Run)
	start("runner", r.Run)
	start("status", func(ctx context.Context) error { tracker.Run(ctx); return nil })

	if cfg.API.Listen != "" {
		api := statusapi.New(cfg.API.Listen, statusapi.Deps{
			Link:          machine,
			Runner:        r,
			Tracker:       tracker,
			States:        machine.States,
			Notifications: machine.Notifications,
			Reports:       disp.Reports,
		}, log.Named("api"))
		start("api", api.Run)
	}

	if autoConnect(lc) {
		log.Info("scanning for display", "device_id", lc.AutoSelectID, "device_name", lc.AutoSelectName)
		if err := machine.StartScan(); err != nil {
			log.Warn("initial scan rejected", "error", err)
		}
	} else {
		log.Info("no device configured, waiting for a connect request")
	}

	<-ctx.Done()
	wg.Wait()
	log.Info("stopped")

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}
