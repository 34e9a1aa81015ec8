package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/rangesweep/internal/acquisition"
	"github.com/banshee-data/rangesweep/internal/config"
	"github.com/banshee-data/rangesweep/internal/monitoring"
	"github.com/banshee-data/rangesweep/internal/rangefinder"
	"github.com/banshee-data/rangesweep/internal/render"
	"github.com/banshee-data/rangesweep/internal/scan"
	"github.com/banshee-data/rangesweep/internal/shutdown"
	"github.com/banshee-data/rangesweep/internal/sweepstream"
	"github.com/banshee-data/rangesweep/internal/version"
)

type runOptions struct {
	pngPath  string
	duration time.Duration
	signals  []os.Signal
	// driver overrides the driver selected by the config.
	driver rangefinder.Driver
	// ready, when set, receives the debug server address once listening.
	ready chan<- string
	// streamReady, when set, receives the frame stream address once
	// listening.
	streamReady chan<- string
}

func newDriver(cfg *config.SweepConfig) (rangefinder.Driver, error) {
	switch cfg.GetDriver() {
	case "sim":
		return rangefinder.NewSimulated(rangefinder.DefaultSimConfig()), nil
	case "serial":
		return rangefinder.NewBridge(rangefinder.BridgeConfig{MaxScanSamples: cfg.GetMaxScanSamples()}), nil
	}
	return nil, fmt.Errorf("unknown driver %q", cfg.GetDriver())
}

func sessionConfig(cfg *config.SweepConfig) acquisition.Config {
	return acquisition.Config{
		Port: rangefinder.PortConfig{
			Port:        cfg.GetPort(),
			BaudRate:    cfg.GetBaudRate(),
			DataBits:    cfg.GetDataBits(),
			StopBits:    cfg.GetStopBits(),
			Parity:      cfg.GetParity(),
			ReadTimeout: cfg.GetReadTimeout(),
		},
		TransientBackoff: cfg.GetTransientBackoff(),
		CriticalBackoff:  cfg.GetCriticalBackoff(),
		ResyncSettle:     cfg.GetResyncSettle(),
		EscalateAfter:    cfg.GetEscalateAfter(),
	}
}

// run wires the pipeline and blocks until shutdown completes. Acquisition
// runs on its own goroutine; the render loop runs on the caller's.
func run(cfg *config.SweepConfig, opts runOptions) error {
	logger, err := monitoring.NewLogger("sweepview", cfg.GetLogLevel())
	if err != nil {
		return err
	}
	monitoring.SetLogger(logger)
	defer func() { _ = logger.Sync() }()

	style, err := render.ParseStyle(cfg.GetRenderStyle())
	if err != nil {
		return err
	}
	driver := opts.driver
	if driver == nil {
		if driver, err = newDriver(cfg); err != nil {
			return err
		}
	}

	sd := shutdown.New()
	if len(opts.signals) > 0 {
		stop := sd.NotifyOnSignal(opts.signals...)
		defer stop()
	}

	history := scan.NewHistory(cfg.GetHistorySize())
	session := acquisition.NewSession(sessionConfig(cfg), driver, history, sd, acquisition.WithLogger(logger))
	raster := render.NewRaster(render.RasterConfig{
		Size:          cfg.GetImageSize(),
		MaxDistanceMM: cfg.GetMaxDistanceMM(),
		Style:         style,
	})
	consumer := render.NewConsumer(render.Config{
		TickRate:      cfg.GetTickRate(),
		MaxDistanceMM: cfg.GetMaxDistanceMM(),
	}, history, raster, sd, render.WithLogger(logger))

	logger.Infow("sweepview starting",
		"version", version.String(),
		"driver", cfg.GetDriver(),
		"port", cfg.GetPort(),
		"history", history.Capacity(),
		"style", style.String())

	var wg sync.WaitGroup

	var (
		streamSrv *sweepstream.Server
		endpoint  *sweepstream.Endpoint
	)
	if addr := cfg.GetStreamListen(); addr != "" {
		streamSrv = sweepstream.NewServer(history, sd, sweepstream.WithLogger(logger))
		if endpoint, err = sweepstream.Listen(addr, streamSrv); err != nil {
			return err
		}
		if opts.streamReady != nil {
			opts.streamReady <- endpoint.Addr()
		}
	}

	var server *http.Server
	if addr := cfg.GetDebugListen(); addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			if endpoint != nil {
				endpoint.Stop(context.Background())
			}
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		server = &http.Server{Handler: newDebugMux(debugRoutes{
			session:       session,
			history:       history,
			raster:        raster,
			consumer:      consumer,
			stream:        streamSrv,
			sd:            sd,
			maxDistanceMM: cfg.GetMaxDistanceMM(),
		})}
		logger.Infow("debug server listening", "addr", ln.Addr().String())
		if opts.ready != nil {
			opts.ready <- ln.Addr().String()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorw("debug server failed", "error", err)
			}
		}()
	}

	if interval := cfg.GetStatsInterval(); interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reportStats(logger, interval, sd, session, consumer)
		}()
	}

	if opts.duration > 0 {
		go func() {
			select {
			case <-time.After(opts.duration):
				sd.Request("duration elapsed")
			case <-sd.Done():
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		session.Run()
	}()

	consumer.Run(session)

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := server.Shutdown(ctx); err != nil {
			logger.Warnw("debug server shutdown error", "error", err)
			_ = server.Close()
		}
		cancel()
	}
	if endpoint != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		endpoint.Stop(ctx)
		cancel()
	}
	wg.Wait()

	if opts.pngPath != "" {
		if err := raster.SavePNG(opts.pngPath); err != nil {
			logger.Warnw("sweep image not written", "path", opts.pngPath, "error", err)
		} else {
			logger.Infow("sweep image written", "path", opts.pngPath)
		}
	}
	logger.Infow("graceful shutdown complete", "reason", sd.Reason())
	return nil
}

// reportStats logs throughput every interval until shutdown.
func reportStats(logger *zap.SugaredLogger, interval time.Duration, sd *shutdown.Coordinator, session *acquisition.Session, consumer *render.Consumer) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r := statsReporter{last: time.Now()}
	for {
		select {
		case now := <-ticker.C:
			logger.Infow("sweep stats (/sec)", r.sample(now, session.Status(), consumer.Stats())...)
		case <-sd.Done():
			return
		}
	}
}
