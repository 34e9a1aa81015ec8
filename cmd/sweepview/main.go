// Command sweepview streams scans from a 2D rangefinder and renders the
// recent sweep history as a fading distance heatmap.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"syscall"
	"time"

	"github.com/banshee-data/rangesweep/internal/config"
	"github.com/banshee-data/rangesweep/internal/serialport"
	"github.com/banshee-data/rangesweep/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to a sweepview JSON config file (built-in defaults when empty)")
	driverName  = flag.String("driver", "serial", "Device driver: serial (line bridge) or sim")
	portPath    = flag.String("port", "/dev/ttyUSB0", "Serial port path")
	baudRate    = flag.Int("baud", 256000, "Serial baud rate")
	historySize = flag.Int("history", 30, "Number of scans kept for the fade")
	maxDistance = flag.Float64("max-distance", 4000, "Distance in mm painted fully red, also the view half-width")
	renderStyle = flag.String("style", "points", "Render style: points or lines")
	imageSize   = flag.Int("image-size", 800, "Rendered image edge in pixels")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn or error")
	debugListen = flag.String("debug-listen", "", "Listen address for the /debug/ HTTP routes (disabled when empty)")
	streamAddr  = flag.String("stream-listen", "", "Listen address for the gRPC frame stream (disabled when empty)")
	statsEvery  = flag.Duration("stats-interval", 30*time.Second, "Statistics logging interval (0 disables)")
	pngOut      = flag.String("png", "", "Write the last rendered sweep to this PNG file on exit")
	runFor      = flag.Duration("duration", 0, "Stop after this long (0 runs until interrupted)")
	listPorts   = flag.Bool("list-ports", false, "List serial ports and exit")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("sweepview", version.String())
		return
	}
	if *listPorts {
		ports, err := serialport.List()
		if err != nil {
			log.Fatalf("failed to list serial ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := loadConfig(*configFile, flag.CommandLine)
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	opts := runOptions{
		pngPath:  *pngOut,
		duration: *runFor,
		signals:  []os.Signal{os.Interrupt, syscall.SIGTERM},
	}
	if err := run(cfg, opts); err != nil {
		log.Fatalf("sweepview: %v", err)
	}
}

// loadConfig reads the optional config file and applies every flag that was
// set explicitly on fs on top of it.
func loadConfig(path string, fs *flag.FlagSet) (*config.SweepConfig, error) {
	cfg := &config.SweepConfig{}
	if path != "" {
		loaded, err := config.LoadSweepConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		getter, ok := f.Value.(flag.Getter)
		if !ok {
			return
		}
		switch v := getter.Get().(type) {
		case string:
			switch f.Name {
			case "driver":
				cfg.Driver = &v
			case "port":
				cfg.Port = &v
			case "style":
				cfg.RenderStyle = &v
			case "log-level":
				cfg.LogLevel = &v
			case "debug-listen":
				cfg.DebugListen = &v
			case "stream-listen":
				cfg.StreamListen = &v
			}
		case int:
			switch f.Name {
			case "baud":
				cfg.BaudRate = &v
			case "history":
				cfg.HistorySize = &v
			case "image-size":
				cfg.ImageSize = &v
			}
		case float64:
			if f.Name == "max-distance" {
				cfg.MaxDistanceMM = &v
			}
		case time.Duration:
			if f.Name == "stats-interval" {
				s := v.String()
				cfg.StatsInterval = &s
			}
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}
