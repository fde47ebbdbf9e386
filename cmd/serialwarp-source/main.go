// Command serialwarp-source runs the capture side of a serialwarp
// session: it creates a virtual display, opens the USB transport, and
// streams encoded video to whatever sink connects.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/achxy/serialwarp/pkg/capture"
	"github.com/achxy/serialwarp/pkg/codec"
	"github.com/achxy/serialwarp/pkg/config"
	"github.com/achxy/serialwarp/pkg/logger"
	"github.com/achxy/serialwarp/pkg/source"
	"github.com/achxy/serialwarp/pkg/transport"
	"github.com/achxy/serialwarp/pkg/vdisp"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Path to config file")
	width := flag.Uint("width", 1920, "Display width")
	height := flag.Uint("height", 1080, "Display height")
	fps := flag.Uint("fps", 60, "Frames per second")
	bitrateMbps := flag.Uint("bitrate-mbps", 20, "Bitrate in Mbps")
	hidpi := flag.Bool("hidpi", false, "Enable HiDPI mode")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("serialwarp-source %s (commit: %s, built: %s)\n", version, commit, date)
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewDefaultLogger(logger.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	log.Info("serialwarp-source starting")
	log.Info("requested stream parameters",
		logger.Int("width", int(*width)),
		logger.Int("height", int(*height)),
		logger.Int("fps", int(*fps)),
		logger.Int("bitrate_mbps", int(*bitrateMbps)),
	)

	log.Info("creating virtual display")
	vd, err := vdisp.New(vdisp.Config{Width: int(*width), Height: int(*height), Name: "serialwarp"})
	if err != nil {
		log.Error("failed to create virtual display", logger.Err(err))
		os.Exit(1)
	}
	defer vd.Close()
	log.Info("virtual display created", logger.Int("display_id", int(vd.ID())))

	// Give the OS a moment to register the new display before capture
	// attaches to it.
	time.Sleep(500 * time.Millisecond)

	log.Info("opening USB transport")
	tr, err := transport.OpenUSB(cfg.Transport.VendorID, cfg.Transport.ProductID, cfg.Transport.RecvTimeout, log)
	if err != nil {
		log.Error("failed to open USB transport", logger.Err(err))
		os.Exit(1)
	}
	log.Info("USB transport connected")

	capCfg := capture.Config{DisplayID: uint32(vd.ID()), Width: int(*width), Height: int(*height), FPS: int(*fps)}
	capStream, err := capture.Open(capCfg)
	if err != nil {
		log.Error("failed to open capture stream", logger.Err(err))
		os.Exit(1)
	}
	defer capStream.Stop()

	encCfg := codec.EncoderConfig{
		Width:            int(*width),
		Height:           int(*height),
		FPS:              int(*fps),
		BitrateBPS:       int64(*bitrateMbps) * 1_000_000,
		KeyframeInterval: int(*fps),
	}
	enc, err := codec.NewEncoder(encCfg, log)
	if err != nil {
		log.Error("failed to create encoder", logger.Err(err))
		os.Exit(1)
	}
	defer enc.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sigChan
		log.Info("shutdown signal received")
		cancel()
	}()

	src := source.New(tr, log, source.Config{
		SoftwareVersion: 1,
		Width:           uint32(*width),
		Height:          uint32(*height),
		FPS:             uint32(*fps),
		BitrateBPS:      uint32(*bitrateMbps) * 1_000_000,
		HiDPI:           *hidpi,
	})

	log.Info("starting main loop")
	if err := src.Run(ctx, enc, capStream); err != nil {
		log.Error("source session error", logger.Err(err))
		os.Exit(1)
	}

	log.Info("serialwarp-source stopped")
}
