// Command serialwarp-sink runs the display side of a serialwarp session:
// it waits for a USB connection, then receives, decodes, and renders
// whatever video the source streams.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/achxy/serialwarp/pkg/codec"
	"github.com/achxy/serialwarp/pkg/config"
	"github.com/achxy/serialwarp/pkg/errors"
	"github.com/achxy/serialwarp/pkg/logger"
	"github.com/achxy/serialwarp/pkg/render"
	"github.com/achxy/serialwarp/pkg/sink"
	"github.com/achxy/serialwarp/pkg/transport"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Path to config file")
	maxWidth := flag.Uint("max-width", 3840, "Maximum supported width")
	maxHeight := flag.Uint("max-height", 2160, "Maximum supported height")
	credits := flag.Uint("credits", 8, "Initial flow control credits")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("serialwarp-sink %s (commit: %s, built: %s)\n", version, commit, date)
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewDefaultLogger(logger.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	log.Info("serialwarp-sink starting")
	log.Info("sink limits",
		logger.Int("max_width", int(*maxWidth)),
		logger.Int("max_height", int(*maxHeight)),
		logger.Int("credits", int(*credits)),
	)

	log.Info("waiting for USB connection")
	var tr *transport.USB
	for {
		tr, err = transport.OpenUSB(cfg.Transport.VendorID, cfg.Transport.ProductID, cfg.Transport.RecvTimeout, log)
		if err == nil {
			break
		}
		if !errors.IsErrorCode(err, errors.ErrCodeDeviceNotFound) {
			log.Error("failed to open USB transport", logger.Err(err))
			os.Exit(1)
		}
		time.Sleep(time.Second)
	}
	log.Info("USB transport connected")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sigChan
		log.Info("shutdown signal received")
		cancel()
	}()

	snk := sink.New(tr, log, sink.Config{
		SoftwareVersion: 1,
		MaxWidth:        uint32(*maxWidth),
		MaxHeight:       uint32(*maxHeight),
		MaxFPS:          60,
		HiDPI:           true,
		Audio:           false,
		InitialCredits:  uint16(*credits),
		WindowTitle:     cfg.Display.WindowTitle,
	})

	openDecoder := func(width, height int) (sink.Decoder, error) {
		return codec.NewDecoder(width, height)
	}
	openRenderer := func(title string, width, height int) (render.Renderer, error) {
		return render.New(render.Config{Title: title, Width: width, Height: height})
	}

	log.Info("starting main loop")
	if err := snk.Run(ctx, openDecoder, openRenderer); err != nil {
		log.Error("sink session error", logger.Err(err))
		os.Exit(1)
	}

	log.Info("serialwarp-sink stopped")
}
