// Command layerbroadcast publishes a synthetic pattern or a GStreamer
// capture over TCP so that layermonitor instances can receive it with
// source.kind "net".
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/denisgrzechnik/LayerMapper-NDI/framesource"
	"github.com/denisgrzechnik/LayerMapper-NDI/framesource/gstsource"
	"github.com/denisgrzechnik/LayerMapper-NDI/framesource/netsource"
	"github.com/denisgrzechnik/LayerMapper-NDI/framesource/synthetic"
	"github.com/denisgrzechnik/LayerMapper-NDI/video"
)

const version = "v0.1.0"

// Config holds the broadcaster flags.
type Config struct {
	Listen string
	Name   string

	Source      string // "synthetic" or "gst"
	Input       string // gst input URI
	Width       int
	Height      int
	FPS         float64
	Encoding    video.Encoding
	Orientation video.Orientation

	PollTimeout   time.Duration
	StatsInterval time.Duration
	Debug         bool
}

func main() {
	config := parseFlags()

	logLevel := slog.LevelInfo
	if config.Debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	printBanner(config)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received, stopping")
		cancel()
	}()

	if err := run(ctx, config); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("broadcast failed", "error", err)
		os.Exit(1)
	}
	logger.Info("broadcast stopped")
}

func parseFlags() Config {
	var config Config

	flag.StringVar(&config.Listen, "listen", ":5960", "TCP listen address")
	flag.StringVar(&config.Name, "name", "layerbroadcast", "Source name announced to receivers")
	flag.StringVar(&config.Source, "source", "synthetic", "Frame source: synthetic or gst")
	flag.StringVar(&config.Input, "input", "", "GStreamer input URI (gst source only, empty for videotestsrc)")
	flag.IntVar(&config.Width, "width", 1280, "Frame width")
	flag.IntVar(&config.Height, "height", 720, "Frame height")
	flag.Float64Var(&config.FPS, "fps", 30, "Frame rate")
	encoding := flag.String("encoding", "uyvy", "Pixel encoding: bgra, bgrx, rgba, uyvy")
	orientation := flag.String("orientation", "up", "Frame orientation: up, down, left, right or a -mirrored variant")

	var statsIntervalSec int
	flag.IntVar(&statsIntervalSec, "stats-interval", 5, "Statistics reporting interval (seconds, 0 disables)")
	flag.BoolVar(&config.Debug, "debug", false, "Enable debug logging")

	flag.Parse()

	var err error
	if config.Encoding, err = video.ParseEncoding(*encoding); err != nil {
		fail(err)
	}
	if config.Orientation, err = video.ParseOrientation(*orientation); err != nil {
		fail(err)
	}
	if config.Source != "synthetic" && config.Source != "gst" {
		fail(fmt.Errorf("invalid source %q (must be synthetic or gst)", config.Source))
	}
	if config.Width <= 0 || config.Height <= 0 {
		fail(fmt.Errorf("invalid size %dx%d", config.Width, config.Height))
	}
	if config.FPS <= 0 {
		fail(fmt.Errorf("invalid fps %v (must be > 0)", config.FPS))
	}

	config.PollTimeout = 100 * time.Millisecond
	config.StatsInterval = time.Duration(statsIntervalSec) * time.Second
	return config
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	flag.Usage()
	os.Exit(1)
}

func printBanner(config Config) {
	line := strings.Repeat("=", 60)
	fmt.Println(line)
	fmt.Printf("layerbroadcast %s\n", version)
	fmt.Println(line)
	fmt.Printf("Listen:   %s\n", config.Listen)
	fmt.Printf("Name:     %s\n", config.Name)
	fmt.Printf("Source:   %s\n", config.Source)
	if config.Source == "gst" && config.Input != "" {
		fmt.Printf("Input:    %s\n", config.Input)
	}
	fmt.Printf("Format:   %dx%d @ %g fps, %s, %s\n",
		config.Width, config.Height, config.FPS, config.Encoding, config.Orientation)
	fmt.Println(line)
}

func newSource(config Config) (framesource.Source, error) {
	if config.Source == "gst" {
		return gstsource.New(gstsource.Config{
			Input:       config.Input,
			Width:       config.Width,
			Height:      config.Height,
			Rate:        config.FPS,
			Encoding:    config.Encoding,
			Orientation: config.Orientation,
		})
	}
	return synthetic.New(synthetic.Config{
		Name:        config.Name,
		Width:       config.Width,
		Height:      config.Height,
		Encoding:    config.Encoding,
		Orientation: config.Orientation,
		Rate:        config.FPS,
	})
}

func run(ctx context.Context, config Config) error {
	src, err := newSource(config)
	if err != nil {
		return fmt.Errorf("failed to create source: %w", err)
	}
	handle, err := src.Connect(ctx, config.Name)
	if err != nil {
		return err
	}
	defer handle.Disconnect()

	sender, err := netsource.NewSender(netsource.SenderConfig{
		Listen: config.Listen,
		Name:   config.Name,
	})
	if err != nil {
		return err
	}
	if err := sender.Start(ctx); err != nil {
		return err
	}
	defer sender.Stop()

	slog.Info("broadcasting", "addr", sender.Addr().String(), "name", config.Name)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pump(gctx, handle, sender, config.PollTimeout)
	})
	if config.StatsInterval > 0 {
		g.Go(func() error {
			logStats(gctx, sender, config.StatsInterval)
			return nil
		})
	}
	return g.Wait()
}

// pump forwards every polled frame to the sender until ctx is done.
func pump(ctx context.Context, h framesource.Handle, sender *netsource.Sender, pollTimeout time.Duration) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := h.PollFrame(pollTimeout)
		if errors.Is(err, framesource.ErrTimeout) {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}

		sendErr := sender.Send(raw)
		h.ReleaseFrame(raw)
		if errors.Is(sendErr, netsource.ErrSenderStopped) {
			return ctx.Err()
		}
		if sendErr != nil {
			slog.Warn("broadcast: send failed", "error", sendErr)
		}
	}
}

func logStats(ctx context.Context, sender *netsource.Sender, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := sender.Stats()
			slog.Info("broadcast: stats",
				"clients", st.Clients,
				"frames", st.Frames,
				"sent", st.Sent,
				"dropped", st.Dropped,
				"accepted", st.Accepted,
			)
		}
	}
}
