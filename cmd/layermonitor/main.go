// Command layermonitor receives a video source, buffers and paces its frames
// and presents them to the preview surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/denisgrzechnik/LayerMapper-NDI/framesource"
	"github.com/denisgrzechnik/LayerMapper-NDI/internal/config"
	"github.com/denisgrzechnik/LayerMapper-NDI/monitor"
)

const version = "v0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code, so every deferred teardown (the
// discovery environment in particular) runs before the process exits.
func run(args []string) int {
	// Parse command line flags
	fs := flag.NewFlagSet("layermonitor", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file (default: built-in synthetic source)")
	debug := fs.Bool("debug", false, "Enable debug logging")
	list := fs.Bool("list", false, "List discovered sources and exit")
	source := fs.String("source", "", "Source name or discovery index (overrides source.name)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *source != "" {
		cfg.Source.Name = *source
	}

	setupLogger(cfg.Log, *debug)

	slog.Info("starting layermonitor",
		"version", version,
		"config", *configPath,
		"instance_id", cfg.InstanceID,
		"source_kind", cfg.Source.Kind,
		"debug", *debug,
	)

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	src, env, err := buildSource(cfg)
	if err != nil {
		slog.Error("failed to create source", "error", err)
		return 1
	}
	defer func() {
		if err := env.Close(); err != nil {
			slog.Warn("environment close failed", "error", err)
		}
	}()

	if *list {
		if err := listSources(ctx, env); err != nil {
			slog.Error("discovery failed", "error", err)
			return 1
		}
		return 0
	}

	session, err := monitor.New(ctx, cfg, env, src)
	if err != nil {
		slog.Error("failed to create session", "error", err)
		return 1
	}

	if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("session error", "error", err)
		return 1
	}

	st := session.Stats()
	slog.Info("layermonitor stopped successfully",
		"frames_pushed", st.Receiver.FramesPushed,
		"delivered", st.Pacer.Delivered,
		"underruns", st.Pacer.Underruns,
	)
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func setupLogger(lc config.LogConfig, debug bool) {
	level := slog.LevelInfo
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// listSources prints the sources currently visible, the way the source
// picker shows them.
func listSources(ctx context.Context, env *framesource.Environment) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	sources, err := env.Sources(ctx)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		fmt.Println("no sources found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tNAME\tKIND\tADDRESS")
	for i, s := range sources {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i, s.Name, s.Kind, s.Address)
	}
	return w.Flush()
}
