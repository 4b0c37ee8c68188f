package main

import (
	"fmt"

	"github.com/denisgrzechnik/LayerMapper-NDI/framesource"
	"github.com/denisgrzechnik/LayerMapper-NDI/framesource/gstsource"
	"github.com/denisgrzechnik/LayerMapper-NDI/framesource/netsource"
	"github.com/denisgrzechnik/LayerMapper-NDI/framesource/synthetic"
	"github.com/denisgrzechnik/LayerMapper-NDI/internal/config"
	"github.com/denisgrzechnik/LayerMapper-NDI/video"
)

// buildSource creates the configured source and a discovery environment
// that can see it. The caller closes the environment.
func buildSource(cfg *config.Config) (framesource.Source, *framesource.Environment, error) {
	switch cfg.Source.Kind {
	case config.SourceSynthetic:
		sc := cfg.Source.Synthetic
		enc, orient, err := parseFormat(sc.Encoding, sc.Orientation)
		if err != nil {
			return nil, nil, err
		}
		src, err := synthetic.New(synthetic.Config{
			Name:        cfg.Source.Name,
			Width:       sc.Width,
			Height:      sc.Height,
			Encoding:    enc,
			Orientation: orient,
			Rate:        sc.RateHz,
		})
		if err != nil {
			return nil, nil, err
		}
		return src, framesource.NewEnvironment(framesource.NewStaticFinder(src.Info())), nil

	case config.SourceNet:
		ncfg := netsource.DefaultConfig()
		ncfg.DialTimeout = cfg.DialTimeout()
		src := netsource.New(ncfg)
		env := framesource.NewEnvironment(netsource.NewProbeFinder(cfg.Source.Addresses, cfg.DialTimeout()))
		return src, env, nil

	case config.SourceGst:
		gc := cfg.Source.Gst
		enc, orient, err := parseFormat(gc.Encoding, gc.Orientation)
		if err != nil {
			return nil, nil, err
		}
		src, err := gstsource.New(gstsource.Config{
			Input:       gc.Input,
			Width:       gc.Width,
			Height:      gc.Height,
			Rate:        gc.RateHz,
			Encoding:    enc,
			Orientation: orient,
		})
		if err != nil {
			return nil, nil, err
		}
		name := cfg.Source.Name
		if name == "" {
			name = "gst"
		}
		info := framesource.SourceInfo{Name: name, Address: src.Launch(), Kind: "gst"}
		return src, framesource.NewEnvironment(framesource.NewStaticFinder(info)), nil

	default:
		return nil, nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
	}
}

func parseFormat(encoding, orientation string) (video.Encoding, video.Orientation, error) {
	enc, err := video.ParseEncoding(encoding)
	if err != nil {
		return 0, 0, err
	}
	orient, err := video.ParseOrientation(orientation)
	if err != nil {
		return 0, 0, err
	}
	return enc, orient, nil
}
