package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/pflag"
	"libdb.so/beatglow"
	"libdb.so/beatglow/beats"
	"libdb.so/beatglow/playback"
	"libdb.so/beatglow/wiz"
)

var (
	config    = "beatglow.toml"
	verbose   = false
	watch     = false
	broadcast = wiz.BroadcastAddress
	wait      = 3 * time.Second
)

func init() {
	pflag.StringVarP(&config, "config", "c", config, "configuration file")
	pflag.BoolVarP(&verbose, "verbose", "v", verbose, "verbose output")
	pflag.BoolVarP(&watch, "watch", "w", watch, "extract: re-extract whenever the track changes")
	pflag.StringVar(&broadcast, "broadcast", broadcast, "discover: address to send the probe to")
	pflag.DurationVar(&wait, "wait", wait, "discover: how long to wait for answers")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] extract|play|discover\n", os.Args[0])
		pflag.PrintDefaults()
	}
}

func main() {
	pflag.Parse()

	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if pflag.NArg() != 1 {
		pflag.Usage()
		os.Exit(2)
	}

	if err := run(pflag.Arg(0)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var err error
	switch cmd {
	case "extract":
		err = extract(ctx)
	case "play":
		err = play(ctx)
	case "discover":
		err = discover(ctx)
	default:
		pflag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func extract(ctx context.Context) error {
	cfg, err := readConfig()
	if err != nil {
		return err
	}

	e, err := newExtractor(cfg)
	if err != nil {
		return err
	}

	if watch {
		return e.Watch(ctx)
	}

	if _, err := e.Extract(ctx); err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}
	return nil
}

func play(ctx context.Context) error {
	cfg, err := readConfig()
	if err != nil {
		return err
	}

	t, err := beatglow.LoadTrack(cfg)
	if err != nil {
		return err
	}

	var artifact *beats.Artifact
	switch cfg.Timing {
	case beatglow.ArtifactTiming:
		artifact, err = beats.ReadArtifactFile(cfg.Artifact)
	default:
		var e *beatglow.Extractor
		if e, err = newExtractor(cfg); err == nil {
			artifact, err = e.Analyze(ctx, t)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to get beat timing: %w", err)
	}

	lamps, err := beatglow.OpenLamps(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer beatglow.CloseLamps(lamps)

	player := playback.NewSpeaker(t, 0, slog.Default())

	s, err := beatglow.NewSynchronizer(cfg, player, lamps, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create synchronizer: %w", err)
	}

	if err := s.Run(ctx, artifact); err != nil {
		return fmt.Errorf("playback failed: %w", err)
	}
	return nil
}

func discover(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	bulbs, err := wiz.Discover(ctx, broadcast)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	if len(bulbs) == 0 {
		fmt.Fprintln(os.Stderr, "no bulbs answered")
		return nil
	}

	for _, b := range bulbs {
		fmt.Printf("[[lamp]]\nkind = %q\naddress = %q # %s\n\n", beatglow.WizLamp, b.IP, b.MAC)
	}
	return nil
}

func newExtractor(cfg *beatglow.Config) (*beatglow.Extractor, error) {
	detector, err := beatglow.NewDetector(cfg)
	if err != nil {
		return nil, err
	}

	e, err := beatglow.NewExtractor(cfg, detector, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to create extractor: %w", err)
	}
	return e, nil
}

func readConfig() (*beatglow.Config, error) {
	f, err := os.Open(config)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	return beatglow.ParseConfig(f)
}
