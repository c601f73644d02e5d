// Package beatglow pulses smart lamps in time with the beats of a track.
package beatglow

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"libdb.so/beatglow/beats"
)

// Player plays the track the light show follows.
type Player interface {
	// Play plays the track to the end. It closes started the moment audio
	// output begins and returns early with ctx's error if ctx is canceled.
	Play(ctx context.Context, started chan<- struct{}) error
}

// Synchronizer plays a track and pulses lamps along with it.
type Synchronizer struct {
	cfg    *Config
	player Player
	lamps  []Lamp
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error
}

// NewSynchronizer creates a new synchronizer. The lamps stay owned by the
// caller.
func NewSynchronizer(cfg *Config, player Player, lamps []Lamp, logger *slog.Logger) (*Synchronizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	if len(lamps) == 0 {
		return nil, errors.New("no lamps to pulse")
	}

	return &Synchronizer{
		cfg:    cfg,
		player: player,
		lamps:  lamps,
		logger: logger,
		sleep:  sleepContext,
	}, nil
}

// Run plays the track and pulses the lamps once per gap in a. It returns once
// playback ends, or as soon as a lamp command fails, in which case the error
// is a *LampError and playback is stopped. The light sequence is stopped if
// playback ends first.
func (s *Synchronizer) Run(ctx context.Context, a *beats.Artifact) error {
	errg, ctx := errgroup.WithContext(ctx)

	lightsCtx, stopLights := context.WithCancel(ctx)
	defer stopLights()

	started := make(chan struct{})

	errg.Go(func() error {
		defer stopLights()
		return s.player.Play(ctx, started)
	})

	errg.Go(func() error {
		err := s.pulse(lightsCtx, started, a)
		if err != nil && lightsCtx.Err() != nil {
			// Either playback is over, which is a normal way for the light
			// sequence to end, or Run itself is being torn down.
			return ctx.Err()
		}
		return err
	})

	return errg.Wait()
}

func (s *Synchronizer) pulse(ctx context.Context, started <-chan struct{}, a *beats.Artifact) error {
	select {
	case <-started:
	case <-ctx.Done():
		return ctx.Err()
	}

	first := max(a.FirstBeatDelay()+time.Duration(s.cfg.StartDelay), 0)
	s.logger.Debug("waiting for first beat", "delay", first)

	if err := s.sleep(ctx, first); err != nil {
		return err
	}

	color := s.cfg.PrimeColor()
	for _, l := range s.lamps {
		if err := l.TurnOn(ctx, &color); err != nil {
			return &LampError{Lamp: l.String(), Op: "on", Pulse: -1, Err: err}
		}
	}

	for i, gap := range a.Gaps {
		for _, l := range s.lamps {
			if err := l.TurnOn(ctx, nil); err != nil {
				return &LampError{Lamp: l.String(), Op: "on", Pulse: i, Err: err}
			}
		}

		for _, l := range s.lamps {
			if err := l.TurnOff(ctx); err != nil {
				return &LampError{Lamp: l.String(), Op: "off", Pulse: i, Err: err}
			}
		}

		d := beats.Seconds(gap)
		s.logger.Debug("pulsed", "pulse", i, "gap", d)

		if err := s.sleep(ctx, d); err != nil {
			return err
		}
	}

	s.logger.Debug("light sequence finished", "pulses", len(a.Gaps))
	return nil
}

// sleepContext pauses for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
