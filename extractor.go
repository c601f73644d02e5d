package beatglow

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"libdb.so/beatglow/beats"
	"libdb.so/beatglow/track"
)

// Extractor detects the beats of the configured track and writes its timing
// artifact.
type Extractor struct {
	cfg      *Config
	detector beats.Detector
	logger   *slog.Logger
}

// NewExtractor creates a new extractor.
func NewExtractor(cfg *Config, detector beats.Detector, logger *slog.Logger) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return &Extractor{
		cfg:      cfg,
		detector: detector,
		logger:   logger,
	}, nil
}

// NewDetector returns the detector named by the configuration.
func NewDetector(cfg *Config) (beats.Detector, error) {
	switch cfg.Detector {
	case FluxDetector:
		return beats.FluxDetector{}, nil
	case AubioDetector:
		return beats.AubioDetector{Bin: cfg.AubioBin}, nil
	default:
		return nil, errors.Errorf("unknown detector %q", cfg.Detector)
	}
}

// Extract loads the track, detects its beats and writes the artifact,
// replacing any previous one. The written artifact is returned.
func (e *Extractor) Extract(ctx context.Context) (*beats.Artifact, error) {
	t, err := LoadTrack(e.cfg)
	if err != nil {
		return nil, err
	}

	a, err := e.Analyze(ctx, t)
	if err != nil {
		return nil, err
	}

	if err := beats.WriteArtifactFile(e.cfg.Artifact, a); err != nil {
		return nil, wrapSentinel(ErrArtifactWrite, err)
	}

	e.logger.Info(
		"wrote timing artifact",
		"path", e.cfg.Artifact,
		"first_beat", a.FirstBeat,
		"gaps", len(a.Gaps),
		"length", a.Length())

	return a, nil
}

// Analyze detects the beats of an already loaded track without writing
// anything.
func (e *Extractor) Analyze(ctx context.Context, t *track.Track) (*beats.Artifact, error) {
	start := time.Now()

	detected, err := e.detector.Detect(ctx, t)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, wrapSentinel(ErrDecode, err)
	}

	e.logger.Debug(
		"detected beats",
		"track", t.Path,
		"samples", t.Len(),
		"beats", len(detected),
		"took", time.Since(start))

	a, err := beats.NewArtifact(detected, e.cfg.IncludeLeadingGap)
	if err != nil {
		return nil, wrapSentinel(ErrDecode, err)
	}

	return a, nil
}

// LoadTrack decodes the configured track.
func LoadTrack(cfg *Config) (*track.Track, error) {
	t, err := track.Load(cfg.Track)
	if err != nil {
		return nil, wrapSentinel(ErrDecode, err)
	}
	return t, nil
}

// Watch runs Extract once, then again every time the track file is written
// or replaced, until ctx is canceled. Failed extractions are logged and do
// not stop the watch.
func (e *Extractor) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create watcher")
	}
	defer watcher.Close()

	// Editors often replace files instead of writing them in place, so watch
	// the directory and filter by name.
	dir := filepath.Dir(e.cfg.Track)
	if err := watcher.Add(dir); err != nil {
		return errors.Wrapf(err, "failed to watch %s", dir)
	}

	e.extractLogged(ctx)

	name := filepath.Clean(e.cfg.Track)

	// Writes come in bursts; settle before extracting again.
	const settle = 250 * time.Millisecond
	var debounce <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.Warn("watcher error", "error", err)

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			e.logger.Debug("track changed", "event", ev.Op.String())
			debounce = time.After(settle)

		case <-debounce:
			debounce = nil
			e.extractLogged(ctx)
		}
	}
}

func (e *Extractor) extractLogged(ctx context.Context) {
	if _, err := e.Extract(ctx); err != nil && ctx.Err() == nil {
		e.logger.Error(
			"extraction failed",
			"track", e.cfg.Track,
			"error", err)
	}
}
