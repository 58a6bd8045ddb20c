// Package position provides device position sources for the location
// reporter: a fixed point for stationary drivers and a replay of a recorded
// track.
package position

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kilianp07/ridesync/core/factory"
	"github.com/kilianp07/ridesync/core/logger"
	"github.com/kilianp07/ridesync/core/model"
	ilog "github.com/kilianp07/ridesync/infra/logger"
)

// Fix is one recorded sample. Offset is relative to the first fix.
type Fix struct {
	Latitude  float64       `json:"latitude"`
	Longitude float64       `json:"longitude"`
	Offset    time.Duration `json:"offset"`
}

// StaticConfig configures a source that repeats one point.
type StaticConfig struct {
	Latitude  float64       `json:"latitude"`
	Longitude float64       `json:"longitude"`
	Interval  time.Duration `json:"interval"`
}

// Static emits the same point on every tick.
type Static struct {
	cfg StaticConfig
	now func() time.Time
}

// NewStatic returns a static source. The interval defaults to 10s.
func NewStatic(cfg StaticConfig) *Static {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	return &Static{cfg: cfg, now: time.Now}
}

// Watch emits immediately then on every interval until ctx is done.
func (s *Static) Watch(ctx context.Context) (<-chan model.DriverPosition, error) {
	ch := make(chan model.DriverPosition, 1)
	go func() {
		defer close(ch)
		t := time.NewTicker(s.cfg.Interval)
		defer t.Stop()
		for {
			p := model.DriverPosition{Latitude: s.cfg.Latitude, Longitude: s.cfg.Longitude, CapturedAt: s.now()}
			select {
			case ch <- p:
			case <-ctx.Done():
				return
			}
			select {
			case <-t.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// ReplayConfig configures a track replay.
type ReplayConfig struct {
	Path  string  `json:"path"`
	Speed float64 `json:"speed"`
	Loop  bool    `json:"loop"`
}

// Replay plays back fixes read from a JSON lines file, honoring their
// offsets scaled by Speed.
type Replay struct {
	fixes []Fix
	speed float64
	loop  bool
	log   logger.Logger
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewReplay loads the track at cfg.Path.
func NewReplay(cfg ReplayConfig, log logger.Logger) (*Replay, error) {
	fixes, err := LoadTrack(cfg.Path)
	if err != nil {
		return nil, err
	}
	return newReplay(fixes, cfg, log), nil
}

func newReplay(fixes []Fix, cfg ReplayConfig, log logger.Logger) *Replay {
	if cfg.Speed <= 0 {
		cfg.Speed = 1
	}
	return &Replay{fixes: fixes, speed: cfg.Speed, loop: cfg.Loop, log: log, now: time.Now, sleep: sleepCtx}
}

// LoadTrack reads one Fix per line. Offsets must not decrease.
func LoadTrack(path string) ([]Fix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open track: %w", err)
	}
	defer f.Close()
	var out []Fix
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var fx Fix
		if err := json.Unmarshal(sc.Bytes(), &fx); err != nil {
			return nil, fmt.Errorf("track %s line %d: %w", path, line, err)
		}
		if n := len(out); n > 0 && fx.Offset < out[n-1].Offset {
			return nil, fmt.Errorf("track %s line %d: offset goes backwards", path, line)
		}
		out = append(out, fx)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read track: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("track %s is empty", path)
	}
	return out, nil
}

// Watch replays the track. The channel closes at the end of the track
// unless Loop is set.
func (r *Replay) Watch(ctx context.Context) (<-chan model.DriverPosition, error) {
	ch := make(chan model.DriverPosition)
	go func() {
		defer close(ch)
		for {
			var prev time.Duration
			for _, fx := range r.fixes {
				wait := time.Duration(float64(fx.Offset-prev) / r.speed)
				prev = fx.Offset
				if err := r.sleep(ctx, wait); err != nil {
					return
				}
				p := model.DriverPosition{Latitude: fx.Latitude, Longitude: fx.Longitude, CapturedAt: r.now()}
				select {
				case ch <- p:
				case <-ctx.Done():
					return
				}
			}
			if !r.loop {
				r.log.Infof("position replay finished after %d fixes", len(r.fixes))
				return
			}
		}
	}()
	return ch, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Source is what the reporter consumes.
type Source interface {
	Watch(ctx context.Context) (<-chan model.DriverPosition, error)
}

var sources = factory.NewRegistry[Source]()

func init() {
	_ = sources.Register("static", func(conf map[string]any) (Source, error) {
		var c StaticConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewStatic(c), nil
	})
	_ = sources.Register("replay", func(conf map[string]any) (Source, error) {
		var c ReplayConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewReplay(c, ilog.New("position_replay"))
	})
}

// New builds a source from its config block. Supported types are "static"
// and "replay"; an empty type means static.
func New(m factory.ModuleConfig) (Source, error) {
	if m.Type == "" {
		m.Type = "static"
	}
	return sources.Create(m)
}

// Types lists the registered source types.
func Types() []string { return sources.Names() }
