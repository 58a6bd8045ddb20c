package app

import (
	"context"
	"fmt"

	"github.com/kilianp07/ridesync/app/plugins"
	"github.com/kilianp07/ridesync/auth"
	"github.com/kilianp07/ridesync/config"
	"github.com/kilianp07/ridesync/core/journal"
	coremetrics "github.com/kilianp07/ridesync/core/metrics"
	"github.com/kilianp07/ridesync/core/model"
	"github.com/kilianp07/ridesync/infra/logger"
	_ "github.com/kilianp07/ridesync/infra/metrics"
	"github.com/kilianp07/ridesync/infra/position"
	"github.com/kilianp07/ridesync/infra/rest"
)

// Service is a session built from configuration together with the
// resources it owns.
type Service struct {
	*Session
	Config  *config.Config
	Journal journal.Store
	closers []func()
}

// New builds every component named by cfg.
func New(cfg *config.Config) (*Service, error) {
	logger.SetLevel(cfg.Logging.Level)
	log := logger.New("session")

	creds, err := auth.New(cfg.Identity)
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	transport, err := plugins.NewTransport(cfg.Transport, logger.New("transport"))
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	api, err := rest.New(cfg.API, creds.HTTPClient(context.Background()), logger.New("api"))
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}
	src, err := position.New(cfg.Location.Source)
	if err != nil {
		return nil, fmt.Errorf("position source: %w", err)
	}
	sink, err := coremetrics.NewSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	svc := &Service{Config: cfg}
	svc.closers = append(svc.closers, func() { coremetrics.CloseSink(sink) })
	if cfg.Journal.Enabled() {
		store, err := journal.Open(cfg.Journal)
		if err != nil {
			svc.closeResources()
			return nil, fmt.Errorf("journal: %w", err)
		}
		svc.Journal = store
		svc.closers = append(svc.closers, func() { _ = store.Close() })
	}

	opts := Options{
		Connection: cfg.Connection,
		Bid:        cfg.Bid,
		Location:   cfg.Location.Reporter,
		Transport:  transport,
		Identity:   creds,
		API:        api,
		Source:     src,
		Sink:       sink,
		Log:        log,
	}
	if svc.Journal != nil {
		opts.Journal = svc.Journal
	}
	sess, err := NewSession(opts)
	if err != nil {
		svc.closeResources()
		return nil, err
	}
	svc.Session = sess
	api.SetPositionSource(func() (model.DriverPosition, bool) {
		p := sess.Reporter().Position()
		return p, !p.IsZero()
	})
	return svc, nil
}

// Run brings the driver online and keeps the session alive until ctx is
// done, then goes offline.
func (s *Service) Run(ctx context.Context) error {
	if err := s.GoOnline(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.GoOffline()
	return nil
}

// Close stops the session and releases the journal and metrics sinks.
func (s *Service) Close() error {
	err := s.Session.Close()
	s.closeResources()
	return err
}

func (s *Service) closeResources() {
	for _, c := range s.closers {
		c()
	}
}
