package opens

import (
	"context"
	"time"
)

// Service records pixel fetches and evaluates notification triggers. It is
// safe for concurrent use; all shared state lives in the Repository.
type Service struct {
	repo     Repository
	geo      GeoResolver
	notifier Notifier
	cfg      Config
	now      func() time.Time
}

// NewService wires the recorder and trigger engine. geo may be nil, in which
// case every open has an unknown location.
func NewService(repo Repository, geo GeoResolver, notifier Notifier, cfg Config) *Service {
	return &Service{
		repo:     repo,
		geo:      geo,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Config returns the effective configuration with defaults applied.
func (s *Service) Config() Config { return s.cfg }

// HandleFetch records a fetch and, if it was recorded, runs the inline
// triggers for it. The returned error is for logging only; callers serving
// the pixel must not surface it.
func (s *Service) HandleFetch(ctx context.Context, f Fetch) error {
	out, err := s.Record(ctx, f)
	if err != nil {
		return err
	}
	if !out.Recorded() {
		return nil
	}
	_, err = s.Evaluate(ctx, out.Event)
	return err
}
