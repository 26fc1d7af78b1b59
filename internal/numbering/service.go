package numbering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/detailops/detailops/internal/shared"
)

var (
	// ErrContention indicates the counter row stayed contended past the
	// retry budget. Callers should treat it as a state conflict.
	ErrContention = errors.New("numbering: counter contention")
)

// RepositoryPort performs one atomic increment of a counter row. The
// implementation must be a single isolated transaction; it may fail with
// ErrRetryable under concurrent writers.
type RepositoryPort interface {
	Increment(ctx context.Context, ownerID int64, series string, now time.Time) (Sequence, int64, error)
	Configure(ctx context.Context, cfg SeriesConfig) error
}

// ErrRetryable marks transient storage conflicts worth retrying.
var ErrRetryable = errors.New("numbering: transient conflict")

// Service issues collision-free, strictly monotonic document numbers per
// (owner, series).
type Service struct {
	repo       RepositoryPort
	maxRetries int
	backoff    time.Duration
	now        func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, maxRetries: 5, backoff: 10 * time.Millisecond, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// NextNumber returns the next formatted number for (owner, series).
// Transient conflicts on the counter row are retried with backoff a
// bounded number of times before surfacing a conflict.
func (s *Service) NextNumber(ctx context.Context, ownerID int64, series string) (string, error) {
	if ownerID == 0 {
		return "", errors.New("numbering: owner required")
	}
	if series == "" {
		return "", errors.New("numbering: series required")
	}
	now := s.now()
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(s.backoff << (attempt - 1)):
			}
		}
		seq, value, err := s.repo.Increment(ctx, ownerID, series, now)
		if err != nil {
			if errors.Is(err, ErrRetryable) {
				lastErr = err
				continue
			}
			return "", err
		}
		return seq.Format(value, now), nil
	}
	return "", fmt.Errorf("%w: %w (%v)", shared.ErrStateConflict, ErrContention, lastErr)
}

// Configure creates or updates a series definition.
func (s *Service) Configure(ctx context.Context, cfg SeriesConfig) error {
	if cfg.OwnerID == 0 || cfg.Series == "" {
		return errors.New("numbering: owner and series required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = cfg.Series
	}
	if cfg.Width <= 0 {
		cfg.Width = 4
	}
	if cfg.Start <= 0 {
		cfg.Start = 1
	}
	// A resetting series must carry the year component or next
	// January re-issues this year's numbers verbatim.
	if cfg.YearlyReset {
		cfg.IncludeYear = true
	}
	return s.repo.Configure(ctx, cfg)
}
