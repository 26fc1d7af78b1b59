package numbering

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/detailops/detailops/internal/shared"
)

type counterKey struct {
	ownerID int64
	series  string
}

type memoryCounterRepo struct {
	mu       sync.Mutex
	counters map[counterKey]*Sequence
	configs  map[counterKey]SeriesConfig

	// failures injects n transient conflicts before increments succeed.
	failures int
}

func newMemoryCounterRepo() *memoryCounterRepo {
	return &memoryCounterRepo{
		counters: make(map[counterKey]*Sequence),
		configs:  make(map[counterKey]SeriesConfig),
	}
}

func (r *memoryCounterRepo) Increment(ctx context.Context, ownerID int64, series string, now time.Time) (Sequence, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return Sequence{}, 0, ErrRetryable
	}
	key := counterKey{ownerID: ownerID, series: series}
	seq, ok := r.counters[key]
	if !ok {
		seq = &Sequence{OwnerID: ownerID, Series: series, Prefix: series, Start: 1, Width: 4, Current: 0, Year: now.Year()}
		if cfg, ok := r.configs[key]; ok {
			seq.Prefix = cfg.Prefix
			seq.Start = cfg.Start
			seq.Width = cfg.Width
			seq.IncludeYear = cfg.IncludeYear
			seq.YearlyReset = cfg.YearlyReset
			seq.Current = cfg.Start - 1
		}
		r.counters[key] = seq
	}
	if seq.YearlyReset && seq.Year != now.Year() {
		seq.Year = now.Year()
		seq.Current = seq.Start - 1
	}
	seq.Current++
	return *seq, seq.Current, nil
}

func (r *memoryCounterRepo) Configure(ctx context.Context, cfg SeriesConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[counterKey{ownerID: cfg.OwnerID, series: cfg.Series}] = cfg
	return nil
}

func TestNextNumberFormatsWithDefaults(t *testing.T) {
	svc := NewService(newMemoryCounterRepo())
	svc.WithNow(func() time.Time { return time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC) })

	got, err := svc.NextNumber(context.Background(), 1, "SALE")
	require.NoError(t, err)
	require.Equal(t, "SALE-0001", got)

	got, err = svc.NextNumber(context.Background(), 1, "SALE")
	require.NoError(t, err)
	require.Equal(t, "SALE-0002", got)
}

func TestNextNumberSeriesAreIndependent(t *testing.T) {
	svc := NewService(newMemoryCounterRepo())

	sale, err := svc.NextNumber(context.Background(), 1, "SALE")
	require.NoError(t, err)
	inv, err := svc.NextNumber(context.Background(), 1, "INV")
	require.NoError(t, err)
	other, err := svc.NextNumber(context.Background(), 2, "SALE")
	require.NoError(t, err)

	require.Equal(t, "SALE-0001", sale)
	require.Equal(t, "INV-0001", inv)
	require.Equal(t, "SALE-0001", other)
}

func TestNextNumberAppliesSeriesConfig(t *testing.T) {
	repo := newMemoryCounterRepo()
	svc := NewService(repo)
	svc.WithNow(func() time.Time { return time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC) })

	require.NoError(t, svc.Configure(context.Background(), SeriesConfig{
		OwnerID:     1,
		Series:      "INV",
		Prefix:      "INV",
		Start:       100,
		Width:       6,
		IncludeYear: true,
	}))

	got, err := svc.NextNumber(context.Background(), 1, "INV")
	require.NoError(t, err)
	require.Equal(t, "INV-2025-000100", got)
}

func TestNextNumberValidatesInput(t *testing.T) {
	svc := NewService(newMemoryCounterRepo())

	_, err := svc.NextNumber(context.Background(), 0, "SALE")
	require.Error(t, err)
	_, err = svc.NextNumber(context.Background(), 1, "")
	require.Error(t, err)
}

func TestNextNumberRetriesTransientConflicts(t *testing.T) {
	repo := newMemoryCounterRepo()
	repo.failures = 2
	svc := NewService(repo)
	svc.backoff = time.Millisecond

	got, err := svc.NextNumber(context.Background(), 1, "SALE")
	require.NoError(t, err)
	require.Equal(t, "SALE-0001", got)
}

func TestNextNumberSurfacesConflictAfterRetryBudget(t *testing.T) {
	repo := newMemoryCounterRepo()
	repo.failures = 100
	svc := NewService(repo)
	svc.backoff = time.Millisecond

	_, err := svc.NextNumber(context.Background(), 1, "SALE")
	require.ErrorIs(t, err, ErrContention)
	require.ErrorIs(t, err, shared.ErrStateConflict)
}

func TestNextNumberConcurrentIssuesAreDistinctAndGapless(t *testing.T) {
	svc := NewService(newMemoryCounterRepo())

	const issuers = 20
	results := make(chan string, issuers)
	var wg sync.WaitGroup
	for i := 0; i < issuers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			num, err := svc.NextNumber(context.Background(), 1, "JE")
			if err == nil {
				results <- num
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	for num := range results {
		require.False(t, seen[num], "duplicate number %s", num)
		seen[num] = true
	}
	require.Len(t, seen, issuers)
	require.True(t, seen["JE-0001"])
	require.True(t, seen["JE-0020"])
}

func TestConfigureRequiresOwnerAndSeries(t *testing.T) {
	svc := NewService(newMemoryCounterRepo())
	require.Error(t, svc.Configure(context.Background(), SeriesConfig{OwnerID: 0, Series: "SALE"}))
	require.Error(t, svc.Configure(context.Background(), SeriesConfig{OwnerID: 1, Series: ""}))
}

func TestConfigureDefaultsPrefixWidthStart(t *testing.T) {
	repo := newMemoryCounterRepo()
	svc := NewService(repo)
	require.NoError(t, svc.Configure(context.Background(), SeriesConfig{OwnerID: 1, Series: "BILL"}))

	cfg := repo.configs[counterKey{ownerID: 1, series: "BILL"}]
	require.Equal(t, "BILL", cfg.Prefix)
	require.Equal(t, 4, cfg.Width)
	require.EqualValues(t, 1, cfg.Start)
}

func TestConfigureYearlyResetForcesYearComponent(t *testing.T) {
	repo := newMemoryCounterRepo()
	svc := NewService(repo)
	require.NoError(t, svc.Configure(context.Background(), SeriesConfig{
		OwnerID:     1,
		Series:      "INV",
		YearlyReset: true,
	}))
	require.True(t, repo.configs[counterKey{ownerID: 1, series: "INV"}].IncludeYear)

	// Without the year component the reset would re-issue last year's
	// strings; with it each year's run is distinct.
	year := 2025
	svc.WithNow(func() time.Time { return time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC) })
	first, err := svc.NextNumber(context.Background(), 1, "INV")
	require.NoError(t, err)
	require.Equal(t, "INV-2025-0001", first)

	year = 2026
	second, err := svc.NextNumber(context.Background(), 1, "INV")
	require.NoError(t, err)
	require.Equal(t, "INV-2026-0001", second)
	require.NotEqual(t, first, second)
}

func TestNextNumberYearlyResetRestartsSequence(t *testing.T) {
	repo := newMemoryCounterRepo()
	svc := NewService(repo)
	require.NoError(t, svc.Configure(context.Background(), SeriesConfig{
		OwnerID:     1,
		Series:      "INV",
		Prefix:      "INV",
		IncludeYear: true,
		YearlyReset: true,
	}))

	year := 2025
	svc.WithNow(func() time.Time { return time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC) })
	got, err := svc.NextNumber(context.Background(), 1, "INV")
	require.NoError(t, err)
	require.Equal(t, "INV-2025-0001", got)

	year = 2026
	got, err = svc.NextNumber(context.Background(), 1, "INV")
	require.NoError(t, err)
	require.Equal(t, "INV-2026-0001", got)
}

var _ RepositoryPort = (*memoryCounterRepo)(nil)
