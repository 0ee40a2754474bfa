package boundary

import (
	"context"
	"io"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/market-atlas/internal/fetcher"
	"github.com/sells-group/market-atlas/internal/geo"
)

// ErrUnavailable is returned when a resolution's geometry could not be loaded.
var ErrUnavailable = eris.New("boundary: geometry unavailable")

// AssetNames are the fixed asset file names per resolution.
var AssetNames = map[geo.Resolution]string{
	geo.National: "us-national.json",
	geo.State:    "us-states.json",
	geo.Metro:    "us-metros.json",
	geo.County:   "us-counties.json",
	geo.Zip:      "us-zcta.json",
}

type pendingLoad struct {
	done chan struct{}
	set  *FeatureSet
	err  error
}

// Loader fetches each resolution's boundary asset at most once and keeps
// one feature set resident per resolution. It is safe for concurrent use;
// concurrent callers for the same resolution share a single fetch.
type Loader struct {
	fetch fetcher.Fetcher
	base  string

	mu      sync.Mutex
	sets    map[geo.Resolution]*FeatureSet
	pending map[geo.Resolution]*pendingLoad
	fetches map[geo.Resolution]int
}

// NewLoader creates a loader reading assets from base (a URL or directory).
func NewLoader(f fetcher.Fetcher, base string) *Loader {
	return &Loader{
		fetch:   f,
		base:    base,
		sets:    make(map[geo.Resolution]*FeatureSet),
		pending: make(map[geo.Resolution]*pendingLoad),
		fetches: make(map[geo.Resolution]int),
	}
}

// Location returns where the asset for res is read from.
func (l *Loader) Location(res geo.Resolution) string {
	return fetcher.Join(l.base, AssetNames[res])
}

// Get returns the resident feature set without triggering a fetch.
func (l *Loader) Get(res geo.Resolution) (*FeatureSet, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sets[res]
	return s, ok
}

// Ensure returns the feature set for res, fetching it on first use. A failed
// fetch is logged and leaves the resolution empty so a later call retries.
// The shared fetch is detached from ctx; ctx only bounds this caller's wait.
func (l *Loader) Ensure(ctx context.Context, res geo.Resolution) (*FeatureSet, error) {
	if !res.Valid() {
		return nil, eris.Errorf("boundary: invalid resolution %d", int(res))
	}

	l.mu.Lock()
	if s, ok := l.sets[res]; ok {
		l.mu.Unlock()
		return s, nil
	}
	p, ok := l.pending[res]
	if !ok {
		p = &pendingLoad{done: make(chan struct{})}
		l.pending[res] = p
		l.fetches[res]++
		go l.run(context.WithoutCancel(ctx), res, p)
	}
	l.mu.Unlock()

	select {
	case <-p.done:
		return p.set, p.err
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "boundary: wait for load")
	}
}

func (l *Loader) run(ctx context.Context, res geo.Resolution, p *pendingLoad) {
	set, err := l.load(ctx, res)

	l.mu.Lock()
	delete(l.pending, res)
	if err == nil {
		l.sets[res] = set
	}
	l.mu.Unlock()

	if err != nil {
		zap.L().Error("boundary: load failed",
			zap.Stringer("resolution", res),
			zap.String("location", l.Location(res)),
			zap.Error(err),
		)
		err = eris.Wrapf(ErrUnavailable, "%s: %v", res, err)
	}
	p.set, p.err = set, err
	close(p.done)
}

func (l *Loader) load(ctx context.Context, res geo.Resolution) (*FeatureSet, error) {
	loc := l.Location(res)
	body, err := l.fetch.Download(ctx, loc)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: read %s", loc)
	}

	set, err := Parse(res, data)
	if err != nil {
		return nil, err
	}
	zap.L().Info("boundary: loaded",
		zap.Stringer("resolution", res),
		zap.Int("features", set.Len()),
	)
	return set, nil
}

// Clear discards the resident set for res so the next Ensure refetches it.
func (l *Loader) Clear(res geo.Resolution) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sets, res)
}

// Fetches returns how many fetches have been started for res.
func (l *Loader) Fetches(res geo.Resolution) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fetches[res]
}

// Warm loads the given resolutions concurrently. Failures are logged by
// Ensure and do not abort the other loads.
func (l *Loader) Warm(ctx context.Context, resolutions ...geo.Resolution) {
	var g errgroup.Group
	g.SetLimit(3)
	for _, res := range resolutions {
		g.Go(func() error {
			_, _ = l.Ensure(ctx, res)
			return nil
		})
	}
	_ = g.Wait()
}
