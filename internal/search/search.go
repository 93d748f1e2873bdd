// Package search fans a query out to the source adapters and merges the
// results into one ranked, blacklist-filtered list.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cwygoda/musicgrabber/internal/domain"
	"github.com/cwygoda/musicgrabber/internal/metrics"
)

// ErrUnknownSource is returned for a source name no enabled adapter serves.
var ErrUnknownSource = errors.New("unknown source")

// BlacklistPenalty is subtracted from results by a blacklisted uploader.
// It exceeds any positive score an adapter can produce.
const BlacklistPenalty = 1000

// DefaultAdapterTimeout bounds one adapter call inside SearchAll.
const DefaultAdapterTimeout = 35 * time.Second

// Sources looks up the enabled adapters.
type Sources interface {
	Get(source domain.Source) domain.Searcher
	Searchers() []domain.Searcher
}

// Aggregator runs searches across adapters.
type Aggregator struct {
	sources   Sources
	blacklist domain.BlacklistRepository
	metrics   *metrics.Metrics
	log       zerolog.Logger
	timeout   time.Duration
}

// New creates an Aggregator. m may be nil.
func New(sources Sources, blacklist domain.BlacklistRepository, m *metrics.Metrics, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		sources:   sources,
		blacklist: blacklist,
		metrics:   m,
		log:       log.With().Str("component", "search").Logger(),
		timeout:   DefaultAdapterTimeout,
	}
}

// SearchOne queries a single source.
func (a *Aggregator) SearchOne(ctx context.Context, source domain.Source, query string, limit int) ([]domain.SearchResult, error) {
	s := a.sources.Get(source)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	results := a.run(ctx, s, query, limit)
	return a.finish(ctx, results, limit), nil
}

// SearchAll queries every enabled source concurrently. A slow or panicking
// adapter contributes nothing instead of failing the search.
func (a *Aggregator) SearchAll(ctx context.Context, query string, limit int) []domain.SearchResult {
	searchers := a.sources.Searchers()
	if len(searchers) == 0 {
		return nil
	}
	perSource := make([][]domain.SearchResult, len(searchers))

	var g errgroup.Group
	g.SetLimit(len(searchers))
	for i, s := range searchers {
		g.Go(func() error {
			actx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()
			perSource[i] = a.bounded(actx, s, query, limit)
			return nil
		})
	}
	_ = g.Wait()

	var all []domain.SearchResult
	for _, rs := range perSource {
		all = append(all, rs...)
	}
	return a.finish(ctx, all, limit)
}

// bounded returns when the adapter does or when ctx expires, whichever is first.
func (a *Aggregator) bounded(ctx context.Context, s domain.Searcher, query string, limit int) []domain.SearchResult {
	ch := make(chan []domain.SearchResult, 1)
	go func() { ch <- a.run(ctx, s, query, limit) }()
	select {
	case rs := <-ch:
		return rs
	case <-ctx.Done():
		a.log.Warn().Str("source", string(s.Name())).Msg("source search timed out")
		return nil
	}
}

func (a *Aggregator) run(ctx context.Context, s domain.Searcher, query string, limit int) (results []domain.SearchResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Str("source", string(s.Name())).Interface("panic", r).Msg("source search panicked")
			results = nil
		}
		if a.metrics != nil {
			a.metrics.ObserveSearch(string(s.Name()), len(results), time.Since(start))
		}
	}()
	return s.Search(ctx, query, limit)
}

// finish applies the blacklist, ranks and truncates.
func (a *Aggregator) finish(ctx context.Context, results []domain.SearchResult, limit int) []domain.SearchResult {
	results = a.filter(ctx, results)
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].QualityScore > results[j].QualityScore
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func (a *Aggregator) filter(ctx context.Context, results []domain.SearchResult) []domain.SearchResult {
	if a.blacklist == nil || len(results) == 0 {
		return results
	}
	entries, err := a.blacklist.ListBlacklist(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("blacklist unavailable, results unfiltered")
		return results
	}
	if len(entries) == 0 {
		return results
	}
	block := domain.NewBlocklist(entries)

	out := results[:0]
	dropped := 0
	for _, r := range results {
		if block.BlocksID(r.SourceID) {
			dropped++
			continue
		}
		if block.BlocksUploader(r.Source, r.Channel) {
			r.QualityScore -= BlacklistPenalty
		}
		out = append(out, r)
	}
	if dropped > 0 {
		a.log.Debug().Int("dropped", dropped).Msg("blacklisted results removed")
	}
	return out
}
