package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var (
	fetchPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vendor_fetch_pages_total",
		Help: "Total pages fetched across all fetch-all invocations",
	})

	fetchPartialTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vendor_fetch_partial_total",
		Help: "Total fetch-all invocations that terminated with partial data",
	})

	fetchDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vendor_fetch_duration_seconds",
		Help:    "Duration of complete fetch-all invocations",
		Buckets: []float64{0.5, 1, 5, 15, 60, 300},
	})
)

// Page is the result of one page call.
type Page struct {
	Items []json.RawMessage
	Total int
}

// PageFunc fetches one page of records for an opaque filter.
// The filter itself is closed over by the adapter providing the function.
type PageFunc func(ctx context.Context, offset, length int) (*Page, error)

// PageSink receives every fetched page as it arrives so a crash does not
// lose already-fetched data. Sink errors are logged, never fatal.
type PageSink interface {
	Put(ctx context.Context, pageNo int, items []json.RawMessage) error
}

// Options holds fetch-all configuration.
type Options struct {
	// PageSize is the requested page length, clamped to MaxPageSize.
	PageSize int

	// MaxPageSize is the per-endpoint upper bound for one page.
	MaxPageSize int

	// PageDelay is the pause between successive page calls.
	PageDelay time.Duration

	// OnProgress, if set, is invoked after every page with the
	// accumulated and total counts.
	OnProgress func(fetched, total int)

	// Sink, if set, receives each page incrementally.
	Sink PageSink
}

// DefaultOptions returns safe defaults for vendor endpoints.
func DefaultOptions() Options {
	return Options{
		PageSize:    100,
		MaxPageSize: 500,
		PageDelay:   200 * time.Millisecond,
	}
}

// Result is the outcome of one fetch-all invocation.
type Result struct {
	// Items are all accumulated records.
	Items []json.RawMessage

	// Total is the authoritative count declared by the first page.
	Total int

	// Pages is the number of successful page calls.
	Pages int

	// Partial is true when the fetch terminated early on a failed page
	// after at least one page had already succeeded. Callers advancing
	// watermarks must not treat a partial result as a complete window.
	Partial bool

	// Err carries the page failure that terminated a partial fetch.
	Err error
}

// Fetcher drives repeated page calls to exhaustion, strictly sequentially.
type Fetcher struct {
	opts Options
}

// New creates a fetcher with the given options.
func New(opts Options) *Fetcher {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = 500
	}
	if opts.PageSize > opts.MaxPageSize {
		opts.PageSize = opts.MaxPageSize
	}
	return &Fetcher{opts: opts}
}

// FetchAll retrieves all records for the filter behind fetch.
//
// The first page's declared total is authoritative for termination: the
// loop stops when a page returns fewer items than requested or the
// accumulated count reaches the total. Pages are never fetched in
// parallel; shared endpoint capacity is frequently 1.
//
// If the first page fails the whole operation fails. If a later page
// fails, the accumulated items are returned with Partial=true instead of
// raising: partial data is preferred over total loss.
func (f *Fetcher) FetchAll(ctx context.Context, accountID string, fetch PageFunc) (*Result, error) {
	start := time.Now()
	defer func() {
		fetchDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	pageSize := f.opts.PageSize

	var items []json.RawMessage
	total := -1
	offset := 0
	pages := 0

	for {
		if pages > 0 && f.opts.PageDelay > 0 {
			select {
			case <-ctx.Done():
				return f.partial(accountID, items, total, pages, ctx.Err())
			case <-time.After(f.opts.PageDelay):
			}
		}

		page, err := fetch(ctx, offset, pageSize)
		if err != nil {
			if pages == 0 {
				return nil, fmt.Errorf("fetch first page: %w", err)
			}
			return f.partial(accountID, items, total, pages, err)
		}

		pages++
		fetchPagesTotal.Inc()

		if total < 0 {
			// First page's total is authoritative for the whole run.
			total = page.Total
			log.Debug().
				Str("account_id", accountID).
				Int("total", total).
				Int("page_size", pageSize).
				Msg("Starting sequential fetch-all")
		}

		items = append(items, page.Items...)

		if f.opts.Sink != nil {
			if serr := f.opts.Sink.Put(ctx, pages, page.Items); serr != nil {
				log.Warn().
					Err(serr).
					Str("account_id", accountID).
					Int("page", pages).
					Msg("Page spool write failed - continuing in memory")
			}
		}

		if f.opts.OnProgress != nil {
			f.opts.OnProgress(len(items), total)
		}

		if len(page.Items) < pageSize || len(items) >= total {
			break
		}
		offset += pageSize
	}

	log.Info().
		Str("account_id", accountID).
		Int("pages", pages).
		Int("records", len(items)).
		Int("total", total).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return &Result{
		Items: items,
		Total: total,
		Pages: pages,
	}, nil
}

// partial wraps accumulated data as a partial result. Reached only after at
// least one successful page.
func (f *Fetcher) partial(accountID string, items []json.RawMessage, total, pages int, cause error) (*Result, error) {
	fetchPartialTotal.Inc()

	log.Warn().
		Err(cause).
		Str("account_id", accountID).
		Int("pages", pages).
		Int("records", len(items)).
		Int("total", total).
		Msg("Page fetch failed - returning partial results")

	return &Result{
		Items:   items,
		Total:   total,
		Pages:   pages,
		Partial: true,
		Err:     cause,
	}, nil
}
