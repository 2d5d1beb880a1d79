package sync

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/Sternrassler/vendor-sync/pkg/pagination"
	"github.com/Sternrassler/vendor-sync/pkg/vendorapi"
	"github.com/Sternrassler/vendor-sync/pkg/watermark"
	"github.com/rs/zerolog/log"
)

// PagedEndpointAdapter is the standard Adapter implementation: it drives
// one paginated vendor endpoint to exhaustion over the window, retrying
// throttled pages with linear backoff. All record-type adapters are
// instances of this one generic implementation.
type PagedEndpointAdapter struct {
	// Client executes the gated vendor calls.
	Client *vendorapi.Client

	// Endpoint is the vendor endpoint identifier (e.g. "orders.list").
	Endpoint string

	// Weight is the declared capacity weight of one page call.
	Weight int

	// PageSize is the default page length when the run options leave it
	// unset.
	PageSize int

	// MaxPageSize is the endpoint's page length bound.
	MaxPageSize int

	// Filter builds the endpoint filter fields for a window. The default
	// sends start_date/end_date.
	Filter func(window watermark.Window) map[string]any

	// Sink, if set, returns the incremental page sink for a run.
	Sink func(account vendorapi.Account, window watermark.Window) pagination.PageSink

	// Persist, if set, stores the accumulated records. Persistence
	// failures are logged and do not fail the run; the fetched data is
	// still reported.
	Persist func(ctx context.Context, account vendorapi.Account, items []json.RawMessage) error

	// Cleanup, if set, releases incremental spool state once the window
	// completed fully. Not invoked for partial runs, whose spooled pages
	// must survive for the retry.
	Cleanup func(ctx context.Context, account vendorapi.Account, window watermark.Window) error
}

// FetchWindow implements Adapter.
func (a *PagedEndpointAdapter) FetchWindow(ctx context.Context, account vendorapi.Account, window watermark.Window, opts FetchOptions) (FetchResult, error) {
	filter := a.filter(window)

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = a.PageSize
	}

	fetchOpts := pagination.Options{
		PageSize:    pageSize,
		MaxPageSize: a.MaxPageSize,
		PageDelay:   opts.PageDelay,
	}
	if a.Sink != nil {
		fetchOpts.Sink = a.Sink(account, window)
	}
	fetcher := pagination.New(fetchOpts)

	retryCfg := vendorapi.RetryConfig{
		MaxRetries: opts.MaxRetries,
		BaseDelay:  opts.BaseDelay,
	}

	pageFn := func(ctx context.Context, offset, length int) (*pagination.Page, error) {
		payload := make(map[string]any, len(filter)+2)
		for k, v := range filter {
			payload[k] = v
		}
		payload["offset"] = offset
		payload["length"] = length

		var resp *vendorapi.Response
		err := vendorapi.CallWithRetry(ctx, retryCfg, func() error {
			r, err := a.Client.Execute(ctx, account, a.Endpoint, payload, a.Weight)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		if err != nil {
			return nil, err
		}

		var items []json.RawMessage
		if len(resp.Data) > 0 && strings.TrimSpace(string(resp.Data)) != "null" {
			if err := json.Unmarshal(resp.Data, &items); err != nil {
				return nil, &vendorapi.TransportError{Endpoint: a.Endpoint, Err: err}
			}
		}
		return &pagination.Page{Items: items, Total: resp.Total}, nil
	}

	result, err := fetcher.FetchAll(ctx, account.ID, pageFn)
	if err != nil {
		return FetchResult{}, err
	}

	if a.Persist != nil && len(result.Items) > 0 {
		if perr := a.Persist(ctx, account, result.Items); perr != nil {
			log.Error().
				Err(perr).
				Str("account_id", account.ID).
				Str("endpoint", a.Endpoint).
				Int("records", len(result.Items)).
				Str("error_class", string(vendorapi.ErrorClassPersistence)).
				Msg("Record persistence failed - fetched data kept in memory")
		}
	}

	if !result.Partial && a.Cleanup != nil {
		if cerr := a.Cleanup(ctx, account, window); cerr != nil {
			log.Warn().
				Err(cerr).
				Str("account_id", account.ID).
				Str("endpoint", a.Endpoint).
				Msg("Spool cleanup failed - entry expires via TTL")
		}
	}

	return FetchResult{
		Records: len(result.Items),
		Pages:   result.Pages,
		Partial: result.Partial,
		Err:     result.Err,
	}, nil
}

func (a *PagedEndpointAdapter) filter(window watermark.Window) map[string]any {
	if a.Filter != nil {
		return a.Filter(window)
	}
	return map[string]any{
		"start_date": window.Start.Format("2006-01-02"),
		"end_date":   window.End.Format("2006-01-02"),
	}
}
