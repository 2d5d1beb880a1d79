// Package pagination provides sequential fetch-all for paginated vendor endpoints.
//
// The vendor reports the total record count on the first page, and endpoint
// capacity budgets are frequently 1, so pages are always fetched one at a
// time with a pacing delay between calls. Throughput is traded for
// rate-limit safety.
//
// Example usage:
//
//	fetcher := pagination.New(pagination.DefaultOptions())
//	result, err := fetcher.FetchAll(ctx, "acct-1", func(ctx context.Context, offset, length int) (*pagination.Page, error) {
//		return adapter.FetchOrdersPage(ctx, filter, offset, length)
//	})
//
// The fetcher:
//   - Captures the authoritative total from the first page
//   - Advances the offset by page size until a page comes back short or
//     the accumulated count reaches the total
//   - Sleeps between successive page calls
//   - Optionally spools each page to durable storage as it arrives
//   - Returns accumulated partial data when a page fails after at least
//     one page already succeeded
package pagination
