// Out-of-band balance checks.
//
// DESIGN: A Fetcher asks the provider's usage endpoint how much of a
// credential's allowance is left. The Refresher pushes results into the Pool
// with SetBalance. RefreshAll splits active credentials into batches of
// BatchSize: calls inside a batch run concurrently (errgroup), batches run
// one after another with BatchDelay in between.
package keypool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

// Fetcher retrieves the balance for one credential.
type Fetcher interface {
	Fetch(ctx context.Context, secret string) (Balance, error)
}

// HTTPFetcher reads balances from a JSON usage endpoint.
type HTTPFetcher struct {
	Client    *http.Client
	URL       string
	TotalPath string // gjson path to the total allowance
	UsedPath  string // gjson path to the consumed amount
	UserAgent string
	Now       func() time.Time
}

// Fetch issues GET URL with the credential as bearer token.
func (f *HTTPFetcher) Fetch(ctx context.Context, secret string) (Balance, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return Balance{}, fmt.Errorf("failed to create balance request: %w", err)
	}
	req.Header.Set("Authorization", bearer(secret))
	req.Header.Set("Accept", "application/json")
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Balance{}, fmt.Errorf("balance request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Balance{}, fmt.Errorf("failed to read balance response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Balance{}, fmt.Errorf("balance endpoint returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	if !gjson.ValidBytes(body) {
		return Balance{}, fmt.Errorf("balance endpoint returned invalid JSON")
	}

	total := gjson.GetBytes(body, f.TotalPath)
	used := gjson.GetBytes(body, f.UsedPath)
	if !total.Exists() || !used.Exists() {
		return Balance{}, fmt.Errorf("balance response missing %q or %q", f.TotalPath, f.UsedPath)
	}

	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	return NewBalance(total.Float(), used.Float(), now()), nil
}

// RefreshResult is the outcome of one credential's balance check.
type RefreshResult struct {
	Index   int      `json:"index"`
	Key     string   `json:"key"`
	Balance *Balance `json:"balance,omitempty"`
	Skipped bool     `json:"skipped"`
	Error   string   `json:"error,omitempty"`
}

// Refresher applies fetched balances to a pool.
type Refresher struct {
	pool       *Pool
	fetcher    Fetcher
	batchSize  int
	batchDelay time.Duration
}

// NewRefresher creates a refresher. batchSize below 1 is treated as 1.
func NewRefresher(pool *Pool, fetcher Fetcher, batchSize int, batchDelay time.Duration) *Refresher {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Refresher{pool: pool, fetcher: fetcher, batchSize: batchSize, batchDelay: batchDelay}
}

// Refresh checks one credential and stores the snapshot.
func (r *Refresher) Refresh(ctx context.Context, index int) (Balance, error) {
	secret, err := r.pool.Secret(index)
	if err != nil {
		return Balance{}, err
	}
	b, err := r.fetcher.Fetch(ctx, secret)
	if err != nil {
		return Balance{}, err
	}
	if err := r.pool.SetBalance(index, b); err != nil {
		return Balance{}, err
	}
	return b, nil
}

// RefreshAll checks every active credential in bounded batches.
// Individual failures are reported per result and do not stop the run.
func (r *Refresher) RefreshAll(ctx context.Context) []RefreshResult {
	indexes := r.pool.ActiveIndexes()
	results := make([]RefreshResult, len(indexes))

	for start := 0; start < len(indexes); start += r.batchSize {
		if start > 0 && r.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return fillCancelled(results, indexes, start, r.pool, ctx.Err())
			case <-time.After(r.batchDelay):
			}
		}

		end := start + r.batchSize
		if end > len(indexes) {
			end = len(indexes)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				idx := indexes[i]
				res := RefreshResult{Index: idx}
				b, err := r.Refresh(gctx, idx)
				if err != nil {
					res.Error = err.Error()
					log.Warn().Err(err).Int("index", idx).Msg("balance refresh failed")
				} else {
					res.Balance = &b
				}
				results[i] = res
				// Per-credential errors are reported, not propagated, so one
				// failure does not cancel the rest of the batch.
				return nil
			})
		}
		_ = g.Wait()
	}

	threshold := r.pool.SkipThreshold()
	for i := range results {
		if secret, err := r.pool.Secret(results[i].Index); err == nil {
			results[i].Key = MaskSecret(secret)
		}
		if b := results[i].Balance; b != nil {
			results[i].Skipped = b.Remaining <= threshold
		}
	}
	return results
}

func fillCancelled(results []RefreshResult, indexes []int, from int, pool *Pool, err error) []RefreshResult {
	for i := from; i < len(indexes); i++ {
		results[i] = RefreshResult{Index: indexes[i], Error: err.Error()}
	}
	for i := range results {
		if secret, serr := pool.Secret(results[i].Index); serr == nil {
			results[i].Key = MaskSecret(secret)
		}
	}
	return results
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
