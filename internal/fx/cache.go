package fx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// QuoteCache memoises quotes per period and pair for the lifetime of one run.
// Concurrent lookups of the same key share a single provider call.
type QuoteCache struct {
	provider QuoteProvider
	group    singleflight.Group

	mu     sync.RWMutex
	quotes map[string]cachedQuote
}

type cachedQuote struct {
	quote Quote
	ok    bool
}

// NewQuoteCache wraps provider with a run-scoped cache.
func NewQuoteCache(provider QuoteProvider) *QuoteCache {
	return &QuoteCache{provider: provider, quotes: make(map[string]cachedQuote)}
}

// Quote returns the quote for pair at asOf, loading it once.
func (c *QuoteCache) Quote(ctx context.Context, asOf time.Time, pair string) (Quote, bool, error) {
	if c == nil || c.provider == nil {
		return Quote{}, false, fmt.Errorf("fx: quote provider required")
	}
	key := asOf.Format("2006-01") + "|" + pair
	c.mu.RLock()
	cached, hit := c.quotes[key]
	c.mu.RUnlock()
	if hit {
		return cached.quote, cached.ok, nil
	}
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		c.mu.RLock()
		cached, hit := c.quotes[key]
		c.mu.RUnlock()
		if hit {
			return cached, nil
		}
		quote, ok, err := c.provider.QuoteForPeriod(ctx, asOf, pair)
		if err != nil {
			return nil, err
		}
		entry := cachedQuote{quote: quote, ok: ok}
		c.mu.Lock()
		c.quotes[key] = entry
		c.mu.Unlock()
		return entry, nil
	})
	if err != nil {
		return Quote{}, false, err
	}
	entry := val.(cachedQuote)
	return entry.quote, entry.ok, nil
}
