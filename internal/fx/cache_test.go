package fx

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	calls atomic.Int32
	quote Quote
}

func (p *countingProvider) QuoteForPeriod(ctx context.Context, asOf time.Time, pair string) (Quote, bool, error) {
	p.calls.Add(1)
	time.Sleep(5 * time.Millisecond)
	if pair == "XXXUSD" {
		return Quote{}, false, nil
	}
	return p.quote, true, nil
}

func TestQuoteCacheLoadsOncePerKey(t *testing.T) {
	provider := &countingProvider{quote: Quote{Average: 1.1, Closing: 1.2}}
	cache := NewQuoteCache(provider)
	asOf := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			quote, ok, err := cache.Quote(context.Background(), asOf, "EURUSD")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, 1.2, quote.Closing)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), provider.calls.Load())

	_, ok, err := cache.Quote(context.Background(), asOf, "XXXUSD")
	require.NoError(t, err)
	require.False(t, ok)
	_, _, _ = cache.Quote(context.Background(), asOf, "XXXUSD")
	require.Equal(t, int32(2), provider.calls.Load())
}
