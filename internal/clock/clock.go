// Package clock provides domain.Clock implementations: a manually advanced
// clock for tests, an interval clock derived from wall time, and a chain
// clock that follows an Ethereum JSON-RPC node's block number.
package clock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

var (
	_ domain.Clock = (*Manual)(nil)
	_ domain.Clock = (*Interval)(nil)
	_ domain.Clock = (*Chain)(nil)
)

// Manual is a clock whose height only changes when told to.
type Manual struct {
	h atomic.Uint64
}

// NewManual returns a Manual clock at height h.
func NewManual(h uint64) *Manual {
	m := &Manual{}
	m.h.Store(h)
	return m
}

func (m *Manual) Height(context.Context) (uint64, error) { return m.h.Load(), nil }

// Set moves the clock to h. Moving backwards is ignored.
func (m *Manual) Set(h uint64) {
	for {
		cur := m.h.Load()
		if h <= cur || m.h.CompareAndSwap(cur, h) {
			return
		}
	}
}

// Advance moves the clock forward by n.
func (m *Manual) Advance(n uint64) { m.h.Add(n) }

// Interval derives a height from wall time: one tick per Every since Genesis.
type Interval struct {
	Genesis time.Time
	Every   time.Duration
	Now     func() time.Time
}

// NewInterval creates an Interval clock.
func NewInterval(genesis time.Time, every time.Duration) *Interval {
	return &Interval{Genesis: genesis, Every: every, Now: time.Now}
}

func (c *Interval) Height(context.Context) (uint64, error) {
	if c.Every <= 0 {
		return 0, fmt.Errorf("clock: interval must be positive, got %s", c.Every)
	}
	elapsed := c.Now().Sub(c.Genesis)
	if elapsed < 0 {
		return 0, nil
	}
	return uint64(elapsed / c.Every), nil
}

// Chain reads the latest block number from a JSON-RPC endpoint. The node's
// answer is cached for CacheFor and never allowed to go backwards, so a
// lagging load-balanced replica cannot reopen a closed market.
type Chain struct {
	client   *ethclient.Client
	cacheFor time.Duration

	mu      sync.Mutex
	last    uint64
	fetched time.Time
}

// DialChain connects to rpcURL.
func DialChain(ctx context.Context, rpcURL string, cacheFor time.Duration) (*Chain, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("clock: dial rpc: %w", err)
	}
	return &Chain{client: client, cacheFor: cacheFor}, nil
}

func (c *Chain) Height(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cacheFor > 0 && !c.fetched.IsZero() && time.Since(c.fetched) < c.cacheFor {
		return c.last, nil
	}
	n, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("clock: block number: %w", err)
	}
	if n > c.last {
		c.last = n
	}
	c.fetched = time.Now()
	return c.last, nil
}

// Close releases the RPC connection.
func (c *Chain) Close() { c.client.Close() }
