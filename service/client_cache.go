package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/internal/aead"
	"github.com/layer-3/keyward/internal/logging"
	"github.com/layer-3/keyward/internal/metrics"
	"github.com/layer-3/keyward/ports"
	"golang.org/x/sync/singleflight"
)

// CacheConfig bounds how long an idle handle stays resident
type CacheConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

type cacheEntry struct {
	client     *SessionClient
	lastAccess time.Time
}

// ClientCache keeps decrypted session handles in memory. It can only narrow
// what the session store allows: every serve re-checks the session on chain.
type ClientCache struct {
	store     ports.SessionStore
	sealer    *aead.Sealer
	oracle    ports.Oracle
	submitter ports.TxSubmitter

	cfg     CacheConfig
	clock   Clock
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	entries map[string]*cacheEntry
	group   singleflight.Group

	// Evict stamps the address with a sequence number so a rehydration that
	// started earlier does not re-insert an evicted key. Stamps are kept until
	// no in-flight rehydration predates them.
	seq       uint64
	evictedAt map[string]uint64
	inflight  map[uint64]int
}

// rehydrateTimeout bounds a shared rehydration once it is detached from the
// request that started it
const rehydrateTimeout = 30 * time.Second

// NewClientCache creates an empty cache
func NewClientCache(
	cfg CacheConfig,
	store ports.SessionStore,
	sealer *aead.Sealer,
	oracle ports.Oracle,
	submitter ports.TxSubmitter,
	clock Clock,
	logger *slog.Logger,
	m *metrics.Metrics,
) *ClientCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &ClientCache{
		store:     store,
		sealer:    sealer,
		oracle:    oracle,
		submitter: submitter,
		cfg:       cfg,
		clock:     clock,
		logger:    logger,
		metrics:   m,
		entries:   make(map[string]*cacheEntry),
		evictedAt: make(map[string]uint64),
		inflight:  make(map[uint64]int),
	}
}

// Acquire returns a live handle for address. It returns core.ErrNoActiveSession
// when there is none and core.ErrOracleUnavailable when liveness cannot be
// established.
func (c *ClientCache) Acquire(ctx context.Context, address string) (*SessionClient, error) {
	now := c.clock.Now()

	c.mu.Lock()
	entry, ok := c.entries[address]
	if ok && now.Sub(entry.lastAccess) >= c.cfg.TTL {
		c.removeLocked(address, "ttl")
		ok = false
	}
	c.mu.Unlock()

	if ok {
		c.metrics.CacheHits.Inc()
		if err := c.checkLive(ctx, address, entry.client); err != nil {
			return nil, err
		}

		c.mu.Lock()
		if cur := c.entries[address]; cur == entry {
			entry.lastAccess = now
		}
		c.mu.Unlock()
		return entry.client, nil
	}

	c.metrics.CacheMisses.Inc()

	// The shared call must not fail for every waiter when one of them goes away
	ch := c.group.DoChan(address, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rehydrateTimeout)
		defer cancel()
		return c.rehydrate(rctx, address)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*SessionClient), nil
	}
}

// Evict drops any cached handle for address
func (c *ClientCache) Evict(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.evictedAt[address] = c.seq
	if _, ok := c.entries[address]; ok {
		c.removeLocked(address, "explicit")
	}
}

// Sweep removes every entry idle for longer than the TTL and returns how many
// were removed
func (c *ClientCache) Sweep() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for address, entry := range c.entries {
		if now.Sub(entry.lastAccess) > c.cfg.TTL {
			c.removeLocked(address, "sweep")
			removed++
		}
	}

	floor := c.seq
	for started := range c.inflight {
		if started < floor {
			floor = started
		}
	}
	for address, at := range c.evictedAt {
		if at <= floor {
			delete(c.evictedAt, address)
		}
	}

	return removed
}

// Len reports the number of cached handles
func (c *ClientCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Run sweeps on the configured interval until ctx is done
func (c *ClientCache) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	c.logger.Info("cache.sweeper_started", "interval", c.cfg.SweepInterval, "ttl", c.cfg.TTL)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("cache.sweep", "removed", n)
			}
		}
	}
}

// checkLive asks the oracle about a cached handle. A definitive not-active
// answer evicts the handle and deletes its record; an oracle failure does neither.
func (c *ClientCache) checkLive(ctx context.Context, address string, client *SessionClient) error {
	status, err := c.oracle.QueryStatus(ctx, address, client.Policy())
	if err != nil {
		c.metrics.OracleQueries.WithLabelValues("error").Inc()
		c.logger.Warn("oracle.unavailable", "address", logging.ShortAddress(address), "op", "acquire", "error", err)
		return err
	}
	c.metrics.OracleQueries.WithLabelValues(status.String()).Inc()
	if status == core.ChainActive {
		return nil
	}

	c.mu.Lock()
	if cur, ok := c.entries[address]; ok && cur.client == client {
		c.removeLocked(address, "revoked")
	}
	c.mu.Unlock()

	c.dropRecord(ctx, address, client.Signer(), status)
	return core.ErrNoActiveSession
}

func (c *ClientCache) rehydrate(ctx context.Context, address string) (*SessionClient, error) {
	c.mu.Lock()
	started := c.seq
	c.inflight[started]++
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inflight[started]--
		if c.inflight[started] == 0 {
			delete(c.inflight, started)
		}
		c.mu.Unlock()
	}()

	record, err := c.store.Get(ctx, address)
	if errors.Is(err, core.ErrSessionNotFound) {
		return nil, core.ErrNoActiveSession
	}
	if err != nil {
		return nil, err
	}
	if record.Status != core.SessionActive {
		return nil, core.ErrNoActiveSession
	}

	client, err := c.open(record)
	if err != nil {
		c.logger.Error("cache.rehydrate_failed", "address", logging.ShortAddress(address), "error", err)
		return nil, err
	}

	status, err := c.oracle.QueryStatus(ctx, address, client.Policy())
	if err != nil {
		c.metrics.OracleQueries.WithLabelValues("error").Inc()
		c.logger.Warn("oracle.unavailable", "address", logging.ShortAddress(address), "op", "rehydrate", "error", err)
		return nil, err
	}
	c.metrics.OracleQueries.WithLabelValues(status.String()).Inc()
	if status != core.ChainActive {
		c.dropRecord(ctx, address, client.Signer(), status)
		return nil, core.ErrNoActiveSession
	}

	c.mu.Lock()
	if c.evictedAt[address] <= started {
		c.entries[address] = &cacheEntry{client: client, lastAccess: c.clock.Now()}
		c.metrics.CacheSize.Set(float64(len(c.entries)))
	}
	c.mu.Unlock()

	c.logger.Debug("cache.rehydrated", "address", logging.ShortAddress(address))
	return client, nil
}

// open decrypts the stored key and rebuilds the signing handle
func (c *ClientCache) open(record *core.SessionRecord) (*SessionClient, error) {
	plain, err := c.sealer.Open(record.EncryptedPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrEncryption, err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(string(plain), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: stored key is not a valid secp256k1 key", core.ErrEncryption)
	}

	client := newSessionClient(common.HexToAddress(record.Address), key, record.Policy, c.submitter, c.clock)
	if !strings.EqualFold(client.Signer().Hex(), record.SessionKeyAddress) {
		return nil, fmt.Errorf("%w: stored key does not match session key address", core.ErrEncryption)
	}
	return client, nil
}

// dropRecord deletes the record backing a dead session unless it has already
// been replaced by a newer key
func (c *ClientCache) dropRecord(ctx context.Context, address string, signer common.Address, status core.ChainStatus) {
	deleted, err := c.store.DeleteKey(ctx, address, strings.ToLower(signer.Hex()))
	if err != nil {
		c.logger.Error("session.delete_failed", "address", logging.ShortAddress(address), "error", err)
		return
	}
	if deleted {
		c.logger.Info("session.deleted", "address", logging.ShortAddress(address), "chain_status", status.String())
	}
}

func (c *ClientCache) removeLocked(address, reason string) {
	delete(c.entries, address)
	c.metrics.CacheEvictions.WithLabelValues(reason).Inc()
	c.metrics.CacheSize.Set(float64(len(c.entries)))
}
