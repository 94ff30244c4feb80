package replay

import (
	"fmt"
	"sync"
	"time"

	"github.com/flowbase/flowbase/pkg/domain"
	"github.com/flowbase/flowbase/pkg/flowtype"
	"github.com/flowbase/flowbase/pkg/graph"
	"github.com/flowbase/flowbase/pkg/log"
	"github.com/flowbase/flowbase/pkg/metrics"
	"github.com/rs/zerolog"
)

// inFlightTTL bounds how long a claimed (tag, key) fingerprint is
// considered "already being replayed". A genuinely completed replay
// marks the key filled long before this expires; the TTL exists only
// to self-heal a claim whose Replay packet was lost (a crashed worker,
// a dropped connection) instead of leaving that key permanently
// unreplayable.
const inFlightTTL = 30 * time.Second

// Config parameterizes Coordinator with this module's Config-struct
// constructor idiom.
type Config struct {
	Graph  *graph.Graph
	Router domain.Router
	Logger zerolog.Logger
}

// Coordinator implements domain.ReplayCoordinator: the dedup and
// path-walking logic behind every upquery. See doc.go for the full
// algorithm.
type Coordinator struct {
	graph  *graph.Graph
	router domain.Router
	log    zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]time.Time
}

// New builds a Coordinator. cfg.Router must resolve both local domains
// (same worker) and remote ones, exactly as pkg/router.Router does.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if isZeroLogger(logger) {
		logger = log.WithComponent("replay")
	}
	return &Coordinator{
		graph:    cfg.Graph,
		router:   cfg.Router,
		log:      logger,
		inFlight: make(map[string]time.Time),
	}
}

// RequestReplay implements domain.ReplayCoordinator. origin is either a
// live miss (a node's kernel just missed these keys) or a hop along a
// ReplayRequest already in flight; both reduce to "walk one step closer
// to this path's materialized source".
func (c *Coordinator) RequestReplay(origin graph.NodeID, keys []flowtype.Key) error {
	positions := c.graph.ReplayPathsTo(origin)
	if len(positions) == 0 {
		return fmt.Errorf("replay: no registered replay path reaches node %d", origin)
	}

	var firstErr error
	for tag, idx := range positions {
		if idx == 0 {
			// origin IS this path's materialized source; pkg/domain's
			// handleReplayRequest already answers that case directly,
			// on the owning domain's own goroutine, without involving
			// this coordinator at all.
			continue
		}
		path, ok := c.graph.ReplayPath(tag)
		if !ok {
			continue
		}
		fresh := c.claim(tag, keys)
		if len(fresh) == 0 {
			continue
		}
		metrics.ReplaysStartedTotal.WithLabelValues(fmt.Sprintf("%d", tag)).Add(float64(len(fresh)))

		upstream := path[idx-1]
		pkt := domain.NewReplayRequest(upstream, tag, fresh)
		if err := c.router.Forward(pkt); err != nil {
			c.log.Warn().Err(err).Uint32("tag", uint32(tag)).Uint64("upstream", uint64(upstream)).Msg("replay request forward failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// NotifyEvicted implements domain.ReplayCoordinator's eviction-coupling
// half (spec §4.6): node just evicted keys from its own materialized
// state, so every other node on every replay path rooted at node (not
// just the immediate next hop) needs those keys uncovered too, since
// their own derived rows are now stale.
func (c *Coordinator) NotifyEvicted(node graph.NodeID, keys []flowtype.Key) error {
	tags := c.graph.ReplayPathsFrom(node)
	var firstErr error
	for _, tag := range tags {
		path, ok := c.graph.ReplayPath(tag)
		if !ok {
			continue
		}
		for _, n := range path {
			if n == node {
				continue
			}
			if err := c.router.Forward(domain.NewEviction(n, keys)); err != nil {
				c.log.Warn().Err(err).Uint64("node", uint64(n)).Msg("eviction propagation forward failed")
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		c.forgetAll(tag, keys)
	}
	return firstErr
}

// claim marks the (tag, key) fingerprints in keys as in-flight,
// returning only the subset that were not already claimed within
// inFlightTTL — the at-most-one-concurrent-replay-per-fingerprint rule.
func (c *Coordinator) claim(tag graph.Tag, keys []flowtype.Key) []flowtype.Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	var fresh []flowtype.Key
	deduped := 0
	for _, k := range keys {
		fp := fingerprint(tag, k)
		if claimedAt, ok := c.inFlight[fp]; ok && now.Sub(claimedAt) < inFlightTTL {
			deduped++
			continue
		}
		c.inFlight[fp] = now
		fresh = append(fresh, k)
	}
	if deduped > 0 {
		metrics.ReplaysDedupedTotal.WithLabelValues(fmt.Sprintf("%d", tag)).Add(float64(deduped))
	}
	return fresh
}

// forgetAll clears in-flight claims for keys under tag; called once a
// key's data is known stale (evicted), since any claim pending against
// the old value is moot and a fresh miss should start a fresh replay
// immediately rather than wait out the TTL.
func (c *Coordinator) forgetAll(tag graph.Tag, keys []flowtype.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.inFlight, fingerprint(tag, k))
	}
}

func fingerprint(tag graph.Tag, k flowtype.Key) string {
	return fmt.Sprintf("%d:%s", tag, k.Fingerprint())
}

var _ domain.ReplayCoordinator = (*Coordinator)(nil)
