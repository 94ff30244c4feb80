package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/flowbase/flowbase/pkg/clusterrpc"
	"github.com/flowbase/flowbase/pkg/flowtype"
	"github.com/flowbase/flowbase/pkg/graph"
)

// pollInterval paces ViewHandle's blockOnMiss retry loop. A fixed
// short interval rather than exponential backoff: a partial miss is
// expected to resolve in one upquery round-trip, not the many seconds
// backoff is meant for.
const pollInterval = 5 * time.Millisecond

// ViewHandle is a handle to one installed Reader (CREATE CACHE),
// returned by Controller.View. Lookup/Range dispatch straight through
// the dispatcher to whichever domain (local or remote) materializes
// the reader, bypassing the controller's command channel entirely —
// the same direct-to-domain path TableHandle uses for writes.
type ViewHandle struct {
	name   string
	nodeID graph.NodeID
	router Dispatcher
}

// View resolves name to a live Reader node and returns a handle for
// querying it, or an error if no such cache is installed.
func (c *Controller) View(name string) (*ViewHandle, error) {
	n, ok := c.cfg.Graph.NodeByName(name)
	if !ok {
		return nil, fmt.Errorf("controller: no view named %q", name)
	}
	if n.Operator.Kind != graph.KindReader {
		return nil, fmt.Errorf("controller: %q is not a cached view", name)
	}
	return &ViewHandle{name: name, nodeID: n.ID, router: c.cfg.Router}, nil
}

// Name returns the view's name.
func (v *ViewHandle) Name() string { return v.name }

// Lookup returns the rows matching key. If blockOnMiss is true and the
// reader is still partial for this key, Lookup polls until the
// upquery-driven replay fills it or ctx is cancelled (spec §4.6's
// partial-miss-triggers-replay path, observed here as NeedsReplayKey on
// the wire response); if false, a miss returns immediately with
// ok=false.
func (v *ViewHandle) Lookup(ctx context.Context, key flowtype.Key, blockOnMiss bool) ([]flowtype.Key, bool, error) {
	req := &clusterrpc.LookupRequest{Node: v.nodeID, Key: key}
	for {
		resp, err := v.router.Lookup(req)
		if err != nil {
			return nil, false, fmt.Errorf("controller: lookup on view %q: %w", v.name, err)
		}
		if !resp.Missed {
			return resp.Rows, true, nil
		}
		if !blockOnMiss {
			return nil, false, nil
		}
		if err := sleepOrDone(ctx); err != nil {
			return nil, false, err
		}
	}
}

// Range returns every row whose key falls within [lo, hi], with the
// same blockOnMiss semantics as Lookup: it retries while the response
// reports Missed. The response's MissingRanges are not read.
func (v *ViewHandle) Range(ctx context.Context, lo, hi flowtype.Key, blockOnMiss bool) ([]flowtype.Key, bool, error) {
	req := &clusterrpc.LookupRequest{Node: v.nodeID, Lo: lo, Hi: hi, Range: true}
	for {
		resp, err := v.router.Lookup(req)
		if err != nil {
			return nil, false, fmt.Errorf("controller: range lookup on view %q: %w", v.name, err)
		}
		if !resp.Missed {
			return resp.Rows, true, nil
		}
		if !blockOnMiss {
			return nil, false, nil
		}
		if err := sleepOrDone(ctx); err != nil {
			return nil, false, err
		}
	}
}

func sleepOrDone(ctx context.Context) error {
	t := time.NewTimer(pollInterval)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
