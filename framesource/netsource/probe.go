package netsource

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/denisgrzechnik/LayerMapper-NDI/framesource"
)

// ProbeFinder discovers senders among a configured list of addresses by
// performing the hello handshake against each of them.
type ProbeFinder struct {
	addrs   []string
	timeout time.Duration
}

// NewProbeFinder returns a finder over addrs. timeout bounds each probe
// (default 500ms).
func NewProbeFinder(addrs []string, timeout time.Duration) *ProbeFinder {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &ProbeFinder{addrs: append([]string(nil), addrs...), timeout: timeout}
}

// Sources probes every address concurrently and returns the reachable
// senders in configuration order. Unreachable addresses are skipped.
func (f *ProbeFinder) Sources(ctx context.Context) ([]framesource.SourceInfo, error) {
	found := make([]*framesource.SourceInfo, len(f.addrs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, addr := range f.addrs {
		i, addr := i, addr
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, f.timeout)
			defer cancel()

			sess, hello, err := dial(pctx, addr, f.timeout)
			if err != nil {
				slog.Debug("netsource: probe failed", "address", addr, "error", err)
				return nil
			}
			sess.conn.Close()

			name := hello.Source
			if name == "" {
				name = addr
			}
			mu.Lock()
			found[i] = &framesource.SourceInfo{Name: name, Address: addr, Kind: "net"}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]framesource.SourceInfo, 0, len(found))
	for _, s := range found {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out, nil
}

// Close is a no-op; probes hold no resources between calls.
func (f *ProbeFinder) Close() error { return nil }
