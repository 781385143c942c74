package action

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// OrderCache is the pipeline position of CacheAction.
const OrderCache = 400

type cacheEntry struct {
	result    Result
	expiresAt time.Time
}

type pendingBuild struct {
	done chan struct{}
	res  Result
	err  error
}

// CacheAction caches invocation results keyed by fingerprint(tool-name,
// canonical(arguments)), guaranteeing at most one concurrent build per
// fingerprint (a hand-rolled singleflight: the teacher's own code has no
// golang.org/x/sync dependency, so this follows its idiom rather than
// introducing one).
type CacheAction struct {
	// TTL is how long a cached entry remains valid.
	TTL time.Duration

	mu      sync.Mutex
	entries map[uint64]cacheEntry
	pending map[uint64]*pendingBuild
}

var _ Action = (*CacheAction)(nil)

// NewCacheAction constructs a ready-to-use CacheAction with the given TTL.
func NewCacheAction(ttl time.Duration) *CacheAction {
	return &CacheAction{
		TTL:     ttl,
		entries: make(map[uint64]cacheEntry),
		pending: make(map[uint64]*pendingBuild),
	}
}

// Order implements Action.
func (a *CacheAction) Order() int { return OrderCache }

// AppliesTo implements Action; caching applies whenever a positive TTL is set.
func (a *CacheAction) AppliesTo(ictx *InvocationContext) bool { return a.TTL > 0 }

// Invoke implements Action.
func (a *CacheAction) Invoke(ctx context.Context, ictx *InvocationContext, next Next) (Result, error) {
	key := Fingerprint(ictx.ToolName, ictx.Arguments)

	a.mu.Lock()
	if entry, ok := a.entries[key]; ok && time.Now().Before(entry.expiresAt) {
		a.mu.Unlock()
		entry.result.FromCache = true
		return entry.result, nil
	}

	if pb, building := a.pending[key]; building {
		a.mu.Unlock()
		select {
		case <-pb.done:
			if pb.err == nil {
				pb.res.FromCache = true
			}
			return pb.res, pb.err
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	pb := &pendingBuild{done: make(chan struct{})}
	a.pending[key] = pb
	a.mu.Unlock()

	res, err := next(ctx)

	a.mu.Lock()
	delete(a.pending, key)
	if err == nil {
		a.entries[key] = cacheEntry{result: res, expiresAt: time.Now().Add(a.TTL)}
	}
	a.mu.Unlock()

	pb.res, pb.err = res, err
	close(pb.done)

	return res, err
}

// Fingerprint computes a deterministic cache key for (toolName, arguments).
// encoding/json sorts map[string]any keys at every nesting level when
// marshaling, so the re-encoded arguments are canonical JSON independent of
// map iteration order; xxhash then gives a compact, fast fingerprint.
func Fingerprint(toolName string, arguments map[string]any) uint64 {
	buf, _ := json.Marshal(arguments)
	h := xxhash.New()
	_, _ = h.WriteString(toolName)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(buf)
	return h.Sum64()
}
