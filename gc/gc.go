// Package gc removes expired blocks from a cache manager,
// sparing any that a Keep protects.
package gc

import (
	"context"
	"time"

	"github.com/brightchain/brightchain/cache"
)

// Run drops every block in m whose keep-until time is at or before through,
// except for the blocks in k.
// A nil k protects nothing.
// It returns the number of blocks dropped.
func Run(ctx context.Context, m *cache.Manager, through time.Time, k Keep) (int, error) {
	if k == nil {
		return m.ExpireBlocksThrough(ctx, through)
	}
	return m.ExpireBlocksThroughExcept(ctx, through, k.Contains)
}
