package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/aretw0/caretree/pkg/adapters/memory"
	"github.com/stretchr/testify/assert"
)

func TestManager_LockLifecycle(t *testing.T) {
	mgr := NewManager(memory.NewStore(), memory.NewVersionRepository())
	ctx := context.Background()
	count := 10000

	for i := 0; i < count; i++ {
		sid := fmt.Sprintf("session-%d", i)
		_ = mgr.WithLock(ctx, sid, func(context.Context) error { return nil })
		_ = mgr.Delete(ctx, sid)
	}

	assert.Empty(t, mgr.locks, "locks leaked after the sessions were released")
}
