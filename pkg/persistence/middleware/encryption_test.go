package middleware_test

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"io"
	"testing"
	"time"

	"github.com/aretw0/caretree/pkg/adapters/memory"
	"github.com/aretw0/caretree/pkg/domain"
	"github.com/aretw0/caretree/pkg/persistence/middleware"
	"github.com/aretw0/caretree/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, 32)
	_, err := io.ReadFull(rand.Reader, k)
	require.NoError(t, err)
	return k
}

func queued(localID string) domain.OfflineSession {
	return domain.OfflineSession{
		LocalID:    localID,
		OperatorID: "nurse-a",
		VersionID:  "fever-v1",
		Responses: []domain.Response{
			{NodeID: "entry", Value: domain.TextValue("patient reports chest pain")},
		},
		FinalPriority:    domain.PriorityLow,
		OfflineCreatedAt: time.Now().UTC(),
	}
}

func TestEncryptionMiddleware_Contract(t *testing.T) {
	mw := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	ports.RunQueueContract(t, mw(memory.NewQueue()))
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	underlying := memory.NewQueue()
	secure := middleware.Chain(underlying, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)}))
	ctx := context.Background()

	require.NoError(t, secure.Enqueue(ctx, queued("l-1")))

	raw, err := underlying.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.Equal(t, "l-1", raw[0].LocalID)
	assert.Empty(t, raw[0].Responses, "responses are hidden at rest")
	assert.Empty(t, raw[0].OperatorID)
	assert.NotEmpty(t, raw[0].Sealed)

	items, err := secure.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "nurse-a", items[0].OperatorID)
	assert.Equal(t, domain.TextValue("patient reports chest pain"), items[0].Responses[0].Value)
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	underlying := memory.NewQueue()
	oldKey := generateKey(t)
	newKey := generateKey(t)
	ctx := context.Background()

	oldQueue := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: oldKey})(underlying)
	require.NoError(t, oldQueue.Enqueue(ctx, queued("l-old")))

	newQueue := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    newKey,
		FallbackKeys: [][]byte{oldKey},
	})(underlying)

	items, err := newQueue.Snapshot(ctx)
	require.NoError(t, err, "fallback keys open items sealed before rotation")
	require.Len(t, items, 1)

	require.NoError(t, newQueue.Enqueue(ctx, queued("l-new")))
	_, err = oldQueue.Snapshot(ctx)
	assert.Error(t, err, "the old key alone cannot open items sealed with the new key")
}

func TestEncryptionMiddleware_RejectsPlainItems(t *testing.T) {
	underlying := memory.NewQueue()
	require.NoError(t, underlying.Enqueue(context.Background(), queued("plain")))

	secure := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(underlying)
	_, err := secure.Snapshot(context.Background())
	assert.Error(t, err)
}

func TestEncryptionMiddleware_InvalidKey(t *testing.T) {
	assert.Panics(t, func() {
		middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short-key")})
	})
}

func TestDecodeKey(t *testing.T) {
	key := generateKey(t)
	decoded, err := middleware.DecodeKey(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)
	assert.Equal(t, key, decoded)

	_, err = middleware.DecodeKey(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
	_, err = middleware.DecodeKey("%%%")
	assert.Error(t, err)
}
