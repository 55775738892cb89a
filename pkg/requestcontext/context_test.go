package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"govid/pkg/domain"
)

func TestAccessorsDefaultToZero(t *testing.T) {
	ctx := context.Background()
	assert.True(t, IdentityID(ctx).IsNil())
	assert.Empty(t, ClientIP(ctx))
	assert.Empty(t, UserAgent(ctx))
	assert.Empty(t, RequestID(ctx))
}

func TestRoundTrip(t *testing.T) {
	id := domain.NewIdentityID()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	ctx := WithIdentityID(context.Background(), id)
	ctx = WithClientMetadata(ctx, "203.0.113.9", "curl/8.0")
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithTime(ctx, fixed)

	assert.Equal(t, id, IdentityID(ctx))
	assert.Equal(t, "203.0.113.9", ClientIP(ctx))
	assert.Equal(t, "curl/8.0", UserAgent(ctx))
	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Equal(t, fixed, Now(ctx))
}
