package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"identity-service/internal/clock"
	"identity-service/internal/store"
)

func TestRefreshTokenTTL(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	tokens := NewRefreshTokenStore(clk)
	ctx := context.Background()

	require.NoError(t, tokens.Store(ctx, "fresh", "user-1", time.Hour))
	require.NoError(t, tokens.Store(ctx, "doomed", "user-1", time.Hour))

	clk.Advance(30 * time.Minute)
	userID, err := tokens.Redeem(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	// Past the TTL the token is gone, redeemed or not.
	clk.Advance(31 * time.Minute)
	_, err = tokens.Redeem(ctx, "doomed")
	assert.ErrorIs(t, err, store.ErrTokenNotFound)
}
