package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"identity-service/internal/clock"
	"identity-service/internal/store/memory"
)

func newTestManager(t *testing.T) (*Manager, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	st := memory.New()
	return NewManager(st.Sessions, clk, 24*time.Hour), clk
}

func TestCreateAndValidate(t *testing.T) {
	m, clk := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, "user-1", "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, created.SessionID)
	assert.True(t, created.IsActive)

	clk.Advance(5 * time.Minute)
	validated, err := m.Validate(ctx, created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "alice", validated.Username)
	assert.True(t, validated.LastAccessed.After(created.CreatedAt))
}

func TestSessionIDsAreUnique(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	s1, err := m.Create(ctx, "user-1", "alice")
	require.NoError(t, err)
	s2, err := m.Create(ctx, "user-1", "alice")
	require.NoError(t, err)
	assert.NotEqual(t, s1.SessionID, s2.SessionID)
}

func TestValidateUnknownSession(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Validate(context.Background(), "no-such-session")
	assert.ErrorIs(t, err, ErrSessionInvalid)
}

func TestInvalidateIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "user-1", "alice")
	require.NoError(t, err)

	require.NoError(t, m.Invalidate(ctx, s.SessionID))
	require.NoError(t, m.Invalidate(ctx, s.SessionID))
	require.NoError(t, m.Invalidate(ctx, "never-existed"))

	_, err = m.Validate(ctx, s.SessionID)
	assert.ErrorIs(t, err, ErrSessionInvalid)
}

func TestInvalidateAll(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "user-1", "alice")
	require.NoError(t, err)
	_, err = m.Create(ctx, "user-1", "alice")
	require.NoError(t, err)
	other, err := m.Create(ctx, "user-2", "bob")
	require.NoError(t, err)

	count, err := m.InvalidateAll(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	active, err := m.ListActive(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, active)

	// Bob's session is untouched.
	_, err = m.Validate(ctx, other.SessionID)
	require.NoError(t, err)
}

func TestCleanupStaleUsesCreationAge(t *testing.T) {
	m, clk := newTestManager(t)
	ctx := context.Background()

	old, err := m.Create(ctx, "user-1", "alice")
	require.NoError(t, err)

	clk.Advance(23 * time.Hour)
	fresh, err := m.Create(ctx, "user-1", "alice")
	require.NoError(t, err)

	// Recent activity does not save an old session from the age cutoff.
	clk.Advance(90 * time.Minute)
	_, err = m.Validate(ctx, old.SessionID)
	require.NoError(t, err)

	count, err := m.CleanupStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = m.Validate(ctx, old.SessionID)
	assert.ErrorIs(t, err, ErrSessionInvalid)
	_, err = m.Validate(ctx, fresh.SessionID)
	require.NoError(t, err)
}
