package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestMemoryProvider_Lifecycle(t *testing.T) {
	p := NewMemoryProvider(bcrypt.MinCost)
	ctx := context.Background()

	ref, err := p.CreateIdentity(ctx, "a@x.com", "secret1", "alice")
	require.NoError(t, err)
	assert.Contains(t, ref, "mem|")
	assert.True(t, p.CheckPassword(ref, "secret1"))

	email, pw := "b@x.com", "secret2"
	require.NoError(t, p.UpdateIdentity(ctx, ref, Fields{Email: &email, Password: &pw}))
	rec, ok := p.Lookup(ref)
	require.True(t, ok)
	assert.Equal(t, "b@x.com", rec.Email)
	assert.Equal(t, "alice", rec.DisplayName)
	assert.True(t, p.CheckPassword(ref, "secret2"))
	assert.False(t, p.CheckPassword(ref, "secret1"))

	require.NoError(t, p.DeleteIdentity(ctx, ref))
	require.NoError(t, p.DeleteIdentity(ctx, ref))
	assert.Zero(t, p.Len())
}

func TestMemoryProvider_DuplicateEmail(t *testing.T) {
	p := NewMemoryProvider(bcrypt.MinCost)
	ctx := context.Background()

	_, err := p.CreateIdentity(ctx, "a@x.com", "secret1", "alice")
	require.NoError(t, err)
	_, err = p.CreateIdentity(ctx, "A@x.com", "secret1", "alice2")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemoryProvider_UpdateMissing(t *testing.T) {
	p := NewMemoryProvider(bcrypt.MinCost)
	name := "x"
	err := p.UpdateIdentity(context.Background(), "mem|nope", Fields{DisplayName: &name})
	assert.ErrorIs(t, err, ErrNotFound)
}
