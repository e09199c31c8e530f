package userstore

import (
	"context"
	"testing"

	"github.com/statlane/authsession"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository(t *testing.T) {
	repo := NewMemoryRepository(authsession.User{ID: 1, Nickname: "ada"})

	u, err := repo.UserByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "ada", u.Nickname)

	u.Nickname = "mutated"
	again, err := repo.UserByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "ada", again.Nickname)

	repo.Put(authsession.User{ID: 2, Nickname: "grace"})
	repo.Delete(1)

	_, err = repo.UserByID(context.Background(), 1)
	assert.ErrorIs(t, err, authsession.ErrUserNotFound)

	u, err = repo.UserByID(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), u.ID)
}
