package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEntity struct {
	ID     string
	Status string
}

func (f fakeEntity) EntityID() string { return f.ID }

var _ Repository[fakeEntity] = (*InMemory[fakeEntity])(nil)

func TestInMemoryCRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemory[fakeEntity]()

	require.NoError(t, repo.Save(ctx, fakeEntity{ID: "1", Status: "a"}))
	require.NoError(t, repo.Save(ctx, fakeEntity{ID: "2", Status: "b"}))

	got, ok, err := repo.FindByID(ctx, "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", got.Status)

	exists, err := repo.Exists(ctx, "2")
	require.NoError(t, err)
	assert.True(t, exists)

	all, err := repo.FindAll(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	filtered, err := repo.FindAll(ctx, func(e fakeEntity) bool { return e.Status == "a" })
	require.NoError(t, err)
	assert.Len(t, filtered, 1)

	deleted, err := repo.Delete(ctx, "1")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok, err = repo.FindByID(ctx, "1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMustFindByIDNotFound(t *testing.T) {
	repo := NewInMemory[fakeEntity]()
	_, err := MustFindByID[fakeEntity](context.Background(), repo, "missing")
	assert.ErrorContains(t, err, "not found")
}
