package cachestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBadgerStoreRoundtrip(t *testing.T) {
	store := newTestBadgerStore(t)
	ctx := context.Background()

	rec := sampleRecord("build/shader.spv")
	require.NoError(t, store.Commit(ctx, rec))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, rec.Deps, loaded["build/shader.spv"].Deps)

	got, err := store.RecordFor(ctx, "build/shader.spv")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ArtifactHandle, got.ArtifactHandle)

	absent, err := store.RecordFor(ctx, "never-built")
	require.NoError(t, err)
	assert.Nil(t, absent)
}

func TestBadgerStoreCommitReplaces(t *testing.T) {
	store := newTestBadgerStore(t)
	ctx := context.Background()

	require.NoError(t, store.Commit(ctx, sampleRecord("out.o")))

	second := sampleRecord("out.o")
	second.Deps = map[string]string{"only.txt": "sha256:zz"}
	require.NoError(t, store.Commit(ctx, second))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, second.Deps, loaded["out.o"].Deps)
}

func TestBadgerStorePersistsAcrossOpens(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewBadgerStore(BadgerConfig{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, store.Commit(ctx, sampleRecord("out.o")))
	require.NoError(t, store.Close())

	reopened, err := NewBadgerStore(BadgerConfig{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}
