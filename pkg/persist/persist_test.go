package persist

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/talking-todos/pkg/store"
)

func openTest(t *testing.T, driver string) *SQLPersister {
	t.Helper()
	p, err := Open(context.Background(), driver, filepath.Join(t.TempDir(), "nested", "stores.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestSQLPersister(t *testing.T) {
	for _, driver := range []string{DriverPure, DriverCGO} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			p := openTest(t, driver)

			_, err := p.Load(ctx, "user_1")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, p.Save(ctx, "user_1", []byte{1, 2, 3}))
			require.NoError(t, p.Save(ctx, "user_1", []byte{4, 5}))
			require.NoError(t, p.Save(ctx, "user_0", []byte{}))

			raw, err := p.Load(ctx, "user_1")
			require.NoError(t, err)
			assert.Equal(t, []byte{4, 5}, raw)

			ids, err := p.IDs(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"user_0", "user_1"}, ids)
		})
	}
}

func TestLoadStore(t *testing.T) {
	ctx := context.Background()
	p := openTest(t, DriverPure)

	s, err := LoadStore(ctx, p, "u")
	require.NoError(t, err)
	assert.Empty(t, s.TableIDs())

	require.NoError(t, s.SetCell("lists", "l", "name", "n"))
	sv := NewSaver(s, p, "u")
	saved, err := sv.SaveIfChanged(ctx)
	require.NoError(t, err)
	assert.True(t, saved)
	saved, err = sv.SaveIfChanged(ctx)
	require.NoError(t, err)
	assert.False(t, saved)

	loaded, err := LoadStore(ctx, p, "u")
	require.NoError(t, err)
	assert.Equal(t, s.GetTable("lists"), loaded.GetTable("lists"))

	require.NoError(t, p.Save(ctx, "broken", []byte("nope")))
	_, err = LoadStore(ctx, p, "broken")
	assert.Error(t, err)
}

func TestAutoSave(t *testing.T) {
	p := openTest(t, DriverPure)
	s, err := store.New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- AutoSave(ctx, s, p, "u", 10*time.Millisecond) }()

	require.NoError(t, s.SetCell("todos", "t", "text", "first"))
	require.Eventually(t, func() bool {
		raw, err := p.Load(context.Background(), "u")
		if err != nil {
			return false
		}
		loaded, err := store.Load(raw)
		return err == nil && loaded.HasRow("todos", "t")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.SetCell("todos", "t2", "text", "written on shutdown"))
	cancel()
	require.NoError(t, <-done)

	raw, err := p.Load(context.Background(), "u")
	require.NoError(t, err)
	loaded, err := store.Load(raw)
	require.NoError(t, err)
	assert.True(t, loaded.HasRow("todos", "t2"))
}

func TestAutoSave_NonPositiveInterval(t *testing.T) {
	for _, interval := range []time.Duration{0, -time.Second} {
		p := openTest(t, DriverPure)
		s, err := store.New()
		require.NoError(t, err)
		require.NoError(t, s.SetValue("theme", "dark"))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- AutoSave(ctx, s, p, "u", interval) }()
		cancel()
		require.NoError(t, <-done)

		raw, err := p.Load(context.Background(), "u")
		require.NoError(t, err)
		loaded, err := store.Load(raw)
		require.NoError(t, err)
		assert.Equal(t, []string{"theme"}, loaded.ValueIDs())
	}
}
