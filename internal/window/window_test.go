package window_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/wvbridge/internal/protocol"
	"github.com/standardbeagle/wvbridge/internal/window"
	"github.com/standardbeagle/wvbridge/internal/window/windowtest"
)

func newSet(labels ...string) *window.Set {
	set := window.NewSet()
	for _, l := range labels {
		set.Add(windowtest.New(l, window.Capabilities{}))
	}
	return set
}

func TestResolve_DefaultsToMain(t *testing.T) {
	r := window.NewResolver(newSet("main"))

	s, ctx, err := r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "main", s.Label())
	assert.Equal(t, "main", ctx.WindowLabel)
	assert.Equal(t, 1, ctx.TotalWindows)
	assert.Empty(t, ctx.Warning)
}

func TestResolve_WarnsWhenAmbiguous(t *testing.T) {
	r := window.NewResolver(newSet("settings", "main", "about"))

	s, ctx, err := r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "main", s.Label())
	assert.Equal(t, 3, ctx.TotalWindows)
	assert.Contains(t, ctx.Warning, "Multiple windows detected (3 total)")
	assert.Contains(t, ctx.Warning, "about, main, settings")
}

func TestResolve_ExplicitLabel(t *testing.T) {
	r := window.NewResolver(newSet("main", "settings"))

	s, ctx, err := r.Resolve("settings")
	require.NoError(t, err)
	assert.Equal(t, "settings", s.Label())
	assert.Equal(t, "settings", ctx.WindowLabel)
	assert.Equal(t, 2, ctx.TotalWindows)
	assert.Empty(t, ctx.Warning)
}

func TestResolve_UnknownLabelNeverFallsBack(t *testing.T) {
	r := window.NewResolver(newSet("main"))

	_, _, err := r.Resolve("ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrNotFound)
	assert.Equal(t, "window 'ghost' not found", err.Error())
}

func TestResolve_NoMain(t *testing.T) {
	r := window.NewResolver(newSet("page-2"))

	_, ctx, err := r.Resolve("")
	assert.ErrorIs(t, err, protocol.ErrNotFound)
	assert.Equal(t, 1, ctx.TotalWindows)
}

func TestResolve_ObservesChanges(t *testing.T) {
	set := newSet("main")
	r := window.NewResolver(set)

	_, _, err := r.Resolve("late")
	require.Error(t, err)

	set.Add(windowtest.New("late", window.Capabilities{}))
	s, _, err := r.Resolve("late")
	require.NoError(t, err)
	assert.Equal(t, "late", s.Label())

	assert.True(t, set.Remove("late"))
	assert.False(t, set.Remove("late"))
	_, _, err = r.Resolve("late")
	assert.ErrorIs(t, err, protocol.ErrNotFound)
}

func TestList_MainFirst(t *testing.T) {
	set := newSet("zeta", "alpha", "main")
	infos := window.List(set)

	require.Len(t, infos, 3)
	assert.Equal(t, "main", infos[0].Label)
	assert.True(t, infos[0].IsMain)
	assert.Equal(t, "alpha", infos[1].Label)
	assert.Equal(t, "zeta", infos[2].Label)
	assert.False(t, infos[2].IsMain)
}

func TestSet_UniqueLabel(t *testing.T) {
	set := newSet("main", "main-2")
	assert.Equal(t, "main-3", set.UniqueLabel("main"))
	assert.Equal(t, "docs", set.UniqueLabel("docs"))
	assert.True(t, set.Has("main-2"))
	assert.Equal(t, 2, set.Len())
}

func TestResolve_Concurrent(t *testing.T) {
	set := newSet("main")
	r := window.NewResolver(set)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _, err := r.Resolve("")
				assert.NoError(t, err)
				_ = r.List()
			}
		}()
	}
	wg.Wait()
}
