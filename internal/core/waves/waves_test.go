package waves

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anchorwave/deployer/internal/core/domain"
)

func item(id string, deps ...string) domain.BatchItem {
	return domain.BatchItem{ID: id, Name: id, WasmPath: id + ".wasm", DependsOn: deps}
}

func waveIDs(w []domain.BatchItem) []string {
	ids := make([]string, 0, len(w))
	for _, it := range w {
		ids = append(ids, it.ID)
	}
	return ids
}

func TestLayer_Empty(t *testing.T) {
	assert.Nil(t, Layer(nil))
	assert.Nil(t, Layer([]domain.BatchItem{}))
}

func TestLayer_NoDependencies(t *testing.T) {
	ws := Layer([]domain.BatchItem{item("a"), item("b"), item("c")})
	require.Len(t, ws, 1)
	assert.Equal(t, []string{"a", "b", "c"}, waveIDs(ws[0]))
}

func TestLayer_LinearChain(t *testing.T) {
	// c depends on b depends on a
	ws := Layer([]domain.BatchItem{item("c", "b"), item("b", "a"), item("a")})
	require.Len(t, ws, 3)
	assert.Equal(t, []string{"a"}, waveIDs(ws[0]))
	assert.Equal(t, []string{"b"}, waveIDs(ws[1]))
	assert.Equal(t, []string{"c"}, waveIDs(ws[2]))
}

func TestLayer_Diamond(t *testing.T) {
	//      top
	//     /   \
	//   left  right
	//     \   /
	//      base
	ws := Layer([]domain.BatchItem{
		item("top", "left", "right"),
		item("left", "base"),
		item("right", "base"),
		item("base"),
	})
	require.Len(t, ws, 3)
	assert.Equal(t, []string{"base"}, waveIDs(ws[0]))
	assert.Equal(t, []string{"left", "right"}, waveIDs(ws[1]))
	assert.Equal(t, []string{"top"}, waveIDs(ws[2]))
}

func TestLayer_ExternalDependencySatisfied(t *testing.T) {
	// "registry" is not part of the batch, so it never blocks layering.
	ws := Layer([]domain.BatchItem{item("a", "registry"), item("b", "a")})
	require.Len(t, ws, 2)
	assert.Equal(t, []string{"a"}, waveIDs(ws[0]))
	assert.Equal(t, []string{"b"}, waveIDs(ws[1]))
}

func TestLayer_CycleLandsInOneTerminalWave(t *testing.T) {
	ws := Layer([]domain.BatchItem{
		item("root"),
		item("x", "y"),
		item("y", "x"),
	})
	require.Len(t, ws, 2)
	assert.Equal(t, []string{"root"}, waveIDs(ws[0]))
	assert.ElementsMatch(t, []string{"x", "y"}, waveIDs(ws[1]))
}

func TestLayer_SelfDependencyIsCyclic(t *testing.T) {
	ws := Layer([]domain.BatchItem{item("a", "a"), item("b")})
	require.Len(t, ws, 2)
	assert.Equal(t, []string{"b"}, waveIDs(ws[0]))
	assert.Equal(t, []string{"a"}, waveIDs(ws[1]))
}

func TestLayer_EveryItemAppearsExactlyOnce(t *testing.T) {
	items := []domain.BatchItem{
		item("a"), item("b", "a"), item("c", "b"),
		item("d", "e"), item("e", "d"), // cycle
		item("f", "a", "missing-external"),
	}
	ws := Layer(items)

	seen := map[string]int{}
	for _, w := range ws {
		for _, it := range w {
			seen[it.ID]++
		}
	}
	require.Len(t, seen, len(items))
	for id, n := range seen {
		assert.Equal(t, 1, n, "item %s placed %d times", id, n)
	}
}
