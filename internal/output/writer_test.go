package output

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/emscan/internal/geometry"
)

type archive struct {
	Meta Meta                 `json:"meta"`
	Freq []float64            `json:"freq"`
	Data map[string]entryJSON `json:"data"`
}

type entryJSON struct {
	Real []float64 `json:"real"`
	Imag []float64 `json:"imag"`
}

func readArchive(t *testing.T, path string) archive {
	t.Helper()

	p, err := os.ReadFile(path)
	require.NoError(t, err)

	var a archive
	require.NoError(t, json.Unmarshal(p, &a), "invalid JSON:\n%s", p)
	return a
}

func testMeta(param string) Meta {
	now := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	s := Settings{FreqStart: 3e9, FreqStop: 5e9, IFBandwidth: 5e3, NumPoints: 2, Power: 0}
	return NewMeta(param, s, "PNA", "bench", geometry.Pt(1.5, -2), now)
}

func TestInitRootPicksFirstFreeIndex(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "run_0"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "run_1"), 0o755))

	w := NewWriter()
	root, err := w.InitRoot(dir, "run")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run_2"), root)

	root, err = NewWriter().InitRoot(dir, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, DefaultRootName+"_0"), root)
}

func TestWriterCompleteDocument(t *testing.T) {
	w := NewWriter()
	root, err := w.InitRoot(t.TempDir(), "run")
	require.NoError(t, err)

	pos, err := w.NewPositionDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "pos0"), pos)

	freqs := []float64{3e9, 5e9}
	require.NoError(t, w.OpenParameter("S21", testMeta("S21"), freqs))
	require.NoError(t, w.WriteSweep("S21", 1, 2, []float64{1, 2}, []float64{3, 4}, false))
	require.NoError(t, w.WriteSweep("S21", 2, 1, []float64{5, 6}, []float64{7, 8}, true))

	err = w.WriteSweep("S21", 2, 2, []float64{0, 0}, []float64{0, 0}, false)
	assert.True(t, errors.Is(err, ErrDocumentClosed))

	require.NoError(t, w.CloseAll())
	assert.Empty(t, w.Open())

	a := readArchive(t, filepath.Join(pos, "S21.json"))
	assert.Equal(t, freqs, a.Freq)
	assert.Equal(t, "S21", a.Meta.SParameter)
	assert.Equal(t, "2024-03-05", a.Meta.Date)
	assert.Equal(t, "14:07:09", a.Meta.Time)
	assert.Equal(t, 1.5, a.Meta.PosX)
	require.Len(t, a.Data, 2)
	assert.Equal(t, entryJSON{Real: []float64{1, 2}, Imag: []float64{3, 4}}, a.Data["t1r2"])
	assert.Equal(t, entryJSON{Real: []float64{5, 6}, Imag: []float64{7, 8}}, a.Data["t2r1"])
}

func TestWriterEarlyCloseIsValidJSON(t *testing.T) {
	w := NewWriter()
	_, err := w.InitRoot(t.TempDir(), "run")
	require.NoError(t, err)
	pos, err := w.NewPositionDir()
	require.NoError(t, err)

	require.NoError(t, w.OpenParameter("S11", testMeta("S11"), []float64{1}))
	require.NoError(t, w.OpenParameter("S22", testMeta("S22"), []float64{1}))
	require.NoError(t, w.WriteSweep("S11", 1, 2, []float64{1}, []float64{2}, false))
	assert.Equal(t, 1, w.Entries("S11"))
	assert.Equal(t, []string{"S11", "S22"}, w.Open())

	require.NoError(t, w.CloseAll())

	a := readArchive(t, filepath.Join(pos, "S11.json"))
	assert.Len(t, a.Data, 1)

	b := readArchive(t, filepath.Join(pos, "S22.json"))
	assert.Empty(t, b.Data)
}

func TestWriterPositionDirectories(t *testing.T) {
	w := NewWriter()

	_, err := w.NewPositionDir()
	assert.True(t, errors.Is(err, ErrNoRoot))

	root, err := w.InitRoot(t.TempDir(), "run")
	require.NoError(t, err)

	for i, want := range []string{"pos0", "pos1", "pos2"} {
		got, err := w.NewPositionDir()
		require.NoError(t, err, "position %d", i)
		assert.Equal(t, filepath.Join(root, want), got)
	}
}

func TestWriterUnknownParameter(t *testing.T) {
	w := NewWriter()
	err := w.WriteSweep("S12", 1, 2, nil, nil, false)
	assert.True(t, errors.Is(err, ErrNotOpen))
	assert.True(t, errors.Is(w.Close("S12"), ErrNotOpen))
}

func TestWriteRunMeta(t *testing.T) {
	w := NewWriter()
	require.Error(t, w.WriteRunMeta(RunMeta{}))

	root, err := w.InitRoot(t.TempDir(), "run")
	require.NoError(t, err)

	meta := RunMeta{RunID: "abc", Parameters: []string{"S21"}, PortMin: 1, PortMax: 24}
	meta.Stamp(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, w.WriteRunMeta(meta))

	p, err := os.ReadFile(filepath.Join(root, "meta.json"))
	require.NoError(t, err)

	var got RunMeta
	require.NoError(t, json.Unmarshal(p, &got))
	assert.Equal(t, meta, got)
}
