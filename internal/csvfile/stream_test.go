package csvfile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(ch <-chan []string) [][]string {
	var out [][]string
	for r := range ch {
		out = append(out, r)
	}
	return out
}

func TestStream_HeaderAndRows(t *testing.T) {
	input := "\ufeffid,title,released\n1,\"Unknown\nPleasures\",1979-06-15\n2,Closer,1980\n"
	header, rows, errs, err := Stream(context.Background(), strings.NewReader(input))
	require.NoError(t, err)

	assert.True(t, header.Has("id", "title", "released"))
	got := collect(rows)
	require.Len(t, got, 2)
	assert.Equal(t, "Unknown\nPleasures", header.Get(got[0], "title"))
	assert.Equal(t, "1980", header.Get(got[1], "released"))
	assert.Equal(t, "", header.Get(got[1], "country"))
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestStream_ReplacesInvalidUTF8(t *testing.T) {
	input := "id,title\n1,caf\xe9\n"
	header, rows, _, err := Stream(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	got := collect(rows)
	require.Len(t, got, 1)
	assert.Equal(t, "caf\uFFFD", header.Get(got[0], "title"))
}

func TestStream_RaggedRows(t *testing.T) {
	input := "release_id,artist_name,extra\n5,Can\n6,Neu!,0\n"
	header, rows, _, err := Stream(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	got := collect(rows)
	require.Len(t, got, 2)
	assert.Equal(t, "", header.Get(got[0], "extra"))
	assert.Equal(t, "0", header.Get(got[1], "extra"))
}

func TestStream_Empty(t *testing.T) {
	_, _, _, err := Stream(context.Background(), strings.NewReader(""))
	assert.Error(t, err)
}

func TestOpen_CloseEarly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "release.csv")
	var b strings.Builder
	b.WriteString("id,title\n")
	for i := 0; i < 5000; i++ {
		b.WriteString("1,x\n")
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))

	f, err := Open(context.Background(), path)
	require.NoError(t, err)
	<-f.Rows
	assert.NoError(t, f.Close())
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
	assert.False(t, Exists(filepath.Join(t.TempDir(), "nope.csv")))
}
