package frames

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/signal.report/internal/httputil"
	"github.com/banshee-data/signal.report/internal/lane"
	"github.com/banshee-data/signal.report/internal/timeutil"
)

var epoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// jpegMagic is enough for http.DetectContentType.
var jpegMagic = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}

func TestHTTPSource_Capture(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddBytesResponse(http.StatusOK, jpegMagic, http.Header{"Content-Type": {"image/jpeg"}})
	mock.AddBytesResponse(http.StatusOK, jpegMagic, nil)
	mock.AddResponse(http.StatusServiceUnavailable, "camera rebooting")
	mock.AddErrorResponse(errors.New("no route to host"))
	mock.AddResponse(http.StatusOK, "")

	src := NewHTTPSource(mock, map[lane.Lane]string{"north": "http://cam-n/snapshot.jpg"}, timeutil.NewMockClock(epoch))
	ctx := context.Background()

	f, err := src.Capture(ctx, "north")
	require.NoError(t, err)
	assert.Equal(t, lane.Lane("north"), f.Lane)
	assert.Equal(t, jpegMagic, f.Data)
	assert.Equal(t, "image/jpeg", f.ContentType)
	assert.Equal(t, epoch, f.CapturedAt)
	assert.Equal(t, "http://cam-n/snapshot.jpg", mock.Requests()[0].URL.String())

	f, err = src.Capture(ctx, "north")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", f.ContentType, "sniffed when the camera omits it")

	_, err = src.Capture(ctx, "north")
	var serr *httputil.StatusError
	assert.ErrorAs(t, err, &serr)

	_, err = src.Capture(ctx, "north")
	assert.Error(t, err)

	_, err = src.Capture(ctx, "north")
	assert.ErrorIs(t, err, ErrNoFrame)

	_, err = src.Capture(ctx, "east")
	assert.ErrorIs(t, err, ErrNoFrame)
}

func TestDirSource_Cycles(t *testing.T) {
	root := t.TempDir()
	north := filepath.Join(root, "north")
	require.NoError(t, os.MkdirAll(north, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(north, "b.jpg"), append(jpegMagic, 'b'), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(north, "a.jpg"), append(jpegMagic, 'a'), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(north, "notes.txt"), []byte("skip"), 0o644))

	src, err := NewDirSource(root, lane.MustSet("north", "east"), timeutil.NewMockClock(epoch))
	require.NoError(t, err)

	var got []byte
	for i := 0; i < 3; i++ {
		f, err := src.Capture(context.Background(), "north")
		require.NoError(t, err)
		got = append(got, f.Data[len(f.Data)-1])
		assert.Equal(t, "image/jpeg", f.ContentType)
	}
	assert.Equal(t, []byte("aba"), got)

	_, err = src.Capture(context.Background(), "east")
	assert.ErrorIs(t, err, ErrNoFrame)

	_, err = NewDirSource(filepath.Join(root, "missing"), lane.MustSet("north", "east"), nil)
	assert.Error(t, err)
}

func TestSynthetic(t *testing.T) {
	s := NewSynthetic(timeutil.NewMockClock(epoch))
	f1, err := s.Capture(context.Background(), "west")
	require.NoError(t, err)
	f2, err := s.Capture(context.Background(), "west")
	require.NoError(t, err)
	assert.NotEqual(t, f1.Data, f2.Data)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Capture(ctx, "west")
	assert.ErrorIs(t, err, context.Canceled)
}
