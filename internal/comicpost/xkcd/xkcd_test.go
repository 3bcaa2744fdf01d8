package xkcd

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/blacktop/comicpost/internal/comicpost"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeXKCD struct {
	srv    *httptest.Server
	latest int

	mu    sync.Mutex
	paths []string
}

func newFakeXKCD(t *testing.T, latest int) *fakeXKCD {
	t.Helper()
	f := &fakeXKCD{latest: latest}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.paths = append(f.paths, r.URL.Path)
		f.mu.Unlock()

		var num int
		switch {
		case r.URL.Path == "/info.0.json":
			f.writeComic(w, f.latest)
		case strings.HasPrefix(r.URL.Path, "/comics/"):
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("\x89PNG\r\n\x1a\n" + r.URL.Path))
		case matchInfo(r.URL.Path, &num) && num <= f.latest && num != 404:
			f.writeComic(w, num)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func matchInfo(path string, num *int) bool {
	_, err := fmt.Sscanf(path, "/%d/info.0.json", num)
	return err == nil
}

func (f *fakeXKCD) writeComic(w http.ResponseWriter, num int) {
	fmt.Fprintf(w, `{"num":%d,"safe_title":"Comic %d","title":"Comic %d","img":"%s/comics/comic_%d.png","alt":"alt text %d"}`,
		num, num, num, f.srv.URL, num, num)
}

func (f *fakeXKCD) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func TestLatest(t *testing.T) {
	f := newFakeXKCD(t, 3000)
	c := New(f.srv.URL)

	comic, err := c.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3000, comic.Num)
	assert.Equal(t, "Comic 3000", comic.Title)
	assert.Equal(t, "alt text 3000", comic.Alt)
	assert.Equal(t, f.srv.URL+"/comics/comic_3000.png", comic.ImageURL)
}

func TestComic(t *testing.T) {
	f := newFakeXKCD(t, 3000)
	c := New(f.srv.URL + "/")

	comic, err := c.Comic(context.Background(), 353)
	require.NoError(t, err)
	assert.Equal(t, 353, comic.Num)
	assert.Equal(t, []string{"/353/info.0.json"}, f.Paths())
}

func TestComicNotFound(t *testing.T) {
	f := newFakeXKCD(t, 100)
	c := New(f.srv.URL)

	_, err := c.Comic(context.Background(), 101)
	var transportErr comicpost.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, http.StatusNotFound, transportErr.StatusCode)
}

func TestComicRejectsBadNumber(t *testing.T) {
	c := New("http://127.0.0.1:0")
	_, err := c.Comic(context.Background(), 0)
	var vErr comicpost.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestRandom(t *testing.T) {
	f := newFakeXKCD(t, 3000)
	var bound int
	c := New(f.srv.URL, WithRand(func(n int) int {
		bound = n
		return 352
	}))

	comic, err := c.Random(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3000, bound)
	assert.Equal(t, 353, comic.Num)
	assert.Equal(t, []string{"/info.0.json", "/353/info.0.json"}, f.Paths())
}

func TestRandomSkipsMissingComic(t *testing.T) {
	f := newFakeXKCD(t, 3000)
	picks := []int{403, 403, 613}
	c := New(f.srv.URL, WithRand(func(n int) int {
		p := picks[0]
		picks = picks[1:]
		return p
	}))

	comic, err := c.Random(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 614, comic.Num)
}

func TestRandomLatestIsReused(t *testing.T) {
	f := newFakeXKCD(t, 3000)
	c := New(f.srv.URL, WithRand(func(n int) int { return n - 1 }))

	comic, err := c.Random(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3000, comic.Num)
	assert.Equal(t, []string{"/info.0.json"}, f.Paths())
}

func TestDownload(t *testing.T) {
	f := newFakeXKCD(t, 3000)
	c := New(f.srv.URL)

	comic, err := c.Comic(context.Background(), 353)
	require.NoError(t, err)

	asset, err := c.Download(context.Background(), comic)
	require.NoError(t, err)
	assert.Equal(t, "comic_353.png", asset.Filename)
	assert.Equal(t, "alt text 353", asset.Caption)
	assert.Equal(t, []byte("\x89PNG\r\n\x1a\n/comics/comic_353.png"), asset.Data)
	assert.Empty(t, asset.Path)
}

func TestDownloadFailure(t *testing.T) {
	f := newFakeXKCD(t, 3000)
	c := New(f.srv.URL)

	_, err := c.Download(context.Background(), comicpost.Comic{Num: 1, ImageURL: f.srv.URL + "/missing/image.png"})
	var transportErr comicpost.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, http.StatusNotFound, transportErr.StatusCode)
}

func TestFilenameFromURL(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{"https://imgs.xkcd.com/comics/python.png", "python.png", false},
		{"https://imgs.xkcd.com/comics/python.png?x=1", "python.png", false},
		{"https://imgs.xkcd.com/comics/", "comics", false},
		{"https://imgs.xkcd.com/", "", true},
		{"https://imgs.xkcd.com", "", true},
		{"://bad", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := FilenameFromURL(tt.url)
			if tt.wantErr {
				var vErr comicpost.ValidationError
				require.ErrorAs(t, err, &vErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
