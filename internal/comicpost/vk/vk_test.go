package vk

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/blacktop/comicpost/internal/comicpost"
	backoff "github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	pathUploadServer = "/method/" + methodGetWallUploadServer
	pathSavePhoto    = "/method/" + methodSaveWallPhoto
	pathWallPost     = "/method/" + methodWallPost
	pathUpload       = "/upload"
)

// fakeVK emulates the four endpoints the upload session talks to.
type fakeVK struct {
	srv *httptest.Server

	mu       sync.Mutex
	calls    []string
	forms    map[string]url.Values
	uploaded []byte
	filename string

	handlers map[string]http.HandlerFunc
}

func newFakeVK(t *testing.T) *fakeVK {
	t.Helper()
	f := &fakeVK{forms: map[string]url.Values{}}
	f.handlers = map[string]http.HandlerFunc{
		pathUploadServer: func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"response":{"upload_url":%q,"album_id":-14,"user_id":0}}`, f.srv.URL+pathUpload)
		},
		pathUpload: func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"server":839412,"photo":"[{\"photo\":\"a1b2\",\"sizes\":[]}]","hash":"f00dfeed"}`)
		},
		pathSavePhoto: func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"response":[{"id":654321,"owner_id":12345,"album_id":-14}]}`)
		},
		pathWallPost: func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"response":{"post_id":777}}`)
		},
	}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.record(t, r)
		h, ok := f.handlers[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeVK) record(t *testing.T, r *http.Request) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.URL.Path)

	if r.URL.Path == pathUpload {
		file, header, err := r.FormFile(uploadField)
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		f.uploaded, err = io.ReadAll(file)
		assert.NoError(t, err)
		f.filename = header.Filename
		return
	}
	assert.NoError(t, r.ParseForm())
	f.forms[r.URL.Path] = r.Form
}

func (f *fakeVK) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeVK) Form(path string) url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forms[path]
}

func newTestClient(t *testing.T, f *fakeVK, retries uint64) *Client {
	t.Helper()
	c, err := New(Config{
		AccessToken:   "secret-token",
		GroupID:       "42",
		APIVersion:    "5.131",
		BaseURL:       f.srv.URL,
		Timeout:       5 * time.Second,
		TargetRetries: retries,
	})
	require.NoError(t, err)
	c.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return c
}

func testAsset() comicpost.MediaAsset {
	return comicpost.MediaAsset{
		Data:     []byte("\x89PNG\r\n\x1a\nfake"),
		Filename: "python.png",
		Caption:  "test comic",
	}
}

func TestSessionRunPublishes(t *testing.T) {
	f := newFakeVK(t)
	c := newTestClient(t, f, 0)

	s := c.NewSession()
	require.Equal(t, StateIdle, s.State())

	post, err := s.Run(context.Background(), testAsset())
	require.NoError(t, err)
	assert.Equal(t, comicpost.WallPost{ID: "777"}, post)
	assert.Equal(t, StatePublished, s.State())
	assert.NoError(t, s.Err())

	assert.Equal(t, []string{pathUploadServer, pathUpload, pathSavePhoto, pathWallPost}, f.Calls())
	assert.Equal(t, []byte("\x89PNG\r\n\x1a\nfake"), f.uploaded)
	assert.Equal(t, "python.png", f.filename)

	target := f.Form(pathUploadServer)
	assert.Equal(t, "42", target.Get("group_id"))
	assert.Equal(t, "secret-token", target.Get("access_token"))
	assert.Equal(t, "5.131", target.Get("v"))

	save := f.Form(pathSavePhoto)
	assert.Equal(t, "42", save.Get("group_id"))
	assert.Equal(t, "839412", save.Get("server"))
	assert.Equal(t, `[{"photo":"a1b2","sizes":[]}]`, save.Get("photo"))
	assert.Equal(t, "f00dfeed", save.Get("hash"))

	wall := f.Form(pathWallPost)
	assert.Equal(t, "-42", wall.Get("owner_id"))
	assert.Equal(t, "1", wall.Get("from_group"))
	assert.Equal(t, "photo12345_654321", wall.Get("attachments"))
	assert.Equal(t, "test comic", wall.Get("message"))
	assert.Equal(t, "secret-token", wall.Get("access_token"))
}

func TestSessionUploadsStagedFile(t *testing.T) {
	f := newFakeVK(t)
	c := newTestClient(t, f, 0)

	path := filepath.Join(t.TempDir(), "python.png")
	require.NoError(t, os.WriteFile(path, []byte("from disk"), 0o644))

	asset := testAsset()
	asset.Path = path
	_, err := c.Publish(context.Background(), asset)
	require.NoError(t, err)
	assert.Equal(t, []byte("from disk"), f.uploaded)
}

func TestSessionMissingStagedFile(t *testing.T) {
	f := newFakeVK(t)
	c := newTestClient(t, f, 0)

	asset := testAsset()
	asset.Path = filepath.Join(t.TempDir(), "gone.png")
	_, err := c.Publish(context.Background(), asset)

	var ioErr comicpost.LocalIOError
	require.ErrorAs(t, err, &ioErr)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, []string{pathUploadServer}, f.Calls())
}

func TestSessionTargetRemoteErrorFailsFast(t *testing.T) {
	f := newFakeVK(t)
	f.handlers[pathUploadServer] = func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"error":{"error_code":5,"error_msg":"User authorization failed: invalid access_token"}}`)
	}
	c := newTestClient(t, f, 3)

	s := c.NewSession()
	_, err := s.Run(context.Background(), testAsset())

	var apiErr comicpost.RemoteAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, methodGetWallUploadServer, apiErr.Method)
	assert.Equal(t, 5, apiErr.Code)
	assert.Contains(t, apiErr.Message, "invalid access_token")

	// remote errors are not retried and nothing else is called
	assert.Equal(t, []string{pathUploadServer}, f.Calls())
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, err, s.Err())
}

func TestSessionTargetTransportErrorFailsFast(t *testing.T) {
	f := newFakeVK(t)
	f.handlers[pathUploadServer] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}
	c := newTestClient(t, f, 0)

	_, err := c.Publish(context.Background(), testAsset())

	var transportErr comicpost.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, http.StatusBadGateway, transportErr.StatusCode)
	assert.Equal(t, []string{pathUploadServer}, f.Calls())
}

func TestRequestUploadTargetRetriesTransportErrors(t *testing.T) {
	f := newFakeVK(t)
	attempts := 0
	f.handlers[pathUploadServer] = func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, `{"response":{"upload_url":%q}}`, f.srv.URL+pathUpload)
	}
	c := newTestClient(t, f, 2)

	target, err := c.RequestUploadTarget(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.srv.URL+pathUpload, target.URL)
	assert.Equal(t, 3, attempts)
}

func TestRequestUploadTargetRetriesAreBounded(t *testing.T) {
	f := newFakeVK(t)
	f.handlers[pathUploadServer] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}
	c := newTestClient(t, f, 2)

	_, err := c.RequestUploadTarget(context.Background())
	var transportErr comicpost.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Len(t, f.Calls(), 3)
}

func TestRequestUploadTargetCancelled(t *testing.T) {
	f := newFakeVK(t)
	c := newTestClient(t, f, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.RequestUploadTarget(ctx)
	var transportErr comicpost.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, methodGetWallUploadServer, transportErr.Op)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSessionUploadFailureStopsChain(t *testing.T) {
	f := newFakeVK(t)
	f.handlers[pathUpload] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
	}
	c := newTestClient(t, f, 2)

	s := c.NewSession()
	_, err := s.Run(context.Background(), testAsset())

	var transportErr comicpost.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, opUpload, transportErr.Op)
	// the upload step is never retried
	assert.Equal(t, []string{pathUploadServer, pathUpload}, f.Calls())
	assert.Equal(t, StateFailed, s.State())
}

func TestSessionSaveErrorAbortsBeforePublish(t *testing.T) {
	f := newFakeVK(t)
	f.handlers[pathSavePhoto] = func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"error":{"error_code":121,"error_msg":"Invalid hash"}}`)
	}
	c := newTestClient(t, f, 0)

	_, err := c.Publish(context.Background(), testAsset())

	var apiErr comicpost.RemoteAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, methodSaveWallPhoto, apiErr.Method)
	assert.Equal(t, 121, apiErr.Code)
	assert.NotContains(t, f.Calls(), pathWallPost)
}

func TestSessionSaveEmptyResponse(t *testing.T) {
	f := newFakeVK(t)
	f.handlers[pathSavePhoto] = func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"response":[]}`)
	}
	c := newTestClient(t, f, 0)

	_, err := c.Publish(context.Background(), testAsset())
	var apiErr comicpost.RemoteAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.NotContains(t, f.Calls(), pathWallPost)
}

func TestSessionPublishError(t *testing.T) {
	f := newFakeVK(t)
	f.handlers[pathWallPost] = func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"error":{"error_code":214,"error_msg":"Access to adding post denied"}}`)
	}
	c := newTestClient(t, f, 0)

	s := c.NewSession()
	post, err := s.Run(context.Background(), testAsset())

	var apiErr comicpost.RemoteAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, methodWallPost, apiErr.Method)
	assert.Empty(t, post.ID)
	assert.Equal(t, StateFailed, s.State())
}

func TestSessionIsSingleUse(t *testing.T) {
	f := newFakeVK(t)
	c := newTestClient(t, f, 0)

	s := c.NewSession()
	_, err := s.Run(context.Background(), testAsset())
	require.NoError(t, err)

	_, err = s.Run(context.Background(), testAsset())
	require.ErrorIs(t, err, ErrSessionUsed)
	assert.Len(t, f.Calls(), 4)
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing token", Config{GroupID: "42"}},
		{"missing group", Config{AccessToken: "t"}},
		{"negative group", Config{AccessToken: "t", GroupID: "-42"}},
		{"zero group", Config{AccessToken: "t", GroupID: "0"}},
		{"non numeric group", Config{AccessToken: "t", GroupID: "club42"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			var vErr comicpost.ValidationError
			require.ErrorAs(t, err, &vErr)
		})
	}
}

func TestNewDefaults(t *testing.T) {
	c, err := New(Config{AccessToken: "t", GroupID: " 100 "})
	require.NoError(t, err)
	assert.Equal(t, "100", c.cfg.GroupID)
	assert.Equal(t, DefaultAPIVersion, c.cfg.APIVersion)
	assert.Equal(t, DefaultBaseURL, c.cfg.BaseURL)
	assert.Equal(t, requestTimeout, c.cfg.Timeout)
}

func TestWallOwnerID(t *testing.T) {
	assert.Equal(t, "-42", WallOwnerID("42"))
	assert.Equal(t, "-42", WallOwnerID("-42"))
	assert.Equal(t, "-100", WallOwnerID(" 100"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "target-requested", StateTargetRequested.String())
	assert.Equal(t, "uploaded", StateUploaded.String())
	assert.Equal(t, "placed", StatePlaced.String())
	assert.Equal(t, "published", StatePublished.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(99).String())
}
