package downloader

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"znum/pkg/config"
	errs "znum/pkg/errors"
	"znum/pkg/logger"
	"znum/pkg/models"
	"znum/pkg/protocol"
	"znum/pkg/ratelimit"
	"znum/pkg/reader"
	"znum/pkg/render"
	"znum/pkg/storage"
	"znum/pkg/token"
)

const okBody = "<status>200</status><status_text>OK</status_text><slice1>[0,AAAA]</slice1>"

var testKey = models.KeyMaterial{CryptoKey: "supersecretkey", CryptoKeyID: "keyid-42"}

// fakeTransport answers page requests through respond and records every call
type fakeTransport struct {
	mu      sync.Mutex
	pages   []int
	auth    []string
	respond func(page int) (*reader.Response, error)
}

func (f *fakeTransport) Send(ctx context.Context, req *reader.Request) (*reader.Response, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, err
	}
	page, err := strconv.Atoi(u.Query().Get("page"))
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.pages = append(f.pages, page)
	f.auth = append(f.auth, req.Headers["Authorization"])
	f.mu.Unlock()

	if f.respond == nil {
		return &reader.Response{StatusCode: 200, Body: okBody}, nil
	}
	return f.respond(page)
}

func (f *fakeTransport) calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.pages...)
}

type fakeSession struct {
	authenticated bool
	invalidations int
}

func (s *fakeSession) IsAuthenticated() bool { return s.authenticated }

func (s *fakeSession) Invalidate() error {
	s.invalidations++
	s.authenticated = false
	return nil
}

type fakeStore struct {
	files   map[string][]byte
	removed []string
	failOn  string
}

func newFakeStore(existing ...int) *fakeStore {
	s := &fakeStore{files: make(map[string][]byte)}
	for _, p := range existing {
		s.files[s.PagePath("doc", p)] = []byte("existing")
	}
	return s
}

func (s *fakeStore) PagePath(documentID string, page int) string {
	return fmt.Sprintf("/work/%s/page_%d.png", documentID, page)
}

func (s *fakeStore) Exists(path string) bool {
	_, ok := s.files[path]
	return ok
}

func (s *fakeStore) Write(path string, data []byte) error {
	if path == s.failOn {
		return errors.New("disk full")
	}
	s.files[path] = data
	return nil
}

func (s *fakeStore) Remove(path string) error {
	s.removed = append(s.removed, path)
	delete(s.files, path)
	return nil
}

type fakeReconstructor struct {
	err   error
	calls int
}

func (r *fakeReconstructor) Reconstruct(resp *protocol.PageResponse, key models.KeyMaterial) ([]byte, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return []byte("png:" + resp.Kind()), nil
}

type countingLimiter struct {
	waits  int
	resets int
	err    error
}

func (l *countingLimiter) Wait(ctx context.Context) error {
	if l.err != nil {
		return l.err
	}
	l.waits++
	return nil
}

func (l *countingLimiter) Reset() { l.resets++ }

type harness struct {
	transport     *fakeTransport
	session       *fakeSession
	store         *fakeStore
	reconstructor *fakeReconstructor
	limiter       *countingLimiter
	log           *logger.TestLogger
	progress      []int
}

func newHarness(existing ...int) *harness {
	return &harness{
		transport:     &fakeTransport{},
		session:       &fakeSession{authenticated: true},
		store:         newFakeStore(existing...),
		reconstructor: &fakeReconstructor{},
		limiter:       &countingLimiter{},
		log:           logger.NewTestLogger(),
	}
}

func (h *harness) downloader(t *testing.T) *Downloader {
	t.Helper()
	d, err := New(Dependencies{
		Transport:        h.transport,
		Session:          h.session,
		Store:            h.store,
		Reconstructor:    h.reconstructor,
		Limiter:          h.limiter,
		Clock:            func() time.Time { return time.Unix(1700000000, 0) },
		Logger:           h.log,
		BaseURL:          "https://reader.test/",
		AuthMarkers:      []string{"auth", "login"},
		RateLimitMarkers: []string{"limit"},
		Progress: func(done, total int, a models.PageArtifact) {
			h.progress = append(h.progress, a.Page)
		},
	})
	require.NoError(t, err)
	return d
}

func pages(artifacts []models.PageArtifact) []int {
	out := make([]int, len(artifacts))
	for i, a := range artifacts {
		out[i] = a.Page
	}
	return out
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Dependencies{})
	assert.EqualError(t, err, "downloader: transport is required")

	_, err = New(Dependencies{Transport: &fakeTransport{}, Session: &fakeSession{}, Store: newFakeStore()})
	assert.EqualError(t, err, "downloader: reconstructor is required")
}

func TestRunDownloadsAllPages(t *testing.T) {
	h := newHarness()
	d := h.downloader(t)

	result, err := d.Run(context.Background(), models.DocumentHandle{DocumentID: "doc", PageCount: 3}, testKey)
	require.NoError(t, err)

	assert.True(t, result.Complete())
	assert.Equal(t, []int{1, 2, 3}, pages(result.Artifacts))
	assert.Equal(t, []int{1, 2, 3}, h.transport.calls())
	assert.Equal(t, []int{1, 2, 3}, h.progress)
	assert.Equal(t, []byte("png:slices"), h.store.files["/work/doc/page_2.png"])
	assert.Equal(t, 1, h.limiter.resets)

	want := "Bearer " + token.Generate("doc", 2, testKey, time.Unix(1700000000, 0))
	assert.Equal(t, want, h.transport.auth[1])
}

func TestRunIsIdempotentWhenAllPagesExist(t *testing.T) {
	h := newHarness(1, 2, 3, 4)
	h.session.authenticated = false
	d := h.downloader(t)
	handle := models.DocumentHandle{DocumentID: "doc", PageCount: 4}

	first, err := d.Run(context.Background(), handle, testKey)
	require.NoError(t, err)
	second, err := d.Run(context.Background(), handle, testKey)
	require.NoError(t, err)

	assert.Empty(t, h.transport.calls())
	assert.Equal(t, 0, h.limiter.waits)
	assert.Equal(t, first.Artifacts, second.Artifacts)
	for _, a := range first.Artifacts {
		assert.True(t, a.Skipped)
	}
}

func TestRunSkipsExistingPageInOrder(t *testing.T) {
	h := newHarness(7)
	d := h.downloader(t)

	result, err := d.Run(context.Background(), models.DocumentHandle{DocumentID: "doc", PageCount: 10}, testKey)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, pages(result.Artifacts))
	assert.True(t, result.Artifacts[6].Skipped)
	assert.Equal(t, "/work/doc/page_7.png", result.Artifacts[6].Path)
	assert.NotContains(t, h.transport.calls(), 7)
	assert.Len(t, h.transport.calls(), 9)
}

func TestRunPacesBetweenFetches(t *testing.T) {
	h := newHarness(2)
	d := h.downloader(t)

	_, err := d.Run(context.Background(), models.DocumentHandle{DocumentID: "doc", PageCount: 4}, testKey)
	require.NoError(t, err)

	// the limiter decides the first call is free; skipped pages never reach it
	assert.Equal(t, 3, h.limiter.waits)
}

func TestRunWithFixedDelayPacer(t *testing.T) {
	h := newHarness()
	pacer := ratelimit.NewFixedDelay(time.Millisecond)
	d, err := New(Dependencies{
		Transport:     h.transport,
		Session:       h.session,
		Store:         h.store,
		Reconstructor: h.reconstructor,
		Limiter:       pacer,
		Logger:        logger.NewNopLogger(),
	})
	require.NoError(t, err)

	_, err = d.Run(context.Background(), models.DocumentHandle{DocumentID: "doc", PageCount: 3}, testKey)
	require.NoError(t, err)
	assert.Equal(t, 2, pacer.Waits())
}

func TestRunAuthenticationFailureInvalidatesOnce(t *testing.T) {
	h := newHarness()
	h.transport.respond = func(page int) (*reader.Response, error) {
		if page == 3 {
			return &reader.Response{StatusCode: 200, Body: "<status_text>Login required</status_text>"}, nil
		}
		return &reader.Response{StatusCode: 200, Body: okBody}, nil
	}
	d := h.downloader(t)

	result, err := d.Run(context.Background(), models.DocumentHandle{DocumentID: "doc", PageCount: 5}, testKey)
	require.Error(t, err)

	assert.True(t, errs.IsKind(err, errs.KindAuthenticationExpired))
	assert.Equal(t, 1, h.session.invalidations)
	assert.Equal(t, 3, result.StoppedAt)
	assert.Equal(t, []int{1, 2}, pages(result.Artifacts))
	assert.False(t, h.store.Exists("/work/doc/page_3.png"))
	assert.Equal(t, []int{1, 2, 3}, h.transport.calls())
	assert.Equal(t, err, result.Err)
}

func TestRunClassifiesHTTPStatus(t *testing.T) {
	tests := []struct {
		name          string
		code          int
		kind          errs.Kind
		invalidations int
	}{
		{"unauthorized", 401, errs.KindAuthenticationExpired, 1},
		{"forbidden", 403, errs.KindAuthenticationExpired, 1},
		{"too many requests", 429, errs.KindRateLimited, 0},
		{"server error", 502, errs.KindTransport, 0},
		{"not found", 404, errs.KindTransport, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.transport.respond = func(int) (*reader.Response, error) {
				return &reader.Response{StatusCode: tt.code, Body: okBody}, nil
			}
			d := h.downloader(t)

			result, err := d.Run(context.Background(), models.DocumentHandle{DocumentID: "doc", PageCount: 2}, testKey)
			require.Error(t, err)

			assert.Equal(t, tt.kind, errs.KindOf(err))
			assert.Contains(t, err.Error(), strconv.Itoa(tt.code))
			assert.Equal(t, tt.invalidations, h.session.invalidations)
			assert.Equal(t, 1, result.StoppedAt)
			assert.Empty(t, result.Artifacts)
			assert.Equal(t, 0, h.reconstructor.calls)
		})
	}
}

func TestRunClassifiesStatusText(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind errs.Kind
	}{
		{"ok without payload", "<status>200</status><status_text>OK</status_text>", errs.KindProtocolMismatch},
		{"rate limit marker", "<status_text>Request LIMIT exceeded</status_text>", errs.KindRateLimited},
		{"unknown status", "<status>7</status><status_text>Busy</status_text>", errs.KindProtocolMismatch},
		{"empty body", "", errs.KindProtocolMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.transport.respond = func(int) (*reader.Response, error) {
				return &reader.Response{StatusCode: 200, Body: tt.body}, nil
			}
			d := h.downloader(t)

			result, err := d.Run(context.Background(), models.DocumentHandle{DocumentID: "doc", PageCount: 2}, testKey)
			require.Error(t, err)

			assert.Equal(t, tt.kind, errs.KindOf(err))
			assert.Equal(t, 0, h.session.invalidations)
			assert.Equal(t, 1, result.StoppedAt)
			assert.Empty(t, h.store.files)
		})
	}
}

func TestRunProtocolMismatchSurfacesStatus(t *testing.T) {
	h := newHarness()
	h.transport.respond = func(int) (*reader.Response, error) {
		return &reader.Response{StatusCode: 200, Body: "<status_text>OK</status_text>"}, nil
	}
	d := h.downloader(t)

	_, err := d.Run(context.Background(), models.DocumentHandle{DocumentID: "doc", PageCount: 1}, testKey)

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "OK", e.Status)
	assert.Equal(t, 1, e.Page)
}

func TestRunTransportError(t *testing.T) {
	h := newHarness()
	h.transport.respond = func(page int) (*reader.Response, error) {
		if page == 2 {
			return nil, errors.New("connection reset")
		}
		return &reader.Response{StatusCode: 200, Body: okBody}, nil
	}
	d := h.downloader(t)

	result, err := d.Run(context.Background(), models.DocumentHandle{DocumentID: "doc", PageCount: 3}, testKey)
	require.Error(t, err)

	assert.True(t, errs.IsKind(err, errs.KindTransport))
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 2, result.StoppedAt)
	assert.Equal(t, []int{1}, pages(result.Artifacts))
}

func TestRunKeepsKindOfTypedTransportError(t *testing.T) {
	h := newHarness()
	h.transport.respond = func(int) (*reader.Response, error) {
		return nil, &errs.Error{Kind: errs.KindTransport, Code: 503, Message: "unavailable"}
	}
	d := h.downloader(t)

	_, err := d.Run(context.Background(), models.DocumentHandle{DocumentID: "doc", PageCount: 1}, testKey)

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, 503, e.Code)
	assert.Equal(t, 1, e.Page)
}

func TestRunReconstructionFailure(t *testing.T) {
	h := newHarness()
	h.reconstructor.err = errs.New(errs.KindDecryptionFailure, "bad webp")
	d := h.downloader(t)

	result, err := d.Run(context.Background(), models.DocumentHandle{DocumentID: "doc", PageCount: 2}, testKey)

	assert.True(t, errs.IsKind(err, errs.KindDecryptionFailure))
	assert.Equal(t, 1, result.StoppedAt)
	assert.Empty(t, h.store.files)
}

func TestRunWriteFailureRemovesPartialArtifact(t *testing.T) {
	h := newHarness()
	h.store.failOn = "/work/doc/page_2.png"
	d := h.downloader(t)

	result, err := d.Run(context.Background(), models.DocumentHandle{DocumentID: "doc", PageCount: 3}, testKey)
	require.Error(t, err)

	assert.Contains(t, err.Error(), "persist page 2")
	assert.Equal(t, []string{"/work/doc/page_2.png"}, h.store.removed)
	assert.Equal(t, 2, result.StoppedAt)
}

func TestRunRequiresSessionBeforeFirstFetch(t *testing.T) {
	h := newHarness(1)
	h.session.authenticated = false
	d := h.downloader(t)

	result, err := d.Run(context.Background(), models.DocumentHandle{DocumentID: "doc", PageCount: 3}, testKey)

	assert.True(t, errs.IsKind(err, errs.KindAuthenticationExpired))
	assert.Equal(t, 2, result.StoppedAt)
	assert.Equal(t, []int{1}, pages(result.Artifacts))
	assert.Empty(t, h.transport.calls())
	assert.Equal(t, 0, h.session.invalidations)
}

func TestRunCancellation(t *testing.T) {
	t.Run("before start", func(t *testing.T) {
		h := newHarness()
		d := h.downloader(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result, err := d.Run(ctx, models.DocumentHandle{DocumentID: "doc", PageCount: 3}, testKey)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, result.StoppedAt)
		assert.Empty(t, h.transport.calls())
	})

	t.Run("between pages", func(t *testing.T) {
		h := newHarness()
		ctx, cancel := context.WithCancel(context.Background())
		h.transport.respond = func(page int) (*reader.Response, error) {
			if page == 2 {
				cancel()
			}
			return &reader.Response{StatusCode: 200, Body: okBody}, nil
		}
		d := h.downloader(t)

		result, err := d.Run(ctx, models.DocumentHandle{DocumentID: "doc", PageCount: 5}, testKey)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, []int{1, 2}, pages(result.Artifacts))
		assert.Equal(t, 3, result.StoppedAt)
	})

	t.Run("during pacing", func(t *testing.T) {
		h := newHarness()
		h.limiter.err = context.Canceled
		d := h.downloader(t)

		result, err := d.Run(context.Background(), models.DocumentHandle{DocumentID: "doc", PageCount: 2}, testKey)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, h.transport.calls())
		assert.Equal(t, 1, result.StoppedAt)
	})
}

func TestRunNeverLogsKeyMaterial(t *testing.T) {
	h := newHarness()
	h.transport.respond = func(page int) (*reader.Response, error) {
		if page == 2 {
			return &reader.Response{StatusCode: 200, Body: "<status_text>auth expired</status_text>"}, nil
		}
		return &reader.Response{StatusCode: 200, Body: okBody}, nil
	}
	d := h.downloader(t)

	_, err := d.Run(context.Background(), models.DocumentHandle{DocumentID: "doc", PageCount: 3}, testKey)
	require.Error(t, err)

	out := h.log.String()
	assert.NotEmpty(t, out)
	assert.NotContains(t, out, testKey.CryptoKey)
	assert.NotContains(t, out, testKey.CryptoKeyID)
	assert.True(t, h.log.HasMessage("Key material resolved"))
	assert.True(t, h.log.HasError())
}

func TestRunZeroPages(t *testing.T) {
	h := newHarness()
	d := h.downloader(t)

	result, err := d.Run(context.Background(), models.DocumentHandle{DocumentID: "doc"}, testKey)
	require.NoError(t, err)
	assert.Empty(t, result.Artifacts)
	assert.True(t, result.Complete())
}

func slicePNG(t *testing.T, w, h int, c color.Color) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestRunWithRealStoreAndReconstructor(t *testing.T) {
	top := slicePNG(t, 4, 2, color.Black)
	bottom := slicePNG(t, 3, 3, color.White)
	body := "<status_text>OK</status_text>" +
		"<slice1>[0," + top + "]</slice1>" +
		"<slice2>[0," + bottom + "]</slice2>"

	store, err := storage.NewManager(t.TempDir())
	require.NoError(t, err)
	transport := &fakeTransport{respond: func(int) (*reader.Response, error) {
		return &reader.Response{StatusCode: 200, Body: body}, nil
	}}

	d, err := New(Dependencies{
		Transport:     transport,
		Session:       &fakeSession{authenticated: true},
		Store:         store,
		Reconstructor: render.New(config.DefaultConfig().Render),
		Logger:        logger.NewNopLogger(),
		BaseURL:       "https://reader.test/",
	})
	require.NoError(t, err)

	handle := models.DocumentHandle{DocumentID: "123", PageCount: 2}
	result, err := d.Run(context.Background(), handle, testKey)
	require.NoError(t, err)
	require.Len(t, result.Artifacts, 2)

	stored, err := store.Pages("123")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, stored)

	// second run is served entirely from disk
	again, err := d.Run(context.Background(), handle, testKey)
	require.NoError(t, err)
	assert.Len(t, transport.calls(), 2)
	assert.True(t, again.Artifacts[0].Skipped)
}
