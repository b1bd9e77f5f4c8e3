package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	appErrors "github.com/unclebandit/broadcast-service/internal/errors"
)

type stubTracker struct {
	opens, clicks []string
	err           error
}

func (s *stubTracker) RecordOpen(ctx context.Context, logID string) error {
	s.opens = append(s.opens, logID)
	return s.err
}

func (s *stubTracker) RecordClick(ctx context.Context, logID string) error {
	s.clicks = append(s.clicks, logID)
	return s.err
}

func newTrackingRouter(tracker Tracker) http.Handler {
	r := chi.NewRouter()
	r.Route("/tracking", NewTrackingHandler(tracker, "https://acme.test", zerolog.Nop()).Routes)
	return r
}

func TestPixelAlwaysReturnsGIF(t *testing.T) {
	for _, trackErr := range []error{nil, appErrors.ErrDeliveryLogNotFound, errors.New("db down")} {
		tracker := &stubTracker{err: trackErr}
		rec := httptest.NewRecorder()

		newTrackingRouter(tracker).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tracking/pixel/abc", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")
		assert.Equal(t, pixel, rec.Body.Bytes())
		assert.Equal(t, []string{"abc"}, tracker.opens)
	}
}

func TestClickRedirects(t *testing.T) {
	cases := []struct {
		name   string
		target string
		want   string
	}{
		{"https target", "https%3A%2F%2Fshop.test%2Fitem%3Fid%3D1", "https://shop.test/item?id=1"},
		{"javascript rejected", "javascript%3Aalert(1)", "https://acme.test"},
		{"relative rejected", "%2Fadmin", "https://acme.test"},
		{"missing", "", "https://acme.test"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tracker := &stubTracker{}
			rec := httptest.NewRecorder()

			newTrackingRouter(tracker).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tracking/click/abc?url="+tc.target, nil))

			assert.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, tc.want, rec.Header().Get("Location"))
			assert.Equal(t, []string{"abc"}, tracker.clicks)
		})
	}
}

func TestClickRedirectsEvenWhenRecordingFails(t *testing.T) {
	tracker := &stubTracker{err: errors.New("db down")}
	rec := httptest.NewRecorder()

	newTrackingRouter(tracker).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tracking/click/abc?url=https%3A%2F%2Fshop.test", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://shop.test", rec.Header().Get("Location"))
}
