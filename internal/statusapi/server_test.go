package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahirjain10/brainscan-workers/internal/store"
	"github.com/mahirjain10/brainscan-workers/internal/types"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func seededStore(t *testing.T) *store.BadgerStore {
	t.Helper()
	st, err := store.OpenBadger("", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	for _, id := range []string{"done", "failed", "queued"} {
		_, err := st.CreateJob(ctx, types.NewStagedJob(types.DispatchMessage{
			JobID: id, StagingPath: "staging/" + id + ".png", OriginalFilename: "scan.png", UserID: "u1",
		}, t0))
		require.NoError(t, err)
	}
	_, err = st.TransitionJob(ctx, "done", types.JobTransition{
		State: types.StateCompleted, Message: "Validation and prediction completed.", ImageID: "img-1", At: t0,
	})
	require.NoError(t, err)
	_, err = st.TransitionJob(ctx, "failed", types.JobTransition{
		State: types.StateFailed, Message: "Prediction failed.", ErrorCode: types.ErrNetworkError, ErrorDetail: "resnet: timeout", At: t0,
	})
	require.NoError(t, err)
	_, err = st.CreateImage(ctx, &types.Image{ID: "img-1", JobID: "done", ProcessingStatus: types.ImageCompleted, UploadDate: t0})
	require.NoError(t, err)
	return st
}

func get(t *testing.T, srv http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestGetJob(t *testing.T) {
	srv := NewServer(seededStore(t))

	tests := []struct {
		name       string
		path       string
		wantStatus int
		want       map[string]any
	}{
		{
			name:       "completed job",
			path:       "/jobs/done",
			wantStatus: http.StatusOK,
			want:       map[string]any{"job_id": "done", "status": "completed", "image_id": "img-1"},
		},
		{
			name:       "failed job carries error",
			path:       "/jobs/failed",
			wantStatus: http.StatusOK,
			want:       map[string]any{"status": "failed", "error": "NetworkError: resnet: timeout"},
		},
		{
			name:       "queued job",
			path:       "/jobs/queued",
			wantStatus: http.StatusOK,
			want:       map[string]any{"status": "validating", "message": "Queued for validation."},
		},
		{
			name:       "unknown job",
			path:       "/jobs/ghost",
			wantStatus: http.StatusNotFound,
			want:       map[string]any{"error": "job not found"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := get(t, srv, tt.path)
			assert.Equal(t, tt.wantStatus, rec.Code)
			for k, v := range tt.want {
				assert.Equal(t, v, body[k], k)
			}
		})
	}
}

func TestGetJob_CompletedAtOnlyWhenTerminal(t *testing.T) {
	srv := NewServer(seededStore(t))

	_, body := get(t, srv, "/jobs/done")
	assert.Contains(t, body, "completed_at")

	_, body = get(t, srv, "/jobs/queued")
	assert.NotContains(t, body, "completed_at")
	assert.NotContains(t, body, "error")
}

func TestGetImage(t *testing.T) {
	srv := NewServer(seededStore(t))

	rec, body := get(t, srv, "/images/img-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "img-1", body["id"])
	assert.Equal(t, "completed", body["processing_status"])

	rec, _ = get(t, srv, "/images/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	rec, body := get(t, NewServer(seededStore(t)), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

type failingReader struct{}

func (failingReader) GetJob(context.Context, string) (*types.Job, error) {
	return nil, errors.New("table unavailable")
}

func (failingReader) GetImage(context.Context, string) (*types.Image, error) {
	return nil, errors.New("table unavailable")
}

func TestStoreErrorIs500(t *testing.T) {
	srv := NewServer(failingReader{})

	rec, body := get(t, srv, "/jobs/j1")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed to load job", body["error"])

	rec, _ = get(t, srv, "/images/i1")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
