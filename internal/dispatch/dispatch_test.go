package dispatch

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahirjain10/brainscan-workers/internal/staging"
	"github.com/mahirjain10/brainscan-workers/internal/store"
	"github.com/mahirjain10/brainscan-workers/internal/types"
)

type fakePublisher struct {
	queue string
	msgs  []types.DispatchMessage
	err   error
}

func (f *fakePublisher) PublishDispatch(_ context.Context, queue string, msg types.DispatchMessage) error {
	f.queue = queue
	f.msgs = append(f.msgs, msg)
	return f.err
}

type harness struct {
	d     *Dispatcher
	area  staging.Area
	store *store.BadgerStore
	pub   *fakePublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.OpenBadger("", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	area, err := staging.NewLocalArea(t.TempDir())
	require.NoError(t, err)
	pub := &fakePublisher{}
	d := NewDispatcher(area, st, pub, "brainscan_dispatch")
	d.newID = func() string { return "job-1" }
	d.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return &harness{d: d, area: area, store: st, pub: pub}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name   string
		upload Upload
		ok     bool
	}{
		{"png", Upload{Filename: "scan.png", Data: []byte{1}}, true},
		{"upper case extension", Upload{Filename: "SCAN.JPG", Data: []byte{1}}, true},
		{"dicom passes the extension check", Upload{Filename: "scan.dcm", Data: []byte{1}}, true},
		{"empty", Upload{Filename: "scan.png"}, false},
		{"no filename", Upload{Data: []byte{1}}, false},
		{"unsupported", Upload{Filename: "notes.pdf", Data: []byte{1}}, false},
		{"too large", Upload{Filename: "scan.png", Data: make([]byte, MaxUploadSize+1)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.upload)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidUpload)
		})
	}
}

func TestSubmit_StagesRecordsAndPublishes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	data := []byte("png-bytes")

	jobID, err := h.d.Submit(ctx, Upload{Filename: "Scan.PNG", CustomFilename: "left.png", UserID: "u1", Data: data})
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)

	staged, err := h.area.Read(ctx, "staging/job-1.png")
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, staged))

	job, err := h.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, types.StateStaged, job.State)
	assert.Equal(t, "staging/job-1.png", job.StagingPath)
	assert.Equal(t, "left.png", job.CustomFilename)

	require.Len(t, h.pub.msgs, 1)
	assert.Equal(t, "brainscan_dispatch", h.pub.queue)
	assert.Equal(t, types.DispatchMessage{
		JobID:            "job-1",
		StagingPath:      "staging/job-1.png",
		OriginalFilename: "Scan.PNG",
		UserID:           "u1",
		CustomFilename:   "left.png",
	}, h.pub.msgs[0])
}

func TestSubmit_InvalidUploadWritesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.d.Submit(ctx, Upload{Filename: "notes.pdf", UserID: "u1", Data: []byte{1}})
	require.ErrorIs(t, err, ErrInvalidUpload)

	_, err = h.d.Submit(ctx, Upload{Filename: "scan.png", Data: []byte{1}})
	require.ErrorIs(t, err, ErrInvalidUpload)

	job, err := h.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.Empty(t, h.pub.msgs)
}

func TestSubmit_PublishFailureKeepsStagedJob(t *testing.T) {
	h := newHarness(t)
	h.pub.err = errors.New("connection refused")
	ctx := context.Background()

	_, err := h.d.Submit(ctx, Upload{Filename: "scan.png", UserID: "u1", Data: []byte{1}})
	require.Error(t, err)

	job, err := h.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, types.StateStaged, job.State)

	_, err = h.area.Read(ctx, "staging/job-1.png")
	assert.NoError(t, err)
}

func TestSubmit_StoreFailureRemovesStagedFile(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Close())
	ctx := context.Background()

	_, err := h.d.Submit(ctx, Upload{Filename: "scan.png", UserID: "u1", Data: []byte{1}})
	require.ErrorIs(t, err, store.ErrClosed)

	_, err = h.area.Read(ctx, "staging/job-1.png")
	assert.ErrorIs(t, err, staging.ErrNotFound)
	assert.Empty(t, h.pub.msgs)
}
