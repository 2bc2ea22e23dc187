package broadcast

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wobcom/netbox-sub000/internal/domain"
	apperrors "github.com/wobcom/netbox-sub000/internal/pkg/errors"
)

// fixedProvision serves a single provision set.
type fixedProvision struct {
	ps *domain.ProvisionSet
}

func (f *fixedProvision) GetByID(_ context.Context, id int64) (*domain.ProvisionSet, error) {
	if f.ps == nil || f.ps.ID != id {
		return nil, apperrors.ErrNotFound
	}
	cp := *f.ps
	return &cp, nil
}

// serveStream exposes the log streamer over a test WebSocket endpoint. The
// returned channel closes when the stream handler has returned.
func serveStream(t *testing.T, ctx context.Context, s *LogStreamer, id int64) (*httptest.Server, chan struct{}) {
	t.Helper()
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer close(done)
		defer conn.Close()
		_ = s.Stream(ctx, conn, id)
	}))
	t.Cleanup(srv.Close)
	return srv, done
}

func TestStreamReplaysPersistedLog(t *testing.T) {
	log := "rendered configs\napplied 3 changes\n"
	src := &fixedProvision{ps: &domain.ProvisionSet{
		ID:        1,
		Status:    domain.ProvisionFinished,
		OutputLog: &log,
	}}
	srv, _ := serveStream(t, context.Background(), NewLogStreamer(src, newTestPools(t)), 1)

	c := dial(t, srv)
	c.SetReadDeadline(time.Now().Add(2 * time.Second))

	var rec logRecord
	require.NoError(t, c.ReadJSON(&rec))
	require.Equal(t, "output", rec.Scope)
	require.Equal(t, "rendered configs", rec.Line)

	require.NoError(t, c.ReadJSON(&rec))
	require.Equal(t, "applied 3 changes", rec.Line)
}

func TestStreamFollowsLiveLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provision-2.log")
	require.NoError(t, os.WriteFile(path, []byte("phase a started\n"), 0o644))

	src := &fixedProvision{ps: &domain.ProvisionSet{
		ID:      2,
		Status:  domain.ProvisionRunning,
		LogFile: &path,
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv, _ := serveStream(t, ctx, NewLogStreamer(src, newTestPools(t)), 2)

	c := dial(t, srv)
	c.SetReadDeadline(time.Now().Add(5 * time.Second))

	var rec logRecord
	require.NoError(t, c.ReadJSON(&rec))
	require.Equal(t, "phase a started", rec.Line)

	// Lines appended while streaming show up too.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("phase a done\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, c.ReadJSON(&rec))
	require.Equal(t, "phase a done", rec.Line)
}

func TestStreamStopsOnDisconnect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provision-3.log")
	require.NoError(t, os.WriteFile(path, []byte("phase a started\n"), 0o644))

	src := &fixedProvision{ps: &domain.ProvisionSet{
		ID:      3,
		Status:  domain.ProvisionRunning,
		LogFile: &path,
	}}
	srv, done := serveStream(t, context.Background(), NewLogStreamer(src, newTestPools(t)), 3)

	c := dial(t, srv)
	c.SetReadDeadline(time.Now().Add(5 * time.Second))

	var rec logRecord
	require.NoError(t, c.ReadJSON(&rec))
	require.Equal(t, "phase a started", rec.Line)

	// Closing the client ends the follow even though the run writes nothing.
	c.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop after client disconnect")
	}
}

func TestStreamUnknownProvision(t *testing.T) {
	s := NewLogStreamer(&fixedProvision{}, newTestPools(t))
	err := s.Stream(context.Background(), nil, 99)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}
