package broadcast

import (
	"context"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/hpcloud/tail"
	"go.uber.org/zap"

	"github.com/wobcom/netbox-sub000/internal/domain"
	"github.com/wobcom/netbox-sub000/internal/pkg/logger"
)

// logRecord is one streamed line of provisioning output.
type logRecord struct {
	Scope string `json:"scope"`
	Line  string `json:"line"`
}

// ProvisionSource loads provision sets for log streaming.
type ProvisionSource interface {
	GetByID(ctx context.Context, id int64) (*domain.ProvisionSet, error)
}

// LogStreamer streams provisioning output over a WebSocket: the persisted
// log first, then a live follow of the log file while the run is active.
type LogStreamer struct {
	provisions ProvisionSource
	submitter  Submitter
}

// NewLogStreamer creates a log streamer.
func NewLogStreamer(provisions ProvisionSource, submitter Submitter) *LogStreamer {
	return &LogStreamer{provisions: provisions, submitter: submitter}
}

// Stream writes the provision's output to the connection until the log is
// exhausted or the peer disconnects. Blocks for the lifetime of the stream.
func (s *LogStreamer) Stream(ctx context.Context, conn *websocket.Conn, provisionSetID int64) error {
	ps, err := s.provisions.GetByID(ctx, provisionSetID)
	if err != nil {
		return err
	}

	// Terminal runs only have the persisted log; replay it and stop.
	if ps.OutputLog != nil {
		return sendLines(conn, *ps.OutputLog)
	}
	if ps.LogFile == nil {
		return nil
	}

	// Reader pump: discard inbound frames, end the follow on disconnect.
	// Without it a silent run would keep the tail loop alive until the next
	// written line.
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := s.submitter.SubmitDetached("general", func(_ context.Context) {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}); err != nil {
		return fmt.Errorf("start log stream reader: %w", err)
	}

	t, err := tail.TailFile(*ps.LogFile, tail.Config{
		Follow: true,
		Poll:   true,
		Logger: tail.DiscardingLogger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := t.Stop(); err != nil {
			logger.Debug("log tail stop", zap.Error(err))
		}
	}()

	for {
		select {
		case <-streamCtx.Done():
			return streamCtx.Err()
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				return line.Err
			}
			if err := conn.WriteJSON(logRecord{Scope: "output", Line: line.Text}); err != nil {
				return err
			}
		}
	}
}

func sendLines(conn *websocket.Conn, log string) error {
	for _, line := range strings.Split(strings.TrimRight(log, "\n"), "\n") {
		if err := conn.WriteJSON(logRecord{Scope: "output", Line: line}); err != nil {
			return err
		}
	}
	return nil
}
