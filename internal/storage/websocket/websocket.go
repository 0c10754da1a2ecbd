package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/trailerlab/trailerd/pkg/core"
	"github.com/trailerlab/trailerd/pkg/streaming"
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL    string
	Secret string
}

// Backend streams run data over WebSocket to a live viewer server.
// It implements storage.Backend but not storage.Uploadable.
type Backend struct {
	conn *conn
	cfg  Config
}

// New creates a new WebSocket storage backend.
func New(cfg Config) *Backend {
	return &Backend{
		conn: newConn(slog.Default()),
		cfg:  cfg,
	}
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	return b.conn.open(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	return b.conn.close()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := streaming.Envelope{Type: msgType, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// sendEnvelope marshals the payload into an Envelope and pushes it
// to the write loop (fire-and-forget).
func (b *Backend) sendEnvelope(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	b.conn.send(data)
	return nil
}

// sendEnvelopeAndWait marshals the payload and waits for a server ack.
func (b *Backend) sendEnvelopeAndWait(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	return b.conn.sendAndWait(data, msgType, ackTimeout)
}

// StartRun sends run and course data and waits for server ack.
func (b *Backend) StartRun(run *core.Run, course *core.Course) error {
	data, err := marshalEnvelope(streaming.TypeStartRun, streaming.StartRunPayload{Run: run, Course: course})
	if err != nil {
		return err
	}

	// Cache for reconnect replay.
	b.conn.setReplay(data)

	return b.conn.sendAndWait(data, streaming.TypeStartRun, ackTimeout)
}

// EndRun sends end_run and waits for server ack.
func (b *Backend) EndRun() error {
	err := b.sendEnvelopeAndWait(streaming.TypeEndRun, nil)

	// Clear cached state regardless of error.
	b.conn.clearReplay()

	return err
}

func (b *Backend) RecordFrame(f *core.Frame) error {
	return b.sendEnvelope(streaming.TypeFrame, f)
}

func (b *Backend) RecordSolveReport(r *core.SolveReport) error {
	return b.sendEnvelope(streaming.TypeSolveReport, r)
}

func (b *Backend) RecordEvent(e *core.RunEvent) error {
	return b.sendEnvelope(streaming.TypeRunEvent, e)
}
