package streaming

import (
	"encoding/json"

	"github.com/trailerlab/trailerd/pkg/core"
)

// Message type constants matching the viewer streaming protocol.
const (
	TypeStartRun    = "start_run"
	TypeEndRun      = "end_run"
	TypeFrame       = "frame"
	TypeSolveReport = "solve_report"
	TypeRunEvent    = "run_event"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// StartRunPayload carries run metadata and the course being tracked.
type StartRunPayload struct {
	Run    *core.Run    `json:"run"`
	Course *core.Course `json:"course"`
}
