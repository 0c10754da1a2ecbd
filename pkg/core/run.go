// pkg/core/run.go
package core

import "time"

// Run holds metadata for one simulation run.
type Run struct {
	ID               uint      `json:"id"`
	Name             string    `json:"name"`
	Tag              string    `json:"tag"`
	ExtensionVersion string    `json:"extensionVersion"`
	StartTime        time.Time `json:"startTime"`
	EndTime          time.Time `json:"endTime"`
	Params           SimParams `json:"params"`
}

// Course is the reference path plus obstacles a run tracks.
type Course struct {
	Name      string   `json:"name"`
	Waypoints Polyline `json:"waypoints"`
	Obstacles []Circle `json:"obstacles"`
	// GPS is true when waypoints were supplied as lon/lat and projected
	// to meters on ingest.
	GPS bool `json:"gps"`
}

// Frame is one recorded simulation step.
type Frame struct {
	RunID        uint       `json:"runId"`
	CaptureFrame uint       `json:"captureFrame"`
	SimTime      float64    `json:"simTime"` // s since run start
	State        State      `json:"state"`
	Steering     float64    `json:"steering"` // rad, applied this step
	ControlPoint Position2D `json:"controlPoint"`
	// Predicted is the solver's horizon trajectory for this step; may be
	// empty when the solve failed and the previous command was held.
	Predicted []State `json:"predicted,omitempty"`
}

// SolveReport captures per-step solver performance.
type SolveReport struct {
	RunID        uint          `json:"runId"`
	CaptureFrame uint          `json:"captureFrame"`
	Cost         float64       `json:"cost"`
	Iterations   int           `json:"iterations"`
	Duration     time.Duration `json:"duration"`
	Converged    bool          `json:"converged"`
}

// Run event names.
const (
	EventRunStarted    = "run_started"
	EventRunStopped    = "run_stopped"
	EventGoalReached   = "goal_reached"
	EventSolverFailed  = "solver_failed"
	EventJackknife     = "jackknife"
	EventObstacleTouch = "obstacle_contact"
)

// RunEvent is a discrete occurrence during a run.
type RunEvent struct {
	RunID        uint    `json:"runId"`
	CaptureFrame uint    `json:"captureFrame"`
	Name         string  `json:"name"`
	Message      string  `json:"message"`
	SimTime      float64 `json:"simTime"`
}

// UploadMetadata describes an exported recording for upload to the viewer.
type UploadMetadata struct {
	RunName     string  `json:"runName"`
	CourseName  string  `json:"courseName"`
	RunDuration float64 `json:"runDuration"` // s
	Tag         string  `json:"tag"`
}
