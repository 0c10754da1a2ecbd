// Package model defines the database schema for recorded simulation runs.
package model

import (
	"encoding/json"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/trailerlab/trailerd/pkg/core"
)

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&RecorderInfo{},
	&Course{},
	&Run{},
	&Frame{},
	&SolveStat{},
	&RunEvent{},
	&RunPerformance{},
}

// RecorderInfo contains information about the recording instance
type RecorderInfo struct {
	gorm.Model
	InstanceName string `json:"instanceName" gorm:"size:127"`
	Version      string `json:"version" gorm:"size:64"`
}

func (*RecorderInfo) TableName() string {
	return "recorder_infos"
}

// Course is the reference path plus obstacles a run tracks
type Course struct {
	gorm.Model
	Name      string          `json:"name" gorm:"size:200;index:idx_course_name"`
	GPS       bool            `json:"gps" gorm:"default:false"` // waypoints ingested as lon/lat
	Waypoints geom.LineString `json:"waypoints"`
	Obstacles datatypes.JSON  `json:"obstacles" gorm:"type:jsonb;default:'[]'"`
	Runs      []Run
}

func (*Course) TableName() string {
	return "courses"
}

// GetOrInsert looks a course up by name, inserting it when missing.
func (c *Course) GetOrInsert(db *gorm.DB) (created bool, err error) {
	var existing Course
	err = db.Where("name = ?", c.Name).First(&existing).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			err = db.Create(c).Error
			return true, err
		}
		return false, err
	}
	*c = existing
	return false, nil
}

// Run is the main model for one simulation run
type Run struct {
	gorm.Model
	Name             string    `json:"name" gorm:"size:200"`
	Tag              string    `json:"tag" gorm:"size:127"`
	ExtensionVersion string    `json:"extensionVersion" gorm:"size:64"`
	StartTime        time.Time `json:"startTime" gorm:"type:timestamptz;index:idx_run_start"`
	EndTime          time.Time `json:"endTime" gorm:"type:timestamptz"`
	CourseID         uint
	Course           Course         `gorm:"foreignkey:CourseID"`
	Params           datatypes.JSON `json:"params" gorm:"type:jsonb;default:'{}'"`

	Frames     []Frame
	SolveStats []SolveStat
	Events     []RunEvent
}

func (*Run) TableName() string {
	return "runs"
}

// Frame is one recorded simulation step
type Frame struct {
	ID           uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time         time.Time `json:"time" gorm:"type:timestamptz;"`
	RunID        uint      `json:"runId" gorm:"index:idx_frame_run_id"`
	Run          Run       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	CaptureFrame uint      `json:"captureFrame" gorm:"index:idx_frame_capture_frame"`
	SimTime      float64   `json:"simTime"` // s since run start

	Position       geom.Point `json:"position"` // tractor rear axle
	Heading        float64    `json:"heading"`  // rad
	TrailerHeading float64    `json:"trailerHeading"`
	Steering       float64    `json:"steering"` // rad, applied this step
	ControlPoint   geom.Point `json:"controlPoint"`

	// Predicted is the solver horizon trajectory as JSON; empty when the
	// solve failed and the previous command was held.
	Predicted datatypes.JSON `json:"predicted" gorm:"type:jsonb;default:'[]'"`
}

func (*Frame) TableName() string {
	return "frames"
}

// SolveStat records per-step optimizer performance
type SolveStat struct {
	ID           uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time         time.Time `json:"time" gorm:"type:timestamptz;"`
	RunID        uint      `json:"runId" gorm:"index:idx_solvestat_run_id"`
	Run          Run       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	CaptureFrame uint      `json:"captureFrame" gorm:"index:idx_solvestat_capture_frame"`

	Cost       float64 `json:"cost"`
	Iterations int     `json:"iterations"`
	DurationMs float32 `json:"durationMs"`
	Converged  bool    `json:"converged"`
}

func (*SolveStat) TableName() string {
	return "solve_stats"
}

// RunEvent is a discrete occurrence during a run: goal reached, jackknife,
// solver failure, obstacle contact
type RunEvent struct {
	ID           uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time         time.Time `json:"time" gorm:"type:timestamptz;"`
	RunID        uint      `json:"runId" gorm:"index:idx_runevent_run_id"`
	Run          Run       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	CaptureFrame uint      `json:"captureFrame" gorm:"index:idx_runevent_capture_frame"`
	Name         string    `json:"name" gorm:"size:64"`
	Message      string    `json:"message"`
	SimTime      float64   `json:"simTime"`
}

func (*RunEvent) TableName() string {
	return "run_events"
}

// RunPerformance is the model for recorder performance metrics
type RunPerformance struct {
	Time                time.Time         `json:"time" gorm:"type:timestamptz;index:idx_time"`
	RunID               uint              `json:"runId" gorm:"index:idx_runperformance_run_id"`
	Run                 Run               `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	WriteQueueLengths   WriteQueueLengths `json:"writeQueueLengths" gorm:"embedded;embeddedPrefix:writequeue_"`
	LastWriteDurationMs float32           `json:"lastWriteDurationMs"`
}

func (*RunPerformance) TableName() string {
	return "run_performances"
}

// WriteQueueLengths is the model for the write queue lengths
type WriteQueueLengths struct {
	Frames     uint16 `json:"frames"`
	SolveStats uint16 `json:"solveStats"`
	Events     uint16 `json:"events"`
}

////////////////////////
// CONVERSION
////////////////////////

// position2DToPoint converts a core.Position2D to a geom.Point
func position2DToPoint(p core.Position2D) geom.Point {
	coords := geom.Coordinates{XY: geom.XY{X: p.X, Y: p.Y}}
	return geom.NewPoint(coords)
}

// polylineToLineString converts a core.Polyline to a geom.LineString
func polylineToLineString(p core.Polyline) geom.LineString {
	if len(p) == 0 {
		return geom.LineString{}
	}
	coords := make([]float64, 0, len(p)*2)
	for _, pt := range p {
		coords = append(coords, pt.X, pt.Y)
	}
	seq := geom.NewSequence(coords, geom.DimXY)
	return geom.NewLineString(seq)
}

// CourseFromCore converts an ingested course to its database row.
func CourseFromCore(c core.Course) Course {
	var obstacles datatypes.JSON
	if len(c.Obstacles) > 0 {
		obstacles, _ = json.Marshal(c.Obstacles)
	} else {
		obstacles = datatypes.JSON("[]")
	}
	return Course{
		Name:      c.Name,
		GPS:       c.GPS,
		Waypoints: polylineToLineString(c.Waypoints),
		Obstacles: obstacles,
	}
}

// RunFromCore converts run metadata to its database row.
func RunFromCore(r core.Run, courseID uint) Run {
	params, _ := json.Marshal(r.Params)
	return Run{
		Name:             r.Name,
		Tag:              r.Tag,
		ExtensionVersion: r.ExtensionVersion,
		StartTime:        r.StartTime,
		EndTime:          r.EndTime,
		CourseID:         courseID,
		Params:           params,
	}
}

// FrameFromCore converts a recorded step to its database row.
func FrameFromCore(f core.Frame, now time.Time) Frame {
	var predicted datatypes.JSON
	if len(f.Predicted) > 0 {
		predicted, _ = json.Marshal(f.Predicted)
	} else {
		predicted = datatypes.JSON("[]")
	}
	return Frame{
		Time:           now,
		RunID:          f.RunID,
		CaptureFrame:   f.CaptureFrame,
		SimTime:        f.SimTime,
		Position:       position2DToPoint(core.Position2D{X: f.State.X, Y: f.State.Y}),
		Heading:        f.State.Heading,
		TrailerHeading: f.State.TrailerHeading,
		Steering:       f.Steering,
		ControlPoint:   position2DToPoint(f.ControlPoint),
		Predicted:      predicted,
	}
}

// SolveStatFromCore converts a solver report to its database row.
func SolveStatFromCore(r core.SolveReport, now time.Time) SolveStat {
	return SolveStat{
		Time:         now,
		RunID:        r.RunID,
		CaptureFrame: r.CaptureFrame,
		Cost:         r.Cost,
		Iterations:   r.Iterations,
		DurationMs:   float32(r.Duration.Seconds() * 1000),
		Converged:    r.Converged,
	}
}

// RunEventFromCore converts a run event to its database row.
func RunEventFromCore(e core.RunEvent, now time.Time) RunEvent {
	return RunEvent{
		Time:         now,
		RunID:        e.RunID,
		CaptureFrame: e.CaptureFrame,
		Name:         e.Name,
		Message:      e.Message,
		SimTime:      e.SimTime,
	}
}
