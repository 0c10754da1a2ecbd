// internal/storage/memory/export.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/trailerlab/trailerd/pkg/core"
)

// RecordingExport is the root JSON structure consumed by the viewer.
type RecordingExport struct {
	ExtensionVersion string         `json:"extensionVersion"`
	RunName          string         `json:"runName"`
	Tag              string         `json:"tag"`
	CourseName       string         `json:"courseName"`
	GPS              bool           `json:"gps"`
	Waypoints        [][]float64    `json:"waypoints"`
	Obstacles        []core.Circle  `json:"obstacles"`
	Params           core.SimParams `json:"params"`
	EndFrame         uint           `json:"endFrame"`
	Frames           [][]any        `json:"frames"`
	Events           [][]any        `json:"events"`
	SolveStats       [][]any        `json:"solveStats"`
}

// exportJSON writes the run data to a (optionally gzipped) JSON file.
// Caller holds the lock.
func (b *Backend) exportJSON() error {
	export := b.buildExport()

	// Build filename
	runName := strings.ReplaceAll(b.run.Name, " ", "_")
	runName = strings.ReplaceAll(runName, ":", "_")
	timestamp := b.run.StartTime.Format("20060102_150405")

	var filename string
	if b.cfg.CompressOutput {
		filename = fmt.Sprintf("%s_%s.json.gz", runName, timestamp)
	} else {
		filename = fmt.Sprintf("%s_%s.json", runName, timestamp)
	}

	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	// Ensure output directory exists
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// Write file
	if b.cfg.CompressOutput {
		if err := b.writeGzipJSON(outputPath, export); err != nil {
			return err
		}
	} else {
		if err := b.writeJSON(outputPath, export); err != nil {
			return err
		}
	}

	b.lastExportPath = outputPath
	return nil
}

func (b *Backend) buildExport() RecordingExport {
	export := RecordingExport{
		ExtensionVersion: b.run.ExtensionVersion,
		RunName:          b.run.Name,
		Tag:              b.run.Tag,
		Params:           b.run.Params,
		Frames:           make([][]any, 0, len(b.frames)),
		Events:           make([][]any, 0, len(b.events)),
		SolveStats:       make([][]any, 0, len(b.solveStats)),
	}

	if b.course != nil {
		export.CourseName = b.course.Name
		export.GPS = b.course.GPS
		export.Waypoints = make([][]float64, 0, len(b.course.Waypoints))
		for _, wp := range b.course.Waypoints {
			export.Waypoints = append(export.Waypoints, []float64{wp.X, wp.Y})
		}
		export.Obstacles = b.course.Obstacles
	}
	if export.Obstacles == nil {
		export.Obstacles = []core.Circle{}
	}

	var maxFrame uint = 0

	// Convert frames
	// Format: [frameNum, [x, y], heading, trailerHeading, steering, [cpX, cpY], simTime]
	for _, f := range b.frames {
		row := []any{
			f.CaptureFrame,
			[]float64{f.State.X, f.State.Y},
			f.State.Heading,
			f.State.TrailerHeading,
			f.Steering,
			[]float64{f.ControlPoint.X, f.ControlPoint.Y},
			f.SimTime,
		}
		export.Frames = append(export.Frames, row)
		if f.CaptureFrame > maxFrame {
			maxFrame = f.CaptureFrame
		}
	}

	export.EndFrame = maxFrame

	// Convert events
	// Format: [frameNum, name, message, simTime]
	for _, evt := range b.events {
		export.Events = append(export.Events, []any{
			evt.CaptureFrame,
			evt.Name,
			evt.Message,
			evt.SimTime,
		})
	}

	// Convert solver stats
	// Format: [frameNum, cost, iterations, durationMs, converged]
	for _, st := range b.solveStats {
		export.SolveStats = append(export.SolveStats, []any{
			st.CaptureFrame,
			st.Cost,
			st.Iterations,
			float64(st.Duration.Seconds() * 1000),
			st.Converged,
		})
	}

	return export
}

func (b *Backend) writeJSON(path string, data RecordingExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	return encoder.Encode(data)
}

func (b *Backend) writeGzipJSON(path string, data RecordingExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	defer gzWriter.Close()

	encoder := json.NewEncoder(gzWriter)
	return encoder.Encode(data)
}
