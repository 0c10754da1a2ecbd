package main

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"gorm.io/gorm"

	"github.com/trailerlab/trailerd/internal/config"
	"github.com/trailerlab/trailerd/internal/database"
	"github.com/trailerlab/trailerd/internal/geo"
	"github.com/trailerlab/trailerd/internal/model"
	"github.com/trailerlab/trailerd/internal/run"
	"github.com/trailerlab/trailerd/internal/sim"
	"github.com/trailerlab/trailerd/internal/storage"
	"github.com/trailerlab/trailerd/internal/storage/memory"
	"github.com/trailerlab/trailerd/pkg/core"
)

// courseFile is the on-disk course description consumed by `trailerd run`.
// Obstacles use the same "x,y,r" form as the control surface.
type courseFile struct {
	Name      string      `json:"name"`
	GPS       bool        `json:"gps"`
	Waypoints [][]float64 `json:"waypoints"`
	Obstacles []string    `json:"obstacles"`
}

func loadCourseFile(path string) (*core.Course, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read course file: %w", err)
	}
	var cf courseFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse course file: %w", err)
	}
	if cf.Name == "" {
		cf.Name = strings.TrimSuffix(strings.TrimSuffix(path, ".json"), ".course")
	}

	raw, err := json.Marshal(cf.Waypoints)
	if err != nil {
		return nil, err
	}
	waypoints, err := geo.ParsePolylineToCore(string(raw))
	if err != nil {
		return nil, fmt.Errorf("course %q: %w", cf.Name, err)
	}
	if cf.GPS {
		waypoints = geo.ProjectPolyline(waypoints)
	}

	obstacles := make([]core.Circle, 0, len(cf.Obstacles))
	for i, s := range cf.Obstacles {
		circle, err := geo.CircleFromString(s)
		if err != nil {
			return nil, fmt.Errorf("course %q: obstacle %d: %w", cf.Name, i, err)
		}
		obstacles = append(obstacles, circle)
	}

	return &core.Course{
		Name:      cf.Name,
		GPS:       cf.GPS,
		Waypoints: waypoints,
		Obstacles: obstacles,
	}, nil
}

// cmdRun executes one simulation run from a course file and exits.
func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	coursePath := fs.String("course", "", "course file (JSON)")
	name := fs.String("name", "cli run", "run name")
	tag := fs.String("tag", "", "run tag (defaults to config defaultTag)")
	realtime := fs.Bool("realtime", false, "pace the loop at dt wall time")
	var paramArgs []string
	fs.Func("param", "parameter override, field=value (repeatable)", func(s string) error {
		paramArgs = append(paramArgs, s)
		return nil
	})
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *coursePath == "" {
		return fmt.Errorf("run: -course is required")
	}

	cleanup, err := bootstrap()
	if err != nil {
		return err
	}
	defer cleanup()

	course, err := loadCourseFile(*coursePath)
	if err != nil {
		return err
	}

	params := core.DefaultParams()
	for _, kv := range paramArgs {
		field, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("run: malformed -param %q, want field=value", kv)
		}
		if err := params.Set(field, value); err != nil {
			return err
		}
	}
	if err := params.Validate(); err != nil {
		return err
	}

	if *tag == "" {
		*tag = viper.GetString("defaultTag")
	}
	newRun := &core.Run{
		Name:             *name,
		Tag:              *tag,
		ExtensionVersion: CurrentVersion,
		StartTime:        time.Now(),
		Params:           params,
	}

	runCtx := run.NewContext()
	backend, err := storage.NewBackend(config.GetStorageConfig(), SlogManager, runCtx)
	if err != nil {
		return fmt.Errorf("storage backend: %w", err)
	}
	if err := backend.Init(); err != nil {
		return fmt.Errorf("storage init: %w", err)
	}
	defer backend.Close()

	simCfg := config.GetSimConfig()
	simCfg.Realtime = simCfg.Realtime || *realtime

	runner := sim.NewRunner(simCfg, backend, Logger)
	runCtx.SetRun(newRun, course)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := runner.Run(ctx, newRun, course, params)
	if err != nil {
		return err
	}

	fmt.Printf("run %q finished: %d frames, %.1f s simulated, %s\n",
		newRun.Name, res.Frames, res.SimTime, res.Reason)
	if u, ok := backend.(storage.Uploadable); ok && u.GetExportedFilePath() != "" {
		fmt.Println("recording written to", u.GetExportedFilePath())
	}
	return nil
}

// cmdExport pulls recorded runs out of Postgres and writes them as gzipped
// JSON recordings, the same shape the memory backend exports.
func cmdExport(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("export: no run IDs provided")
	}

	cleanup, err := bootstrap()
	if err != nil {
		return err
	}
	defer cleanup()

	Logger.Info("Connecting to database...")
	db, err := database.OpenPostgres()
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}

	for _, arg := range args {
		runID, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("export: bad run ID %q: %w", arg, err)
		}

		txStart := time.Now()

		var dbRun model.Run
		if err := db.Preload("Course").Where("id = ?", runID).First(&dbRun).Error; err != nil {
			return fmt.Errorf("error getting run %d: %w", runID, err)
		}

		export, err := buildDBExport(db, dbRun)
		if err != nil {
			return err
		}

		fileName := fmt.Sprintf("%s_%s.json.gz", dbRun.Name, dbRun.StartTime.Format("20060102_150405"))
		fileName = strings.ReplaceAll(fileName, " ", "_")
		fileName = strings.ReplaceAll(fileName, ":", "_")

		if err := writeGzipJSON(fileName, export); err != nil {
			return err
		}

		Logger.Info("Exported run", "id", runID, "file", fileName, "took", time.Since(txStart))
		fmt.Println("wrote", fileName)
	}
	return nil
}

// buildDBExport assembles a RecordingExport from database rows.
func buildDBExport(db *gorm.DB, dbRun model.Run) (*memory.RecordingExport, error) {
	waypoints := [][]float64{}
	seq := dbRun.Course.Waypoints.Coordinates()
	for i := 0; i < seq.Length(); i++ {
		xy := seq.GetXY(i)
		waypoints = append(waypoints, []float64{xy.X, xy.Y})
	}

	obstacles := []core.Circle{}
	if len(dbRun.Course.Obstacles) > 0 {
		if err := json.Unmarshal(dbRun.Course.Obstacles, &obstacles); err != nil {
			return nil, fmt.Errorf("error parsing obstacles: %w", err)
		}
	}

	var params core.SimParams
	if len(dbRun.Params) > 0 {
		if err := json.Unmarshal(dbRun.Params, &params); err != nil {
			return nil, fmt.Errorf("error parsing params: %w", err)
		}
	}

	export := &memory.RecordingExport{
		ExtensionVersion: dbRun.ExtensionVersion,
		RunName:          dbRun.Name,
		Tag:              dbRun.Tag,
		CourseName:       dbRun.Course.Name,
		GPS:              dbRun.Course.GPS,
		Waypoints:        waypoints,
		Obstacles:        obstacles,
		Params:           params,
		Frames:           [][]any{},
		Events:           [][]any{},
		SolveStats:       [][]any{},
	}

	frames := []model.Frame{}
	if err := db.Model(&model.Frame{}).
		Where("run_id = ?", dbRun.ID).
		Order("capture_frame ASC").
		Find(&frames).Error; err != nil {
		return nil, fmt.Errorf("error getting frames: %w", err)
	}
	for _, f := range frames {
		pos, _ := f.Position.Coordinates()
		cp, _ := f.ControlPoint.Coordinates()
		export.Frames = append(export.Frames, []any{
			f.CaptureFrame,
			[]float64{pos.X, pos.Y},
			f.Heading,
			f.TrailerHeading,
			f.Steering,
			[]float64{cp.X, cp.Y},
			f.SimTime,
		})
		if f.CaptureFrame > export.EndFrame {
			export.EndFrame = f.CaptureFrame
		}
	}

	events := []model.RunEvent{}
	if err := db.Model(&model.RunEvent{}).
		Where("run_id = ?", dbRun.ID).
		Order("capture_frame ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("error getting events: %w", err)
	}
	for _, e := range events {
		export.Events = append(export.Events, []any{
			e.CaptureFrame, e.Name, e.Message, e.SimTime,
		})
	}

	stats := []model.SolveStat{}
	if err := db.Model(&model.SolveStat{}).
		Where("run_id = ?", dbRun.ID).
		Order("capture_frame ASC").
		Find(&stats).Error; err != nil {
		return nil, fmt.Errorf("error getting solve stats: %w", err)
	}
	for _, s := range stats {
		export.SolveStats = append(export.SolveStats, []any{
			s.CaptureFrame, s.Cost, s.Iterations, s.DurationMs, s.Converged,
		})
	}

	return export, nil
}

func writeGzipJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating file: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	if err := json.NewEncoder(gz).Encode(v); err != nil {
		gz.Close()
		return fmt.Errorf("error writing gzip JSON: %w", err)
	}
	return gz.Close()
}
