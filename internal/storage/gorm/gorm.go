// Package gormstorage implements the storage.Backend interface on any GORM
// dialector with internal queues and a background DB writer goroutine.
// The postgres and sqlite packages compose it with their own connections.
package gormstorage

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/viper"
	"gorm.io/gorm"

	"github.com/trailerlab/trailerd/internal/logging"
	"github.com/trailerlab/trailerd/internal/model"
	"github.com/trailerlab/trailerd/internal/queue"
	"github.com/trailerlab/trailerd/internal/run"
	"github.com/trailerlab/trailerd/pkg/core"
)

// Dependencies holds all dependencies for the GORM storage backend.
// A nil DB puts the backend in queue-only mode, used by unit tests.
type Dependencies struct {
	DB         *gorm.DB
	LogManager *logging.SlogManager
	RunContext *run.Context
}

// queues holds all the write queues for batch DB insertion.
type queues struct {
	Frames     *queue.Queue[model.Frame]
	SolveStats *queue.Queue[model.SolveStat]
	Events     *queue.Queue[model.RunEvent]
}

func newQueues() *queues {
	return &queues{
		Frames:     queue.New[model.Frame](),
		SolveStats: queue.New[model.SolveStat](),
		Events:     queue.New[model.RunEvent](),
	}
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps     Dependencies
	queues   *queues
	runID    atomic.Uint64
	stopChan chan struct{}
	dbReady  bool

	lastDBWriteDuration time.Duration
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	return &Backend{
		deps: deps,
	}
}

// Init creates internal queues, runs schema migration, and starts the DB
// writer goroutine. With no DB configured the backend only queues.
func (b *Backend) Init() error {
	b.queues = newQueues()
	b.stopChan = make(chan struct{})

	if b.deps.DB == nil {
		return nil
	}

	if err := b.setupDB(); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}
	b.dbReady = true

	b.startDBWriters()
	return nil
}

// setupDB migrates tables and creates default recorder info if missing.
func (b *Backend) setupDB() error {
	db := b.deps.DB
	log := b.deps.LogManager

	if !db.Migrator().HasTable(&model.RecorderInfo{}) {
		if err := db.AutoMigrate(&model.RecorderInfo{}); err != nil {
			log.WriteLog("setupDB", fmt.Sprintf("Failed to create recorder_infos table: %s", err), "ERROR")
			return fmt.Errorf("failed to auto-migrate RecorderInfo: %w", err)
		}
		if err := db.Create(&model.RecorderInfo{
			InstanceName: viper.GetString("instanceName"),
			Version:      viper.GetString("version"),
		}).Error; err != nil {
			return fmt.Errorf("failed to create recorder_info entry: %w", err)
		}
	}

	if db.Name() == "postgres" {
		if err := db.Exec(`CREATE Extension IF NOT EXISTS postgis;`).Error; err != nil {
			return fmt.Errorf("failed to create PostGIS Extension: %w", err)
		}
		log.WriteLog("setupDB", "PostGIS Extension created", "INFO")
	}

	log.WriteLog("setupDB", "Migrating schema", "INFO")
	if err := db.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	log.WriteLog("setupDB", "Database setup complete", "INFO")
	return nil
}

// Close stops the DB writer goroutine after a final queue drain.
func (b *Backend) Close() error {
	if b.stopChan != nil {
		close(b.stopChan)
	}
	if b.dbReady {
		b.writeAll()
	}
	return nil
}

// StartRun inserts the course (get-or-insert by name) and the run row,
// assigns the DB-generated ID back, and publishes both on the run context.
func (b *Backend) StartRun(coreRun *core.Run, coreCourse *core.Course) error {
	if b.deps.DB == nil {
		return nil
	}

	db := b.deps.DB
	log := b.deps.LogManager

	gormCourse := model.CourseFromCore(*coreCourse)
	created, err := gormCourse.GetOrInsert(db)
	if err != nil {
		return fmt.Errorf("failed to get or insert course %s: %w", coreCourse.Name, err)
	}
	if created {
		log.WriteLog("StartRun", fmt.Sprintf("Inserted new course %s", gormCourse.Name), "INFO")
	}

	gormRun := model.RunFromCore(*coreRun, gormCourse.ID)
	if err := db.Create(&gormRun).Error; err != nil {
		return fmt.Errorf("failed to insert new run: %w", err)
	}

	// Assign DB-generated ID back to the core type
	coreRun.ID = gormRun.ID

	// Store run ID for the DB writer goroutine
	b.runID.Store(uint64(gormRun.ID))

	if b.deps.RunContext != nil {
		b.deps.RunContext.SetRun(coreRun, coreCourse)
	}

	return nil
}

// SetRunID sets the current run ID for the DB writer (used by CLI tools).
func (b *Backend) SetRunID(id uint) {
	b.runID.Store(uint64(id))
}

// EndRun drains the queues and stamps the run's end time.
func (b *Backend) EndRun() error {
	if b.deps.DB == nil {
		return nil
	}

	runID := uint(b.runID.Load())
	if runID == 0 {
		return nil
	}

	b.writeAll()

	if err := b.deps.DB.Model(&model.Run{}).Where("id = ?", runID).
		Update("end_time", time.Now()).Error; err != nil {
		return fmt.Errorf("failed to close run %d: %w", runID, err)
	}
	return nil
}

// RecordFrame converts a simulation step to its DB row and queues it.
func (b *Backend) RecordFrame(f *core.Frame) error {
	gormObj := model.FrameFromCore(*f, time.Now())
	b.queues.Frames.Push(gormObj)
	return nil
}

// RecordSolveReport converts a solver report to its DB row and queues it.
func (b *Backend) RecordSolveReport(r *core.SolveReport) error {
	gormObj := model.SolveStatFromCore(*r, time.Now())
	b.queues.SolveStats.Push(gormObj)
	return nil
}

// RecordEvent converts a run event to its DB row and queues it.
func (b *Backend) RecordEvent(e *core.RunEvent) error {
	gormObj := model.RunEventFromCore(*e, time.Now())
	b.queues.Events.Push(gormObj)
	return nil
}

// GetLastDBWriteDuration returns how long the most recent write cycle took.
func (b *Backend) GetLastDBWriteDuration() time.Duration {
	return b.lastDBWriteDuration
}

// writeQueue writes all items from a queue to the database in a transaction.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log func(string, string, string), prepare func([]T)) {
	if q.Empty() {
		return
	}

	tx := db.Begin()
	items := q.Drain()
	if prepare != nil {
		prepare(items)
	}
	if err := tx.Create(&items).Error; err != nil {
		log(":DB:WRITER:", fmt.Sprintf("Error creating %s: %v", name, err), "ERROR")
		tx.Rollback()
		q.Push(items...)
		return
	}

	tx.Commit()
}

// writeAll drains all queues into the DB and records a performance row.
func (b *Backend) writeAll() {
	log := b.deps.LogManager.WriteLog
	runID := uint(b.runID.Load())

	stampFrames := func(items []model.Frame) {
		for i := range items {
			items[i].RunID = runID
		}
	}
	stampSolveStats := func(items []model.SolveStat) {
		for i := range items {
			items[i].RunID = runID
		}
	}
	stampEvents := func(items []model.RunEvent) {
		for i := range items {
			items[i].RunID = runID
		}
	}

	lengths := model.WriteQueueLengths{
		Frames:     uint16(b.queues.Frames.Len()),
		SolveStats: uint16(b.queues.SolveStats.Len()),
		Events:     uint16(b.queues.Events.Len()),
	}

	start := time.Now()
	writeQueue(b.deps.DB, b.queues.Frames, "frames", log, stampFrames)
	writeQueue(b.deps.DB, b.queues.SolveStats, "solve stats", log, stampSolveStats)
	writeQueue(b.deps.DB, b.queues.Events, "run events", log, stampEvents)
	b.lastDBWriteDuration = time.Since(start)

	if runID != 0 {
		perf := model.RunPerformance{
			Time:                time.Now(),
			RunID:               runID,
			WriteQueueLengths:   lengths,
			LastWriteDurationMs: float32(b.lastDBWriteDuration.Seconds() * 1000),
		}
		if err := b.deps.DB.Create(&perf).Error; err != nil {
			log(":DB:WRITER:", fmt.Sprintf("Error creating run performance: %v", err), "ERROR")
		}
	}
}

// startDBWriters starts the background goroutine that periodically drains
// queues into the DB.
func (b *Backend) startDBWriters() {
	go func() {
		for {
			select {
			case <-b.stopChan:
				return
			default:
			}

			if !b.dbReady {
				time.Sleep(1 * time.Second)
				continue
			}

			b.writeAll()

			time.Sleep(2 * time.Second)
		}
	}()
}
