package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/trailerlab/trailerd/internal/run"
	"github.com/trailerlab/trailerd/pkg/core"
)

// DefaultBucketNames are the InfluxDB buckets the recorder writes to.
var DefaultBucketNames = []string{
	"run_data",
	"solver_performance",
	"recorder_performance",
}

// Manager handles InfluxDB connections and writes.
type Manager struct {
	Client       influxdb2.Client
	Writers      map[string]influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	BucketNames  []string
	Logger       zerolog.Logger
	BackupPath   string
}

// NewManager creates a new InfluxDB manager.
func NewManager(log zerolog.Logger, backupPath string) *Manager {
	return &Manager{
		Writers:     make(map[string]influxdb2_api.WriteAPI),
		IsValid:     false,
		BucketNames: DefaultBucketNames,
		Logger:      log,
		BackupPath:  backupPath,
	}
}

// Connect establishes a connection to InfluxDB. When the server is not
// reachable, points are appended to a gzipped line-protocol backup file
// instead.
func (m *Manager) Connect() error {
	if !viper.GetBool("influx.enabled") {
		return errors.New("influx.enabled is false")
	}

	m.Client = influxdb2.NewClientWithOptions(
		fmt.Sprintf(
			"%s://%s:%s",
			viper.GetString("influx.protocol"),
			viper.GetString("influx.host"),
			viper.GetString("influx.port"),
		),
		viper.GetString("influx.token"),
		influxdb2.DefaultOptions().
			SetBatchSize(2500).
			SetFlushInterval(1000),
	)

	running, err := m.Client.Ping(context.Background())
	if err != nil || !running {
		m.IsValid = false
		if m.BackupWriter == nil {
			m.Logger.Info().Str("backupPath", m.BackupPath).
				Msg("Failed to initialize InfluxDB client, writing to backup file")

			file, err := os.OpenFile(m.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return fmt.Errorf("error creating backup file: %v", err)
			}
			m.BackupWriter = gzip.NewWriter(file)
		}
	} else {
		m.IsValid = true
	}

	if m.IsValid {
		if err := m.setupOrganizationAndBuckets(); err != nil {
			return err
		}
		m.CreateWriters()
		m.Logger.Info().Msg("InfluxDB client initialized")
	} else {
		m.Logger.Warn().Msg("InfluxDB client failed to initialize, using backup writer")
	}

	return nil
}

func (m *Manager) setupOrganizationAndBuckets() error {
	ctx := context.Background()
	orgName := viper.GetString("influx.org")

	_, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Info().Str("org", orgName).Msg("Organization not found, creating")
		_, err = m.Client.OrganizationsAPI().CreateOrganizationWithName(ctx, orgName)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", orgName).Msg("Error creating organization")
			return err
		}
	}

	influxOrg, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Error().Err(err).Str("org", orgName).Msg("Error getting organization")
		return err
	}

	// buckets keep 90 days of data
	for _, bucket := range m.BucketNames {
		_, err = m.Client.BucketsAPI().FindBucketByName(ctx, bucket)
		if err != nil {
			m.Logger.Info().Str("bucket", bucket).Msg("Bucket not found, creating")

			rule := domain.RetentionRuleTypeExpire
			_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, influxOrg, bucket, domain.RetentionRule{
				Type:         &rule,
				EverySeconds: 60 * 60 * 24 * 90,
			})
			if err != nil {
				m.Logger.Error().Err(err).Str("bucket", bucket).Msg("Error creating bucket")
				return err
			}
		}
	}

	return nil
}

// CreateWriters creates write APIs for all configured buckets.
func (m *Manager) CreateWriters() {
	orgName := viper.GetString("influx.org")
	for _, bucket := range m.BucketNames {
		m.Logger.Trace().Str("bucket", bucket).Msg("Creating InfluxDB writer")
		m.Writers[bucket] = m.Client.WriteAPI(orgName, bucket)

		errorsCh := m.Writers[bucket].Errors()
		go func(bucketName string, errorsCh <-chan error) {
			for writeErr := range errorsCh {
				m.Logger.Error().Err(writeErr).Str("bucket", bucketName).
					Msg("Error sending data to InfluxDB")
			}
		}(bucket, errorsCh)
	}

	m.Logger.Debug().Msg("InfluxDB writers initialized")
}

// WritePoint writes a point to InfluxDB or the backup file.
func (m *Manager) WritePoint(ctx context.Context, bucket string, point *influxdb2_write.Point) error {
	if m.IsValid {
		if _, ok := m.Writers[bucket]; !ok {
			return fmt.Errorf("influxDB bucket '%s' not registered", bucket)
		}
		m.Writers[bucket].WritePoint(point)
		return nil
	}

	if m.BackupWriter == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}
	lineProtocol := influxdb2_write.PointToLineProtocol(point, time.Duration(1*time.Nanosecond))
	if _, err := m.BackupWriter.Write([]byte(lineProtocol + "\n")); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %s", err)
	}
	return nil
}

// FramePoint builds a run_data point for one simulation frame.
func FramePoint(runName string, f core.Frame) *influxdb2_write.Point {
	return influxdb2.NewPointWithMeasurement("frame").
		AddTag("run", runName).
		AddField("frame", int64(f.CaptureFrame)).
		AddField("sim_time", f.SimTime).
		AddField("x", f.State.X).
		AddField("y", f.State.Y).
		AddField("heading", f.State.Heading).
		AddField("trailer_heading", f.State.TrailerHeading).
		AddField("steering", f.Steering)
}

// SolveReportPoint builds a solver_performance point for one solve.
func SolveReportPoint(runName string, r core.SolveReport) *influxdb2_write.Point {
	return influxdb2.NewPointWithMeasurement("solve").
		AddTag("run", runName).
		AddField("frame", int64(r.CaptureFrame)).
		AddField("cost", r.Cost).
		AddField("iterations", int64(r.Iterations)).
		AddField("duration_us", r.Duration.Microseconds()).
		AddField("converged", r.Converged)
}

// RecorderPerformancePoint builds a recorder_performance point from one
// status monitor sample.
func RecorderPerformancePoint(runName string, running bool, lastWriteMs float64) *influxdb2_write.Point {
	return influxdb2.NewPointWithMeasurement("recorder").
		AddTag("run", runName).
		AddField("running", running).
		AddField("db_write_ms", lastWriteMs)
}

// Sink feeds simulation frames and solver reports into InfluxDB. It is
// registered on the runner; writes go through the batching write API so the
// loop is never blocked.
type Sink struct {
	manager *Manager
	runCtx  *run.Context
}

// NewSink creates a sink writing through the given manager.
func NewSink(manager *Manager, runCtx *run.Context) *Sink {
	return &Sink{manager: manager, runCtx: runCtx}
}

// OnFrame writes the frame to the run_data bucket.
func (s *Sink) OnFrame(f core.Frame) {
	name := s.runCtx.GetRun().Name
	_ = s.manager.WritePoint(context.Background(), "run_data", FramePoint(name, f))
}

// OnSolveReport writes the report to the solver_performance bucket.
func (s *Sink) OnSolveReport(r core.SolveReport) {
	name := s.runCtx.GetRun().Name
	_ = s.manager.WritePoint(context.Background(), "solver_performance", SolveReportPoint(name, r))
}
