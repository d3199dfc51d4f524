// Package telemetry optionally exports the scheduler's debug counters to
// InfluxDB as line-protocol points, repurposing the teacher's benchmark
// database writer (internal/database/influxdb.go) as a periodic scheduler
// telemetry sink instead of a one-shot benchmark-results upload.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"ias-scheduler/internal/ias"
	"ias-scheduler/internal/logging"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

// Config is the connection configuration for the InfluxDB sink, mirroring
// the teacher's config.DatabaseConfig shape.
type Config struct {
	Host   string
	Token  string
	Org    string
	Bucket string
}

// BandwidthCounters mirrors internal/metrics.BandwidthCounters so this
// package does not need to import internal/bandwidth directly.
type BandwidthCounters interface {
	Counts() (bwCur float64, bwPunish int64, bwRelax int64)
}

// Exporter periodically writes the scheduler's state to InfluxDB.
type Exporter struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	logger   *logrus.Logger

	sched *ias.Scheduler
	bw    BandwidthCounters
}

// NewExporter connects to InfluxDB and verifies the connection with a
// health check, exactly as the teacher's NewInfluxDBClient does before
// returning a usable client.
func NewExporter(cfg Config, sched *ias.Scheduler, bw BandwidthCounters) (*Exporter, error) {
	logger := logging.GetLogger()
	client := influxdb2.NewClient(cfg.Host, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		logger.WithField("host", cfg.Host).WithError(err).Error("Failed to connect to InfluxDB")
		return nil, fmt.Errorf("telemetry: connect to influxdb: %w", err)
	}
	if health.Status != "pass" {
		logger.WithFields(logrus.Fields{"host": cfg.Host, "status": health.Status}).Error("InfluxDB health check failed")
		return nil, fmt.Errorf("telemetry: influxdb health check failed: %s", health.Status)
	}

	logger.WithFields(logrus.Fields{"host": cfg.Host, "bucket": cfg.Bucket, "org": cfg.Org}).Info("Connected to InfluxDB telemetry sink")

	return &Exporter{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		logger:   logger,
		sched:    sched,
		bw:       bw,
	}, nil
}

// Export writes one point per tracked process plus one aggregate bandwidth
// point, tagged with the sample time. Blocking: callers should invoke this
// off the poller goroutine (e.g. on its own slow-cadence ticker), never from
// inside internal/ias.Scheduler.Poll.
func (e *Exporter) Export(ctx context.Context, nowUs uint64) error {
	ts := time.UnixMicro(int64(nowUs))

	var points []*write.Point
	if e.bw != nil {
		bwCur, bwPunish, bwRelax := e.bw.Counts()
		points = append(points, influxdb2.NewPoint("ias_bandwidth",
			map[string]string{},
			map[string]interface{}{
				"bw_cur":    bwCur,
				"bw_punish": bwPunish,
				"bw_relax":  bwRelax,
			}, ts))
	}

	for _, p := range e.sched.AllProcs() {
		if p == nil {
			continue
		}
		points = append(points, influxdb2.NewPoint("ias_process",
			map[string]string{"pid": fmt.Sprintf("%d", p.PID)},
			map[string]interface{}{
				"threads_active": p.ThreadsActive,
				"threads_limit":  p.ThreadsLimit,
				"threads_max":    p.ThreadsMax,
				"congested":      p.IsCongested,
				"bw_limited":     p.IsBWLimited,
			}, ts))
	}

	if len(points) == 0 {
		return nil
	}
	if err := e.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("telemetry: write points: %w", err)
	}
	return nil
}

// Close releases the underlying InfluxDB client.
func (e *Exporter) Close() {
	e.client.Close()
}
