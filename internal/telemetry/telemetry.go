// Package telemetry writes viewer performance points to InfluxDB, falling
// back to a gzipped line-protocol file when the server is unreachable.
package telemetry

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"
)

// ErrDisabled is returned by Connect when telemetry is switched off.
var ErrDisabled = errors.New("influx telemetry is disabled")

// retention of created buckets
const retentionSeconds = 60 * 60 * 24 * 90

// Config holds the InfluxDB connection settings.
type Config struct {
	Enabled bool
	URL     string
	Token   string
	Org     string
	Bucket  string
	// BackupPath receives line protocol while the server is unreachable.
	BackupPath string
}

// Writer sends points to one bucket.
type Writer struct {
	cfg Config
	log zerolog.Logger

	mu         sync.Mutex
	client     influxdb2.Client
	api        influxdb2_api.WriteAPI
	backup     *gzip.Writer
	backupFile *os.File
	valid      bool
	written    int64
}

// New creates an unconnected writer.
func New(cfg Config, log zerolog.Logger) *Writer {
	return &Writer{cfg: cfg, log: log.With().Str("component", "telemetry").Logger()}
}

// Connect pings the server. When it answers, the org and bucket are
// created if missing; otherwise points go to the backup file.
func (w *Writer) Connect(ctx context.Context) error {
	if !w.cfg.Enabled {
		return ErrDisabled
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	w.client = influxdb2.NewClientWithOptions(w.cfg.URL, w.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	running, err := w.client.Ping(ctx)
	if err != nil || !running {
		w.valid = false
		w.log.Info().Err(err).Str("backupPath", w.cfg.BackupPath).
			Msg("InfluxDB unreachable, writing to backup file")
		return w.openBackup()
	}

	if err := w.ensureBucket(ctx); err != nil {
		return err
	}
	w.api = w.client.WriteAPI(w.cfg.Org, w.cfg.Bucket)
	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			w.log.Error().Err(writeErr).Str("bucket", w.cfg.Bucket).Msg("Error sending data to InfluxDB")
		}
	}(w.api.Errors())
	w.valid = true
	w.log.Info().Str("url", w.cfg.URL).Str("bucket", w.cfg.Bucket).Msg("InfluxDB client initialized")
	return nil
}

func (w *Writer) openBackup() error {
	if w.backup != nil {
		return nil
	}
	if w.cfg.BackupPath == "" {
		return errors.New("influx unreachable and no backup path configured")
	}
	file, err := os.OpenFile(w.cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	w.backupFile = file
	w.backup = gzip.NewWriter(file)
	return nil
}

func (w *Writer) ensureBucket(ctx context.Context) error {
	orgs := w.client.OrganizationsAPI()
	org, err := orgs.FindOrganizationByName(ctx, w.cfg.Org)
	if err != nil {
		w.log.Info().Str("org", w.cfg.Org).Msg("Organization not found, creating")
		org, err = orgs.CreateOrganizationWithName(ctx, w.cfg.Org)
		if err != nil {
			return fmt.Errorf("creating organization %s: %w", w.cfg.Org, err)
		}
	}

	buckets := w.client.BucketsAPI()
	if _, err := buckets.FindBucketByName(ctx, w.cfg.Bucket); err == nil {
		return nil
	}
	w.log.Info().Str("bucket", w.cfg.Bucket).Msg("Bucket not found, creating")
	rule := domain.RetentionRuleTypeExpire
	_, err = buckets.CreateBucketWithName(ctx, org, w.cfg.Bucket, domain.RetentionRule{
		Type:         &rule,
		EverySeconds: retentionSeconds,
	})
	if err != nil {
		return fmt.Errorf("creating bucket %s: %w", w.cfg.Bucket, err)
	}
	return nil
}

// Valid reports whether points reach the server rather than the backup.
func (w *Writer) Valid() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.valid
}

// Written counts points accepted since Connect.
func (w *Writer) Written() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// WritePoint queues a point for the server, or appends it to the backup.
func (w *Writer) WritePoint(point *influxdb2_write.Point) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.valid:
		w.api.WritePoint(point)
	case w.backup != nil:
		line := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
		if _, err := w.backup.Write([]byte(line + "\n")); err != nil {
			return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
		}
	default:
		return errors.New("influx writer not connected")
	}
	w.written++
	return nil
}

// Close flushes pending points and releases the client and backup file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.api != nil {
		w.api.Flush()
	}
	if w.client != nil {
		w.client.Close()
	}
	var errs []error
	if w.backup != nil {
		errs = append(errs, w.backup.Close())
		errs = append(errs, w.backupFile.Close())
		w.backup, w.backupFile = nil, nil
	}
	w.valid = false
	return errors.Join(errs...)
}
