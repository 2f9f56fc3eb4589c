// Package monitor periodically samples viewer and transport status and
// publishes it to a status file, InfluxDB and OTel gauges.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/scenecast/scenecast/internal/transport"
	"github.com/scenecast/scenecast/internal/viewer"
)

const instrumentationName = "github.com/scenecast/scenecast/internal/monitor"

// PointWriter receives one point per sample. *telemetry.Writer implements it.
type PointWriter interface {
	WritePoint(*influxdb2_write.Point) error
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Logger zerolog.Logger
	// Status is required; the others are optional.
	Status     func() viewer.Status
	Transport  func() transport.Stats
	Points     PointWriter
	StatusFile string
	// Interval between samples. Zero means one second.
	Interval time.Duration
}

// Snapshot is one status sample.
type Snapshot struct {
	Time      time.Time       `json:"time"`
	Viewer    viewer.Status   `json:"viewer"`
	Transport transport.Stats `json:"transport"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
	last      Snapshot
	gauges    metric.Registration
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Last returns the most recent sample.
func (s *Service) Last() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Sample takes a snapshot now.
func (s *Service) Sample(now time.Time) Snapshot {
	snap := Snapshot{Time: now, Viewer: s.deps.Status()}
	if s.deps.Transport != nil {
		snap.Transport = s.deps.Transport()
	}
	return snap
}

// Point renders a snapshot as an InfluxDB point.
func Point(snap Snapshot) *influxdb2_write.Point {
	v, tr := snap.Viewer, snap.Transport
	return influxdb2_write.NewPoint("viewer",
		map[string]string{"animator": v.Animator},
		map[string]any{
			"nodes":      v.Nodes,
			"messages":   v.Messages,
			"failed":     v.Failed,
			"renders":    v.Renders,
			"time":       v.Time,
			"duration":   v.Duration,
			"received":   tr.Received,
			"sent":       tr.Sent,
			"dropped":    tr.Dropped,
			"reconnects": tr.Reconnects,
			"connected":  tr.Connected,
		},
		snap.Time)
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if s.deps.Status == nil {
		s.mu.Unlock()
		return fmt.Errorf("monitor: no status source")
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	if err := s.registerGauges(); err != nil {
		s.deps.Logger.Warn().Err(err).Msg("Failed to register status gauges")
	}

	go s.run()
	return nil
}

func (s *Service) run() {
	defer func() {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		close(s.done)
	}()

	s.deps.Logger.Debug().Dur("interval", s.deps.Interval).Msg("Starting status monitor")
	ticker := time.NewTicker(s.deps.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopChan:
			return
		case now := <-ticker.C:
			s.record(s.Sample(now))
		}
	}
}

// record publishes one sample to every configured sink.
func (s *Service) record(snap Snapshot) {
	s.mu.Lock()
	s.last = snap
	s.mu.Unlock()

	s.deps.Logger.Debug().
		Int("nodes", snap.Viewer.Nodes).
		Str("animator", snap.Viewer.Animator).
		Int64("messages", snap.Viewer.Messages).
		Int64("renders", snap.Viewer.Renders).
		Bool("connected", snap.Transport.Connected).
		Msg("Status")

	if s.deps.StatusFile != "" {
		if err := writeStatusFile(s.deps.StatusFile, snap); err != nil {
			s.deps.Logger.Error().Err(err).Msg("Error writing status file")
		}
	}
	if s.deps.Points != nil {
		if err := s.deps.Points.WritePoint(Point(snap)); err != nil {
			s.deps.Logger.Error().Err(err).Msg("Error writing status point")
		}
	}
}

func writeStatusFile(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// registerGauges exposes the latest sample as observable gauges.
func (s *Service) registerGauges() error {
	m := otel.Meter(instrumentationName)
	nodes, err := m.Int64ObservableGauge("viewer.scene.nodes",
		metric.WithDescription("Nodes in the scene tree"))
	if err != nil {
		return err
	}
	renders, err := m.Int64ObservableGauge("viewer.frames.rendered",
		metric.WithDescription("Frames rendered since start"))
	if err != nil {
		return err
	}
	reg, err := m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		last := s.Last()
		o.ObserveInt64(nodes, int64(last.Viewer.Nodes))
		o.ObserveInt64(renders, last.Viewer.Renders)
		return nil
	}, nodes, renders)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.gauges = reg
	s.mu.Unlock()
	return nil
}

// Stop stops the status monitor and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	reg := s.gauges
	s.gauges = nil
	s.mu.Unlock()

	<-done
	if reg != nil {
		_ = reg.Unregister()
	}
}
