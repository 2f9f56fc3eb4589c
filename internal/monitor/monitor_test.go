package monitor

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenecast/scenecast/internal/transport"
	"github.com/scenecast/scenecast/internal/viewer"
)

type pointSink struct {
	mu     sync.Mutex
	points []*influxdb2_write.Point
}

func (s *pointSink) WritePoint(p *influxdb2_write.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = append(s.points, p)
	return nil
}

func (s *pointSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.points)
}

func testStatus() viewer.Status {
	return viewer.Status{Nodes: 12, Animator: "playing", Messages: 40, Failed: 1, Renders: 7}
}

func TestNewService(t *testing.T) {
	svc := NewService(Dependencies{Logger: zerolog.Nop(), Status: testStatus})

	require.NotNil(t, svc)
	assert.False(t, svc.IsRunning())
	assert.Equal(t, time.Second, svc.deps.Interval)
}

func TestService_StartRequiresStatus(t *testing.T) {
	svc := NewService(Dependencies{Logger: zerolog.Nop()})
	assert.Error(t, svc.Start())
	assert.False(t, svc.IsRunning())
}

func TestService_StopWhenNotRunning(t *testing.T) {
	svc := NewService(Dependencies{Logger: zerolog.Nop(), Status: testStatus})
	svc.Stop()
	assert.False(t, svc.IsRunning())
}

func TestService_Sample(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc := NewService(Dependencies{
		Logger:    zerolog.Nop(),
		Status:    testStatus,
		Transport: func() transport.Stats { return transport.Stats{Received: 40, Connected: true} },
	})

	snap := svc.Sample(now)
	assert.Equal(t, now, snap.Time)
	assert.Equal(t, 12, snap.Viewer.Nodes)
	assert.Equal(t, int64(40), snap.Transport.Received)
	assert.True(t, snap.Transport.Connected)
}

func TestPoint(t *testing.T) {
	now := time.Unix(1700000000, 0)
	p := Point(Snapshot{
		Time:      now,
		Viewer:    testStatus(),
		Transport: transport.Stats{Received: 40, Sent: 2},
	})

	assert.Equal(t, "viewer", p.Name())
	assert.Equal(t, now, p.Time())
	require.Len(t, p.TagList(), 1)
	assert.Equal(t, "animator", p.TagList()[0].Key)
	assert.Equal(t, "playing", p.TagList()[0].Value)

	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, int64(12), fields["nodes"])
	assert.Equal(t, int64(7), fields["renders"])
	assert.Equal(t, int64(2), fields["sent"])
}

func TestService_Run(t *testing.T) {
	statusFile := filepath.Join(t.TempDir(), "status.json")
	sink := &pointSink{}
	var logs bytes.Buffer
	var logMu sync.Mutex

	svc := NewService(Dependencies{
		Logger:     zerolog.New(zerolog.SyncWriter(lockedWriter{&logMu, &logs})).Level(zerolog.DebugLevel),
		Status:     testStatus,
		Points:     sink,
		StatusFile: statusFile,
		Interval:   10 * time.Millisecond,
	})
	require.NoError(t, svc.Start())
	assert.True(t, svc.IsRunning())
	require.NoError(t, svc.Start(), "second start is a no-op")

	require.Eventually(t, func() bool { return sink.len() >= 2 }, 2*time.Second, 5*time.Millisecond)
	svc.Stop()
	assert.False(t, svc.IsRunning())

	data, err := os.ReadFile(statusFile)
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, 12, snap.Viewer.Nodes)
	assert.Equal(t, "playing", snap.Viewer.Animator)
	assert.Equal(t, 12, svc.Last().Viewer.Nodes)

	logMu.Lock()
	assert.Contains(t, logs.String(), `"message":"Status"`)
	logMu.Unlock()

	n := sink.len()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, sink.len(), "no samples after stop")
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (l lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
