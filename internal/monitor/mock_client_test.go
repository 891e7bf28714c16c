//go:build testing
// +build testing

package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"dockmon/internal/config"

	"github.com/docker/docker/api/types"
	ctypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	systypes "github.com/docker/docker/api/types/system"
)

// fakeClient implements apiClient with overridable behavior per call.
type fakeClient struct {
	versionFn func() (types.Version, error)
	infoFn    func() (systypes.Info, error)
	listFn    func() ([]ctypes.Summary, error)
	inspectFn func(id string) (ctypes.InspectResponse, error)
	statsFn   func(id string) (ctypes.StatsResponse, error)

	operations []string
	operateErr error
	closed     bool
}

func (f *fakeClient) ServerVersion(context.Context) (types.Version, error) {
	if f.versionFn != nil {
		return f.versionFn()
	}
	return types.Version{Version: "27.0.3", APIVersion: "1.46"}, nil
}

func (f *fakeClient) Info(context.Context) (systypes.Info, error) {
	if f.infoFn != nil {
		return f.infoFn()
	}
	return systypes.Info{NCPU: 4, MemTotal: 8 << 30}, nil
}

func (f *fakeClient) ContainerList(context.Context, ctypes.ListOptions) ([]ctypes.Summary, error) {
	if f.listFn != nil {
		return f.listFn()
	}
	return nil, nil
}

func (f *fakeClient) ContainerInspect(_ context.Context, id string) (ctypes.InspectResponse, error) {
	if f.inspectFn != nil {
		return f.inspectFn(id)
	}
	return ctypes.InspectResponse{}, nil
}

func (f *fakeClient) ContainerStats(_ context.Context, id string, _ bool) (ctypes.StatsResponseReader, error) {
	if f.statsFn == nil {
		return ctypes.StatsResponseReader{}, fmt.Errorf("no stats for %s", id)
	}
	resp, err := f.statsFn(id)
	if err != nil {
		return ctypes.StatsResponseReader{}, err
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return ctypes.StatsResponseReader{}, err
	}
	return ctypes.StatsResponseReader{Body: io.NopCloser(bytes.NewReader(payload))}, nil
}

func (f *fakeClient) ContainerStart(_ context.Context, id string, _ ctypes.StartOptions) error {
	f.operations = append(f.operations, "start "+id)
	return f.operateErr
}

func (f *fakeClient) ContainerStop(_ context.Context, id string, _ ctypes.StopOptions) error {
	f.operations = append(f.operations, "stop "+id)
	return f.operateErr
}

func (f *fakeClient) ContainerRestart(_ context.Context, id string, _ ctypes.StopOptions) error {
	f.operations = append(f.operations, "restart "+id)
	return f.operateErr
}

func (f *fakeClient) Events(context.Context, events.ListOptions) (<-chan events.Message, <-chan error) {
	// nil channels block forever, tests drive cycles directly
	return nil, nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

// testDaemonConfig returns a normalized config for a local daemon.
func testDaemonConfig(name string) *config.DaemonConfig {
	dc := &config.DaemonConfig{Name: name}
	dc.Normalize()
	return dc
}

// testConnection returns a connection dialing the fake client.
func testConnection(cfg *config.DaemonConfig, fc *fakeClient) *Connection {
	c := NewConnection(cfg)
	c.dial = func() (apiClient, error) { return fc, nil }
	return c
}

// runningInspect builds an inspect response for a running container.
func runningInspect(id, image string, startedAt time.Time) ctypes.InspectResponse {
	return ctypes.InspectResponse{
		ContainerJSONBase: &ctypes.ContainerJSONBase{
			ID:      id,
			Created: startedAt.Add(-time.Minute).Format(time.RFC3339Nano),
			State: &ctypes.State{
				Status:    "running",
				StartedAt: startedAt.Format(time.RFC3339Nano),
			},
			HostConfig: &ctypes.HostConfig{},
		},
		Config: &ctypes.Config{Image: image},
	}
}

// statsAt builds a stats response with the given counters.
func statsAt(read time.Time, cpuTotal, cpuSystem, memUsage, rx, tx uint64) ctypes.StatsResponse {
	resp := ctypes.StatsResponse{Read: read}
	resp.CPUStats.CPUUsage.TotalUsage = cpuTotal
	resp.CPUStats.SystemUsage = cpuSystem
	resp.CPUStats.OnlineCPUs = 4
	resp.MemoryStats.Usage = memUsage
	resp.MemoryStats.Limit = 1 << 30
	resp.Networks = map[string]ctypes.NetworkStats{
		"eth0": {RxBytes: rx, TxBytes: tx},
	}
	return resp
}
