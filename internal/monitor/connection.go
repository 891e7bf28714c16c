// connection.go 实现到单个 Docker daemon 的连接与状态机。
// 连接失败按固定重试间隔恢复，证书配置错误只上报一次、不重试。
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"dockmon"
	"dockmon/internal/config"

	"github.com/blang/semver"
	"github.com/docker/docker/api/types"
	ctypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	systypes "github.com/docker/docker/api/types/system"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/tlsconfig"
)

// ConnState 为连接状态机的取值。
type ConnState uint8

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateError
)

// String 返回状态的字符串形式，与 entities/daemon 的常量一致。
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "disconnected"
	}
}

// apiClient 为引擎用到的 Docker SDK 子集，便于在测试中替换。
type apiClient interface {
	ServerVersion(ctx context.Context) (types.Version, error)
	Info(ctx context.Context) (systypes.Info, error)
	ContainerList(ctx context.Context, options ctypes.ListOptions) ([]ctypes.Summary, error)
	ContainerInspect(ctx context.Context, containerID string) (ctypes.InspectResponse, error)
	ContainerStats(ctx context.Context, containerID string, stream bool) (ctypes.StatsResponseReader, error)
	ContainerStart(ctx context.Context, containerID string, options ctypes.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options ctypes.StopOptions) error
	ContainerRestart(ctx context.Context, containerID string, options ctypes.StopOptions) error
	Events(ctx context.Context, options events.ListOptions) (<-chan events.Message, <-chan error)
	Close() error
}

var _ apiClient = (*client.Client)(nil)

// Connection 持有到一个 daemon 的传输通道，连接对象由引擎独占注入，
// 不使用任何全局客户端。
type Connection struct {
	cfg  *config.DaemonConfig
	dial func() (apiClient, error) // 测试中可替换

	mu          sync.Mutex
	api         apiClient
	state       ConnState
	lastFailure time.Time
	lastErr     error
	version     string
	apiVersion  string
}

// NewConnection 返回处于 DISCONNECTED 状态的连接。
func NewConnection(cfg *config.DaemonConfig) *Connection {
	c := &Connection{cfg: cfg, state: StateDisconnected}
	c.dial = func() (apiClient, error) { return newDockerClient(cfg) }
	return c
}

// newDockerClient 按配置 URL 构造 SDK 客户端。
// 客户端构造不会真正拨号，握手在版本探测时发生。
func newDockerClient(cfg *config.DaemonConfig) (apiClient, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}

	if cfg.URL == "" {
		opts = append(opts, client.FromEnv)
	} else {
		opts = append(opts, client.WithHost(hostURL(cfg.URL)))
	}

	if cfg.CertPath != "" {
		certFile, keyFile, caFile := cfg.CertFiles()
		tlsc, err := tlsconfig.Client(tlsconfig.Options{
			CertFile:           certFile,
			KeyFile:            keyFile,
			CAFile:             caFile,
			InsecureSkipVerify: caFile == "",
		})
		if err != nil {
			return nil, fmt.Errorf("load tls certificates from %s: %w", cfg.CertPath, err)
		}
		opts = append(opts, client.WithHTTPClient(&http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsc},
			Timeout:   cfg.CallTimeout,
		}))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("init docker client failed: %w", err)
	}
	return cli, nil
}

// hostURL 把配置里的 http/https 形式转换为 SDK 认识的 tcp 形式。
func hostURL(url string) string {
	if strings.HasPrefix(url, "http://") {
		return "tcp://" + strings.TrimPrefix(url, "http://")
	}
	if strings.HasPrefix(url, "https://") {
		return "tcp://" + strings.TrimPrefix(url, "https://")
	}
	return url
}

// State 返回当前连接状态。
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError 返回最近一次传输错误。
func (c *Connection) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Version 返回版本探测得到的引擎版本与 API 版本。
func (c *Connection) Version() (version, apiVersion string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version, c.apiVersion
}

// ShouldRetry 报告 ERROR 状态下是否已度过完整的重试间隔。
// DISCONNECTED 状态总是允许连接。
func (c *Connection) ShouldRetry(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateDisconnected:
		return true
	case StateError:
		return now.Sub(c.lastFailure) >= c.cfg.RetryInterval
	default:
		return false
	}
}

// Connect 执行握手与版本探测。成功进入 CONNECTED，失败进入 ERROR。
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.state = StateConnecting
	api := c.api
	c.mu.Unlock()

	if api == nil {
		var err error
		api, err = c.dial()
		if err != nil {
			c.Fail(err)
			return err
		}
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	version, err := api.ServerVersion(probeCtx)
	if err != nil {
		_ = api.Close()
		c.Fail(err)
		return err
	}

	if engineVersion, perr := semver.ParseTolerant(version.Version); perr == nil {
		if engineVersion.LT(dockmon.MinVersionEngine) {
			slog.Warn("docker engine older than supported minimum, memory metrics may be wrong",
				"daemon", c.cfg.Name, "version", version.Version)
		}
	}

	c.mu.Lock()
	c.api = api
	c.state = StateConnected
	c.lastErr = nil
	c.version = version.Version
	c.apiVersion = version.APIVersion
	c.mu.Unlock()

	slog.Info("connected to docker daemon", "daemon", c.cfg.Name, "version", version.Version, "apiVersion", version.APIVersion)
	return nil
}

// Fail 记录传输错误并把状态机置为 ERROR。
// CONNECTED 不会直接回到 CONNECTED，必须经过 CONNECTING 重新探测。
func (c *Connection) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateError
	c.lastFailure = time.Now()
	c.lastErr = err
	slog.Warn("docker daemon connection failed", "daemon", c.cfg.Name, "err", err, "retryIn", c.cfg.RetryInterval)
}

// Close 释放传输资源并回到 DISCONNECTED。
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api != nil {
		if err := c.api.Close(); err != nil {
			slog.Error("docker client close failed", "daemon", c.cfg.Name, "err", err)
		}
		c.api = nil
	}
	c.state = StateDisconnected
}

// newTimeoutContext 创建带单次调用超时的上下文。
func (c *Connection) newTimeoutContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.CallTimeout)
}

// ensureConnected 校验当前是否可以发起 daemon 调用。
func (c *Connection) ensureConnected() (apiClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.api == nil {
		return nil, errors.New("daemon not connected")
	}
	return c.api, nil
}

// ServerInfo 读取 daemon 概览信息。
func (c *Connection) ServerInfo(ctx context.Context) (systypes.Info, error) {
	api, err := c.ensureConnected()
	if err != nil {
		return systypes.Info{}, err
	}
	callCtx, cancel := c.newTimeoutContext(ctx)
	defer cancel()
	return api.Info(callCtx)
}

// ListContainers 读取全部容器（含已停止）。
func (c *Connection) ListContainers(ctx context.Context) ([]ctypes.Summary, error) {
	api, err := c.ensureConnected()
	if err != nil {
		return nil, err
	}
	callCtx, cancel := c.newTimeoutContext(ctx)
	defer cancel()
	return api.ContainerList(callCtx, ctypes.ListOptions{All: true})
}

// InspectContainer 读取单个容器详情。
func (c *Connection) InspectContainer(ctx context.Context, id string) (ctypes.InspectResponse, error) {
	api, err := c.ensureConnected()
	if err != nil {
		return ctypes.InspectResponse{}, err
	}
	callCtx, cancel := c.newTimeoutContext(ctx)
	defer cancel()
	return api.ContainerInspect(callCtx, id)
}

// ContainerStats 读取单个容器的一次性统计采样。
func (c *Connection) ContainerStats(ctx context.Context, id string) (*ctypes.StatsResponse, error) {
	api, err := c.ensureConnected()
	if err != nil {
		return nil, err
	}
	callCtx, cancel := c.newTimeoutContext(ctx)
	defer cancel()

	reader, err := api.ContainerStats(callCtx, id, false)
	if err != nil {
		return nil, err
	}
	defer reader.Body.Close()

	var resp ctypes.StatsResponse
	if err := json.NewDecoder(reader.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode stats for %s: %w", id, err)
	}
	return &resp, nil
}

// OperateContainer 执行容器启停操作，除 start/stop/restart 外一律拒绝。
func (c *Connection) OperateContainer(ctx context.Context, id, operation string) error {
	api, err := c.ensureConnected()
	if err != nil {
		return err
	}
	callCtx, cancel := c.newTimeoutContext(ctx)
	defer cancel()

	switch operation {
	case "start":
		return api.ContainerStart(callCtx, id, ctypes.StartOptions{})
	case "stop":
		return api.ContainerStop(callCtx, id, ctypes.StopOptions{})
	case "restart":
		return api.ContainerRestart(callCtx, id, ctypes.StopOptions{})
	default:
		return fmt.Errorf("unsupported operation: %s", operation)
	}
}

// Events 订阅容器事件流。调用方负责在连接失效后重新订阅。
func (c *Connection) Events(ctx context.Context) (<-chan events.Message, <-chan error, error) {
	api, err := c.ensureConnected()
	if err != nil {
		return nil, nil, err
	}
	msgs, errs := api.Events(ctx, events.ListOptions{})
	return msgs, errs, nil
}
