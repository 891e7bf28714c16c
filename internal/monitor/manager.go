// manager.go 实现引擎管理器：每个 daemon 一个独立引擎，
// 循环之间互不阻塞，跨 daemon 不共享可变状态。
// 配置变更通过整体拆除并重建对应引擎完成，不支持原地修改。
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"dockmon/internal/common"
	"dockmon/internal/config"
)

// engineHandle 持有一个运行中引擎及其生命周期控制。
type engineHandle struct {
	engine *Engine
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager 管理全部 daemon 引擎并对外提供订阅、快照与控制入口。
type Manager struct {
	pub *Publisher

	mu      sync.Mutex
	baseCtx context.Context
	engines map[string]*engineHandle
}

// NewManager 返回空管理器。
func NewManager() *Manager {
	return &Manager{
		pub:     NewPublisher(),
		engines: make(map[string]*engineHandle),
	}
}

// Start 为配置中的每个 daemon 启动一个引擎。
// daemon 名在配置加载时已查重，这里再拦截一次编程错误。
func (m *Manager) Start(ctx context.Context, cfg *config.Config) error {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()

	for i := range cfg.Daemons {
		if err := m.launch(&cfg.Daemons[i]); err != nil {
			return err
		}
	}
	return nil
}

// launch 启动单个引擎，daemon 名重复时拒绝。
func (m *Manager) launch(dc *config.DaemonConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.engines[dc.Name]; exists {
		return fmt.Errorf("daemon %q is already running", dc.Name)
	}
	if m.baseCtx == nil {
		return fmt.Errorf("manager is not started")
	}

	engineCtx, cancel := context.WithCancel(m.baseCtx)
	handle := &engineHandle{
		engine: NewEngine(dc, m.pub),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.engines[dc.Name] = handle

	go func() {
		defer close(handle.done)
		handle.engine.Run(engineCtx)
	}()
	slog.Info("monitor engine started", "daemon", dc.Name, "scanInterval", dc.ScanInterval)
	return nil
}

// stop 拆除单个引擎并等待其循环退出。
func (m *Manager) stop(name string) bool {
	m.mu.Lock()
	handle, ok := m.engines[name]
	if ok {
		delete(m.engines, name)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	handle.cancel()
	<-handle.done
	slog.Info("monitor engine stopped", "daemon", name)
	return true
}

// Reconfigure 用新配置整体重建指定 daemon 的引擎。
// 新配置必须已通过校验与归一化。
func (m *Manager) Reconfigure(name string, dc *config.DaemonConfig) error {
	if dc.Name != name {
		return fmt.Errorf("daemon name mismatch: %q vs %q", name, dc.Name)
	}
	if !m.stop(name) {
		return fmt.Errorf("unknown daemon %q", name)
	}
	return m.launch(dc)
}

// Shutdown 拆除全部引擎并等待它们退出。
func (m *Manager) Shutdown() {
	m.mu.Lock()
	names := make([]string, 0, len(m.engines))
	for name := range m.engines {
		names = append(names, name)
	}
	m.mu.Unlock()
	for _, name := range names {
		m.stop(name)
	}
}

// Subscribe 订阅全部 daemon 的通知批次。
func (m *Manager) Subscribe() (<-chan common.NotificationBatch, func()) {
	return m.pub.Subscribe()
}

// Snapshot 返回全部 daemon 与容器的末次快照。
func (m *Manager) Snapshot() common.Snapshot {
	m.mu.Lock()
	handles := make([]*engineHandle, 0, len(m.engines))
	for _, handle := range m.engines {
		handles = append(handles, handle)
	}
	m.mu.Unlock()

	snap := common.Snapshot{Daemons: make([]common.DaemonSnapshot, 0, len(handles))}
	for _, handle := range handles {
		snap.Daemons = append(snap.Daemons, handle.engine.Snapshot())
	}
	return snap
}

// PollNow 请求指定 daemon 的一次计划外轮询，名字为空时要求只有一个 daemon。
func (m *Manager) PollNow(name string) error {
	engine, outcome := m.resolveEngine(name)
	if engine == nil {
		return fmt.Errorf("%s", outcome.Message)
	}
	engine.PollNow()
	return nil
}

// resolveEngine 把可省略的 daemon 名解析为具体引擎。
// 名字为空且配置了多个 daemon 时无法确定目标，返回 unknown-daemon。
func (m *Manager) resolveEngine(name string) (*Engine, common.ControlOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name == "" {
		if len(m.engines) == 1 {
			for _, handle := range m.engines {
				return handle.engine, common.ControlOutcome{}
			}
		}
		return nil, common.ControlOutcome{
			Result:  ResultUnknownDaemon,
			Message: fmt.Sprintf("daemon name required when %d daemons are configured", len(m.engines)),
		}
	}
	handle, ok := m.engines[name]
	if !ok {
		return nil, common.ControlOutcome{Result: ResultUnknownDaemon, Message: "unknown daemon " + name}
	}
	return handle.engine, common.ControlOutcome{}
}
