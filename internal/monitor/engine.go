// engine.go 实现单个 daemon 的轮询引擎。
// 每个引擎独立驱动自己的顺序轮询循环：一个周期完成对账与
// 通知交付后才开始下一个周期，daemon 范围内的状态无需加锁。
package monitor

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"dockmon/internal/common"
	"dockmon/internal/config"
	centity "dockmon/internal/entities/container"
	"dockmon/internal/entities/daemon"
	"dockmon/internal/metrics"

	ctypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	systypes "github.com/docker/docker/api/types/system"
)

// Engine 持有一个 daemon 的连接、注册表与轮询循环。
type Engine struct {
	cfg  *config.DaemonConfig
	conn *Connection
	reg  *Registry
	pub  *Publisher

	pollNow chan struct{}
	clock   func() time.Time // 测试中可替换

	// mu 只保护给外部读取的快照缓存，轮询循环内部状态不加锁
	mu      sync.Mutex
	state   daemon.State
	records []centity.Record
}

// NewEngine 构造一个尚未运行的引擎。
func NewEngine(cfg *config.DaemonConfig, pub *Publisher) *Engine {
	return &Engine{
		cfg:     cfg,
		conn:    NewConnection(cfg),
		reg:     NewRegistry(cfg),
		pub:     pub,
		pollNow: make(chan struct{}, 1),
		clock:   time.Now,
		state:   daemon.State{Name: cfg.Name, Status: daemon.StatusDisconnected},
	}
}

// Name 返回 daemon 配置名。
func (e *Engine) Name() string {
	return e.cfg.Name
}

// Run 驱动轮询循环直到 ctx 取消，退出前释放连接。
// 事件订阅只用于触发计划外轮询，状态变化仍然全部经过轮询周期。
func (e *Engine) Run(ctx context.Context) {
	go e.watchEvents(ctx)

	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()
	defer e.conn.Close()

	e.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.cycle(ctx)
		case <-e.pollNow:
			e.cycle(ctx)
		}
	}
}

// PollNow 请求一次计划外轮询，已有待处理请求时合并。
func (e *Engine) PollNow() {
	select {
	case e.pollNow <- struct{}{}:
	default:
	}
}

// Snapshot 返回 daemon 与其全部容器的末次快照。
func (e *Engine) Snapshot() common.DaemonSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	records := make([]centity.Record, len(e.records))
	copy(records, e.records)
	return common.DaemonSnapshot{Daemon: e.state, Containers: records}
}

// ResolveContainer 按配置名查找容器的末次快照，供控制面解析目标。
func (e *Engine) ResolveContainer(name string) (centity.Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rec := range e.records {
		if rec.Name == name {
			return rec, true
		}
	}
	return centity.Record{}, false
}

// cycle 执行一个完整的轮询周期。传输错误使连接进入 ERROR，
// 本周期不发布任何部分状态；单个容器的采集失败只跳过该容器。
func (e *Engine) cycle(ctx context.Context) {
	now := e.clock()

	if e.conn.State() != StateConnected {
		if !e.conn.ShouldRetry(now) {
			return
		}
		if err := e.conn.Connect(ctx); err != nil {
			e.handleOutage()
			return
		}
	}

	info, err := e.conn.ServerInfo(ctx)
	if err != nil {
		e.conn.Fail(err)
		e.handleOutage()
		return
	}
	listing, err := e.conn.ListContainers(ctx)
	if err != nil {
		e.conn.Fail(err)
		e.handleOutage()
		return
	}

	var notifs []common.Notification
	wantLifecycle := e.cfg.Conditions.HasCategory(config.CategoryContainerLifecycle)
	wantMetrics := e.cfg.Conditions.HasCategory(config.CategoryContainerMetric)

	result := e.reg.Reconcile(liveContainers(listing))
	for i := range result.removed {
		notifs = append(notifs, common.Notification{
			Kind:      common.KindContainerRemoved,
			Container: &result.removed[i],
		})
	}

	added := make(map[*containerState]struct{}, len(result.added))
	for _, cs := range result.added {
		added[cs] = struct{}{}
	}
	recovered := make(map[*containerState]struct{}, len(result.recovered))
	for _, cs := range result.recovered {
		recovered[cs] = struct{}{}
	}

	for _, cs := range result.active {
		lifecycleChanged, metricsChanged := e.refreshContainer(ctx, cs, now, wantMetrics)
		if _, ok := recovered[cs]; ok {
			// stale 清除本身就是一次生命周期变化
			lifecycleChanged = true
		}

		if _, isNew := added[cs]; isNew {
			rec := cs.snapshot(e.cfg.Precision, e.cfg.Conditions)
			notifs = append(notifs, common.Notification{Kind: common.KindContainerAdded, Container: &rec})
			continue
		}
		if lifecycleChanged && wantLifecycle {
			rec := cs.snapshot(e.cfg.Precision, e.cfg.Conditions)
			notifs = append(notifs, common.Notification{Kind: common.KindContainerLifecycle, Container: &rec})
		}
		if metricsChanged && wantMetrics {
			rec := cs.snapshot(e.cfg.Precision, e.cfg.Conditions)
			notifs = append(notifs, common.Notification{Kind: common.KindContainerMetrics, Container: &rec})
		}
	}

	state := e.buildState(info, result.active, now)
	if daemonChanged(e.lastState(), state) && e.cfg.Conditions.HasCategory(config.CategoryDaemonInfo) {
		stateCopy := state
		notifs = append(notifs, common.Notification{Kind: common.KindDaemonInfo, Daemon: &stateCopy})
	}

	e.mu.Lock()
	e.state = state
	e.records = e.reg.Snapshots()
	e.mu.Unlock()

	e.pub.Publish(e.cfg.Name, notifs)
}

// refreshContainer 更新单个容器的详情与统计采样。
// 采集失败只记录日志并保留旧值，下个周期重试。
func (e *Engine) refreshContainer(ctx context.Context, cs *containerState, now time.Time, wantMetrics bool) (lifecycleChanged, metricsChanged bool) {
	inspect, err := e.conn.InspectContainer(ctx, cs.id)
	if err != nil {
		slog.Debug("container inspect failed, keeping previous state", "daemon", e.cfg.Name, "container", cs.name, "err", err)
		return false, false
	}
	lifecycleChanged = cs.updateInfo(newInspectInfo(inspect), now)

	if wantMetrics && (cs.state == centity.StateRunning || cs.state == centity.StatePaused) {
		stats, err := e.conn.ContainerStats(ctx, cs.id)
		if err != nil {
			slog.Debug("container stats failed, keeping previous metrics", "daemon", e.cfg.Name, "container", cs.name, "err", err)
			return lifecycleChanged, false
		}
		metricsChanged = cs.updateStats(newRawSample(stats), e.cfg.MemoryChange, e.cfg.Conditions)
	}
	return lifecycleChanged, metricsChanged
}

// handleOutage 在 daemon 不可达时把全部记录标记为 stale 并通知宿主，
// 末次数值保留，重连成功后由正常周期恢复。
// 连续失败的重试若状态与错误都没变则不重复发布。
func (e *Engine) handleOutage() {
	var notifs []common.Notification
	for _, cs := range e.reg.MarkAllStale() {
		rec := cs.snapshot(e.cfg.Precision, e.cfg.Conditions)
		notifs = append(notifs, common.Notification{Kind: common.KindContainerLifecycle, Container: &rec})
	}

	prev := e.lastState()
	state := prev
	state.Status = e.conn.State().String()
	state.LastErr = ""
	if err := e.conn.LastError(); err != nil {
		state.LastErr = err.Error()
	}
	if state.Status != prev.Status || state.LastErr != prev.LastErr {
		stateCopy := state
		notifs = append(notifs, common.Notification{Kind: common.KindDaemonStatus, Daemon: &stateCopy})
	}

	e.mu.Lock()
	e.state = state
	e.records = e.reg.Snapshots()
	e.mu.Unlock()

	e.pub.Publish(e.cfg.Name, notifs)
}

// buildState 由 daemon 概览与活动容器生成快照，聚合指标在这里舍入。
func (e *Engine) buildState(info systypes.Info, active []*containerState, now time.Time) daemon.State {
	version, apiVersion := e.conn.Version()
	state := daemon.State{
		Name:     e.cfg.Name,
		Status:   daemon.StatusConnected,
		LastPoll: now.Unix(),
		Info: daemon.Info{
			ServerVersion:     version,
			APIVersion:        apiVersion,
			OperatingSystem:   info.OperatingSystem,
			OSType:            info.OSType,
			KernelVersion:     info.KernelVersion,
			Architecture:      info.Architecture,
			Containers:        info.Containers,
			ContainersRunning: info.ContainersRunning,
			ContainersPaused:  info.ContainersPaused,
			ContainersStopped: info.ContainersStopped,
			Images:            info.Images,
			CPUs:              info.NCPU,
			MemTotal:          uint64(info.MemTotal),
		},
	}

	var cpu, memMB float64
	for _, cs := range active {
		if cs.state != centity.StateRunning {
			continue
		}
		cpu += cs.cache.cpuPercent
		memMB += cs.cache.memoryMB
	}
	state.Stats = daemon.AggregateStats{
		CPUPercent:    metrics.Round(cpu, e.cfg.Precision.CPU),
		OneCPUPercent: metrics.Round(metrics.OneCorePercentage(cpu, info.NCPU), e.cfg.Precision.CPU),
		MemoryMB:      metrics.Round(memMB, e.cfg.Precision.MemoryMB),
	}
	if info.MemTotal > 0 {
		pct := memMB * 1024 * 1024 / float64(info.MemTotal) * 100
		state.Stats.MemoryPercent = metrics.Round(pct, e.cfg.Precision.MemoryPercent)
	}
	return state
}

func (e *Engine) lastState() daemon.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// daemonChanged 比较两份 daemon 快照，LastPoll 每个周期都会变化、不计入比较。
func daemonChanged(prev, next daemon.State) bool {
	prev.LastPoll, next.LastPoll = 0, 0
	return prev != next
}

// liveContainers 把 SDK 列表转换为注册表输入，容器名去掉前导斜杠。
func liveContainers(listing []ctypes.Summary) []liveContainer {
	live := make([]liveContainer, 0, len(listing))
	for _, item := range listing {
		if len(item.Names) == 0 {
			continue
		}
		live = append(live, liveContainer{
			id:    item.ID,
			name:  strings.TrimPrefix(item.Names[0], "/"),
			state: item.State,
		})
	}
	return live
}

// watchEvents 订阅容器事件流，用计划外轮询让状态尽快反映变化。
// 事件流断开后等待一个扫描周期再尝试重新订阅。
func (e *Engine) watchEvents(ctx context.Context) {
	for ctx.Err() == nil {
		msgs, errs, err := e.conn.Events(ctx)
		if err != nil {
			if !sleepCtx(ctx, e.cfg.ScanInterval) {
				return
			}
			continue
		}
		if !e.consumeEvents(ctx, msgs, errs) {
			return
		}
	}
}

// consumeEvents 消费事件直到流关闭或 ctx 取消，返回是否应继续重订。
func (e *Engine) consumeEvents(ctx context.Context, msgs <-chan events.Message, errs <-chan error) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case msg := <-msgs:
			if msg.Type != events.ContainerEventType {
				continue
			}
			switch msg.Action {
			case events.ActionCreate, events.ActionDestroy, events.ActionRename,
				events.ActionStart, events.ActionStop, events.ActionDie, events.ActionPause, events.ActionUnPause:
				e.PollNow()
			}
		case err := <-errs:
			if err != nil {
				slog.Debug("docker event stream closed", "daemon", e.cfg.Name, "err", err)
			}
			return sleepCtx(ctx, e.cfg.ScanInterval)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
