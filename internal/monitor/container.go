// container.go 维护单个受监控容器的状态与派生指标缓存。
// 每个指标族只保留当前与前一次两份原始采样，速率计算依赖两者之差。
package monitor

import (
	"fmt"
	"math"
	"time"

	"dockmon/internal/config"
	centity "dockmon/internal/entities/container"
	"dockmon/internal/metrics"

	ctypes "github.com/docker/docker/api/types/container"
)

// derivedEpsilon 为派生指标的变化阈值，低于该值的波动不产生通知。
const derivedEpsilon = 1e-6

// maxNetworkErrors 为网络统计连续缺失的容忍次数，超过后停用该指标族。
const maxNetworkErrors = 5

// rawSample 为一次统计采样中引擎关心的字段。
type rawSample struct {
	read       time.Time
	cpu        metrics.CPUSample
	onlineCPUs int
	memUsage   uint64
	memLimit   uint64
	rxBytes    uint64
	txBytes    uint64
	hasNetwork bool
}

// newRawSample 从 SDK 的统计响应提取采样。
// 内存用量扣除页缓存（19.03 起为 total_inactive_file / inactive_file）。
func newRawSample(resp *ctypes.StatsResponse) rawSample {
	s := rawSample{
		read: resp.Read,
		cpu: metrics.CPUSample{
			Total:  resp.CPUStats.CPUUsage.TotalUsage,
			System: resp.CPUStats.SystemUsage,
		},
		onlineCPUs: int(resp.CPUStats.OnlineCPUs),
		memLimit:   resp.MemoryStats.Limit,
	}
	// 兼容不上报 online_cpus 的旧 API
	if s.onlineCPUs == 0 {
		s.onlineCPUs = len(resp.CPUStats.CPUUsage.PercpuUsage)
	}

	cache := resp.MemoryStats.Stats["total_inactive_file"]
	if cache == 0 {
		cache = resp.MemoryStats.Stats["inactive_file"]
	}
	if usage := resp.MemoryStats.Usage; usage > cache {
		s.memUsage = usage - cache
	}

	if len(resp.Networks) > 0 {
		s.hasNetwork = true
		for _, iface := range resp.Networks {
			s.rxBytes += iface.RxBytes
			s.txBytes += iface.TxBytes
		}
	}
	return s
}

// inspectInfo 为容器详情中引擎关心的字段。
type inspectInfo struct {
	state      string
	health     string
	image      string
	exitCode   int
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
	hostNet    bool
}

// newInspectInfo 从 SDK 的 inspect 响应提取字段。
func newInspectInfo(resp ctypes.InspectResponse) inspectInfo {
	info := inspectInfo{}
	if resp.ContainerJSONBase != nil {
		info.createdAt = parseDockerTime(resp.Created)
		if resp.State != nil {
			info.state = resp.State.Status
			info.exitCode = resp.State.ExitCode
			info.startedAt = parseDockerTime(resp.State.StartedAt)
			info.finishedAt = parseDockerTime(resp.State.FinishedAt)
			if resp.State.Health != nil {
				info.health = resp.State.Health.Status
			}
		}
		if resp.HostConfig != nil {
			info.hostNet = resp.HostConfig.NetworkMode.IsHost() || resp.HostConfig.NetworkMode.IsNone()
		}
	}
	if resp.Config != nil {
		info.image = resp.Config.Image
	}
	return info
}

func parseDockerTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

// derived 为未舍入的派生指标缓存，舍入只发生在快照输出时。
type derived struct {
	cpuPercent     float64
	oneCPUPercent  float64
	memoryMB       float64
	memoryPercent  float64
	netSpeedUpKB   float64
	netSpeedDownKB float64
	netTotalUpMB   float64
	netTotalDownMB float64
}

// containerState 为注册表中一个容器的全部可变状态，
// 只被所属引擎的顺序轮询循环读写。
type containerState struct {
	id          string
	name        string // 配置名，用于规则匹配
	displayName string

	state     string
	status    string
	health    string
	image     string
	startedAt time.Time

	// missing 为连续未出现在在线列表中的轮询次数
	missing int
	stale   bool

	networkAvailable bool
	networkErrors    int

	prev    rawSample
	curr    rawSample
	hasPrev bool
	lastCPU metrics.CPUSample
	hasCPU  bool

	// 内存突变抑制：单周期涨跌超过阈值的值延后一个周期上报
	memPrevMB      float64
	memPrevPercent float64
	memPrevBreach  bool
	hasMemPrev     bool

	cache derived
}

func newContainerState(id, name, displayName string) *containerState {
	return &containerState{
		id:               id,
		name:             name,
		displayName:      displayName,
		networkAvailable: true,
	}
}

// updateInfo 更新生命周期状态与详情字段。
// 离散状态变化总是触发通知，返回是否有字段变化。
func (cs *containerState) updateInfo(info inspectInfo, now time.Time) bool {
	status := dockerStatus(info, now)
	changed := info.state != cs.state ||
		status != cs.status ||
		info.health != cs.health ||
		info.image != cs.image

	cs.state = info.state
	cs.status = status
	cs.health = info.health
	cs.image = info.image
	cs.startedAt = info.startedAt
	if info.hostNet {
		cs.networkAvailable = false
	}
	return changed
}

// updateStats 接收一次新的原始采样并刷新派生缓存。
// 采样时间戳不晚于上一采样时丢弃。变化判定只覆盖受监控的指标族，
// 未受监控指标的波动不会触发通知。
func (cs *containerState) updateStats(sample rawSample, memChangeLimit float64, conds config.ConditionSet) bool {
	if cs.hasPrev && !sample.read.After(cs.curr.read) {
		return false
	}

	cs.prev = cs.curr
	cs.curr = sample
	prevValid := cs.hasPrev
	cs.hasPrev = true

	old := cs.cache
	next := derived{}

	// CPU：首个采样没有前值，恒为 0
	if cs.hasCPU {
		next.cpuPercent = metrics.CPUPercentage(cs.lastCPU, sample.cpu, sample.onlineCPUs)
		next.oneCPUPercent = metrics.OneCorePercentage(next.cpuPercent, sample.onlineCPUs)
	}
	cs.lastCPU = sample.cpu
	cs.hasCPU = true

	memMB := metrics.ToMB(float64(sample.memUsage))
	memPct := metrics.MemoryPercentage(sample.memUsage, sample.memLimit)
	next.memoryMB, next.memoryPercent = cs.dampMemory(memMB, memPct, memChangeLimit)

	if cs.networkAvailable {
		if sample.hasNetwork {
			cs.networkErrors = 0
			if prevValid && cs.prev.hasNetwork {
				next.netSpeedUpKB = metrics.NetworkRate(cs.prev.txBytes, sample.txBytes, cs.prev.read, sample.read)
				next.netSpeedDownKB = metrics.NetworkRate(cs.prev.rxBytes, sample.rxBytes, cs.prev.read, sample.read)
			}
			next.netTotalUpMB = metrics.ToMB(float64(sample.txBytes))
			next.netTotalDownMB = metrics.ToMB(float64(sample.rxBytes))
		} else {
			cs.networkErrors++
			if cs.networkErrors > maxNetworkErrors {
				cs.networkAvailable = false
			}
			// 本周期沿用旧值，避免短暂缺失造成归零尖峰
			next.netSpeedUpKB = old.netSpeedUpKB
			next.netSpeedDownKB = old.netSpeedDownKB
			next.netTotalUpMB = old.netTotalUpMB
			next.netTotalDownMB = old.netTotalDownMB
		}
	}

	cs.cache = next
	return derivedChanged(old, next, conds)
}

// dampMemory 实现内存单周期突变抑制：首次突破阈值的值延后一个周期，
// 连续突破则视为真实变化照常上报。
func (cs *containerState) dampMemory(memMB, memPct, limit float64) (float64, float64) {
	breach := false
	if cs.hasMemPrev && !cs.memPrevBreach && cs.memPrevMB > 0 && limit < 100 {
		diff := math.Abs(memMB/cs.memPrevMB-1) * 100
		breach = diff >= limit
	}

	if breach {
		heldMB, heldPct := cs.memPrevMB, cs.memPrevPercent
		cs.memPrevMB, cs.memPrevPercent = memMB, memPct
		cs.memPrevBreach = true
		return heldMB, heldPct
	}

	cs.memPrevMB, cs.memPrevPercent = memMB, memPct
	cs.memPrevBreach = false
	cs.hasMemPrev = true
	return memMB, memPct
}

// rebind 把状态档换绑到同名重建后的新容器：
// 详情字段等待下次 inspect 刷新，历史采样全部清空。
func (cs *containerState) rebind(id, state, displayName string) {
	cs.id = id
	cs.state = state
	cs.displayName = displayName
	cs.status = ""
	cs.health = ""
	cs.image = ""
	cs.startedAt = time.Time{}
	cs.resetSamples()
}

// resetSamples 在容器重建后清空历史采样，计数器从头累计。
func (cs *containerState) resetSamples() {
	cs.prev = rawSample{}
	cs.curr = rawSample{}
	cs.hasPrev = false
	cs.hasCPU = false
	cs.lastCPU = metrics.CPUSample{}
	cs.hasMemPrev = false
	cs.memPrevBreach = false
	cs.networkAvailable = true
	cs.networkErrors = 0
	cs.cache = derived{}
}

// derivedChanged 只比较受监控指标族，阈值以内的波动不算变化。
func derivedChanged(a, b derived, conds config.ConditionSet) bool {
	changed := func(cond config.Condition, x, y float64) bool {
		return conds.Has(cond) && math.Abs(x-y) > derivedEpsilon
	}
	return changed(config.CondCPU, a.cpuPercent, b.cpuPercent) ||
		changed(config.Cond1CPU, a.oneCPUPercent, b.oneCPUPercent) ||
		changed(config.CondMemory, a.memoryMB, b.memoryMB) ||
		changed(config.CondMemoryPercent, a.memoryPercent, b.memoryPercent) ||
		changed(config.CondNetSpeedUp, a.netSpeedUpKB, b.netSpeedUpKB) ||
		changed(config.CondNetSpeedDown, a.netSpeedDownKB, b.netSpeedDownKB) ||
		changed(config.CondNetTotalUp, a.netTotalUpMB, b.netTotalUpMB) ||
		changed(config.CondNetTotalDown, a.netTotalDownMB, b.netTotalDownMB)
}

// snapshot 输出只读快照，数值在这里按配置精度一次性舍入。
// 未受监控的指标输出零值，不对外暴露内部继续累计的缓存。
func (cs *containerState) snapshot(precision config.Precision, conds config.ConditionSet) centity.Record {
	metric := func(cond config.Condition, value float64, digits int) float64 {
		if !conds.Has(cond) {
			return 0
		}
		return metrics.Round(value, digits)
	}
	rec := centity.Record{
		ID:          cs.id,
		Name:        cs.name,
		DisplayName: cs.displayName,
		State:       cs.state,
		Status:      cs.status,
		Health:      cs.health,
		Image:       cs.image,
		Stale:       cs.stale,
		Metrics: centity.Metrics{
			CPUPercent:       metric(config.CondCPU, cs.cache.cpuPercent, precision.CPU),
			OneCPUPercent:    metric(config.Cond1CPU, cs.cache.oneCPUPercent, precision.CPU),
			MemoryMB:         metric(config.CondMemory, cs.cache.memoryMB, precision.MemoryMB),
			MemoryPercent:    metric(config.CondMemoryPercent, cs.cache.memoryPercent, precision.MemoryPercent),
			NetSpeedUpKB:     metric(config.CondNetSpeedUp, cs.cache.netSpeedUpKB, precision.NetworkKB),
			NetSpeedDownKB:   metric(config.CondNetSpeedDown, cs.cache.netSpeedDownKB, precision.NetworkKB),
			NetTotalUpMB:     metric(config.CondNetTotalUp, cs.cache.netTotalUpMB, precision.NetworkMB),
			NetTotalDownMB:   metric(config.CondNetTotalDown, cs.cache.netTotalDownMB, precision.NetworkMB),
			NetworkAvailable: cs.networkAvailable,
		},
	}
	if !cs.startedAt.IsZero() && (cs.state == centity.StateRunning || cs.state == centity.StatePaused) {
		rec.StartedAt = cs.startedAt.Unix()
	}
	return rec
}

// dockerStatus 生成 docker ps 风格的状态串，例如
// "Up 6 days"、"Up 2 hours (Paused)"、"Exited (0) 3 weeks ago"。
func dockerStatus(info inspectInfo, now time.Time) string {
	switch info.state {
	case centity.StateRunning:
		return "Up " + ageString(info.startedAt, now)
	case centity.StatePaused:
		return fmt.Sprintf("Up %s (Paused)", ageString(info.startedAt, now))
	case centity.StateExited:
		return fmt.Sprintf("Exited (%d) %s ago", info.exitCode, ageString(info.finishedAt, now))
	case centity.StateCreated:
		return fmt.Sprintf("Created %s ago", ageString(info.createdAt, now))
	case centity.StateRestarting:
		return "Restarting"
	default:
		return fmt.Sprintf("None (%s)", info.state)
	}
}

// ageString 把时间差格式化为 docker 风格的最大单位描述。
func ageString(since, now time.Time) string {
	if since.IsZero() || now.Before(since) {
		return "None"
	}
	d := now.Sub(since)

	plural := func(n int64, unit string) string {
		if n == 1 {
			return fmt.Sprintf("1 %s", unit)
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}

	switch {
	case d >= 365*24*time.Hour:
		return plural(int64(d/(365*24*time.Hour)), "year")
	case d >= 30*24*time.Hour:
		return plural(int64(d/(30*24*time.Hour)), "month")
	case d >= 24*time.Hour:
		return plural(int64(d/(24*time.Hour)), "day")
	case d >= time.Hour:
		return plural(int64(d/time.Hour), "hour")
	case d >= time.Minute:
		return plural(int64(d/time.Minute), "minute")
	default:
		return plural(int64(d/time.Second), "second")
	}
}
