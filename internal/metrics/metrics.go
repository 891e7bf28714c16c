// metrics.go 提供由原始采样计算派生指标的纯函数。
// 该模块不做任何 I/O，速率计算只依赖调用方保存的前一次采样。
package metrics

import (
	"math"
	"time"
)

// CPUSample 为一次 CPU 计数器采样。
type CPUSample struct {
	// Total 为容器累计 CPU 时间（纳秒）。
	Total uint64
	// System 为宿主累计 CPU 时间（纳秒）。
	System uint64
}

// NetSample 为一次网络计数器采样，所有网卡的收发字节数之和。
type NetSample struct {
	RxBytes uint64
	TxBytes uint64
	Read    time.Time
}

// CPUPercentage 按 (Δ容器 / Δ宿主) * 核数 * 100 计算 CPU 占用率。
// 任一增量不为正（首次采样、计数器回绕、daemon 未上报）时返回 0，不视为错误。
func CPUPercentage(prev, curr CPUSample, numCores int) float64 {
	cpuDelta := float64(curr.Total) - float64(prev.Total)
	systemDelta := float64(curr.System) - float64(prev.System)
	if cpuDelta <= 0 || systemDelta <= 0 {
		return 0
	}
	return cpuDelta / systemDelta * float64(numCores) * 100
}

// OneCorePercentage 把多核占用率归一化到单核 0-100 区间。
func OneCorePercentage(cpuPercentage float64, numCores int) float64 {
	if numCores <= 0 {
		return 0
	}
	pct := cpuPercentage / float64(numCores)
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// MemoryPercentage 计算内存占用率。limit 为 0 表示容器未设限且
// daemon 未上报宿主内存，此时占用率未知，返回 0。
func MemoryPercentage(usage, limit uint64) float64 {
	if limit == 0 {
		return 0
	}
	return float64(usage) / float64(limit) * 100
}

// NetworkRate 由前后两次字节计数器计算速率（kB/s）。
// 时间间隔不为正或计数器回退（容器重建会重置计数器）时返回 0，永不为负。
func NetworkRate(prevBytes, currBytes uint64, prevTime, currTime time.Time) float64 {
	dt := currTime.Sub(prevTime).Seconds()
	if dt <= 0 || currBytes < prevBytes {
		return 0
	}
	return float64(currBytes-prevBytes) / dt / 1024
}

// ToKB 把字节转换为 kB。
func ToKB(bytes float64) float64 {
	return bytes / 1024
}

// ToMB 把字节转换为 MB。
func ToMB(bytes float64) float64 {
	return bytes / (1024 * 1024)
}

// Round 按小数位数舍入。precision 为 0 时舍入到整数。
// 舍入只在数值交付给宿主前做一次，内部计算始终保留全精度。
func Round(value float64, precision int) float64 {
	if precision <= 0 {
		return math.Round(value)
	}
	pow := math.Pow10(precision)
	return math.Round(value*pow) / pow
}
