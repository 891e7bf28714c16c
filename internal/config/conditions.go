// conditions.go 定义受监控指标的封闭枚举。
// 配置中的条件字符串在加载时一次性解析为枚举值，轮询路径不做字符串比较。
package config

import "fmt"

// Condition 标识一个可监控的指标或属性。
type Condition uint8

const (
	condInvalid Condition = iota

	// daemon 级条件
	CondDaemonVersion
	CondContainersTotal
	CondContainersRunning
	CondContainersPaused
	CondContainersStopped
	CondImages
	CondDaemonCPU
	CondDaemon1CPU
	CondDaemonMemory
	CondDaemonMemoryPercent

	// 容器级条件
	CondState
	CondStatus
	CondHealth
	CondImage
	CondUptime
	CondCPU
	Cond1CPU
	CondMemory
	CondMemoryPercent
	CondNetSpeedUp
	CondNetSpeedDown
	CondNetTotalUp
	CondNetTotalDown
)

// Category 划分条件所属的通知类别。
type Category uint8

const (
	CategoryDaemonInfo Category = iota
	CategoryContainerMetric
	CategoryContainerLifecycle
)

var conditionNames = map[string]Condition{
	"version":                 CondDaemonVersion,
	"containers_total":        CondContainersTotal,
	"containers_running":      CondContainersRunning,
	"containers_paused":       CondContainersPaused,
	"containers_stopped":      CondContainersStopped,
	"images":                  CondImages,
	"cpu_percentage_usage":    CondCPU,
	"1cpu_percentage_usage":   Cond1CPU,
	"memory_usage":            CondMemory,
	"memory_percentage_usage": CondMemoryPercent,
	"network_speed_up":        CondNetSpeedUp,
	"network_speed_down":      CondNetSpeedDown,
	"network_total_up":        CondNetTotalUp,
	"network_total_down":      CondNetTotalDown,
	"state":                   CondState,
	"status":                  CondStatus,
	"health":                  CondHealth,
	"image":                   CondImage,
	"uptime":                  CondUptime,

	"docker_cpu_percentage_usage":    CondDaemonCPU,
	"docker_1cpu_percentage_usage":   CondDaemon1CPU,
	"docker_memory_usage":            CondDaemonMemory,
	"docker_memory_percentage_usage": CondDaemonMemoryPercent,
}

// DefaultConditions 为未配置 monitored_conditions 时的监控集合。
var DefaultConditions = []string{
	"version", "containers_total", "containers_running",
	"containers_paused", "containers_stopped", "images",
	"state", "status", "health", "image", "uptime",
	"cpu_percentage_usage", "1cpu_percentage_usage",
	"memory_usage", "memory_percentage_usage",
	"network_speed_up", "network_speed_down",
	"network_total_up", "network_total_down",
}

// ParseCondition 把配置字符串解析为枚举值，未知字符串返回错误。
func ParseCondition(name string) (Condition, error) {
	cond, ok := conditionNames[name]
	if !ok {
		return condInvalid, fmt.Errorf("unknown monitored condition: %q", name)
	}
	return cond, nil
}

// Category 返回条件所属的通知类别。
func (c Condition) Category() Category {
	switch c {
	case CondDaemonVersion, CondContainersTotal, CondContainersRunning,
		CondContainersPaused, CondContainersStopped, CondImages,
		CondDaemonCPU, CondDaemon1CPU, CondDaemonMemory, CondDaemonMemoryPercent:
		return CategoryDaemonInfo
	case CondState, CondStatus, CondHealth, CondImage, CondUptime:
		return CategoryContainerLifecycle
	default:
		return CategoryContainerMetric
	}
}

// ConditionSet 为加载时解析完成的条件集合。
type ConditionSet map[Condition]struct{}

// Has 报告集合中是否包含指定条件。
func (s ConditionSet) Has(c Condition) bool {
	_, ok := s[c]
	return ok
}

// HasCategory 报告集合中是否包含指定类别的任一条件。
func (s ConditionSet) HasCategory(cat Category) bool {
	for c := range s {
		if c.Category() == cat {
			return true
		}
	}
	return false
}
