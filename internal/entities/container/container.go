// Package container 定义容器相关的实体数据结构，用于引擎与宿主之间传输。
// 该模块只描述数据，不包含具体的监控逻辑。
package container

// 容器生命周期状态，与 Docker daemon 上报的 State 字段一致。
const (
	StateCreated    = "created"
	StateRestarting = "restarting"
	StateRunning    = "running"
	StateRemoving   = "removing"
	StatePaused     = "paused"
	StateExited     = "exited"
	StateDead       = "dead"
)

// Record 描述一个受监控容器的只读快照。
// 所有数值型指标已按配置精度完成舍入。
type Record struct {
	ID          string `json:"id" cbor:"0,keyasint"`
	Name        string `json:"name" cbor:"1,keyasint"`
	DisplayName string `json:"displayName" cbor:"2,keyasint"`
	State       string `json:"state" cbor:"3,keyasint"`
	Status      string `json:"status" cbor:"4,keyasint"`
	Health      string `json:"health" cbor:"5,keyasint,omitempty"`
	Image       string `json:"image" cbor:"6,keyasint"`
	StartedAt   int64  `json:"startedAt" cbor:"7,keyasint,omitempty"`
	Stale       bool   `json:"stale" cbor:"8,keyasint,omitempty"`

	Metrics Metrics `json:"metrics" cbor:"9,keyasint"`
}

// Metrics 描述容器的派生指标集合。
type Metrics struct {
	CPUPercent     float64 `json:"cpuPercent" cbor:"0,keyasint"`
	OneCPUPercent  float64 `json:"oneCpuPercent" cbor:"1,keyasint"`
	MemoryMB       float64 `json:"memoryMb" cbor:"2,keyasint"`
	MemoryPercent  float64 `json:"memoryPercent" cbor:"3,keyasint"`
	NetSpeedUpKB   float64 `json:"netSpeedUpKb" cbor:"4,keyasint"`
	NetSpeedDownKB float64 `json:"netSpeedDownKb" cbor:"5,keyasint"`
	NetTotalUpMB   float64 `json:"netTotalUpMb" cbor:"6,keyasint"`
	NetTotalDownMB float64 `json:"netTotalDownMb" cbor:"7,keyasint"`
	// NetworkAvailable 为 false 时网络指标无意义（host/none 网络模式）。
	NetworkAvailable bool `json:"networkAvailable" cbor:"8,keyasint"`
}
