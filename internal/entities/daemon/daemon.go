// Package daemon 定义 Docker daemon 相关的实体数据结构，用于引擎与宿主之间传输。
// 该模块只描述数据，不包含具体的连接逻辑。
package daemon

// 连接状态机取值，见 monitor 包的状态转换规则。
const (
	StatusDisconnected = "disconnected"
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
	StatusError        = "error"
)

// Info 描述 Docker 引擎的概览信息。
type Info struct {
	ServerVersion     string `json:"serverVersion" cbor:"0,keyasint"`
	APIVersion        string `json:"apiVersion" cbor:"1,keyasint"`
	OperatingSystem   string `json:"operatingSystem" cbor:"2,keyasint"`
	OSType            string `json:"osType" cbor:"3,keyasint"`
	KernelVersion     string `json:"kernelVersion" cbor:"4,keyasint"`
	Architecture      string `json:"architecture" cbor:"5,keyasint"`
	Containers        int    `json:"containers" cbor:"6,keyasint"`
	ContainersRunning int    `json:"containersRunning" cbor:"7,keyasint"`
	ContainersPaused  int    `json:"containersPaused" cbor:"8,keyasint"`
	ContainersStopped int    `json:"containersStopped" cbor:"9,keyasint"`
	Images            int    `json:"images" cbor:"10,keyasint"`
	CPUs              int    `json:"cpus" cbor:"11,keyasint"`
	MemTotal          uint64 `json:"memTotal" cbor:"12,keyasint"`
}

// State 描述一个被监控 daemon 的只读快照。
type State struct {
	Name     string `json:"name" cbor:"0,keyasint"`
	Status   string `json:"status" cbor:"1,keyasint"`
	Info     Info   `json:"info" cbor:"2,keyasint"`
	LastPoll int64  `json:"lastPoll" cbor:"3,keyasint,omitempty"`
	LastErr  string `json:"lastErr" cbor:"4,keyasint,omitempty"`

	// Stats 为所有运行中受监控容器的聚合指标，已按配置精度舍入。
	Stats AggregateStats `json:"stats" cbor:"5,keyasint"`
}

// AggregateStats 描述 daemon 级别的聚合指标。
type AggregateStats struct {
	CPUPercent    float64 `json:"cpuPercent" cbor:"0,keyasint"`
	OneCPUPercent float64 `json:"oneCpuPercent" cbor:"1,keyasint"`
	MemoryMB      float64 `json:"memoryMb" cbor:"2,keyasint"`
	MemoryPercent float64 `json:"memoryPercent" cbor:"3,keyasint"`
}
