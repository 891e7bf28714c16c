package common

import (
	"dockmon/internal/entities/container"
	"dockmon/internal/entities/daemon"
)

type WebSocketAction = uint8

const (
	// Subscribe to notification batches
	Subscribe WebSocketAction = iota
	// Request a full snapshot of all daemons and containers
	GetSnapshot
	// Force an out-of-cycle poll of a daemon
	PollNow
	// Operate a container (start/stop/restart)
	OperateContainer
	// Add new actions here...
)

// HostRequest defines the structure for requests sent from host to engine.
type HostRequest[T any] struct {
	Action WebSocketAction `cbor:"0,keyasint"`
	Data   T               `cbor:"1,keyasint,omitempty,omitzero"`
	Id     *uint32         `cbor:"2,keyasint,omitempty"`
}

// EngineResponse defines the structure for responses sent from engine to host.
type EngineResponse struct {
	Id       *uint32            `cbor:"0,keyasint,omitempty"`
	Error    string             `cbor:"1,keyasint,omitempty,omitzero"`
	Batch    *NotificationBatch `cbor:"2,keyasint,omitempty,omitzero"`
	Snapshot *Snapshot          `cbor:"3,keyasint,omitempty,omitzero"`
	Control  *ControlOutcome    `cbor:"4,keyasint,omitempty,omitzero"`
}

// NotificationKind identifies what a single notification describes.
type NotificationKind uint8

const (
	// Container appeared in the monitored set
	KindContainerAdded NotificationKind = iota
	// Container left the monitored set
	KindContainerRemoved
	// Container lifecycle fields changed (state/status/health/image)
	KindContainerLifecycle
	// Container derived metrics changed beyond the reporting threshold
	KindContainerMetrics
	// Daemon info or aggregates changed
	KindDaemonInfo
	// Daemon connection status changed
	KindDaemonStatus
)

// Notification is a single state change observed during one poll cycle.
type Notification struct {
	Kind      NotificationKind  `cbor:"0,keyasint" json:"kind"`
	Container *container.Record `cbor:"1,keyasint,omitempty,omitzero" json:"container,omitempty"`
	Daemon    *daemon.State     `cbor:"2,keyasint,omitempty,omitzero" json:"daemon,omitempty"`
}

// NotificationBatch carries all changes from one poll cycle of one daemon.
// Seq increases by one per delivered batch, independently per daemon.
type NotificationBatch struct {
	Daemon        string         `cbor:"0,keyasint" json:"daemon"`
	Seq           uint64         `cbor:"1,keyasint" json:"seq"`
	Notifications []Notification `cbor:"2,keyasint" json:"notifications"`
}

// Snapshot is the full current state of every monitored daemon.
type Snapshot struct {
	Daemons []DaemonSnapshot `cbor:"0,keyasint" json:"daemons"`
}

// DaemonSnapshot is the current state of one daemon and its containers.
type DaemonSnapshot struct {
	Daemon     daemon.State       `cbor:"0,keyasint" json:"daemon"`
	Containers []container.Record `cbor:"1,keyasint" json:"containers"`
}

// PollNowRequest forces a poll of the named daemon outside its schedule.
type PollNowRequest struct {
	Daemon string `cbor:"0,keyasint,omitempty"`
}

// ControlRequest asks the engine to operate a container. Daemon may be
// empty when only one daemon is configured.
type ControlRequest struct {
	Daemon    string `cbor:"0,keyasint,omitempty"`
	Container string `cbor:"1,keyasint"`
	Operation string `cbor:"2,keyasint"`
}

// ControlOutcome reports the result of a control request.
type ControlOutcome struct {
	Result  string `cbor:"0,keyasint" json:"result"`
	Message string `cbor:"1,keyasint,omitempty,omitzero" json:"message,omitempty"`
}
