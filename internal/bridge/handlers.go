// handlers.go 定义桥接层的请求处理器与路由逻辑。
// 负责 WebSocket 请求解码、调用监控引擎并返回响应。
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dockmon/internal/common"
	"dockmon/internal/monitor"

	"github.com/fxamacker/cbor/v2"
	"github.com/lxzan/gws"

	"log/slog"
)

const controlTimeout = 30 * time.Second

// HandlerContext provides context for request handlers
type HandlerContext struct {
	Bridge    *Bridge
	Manager   *monitor.Manager
	Request   *common.HostRequest[cbor.RawMessage]
	RequestID *uint32
	// SendResponse abstracts how a handler sends responses
	SendResponse func(data any, requestID *uint32) error

	socket *gws.Conn
}

// RequestHandler defines the interface for handling specific websocket request types
type RequestHandler interface {
	// Handle processes the request and returns an error if unsuccessful
	Handle(hctx *HandlerContext) error
}

// HandlerRegistry manages the mapping between actions and their handlers
type HandlerRegistry struct {
	handlers map[common.WebSocketAction]RequestHandler
}

// NewHandlerRegistry creates a new handler registry with default handlers
func NewHandlerRegistry() *HandlerRegistry {
	registry := &HandlerRegistry{
		handlers: make(map[common.WebSocketAction]RequestHandler),
	}

	registry.Register(common.Subscribe, &SubscribeHandler{})
	registry.Register(common.GetSnapshot, &GetSnapshotHandler{})
	registry.Register(common.PollNow, &PollNowHandler{})
	registry.Register(common.OperateContainer, &OperateContainerHandler{})

	return registry
}

// Register registers a handler for a specific action type
func (hr *HandlerRegistry) Register(action common.WebSocketAction, handler RequestHandler) {
	hr.handlers[action] = handler
}

// Handle routes the request to the appropriate handler
func (hr *HandlerRegistry) Handle(hctx *HandlerContext) error {
	handler, exists := hr.handlers[hctx.Request.Action]
	if !exists {
		return fmt.Errorf("unknown action: %d", hctx.Request.Action)
	}
	return handler.Handle(hctx)
}

////////////////////////////////////////////////////////////////////////////
////////////////////////////////////////////////////////////////////////////

// SubscribeHandler marks the session as a notification subscriber and
// returns the current snapshot so the host starts from a consistent view.
type SubscribeHandler struct{}

func (h *SubscribeHandler) Handle(hctx *HandlerContext) error {
	hctx.Bridge.subscribe(hctx)
	snapshot := hctx.Manager.Snapshot()
	return hctx.SendResponse(&snapshot, hctx.RequestID)
}

////////////////////////////////////////////////////////////////////////////
////////////////////////////////////////////////////////////////////////////

// GetSnapshotHandler handles full state snapshot requests
type GetSnapshotHandler struct{}

func (h *GetSnapshotHandler) Handle(hctx *HandlerContext) error {
	snapshot := hctx.Manager.Snapshot()
	return hctx.SendResponse(&snapshot, hctx.RequestID)
}

////////////////////////////////////////////////////////////////////////////
////////////////////////////////////////////////////////////////////////////

// PollNowHandler handles out-of-cycle poll requests
type PollNowHandler struct{}

func (h *PollNowHandler) Handle(hctx *HandlerContext) error {
	var req common.PollNowRequest
	if len(hctx.Request.Data) > 0 {
		if err := cbor.Unmarshal(hctx.Request.Data, &req); err != nil {
			return err
		}
	}
	if err := hctx.Manager.PollNow(req.Daemon); err != nil {
		return err
	}
	return hctx.SendResponse(&common.ControlOutcome{Result: monitor.ResultOK}, hctx.RequestID)
}

////////////////////////////////////////////////////////////////////////////
////////////////////////////////////////////////////////////////////////////

// OperateContainerHandler handles start/stop/restart commands
type OperateContainerHandler struct{}

func (h *OperateContainerHandler) Handle(hctx *HandlerContext) error {
	var req common.ControlRequest
	if err := cbor.Unmarshal(hctx.Request.Data, &req); err != nil {
		return err
	}
	if req.Container == "" || req.Operation == "" {
		return errors.New("container name and operation are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()

	operateStart := time.Now()
	slog.Info("operate container start", "operation", req.Operation, "container", req.Container, "daemon", req.Daemon)

	var outcome common.ControlOutcome
	switch req.Operation {
	case "start":
		outcome = hctx.Manager.Switch(ctx, req.Daemon, req.Container, true)
	case "stop":
		outcome = hctx.Manager.Switch(ctx, req.Daemon, req.Container, false)
	case "restart":
		outcome = hctx.Manager.Restart(ctx, req.Daemon, req.Container)
	default:
		return fmt.Errorf("unsupported operation: %s", req.Operation)
	}

	slog.Info("operate container done", "operation", req.Operation, "container", req.Container,
		"result", outcome.Result, "durationMs", time.Since(operateStart).Milliseconds())
	return hctx.SendResponse(&outcome, hctx.RequestID)
}
