// bridge.go 实现面向宿主的 WebSocket 桥接服务。
// 请求与响应均为 CBOR 编码，通知批次按订阅推送，
// 宿主断开重连后通过 Subscribe 重新拿到一致的全量快照。
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"dockmon/internal/common"
	"dockmon/internal/monitor"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/lxzan/gws"
)

const (
	sessionKeyID = "sessionId"
	// 超过两个心跳周期没有任何帧视为会话死亡
	heartbeatInterval = 30 * time.Second
	deadlineFactor    = 2
)

// Bridge 持有引擎管理器与全部宿主会话。
type Bridge struct {
	manager  *monitor.Manager
	registry *HandlerRegistry

	mu          sync.Mutex
	subscribers map[*gws.Conn]string
}

// New 构造桥接服务。
func New(manager *monitor.Manager) *Bridge {
	return &Bridge{
		manager:     manager,
		registry:    NewHandlerRegistry(),
		subscribers: make(map[*gws.Conn]string),
	}
}

// Serve 在 listen 地址上提供 /ws 端点，直到 ctx 取消。
func (b *Bridge) Serve(ctx context.Context, listen string) error {
	upgrader := gws.NewUpgrader(b, &gws.ServerOption{
		ParallelEnabled: true,
		Recovery:        gws.Recovery,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		socket, err := upgrader.Upgrade(w, r)
		if err != nil {
			slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
			return
		}
		go socket.ReadLoop()
	})

	server := &http.Server{Addr: listen, Handler: mux}
	go b.forwardBatches(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	slog.Info("bridge listening", "listen", listen)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("bridge server: %w", err)
	}
	return nil
}

// forwardBatches 消费引擎的通知批次并推送给全部订阅会话。
func (b *Bridge) forwardBatches(ctx context.Context) {
	batches, cancel := b.manager.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-batches:
			if !ok {
				return
			}
			payload, err := cbor.Marshal(common.EngineResponse{Batch: &batch})
			if err != nil {
				slog.Error("encode notification batch failed", "daemon", batch.Daemon, "err", err)
				continue
			}
			b.mu.Lock()
			for socket, id := range b.subscribers {
				if err := socket.WriteMessage(gws.OpcodeBinary, payload); err != nil {
					slog.Debug("push batch failed", "session", id, "err", err)
				}
			}
			b.mu.Unlock()
		}
	}
}

// subscribe 把当前会话登记为通知订阅者。
func (b *Bridge) subscribe(hctx *HandlerContext) {
	socket := hctx.socket
	if socket == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[socket]; !ok {
		b.subscribers[socket] = sessionID(socket)
	}
}

func sessionID(socket *gws.Conn) string {
	if value, ok := socket.Session().Load(sessionKeyID); ok {
		if id, ok := value.(string); ok {
			return id
		}
	}
	return ""
}

// OnOpen 为新会话分配标识并设置读超时。
func (b *Bridge) OnOpen(socket *gws.Conn) {
	id := uuid.NewString()
	socket.Session().Store(sessionKeyID, id)
	_ = socket.SetDeadline(time.Now().Add(deadlineFactor * heartbeatInterval))
	slog.Info("host session opened", "session", id, "remote", socket.RemoteAddr())
}

// OnClose 注销订阅并释放会话。
func (b *Bridge) OnClose(socket *gws.Conn, err error) {
	b.mu.Lock()
	delete(b.subscribers, socket)
	b.mu.Unlock()
	slog.Info("host session closed", "session", sessionID(socket), "err", err)
}

// OnPing 回应心跳并顺延读超时。
func (b *Bridge) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(time.Now().Add(deadlineFactor * heartbeatInterval))
	_ = socket.WritePong(payload)
}

func (b *Bridge) OnPong(socket *gws.Conn, payload []byte) {}

// OnMessage 解码请求并路由到对应处理器。
// 处理器返回错误时把错误作为响应发回，不断开会话。
func (b *Bridge) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()
	_ = socket.SetDeadline(time.Now().Add(deadlineFactor * heartbeatInterval))

	var request common.HostRequest[cbor.RawMessage]
	if err := cbor.Unmarshal(message.Bytes(), &request); err != nil {
		slog.Warn("malformed host request", "session", sessionID(socket), "err", err)
		return
	}

	hctx := &HandlerContext{
		Bridge:       b,
		Manager:      b.manager,
		Request:      &request,
		RequestID:    request.Id,
		socket:       socket,
		SendResponse: responderFor(socket),
	}
	if err := b.registry.Handle(hctx); err != nil {
		slog.Warn("host request failed", "session", sessionID(socket), "action", request.Action, "err", err)
		_ = hctx.SendResponse(err, request.Id)
	}
}

// responderFor 按负载类型填充响应结构并写回会话。
func responderFor(socket *gws.Conn) func(data any, requestID *uint32) error {
	return func(data any, requestID *uint32) error {
		response := common.EngineResponse{Id: requestID}
		switch value := data.(type) {
		case *common.Snapshot:
			response.Snapshot = value
		case *common.ControlOutcome:
			response.Control = value
		case *common.NotificationBatch:
			response.Batch = value
		case error:
			response.Error = value.Error()
		default:
			return fmt.Errorf("unsupported response payload %T", data)
		}
		payload, err := cbor.Marshal(response)
		if err != nil {
			return err
		}
		return socket.WriteMessage(gws.OpcodeBinary, payload)
	}
}
