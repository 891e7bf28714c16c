//go:build testing
// +build testing

package bridge

import (
	"context"
	"testing"

	"dockmon/internal/common"
	"dockmon/internal/config"
	"dockmon/internal/monitor"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockHandler for testing
type MockHandler struct {
	handleFunc func(ctx *HandlerContext) error
}

func (m *MockHandler) Handle(ctx *HandlerContext) error {
	if m.handleFunc != nil {
		return m.handleFunc(ctx)
	}
	return nil
}

func testManager(t *testing.T) *monitor.Manager {
	t.Helper()
	m := monitor.NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(m.Shutdown)

	cfg := &config.Config{Daemons: []config.DaemonConfig{{Name: "local"}}}
	cfg.Daemons[0].Normalize()
	require.NoError(t, m.Start(ctx, cfg))
	return m
}

// captureResponder records handler responses for assertions
type captureResponder struct {
	payloads []any
}

func (c *captureResponder) send(data any, _ *uint32) error {
	c.payloads = append(c.payloads, data)
	return nil
}

func TestHandlerRegistry(t *testing.T) {
	t.Run("default registration", func(t *testing.T) {
		registry := NewHandlerRegistry()
		for _, action := range []common.WebSocketAction{
			common.Subscribe, common.GetSnapshot, common.PollNow, common.OperateContainer,
		} {
			_, exists := registry.handlers[action]
			assert.True(t, exists, "action %d should have a handler", action)
		}
	})

	t.Run("custom handler registration", func(t *testing.T) {
		registry := NewHandlerRegistry()
		mockHandler := &MockHandler{}

		const mockAction common.WebSocketAction = 99
		registry.Register(mockAction, mockHandler)

		called := false
		mockHandler.handleFunc = func(ctx *HandlerContext) error {
			called = true
			return nil
		}
		err := registry.Handle(&HandlerContext{
			Request: &common.HostRequest[cbor.RawMessage]{Action: mockAction},
		})
		require.NoError(t, err)
		assert.True(t, called)
	})

	t.Run("unknown action", func(t *testing.T) {
		registry := NewHandlerRegistry()
		err := registry.Handle(&HandlerContext{
			Request: &common.HostRequest[cbor.RawMessage]{Action: common.WebSocketAction(255)},
		})
		assert.ErrorContains(t, err, "unknown action: 255")
	})
}

func TestGetSnapshotHandler(t *testing.T) {
	manager := testManager(t)
	responder := &captureResponder{}

	hctx := &HandlerContext{
		Manager:      manager,
		Request:      &common.HostRequest[cbor.RawMessage]{Action: common.GetSnapshot},
		SendResponse: responder.send,
	}
	require.NoError(t, (&GetSnapshotHandler{}).Handle(hctx))

	require.Len(t, responder.payloads, 1)
	snapshot, ok := responder.payloads[0].(*common.Snapshot)
	require.True(t, ok)
	require.Len(t, snapshot.Daemons, 1)
	assert.Equal(t, "local", snapshot.Daemons[0].Daemon.Name)
}

func TestPollNowHandler(t *testing.T) {
	manager := testManager(t)

	t.Run("default daemon", func(t *testing.T) {
		responder := &captureResponder{}
		hctx := &HandlerContext{
			Manager:      manager,
			Request:      &common.HostRequest[cbor.RawMessage]{Action: common.PollNow},
			SendResponse: responder.send,
		}
		require.NoError(t, (&PollNowHandler{}).Handle(hctx))
		require.Len(t, responder.payloads, 1)
		outcome := responder.payloads[0].(*common.ControlOutcome)
		assert.Equal(t, monitor.ResultOK, outcome.Result)
	})

	t.Run("unknown daemon", func(t *testing.T) {
		data, err := cbor.Marshal(common.PollNowRequest{Daemon: "ghost"})
		require.NoError(t, err)

		hctx := &HandlerContext{
			Manager:      manager,
			Request:      &common.HostRequest[cbor.RawMessage]{Action: common.PollNow, Data: data},
			SendResponse: (&captureResponder{}).send,
		}
		assert.Error(t, (&PollNowHandler{}).Handle(hctx))
	})
}

func TestOperateContainerHandler(t *testing.T) {
	manager := testManager(t)

	t.Run("missing fields rejected", func(t *testing.T) {
		data, err := cbor.Marshal(common.ControlRequest{Container: "", Operation: "restart"})
		require.NoError(t, err)

		hctx := &HandlerContext{
			Manager:      manager,
			Request:      &common.HostRequest[cbor.RawMessage]{Action: common.OperateContainer, Data: data},
			SendResponse: (&captureResponder{}).send,
		}
		assert.ErrorContains(t, (&OperateContainerHandler{}).Handle(hctx), "required")
	})

	t.Run("unsupported operation rejected", func(t *testing.T) {
		data, err := cbor.Marshal(common.ControlRequest{Container: "web", Operation: "kill"})
		require.NoError(t, err)

		hctx := &HandlerContext{
			Manager:      manager,
			Request:      &common.HostRequest[cbor.RawMessage]{Action: common.OperateContainer, Data: data},
			SendResponse: (&captureResponder{}).send,
		}
		assert.ErrorContains(t, (&OperateContainerHandler{}).Handle(hctx), "unsupported operation")
	})

	t.Run("failure reported in outcome not as error", func(t *testing.T) {
		data, err := cbor.Marshal(common.ControlRequest{Container: "web", Operation: "restart"})
		require.NoError(t, err)

		responder := &captureResponder{}
		hctx := &HandlerContext{
			Manager:      manager,
			Request:      &common.HostRequest[cbor.RawMessage]{Action: common.OperateContainer, Data: data},
			SendResponse: responder.send,
		}
		require.NoError(t, (&OperateContainerHandler{}).Handle(hctx))
		require.Len(t, responder.payloads, 1)
		outcome := responder.payloads[0].(*common.ControlOutcome)
		// daemon may or may not be reachable in the test environment,
		// either way the command cannot succeed and must not error out
		assert.Contains(t, []string{monitor.ResultDaemonUnreachable, monitor.ResultNotFound}, outcome.Result)
	})
}

func TestNotificationRoundTrip(t *testing.T) {
	batch := common.NotificationBatch{
		Daemon: "local",
		Seq:    7,
		Notifications: []common.Notification{
			{Kind: common.KindContainerMetrics},
		},
	}
	payload, err := cbor.Marshal(common.EngineResponse{Batch: &batch})
	require.NoError(t, err)

	var decoded common.EngineResponse
	require.NoError(t, cbor.Unmarshal(payload, &decoded))
	require.NotNil(t, decoded.Batch)
	assert.Equal(t, uint64(7), decoded.Batch.Seq)
	assert.Equal(t, common.KindContainerMetrics, decoded.Batch.Notifications[0].Kind)
}
