// control.go 实现控制面：把宿主下发的容器启停命令解析到
// 具体 daemon 与容器并执行。控制路径不直接改动容器记录，
// 执行成功后请求一次计划外轮询，状态变化仍然经过顺序循环。
package monitor

import (
	"context"
	"errors"

	"dockmon/internal/common"
	centity "dockmon/internal/entities/container"

	"github.com/docker/docker/client"
)

// 控制命令的结果取值。
const (
	ResultOK                = "ok"
	ResultError             = "error"
	ResultNotFound          = "not-found"
	ResultNotApplicable     = "not-applicable"
	ResultNotEnabled        = "not-enabled"
	ResultUnknownDaemon     = "unknown-daemon"
	ResultDaemonUnreachable = "daemon-unreachable"
)

// Restart 重启指定容器。容器当前未在运行时返回 not-applicable，
// 不视为错误，容器记录保持不变。
func (m *Manager) Restart(ctx context.Context, daemonName, containerName string) common.ControlOutcome {
	engine, outcome := m.resolveEngine(daemonName)
	if engine == nil {
		return outcome
	}
	if !engine.cfg.Button.Enabled(containerName) {
		return common.ControlOutcome{Result: ResultNotEnabled, Message: "restart is not enabled for this container"}
	}
	return engine.operate(ctx, containerName, "restart")
}

// Switch 启动或停止指定容器，语义与 Restart 一致。
func (m *Manager) Switch(ctx context.Context, daemonName, containerName string, on bool) common.ControlOutcome {
	engine, outcome := m.resolveEngine(daemonName)
	if engine == nil {
		return outcome
	}
	if !engine.cfg.Switch.Enabled(containerName) {
		return common.ControlOutcome{Result: ResultNotEnabled, Message: "switch is not enabled for this container"}
	}
	operation := "start"
	if !on {
		operation = "stop"
	}
	return engine.operate(ctx, containerName, operation)
}

// operate 校验目标容器与操作适用性后发起 daemon 调用。
func (e *Engine) operate(ctx context.Context, containerName, operation string) common.ControlOutcome {
	if e.conn.State() != StateConnected {
		return common.ControlOutcome{Result: ResultDaemonUnreachable, Message: "daemon " + e.cfg.Name + " is not connected"}
	}
	rec, ok := e.ResolveContainer(containerName)
	if !ok {
		return common.ControlOutcome{Result: ResultNotFound, Message: "container " + containerName + " is not monitored"}
	}
	if result := applicability(operation, rec.State); result != "" {
		return common.ControlOutcome{Result: result, Message: "container " + containerName + " is " + rec.State}
	}

	if err := e.conn.OperateContainer(ctx, rec.ID, operation); err != nil {
		// 超时与连接失败属传输错误，走状态机的重试路径；
		// daemon 侧拒绝只影响本次操作
		if isTransportError(err) {
			e.conn.Fail(err)
			return common.ControlOutcome{Result: ResultDaemonUnreachable, Message: err.Error()}
		}
		return common.ControlOutcome{Result: ResultError, Message: err.Error()}
	}
	e.PollNow()
	return common.ControlOutcome{Result: ResultOK}
}

func isTransportError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		client.IsErrConnectionFailed(err)
}

// applicability 判定操作对当前生命周期状态是否有意义，
// 无意义时返回 not-applicable 的结果值。
func applicability(operation, state string) string {
	switch operation {
	case "restart":
		if state != centity.StateRunning && state != centity.StatePaused {
			return ResultNotApplicable
		}
	case "start":
		if state == centity.StateRunning || state == centity.StatePaused {
			return ResultNotApplicable
		}
	case "stop":
		if state != centity.StateRunning && state != centity.StatePaused {
			return ResultNotApplicable
		}
	}
	return ""
}
