// registry.go 实现容器注册表：把 daemon 的在线容器列表
// 与 include/exclude/rename 规则对账，维护容器状态的增删与标记。
// 记录身份由配置名决定，改名规则只影响显示名。
package monitor

import (
	"dockmon/internal/config"
	centity "dockmon/internal/entities/container"
)

// liveContainer 为一次列表调用中注册表关心的字段。
type liveContainer struct {
	id    string
	name  string
	state string
}

// Registry 持有一个 daemon 下全部受监控容器的状态，
// 只被所属引擎的顺序轮询循环访问，无需加锁。
type Registry struct {
	cfg    *config.DaemonConfig
	states map[string]*containerState
}

// NewRegistry 返回空注册表。
func NewRegistry(cfg *config.DaemonConfig) *Registry {
	return &Registry{cfg: cfg, states: make(map[string]*containerState)}
}

// reconcileResult 为一次对账的产物。removed 为删除前的末次快照，
// recovered 为本次从 stale 恢复的容器。
type reconcileResult struct {
	added     []*containerState
	active    []*containerState
	recovered []*containerState
	removed   []centity.Record
}

// Reconcile 按在线列表对账受监控集合：
// 新出现的容器建档；消失的容器先标记 stale，度过宽限周期后删除；
// 同名不同 ID（容器重建）视为删旧加新，历史采样不保留。
func (r *Registry) Reconcile(live []liveContainer) reconcileResult {
	var result reconcileResult

	present := make(map[string]liveContainer, len(live))
	for _, lc := range live {
		if r.cfg.Included(lc.name) {
			present[lc.name] = lc
		}
	}

	for name, lc := range present {
		cs, tracked := r.states[name]
		switch {
		case !tracked:
			cs = newContainerState(lc.id, name, r.cfg.DisplayName(name))
			cs.state = lc.state
			r.states[name] = cs
			result.added = append(result.added, cs)
		case cs.id != lc.id:
			// 同名不同 ID：容器被重建，旧记录结档后换绑状态档
			result.removed = append(result.removed, cs.snapshot(r.cfg.Precision, r.cfg.Conditions))
			cs.rebind(lc.id, lc.state, r.cfg.DisplayName(name))
			result.added = append(result.added, cs)
		}
		if cs.stale {
			result.recovered = append(result.recovered, cs)
		}
		cs.missing = 0
		cs.stale = false
		result.active = append(result.active, cs)
	}

	for name, cs := range r.states {
		if _, ok := present[name]; ok {
			continue
		}
		cs.missing++
		cs.stale = true
		if cs.missing > r.cfg.GraceCycles {
			rec := cs.snapshot(r.cfg.Precision, r.cfg.Conditions)
			rec.Stale = false
			result.removed = append(result.removed, rec)
			delete(r.states, name)
		}
	}

	return result
}

// MarkAllStale 在 daemon 不可达时把全部记录标记为 stale，
// 保留末次数值，返回状态发生变化的记录。
func (r *Registry) MarkAllStale() []*containerState {
	var changed []*containerState
	for _, cs := range r.states {
		if !cs.stale {
			cs.stale = true
			changed = append(changed, cs)
		}
	}
	return changed
}

// Lookup 按配置名查找容器状态。
func (r *Registry) Lookup(name string) (*containerState, bool) {
	cs, ok := r.states[name]
	return cs, ok
}

// Snapshots 返回全部受监控容器的只读快照。
func (r *Registry) Snapshots() []centity.Record {
	records := make([]centity.Record, 0, len(r.states))
	for _, cs := range r.states {
		records = append(records, cs.snapshot(r.cfg.Precision, r.cfg.Conditions))
	}
	return records
}

// Len 返回受监控容器数量。
func (r *Registry) Len() int {
	return len(r.states)
}
