// notify.go 实现通知批次的原子发布与订阅分发。
// 一个轮询周期内的全部变化收进一个批次，周期结束时一次性交付；
// 周期中途失败的批次整体丢弃，订阅方不会看到半个周期。
package monitor

import (
	"log/slog"
	"sync"

	"dockmon/internal/common"
)

// Publisher 按 daemon 维护单调递增的批次序号，并把批次分发给所有订阅者。
type Publisher struct {
	mu   sync.Mutex
	seq  map[string]uint64
	subs map[uint64]chan common.NotificationBatch
	next uint64
}

// NewPublisher 返回空的发布器。
func NewPublisher() *Publisher {
	return &Publisher{
		seq:  make(map[string]uint64),
		subs: make(map[uint64]chan common.NotificationBatch),
	}
}

// Subscribe 注册一个订阅通道，返回通道与取消函数。
// 通道带缓冲，订阅方消费过慢时批次被丢弃而不是阻塞轮询循环。
func (p *Publisher) Subscribe() (<-chan common.NotificationBatch, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.next
	p.next++
	ch := make(chan common.NotificationBatch, 16)
	p.subs[id] = ch
	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if sub, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(sub)
		}
	}
}

// Publish 为批次分配该 daemon 的下一个序号并分发。
// 空批次不占用序号、不交付。
func (p *Publisher) Publish(daemon string, notifications []common.Notification) {
	if len(notifications) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq[daemon]++
	batch := common.NotificationBatch{
		Daemon:        daemon,
		Seq:           p.seq[daemon],
		Notifications: notifications,
	}
	for _, ch := range p.subs {
		select {
		case ch <- batch:
		default:
			slog.Warn("subscriber too slow, dropping notification batch", "daemon", daemon, "seq", batch.Seq)
		}
	}
}

// Seq 返回 daemon 最近交付的批次序号，从未交付过则为 0。
func (p *Publisher) Seq(daemon string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq[daemon]
}
