package orchestrator

import (
	"context"
)

// Limiter 训练并发许可。固定容量的计数信号量，只约束重型训练调用，
// 不约束会话生命周期的其他阶段。不保证FIFO获取顺序。
type Limiter struct {
	slots chan struct{}
}

// NewLimiter 创建指定容量的许可器
func NewLimiter(capacity int) *Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	return &Limiter{slots: make(chan struct{}, capacity)}
}

// Acquire 阻塞直到获得一个许可或ctx取消
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release 归还一个许可
func (l *Limiter) Release() {
	select {
	case <-l.slots:
	default:
		// 多余的Release是编程错误，静默忽略避免死锁
	}
}

// Capacity 许可总数
func (l *Limiter) Capacity() int {
	return cap(l.slots)
}

// InUse 当前被占用的许可数
func (l *Limiter) InUse() int {
	return len(l.slots)
}
