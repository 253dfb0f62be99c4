package session

import (
	"context"
	"fmt"
	"os"
	"time"

	"AutoMLTrainPlatform/internal/logger"
)

// Sweeper 过期会话清理器。按创建时间计算会话年龄，超过保留期的目录整体删除。
type Sweeper struct {
	store     *Store
	retention time.Duration
}

// NewSweeper 创建清理器
func NewSweeper(store *Store, retention time.Duration) *Sweeper {
	return &Sweeper{store: store, retention: retention}
}

// Sweep 清理一轮过期会话，返回删除数量。单个会话删除失败只记日志不中断。
func (sw *Sweeper) Sweep() int {
	ids, err := sw.store.List()
	if err != nil {
		logger.LogError("sweeper", fmt.Sprintf("枚举会话目录失败: %v", err), "")
		return 0
	}

	now := time.Now()
	removed := 0
	for _, id := range ids {
		age, err := sw.sessionAge(id, now)
		if err != nil {
			logger.LogWarning("sweeper", fmt.Sprintf("无法确定会话年龄: %v", err), id)
			continue
		}
		if age <= sw.retention {
			continue
		}
		if err := sw.store.Delete(id); err != nil {
			logger.LogWarning("sweeper", fmt.Sprintf("删除过期会话失败: %v", err), id)
			continue
		}
		logger.LogInfo("sweeper", fmt.Sprintf("已删除过期会话 (年龄 %s)", age.Truncate(time.Second)), id)
		removed++
	}
	if removed > 0 {
		logger.LogSuccess("sweeper", fmt.Sprintf("清理完成，删除 %d 个过期会话", removed), "")
	}
	return removed
}

// sessionAge 优先使用元数据中的创建时间，缺失时退回目录修改时间
func (sw *Sweeper) sessionAge(sessionID string, now time.Time) (time.Duration, error) {
	meta, err := sw.store.loadFromDisk(sessionID)
	if err == nil && !meta.CreatedAt.IsZero() {
		return now.Sub(meta.CreatedAt), nil
	}

	info, statErr := os.Stat(sw.store.Path(sessionID))
	if statErr != nil {
		return 0, statErr
	}
	return now.Sub(info.ModTime()), nil
}

// Start 周期性清理，直到ctx取消。interval为0时只在启动时清理一次。
func (sw *Sweeper) Start(ctx context.Context, interval time.Duration) {
	sw.Sweep()
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sw.Sweep()
			}
		}
	}()
}
