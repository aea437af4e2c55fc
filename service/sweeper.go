package service

import (
	"context"
	"errors"
	"log"
	"time"

	"yourturn-backend/cache"
	"yourturn-backend/schedule"
)

const sweepLockName = "yourturn:sweeper"

// Sweeper 定期关闭窗口已结束的时段。
// 多实例部署时通过分布式锁保证同一时刻只有一个实例在执行
type Sweeper struct {
	arbitration *ArbitrationService
	locker      cache.Locker
	interval    time.Duration
}

// NewSweeper 创建关闭任务，locker为nil时使用进程内锁
func NewSweeper(arbitration *ArbitrationService, locker cache.Locker, interval time.Duration) *Sweeper {
	if locker == nil {
		locker = cache.NewLocalLocker()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Sweeper{arbitration: arbitration, locker: locker, interval: interval}
}

// Run 阻塞运行直到ctx取消
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("时段关闭任务已启动, 间隔: %v", s.interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("时段关闭任务已停止")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				log.Printf("关闭时段失败: %v", err)
			}
		}
	}
}

// Sweep 执行一次关闭，返回本次完成状态迁移的时段数
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	closed := 0
	err := s.locker.TryWithLock(ctx, sweepLockName, s.interval, func() error {
		var err error
		closed, err = s.sweep(ctx)
		return err
	})
	if errors.Is(err, cache.ErrLockNotAcquired) {
		// 其他实例正在执行
		return 0, nil
	}
	return closed, err
}

func (s *Sweeper) sweep(ctx context.Context) (int, error) {
	registry := s.arbitration.registry
	now := s.arbitration.clock.Now()
	today := now.In(registry.Location())

	closed := 0
	// 昨天最后一个时段可能跨过了午夜才被扫描到
	for _, day := range []time.Time{today.AddDate(0, 0, -1), today} {
		slots, err := registry.SlotsForDate(day.Format(schedule.DateLayout))
		if err != nil {
			return closed, err
		}
		for _, slot := range slots {
			if now.Before(slot.CloseAt) {
				continue
			}
			res, err := s.arbitration.closeSlot(ctx, slot, now)
			if err != nil {
				return closed, err
			}
			if res.Changed {
				closed++
			}
		}
	}
	return closed, nil
}
