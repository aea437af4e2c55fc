package cache

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// Locker 互斥执行接口，多实例部署用Redis锁，单实例用本地锁
type Locker interface {
	// WithLock 等待获取锁后执行action
	WithLock(ctx context.Context, name string, expiry time.Duration, action func() error) error
	// TryWithLock 只尝试一次，锁被占用时返回 ErrLockNotAcquired
	TryWithLock(ctx context.Context, name string, expiry time.Duration, action func() error) error
}

// DistributedLockService 基于redsync的分布式锁服务
type DistributedLockService struct {
	rs *redsync.Redsync
}

// NewDistributedLockService 使用现有Redis客户端创建分布式锁服务
func NewDistributedLockService(client *redis.Client) *DistributedLockService {
	pool := goredis.NewPool(client)
	log.Println("分布式锁初始化成功")
	return &DistributedLockService{rs: redsync.New(pool)}
}

// AcquireLock 获取锁，tries为最大尝试次数
func (s *DistributedLockService) AcquireLock(ctx context.Context, name string, expiry time.Duration, tries int) (*redsync.Mutex, error) {
	mutex := s.rs.NewMutex(name,
		redsync.WithExpiry(expiry),
		redsync.WithTries(tries),
		redsync.WithRetryDelay(50*time.Millisecond), // 重试延迟
		redsync.WithDriftFactor(0.01),               // 时钟漂移因子
	)

	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLockNotAcquired, name, err)
	}
	return mutex, nil
}

// WithLock 在锁内执行操作
func (s *DistributedLockService) WithLock(ctx context.Context, name string, expiry time.Duration, action func() error) error {
	return s.run(ctx, name, expiry, 5, action)
}

// TryWithLock 尝试在锁内执行操作，获取锁失败立即返回
func (s *DistributedLockService) TryWithLock(ctx context.Context, name string, expiry time.Duration, action func() error) error {
	return s.run(ctx, name, expiry, 1, action)
}

func (s *DistributedLockService) run(ctx context.Context, name string, expiry time.Duration, tries int, action func() error) error {
	mutex, err := s.AcquireLock(ctx, name, expiry, tries)
	if err != nil {
		return err
	}

	// 确保解锁
	defer func() {
		if _, err := mutex.UnlockContext(context.Background()); err != nil {
			log.Printf("释放锁失败: %s: %v", name, err)
		}
	}()

	return action()
}

// LocalLocker 进程内锁，没有Redis时使用
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocalLocker 创建进程内锁
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *LocalLocker) get(name string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[name]
	if !ok {
		m = &sync.Mutex{}
		l.locks[name] = m
	}
	return m
}

// WithLock 在锁内执行操作，expiry在本地锁中不生效
func (l *LocalLocker) WithLock(ctx context.Context, name string, _ time.Duration, action func() error) error {
	m := l.get(name)
	m.Lock()
	defer m.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return action()
}

// TryWithLock 锁被占用时立即返回 ErrLockNotAcquired
func (l *LocalLocker) TryWithLock(ctx context.Context, name string, _ time.Duration, action func() error) error {
	m := l.get(name)
	if !m.TryLock() {
		return fmt.Errorf("%w: %s", ErrLockNotAcquired, name)
	}
	defer m.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return action()
}
