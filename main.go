package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"yourturn-backend/cache"
	"yourturn-backend/clock"
	"yourturn-backend/config"
	"yourturn-backend/database"
	"yourturn-backend/events"
	"yourturn-backend/handlers"
	"yourturn-backend/mq"
	"yourturn-backend/repository"
	"yourturn-backend/routes"
	"yourturn-backend/service"
	"yourturn-backend/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	registry, err := cfg.Registry()
	if err != nil {
		log.Fatalf("时段配置非法: %v", err)
	}

	// 初始化数据库连接
	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatalf("无法初始化数据库: %v", err)
	}

	// Redis可选，不可用时降级为单实例模式
	redisClient, err := cache.NewClient(cfg.Redis)
	if err != nil {
		log.Printf("警告: Redis初始化失败，使用本地锁和本地限流: %v", err)
		redisClient = nil
	}

	locker, tallies, limiter := initCacheAndLimiter(cfg, redisClient)

	// 初始化消息队列适配器
	mqAdapter, err := mq.NewMQAdapter(cfg.MQ, redisClient)
	if err != nil {
		log.Printf("警告: 消息队列初始化失败，事件只在本地分发: %v", err)
		mqAdapter, _ = mq.NewMQAdapter(config.MQConfig{Driver: "none"}, nil)
	}
	if err := mqAdapter.StartConsumer(logEvent); err != nil {
		log.Printf("警告: 启动消息消费者失败: %v", err)
	}

	dispatcher := events.NewDispatcher(1024, mqAdapter.Sinks()...)
	dispatcher.Start()

	clk := clock.System{}
	repo := repository.NewGormRepository(db)
	arbitration := service.NewArbitrationService(repo, registry, clk, dispatcher)
	results := service.NewResultsService(repo, registry, clk, tallies)
	svc := handlers.Services{
		Arbitration: arbitration,
		Questions: service.NewQuestionService(repo, registry, clk, dispatcher, tallies, service.QuestionPolicy{
			MaxTextLength:   cfg.Question.MaxLength,
			MaxOptionLength: cfg.Question.OptionMaxLength,
			SubmitTimeout:   cfg.Question.SubmitTimeout,
		}),
		Voting:   service.NewVotingService(repo, clk, dispatcher, tallies),
		Results:  results,
		Registry: registry,
		Clock:    clk,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 定期关闭窗口结束的时段
	go service.NewSweeper(arbitration, locker, cfg.Server.SweepInterval).Run(ctx)

	// WebSocket推送计票更新
	hub := websocket.NewHub(results)
	go hub.Run(ctx)
	hubEvents, unsubscribe := dispatcher.Subscribe(256)
	go hub.Consume(ctx, hubEvents)

	opts := handlers.Options{
		JWTSecret:            cfg.Auth.JWTSecret,
		AdminKey:             cfg.Auth.AdminKey,
		EligibleVoterClasses: cfg.Auth.EligibleVoterClasses,
		ClaimLimiter:         limiter,
	}
	router := routes.SetupRouter(routes.Deps{
		Handler: handlers.NewHandler(svc, opts),
		Health:  handlers.NewHealthHandler(db, mqAdapter, dispatcher, limiter),
		Events:  handlers.NewEventStream(dispatcher),
		Hub:     hub,
		Options: opts,
	})
	log.Printf("路由设置完成, 时段: %d个, 窗口: %v, 时区: %s",
		len(registry.Markers()), registry.Window(), registry.Location())

	srv := routes.StartServer(router, cfg.Server.Port)
	log.Printf("消息队列状态: %v", mqAdapter.GetQueueStats(ctx))

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("关闭服务器...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	// 不接受新请求并等待现有请求完成
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务器强制关闭: %v", err)
	}

	cancel()
	unsubscribe()
	dispatcher.Stop()
	mqAdapter.Close()
	database.Close(db)
	cache.Close(redisClient)

	log.Println("服务器优雅关闭")
}

// initCacheAndLimiter 根据Redis是否可用选择锁、计票缓存和抢答限流的实现
func initCacheAndLimiter(cfg *config.Config, client *redis.Client) (cache.Locker, *cache.TallyCache, *handlers.RateLimiter) {
	var (
		locker  cache.Locker = cache.NewLocalLocker()
		tallies *cache.TallyCache
		primary cache.RateLimiter
	)
	if client != nil {
		locker = cache.NewDistributedLockService(client)
		tallies = cache.NewTallyCache(client, locker, 3*time.Second)
		primary = cache.NewTokenBucketRateLimiter(client, "claim", cfg.Limit.ClaimRate, cfg.Limit.ClaimBurst)
		log.Println("分布式锁和计票缓存初始化成功")
	}

	if !cfg.Limit.Enabled {
		return locker, tallies, nil
	}
	fallback := cache.NewLocalRateLimiter(cfg.Limit.ClaimRate, cfg.Limit.ClaimBurst)
	log.Printf("抢答限流已启用: %.1f/s, 突发 %d", cfg.Limit.ClaimRate, cfg.Limit.ClaimBurst)
	return locker, tallies, handlers.NewRateLimiter(cache.NewFallbackRateLimiter(primary, fallback))
}

// logEvent 消费消息队列中的事件，只记录日志
func logEvent(_ context.Context, e events.Event) error {
	log.Printf("事件已消费: type=%s slot=%s question=%s", e.Type, e.SlotKey, e.QuestionID)
	return nil
}
