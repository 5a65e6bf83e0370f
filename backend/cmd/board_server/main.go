package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"lekhaflow/backend/config"
	"lekhaflow/backend/internal/cache"
	"lekhaflow/backend/internal/events"
	"lekhaflow/backend/internal/httpapi/middleware"
	"lekhaflow/backend/internal/store"
	"lekhaflow/backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	db, err := gorm.Open(mysql.Open(cfg.Mysql.DSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect to mysql: %v", err)
	}
	if err := db.AutoMigrate(&store.Canvas{}, &store.CanvasSnapshot{}); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}

	kafkaCfg := sarama.NewConfig()
	// SyncProducer requires Return.Successes.
	kafkaCfg.Producer.Return.Successes = true
	kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
	if err != nil {
		log.Fatalf("failed to connect kafka: %v", err)
	}
	defer producer.Close()

	kafkaSem := events.NewSemaphore(100)
	dispatcher := events.NewDispatcher(producer, cfg.Kafka.Topic, kafkaSem, events.DispatcherOptions{
		QueueSize:   10_000,
		Workers:     4,
		MaxRetry:    3,
		BaseBackoff: 50 * time.Millisecond,
		MaxBackoff:  1 * time.Second,
	})

	presence := cache.NewRedisPresence(rdb)
	snapshots := store.NewSnapshotStore(db)
	canvases := store.NewCanvasStore(db)

	hub := ws.NewHub(snapshots, canvases, dispatcher, ws.HubOptions{
		ReapInterval:   cfg.ReapInterval(),
		CleanupTimeout: cfg.CleanupTimeout(),
	})
	hub.StartReaper(context.Background())

	manager := ws.NewManager(hub, presence, cfg.HeartbeatInterval())

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	board := r.Group("/board")
	board.Use(middleware.AuthMiddleware())
	board.GET("/ws", manager.WebSocketConnect)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "ok"})
	})

	log.Printf("board server listening on :%d", cfg.Running.Port)
	if err := r.Run(fmt.Sprintf(":%d", cfg.Running.Port)); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
