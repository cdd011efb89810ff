package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"qrattendance/internal/audit"
	"qrattendance/internal/config"
	"qrattendance/internal/queue"
	"qrattendance/internal/store"
)

// Worker drains the audit queue and writes audit_logs rows. Keeping
// the writes out of the request path means a slow database never
// delays an attendance response.
func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(256)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.AuditQueueKey)
	}

	repo := audit.NewRepository(db.Client)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("audit worker started, waiting for events...")
	for msg := range messages {
		if msg.Type != audit.MessageType {
			continue
		}

		var evt audit.Event
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("drop malformed audit event: %v", err)
			continue
		}

		writeCtx, cancelWrite := context.WithTimeout(context.Background(), 5*time.Second)
		if err := repo.Insert(writeCtx, evt); err != nil {
			// Best effort trail: log and move on rather than retry.
			log.Printf("audit insert failed (%s/%s): %v", evt.Action, evt.EntityID, err)
		}
		cancelWrite()
	}

	log.Println("audit worker stopped")
}
