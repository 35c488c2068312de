// The relay server accepts document edits over HTTP and websockets, commits
// them to a Redis Stream, and fans committed edits back out to every live
// connection plus an optional webhook and Postgres archive.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"collabrelay/archive"
	"collabrelay/bus"
	"collabrelay/notify"
	"collabrelay/room"
	"collabrelay/server"
	"collabrelay/stream"
)

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	addr := getenv("RELAY_ADDR", ":8080")
	redisAddr := getenv("REDIS_ADDR", "localhost:6379")
	topic := getenv("RELAY_TOPIC", "edit-events")
	webhookURL := os.Getenv("WEBHOOK_URL")
	databaseURL := os.Getenv("DATABASE_URL")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := waitForRedis(ctx, rdb); err != nil {
		log.Fatalf("Could not connect to Redis at %s: %v", redisAddr, err)
	}
	log.Println("Connected to Redis successfully.")

	relayLog := stream.NewRedisLog(rdb, topic)
	b := bus.New(bus.DefaultCapacity)
	registry := room.NewMemberList()
	sink := notify.NewWebhook(webhookURL)

	var archiver stream.Archiver
	if databaseURL != "" {
		pool, err := pgxpool.New(ctx, databaseURL)
		if err != nil {
			log.Fatalf("Unable to connect to database: %v", err)
		}
		defer pool.Close()
		store := archive.NewStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			log.Fatalf("Unable to prepare archive schema: %v", err)
		}
		archiver = store
		log.Println("Connected to PostgreSQL successfully.")
	}

	consumer := stream.NewConsumer(relayLog, sink, archiver, b)
	go consumer.Run(ctx)

	if os.Getenv("RELAY_MDNS") != "" {
		go advertise(ctx, addr)
	}

	srv := &http.Server{
		Addr:    addr,
		Handler: server.New(ctx, relayLog, registry, b, relayLog).Router(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Relay server starting on %s...", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// waitForRedis retries the initial ping with backoff so a slow-starting log
// service does not take the relay down with it.
func waitForRedis(ctx context.Context, rdb *redis.Client) error {
	delay := 250 * time.Millisecond
	for {
		err := rdb.Ping(ctx).Err()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		log.Printf("Redis not ready, retrying in %v: %v", delay, err)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay = min(delay*2, 10*time.Second)
	}
}

// advertise registers the relay endpoint over mDNS for LAN clients.
func advertise(ctx context.Context, addr string) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		log.Printf("Skipping mDNS, cannot parse %q: %v", addr, err)
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		log.Printf("Skipping mDNS, bad port %q: %v", portStr, err)
		return
	}
	host, _ := os.Hostname()
	svc, err := zeroconf.Register(
		fmt.Sprintf("collabrelay-%s", host),
		"_collabrelay._tcp",
		"local.",
		port,
		[]string{"txtv=0"},
		nil,
	)
	if err != nil {
		log.Printf("Failed to register mDNS service: %v", err)
		return
	}
	defer svc.Shutdown()
	log.Printf("mDNS service registered on port %d", port)
	<-ctx.Done()
}
