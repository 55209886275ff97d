package config

// This file defines the Redis client constructor.  Redis holds the seat
// locks and the rate limiter buckets, so unlike the relational database it
// sits on the request path of every seat selection.  A failed ping at
// startup is returned to the caller, which refuses to start: seat locks
// must never silently degrade to "nothing is locked".

import (
    "context"
    "crypto/tls"
    "fmt"
    "net"
    "os"
    "time"

    "github.com/redis/go-redis/v9"
)

// RedisOptions reads the Redis connection settings from the environment:
// REDIS_HOST with REDIS_PORT, or REDIS_ADDR (default localhost:6379), plus
// REDIS_PASSWORD, REDIS_DB, REDIS_TLS and REDIS_POOL_SIZE.  Lock calls are
// short, so read and write timeouts are kept tight (REDIS_TIMEOUT, 500ms).
func RedisOptions() *redis.Options {
    addr := envStr("REDIS_ADDR", "localhost:6379")
    if host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT"); host != "" && port != "" {
        addr = net.JoinHostPort(host, port)
    }
    timeout := envDur("REDIS_TIMEOUT", 500*time.Millisecond)
    opts := &redis.Options{
        Addr:         addr,
        Password:     os.Getenv("REDIS_PASSWORD"),
        DB:           envInt("REDIS_DB", 0),
        PoolSize:     envInt("REDIS_POOL_SIZE", 0),
        ReadTimeout:  timeout,
        WriteTimeout: timeout,
    }
    if envBool("REDIS_TLS", false) {
        opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
    }
    return opts
}

// NewRedisClient connects with RedisOptions and pings the server with a
// short timeout.
func NewRedisClient(ctx context.Context) (*redis.Client, error) {
    opts := RedisOptions()
    client := redis.NewClient(opts)
    pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    if err := client.Ping(pingCtx).Err(); err != nil {
        _ = client.Close()
        return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
    }
    return client, nil
}
