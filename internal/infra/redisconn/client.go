package redisconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Settings describe one redis endpoint.
type Settings struct {
	Addr       string
	Password   string
	DB         int
	TLSEnabled bool
	PoolSize   int
}

// Conn owns the process-wide redis client. It is the only place that opens
// or closes it; every other component borrows Client().
type Conn struct {
	client *redis.Client
	logger *zap.Logger
}

// Open dials addr and verifies the connection with a ping.
func Open(ctx context.Context, s Settings, logger *zap.Logger) (*Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	poolSize := s.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	opts := &redis.Options{
		Addr:     s.Addr,
		Password: s.Password,
		DB:       s.DB,

		PoolSize:     poolSize,
		MinIdleConns: 2,
		MaxRetries:   3,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
	}
	if s.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("redis connection established",
		zap.String("addr", s.Addr),
		zap.Int("db", s.DB),
		zap.Bool("tls_enabled", s.TLSEnabled),
	)

	return &Conn{client: client, logger: logger}, nil
}

// Client returns the shared client.
func (c *Conn) Client() *redis.Client {
	return c.client
}

// HealthCheck pings the server.
func (c *Conn) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close shuts the pool down. Call it once, at process shutdown, after every
// borrower has stopped.
func (c *Conn) Close() error {
	c.logger.Info("closing redis connection")
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}
