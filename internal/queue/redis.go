package queue

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisTLSConfig controls TLS behaviour for Redis connections.
type RedisTLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// RedisQueueConfig configures the Redis Streams backed job queue.
type RedisQueueConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	Stream       string
	Group        string
	Consumer     string
	MasterName   string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BlockTimeout time.Duration
	PoolSize     int
	MaxAttempts  int
	// ClaimMinIdle is how long a delivered-but-unacknowledged job must sit
	// before another consumer may claim it.
	ClaimMinIdle time.Duration
	TLS          RedisTLSConfig
	Logger       *slog.Logger
}

const (
	defaultStream       = "streamvault:transcode"
	defaultGroup        = "transcode-workers"
	defaultBlockTimeout = 2 * time.Second
	defaultClaimMinIdle = time.Minute

	fieldVideoID    = "video_id"
	fieldAttempt    = "attempt"
	fieldEnqueuedAt = "enqueued_at"
)

// RedisQueue is a durable Queue backed by a Redis stream with a consumer
// group. Jobs stay pending until acknowledged, so a crashed worker's jobs are
// reclaimed by the next Consume loop.
type RedisQueue struct {
	client       redis.UniversalClient
	stream       string
	deadStream   string
	group        string
	consumer     string
	blockTimeout time.Duration
	claimMinIdle time.Duration
	maxAttempts  int
	logger       *slog.Logger
}

// NewRedisQueue initialises the stream and consumer group. The caller is
// responsible for ensuring the Redis instance is reachable.
func NewRedisQueue(cfg RedisQueueConfig) (*RedisQueue, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = defaultStream
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = defaultGroup
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "worker"
		}
		consumer = fmt.Sprintf("%s-%d", hostname, os.Getpid())
	}
	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		TLSConfig:    tlsConfig,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})
	q := &RedisQueue{
		client:       client,
		stream:       stream,
		deadStream:   stream + ":dead",
		group:        group,
		consumer:     consumer,
		blockTimeout: cfg.BlockTimeout,
		claimMinIdle: cfg.ClaimMinIdle,
		maxAttempts:  cfg.MaxAttempts,
		logger:       cfg.Logger,
	}
	if q.blockTimeout <= 0 {
		q.blockTimeout = defaultBlockTimeout
	}
	if q.claimMinIdle <= 0 {
		q.claimMinIdle = defaultClaimMinIdle
	}
	if q.maxAttempts <= 0 {
		q.maxAttempts = DefaultMaxAttempts
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	if err := q.ensureGroup(context.Background()); err != nil {
		client.Close()
		return nil, err
	}
	return q, nil
}

func buildTLSConfig(cfg RedisTLSConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" && cfg.ServerName == "" && !cfg.InsecureSkipVerify {
		return nil, nil
	}
	tlsConfig := &tls.Config{
		ServerName:         strings.TrimSpace(cfg.ServerName),
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read redis ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse redis ca file %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return nil, fmt.Errorf("redis tls cert and key must both be provided")
	}
	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

func (q *RedisQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Enqueue appends one job for the video id to the stream.
func (q *RedisQueue) Enqueue(ctx context.Context, videoID string) error {
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return errors.New("video id is required")
	}
	return q.add(ctx, videoID, 1)
}

func (q *RedisQueue) add(ctx context.Context, videoID string, attempt int) error {
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{
			fieldVideoID:    videoID,
			fieldAttempt:    attempt,
			fieldEnqueuedAt: time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue video %s: %w", videoID, err)
	}
	return nil
}

// Consume delivers jobs to handler until ctx is cancelled. Unacknowledged
// jobs left behind by dead consumers are periodically reclaimed.
func (q *RedisQueue) Consume(ctx context.Context, handler Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		claimed, err := q.claimStale(ctx)
		if err != nil {
			if !isRetryableRedisErr(err) {
				return err
			}
			q.logger.Warn("stale claim failed", "error", err)
		}
		if !claimed {
			if err := q.readNext(ctx, handler); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				q.logger.Error("queue read failed", "error", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(q.blockTimeout):
				}
			}
			continue
		}
		// A stale job was claimed; handle deliveries already buffered for
		// this consumer before claiming again.
		if err := q.handlePending(ctx, handler); err != nil {
			return err
		}
	}
}

func (q *RedisQueue) readNext(ctx context.Context, handler Handler) error {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    q.blockTimeout,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, stream := range streams {
		for _, message := range stream.Messages {
			q.dispatch(ctx, handler, message)
		}
	}
	return nil
}

// handlePending processes entries already assigned to this consumer (claimed
// from dead consumers) that XReadGroup ">" would skip.
func (q *RedisQueue) handlePending(ctx context.Context, handler Handler) error {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, "0"},
		Count:    16,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		q.logger.Error("pending read failed", "error", err)
		return nil
	}
	for _, stream := range streams {
		for _, message := range stream.Messages {
			if err := ctx.Err(); err != nil {
				return err
			}
			q.dispatch(ctx, handler, message)
		}
	}
	return nil
}

func (q *RedisQueue) claimStale(ctx context.Context) (bool, error) {
	messages, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.claimMinIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return len(messages) > 0, nil
}

func (q *RedisQueue) dispatch(ctx context.Context, handler Handler, message redis.XMessage) {
	job, ok := decodeJob(message)
	if !ok {
		q.logger.Error("discarding malformed queue entry", "entry_id", message.ID)
		q.ack(ctx, message.ID)
		return
	}
	if err := handler(ctx, job); err != nil {
		q.fail(ctx, message.ID, job, err)
		return
	}
	q.ack(ctx, message.ID)
}

func (q *RedisQueue) ack(ctx context.Context, entryID string) {
	if err := q.client.XAck(ctx, q.stream, q.group, entryID).Err(); err != nil {
		q.logger.Error("queue ack failed", "entry_id", entryID, "error", err)
		return
	}
	if err := q.client.XDel(ctx, q.stream, entryID).Err(); err != nil {
		q.logger.Warn("queue entry cleanup failed", "entry_id", entryID, "error", err)
	}
}

// fail re-enqueues the job with an incremented attempt counter, or moves it
// to the dead-letter stream when the budget is exhausted. The original entry
// is acknowledged either way so it cannot be claimed again.
func (q *RedisQueue) fail(ctx context.Context, entryID string, job Job, cause error) {
	if job.Attempt >= q.maxAttempts {
		err := q.client.XAdd(ctx, &redis.XAddArgs{
			Stream: q.deadStream,
			Values: map[string]interface{}{
				fieldVideoID:    job.VideoID,
				fieldAttempt:    job.Attempt,
				fieldEnqueuedAt: job.EnqueuedAt.Format(time.RFC3339Nano),
				"error":         cause.Error(),
			},
		}).Err()
		if err != nil {
			q.logger.Error("dead-letter write failed", "video_id", job.VideoID, "error", err)
			return
		}
		q.logger.Error("job dead-lettered",
			"video_id", job.VideoID, "attempts", job.Attempt, "error", cause)
		q.ack(ctx, entryID)
		return
	}
	if err := q.add(ctx, job.VideoID, job.Attempt+1); err != nil {
		q.logger.Error("job requeue failed", "video_id", job.VideoID, "error", err)
		return
	}
	q.logger.Warn("job requeued",
		"video_id", job.VideoID, "attempt", job.Attempt+1, "error", cause)
	q.ack(ctx, entryID)
}

func decodeJob(message redis.XMessage) (Job, bool) {
	videoID, _ := message.Values[fieldVideoID].(string)
	if strings.TrimSpace(videoID) == "" {
		return Job{}, false
	}
	job := Job{VideoID: videoID, Attempt: 1}
	if raw, ok := message.Values[fieldAttempt].(string); ok {
		if attempt, err := strconv.Atoi(raw); err == nil && attempt > 0 {
			job.Attempt = attempt
		}
	}
	if raw, ok := message.Values[fieldEnqueuedAt].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			job.EnqueuedAt = ts
		}
	}
	return job, true
}

// Depth reports the number of entries in the stream, which includes delivered
// but unacknowledged jobs.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.XLen(ctx, q.stream).Result()
}

// DeadLetterDepth reports how many jobs exhausted their attempt budget.
func (q *RedisQueue) DeadLetterDepth(ctx context.Context) (int64, error) {
	return q.client.XLen(ctx, q.deadStream).Result()
}

// Close releases the Redis client.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func isRetryableRedisErr(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

var _ Queue = (*RedisQueue)(nil)
