// Package redis implements the job store on Redis Streams.
//
// Key layout, for a stream named S (default "jobs:v1:default"):
//
//   - S is the ready queue. Each entry carries only the job id; a consumer
//     group hands every entry to exactly one reader. Entries a reader never
//     acknowledges are taken over by another reader after ClaimIdle.
//   - S:delayed is a sorted set of job ids scored by RunAt (unix ms). Due
//     entries are promoted onto S before every read.
//   - S:index is a list of every job id, newest first, used for listings.
//   - job:{id} is a hash holding the job record.
//   - dlq:v1:{suffix of S} receives a copy of jobs that ran out of retries.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/aceteam-ai/jobloop/internal/job"
	"github.com/aceteam-ai/jobloop/internal/store"
)

var _ store.Store = (*Store)(nil)

// Config holds connection and naming settings for the Redis store.
type Config struct {
	URL      string
	Password string
	Stream   string
	Group    string

	// ClaimIdle is how long a delivered entry may stay unacknowledged
	// before another consumer takes it over (default: 15m). It must exceed
	// the longest job run.
	ClaimIdle time.Duration

	// Activity receives operational messages (dead-lettering, promotions).
	Activity func(level, msg string)
}

// Store is the Redis job store.
type Store struct {
	client   *redis.Client
	consumer string
	stream   string
	group     string
	claimIdle time.Duration
	opts      store.Options
	activity  func(level, msg string)
}

// DefaultClaimIdle is the ClaimIdle used when Config leaves it zero.
const DefaultClaimIdle = 15 * time.Minute

// Open connects to Redis and ensures the consumer group exists.
func Open(ctx context.Context, cfg Config, opts store.Options) (*Store, error) {
	redisOpts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.Password != "" {
		redisOpts.Password = cfg.Password
	}

	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s := New(client, cfg, opts)
	if err := s.ensureGroup(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing client. Call Open unless the consumer group is
// already in place.
func New(client *redis.Client, cfg Config, opts store.Options) *Store {
	if cfg.Stream == "" {
		cfg.Stream = "jobs:v1:default"
	}
	if cfg.Group == "" {
		cfg.Group = "jobloop-workers"
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = DefaultClaimIdle
	}
	activity := cfg.Activity
	if activity == nil {
		activity = func(string, string) {}
	}
	return &Store{
		client:    client,
		consumer:  fmt.Sprintf("jobloop-%s", uuid.New().String()[:8]),
		stream:    cfg.Stream,
		group:     cfg.Group,
		claimIdle: cfg.ClaimIdle,
		opts:      opts.WithDefaults(),
		activity:  activity,
	}
}

// Client returns the underlying client. Callers open a TxPipeline on it to
// pass to InsertJob.
func (s *Store) Client() *redis.Client { return s.client }

// Consumer returns this store's consumer name within the group.
func (s *Store) Consumer() string { return s.consumer }

func (s *Store) ensureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

func (s *Store) delayedKey() string { return s.stream + ":delayed" }
func (s *Store) indexKey() string   { return s.stream + ":index" }

func jobKey(id string) string { return "job:" + id }

// dlqName maps jobs:v1:x to dlq:v1:x and any other name to dlq:v1:{last segment}.
func (s *Store) dlqName() string {
	if strings.HasPrefix(s.stream, "jobs:v1:") {
		return "dlq:v1:" + strings.TrimPrefix(s.stream, "jobs:v1:")
	}
	parts := strings.Split(s.stream, ":")
	return "dlq:v1:" + parts[len(parts)-1]
}

// QueryNextJob promotes due delayed jobs, takes over one stale entry left
// unacknowledged by a consumer that died mid-job, and otherwise reads one
// new entry from the consumer group without blocking. It returns nil, nil
// when the queue is empty.
func (s *Store) QueryNextJob(ctx context.Context) (*job.Job, error) {
	now := s.now()
	if err := s.promoteDue(ctx, now); err != nil {
		return nil, err
	}

	for {
		msg, reclaimed, err := s.nextMessage(ctx)
		if err != nil || msg == nil {
			return nil, err
		}

		id, _ := msg.Values["jobId"].(string)
		j, err := s.GetJob(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			// Entry without a record: acknowledge and keep reading.
			s.activity("warning", fmt.Sprintf("dropping stream entry %s for unknown job %q", msg.ID, id))
			if err := s.client.XAck(ctx, s.stream, s.group, msg.ID).Err(); err != nil {
				return nil, fmt.Errorf("ack orphan entry: %w", err)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if reclaimed {
			if j.Status != job.StatusRunning && j.Status != job.StatusPending {
				// Finished but never acknowledged.
				if err := s.client.XAck(ctx, s.stream, s.group, msg.ID).Err(); err != nil {
					return nil, fmt.Errorf("ack stale entry: %w", err)
				}
				continue
			}
			s.activity("warning", fmt.Sprintf("reclaimed job %s abandoned by another consumer", j.ID))
		}

		j.Status = job.StatusRunning
		j.UpdatedAt = now
		if err := s.client.HSet(ctx, jobKey(j.ID),
			"status", string(job.StatusRunning),
			"message_id", msg.ID,
			"updated_at", now.UnixMilli(),
		).Err(); err != nil {
			return nil, fmt.Errorf("claim job %s: %w", j.ID, err)
		}
		return j, nil
	}
}

// nextMessage returns one pending entry idle for longer than claimIdle,
// transferred to this consumer, or else one never-delivered entry.
func (s *Store) nextMessage(ctx context.Context) (*redis.XMessage, bool, error) {
	stale, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.stream,
		Group:    s.group,
		Consumer: s.consumer,
		MinIdle:  s.claimIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("failed to reclaim stale entries: %w", err)
	}
	if len(stale) > 0 {
		return &stale[0], true, nil
	}

	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, ">"},
		Count:    1,
		Block:    -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read from stream: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, false, nil
	}
	return &streams[0].Messages[0], false, nil
}

// promoteDue moves delayed jobs whose RunAt has passed onto the stream.
func (s *Store) promoteDue(ctx context.Context, now time.Time) error {
	ids, err := s.client.ZRangeByScore(ctx, s.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("read delayed jobs: %w", err)
	}
	for _, id := range ids {
		// ZREM decides which reader promotes the job.
		removed, err := s.client.ZRem(ctx, s.delayedKey(), id).Result()
		if err != nil {
			return fmt.Errorf("promote job %s: %w", id, err)
		}
		if removed == 0 {
			continue
		}
		if err := s.enqueue(ctx, s.client, id); err != nil {
			return fmt.Errorf("promote job %s: %w", id, err)
		}
	}
	return nil
}

func (s *Store) enqueue(ctx context.Context, c redis.Cmdable, id string) error {
	return c.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{"jobId": id},
	}).Err()
}

// InsertJob stores a new pending job. tx may be nil or a redis.Pipeliner
// (typically Client().TxPipeline()); with a pipeline the writes are only
// queued and take effect when the caller calls Exec.
func (s *Store) InsertJob(ctx context.Context, in job.Input, tx any) (*job.Job, error) {
	var pipe redis.Pipeliner
	switch t := tx.(type) {
	case nil:
	case redis.Pipeliner:
		pipe = t
	default:
		return nil, fmt.Errorf("%w: %T", store.ErrUnsupportedTx, tx)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	payload := []byte("{}")
	if in.Payload != nil {
		b, err := json.Marshal(in.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		payload = b
	}

	now := s.now()
	j := &job.Job{
		ID:        uuid.New().String(),
		CompanyID: in.CompanyID,
		Type:      in.Type,
		Payload:   in.Payload,
		Status:    job.StatusPending,
		RunAt:     now.Add(in.Delay),
		CreatedAt: now,
		UpdatedAt: now,
	}

	own := pipe == nil
	if own {
		pipe = s.client.TxPipeline()
	}

	pipe.HSet(ctx, jobKey(j.ID), map[string]interface{}{
		"id":         j.ID,
		"company_id": j.CompanyID,
		"type":       j.Type,
		"retry":      j.Retry,
		"payload":    string(payload),
		"status":     string(j.Status),
		"error":      "",
		"run_at":     j.RunAt.UnixMilli(),
		"created_at": j.CreatedAt.UnixMilli(),
		"updated_at": j.UpdatedAt.UnixMilli(),
	})
	pipe.LPush(ctx, s.indexKey(), j.ID)
	if in.Delay > 0 {
		pipe.ZAdd(ctx, s.delayedKey(), redis.Z{Score: float64(j.RunAt.UnixMilli()), Member: j.ID})
	} else if err := s.enqueue(ctx, pipe, j.ID); err != nil {
		return nil, fmt.Errorf("queue job: %w", err)
	}

	if own {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("insert job: %w", err)
		}
	}
	return j, nil
}

// MarkCompleted acknowledges the job's stream entry and marks it completed.
func (s *Store) MarkCompleted(ctx context.Context, j *job.Job) error {
	msgID, err := s.messageID(ctx, j.ID)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	if msgID != "" {
		pipe.XAck(ctx, s.stream, s.group, msgID)
	}
	pipe.HSet(ctx, jobKey(j.ID),
		"status", string(job.StatusCompleted),
		"error", "",
		"updated_at", s.now().UnixMilli(),
	)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark completed %s: %w", j.ID, err)
	}
	return nil
}

// MarkFailed acknowledges the job's stream entry and applies the retry
// policy: the job is re-scheduled on the delayed set, or marked failed and
// copied to the dead-letter stream.
func (s *Store) MarkFailed(ctx context.Context, j *job.Job, cause error) error {
	msgID, err := s.messageID(ctx, j.ID)
	if err != nil {
		return err
	}

	now := s.now()
	out := store.NextAttempt(j, cause, s.opts, now)

	pipe := s.client.TxPipeline()
	if msgID != "" {
		pipe.XAck(ctx, s.stream, s.group, msgID)
	}
	pipe.HSet(ctx, jobKey(j.ID),
		"status", string(out.Status),
		"retry", out.Retry,
		"run_at", out.RunAt.UnixMilli(),
		"error", out.Error,
		"updated_at", now.UnixMilli(),
	)
	if out.Dead() {
		fields := map[string]interface{}{
			"original_message_id": msgID,
			"original_queue":      s.stream,
			"reason":              out.Error,
			"moved_at":            now.Format(time.RFC3339),
			"worker_id":           s.consumer,
			"jobId":               j.ID,
		}
		if payloadBytes, err := json.Marshal(j.Payload); err == nil {
			fields["payload"] = string(payloadBytes)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: s.dlqName(), Values: fields})
	} else {
		pipe.ZAdd(ctx, s.delayedKey(), redis.Z{Score: float64(out.RunAt.UnixMilli()), Member: j.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark failed %s: %w", j.ID, err)
	}

	if out.Dead() {
		s.activity("warning", fmt.Sprintf("job %s moved to %s after %d retries", j.ID, s.dlqName(), out.Retry))
	}
	return nil
}

func (s *Store) messageID(ctx context.Context, id string) (string, error) {
	vals, err := s.client.HMGet(ctx, jobKey(id), "id", "message_id").Result()
	if err != nil {
		return "", fmt.Errorf("read job %s: %w", id, err)
	}
	if vals[0] == nil {
		return "", store.ErrNotFound
	}
	msgID, _ := vals[1].(string)
	return msgID, nil
}

// GetJob returns one job.
func (s *Store) GetJob(ctx context.Context, id string) (*job.Job, error) {
	fields, err := s.client.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, store.ErrNotFound
	}
	return parseJob(fields)
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	ids, err := s.client.LRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, jobKey(id))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
	}

	limit := f.EffectiveLimit()
	out := make([]*job.Job, 0, min(limit, len(ids)))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		j, err := parseJob(fields)
		if err != nil {
			return nil, err
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		out = append(out, j)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *Store) now() time.Time {
	return s.opts.Clock.Now().UTC()
}

func parseJob(fields map[string]string) (*job.Job, error) {
	j := &job.Job{
		ID:        fields["id"],
		CompanyID: fields["company_id"],
		Type:      fields["type"],
		Status:    job.Status(fields["status"]),
		Error:     fields["error"],
	}

	var err error
	if j.Retry, err = strconv.Atoi(fields["retry"]); err != nil {
		return nil, fmt.Errorf("job %s: bad retry: %w", j.ID, err)
	}
	for _, f := range []struct {
		key string
		dst *time.Time
	}{
		{"run_at", &j.RunAt},
		{"created_at", &j.CreatedAt},
		{"updated_at", &j.UpdatedAt},
	} {
		ms, err := strconv.ParseInt(fields[f.key], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("job %s: bad %s: %w", j.ID, f.key, err)
		}
		*f.dst = time.UnixMilli(ms).UTC()
	}

	if p := fields["payload"]; p != "" && p != "{}" {
		if err := json.Unmarshal([]byte(p), &j.Payload); err != nil {
			return nil, fmt.Errorf("failed to parse job payload: %w", err)
		}
	}
	return j, nil
}
