package event

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"GotMail/tools/errs"

	"github.com/redis/go-redis/v9"
)

// ===== 配置 =====

// Options bound the replay window. Both limits apply together: an entry
// is retained while it is among the newest MaxEntries AND younger than TTL.
type Options struct {
	MaxEntries int           // 每用户保留条数
	TTL        time.Duration // 条目存活时间
	Clock      func() time.Time
}

func (o Options) norm() Options {
	if o.MaxEntries <= 0 {
		o.MaxEntries = 200
	}
	if o.TTL <= 0 {
		o.TTL = 10 * time.Minute
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// ReplayBuffer keeps the recent event tail per user so a reconnecting
// client can catch up from its last seen sequence. EventsSince returns
// ErrReplayGap when the requested range is no longer (or not yet)
// answerable and the client must full-resync.
type ReplayBuffer interface {
	Record(ctx context.Context, e *MailboxEvent) error
	EventsSince(ctx context.Context, userID string, lastSeq int64) ([]*MailboxEvent, error)
}

// gapError carries the reason for operators; clients only see resync_required.
func gapError(userID string, lastSeq int64, reason string) error {
	return errs.ErrReplayGap.WrapMsg(reason, "user", userID, "last_seq", strconv.FormatInt(lastSeq, 10))
}

// ===== Redis Streams 实现 =====
// One stream per user, entry ID <seq>-0 so the stream is indexed by the
// event sequence itself. Exact MAXLEN trim: the count bound is part of
// the gap-detection contract, approximate trimming would blur it.

type RedisReplay struct {
	rdb  *redis.Client
	seq  Sequencer
	opts Options
}

func NewRedisReplay(rdb *redis.Client, seq Sequencer, opts Options) *RedisReplay {
	return &RedisReplay{rdb: rdb, seq: seq, opts: opts.norm()}
}

func streamKey(userID string) string { return "mail:events:" + userID }

// 按时间裁剪最老的条目
// KEYS[1] = stream key
// ARGV[1] = 截止时间戳(毫秒)，ts 小于该值的条目删除
// ARGV[2] = 单次最多删除条数
// 返回：删除条数
var luaTrimByTime = redis.NewScript(`
local n = 0
while n < tonumber(ARGV[2]) do
  local res = redis.call("XRANGE", KEYS[1], "-", "+", "COUNT", 1)
  if #res == 0 then break end
  local id = res[1][1]
  local fields = res[1][2]
  local ts = 0
  for i = 1, #fields, 2 do
    if fields[i] == "ts" then ts = tonumber(fields[i+1]) end
  end
  if ts >= tonumber(ARGV[1]) then break end
  redis.call("XDEL", KEYS[1], id)
  n = n + 1
end
return n
`)

func (r *RedisReplay) Record(ctx context.Context, e *MailboxEvent) error {
	args := &redis.XAddArgs{
		Stream: streamKey(e.UserID),
		ID:     strconv.FormatInt(e.Sequence, 10) + "-0",
		MaxLen: int64(r.opts.MaxEntries),
		Values: map[string]any{
			"kind":    string(e.Kind),
			"payload": string(e.Payload),
			"ts":      e.PublishedAt.UnixMilli(),
		},
	}
	if err := r.rdb.XAdd(ctx, args).Err(); err != nil {
		return errs.WrapMsg(err, "replay record", "user", e.UserID, "seq", strconv.FormatInt(e.Sequence, 10))
	}
	// Stream lives a bit past the window so idle users do not pin keys.
	r.rdb.Expire(ctx, streamKey(e.UserID), r.opts.TTL*2)
	r.trim(ctx, e.UserID)
	return nil
}

func (r *RedisReplay) trim(ctx context.Context, userID string) {
	deadline := r.opts.Clock().Add(-r.opts.TTL).UnixMilli()
	_ = luaTrimByTime.Run(ctx, r.rdb, []string{streamKey(userID)}, deadline, r.opts.MaxEntries).Err()
}

func (r *RedisReplay) EventsSince(ctx context.Context, userID string, lastSeq int64) ([]*MailboxEvent, error) {
	head, err := r.seq.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	if lastSeq > head {
		return nil, gapError(userID, lastSeq, "client sequence ahead of counter")
	}
	if lastSeq == head {
		return nil, nil
	}

	r.trim(ctx, userID) // expired entries must not satisfy a replay

	from := strconv.FormatInt(lastSeq+1, 10) + "-0"
	rows, err := r.rdb.XRange(ctx, streamKey(userID), from, "+").Result()
	if err != nil {
		return nil, errs.WrapMsg(err, "replay read", "user", userID)
	}
	if len(rows) == 0 {
		return nil, gapError(userID, lastSeq, "requested range not retained")
	}

	out := make([]*MailboxEvent, 0, len(rows))
	next := lastSeq + 1
	for _, row := range rows {
		e, err := eventFromStream(userID, row)
		if err != nil {
			return nil, err
		}
		if e.Sequence != next {
			return nil, gapError(userID, lastSeq, "retained range starts past requested sequence")
		}
		next++
		out = append(out, e)
	}
	return out, nil
}

func eventFromStream(userID string, row redis.XMessage) (*MailboxEvent, error) {
	seqPart, _, _ := strings.Cut(row.ID, "-")
	seq, err := strconv.ParseInt(seqPart, 10, 64)
	if err != nil {
		return nil, errs.WrapMsg(err, "bad stream id", "id", row.ID)
	}
	e := &MailboxEvent{UserID: userID, Sequence: seq}
	if v, ok := row.Values["kind"].(string); ok {
		e.Kind = Kind(v)
	}
	if v, ok := row.Values["payload"].(string); ok {
		e.Payload = json.RawMessage(v)
	}
	if v, ok := row.Values["ts"].(string); ok {
		ms, _ := strconv.ParseInt(v, 10, 64)
		e.PublishedAt = time.UnixMilli(ms).UTC()
	}
	return e, nil
}

// ===== 内存实现 =====
// Used by tests and broker-less single-node runs. Same retention and gap
// semantics as the stream version.

type MemoryReplay struct {
	mu   sync.RWMutex
	seq  Sequencer
	opts Options
	ring map[string][]*MailboxEvent // ascending by sequence, contiguous
}

func NewMemoryReplay(seq Sequencer, opts Options) *MemoryReplay {
	return &MemoryReplay{seq: seq, opts: opts.norm(), ring: make(map[string][]*MailboxEvent)}
}

func (m *MemoryReplay) Record(_ context.Context, e *MailboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.ring[e.UserID]
	if n := len(entries); n > 0 && e.Sequence <= entries[n-1].Sequence {
		return nil // already recorded
	}
	entries = append(entries, e)
	if len(entries) > m.opts.MaxEntries {
		entries = entries[len(entries)-m.opts.MaxEntries:]
	}
	m.ring[e.UserID] = entries
	return nil
}

func (m *MemoryReplay) EventsSince(ctx context.Context, userID string, lastSeq int64) ([]*MailboxEvent, error) {
	head, err := m.seq.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	if lastSeq > head {
		return nil, gapError(userID, lastSeq, "client sequence ahead of counter")
	}
	if lastSeq == head {
		return nil, nil
	}

	deadline := m.opts.Clock().Add(-m.opts.TTL)

	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.ring[userID]

	out := make([]*MailboxEvent, 0, len(entries))
	next := lastSeq + 1
	for _, e := range entries {
		if e.Sequence <= lastSeq || !e.PublishedAt.After(deadline) {
			continue
		}
		if e.Sequence != next {
			return nil, gapError(userID, lastSeq, "retained range starts past requested sequence")
		}
		next++
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, gapError(userID, lastSeq, "requested range not retained")
	}
	return out, nil
}
