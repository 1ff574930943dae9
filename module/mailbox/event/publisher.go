package event

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"GotMail/logger"
	"GotMail/service/broker"
	"GotMail/tools/errs"
)

// Publisher assigns sequences and pushes mailbox events out. Mail
// mutations call it after their own write commits; a degraded result is
// a warning to log, never a reason to roll the mutation back.
type Publisher struct {
	seq   Sequencer
	buf   ReplayBuffer
	brk   broker.Broker
	clock func() time.Time
}

func NewPublisher(seq Sequencer, buf ReplayBuffer, brk broker.Broker) *Publisher {
	return &Publisher{seq: seq, buf: buf, brk: brk, clock: time.Now}
}

// PublishEvent buffers first, then publishes. A client reconnecting
// right after the mutation must find the event in the replay buffer even
// when it raced the live delivery.
//
// Errors:
//   - sequence assignment failed: no event exists, hard error.
//   - buffer or broker failed after assignment: the event (with its
//     sequence burned) is returned together with ErrPublishDegraded.
func (p *Publisher) PublishEvent(ctx context.Context, userID string, kind Kind, payload json.RawMessage) (*MailboxEvent, error) {
	seq, err := p.seq.Next(ctx, userID)
	if err != nil {
		return nil, errs.WrapMsg(err, "assign sequence", "user", userID)
	}
	e := &MailboxEvent{
		UserID:      userID,
		Sequence:    seq,
		Kind:        kind,
		Payload:     payload,
		PublishedAt: p.clock().UTC(),
	}

	degraded := func(cause error, stage string) (*MailboxEvent, error) {
		logger.Warnf("[Publisher] degraded stage=%s user=%s seq=%d err=%v", stage, userID, seq, cause)
		return e, errs.ErrPublishDegraded.WrapMsg(stage,
			"user", userID, "seq", strconv.FormatInt(seq, 10), "cause", cause.Error())
	}

	if err := p.buf.Record(ctx, e); err != nil {
		// Still try the live publish; online clients should not pay for
		// a buffer hiccup. The next resync will detect the hole.
		data, encErr := e.Encode()
		if encErr == nil {
			_ = p.brk.Publish(ctx, broker.UserTopic(userID), data)
		}
		return degraded(err, "buffer")
	}

	data, err := e.Encode()
	if err != nil {
		return degraded(err, "encode")
	}
	if err := p.brk.Publish(ctx, broker.UserTopic(userID), data); err != nil {
		return degraded(err, "publish")
	}
	return e, nil
}

// PublishJSON marshals v as the payload. Convenience for the services.
func (p *Publisher) PublishJSON(ctx context.Context, userID string, kind Kind, v any) (*MailboxEvent, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, errs.WrapMsg(err, "marshal payload", "user", userID, "kind", string(kind))
	}
	return p.PublishEvent(ctx, userID, kind, payload)
}
