package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const sessionTTL = 24 * time.Hour

// SessionStore persists live dialogue sessions in Redis so a crashed
// worker can hand a call back to a human with the transcript intact.
type SessionStore struct {
	rdb    *redis.Client
	tracer trace.Tracer
}

func NewSessionStore(rdb *redis.Client, tracer trace.Tracer) *SessionStore {
	if rdb == nil {
		panic("conversation: redis client cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("phoneagent.internal.conversation.session")
	}
	return &SessionStore{rdb: rdb, tracer: tracer}
}

func sessionKey(callID string) string {
	return fmt.Sprintf("call:session:%s", callID)
}

// Save persists the session with a 24 hour TTL.
func (s *SessionStore) Save(ctx context.Context, sess *Session) error {
	ctx, span := s.tracer.Start(ctx, "conversation.save_session")
	defer span.End()

	data, err := json.Marshal(sess)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: marshal session: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionKey(sess.CallID.String()), data, sessionTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: persist session: %w", err)
	}
	return nil
}

// Load retrieves a session by call id. Returns nil when none is stored.
func (s *SessionStore) Load(ctx context.Context, callID string) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.load_session")
	defer span.End()

	data, err := s.rdb.Get(ctx, sessionKey(callID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: load session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: decode session: %w", err)
	}
	return &sess, nil
}

// Delete removes a finished session.
func (s *SessionStore) Delete(ctx context.Context, callID string) error {
	ctx, span := s.tracer.Start(ctx, "conversation.delete_session")
	defer span.End()

	if err := s.rdb.Del(ctx, sessionKey(callID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: delete session: %w", err)
	}
	return nil
}
