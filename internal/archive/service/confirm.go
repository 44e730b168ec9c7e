package service

import (
	"time"

	errors "github.com/Laisky/errors/v2"
	gutils "github.com/Laisky/go-utils/v6"
	"github.com/google/uuid"
)

// ConfirmKind classifies a pending two-step operation; the TTL depends on
// how destructive the confirmed action is.
type ConfirmKind string

const (
	// ConfirmErase guards user-data erasure.
	ConfirmErase ConfirmKind = "erase"
	// ConfirmBackfillAll guards a full all-guild history replay.
	ConfirmBackfillAll ConfirmKind = "backfill_all"
)

const (
	eraseConfirmTTL    = 60 * time.Second
	backfillConfirmTTL = 5 * time.Minute
)

func (k ConfirmKind) ttl() time.Duration {
	if k == ConfirmErase {
		return eraseConfirmTTL
	}

	return backfillConfirmTTL
}

// pendingConfirm parks one destructive request until its initiator confirms.
// One pending operation per initiator; a new request replaces the old one.
type pendingConfirm struct {
	Token     uuid.UUID
	Kind      ConfirmKind
	Payload   any
	ExpiresAt time.Time
}

// TrackPending parks an operation and returns the token the initiator must
// echo back to confirm it.
func (s *Service) TrackPending(uid int64, kind ConfirmKind, payload any) uuid.UUID {
	token := uuid.New()
	s.pendingConfirms.Store(uid, &pendingConfirm{
		Token:     token,
		Kind:      kind,
		Payload:   payload,
		ExpiresAt: gutils.Clock.GetUTCNow().Add(kind.ttl()),
	})

	return token
}

// GetPending resolves a confirmation attempt. The parked payload is returned
// only when the token and kind match an unexpired session; an expired session
// is removed and reported as ErrConfirmationExpired.
func (s *Service) GetPending(uid int64, token uuid.UUID, kind ConfirmKind) (any, error) {
	raw, ok := s.pendingConfirms.Load(uid)
	if !ok {
		return nil, errors.Wrap(ErrConfirmationExpired, "no pending operation")
	}

	sess := raw.(*pendingConfirm)
	if gutils.Clock.GetUTCNow().After(sess.ExpiresAt) {
		s.pendingConfirms.Delete(uid)
		return nil, errors.Wrap(ErrConfirmationExpired, "confirmation window elapsed")
	}

	if sess.Kind != kind || sess.Token != token {
		return nil, errors.Wrap(ErrConfirmationExpired, "token mismatch")
	}

	s.pendingConfirms.Delete(uid)
	return sess.Payload, nil
}

// ClearPending drops the initiator's pending operation, if any.
func (s *Service) ClearPending(uid int64) {
	s.pendingConfirms.Delete(uid)
}
