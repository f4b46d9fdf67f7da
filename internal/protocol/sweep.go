package protocol

import (
	"context"
	"time"

	"github.com/push-protocol/push-vnode-sub003/internal/metrics"
)

// Spaces linger this long past their scheduled end before the sweep deletes
// them, so participants can still fetch the transcript.
const spaceRetention = 14 * 24 * time.Hour

// SweepExpiredSpaces deletes spaces whose retention window has passed,
// including their messages, caches, and replicated blobs. Returns the number
// of spaces removed.
func (s *Service) SweepExpiredSpaces(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-spaceRetention)
	expired, err := s.store.ListExpiredSpaces(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	swept := 0
	for i := range expired {
		chat := &expired[i]
		unlock := s.locks.Lock(chat.ChatID)

		refs, err := s.store.DeleteChatMessages(ctx, chat.ChatID)
		if err != nil {
			unlock()
			s.log.Warn().Err(err).Str("chat", chat.ChatID).Msg("space sweep: message delete failed")
			continue
		}
		if err := s.store.DeleteChat(ctx, chat.ChatID); err != nil {
			unlock()
			s.log.Warn().Err(err).Str("chat", chat.ChatID).Msg("space sweep: chat delete failed")
			continue
		}
		unlock()

		if s.blobs != nil {
			s.blobs.Unpin(refs)
		}
		if s.cache != nil {
			if err := s.cache.DropChat(ctx, chat.ChatID); err != nil {
				s.log.Debug().Err(err).Str("chat", chat.ChatID).Msg("space sweep: cache drop failed")
			}
		}
		swept++
		metrics.SpacesSwept.Inc()
	}
	if swept > 0 {
		s.log.Info().Int("count", swept).Msg("expired spaces swept")
	}
	return swept, nil
}
