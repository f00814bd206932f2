package client

import (
	"context"
	"time"

	"github.com/tbourn/go-support-widget/internal/domain"
)

// DefaultFastInterval is the delay between poll passes while a reply is
// expected. Short enough that the answer feels immediate in the widget.
const DefaultFastInterval = 500 * time.Millisecond

// Poller watches a session's transcript until the pending exchange settles.
//
// Each pass fetches the transcript and evaluates two independent stop
// conditions; either one ends the poll:
//
//  1. the newest bot message is newer than the newest user message, meaning
//     the reply has landed;
//  2. no message is pending or processing, meaning nothing more will arrive
//     (covers failed generation, which produces no bot message).
//
// Fetches are strictly sequential: the next tick is armed only after the
// previous response has been evaluated, so a slow server never stacks
// requests.
type Poller struct {
	Client    *Client
	SessionID string

	// FastInterval is the delay between passes; 0 means DefaultFastInterval.
	FastInterval time.Duration
}

// WaitForReply polls until a stop condition holds and returns the newest bot
// message, or nil when generation finished without producing one. Cancelling
// ctx stops polling immediately; server-side work is unaffected.
func (p *Poller) WaitForReply(ctx context.Context) (*domain.Message, error) {
	interval := p.FastInterval
	if interval <= 0 {
		interval = DefaultFastInterval
	}
	for {
		msgs, err := p.Client.ListAllMessages(ctx, p.SessionID)
		if err != nil {
			return nil, err
		}
		if bot, done := settled(msgs); done {
			return bot, nil
		}

		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// settled evaluates the stop conditions over a transcript. When polling may
// stop it returns the reply, which is the newest bot message only if it
// outranks the newest user message; a transcript that settles without such a
// reply yields nil.
func settled(msgs []domain.Message) (*domain.Message, bool) {
	var newestUser, newestBot *domain.Message
	outstanding := false
	for i := range msgs {
		m := &msgs[i]
		switch m.Sender {
		case domain.SenderUser:
			if newestUser == nil || after(m, newestUser) {
				newestUser = m
			}
		case domain.SenderBot:
			if newestBot == nil || after(m, newestBot) {
				newestBot = m
			}
		}
		if m.ProcessingStatus == domain.StatusPending || m.ProcessingStatus == domain.StatusProcessing {
			outstanding = true
		}
	}

	replyLanded := newestBot != nil && (newestUser == nil || after(newestBot, newestUser))
	if replyLanded {
		return newestBot, true
	}
	if !outstanding {
		// Nothing more will arrive and no reply outranks the latest user
		// message: the exchange failed. An older bot message from a previous
		// exchange must not be mistaken for the answer.
		return nil, true
	}
	return nil, false
}

// after reports whether a sorts after b; ids break created-at ties since the
// store assigns them monotonically.
func after(a, b *domain.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
