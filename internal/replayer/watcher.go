package replayer

import (
	"context"
	"fmt"

	"github.com/quantrail/fixcore/internal/fixproto"
	"github.com/quantrail/fixcore/internal/ordlog"
)

// resendRequestMsgType is the FIX MsgType (35=) value for ResendRequest.
const resendRequestMsgType = "2"

const watcherFragmentLimit = 32

// ResendWatcher is the duty-cycle agent that observes one inbound stream
// for ResendRequest messages and drives a Replayer in response. Section
// 4.4 of spec.md specifies how a ResendRequest is answered but not what
// notices one arrive; the watcher is that missing piece, kept separate
// from Replayer itself so a Replayer can also be driven directly (as the
// test suite does) without a live subscription.
type ResendWatcher struct {
	sub           ordlog.Subscription
	replayer      *Replayer
	fragmentLimit int
}

// NewResendWatcher opens a subscription on receivedStreamID and returns a
// watcher that calls replayer.Replay for every ResendRequest fragment it
// observes.
func NewResendWatcher(log ordlog.Log, receivedStreamID int32, rp *Replayer) (*ResendWatcher, error) {
	sub, err := log.Subscribe(receivedStreamID)
	if err != nil {
		return nil, fmt.Errorf("replayer: watch received stream %d: %w", receivedStreamID, err)
	}

	return &ResendWatcher{sub: sub, replayer: rp, fragmentLimit: watcherFragmentLimit}, nil
}

// DoWork polls the inbound stream once, answering every ResendRequest it
// finds, and returns the number of resend requests served.
func (w *ResendWatcher) DoWork(ctx context.Context) (int, error) {
	var (
		served   int
		firstErr error
	)

	w.sub.Poll(func(frag ordlog.Fragment) {
		if firstErr != nil || frag.Status != ordlog.StatusOK || frag.Flags != ordlog.FlagUnfragmented {
			return
		}

		msgType, err := fixproto.MsgType(frag.Data)
		if err != nil || msgType != resendRequestMsgType {
			return
		}

		if _, err := w.replayer.Replay(frag.SessionID, frag.Data); err != nil {
			firstErr = fmt.Errorf("replayer: serve resend request for session %d: %w", frag.SessionID, err)

			return
		}

		served++
	}, w.fragmentLimit)

	return served, firstErr
}

// Close closes the watcher's subscription.
func (w *ResendWatcher) Close() error {
	return w.sub.Close()
}
