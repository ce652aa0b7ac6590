package resetflow

import (
	"fmt"

	"go.uber.org/zap"
)

const (
	// CompletionToken is posted to the opener window. It is a fixed,
	// non-sensitive literal.
	CompletionToken = "authDone"
	// CompletionCallback is the page-level function an embedding client
	// may define to be told the flow completed.
	CompletionCallback = "onAuthDone"
	// AnyOrigin is the postMessage target origin. The token carries no
	// secret, so any origin may read it. Keep it that way unless the token
	// ever changes.
	AnyOrigin = "*"
)

type Channel string

const (
	ChannelCallback    Channel = "callback"
	ChannelPostMessage Channel = "postMessage"
	ChannelNone        Channel = "none"
)

// CompletionSignal records what was sent to the external caller.
type CompletionSignal struct {
	Channel Channel
	Payload string
}

// MessageTarget is a window reachable by cross-document messaging.
type MessageTarget interface {
	PostMessage(message, targetOrigin string) error
}

// HostBridge exposes what the hosting environment offers for completion
// notification. It is probed when the signal is sent, never before, since
// the host may install its callback late.
type HostBridge interface {
	// CompletionCallback returns nil when the host installed none.
	CompletionCallback() func()
	// Opener returns nil when there is no reachable opener window.
	Opener() MessageTarget
}

type Notifier interface {
	Channel() Channel
	Notify() error
}

type CallbackNotifier struct{ Callback func() }

func (CallbackNotifier) Channel() Channel { return ChannelCallback }

func (n CallbackNotifier) Notify() error {
	n.Callback()
	return nil
}

type WindowMessageNotifier struct{ Target MessageTarget }

func (WindowMessageNotifier) Channel() Channel { return ChannelPostMessage }

func (n WindowMessageNotifier) Notify() error {
	return n.Target.PostMessage(CompletionToken, AnyOrigin)
}

// NullNotifier is used when nobody is listening. The page navigation is
// then the only notification, which is fine.
type NullNotifier struct{}

func (NullNotifier) Channel() Channel { return ChannelNone }
func (NullNotifier) Notify() error    { return nil }

// SelectNotifier picks the first available channel: callback, then opener.
func SelectNotifier(bridge HostBridge) Notifier {
	if bridge == nil {
		return NullNotifier{}
	}
	if cb := bridge.CompletionCallback(); cb != nil {
		return CallbackNotifier{Callback: cb}
	}
	if target := bridge.Opener(); target != nil {
		return WindowMessageNotifier{Target: target}
	}
	return NullNotifier{}
}

// Signaler sends the completion signal. It is fire-and-forget: nothing is
// awaited or retried and a failure never reaches the caller.
type Signaler struct {
	logger *zap.SugaredLogger
}

func NewSignaler(logger *zap.SugaredLogger) *Signaler {
	return &Signaler{logger: logger}
}

func (s *Signaler) Signal(bridge HostBridge) CompletionSignal {
	n := SelectNotifier(bridge)
	sig := CompletionSignal{Channel: n.Channel(), Payload: CompletionToken}
	if err := notify(n); err != nil {
		s.logger.Infow("completion signal not delivered", "channel", sig.Channel, "err", err)
		return sig
	}
	s.logger.Debugw("completion signal sent", "channel", sig.Channel)
	return sig
}

func notify(n Notifier) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panicked: %v", r)
		}
	}()
	return n.Notify()
}
