// Package notifier raises desktop notifications for watch mode. Repeated
// notifications inside the cooldown are dropped.
package notifier

import (
	"sync"
	"time"
)

type Notifier struct {
	Cooldown time.Duration

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
	send func(title, message string) error
}

func New(cooldown time.Duration) *Notifier {
	return &Notifier{Cooldown: cooldown, now: time.Now, send: platformSend}
}

// Notify reports whether the notification was sent.
func (n *Notifier) Notify(title, message string) bool {
	n.mu.Lock()
	now := n.now()
	if !n.last.IsZero() && now.Sub(n.last) < n.Cooldown {
		n.mu.Unlock()
		return false
	}
	n.last = now
	n.mu.Unlock()

	return n.send(title, message) == nil
}
