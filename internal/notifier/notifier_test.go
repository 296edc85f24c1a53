package notifier

import (
	"errors"
	"testing"
	"time"
)

func TestNotifyCooldown(t *testing.T) {
	clock := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	var sent []string
	n := New(5 * time.Second)
	n.now = func() time.Time { return clock }
	n.send = func(title, message string) error {
		sent = append(sent, title+": "+message)
		return nil
	}

	if !n.Notify("der", "run failed") {
		t.Fatal("first notification should be sent")
	}
	clock = clock.Add(2 * time.Second)
	if n.Notify("der", "run failed again") {
		t.Fatal("notification inside cooldown should be dropped")
	}
	clock = clock.Add(4 * time.Second)
	if !n.Notify("der", "third") {
		t.Fatal("notification after cooldown should be sent")
	}
	if len(sent) != 2 || sent[1] != "der: third" {
		t.Fatalf("unexpected notifications: %v", sent)
	}
}

func TestNotifyReportsSendFailure(t *testing.T) {
	n := New(0)
	n.send = func(string, string) error { return errors.New("no notifier") }
	if n.Notify("der", "x") {
		t.Fatal("expected failed send to report false")
	}
}
