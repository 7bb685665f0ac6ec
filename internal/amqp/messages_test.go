package amqp

import (
	"testing"

	"lifesync/internal/notify"
)

func TestNotificationMessageRoundTrip(t *testing.T) {
	msg := NewNotificationMessage(notify.Notification{
		Title:       "Sync failed",
		Description: "Change kept locally and queued",
		Severity:    notify.SeverityWarning,
	})
	if msg.Timestamp.IsZero() {
		t.Fatal("timestamp not set")
	}

	body, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := NotificationMessageFromJSON(body)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Title != msg.Title || back.Severity != "warning" {
		t.Fatalf("round trip mismatch: %+v", back)
	}

	if _, err := NotificationMessageFromJSON([]byte("{broken")); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
