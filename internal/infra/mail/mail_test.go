package mail

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"staybook/internal/app/policies"
)

func TestBuildMessages(t *testing.T) {
	msg := policies.Message{
		To:      "guest@example.com",
		Name:    "Ana",
		Subject: "Your stay is confirmed",
		Body:    "See you on 2025-04-10.",
		Event:   "booking.confirmed",
	}
	out, err := buildMessages(Sender{Email: "stays@example.com", Name: "Staybook"}, msg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(out.Info) != 1 {
		t.Fatalf("expected one message, got %d", len(out.Info))
	}
	info := out.Info[0]
	if info.From.Email != "stays@example.com" || info.Subject != msg.Subject || info.TextPart != msg.Body {
		t.Fatalf("unexpected message %+v", info)
	}
	if to := *info.To; len(to) != 1 || to[0].Email != "guest@example.com" {
		t.Fatalf("unexpected recipients %+v", to)
	}
	if info.HTMLPart != "" {
		t.Fatalf("messages are plain text only")
	}
}

func TestBuildMessagesRequiresRecipient(t *testing.T) {
	if _, err := buildMessages(Sender{Email: "a@b.c"}, policies.Message{}); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("expected ErrNoRecipient, got %v", err)
	}
}

func TestNewMailjetNotifierValidates(t *testing.T) {
	if _, err := NewMailjetNotifier("", "secret", Sender{Email: "a@b.c"}, nil); err == nil {
		t.Fatalf("expected credentials error")
	}
	if _, err := NewMailjetNotifier("key", "secret", Sender{}, nil); err == nil {
		t.Fatalf("expected sender error")
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := LogNotifier{Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	if err := n.Send(context.Background(), policies.Message{To: "host@example.com", Event: "booking.requested", Subject: "New request"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(buf.String(), "booking.requested") {
		t.Fatalf("expected event in log, got %q", buf.String())
	}
}
