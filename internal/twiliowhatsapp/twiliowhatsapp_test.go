package twiliowhatsapp

import (
	"context"
	"testing"
)

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	err := mock.SendMessage(ctx, "12345", "Hello Test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msgs := mock.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Body != "Hello Test" {
		t.Errorf("expected body %q, got %q", "Hello Test", msgs[0].Body)
	}

	mock.FailSends = true
	if err := mock.SendMessage(ctx, "12345", "again"); err != ErrMockSendFailed {
		t.Errorf("expected ErrMockSendFailed, got %v", err)
	}
}

func TestPrefixHelpers(t *testing.T) {
	if got := WithPrefix("+5511999990000"); got != "whatsapp:+5511999990000" {
		t.Errorf("WithPrefix = %q", got)
	}
	if got := WithPrefix("whatsapp:+1555"); got != "whatsapp:+1555" {
		t.Errorf("WithPrefix must not double the prefix, got %q", got)
	}
	if got := StripPrefix(" whatsapp:+1555 "); got != "+1555" {
		t.Errorf("StripPrefix = %q", got)
	}
}

func TestNewClient(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok")); err == nil {
		t.Error("expected error without a sending number")
	}

	c, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok"), WithFromWhats("+14155238886"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.fromWhats != "whatsapp:+14155238886" {
		t.Errorf("unexpected from %q", c.fromWhats)
	}
	if user, pass := c.Credentials(); user != "AC1" || pass != "tok" {
		t.Errorf("unexpected credentials %s/%s", user, pass)
	}
	if c.ValidateSignature("https://example.com/webhook", map[string]string{"Body": "hi"}, "bogus") {
		t.Error("a bogus signature must not validate")
	}
}
