package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   Kind
	}{
		{400, "bad query", KindValidation},
		{401, "", KindAuth},
		{403, "forbidden", KindAuth},
		{404, "", KindNotFound},
		{409, "duplicate", KindConflict},
		{429, "", KindRateLimit},
		{500, "", KindTransient},
		{502, "", KindTransient},
		{503, "Model is currently loading", KindTransient},
		{503, "Rate limit reached for this model", KindRateLimit},
		{400, "You exceeded your monthly quota", KindRateLimit},
		{408, "", KindTransient},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", tt.status, tt.body), func(t *testing.T) {
			err := FromStatus("test", tt.status, tt.body)
			if err.Kind != tt.want {
				t.Errorf("expected kind %s, got %s", tt.want, err.Kind)
			}
			if err.Status != tt.want.Status() {
				t.Errorf("expected status %d, got %d", tt.want.Status(), err.Status)
			}
			if err.Upstream != tt.status {
				t.Errorf("expected upstream %d, got %d", tt.status, err.Upstream)
			}
		})
	}
}

func TestFromStatus_ErrorText(t *testing.T) {
	err := FromStatus("serp.google", 403, "blocked")
	if got, want := err.Error(), "serp.google: auth (401, upstream 403): blocked"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got, want := FromStatus("op", 429, "").Error(), "op: rate_limit (429)"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFromStatus_TruncatesOnRunes(t *testing.T) {
	body := strings.Repeat("é", 400)
	err := FromStatus("op", 500, body)
	if !utf8.ValidString(err.Message) {
		t.Fatal("message is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(err.Message); n != maxMessageRunes {
		t.Errorf("expected %d runes, got %d", maxMessageRunes, n)
	}

	short := FromStatus("op", 500, "  cafè  ")
	if short.Message != "cafè" {
		t.Errorf("short body altered: %q", short.Message)
	}
}

func TestClassify(t *testing.T) {
	netErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	if !IsTransient(Classify("op", netErr)) {
		t.Errorf("expected network error to classify as transient")
	}

	if !IsTransient(Classify("op", context.DeadlineExceeded)) {
		t.Errorf("expected deadline to classify as transient")
	}

	if err := Classify("op", context.Canceled); !errors.Is(err, context.Canceled) || KindOf(err) != KindInternal {
		t.Errorf("expected context.Canceled to pass through unclassified, got %v", err)
	}

	already := New(KindAuth, "op", "missing key")
	if got := Classify("other", already); got != error(already) {
		t.Errorf("expected classified error to pass through unchanged")
	}

	if Classify("op", nil) != nil {
		t.Errorf("expected nil for nil error")
	}
}

func TestWrappedHelpers(t *testing.T) {
	base := New(KindRateLimit, "llm.generate", "quota exhausted")
	wrapped := fmt.Errorf("synthesis failed: %w", base)

	if !IsRateLimit(wrapped) {
		t.Errorf("expected wrapped rate limit to be detected")
	}
	if StatusOf(wrapped) != 429 {
		t.Errorf("expected status 429, got %d", StatusOf(wrapped))
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Errorf("expected plain error to be internal")
	}
	if StatusOf(errors.New("plain")) != 500 {
		t.Errorf("expected plain error status 500")
	}
}

func TestMentionsRateLimit(t *testing.T) {
	if !MentionsRateLimit(errors.New("upstream said: Rate Limit exceeded")) {
		t.Errorf("expected text match on unclassified error")
	}
	if MentionsRateLimit(errors.New("connection reset")) {
		t.Errorf("expected no match")
	}
	if MentionsRateLimit(nil) {
		t.Errorf("expected false for nil")
	}
}

func TestError_Message(t *testing.T) {
	err := &Error{Kind: KindValidation, Status: 400, Op: "serp", Message: "query is empty"}
	want := "serp: validation (400): query is empty"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}
