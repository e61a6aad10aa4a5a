package tui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-authgate/authclient/events"
	"github.com/go-authgate/authclient/token"
)

func update(t *testing.T, m Model, msgs ...any) Model {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		var ok bool
		m, ok = next.(Model)
		if !ok {
			t.Fatalf("Update returned %T, want Model", next)
		}
	}
	return m
}

func TestModelStatusLog(t *testing.T) {
	m := update(t, NewModel(),
		MsgSessionRestored{ExpiresIn: 10 * time.Minute},
		MsgRequesting{Method: "GET", Path: "/api/orders"},
		MsgRequestOK{Status: 200, Retries: 2},
		MsgRequestOK{Status: 200, Cached: true},
		MsgForceLogout{Err: errors.New("refresh rejected")},
	)

	want := []string{
		"Found existing session",
		"API call successful (HTTP 200) after 2 retries",
		"API call successful (HTTP 200), served from cache",
		"Session expired: refresh rejected",
	}
	if len(m.statusLines) != len(want) {
		t.Fatalf("got %d status lines, want %d", len(m.statusLines), len(want))
	}
	for i, line := range m.statusLines {
		if line.text != want[i] {
			t.Errorf("line %d = %q, want %q", i, line.text, want[i])
		}
	}
	if m.remaining != 0 {
		t.Errorf("remaining = %s after forced logout, want 0", m.remaining)
	}
}

func TestModelStates(t *testing.T) {
	m := update(t, NewModel(), MsgRefreshing{})
	if m.state != stateRefreshing {
		t.Fatalf("state = %d, want refreshing", m.state)
	}

	m = update(t, m, MsgRefreshOK{ExpiresIn: time.Hour})
	if m.state != stateInit {
		t.Errorf("state = %d after refresh, want init", m.state)
	}

	m = update(t, m, MsgBridgeServing{Addr: "127.0.0.1:9000"})
	if !strings.Contains(m.viewMain(), "127.0.0.1:9000") {
		t.Error("serving view does not show the listen address")
	}

	done := update(t, m, MsgDone{Summary: `{"ok":true}`})
	if done.state != stateSuccess || !strings.Contains(done.viewSuccess(), `{"ok":true}`) {
		t.Error("success view does not show the summary")
	}

	failed := update(t, m, MsgFatal{Err: errors.New("boom")})
	if failed.state != stateError || !strings.Contains(failed.viewError(), "boom") {
		t.Error("error view does not show the error")
	}
}

func TestPreview(t *testing.T) {
	body := strings.Repeat("line\n", maxSummaryLines+5)
	got := preview(body)
	if n := strings.Count(got, "line"); n != maxSummaryLines {
		t.Errorf("preview kept %d lines, want %d", n, maxSummaryLines)
	}
	if !strings.HasSuffix(got, "5 more lines") {
		t.Errorf("preview = %q, want a truncation note", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{-time.Second, "0s"},
		{45 * time.Second, "45s"},
		{90 * time.Second, "1m 30s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPlainDisplayer(t *testing.T) {
	var buf bytes.Buffer
	d := NewPlainDisplayer(&buf)

	d.LoggedIn("a@example.com")
	d.RequestOK(200, 1, false)
	d.ForceLogout(nil)

	out := buf.String()
	for _, want := range []string{
		"Logged in as a@example.com.",
		"API call successful! (HTTP 200 after 1 retries)",
		"Session expired, please log in again.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q does not contain %q", out, want)
		}
	}
}

func TestFollow(t *testing.T) {
	var buf bytes.Buffer
	bus := events.NewBus()
	stop := Follow(NewPlainDisplayer(&buf), bus)

	bus.Publish(events.Event{Topic: events.WebLoginSuccess, User: token.UserInfo{Email: "a@example.com"}})
	bus.Publish(events.Event{Topic: events.TokensWritten})
	bus.Publish(events.Event{Topic: events.AppLogout})
	stop()
	bus.Publish(events.Event{Topic: events.WebLogout})

	want := "Logged in as a@example.com.\nLogged out.\n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}
