package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func testNote() Notification {
	return Notification{
		At:         time.Unix(1_700_000_000, 0),
		PositionID: 7,
		Owner:      "0x00000000000000000000000000000000000000a1",
		Amount:     decimal.RequireFromString("1000.5"),
		Symbol:     "TOKEN",
		UnlockAt:   time.Unix(1_699_999_000, 0),
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNote()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "Position: #7") {
		t.Fatalf("text 缺少仓位编号: %q", received["text"])
	}
	if !strings.Contains(received["text"], "1000.5 TOKEN") {
		t.Fatalf("text 缺少金额: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNote()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestTelegramNotifierStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNote()); err == nil {
		t.Fatal("非 2xx 应报错")
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

type recordingNotifier struct {
	notes []Notification
	err   error
}

func (r *recordingNotifier) Notify(ctx context.Context, note Notification) error {
	r.notes = append(r.notes, note)
	return r.err
}

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	first := &recordingNotifier{err: errors.New("down")}
	second := &recordingNotifier{}
	f := Fanout{first, second, NewLogNotifier(zerolog.Nop())}

	err := f.Notify(context.Background(), testNote())
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(first.notes) != 1 || len(second.notes) != 1 {
		t.Fatalf("expected one delivery per channel, got %d and %d", len(first.notes), len(second.notes))
	}
	if second.notes[0].PositionID != 7 {
		t.Fatalf("unexpected position id %d", second.notes[0].PositionID)
	}
}

func TestFanoutEmptyIsNoop(t *testing.T) {
	if err := (Fanout{}).Notify(context.Background(), testNote()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
