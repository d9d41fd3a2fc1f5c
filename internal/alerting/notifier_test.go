package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func testNote() Notification {
	return Notification{
		Account:        common.HexToAddress("0xBDD3B59416Fc0263354953aeeFC51Ba3A94E134e"),
		SupplyToken:    common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"),
		SupplyDecimals: 6,
		BorrowToken:    common.HexToAddress("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599"),
		BorrowDecimals: 8,
		Ratio:          decimal.RequireFromString("0.9"),
		Threshold:      decimal.RequireFromString("0.89"),
		SuppliedUSD:    decimal.NewFromInt(1000),
		BorrowedUSD:    decimal.NewFromInt(900),
		ComputedAt:     time.Now(),
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNote()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id = %#v", received)
	}
	text := received["text"]
	if !strings.Contains(text, "LIQUIDATION ALERT") {
		t.Fatalf("text missing alert header: %q", text)
	}
	if !strings.Contains(text, "90.00%") {
		t.Fatalf("text missing ratio percentage: %q", text)
	}
	if !strings.Contains(text, "Repaying some debt") {
		t.Fatalf("text missing remediation hint: %q", text)
	}
}

func TestTelegramNotifierNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNote()); err == nil {
		t.Fatal("ok=false should error")
	}
}

func TestTelegramNotifierHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNote()); err == nil {
		t.Fatal("HTTP 502 should error")
	}
}

func TestRenderMessageUndercollateralized(t *testing.T) {
	note := testNote()
	note.Undercollateralized = true
	note.SuppliedUSD = decimal.Zero

	text := renderMessage(note)
	if !strings.Contains(text, "zero collateral") {
		t.Fatalf("undercollateralized wording missing: %q", text)
	}
}
