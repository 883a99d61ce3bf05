package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("Model", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.Server.Addr)
	}
	if cfg.Server.PingInterval != 25*time.Second {
		t.Fatalf("unexpected ping interval: %s", cfg.Server.PingInterval)
	}
	if cfg.AI.Enabled() {
		t.Fatal("expected AI disabled without credentials")
	}
	if cfg.AI.Temperature != nil {
		t.Fatal("expected temperature unset")
	}
}

func TestLoadPortForms(t *testing.T) {
	cases := map[string]string{
		"9000":           ":9000",
		":9001":          ":9001",
		"127.0.0.1:9002": "127.0.0.1:9002",
	}
	for port, want := range cases {
		t.Setenv("PORT", port)
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load(%q) err: %v", port, err)
		}
		if cfg.Server.Addr != want {
			t.Fatalf("PORT=%q: got %s want %s", port, cfg.Server.Addr, want)
		}
	}

	t.Setenv("PORT", "80 80")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid PORT")
	}
}

func TestLoadAIAndAdapters(t *testing.T) {
	t.Setenv("ARK_API_KEY", "key")
	t.Setenv("Model", "doubao")
	t.Setenv("ARK_TEMPERATURE", "0.3")
	t.Setenv("AI_HISTORY_LIMIT", "0")
	t.Setenv("RESERVATION_BASE_URL", "https://lib.libcal.com/")
	t.Setenv("RESERVATION_CLIENT_ID", "id")
	t.Setenv("RESERVATION_CLIENT_SECRET", "secret")
	t.Setenv("SOCKET_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if !cfg.AI.Enabled() {
		t.Fatal("expected AI enabled")
	}
	if cfg.AI.Temperature == nil || *cfg.AI.Temperature != 0.3 {
		t.Fatalf("unexpected temperature: %v", cfg.AI.Temperature)
	}
	if cfg.AI.HistoryLimit != 1 {
		t.Fatalf("history limit should be clamped to 1, got %d", cfg.AI.HistoryLimit)
	}
	if !cfg.Reservation.Enabled() {
		t.Fatal("expected reservation enabled")
	}
	if got := cfg.Reservation.OAuth().TokenURL; got != "https://lib.libcal.com/1.1/oauth/token" {
		t.Fatalf("unexpected token url: %s", got)
	}
	if cfg.Ticket.Enabled() {
		t.Fatal("expected ticket disabled")
	}
	if len(cfg.Server.AllowedOrigins) != 2 {
		t.Fatalf("unexpected origins: %v", cfg.Server.AllowedOrigins)
	}
}

func TestLoadClient(t *testing.T) {
	t.Setenv("CHAT_TAB_ID", "tab-1")

	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("LoadClient err: %v", err)
	}
	if cfg.TabID != "tab-1" || cfg.SocketURL != "ws://localhost:8080/socket" {
		t.Fatalf("unexpected client config: %+v", cfg)
	}
	if cfg.RedisTTL != 24*time.Hour {
		t.Fatalf("unexpected redis ttl: %s", cfg.RedisTTL)
	}
}
