package main

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"schoolcomm/internal/config"
	"schoolcomm/internal/domain"
)

func init() {
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReadMessageArg(t *testing.T) {
	got, err := readMessageArg([]string{"Attendance: 28/30"}, strings.NewReader("ignored"))
	if err != nil || got != "Attendance: 28/30" {
		t.Fatalf("arg: got %q, %v", got, err)
	}

	got, err = readMessageArg([]string{"-"}, strings.NewReader("Announcement: Trip\nBring lunch\n"))
	if err != nil || got != "Announcement: Trip\nBring lunch" {
		t.Fatalf("stdin: got %q, %v", got, err)
	}

	got, err = readMessageArg(nil, strings.NewReader("hello\n"))
	if err != nil || got != "hello" {
		t.Fatalf("no args: got %q, %v", got, err)
	}
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	src := t.TempDir()
	dbPath := filepath.Join(src, "schoolcomm.db")
	cfgPath := filepath.Join(src, "config.json")
	os.WriteFile(dbPath, []byte("sqlite data"), 0o600)
	os.WriteFile(dbPath+"-wal", nil, 0o600) // empty, skipped
	os.WriteFile(cfgPath, []byte(`{"server":{"port":3000}}`), 0o600)

	files := backupFiles(dbPath, cfgPath)
	if len(files) != 2 {
		t.Fatalf("expected db and config, got %v", files)
	}

	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	if err := createTarGz(archive, files); err != nil {
		t.Fatalf("create: %v", err)
	}

	dst := t.TempDir()
	restoredDB := filepath.Join(dst, "data", "restored.db")
	restoredCfg := filepath.Join(dst, "config.json")
	restored, err := extractTarGz(archive, restoredDB, restoredCfg)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(restored) != 2 {
		t.Fatalf("expected 2 restored files, got %v", restored)
	}

	data, _ := os.ReadFile(restoredDB)
	if string(data) != "sqlite data" {
		t.Errorf("db content = %q", data)
	}
	data, _ = os.ReadFile(restoredCfg)
	if !strings.Contains(string(data), "3000") {
		t.Errorf("config content = %q", data)
	}
}

func TestExtractTarGz_NotGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.tar.gz")
	os.WriteFile(path, []byte("plain text"), 0o600)
	if _, err := extractTarGz(path, "db", "cfg"); err == nil {
		t.Fatal("expected error for non-gzip input")
	}
}

func TestHumanSize(t *testing.T) {
	tests := map[int64]string{
		512:             "512 B",
		2048:            "2.0 KB",
		5 * 1024 * 1024: "5.0 MB",
		3 << 30:         "3.0 GB",
	}
	for in, want := range tests {
		if got := humanSize(in); got != want {
			t.Errorf("humanSize(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestServiceUnit(t *testing.T) {
	path, body, err := serviceUnit("linux", "/home/u", "/usr/bin/schoolcomm", "/etc/schoolcomm.json")
	if err != nil {
		t.Fatal(err)
	}
	if path != "/home/u/.config/systemd/user/schoolcomm.service" {
		t.Errorf("unexpected path %s", path)
	}
	if !strings.Contains(body, "ExecStart=/usr/bin/schoolcomm serve --config /etc/schoolcomm.json") {
		t.Errorf("unexpected unit:\n%s", body)
	}

	path, body, err = serviceUnit("darwin", "/Users/u", "/bin/sc", "/c.json")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(path, launchdLabel+".plist") || strings.Contains(body, "{{") {
		t.Errorf("unexpected plist %s:\n%s", path, body)
	}

	if _, _, err := serviceUnit("windows", "", "", ""); err == nil {
		t.Error("expected unsupported OS error")
	}
}

func TestRunSetup_Telegram(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	in := strings.NewReader("2\n123:abc\n\n8088\n")
	var out bytes.Buffer

	if err := runSetup(in, &out, cfgPath); err != nil {
		t.Fatalf("setup: %v\n%s", err, out.String())
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Telegram.Enabled || cfg.Telegram.Token != "123:abc" {
		t.Errorf("telegram not configured: %+v", cfg.Telegram)
	}
	if cfg.WhatsApp.Enabled || cfg.Dispatch.Transport != "telegram" || cfg.Server.Port != 8088 {
		t.Errorf("unexpected config: whatsapp=%v transport=%s port=%d",
			cfg.WhatsApp.Enabled, cfg.Dispatch.Transport, cfg.Server.Port)
	}
}

func TestRunSetup_WhatsAppGeneratesVerifyToken(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	in := strings.NewReader("1\ntoken\n12345\n\n\n\n\n")
	var out bytes.Buffer

	if err := runSetup(in, &out, cfgPath); err != nil {
		t.Fatalf("setup: %v\n%s", err, out.String())
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.WhatsApp.AccessToken != "token" || cfg.WhatsApp.PhoneNumberID != "12345" {
		t.Errorf("unexpected credentials: %+v", cfg.WhatsApp)
	}
	if len(cfg.WhatsApp.VerifyToken) != 36 {
		t.Errorf("expected generated uuid verify token, got %q", cfg.WhatsApp.VerifyToken)
	}
}

func TestBuildTransports(t *testing.T) {
	cfg := config.Defaults()
	tr, err := buildTransports(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if tr.outbound.Name() != "log" {
		t.Errorf("expected log fallback, got %s", tr.outbound.Name())
	}

	cfg.WhatsApp.Enabled = true
	cfg.WhatsApp.AccessToken = "t"
	cfg.WhatsApp.PhoneNumberID = "1"
	cfg.Telegram.Enabled = true
	cfg.Telegram.Token = "x"
	tr, err = buildTransports(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if tr.outbound.Name() != "whatsapp" {
		t.Errorf("auto should prefer whatsapp, got %s", tr.outbound.Name())
	}
	if len(tr.inbound()) != 2 || len(tr.registrars()) != 1 {
		t.Errorf("unexpected channel sets: %d inbound, %d registrars", len(tr.inbound()), len(tr.registrars()))
	}
	replies := tr.replies()
	if len(replies) != 2 || replies["whatsapp"] != domain.Transport(tr.whatsapp) || replies["telegram"] != domain.Transport(tr.telegram) {
		t.Errorf("each provider channel must answer its own senders, got %v", replies)
	}

	cfg.Dispatch.Transport = "telegram"
	tr, err = buildTransports(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if tr.outbound.Name() != "telegram" {
		t.Errorf("explicit transport ignored, got %s", tr.outbound.Name())
	}
	for _, s := range tr.status() {
		if s.Outbound != (s.Name == "telegram") {
			t.Errorf("status %+v: wrong outbound flag", s)
		}
	}

	cfg.Telegram.Token = ""
	tr, err = buildTransports(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.replies()["telegram"]; ok {
		t.Error("unconfigured telegram must reply through the outbound transport")
	}

	cfg.WhatsApp.Enabled = false
	cfg.Dispatch.Transport = "whatsapp"
	if _, err := buildTransports(cfg); err == nil {
		t.Error("expected error for disabled explicit transport")
	}
}
