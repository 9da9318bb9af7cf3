package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Reply.MaxPerMessage != 4 {
		t.Errorf("reply max = %d, want default 4", cfg.Reply.MaxPerMessage)
	}
	if cfg.Sessions.Backend != "file" {
		t.Errorf("sessions backend = %q, want file", cfg.Sessions.Backend)
	}
}

func TestLoad_JSON5WithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{
		// bot identity
		account: { app_id: "102030" },
		reply: { max_per_message: 2 },
	}`
	if err := os.WriteFile(path, []byte(raw), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Account.AppID != "102030" {
		t.Errorf("app id = %q", cfg.Account.AppID)
	}
	if cfg.Reply.MaxPerMessage != 2 {
		t.Errorf("reply max = %d, want 2", cfg.Reply.MaxPerMessage)
	}
	// Untouched sections keep defaults.
	if cfg.Stream.MaxKeepalives != 4 {
		t.Errorf("stream max keepalives = %d, want default 4", cfg.Stream.MaxKeepalives)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{account: {app_id: "from-file"}}`), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BOTGATE_APP_ID", "from-env")
	t.Setenv("BOTGATE_CLIENT_SECRET", "s3cret")
	t.Setenv("BOTGATE_REPLY_MAX", "9")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Account.AppID != "from-env" {
		t.Errorf("app id = %q, want env value", cfg.Account.AppID)
	}
	if cfg.Account.ClientSecret != "s3cret" {
		t.Errorf("client secret not taken from env")
	}
	if cfg.Reply.MaxPerMessage != 9 {
		t.Errorf("reply max = %d, want 9", cfg.Reply.MaxPerMessage)
	}
}

func TestSave_NeverPersistsSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.Account.AppID = "102030"
	cfg.Account.ClientSecret = "super-secret"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "super-secret") {
		t.Error("client secret written to disk")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Account.AppID != "102030" {
		t.Errorf("app id after round-trip = %q", loaded.Account.AppID)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Error("empty app id should fail validation")
	}
	cfg.Account.AppID = "102030"
	if err := cfg.Validate(); err == nil {
		t.Error("empty client secret should fail validation")
	}
	cfg.Account.ClientSecret = "s"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
	cfg.Sessions.Backend = "redis"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown backend should fail validation")
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := ExpandHome("~/x"); got != home+"/x" {
		t.Errorf("ExpandHome(~/x) = %q", got)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("absolute path changed: %q", got)
	}
}
