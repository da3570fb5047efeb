package internal

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestNotebookConfig_AutosaveInterval(t *testing.T) {
	cfg := NotebookConfig{Path: "./nb", AutosaveSeconds: 30}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := cfg.AutosaveInterval(); got != 30*time.Second {
		t.Errorf("interval = %v, want 30s", got)
	}

	cfg.AutosaveSeconds = 0
	if got := cfg.AutosaveInterval(); got != 0 {
		t.Errorf("disabled interval = %v, want 0", got)
	}

	cfg.AutosaveSeconds = -1
	if err := cfg.Validate(); err == nil {
		t.Error("negative autosave should fail validation")
	}
}

func TestNotebookConfig_PathRequired(t *testing.T) {
	cfg := NotebookConfig{Path: ""}
	if err := cfg.Validate(); err == nil {
		t.Error("empty notebook path should fail validation")
	}
}

func TestIndexConfig_ResolvePath(t *testing.T) {
	cfg := IndexConfig{}
	want := filepath.Join("nb", ".canopy", "index.db")
	if got := cfg.ResolvePath("nb"); got != want {
		t.Errorf("derived path = %q, want %q", got, want)
	}

	cfg.Path = "/srv/canopy/index.db"
	if got := cfg.ResolvePath("nb"); got != "/srv/canopy/index.db" {
		t.Errorf("explicit path = %q", got)
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if !cfg.Index.Tasks || !cfg.Index.Search {
		t.Error("default config should enable all indexers")
	}
}
