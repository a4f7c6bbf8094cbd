package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if len(cfg.Stages.Template) == 0 {
		t.Fatal("default template has no stages")
	}
	if cfg.Server.BasePath != "/v1" {
		t.Fatalf("base path = %q", cfg.Server.BasePath)
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
server:
  addr: 0.0.0.0:9000
stages:
  template:
    - name: Triage
      owner_email: triage@x.dev
    - name: Fix
webhooks:
  - url: https://example.com/hook
    kinds: [stage.advanced]
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.BasePath != "/v1" {
		t.Fatalf("base path default lost: %q", cfg.Server.BasePath)
	}
	if len(cfg.Stages.Template) != 2 || cfg.Stages.Template[0].OwnerEmail != "triage@x.dev" {
		t.Fatalf("template = %+v", cfg.Stages.Template)
	}
	if len(cfg.Webhooks) != 1 || cfg.Webhooks[0].Kinds[0] != "stage.advanced" {
		t.Fatalf("webhooks = %+v", cfg.Webhooks)
	}
}

func TestValidateRejectsDuplicateTemplateStages(t *testing.T) {
	_, err := FromYAML([]byte(`
stages:
  template:
    - name: Plan
    - name: " plan "
`))
	if err == nil {
		t.Fatal("duplicate template stages accepted")
	}
}

func TestValidateRejectsWebhookWithoutURL(t *testing.T) {
	_, err := FromYAML([]byte(`
webhooks:
  - secret: s
`))
	if err == nil {
		t.Fatal("webhook without url accepted")
	}
}

func TestLoadOptionalMissingFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr == "" {
		t.Fatal("expected defaults")
	}

	if err := os.WriteFile(filepath.Join(dir, "stageline.yml"), []byte("server:\n  addr: 1.2.3.4:80\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != "1.2.3.4:80" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
}
