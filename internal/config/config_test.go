package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"driftline/server/internal/modifier"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.TickRate != 15 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.KeyframeInterval != 60 || cfg.CommandCapacity != 512 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if len(cfg.LogSinks) != 1 || cfg.LogSinks[0] != "console" {
		t.Fatalf("unexpected sinks %v", cfg.LogSinks)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DRIFTLINE_ADDR", ":9090")
	t.Setenv("DRIFTLINE_TICK_RATE", "30")
	t.Setenv("DRIFTLINE_LOG_SINKS", "console,json")
	t.Setenv("DRIFTLINE_KEYFRAME_MAX_AGE", "2m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.TickRate != 30 {
		t.Fatalf("environment not applied %+v", cfg)
	}
	if cfg.KeyframeMaxAge != 2*time.Minute {
		t.Fatalf("duration not parsed, got %s", cfg.KeyframeMaxAge)
	}
	if len(cfg.LogSinks) != 2 || cfg.LogSinks[1] != "json" {
		t.Fatalf("sink list not split %v", cfg.LogSinks)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Server)
	}{
		{"zero tick rate", func(c *Server) { c.TickRate = 0 }},
		{"empty addr", func(c *Server) { c.Addr = "" }},
		{"negative catchup", func(c *Server) { c.CatchupMaxTicks = -1 }},
		{"zero keyframe interval", func(c *Server) { c.KeyframeInterval = 0 }},
		{"unknown sink", func(c *Server) { c.LogSinks = []string{"syslog"} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load()
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation failure")
			}
		})
	}
}

func TestLoadCategoriesDefaultsOnEmptyPath(t *testing.T) {
	categories, err := LoadCategories("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(categories) != len(modifier.DefaultCategories()) {
		t.Fatalf("expected built-in defaults, got %d categories", len(categories))
	}
}

func TestLoadCategoriesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "categories.json")
	doc := `{
  "ver": 1,
  "categories": [
    {"id": "haste", "levels": ["haste.minor", "haste.major"], "tieBreak": "highest"}
  ]
}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	categories, err := LoadCategories(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(categories) != 1 || categories[0].ID != "haste" {
		t.Fatalf("unexpected categories %+v", categories)
	}
	if len(categories[0].Levels) != 2 {
		t.Fatalf("ladder not preserved %+v", categories[0])
	}
}

func TestParseCategoriesRejectsBadDocuments(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"malformed", `{broken`},
		{"wrong version", `{"ver": 2, "categories": [{"id": "x", "levels": ["x.a"]}]}`},
		{"empty table", `{"ver": 1, "categories": []}`},
		{"duplicate id", `{"ver": 1, "categories": [{"id": "x", "levels": ["x.a"]}, {"id": "x", "levels": ["x.b"]}]}`},
		{"invalid category", `{"ver": 1, "categories": [{"id": "", "levels": []}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseCategories([]byte(tc.doc)); err == nil {
				t.Fatalf("expected error for %s", tc.doc)
			}
		})
	}
}

func TestMissingCategoryFile(t *testing.T) {
	if _, err := LoadCategories(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatalf("missing file must error")
	}
}
