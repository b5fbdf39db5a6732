package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/simatei/kpi/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	assert.Equal(t, cfg.SubmissionListLimit, 30000)
	assert.Equal(t, cfg.BatchSize, 1000)
	assert.Equal(t, cfg.KoBoCATInternalURL, cfg.KoBoCATURL)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kpi.yaml")
	yml := "docstore: memory\nrawlog_driver: sqlite\nrawlog_dsn: /tmp/log.db\nbatch_size: 50\nkobocat_url: http://kc.test\n"
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("DMS_BATCH_SIZE", "20")
	t.Setenv("KOBOCAT_INTERNAL_URL", "http://kobocat:8000")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	assert.Equal(t, cfg.DocStore, "memory")
	assert.Equal(t, cfg.RawLogDSN, "/tmp/log.db")
	assert.Equal(t, cfg.BatchSize, 20)
	assert.Equal(t, cfg.KoBoCATURL, "http://kc.test")
	assert.Equal(t, cfg.KoBoCATInternalURL, "http://kobocat:8000")
}

func TestLoadRejectsUnknownBackends(t *testing.T) {
	t.Setenv("DMS_DOCSTORE", "cassandra")
	if _, err := config.Load(""); err == nil {
		t.Fatalf("expected an error for an unknown docstore")
	}
}
