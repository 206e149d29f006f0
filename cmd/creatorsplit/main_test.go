package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/djkazic/creatorsplit/internal/metrics"
)

func TestRouter(t *testing.T) {
	metrics.CyclesTotal.WithLabelValues("distributed").Inc()
	srv := httptest.NewServer(newRouter())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "creatorsplit_cycles_total") {
		t.Error("metrics output missing creatorsplit_cycles_total")
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("CREATORSPLIT_TEST_ENV_VALUE=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CREATORSPLIT_TEST_ENV_VALUE", "")
	os.Unsetenv("CREATORSPLIT_TEST_ENV_VALUE")

	if err := loadEnvFile(path); err != nil {
		t.Fatalf("loadEnvFile: %v", err)
	}
	if got := os.Getenv("CREATORSPLIT_TEST_ENV_VALUE"); got != "from-file" {
		t.Errorf("env value = %q", got)
	}

	if err := loadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("expected error for an explicit missing file")
	}
}
