package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	body := "EVALPREP_DOTENV_A=from-file\nEVALPREP_DOTENV_B=from-file\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("EVALPREP_DOTENV_B", "from-env")
	t.Cleanup(func() { os.Unsetenv("EVALPREP_DOTENV_A") })

	if err := LoadDotEnv(path, true); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("EVALPREP_DOTENV_A"); got != "from-file" {
		t.Fatalf("A = %q", got)
	}
	if got := os.Getenv("EVALPREP_DOTENV_B"); got != "from-env" {
		t.Fatalf("existing variable overridden: %q", got)
	}
}

func TestLoadDotEnv_Missing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.env")
	if err := LoadDotEnv(missing, false); err != nil {
		t.Fatalf("optional missing file should be ignored: %v", err)
	}
	if err := LoadDotEnv(missing, true); err == nil {
		t.Fatalf("required missing file should fail")
	}
	if err := LoadDotEnv("", true); err != nil {
		t.Fatalf("empty path: %v", err)
	}
}
