package config

import (
	"os"
	"path/filepath"
	"testing"
)

func pairsToMap(pairs []string) map[string]string {
	m := make(map[string]string)
	for _, kv := range pairs {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				m[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return m
}

func TestLoadEnvFile(t *testing.T) {
	dotenv := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(dotenv, []byte("A=1\n#comment\nB=two\n\n  C = spaced \n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	pairs, err := LoadEnvFile(dotenv)
	if err != nil {
		t.Fatalf("load env file: %v", err)
	}
	m := pairsToMap(pairs)
	if m["A"] != "1" || m["B"] != "two" || m["C"] != "spaced" {
		t.Fatalf("unexpected pairs: %+v", m)
	}
	if _, ok := m["#comment"]; ok {
		t.Fatalf("comment line should be skipped")
	}
}

func TestGlobalEnv_Merge(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, "omnix.env")
	if err := os.WriteFile(dotenv, []byte("FILE_ONLY=fv\nSHARED=from-file\nCHAIN=${OMNIX_HOME}/models\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	cfgPath := filepath.Join(dir, "cfg.toml")
	data := `
[supervisor]
env_files = ["` + dotenv + `"]
env = ["OMNIX_HOME=/opt/omnix", "SHARED=from-toml"]
`
	if err := os.WriteFile(cfgPath, []byte(data), 0o644); err != nil {
		t.Fatalf("write cfg: %v", err)
	}
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	m := pairsToMap(cfg.GlobalEnv)
	if m["FILE_ONLY"] != "fv" {
		t.Fatalf("missing FILE_ONLY: %v", m["FILE_ONLY"])
	}
	// Inline env entries override env_files.
	if m["SHARED"] != "from-toml" {
		t.Fatalf("env should override env_files: %v", m["SHARED"])
	}
	// ${VAR} stays literal here; expansion happens in the env merge when a
	// service launches.
	if m["CHAIN"] != "${OMNIX_HOME}/models" {
		t.Fatalf("CHAIN should stay unexpanded: %v", m["CHAIN"])
	}
	// The OS environment is not baked into GlobalEnv; use_os_env makes the
	// env layer merge it at launch time.
	t.Setenv("OMNIXD_CONFIG_TEST_ONLY", "osv")
	cfg2, err := LoadConfig(cfgPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := pairsToMap(cfg2.GlobalEnv)["OMNIXD_CONFIG_TEST_ONLY"]; ok {
		t.Fatalf("OS env should not leak into GlobalEnv")
	}
}

func TestGlobalEnv_FileOrder(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.env")
	second := filepath.Join(dir, "b.env")
	if err := os.WriteFile(first, []byte("X=first\nONLY_A=1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(second, []byte("X=second\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "cfg.toml")
	data := `
[supervisor]
env_files = ["` + first + `", "` + second + `"]
`
	if err := os.WriteFile(cfgPath, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	m := pairsToMap(cfg.GlobalEnv)
	if m["X"] != "second" {
		t.Fatalf("later env file should win: %v", m["X"])
	}
	if m["ONLY_A"] != "1" {
		t.Fatalf("earlier file entries should survive: %v", m["ONLY_A"])
	}
}
