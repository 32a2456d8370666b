package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("EARNINGS_PROVIDER", "openai")
	t.Setenv("EARNINGS_CONFIG_DIR", filepath.Join(t.TempDir(), "cfg"))
}

func TestLoad_Defaults(t *testing.T) {
	setupEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cfg.MaxBatchMethods != 15 || cfg.MaxHistoryPairs != 3 || cfg.MaxHumanTokens != 1000 {
		t.Fatalf("unexpected limits: %+v", cfg)
	}
	if cfg.MaxRetries != 3 || cfg.RetryBaseSeconds != 2 || cfg.Temperature != 0.1 {
		t.Fatalf("unexpected retry settings: %+v", cfg)
	}
	if cfg.OpenAIBaseURL != "https://api.groq.com/openai/v1" || cfg.OpenAIModel != "llama3-70b-8192" {
		t.Fatalf("unexpected model settings: %+v", cfg)
	}
	if cfg.Dedupe || cfg.BatchParallel {
		t.Fatal("dedupe and parallel dispatch are off by default")
	}
	if cfg.ConfigFile != "" {
		t.Fatalf("no config file expected, got %s", cfg.ConfigFile)
	}
}

func TestValidate_RequiresAPIKeyForOpenAI(t *testing.T) {
	setupEnv(t)
	t.Setenv("OPENAI_API_KEY", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load checks fields only: %v", err)
	}
	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected missing key error")
	}
	if !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := cfg.ValidateFields(); err != nil {
		t.Fatalf("fields are valid: %v", err)
	}

	cfg.Provider = ProviderDummy
	if err := cfg.Validate(); err != nil {
		t.Fatalf("dummy provider needs no key: %v", err)
	}
}

func TestLoad_ValidationNamesEnvVar(t *testing.T) {
	cases := map[string]string{
		"EARNINGS_MAX_BATCH_METHODS": "0",
		"EARNINGS_MAX_TURNS":         "0",
		"EARNINGS_PROVIDER":          "gigachat",
		"EARNINGS_LOG_LEVEL":         "verbose",
		"EARNINGS_TEMPERATURE":       "3",
		"OPENAI_BASE_URL":            "not a url",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setupEnv(t)
			t.Setenv(key, value)
			_, err := Load("")
			if err == nil {
				t.Fatalf("expected invalid %s error", key)
			}
			if !strings.Contains(err.Error(), key) {
				t.Fatalf("unexpected err: %v", err)
			}
		})
	}
}

func TestLoad_FileOverridesEnv(t *testing.T) {
	setupEnv(t)
	t.Setenv("EARNINGS_MAX_HISTORY_PAIRS", "5")
	path := filepath.Join(t.TempDir(), "earnings.yaml")
	content := "max_history_pairs: 2\ndedupe: true\nprovider: dummy\ndummy_script: \"msg:hi\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cfg.MaxHistoryPairs != 2 || !cfg.Dedupe || cfg.Provider != "dummy" || cfg.DummyScript != "msg:hi" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.MaxBatchMethods != 15 {
		t.Fatalf("unset file keys keep env values: %d", cfg.MaxBatchMethods)
	}
	if cfg.ConfigFile != path {
		t.Fatalf("unexpected config file: %s", cfg.ConfigFile)
	}
}

func TestLoad_FileInvalidYAML(t *testing.T) {
	setupEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("max_turns: [1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected missing file error")
	}
}

func TestLoad_DefaultFileAndPromptFromConfigDir(t *testing.T) {
	setupEnv(t)
	dir := filepath.Join(t.TempDir(), "cfg")
	t.Setenv("EARNINGS_CONFIG_DIR", dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("max_turns: 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "SYSTEM_PROMPT.md"), []byte("  be brief\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxTurns != 4 {
		t.Fatalf("default config file not applied: %d", cfg.MaxTurns)
	}
	if cfg.SystemPrompt != "be brief" {
		t.Fatalf("unexpected system prompt: %q", cfg.SystemPrompt)
	}
}

func TestLoad_EnvPromptWinsOverPromptFile(t *testing.T) {
	setupEnv(t)
	dir := filepath.Join(t.TempDir(), "cfg")
	t.Setenv("EARNINGS_CONFIG_DIR", dir)
	t.Setenv("EARNINGS_SYSTEM_PROMPT", "from env")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "SYSTEM_PROMPT.md"), []byte("from file"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SystemPrompt != "from env" {
		t.Fatalf("unexpected system prompt: %q", cfg.SystemPrompt)
	}
}

func TestResolveConfigDir_Priority(t *testing.T) {
	explicit := filepath.Join(t.TempDir(), "explicit")
	t.Setenv("EARNINGS_CONFIG_DIR", explicit)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(t.TempDir(), "xdg"))
	dir, explicitSet, err := resolveConfigDir()
	if err != nil {
		t.Fatal(err)
	}
	if !explicitSet {
		t.Fatal("expected explicit config dir")
	}
	if dir != explicit {
		t.Fatalf("unexpected explicit dir: %s", dir)
	}

	t.Setenv("EARNINGS_CONFIG_DIR", "")
	xdg := filepath.Join(t.TempDir(), "xdg2")
	t.Setenv("XDG_CONFIG_HOME", xdg)
	dir, explicitSet, err = resolveConfigDir()
	if err != nil {
		t.Fatal(err)
	}
	if explicitSet {
		t.Fatal("expected non-explicit config dir from XDG_CONFIG_HOME")
	}
	wantXDG := filepath.Join(xdg, "earnings-agent")
	if dir != wantXDG {
		t.Fatalf("unexpected xdg dir: got=%s want=%s", dir, wantXDG)
	}

	t.Setenv("XDG_CONFIG_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir, explicitSet, err = resolveConfigDir()
	if err != nil {
		t.Fatal(err)
	}
	if explicitSet {
		t.Fatal("expected non-explicit config dir from HOME")
	}
	wantHome := filepath.Join(home, ".config", "earnings-agent")
	if dir != wantHome {
		t.Fatalf("unexpected home dir: got=%s want=%s", dir, wantHome)
	}
}

func TestLoad_CreatesExplicitConfigDir(t *testing.T) {
	setupEnv(t)
	dir := filepath.Join(t.TempDir(), "cfg")
	t.Setenv("EARNINGS_CONFIG_DIR", dir)
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if _, statErr := os.Stat(dir); statErr != nil {
		t.Fatalf("expected explicit config dir created: %v", statErr)
	}
	if cfg.ConfigDir != dir {
		t.Fatalf("unexpected config dir: %s", cfg.ConfigDir)
	}
	if cfg.SystemPromptFile != filepath.Join(dir, "SYSTEM_PROMPT.md") {
		t.Fatalf("unexpected system prompt file: %s", cfg.SystemPromptFile)
	}
}

func TestLoad_DoesNotCreateDefaultConfigDir(t *testing.T) {
	setupEnv(t)
	t.Setenv("EARNINGS_CONFIG_DIR", "")
	t.Setenv("XDG_CONFIG_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	defaultDir := filepath.Join(home, ".config", "earnings-agent")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if _, statErr := os.Stat(defaultDir); !os.IsNotExist(statErr) {
		t.Fatalf("expected default dir not created, stat err=%v", statErr)
	}
	if cfg.ConfigDir != defaultDir {
		t.Fatalf("unexpected config dir: %s", cfg.ConfigDir)
	}
}
