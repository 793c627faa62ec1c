package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadEffective_MissingCatalog(t *testing.T) {
	cwd := t.TempDir()

	_, err := LoadEffective(cwd, CLIArgs{})
	if Code(err) != ErrCodeMissingCatalog {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeMissingCatalog, err, Code(err))
	}
}

func TestLoadEffective_ExplicitConfigNotFound(t *testing.T) {
	cwd := t.TempDir()

	_, err := LoadEffective(cwd, CLIArgs{ConfigPath: "nope.toml", Catalog: "c.csv"})
	if Code(err) != ErrCodeNotFound {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeNotFound, err, Code(err))
	}
}

func TestLoadEffective_Defaults(t *testing.T) {
	cwd := t.TempDir()

	eff, err := LoadEffective(cwd, CLIArgs{Catalog: "dreamcast/collection.csv"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Catalog != filepath.Join(cwd, "dreamcast", "collection.csv") {
		t.Fatalf("catalog 不符合预期：%q", eff.Catalog)
	}
	if eff.OutDir != filepath.Join(cwd, "dreamcast", "covers") {
		t.Fatalf("out_dir 默认值应为目录表旁的 covers：%q", eff.OutDir)
	}
	if eff.Concurrency != DefaultConcurrency || eff.Timeout != DefaultTimeout || eff.MinBytes != DefaultMinBytes {
		t.Fatalf("默认值不符合预期：%+v", eff)
	}
	if eff.Delimiter != ';' || eff.DryRun || eff.ConfigPath != "" {
		t.Fatalf("默认值不符合预期：%+v", eff)
	}
	if eff.LogLevel != slog.LevelInfo {
		t.Fatalf("默认日志级别应为 info，实际 %v", eff.LogLevel)
	}
	if eff.LibretroSystem != DefaultLibretroSystem || eff.MobyGamesBaseURL != DefaultMobyGamesBaseURL {
		t.Fatalf("source 默认值不符合预期：%+v", eff)
	}
}

func TestLoadEffective_FileValuesRelativeToConfigDir(t *testing.T) {
	cwd := t.TempDir()
	cfgDir := filepath.Join(cwd, "conf")
	writeFile(t, filepath.Join(cfgDir, "cf.toml"), []byte(`
catalog = "../data/collection.csv"
out_dir = "out"
delimiter = ","
concurrency = 99
timeout_seconds = 2.5
min_bytes = 1
max_conns_per_host = 4
dry_run = true
regions = ["PAL", " "]
normalize_jpeg = true
max_dimension = 600
log_level = "debug"

[proxy]
url = "http://127.0.0.1:8080"

[sources]
libretro_system = "Sega_-_Saturn"
`))

	eff, err := LoadEffective(cwd, CLIArgs{ConfigPath: "conf/cf.toml"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Catalog != filepath.Join(cwd, "data", "collection.csv") {
		t.Fatalf("catalog 应相对配置文件目录解析：%q", eff.Catalog)
	}
	if eff.OutDir != filepath.Join(cfgDir, "out") {
		t.Fatalf("out_dir 应相对配置文件目录解析：%q", eff.OutDir)
	}
	if eff.Concurrency != MaxConcurrency {
		t.Fatalf("concurrency 应截断为 %d，实际 %d", MaxConcurrency, eff.Concurrency)
	}
	if eff.Timeout != 2500*time.Millisecond || eff.MinBytes != 1 || eff.MaxConnsPerHost != 4 || !eff.DryRun || eff.Delimiter != ',' {
		t.Fatalf("字段不符合预期：%+v", eff)
	}
	if len(eff.Regions) != 1 || eff.Regions[0] != "PAL" {
		t.Fatalf("regions 不符合预期：%v", eff.Regions)
	}
	if !eff.NormalizeJPEG || eff.MaxDimension != 600 || eff.LogLevel != slog.LevelDebug {
		t.Fatalf("字段不符合预期：%+v", eff)
	}
	if eff.ProxyURL != "http://127.0.0.1:8080" || eff.LibretroSystem != "Sega_-_Saturn" {
		t.Fatalf("字段不符合预期：%+v", eff)
	}
	if eff.ConfigPath != filepath.Join(cfgDir, "cf.toml") {
		t.Fatalf("ConfigPath 不符合预期：%q", eff.ConfigPath)
	}
}

func TestLoadEffective_CLIOverridesFile(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), []byte(`
catalog = "a.csv"
concurrency = 4
dry_run = true
regions = ["PAL"]
`))

	eff, err := LoadEffective(cwd, CLIArgs{
		Catalog:        "b.csv",
		Concurrency:    0,
		ConcurrencySet: true,
		DryRun:         false,
		DryRunSet:      true, // --dry-run=false
		RegionsSet:     true, // --region 为空列表：不过滤
		Timeout:        time.Second,
		TimeoutSet:     true,
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Catalog != filepath.Join(cwd, "b.csv") {
		t.Fatalf("CLI catalog 应优先：%q", eff.Catalog)
	}
	if eff.Concurrency != 1 {
		t.Fatalf("concurrency 应截断为 1，实际 %d", eff.Concurrency)
	}
	if eff.DryRun {
		t.Fatalf("--dry-run=false 应覆盖配置文件")
	}
	if len(eff.Regions) != 0 {
		t.Fatalf("CLI regions 应优先：%v", eff.Regions)
	}
	if eff.Timeout != time.Second {
		t.Fatalf("CLI timeout 应优先：%s", eff.Timeout)
	}
}

func TestLoadEffective_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad toml":        `catalog = `,
		"bad delimiter":   "catalog = \"a.csv\"\ndelimiter = \";;\"",
		"bad proxy":       "catalog = \"a.csv\"\n[proxy]\nurl = \"socks\"",
		"bad base url":    "catalog = \"a.csv\"\n[sources]\nlaunchbox_base_url = \"ftp://x\"",
		"negative bytes":  "catalog = \"a.csv\"\nmin_bytes = -1",
		"zero bytes":      "catalog = \"a.csv\"\nmin_bytes = 0",
		"negative conns":  "catalog = \"a.csv\"\nmax_conns_per_host = -2",
		"dim without jpg": "catalog = \"a.csv\"\nmax_dimension = 100",
		"bad log level":   "catalog = \"a.csv\"\nlog_level = \"loud\"",
		"bad timeout":     "catalog = \"a.csv\"\ntimeout_seconds = -1",
	}
	for name, body := range cases {
		cwd := t.TempDir()
		writeFile(t, filepath.Join(cwd, FileName), []byte(body))

		_, err := LoadEffective(cwd, CLIArgs{})
		if Code(err) != ErrCodeInvalid {
			t.Fatalf("%s：期望 %q，实际 err=%v (code=%q)", name, ErrCodeInvalid, err, Code(err))
		}
	}
}

func TestParseDelimiter(t *testing.T) {
	cases := map[string]rune{"": ';', ",": ',', `\t`: '\t', "tab": '\t', "|": '|'}
	for in, want := range cases {
		got, err := parseDelimiter(in)
		if err != nil || got != want {
			t.Fatalf("parseDelimiter(%q)=%q,%v want %q", in, got, err, want)
		}
	}
}

func writeFile(t *testing.T, path string, b []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
}
