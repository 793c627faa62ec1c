package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pelletier/go-toml/v2"
)

const (
	// ErrCodeNotFound 表示 --config 显式指定的配置文件不存在。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingCatalog 表示 CLI 与配置文件都没有给出目录表路径。
	ErrCodeMissingCatalog = "config_missing_catalog"
)

const (
	// FileName 是在 cwd 下自动发现的配置文件名。
	FileName = "coverfetch.toml"

	DefaultConcurrency = 10
	MaxConcurrency     = 32
	DefaultTimeout     = 10 * time.Second
	MaxTimeout         = 5 * time.Minute
	DefaultMinBytes    = 5000
	DefaultDelimiter   = ';'
	DefaultOutDirName  = "covers"
	DefaultLogLevel    = "info"

	DefaultLibretroBaseURL  = "https://raw.githubusercontent.com/libretro-thumbnails"
	DefaultLibretroSystem   = "Sega_-_Dreamcast"
	DefaultLaunchBoxBaseURL = "https://images.launchbox-games.com"
	DefaultMobyGamesBaseURL = "https://www.mobygames.com"
)

// CLIArgs 是 CLI 暴露的参数，并保留“是否显式指定”的信息，
// 保证 --dry-run=false 之类的显式值可以覆盖配置文件。
type CLIArgs struct {
	ConfigPath string

	Catalog    string
	OutDir     string
	ReportPath string
	LogLevel   string

	Regions    []string
	RegionsSet bool

	Concurrency    int
	ConcurrencySet bool

	Timeout    time.Duration
	TimeoutSet bool

	DryRun    bool
	DryRunSet bool
}

// FileConfig 对应 coverfetch.toml 的解析结构。
type FileConfig struct {
	Catalog         string         `toml:"catalog"`
	OutDir          string         `toml:"out_dir"`
	Delimiter       string         `toml:"delimiter"`
	Concurrency     int            `toml:"concurrency"`
	MaxConnsPerHost int            `toml:"max_conns_per_host"`
	TimeoutSeconds  float64        `toml:"timeout_seconds"`
	MinBytes        *int           `toml:"min_bytes"`
	DryRun          *bool          `toml:"dry_run"`
	Regions         []string       `toml:"regions"`
	NormalizeJPEG   bool           `toml:"normalize_jpeg"`
	MaxDimension    int            `toml:"max_dimension"`
	Report          string         `toml:"report"`
	LogLevel        string         `toml:"log_level"`
	Proxy           *ProxyConfig   `toml:"proxy"`
	Sources         *SourcesConfig `toml:"sources"`
}

type ProxyConfig struct {
	URL string `toml:"url"`
}

// SourcesConfig 允许替换各来源的站点地址（镜像/测试环境）。
type SourcesConfig struct {
	LibretroBaseURL  string `toml:"libretro_base_url"`
	LibretroSystem   string `toml:"libretro_system"`
	LaunchBoxBaseURL string `toml:"launchbox_base_url"`
	MobyGamesBaseURL string `toml:"mobygames_base_url"`
}

// EffectiveConfig 是合并并规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	ConfigPath string // 实际读取的配置文件；未读取时为空

	Catalog   string
	OutDir    string
	Delimiter rune
	Regions   []string

	Concurrency     int
	MaxConnsPerHost int // 0 表示不限制
	Timeout         time.Duration
	MinBytes        int
	DryRun          bool

	NormalizeJPEG bool
	MaxDimension  int

	ReportPath string
	LogLevel   slog.Level
	ProxyURL   string

	LibretroBaseURL  string
	LibretroSystem   string
	LaunchBoxBaseURL string
	MobyGamesBaseURL string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingCatalog:
		return fmt.Sprintf("%s：未指定目录表（命令行参数或配置文件 catalog 字段）", e.Code)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则：
// 1) 指定了 --config：必须存在
// 2) 未指定：尝试 <cwd>/coverfetch.toml（可选）
//
// 相对路径：CLI 中的相对 cwd；配置文件中的相对配置文件所在目录。
//
// 覆盖优先级：CLI > 配置文件 > 默认值。
// out_dir 的默认值是“目录表所在目录/covers”。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	var (
		cfgPath string
		fc      FileConfig
		exists  bool
	)
	if strings.TrimSpace(cli.ConfigPath) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
		fc, exists, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		if !exists {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
		}
	} else {
		cfgPath = filepath.Join(cwdAbs, FileName)
		fc, exists, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
	}

	cfgDir := cwdAbs
	if exists {
		cfgDir = filepath.Dir(cfgPath)
	} else {
		cfgPath = ""
	}

	eff, err := merge(cwdAbs, cfgDir, cli, fc)
	if err != nil {
		var ce *Error
		if errors.As(err, &ce) {
			if ce.Path == "" {
				ce.Path = cfgPath
			}
			return EffectiveConfig{}, ce
		}
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	eff.ConfigPath = cfgPath
	return eff, nil
}

func merge(cwdAbs, cfgDir string, cli CLIArgs, fc FileConfig) (EffectiveConfig, error) {
	eff := EffectiveConfig{}

	// catalog：CLI > config；必填。
	switch {
	case strings.TrimSpace(cli.Catalog) != "":
		eff.Catalog = absCleanFrom(cwdAbs, cli.Catalog)
	case strings.TrimSpace(fc.Catalog) != "":
		eff.Catalog = absCleanFrom(cfgDir, fc.Catalog)
	default:
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingCatalog}
	}

	// out_dir：CLI > config > <catalog 所在目录>/covers
	switch {
	case strings.TrimSpace(cli.OutDir) != "":
		eff.OutDir = absCleanFrom(cwdAbs, cli.OutDir)
	case strings.TrimSpace(fc.OutDir) != "":
		eff.OutDir = absCleanFrom(cfgDir, fc.OutDir)
	default:
		eff.OutDir = filepath.Join(filepath.Dir(eff.Catalog), DefaultOutDirName)
	}

	delim, err := parseDelimiter(fc.Delimiter)
	if err != nil {
		return EffectiveConfig{}, err
	}
	eff.Delimiter = delim

	if cli.RegionsSet {
		eff.Regions = cleanList(cli.Regions)
	} else {
		eff.Regions = cleanList(fc.Regions)
	}

	// concurrency：CLI > config > 默认；超出 [1, 32] 截断。
	concurrency := DefaultConcurrency
	if cli.ConcurrencySet {
		concurrency = cli.Concurrency
	} else if fc.Concurrency != 0 {
		concurrency = fc.Concurrency
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > MaxConcurrency {
		concurrency = MaxConcurrency
	}
	eff.Concurrency = concurrency

	timeout := DefaultTimeout
	if cli.TimeoutSet {
		timeout = cli.Timeout
	} else if fc.TimeoutSeconds != 0 {
		timeout = time.Duration(fc.TimeoutSeconds * float64(time.Second))
	}
	if timeout <= 0 || timeout > MaxTimeout {
		return EffectiveConfig{}, fmt.Errorf("timeout 必须在 (0, %s] 内，实际 %s", MaxTimeout, timeout)
	}
	eff.Timeout = timeout

	eff.MinBytes = DefaultMinBytes
	if fc.MinBytes != nil {
		if *fc.MinBytes < 1 {
			return EffectiveConfig{}, fmt.Errorf("min_bytes 必须 >= 1，实际 %d", *fc.MinBytes)
		}
		eff.MinBytes = *fc.MinBytes
	}

	if cli.DryRunSet {
		eff.DryRun = cli.DryRun
	} else if fc.DryRun != nil {
		eff.DryRun = *fc.DryRun
	}

	if fc.MaxConnsPerHost < 0 {
		return EffectiveConfig{}, fmt.Errorf("max_conns_per_host 不能为负数：%d", fc.MaxConnsPerHost)
	}
	eff.MaxConnsPerHost = fc.MaxConnsPerHost

	if fc.MaxDimension < 0 {
		return EffectiveConfig{}, fmt.Errorf("max_dimension 不能为负数：%d", fc.MaxDimension)
	}
	if fc.MaxDimension > 0 && !fc.NormalizeJPEG {
		return EffectiveConfig{}, errors.New("max_dimension 需要同时设置 normalize_jpeg=true")
	}
	eff.NormalizeJPEG = fc.NormalizeJPEG
	eff.MaxDimension = fc.MaxDimension

	switch {
	case strings.TrimSpace(cli.ReportPath) != "":
		eff.ReportPath = absCleanFrom(cwdAbs, cli.ReportPath)
	case strings.TrimSpace(fc.Report) != "":
		eff.ReportPath = absCleanFrom(cfgDir, fc.Report)
	}

	levelName := DefaultLogLevel
	if strings.TrimSpace(cli.LogLevel) != "" {
		levelName = cli.LogLevel
	} else if strings.TrimSpace(fc.LogLevel) != "" {
		levelName = fc.LogLevel
	}
	level, err := ParseLogLevel(levelName)
	if err != nil {
		return EffectiveConfig{}, err
	}
	eff.LogLevel = level

	if fc.Proxy != nil {
		eff.ProxyURL = strings.TrimSpace(fc.Proxy.URL)
	}
	if eff.ProxyURL != "" {
		if err := validateHTTPURL("proxy.url", eff.ProxyURL); err != nil {
			return EffectiveConfig{}, err
		}
	}

	var sc SourcesConfig
	if fc.Sources != nil {
		sc = *fc.Sources
	}
	eff.LibretroBaseURL = orDefault(sc.LibretroBaseURL, DefaultLibretroBaseURL)
	eff.LibretroSystem = orDefault(sc.LibretroSystem, DefaultLibretroSystem)
	eff.LaunchBoxBaseURL = orDefault(sc.LaunchBoxBaseURL, DefaultLaunchBoxBaseURL)
	eff.MobyGamesBaseURL = orDefault(sc.MobyGamesBaseURL, DefaultMobyGamesBaseURL)
	for _, x := range []struct{ field, v string }{
		{"sources.libretro_base_url", eff.LibretroBaseURL},
		{"sources.launchbox_base_url", eff.LaunchBoxBaseURL},
		{"sources.mobygames_base_url", eff.MobyGamesBaseURL},
	} {
		if err := validateHTTPURL(x.field, x.v); err != nil {
			return EffectiveConfig{}, err
		}
	}

	return eff, nil
}

// ParseLogLevel 解析 debug/info/warn/error（大小写不敏感）。
func ParseLogLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level 无效：%q", s)
	}
	return l, nil
}

func parseDelimiter(s string) (rune, error) {
	switch s {
	case "":
		return DefaultDelimiter, nil
	case `\t`, "tab":
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || size != len(s) {
		return 0, fmt.Errorf("delimiter 必须是单个字符，实际 %q", s)
	}
	if r == '"' || r == '\r' || r == '\n' {
		return 0, fmt.Errorf("delimiter 不能是 %q", s)
	}
	return r, nil
}

func validateHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s 无效：%q", field, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s 必须是 http/https：%q", field, raw)
	}
	return nil
}

func orDefault(v, def string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	return v
}

func cleanList(xs []string) []string {
	out := make([]string, 0, len(xs))
	for _, x := range xs {
		if x = strings.TrimSpace(x); x != "" {
			out = append(out, x)
		}
	}
	return out
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 TOML 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	defer f.Close()

	if err := toml.NewDecoder(f).Decode(&fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
