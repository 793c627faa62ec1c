package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/John-Robertt/coverfetch/internal/app/run"
	"github.com/John-Robertt/coverfetch/internal/config"
	"github.com/John-Robertt/coverfetch/internal/domain"
	"github.com/John-Robertt/coverfetch/internal/infra/fsx"
	"github.com/John-Robertt/coverfetch/internal/source"
	"github.com/John-Robertt/coverfetch/internal/source/direct"
	"github.com/John-Robertt/coverfetch/internal/source/libretro"
)

const (
	exitOK          = 0
	exitFailed      = 1
	exitUsage       = 2
	exitInterrupted = 130
)

// exitError 携带退出码；RunE 返回它来结束进程（消息已在返回前输出）。
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit %d", e.code) }

// console 描述一次 CLI 调用的输出环境，测试里可以替换为 buffer。
type console struct {
	stdout    io.Writer
	stderr    io.Writer
	stdoutTTY bool
	stderrTTY bool
	cwd       string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], systemConsole())
	stop()
	os.Exit(code)
}

func systemConsole() console {
	cwd, _ := os.Getwd()
	return console{
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		stdoutTTY: isTTY(os.Stdout),
		stderrTTY: isTTY(os.Stderr),
		cwd:       cwd,
	}
}

func execute(ctx context.Context, args []string, con console) int {
	root := newRootCmd(con)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		// cobra 自身的参数/子命令错误。
		fmt.Fprintf(con.stderr, "参数错误：%v\n\n", err)
		fmt.Fprint(con.stderr, root.UsageString())
		return exitUsage
	}
	return exitOK
}

func newRootCmd(con console) *cobra.Command {
	root := &cobra.Command{
		Use:           "coverfetch",
		Short:         "按目录表批量下载游戏封面",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(con.stdout)
	root.SetErr(con.stderr)
	root.AddCommand(newRunCmd(con), newNameCmd(con))
	return root
}

type runFlags struct {
	configPath  string
	outDir      string
	reportPath  string
	logLevel    string
	regions     []string
	concurrency int
	timeout     time.Duration
	dryRun      bool
}

func newRunCmd(con console) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run [catalog]",
		Short: "读取目录表并下载缺失的封面",
		Long: `读取目录表（默认分隔符 ';'，列 name/serial/region），为每条记录按固定顺序尝试：
  libretro Named_Boxarts -> libretro Named_Titles -> LaunchBox -> MobyGames
已存在的封面文件直接跳过，从不覆盖。

stdout 不是终端时，stdout 只输出一个 RunReport JSON；进度与摘要写到 stderr。`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli := config.CLIArgs{
				ConfigPath:     f.configPath,
				OutDir:         f.outDir,
				ReportPath:     f.reportPath,
				LogLevel:       f.logLevel,
				Regions:        f.regions,
				RegionsSet:     cmd.Flags().Changed("region"),
				Concurrency:    f.concurrency,
				ConcurrencySet: cmd.Flags().Changed("concurrency"),
				Timeout:        f.timeout,
				TimeoutSet:     cmd.Flags().Changed("timeout"),
				DryRun:         f.dryRun,
				DryRunSet:      cmd.Flags().Changed("dry-run"),
			}
			if len(args) == 1 {
				cli.Catalog = args[0]
			}
			if code := runCatalog(cmd.Context(), con, cli); code != exitOK {
				return &exitError{code: code}
			}
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "配置文件路径（默认尝试 ./"+config.FileName+"）")
	fl.StringVarP(&f.outDir, "out", "o", "", "封面输出目录（默认：目录表所在目录/"+config.DefaultOutDirName+"）")
	fl.StringVar(&f.reportPath, "report", "", "把 RunReport JSON 写入该文件")
	fl.StringVar(&f.logLevel, "log-level", "", "日志级别：debug|info|warn|error（默认 "+config.DefaultLogLevel+"）")
	fl.StringArrayVar(&f.regions, "region", nil, "只处理该 region 的记录（可重复）")
	fl.IntVarP(&f.concurrency, "concurrency", "j", config.DefaultConcurrency, "并发数")
	fl.DurationVar(&f.timeout, "timeout", config.DefaultTimeout, "每次请求的超时")
	fl.BoolVar(&f.dryRun, "dry-run", false, "只检查与下载，不写入任何封面文件")
	return cmd
}

func newNameCmd(con console) *cobra.Command {
	return &cobra.Command{
		Use:   "name <serial>...",
		Short: "打印 serial 对应的封面文件名",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := exitOK
			for _, s := range args {
				name, err := domain.CoverFileName(s)
				if err != nil {
					fmt.Fprintf(con.stderr, "%q: %v\n", s, err)
					code = exitFailed
					continue
				}
				fmt.Fprintln(con.stdout, name)
			}
			if code != exitOK {
				return &exitError{code: code}
			}
			return nil
		},
	}
}

func runCatalog(ctx context.Context, con console, cli config.CLIArgs) int {
	eff, err := config.LoadEffective(con.cwd, cli)
	if err != nil {
		emitReport(con, reportForConfigError(cli, err))
		return exitFailed
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(con.stderr, &slog.HandlerOptions{Level: eff.LogLevel})))

	reg, err := buildRegistry(eff)
	if err != nil {
		fmt.Fprintf(con.stderr, "初始化 source registry 失败：%v\n", err)
		return exitFailed
	}

	progressW, interactive := pickProgressWriter(con)
	var obs run.Observer
	var ui *progressUI
	if interactive {
		ui = newProgressUI(progressW)
		obs = ui
	}

	rr := run.ExecuteWithObserver(ctx, eff, reg, obs)
	if ui != nil {
		ui.Stop()
	}

	code := exitCode(ctx, rr)
	if eff.ReportPath != "" {
		if err := writeReportFile(eff.ReportPath, rr); err != nil {
			fmt.Fprintf(con.stderr, "写入 report 失败：%v\n", err)
			code = exitFailed
		}
	}

	emitReport(con, rr)
	if interactive {
		emitLocations(progressW, eff)
	}
	return code
}

// buildRegistry 按固定优先级组装来源链。
func buildRegistry(eff config.EffectiveConfig) (source.Registry, error) {
	return source.NewRegistry(
		libretro.Source{Kind: libretro.Boxarts, BaseURL: eff.LibretroBaseURL, System: eff.LibretroSystem},
		libretro.Source{Kind: libretro.Titles, BaseURL: eff.LibretroBaseURL, System: eff.LibretroSystem},
		direct.Source{Site: direct.LaunchBox, BaseURL: eff.LaunchBoxBaseURL, MinBytes: eff.MinBytes},
		direct.Source{Site: direct.MobyGames, BaseURL: eff.MobyGamesBaseURL, MinBytes: eff.MinBytes},
	)
}

func exitCode(ctx context.Context, rr domain.RunReport) int {
	if ctx.Err() != nil {
		return exitInterrupted
	}
	if rr.Summary.Failed > 0 || rr.Summary.Interrupted > 0 {
		return exitFailed
	}
	return exitOK
}

func emitReport(con console, rr domain.RunReport) {
	if con.stdoutTTY {
		renderSummary(con.stdout, rr)
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 RunReport JSON（摘要走 stderr）。
	enc := json.NewEncoder(con.stdout)
	_ = enc.Encode(rr)
	renderSummary(con.stderr, rr)
}

func reportForConfigError(cli config.CLIArgs, err error) domain.RunReport {
	now := time.Now().UTC()
	rr := domain.RunReport{
		Catalog:    cli.Catalog,
		OutDir:     cli.OutDir,
		DryRun:     cli.DryRunSet && cli.DryRun,
		StartedAt:  now,
		FinishedAt: now,
		Items: []domain.ItemResult{{
			Status:    domain.StatusFailed,
			ErrorCode: config.Code(err),
			ErrorMsg:  err.Error(),
			Attempts:  []domain.SourceAttempt{},
		}},
	}
	rr.Finalize()
	return rr
}

func writeReportFile(path string, rr domain.RunReport) error {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	dir := filepath.Dir(path)
	if err := fsx.EnsureDir(dir); err != nil {
		return err
	}
	return fsx.WriteFileAtomicReplace(dir, filepath.Base(path), b)
}

func isTTY(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func pickProgressWriter(con console) (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if con.stderrTTY {
		return con.stderr, true
	}
	// 仅重定向 stderr 时 stdout 仍是 TTY：退化输出到 stdout。
	if con.stdoutTTY {
		return con.stdout, true
	}
	return nil, false
}

func emitLocations(w io.Writer, eff config.EffectiveConfig) {
	if w == nil {
		return
	}
	if eff.ReportPath != "" {
		fmt.Fprintf(w, "report: %s\n", eff.ReportPath)
	}
	fmt.Fprintf(w, "out: %s\n", eff.OutDir)
}
