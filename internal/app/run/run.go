package run

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/John-Robertt/coverfetch/internal/catalog"
	"github.com/John-Robertt/coverfetch/internal/config"
	"github.com/John-Robertt/coverfetch/internal/domain"
	"github.com/John-Robertt/coverfetch/internal/infra/fsx"
	"github.com/John-Robertt/coverfetch/internal/infra/httpx"
	"github.com/John-Robertt/coverfetch/internal/infra/imgx"
	"github.com/John-Robertt/coverfetch/internal/source"
)

// LockFileName 是输出目录下的运行锁（同一目录同一时间只允许一个 run）。
const LockFileName = ".coverfetch.lock"

// errAborted 表示因致命写入错误停止派发新任务。
var errAborted = errors.New("写入失败，已停止派发新任务")

// writeCover 发布封面文件；测试可替换它以模拟磁盘写满等错误。
var writeCover = fsx.WriteFileAtomicNoOverwrite

// Execute 执行一次 run，并返回对外稳定的 RunReport。
// 单条记录的任何失败都只影响该条记录；只有目录表/输出目录/锁这类问题会让整个 run 失败。
func Execute(ctx context.Context, eff config.EffectiveConfig, reg source.Registry) domain.RunReport {
	return ExecuteWithObserver(ctx, eff, reg, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 以输出进度/阶段信息。
//
// 并发模型：
// - 最多 eff.Concurrency 个任务同时运行，每个任务只写自己的文件路径
// - ctx 取消后不再派发新任务；已派发的任务用脱离取消的 ctx 跑完（每次请求仍受超时约束）
// - 未派发的记录以 interrupted 状态写入 report
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, reg source.Registry, obs Observer) domain.RunReport {
	if obs != nil {
		obs.OnStart(eff)
	}

	rr := domain.RunReport{
		RunID:     uuid.NewString(),
		Catalog:   eff.Catalog,
		OutDir:    eff.OutDir,
		DryRun:    eff.DryRun,
		StartedAt: time.Now().UTC(),
	}
	fail := func(code, msg string) domain.RunReport {
		rr.Items = append(rr.Items, syntheticFailed(code, msg))
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
		return rr
	}

	client, err := httpx.NewClient(httpx.Options{
		ProxyURL:        eff.ProxyURL,
		Timeout:         eff.Timeout,
		MaxConnsPerHost: eff.MaxConnsPerHost,
	})
	if err != nil {
		return fail(domain.ErrCodeConfigInvalid, fmt.Sprintf("proxy.url 无效：%v", err))
	}

	catalogStarted := time.Now()
	all, err := catalog.Load(eff.Catalog, eff.Delimiter)
	if err != nil {
		return fail(domain.ErrCodeCatalogInvalid, fmt.Sprintf("读取目录表失败：%v", err))
	}
	recs := catalog.FilterRegions(all, eff.Regions)
	if obs != nil {
		obs.OnPhaseDone("catalog", map[string]any{
			"records":  len(all),
			"selected": len(recs),
		}, time.Since(catalogStarted))
	}

	// dry-run 不创建目录、不加锁、不写任何文件。
	if !eff.DryRun {
		if err := fsx.EnsureDir(eff.OutDir); err != nil {
			if fsx.IsPathTypeConflict(err) {
				return fail(domain.ErrCodeTargetConflict, err.Error())
			}
			return fail(domain.ErrCodeIOFailed, fmt.Sprintf("创建输出目录失败：%v", err))
		}

		lock := flock.New(filepath.Join(eff.OutDir, LockFileName))
		locked, err := lock.TryLock()
		if err != nil {
			return fail(domain.ErrCodeIOFailed, fmt.Sprintf("获取运行锁失败：%v", err))
		}
		if !locked {
			return fail(domain.ErrCodeLocked, fmt.Sprintf("输出目录 %q 正被另一个 coverfetch 进程使用", eff.OutDir))
		}
		defer func() { _ = lock.Unlock() }()
	}

	workers := eff.Concurrency
	if workers < 1 {
		workers = 1
	}
	if obs != nil {
		obs.OnPhaseDone("exec", map[string]any{
			"workers":     workers,
			"total_items": len(recs),
		}, 0)
	}

	rr.Items, rr.Aborted = execAll(ctx, eff, recs, reg, client, workers, obs)

	rr.FinishedAt = time.Now().UTC()
	rr.Finalize()
	return rr
}

type execResult struct {
	pos int
	res domain.ItemResult
	dur time.Duration
}

// execAll 返回按目录表顺序排列的结果，以及提前停止派发的原因（未停止时为空）。
func execAll(ctx context.Context, eff config.EffectiveConfig, recs []domain.Record, reg source.Registry, c *http.Client, workers int, obs Observer) ([]domain.ItemResult, string) {
	launchCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)
	workCtx := context.WithoutCancel(ctx)

	items := make([]domain.ItemResult, len(recs))
	launched := make([]bool, len(recs))

	results := make(chan execResult, len(recs))
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		done := 0
		for r := range results {
			items[r.pos] = r.res
			done++
			if obs != nil {
				obs.OnItemDone(done, len(recs), r.res, r.dur)
			}
		}
	}()

	sem := semaphore.NewWeighted(int64(workers))
	var g errgroup.Group
	for i := range recs {
		if launchCtx.Err() != nil {
			break
		}
		if err := sem.Acquire(launchCtx, 1); err != nil {
			break
		}
		launched[i] = true
		rec := recs[i]
		pos := i
		g.Go(func() error {
			defer sem.Release(1)
			started := time.Now()
			res := execOne(workCtx, eff, rec, reg, c)
			if res.ErrorCode == domain.ErrCodeIOFailed && isFatalWriteError(res.fatalErr) {
				slog.Warn("写入失败，停止派发新任务", "file", res.File, "error", res.fatalErr)
				abort(fmt.Errorf("%w：%v", errAborted, res.fatalErr))
			}
			results <- execResult{pos: pos, res: res.ItemResult, dur: time.Since(started)}
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	<-collected

	cause := context.Cause(launchCtx)
	if cause == nil {
		return items, ""
	}
	reason := "运行被中断，未开始处理"
	if !errors.Is(cause, context.Canceled) {
		reason = cause.Error()
	}
	for i := range recs {
		if launched[i] {
			continue
		}
		items[i] = baseItem(recs[i])
		items[i].Status = domain.StatusInterrupted
		items[i].ErrorCode = domain.ErrCodeInterrupted
		items[i].ErrorMsg = reason
	}
	return items, reason
}

// itemOutcome 在 ItemResult 之外携带原始写入错误，供派发循环判断是否需要中止。
type itemOutcome struct {
	domain.ItemResult
	fatalErr error
}

func execOne(ctx context.Context, eff config.EffectiveConfig, rec domain.Record, reg source.Registry, c *http.Client) itemOutcome {
	out := itemOutcome{ItemResult: baseItem(rec)}
	item := &out.ItemResult

	name, err := domain.CoverFileName(rec.Serial)
	if err != nil {
		item.Status = domain.StatusFailed
		item.ErrorCode = domain.ErrCodeInvalidRecord
		item.ErrorMsg = fmt.Sprintf("无法生成文件名：%v", err)
		return out
	}
	item.File = name
	dst := filepath.Join(eff.OutDir, name)

	// 已存在即跳过：不发任何网络请求。
	exists, err := fsx.FileExists(dst)
	if err != nil {
		item.Status = domain.StatusFailed
		if fsx.IsPathTypeConflict(err) {
			item.ErrorCode = domain.ErrCodeTargetConflict
		} else {
			item.ErrorCode = domain.ErrCodeIOFailed
		}
		item.ErrorMsg = err.Error()
		return out
	}
	if exists {
		item.Status = domain.StatusExists
		return out
	}

	data, used, srcURL, attempts, err := source.FetchTrace(ctx, reg, rec, c)
	item.Attempts = toReportAttempts(attempts)
	for _, a := range attempts {
		slog.Debug("source attempt", "index", rec.Index, "name", rec.Name, "source", a.Source, "stage", a.Stage, "url", a.URL, "error", a.Err)
	}
	if err != nil {
		item.Status = domain.StatusFailed
		if source.AllMiss(attempts) {
			item.ErrorCode = domain.ErrCodeNotFound
		} else {
			item.ErrorCode = domain.ErrCodeFetchFailed
		}
		item.ErrorMsg = humanizeAttempts(attempts, err)
		return out
	}
	cover := domain.Cover{Data: data, Path: name, Source: used, SourceURL: srcURL}
	item.Source = cover.Source
	item.SourceURL = cover.SourceURL

	if eff.NormalizeJPEG {
		if b, changed, e := imgx.NormalizeJPEG(cover.Data, eff.MaxDimension); e != nil {
			// 不做图片有效性判断：解不开就按原样保存。
			slog.Debug("图片无法解码，按原始字节保存", "file", name, "error", e)
		} else if changed {
			cover.Data = b
		}
	}
	item.Bytes = len(cover.Data)

	if eff.DryRun {
		item.Status = domain.StatusDownloaded
		return out
	}

	if err := writeCover(eff.OutDir, cover.Path, cover.Data); err != nil {
		switch {
		case errors.Is(err, fs.ErrExist):
			// 目录表里有重复 serial：另一个任务先写完了。
			item.Status = domain.StatusExists
		case fsx.IsPathTypeConflict(err):
			item.Status = domain.StatusFailed
			item.ErrorCode = domain.ErrCodeTargetConflict
			item.ErrorMsg = err.Error()
		default:
			item.Status = domain.StatusFailed
			item.ErrorCode = domain.ErrCodeIOFailed
			item.ErrorMsg = fmt.Sprintf("写入封面失败：%v", err)
			out.fatalErr = err
		}
		return out
	}

	item.Status = domain.StatusDownloaded
	return out
}

// isFatalWriteError 判断写入错误是否意味着后续写入也必然失败（磁盘满/只读/无权限）。
func isFatalWriteError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ENOSPC) ||
		errors.Is(err, syscall.EROFS) ||
		errors.Is(err, fs.ErrPermission)
}

func baseItem(rec domain.Record) domain.ItemResult {
	return domain.ItemResult{
		Index:    rec.Index,
		Name:     rec.Name,
		Serial:   rec.Serial,
		Region:   rec.Region,
		Attempts: []domain.SourceAttempt{},
	}
}

func syntheticFailed(code, msg string) domain.ItemResult {
	return domain.ItemResult{
		Status:    domain.StatusFailed,
		ErrorCode: code,
		ErrorMsg:  msg,
		Attempts:  []domain.SourceAttempt{},
	}
}

func toReportAttempts(attempts []source.Attempt) []domain.SourceAttempt {
	out := make([]domain.SourceAttempt, 0, len(attempts))
	for _, a := range attempts {
		sa := domain.SourceAttempt{Source: a.Source, URL: a.URL, Stage: a.Stage}
		if a.Err != nil {
			sa.Error = describeError(a.Err)
		}
		out = append(out, sa)
	}
	return out
}

// humanizeAttempts 把整条来源链的失败原因压缩成一行。
func humanizeAttempts(attempts []source.Attempt, err error) string {
	if len(attempts) == 0 {
		return fmt.Sprintf("没有尝试任何来源：%v", err)
	}
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		parts = append(parts, a.Source+": "+describeError(a.Err))
	}
	prefix := "所有来源均未找到封面"
	if !source.AllMiss(attempts) {
		prefix = "所有来源均失败"
	}
	return prefix + "（" + strings.Join(parts, "; ") + "）"
}

func describeError(err error) string {
	if err == nil {
		return "ok"
	}

	var hs *source.HTTPStatusError
	if errors.As(err, &hs) {
		switch hs.StatusCode {
		case 404, 410:
			return fmt.Sprintf("HTTP %d（不存在）", hs.StatusCode)
		case 403, 429:
			return fmt.Sprintf("HTTP %d（可能触发反爬/限流，可降低并发或配置 proxy.url）", hs.StatusCode)
		default:
			return hs.Error()
		}
	}

	var se *source.SizeError
	if errors.As(err, &se) {
		return se.Error()
	}

	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return "超时"
	}
	low := strings.ToLower(err.Error())
	if strings.Contains(low, "tls") || strings.Contains(low, "handshake") {
		return "TLS 连接失败"
	}
	return err.Error()
}
