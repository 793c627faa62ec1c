package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/John-Robertt/coverfetch/internal/config"
	"github.com/John-Robertt/coverfetch/internal/domain"
	"github.com/John-Robertt/coverfetch/internal/source"
)

func TestBuildRegistry_MinBytesFromConfigReachesDirectSources(t *testing.T) {
	sizes := map[string]int{"/games/Big-01.jpg": 150, "/games/Small-01.jpg": 100}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(make([]byte, sizes[r.URL.Path]))
	}))
	defer srv.Close()

	cwd := t.TempDir()
	cfg := "catalog = \"games.csv\"\nmin_bytes = 100\n[sources]\nlaunchbox_base_url = \"" + srv.URL + "\"\n"
	if err := os.WriteFile(filepath.Join(cwd, config.FileName), []byte(cfg), 0o644); err != nil {
		t.Fatalf("写入配置失败：%v", err)
	}
	eff, err := config.LoadEffective(cwd, config.CLIArgs{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	reg, err := buildRegistry(eff)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	want := []string{"libretro-boxart", "libretro-title", "launchbox", "mobygames"}
	if got := reg.Names(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("来源顺序不符合预期：%v", got)
	}

	lb, _ := reg.Get("launchbox")
	if _, _, err := lb.Fetch(context.Background(), domain.Record{Name: "Big"}, srv.Client()); err != nil {
		t.Fatalf("150 字节应满足 min_bytes=100：%v", err)
	}

	_, _, err = lb.Fetch(context.Background(), domain.Record{Name: "Small"}, srv.Client())
	var se *source.SizeError
	if !errors.As(err, &se) || se.Min != 101 {
		t.Fatalf("100 字节应因 min_bytes=100 被拒：%v", err)
	}
}

func TestExitCode(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	cases := []struct {
		name string
		ctx  context.Context
		sum  domain.ReportSummary
		want int
	}{
		{"all ok", context.Background(), domain.ReportSummary{Downloaded: 2, Exists: 1}, exitOK},
		{"failed", context.Background(), domain.ReportSummary{Downloaded: 1, Failed: 1}, exitFailed},
		// 磁盘写满等致命错误：未派发的记录是 interrupted，但不是用户中断。
		{"aborted by write error", context.Background(), domain.ReportSummary{Failed: 1, Interrupted: 4}, exitFailed},
		{"signal", cancelled, domain.ReportSummary{Downloaded: 1, Interrupted: 4}, exitInterrupted},
	}
	for _, tc := range cases {
		rr := domain.RunReport{Summary: tc.sum}
		if tc.sum.Interrupted > 0 {
			rr.Aborted = "写入失败，已停止派发新任务：no space left on device"
		}
		if got := exitCode(tc.ctx, rr); got != tc.want {
			t.Fatalf("%s：期望退出码 %d，实际 %d", tc.name, tc.want, got)
		}
	}
}
