package domain

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func TestRunReport_Finalize_SortAndSummaryAndUTC(t *testing.T) {
	r := RunReport{
		OutDir:     "/abs/covers",
		StartedAt:  time.Date(2026, 2, 9, 10, 0, 0, 0, time.FixedZone("X", 8*3600)),
		FinishedAt: time.Date(2026, 2, 9, 10, 0, 1, 0, time.FixedZone("X", 8*3600)),
		Items: []ItemResult{
			{Index: 3, Status: StatusExists},
			{Index: 0, Status: StatusFailed}, // catalog/config 等合成项
			{Index: 1, Status: StatusDownloaded},
			{Index: 2, Status: StatusFailed},
			{Index: 4, Status: StatusInterrupted},
		},
	}

	r.Finalize()

	got := []int{r.Items[0].Index, r.Items[1].Index, r.Items[2].Index, r.Items[3].Index, r.Items[4].Index}
	want := []int{1, 2, 3, 4, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("items 排序不符合契约：got=%v want=%v", got, want)
		}
	}
	s := r.Summary
	if s.Total != 4 || s.Downloaded != 1 || s.Exists != 1 || s.Failed != 2 || s.Interrupted != 1 {
		t.Fatalf("summary 统计不正确：%+v", s)
	}

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("json.Marshal 失败：%v", err)
	}
	if !bytes.Contains(b, []byte("\"started_at\":\"2026-02-09T02:00:00Z\"")) {
		t.Fatalf("started_at 不是 UTC RFC3339：%s", string(b))
	}
	if !bytes.Contains(b, []byte("\"attempts\":[]")) {
		t.Fatalf("nil attempts 应输出为 []：%s", string(b))
	}
	if r.Items[0].Attempts != nil {
		t.Fatalf("MarshalJSON 不应修改原始 items")
	}
}

func TestRunReport_FailedNames(t *testing.T) {
	r := RunReport{Items: []ItemResult{
		{Index: 1, Name: "Shenmue", Status: StatusFailed},
		{Index: 2, Name: "Crazy Taxi", Status: StatusDownloaded},
		{Index: 3, Serial: "MK-51000", Status: StatusFailed},
	}}
	r.Finalize()

	names := r.FailedNames()
	if len(names) != 2 || names[0] != "Shenmue" || names[1] != "MK-51000" {
		t.Fatalf("FailedNames 不符合预期：%v", names)
	}
}
