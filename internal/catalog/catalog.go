package catalog

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/John-Robertt/coverfetch/internal/domain"
)

// DefaultDelimiter 是目录表的默认分隔符。
const DefaultDelimiter = ';'

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// HeaderError 表示表头缺少必需列。
type HeaderError struct {
	Missing []string
	Header  []string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("表头缺少必需列 %v（实际表头：%v）", e.Missing, e.Header)
}

// Load 读取 path 指向的目录表。
func Load(path string, delim rune) ([]domain.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	recs, err := Read(f, delim)
	if err != nil {
		return nil, fmt.Errorf("%s：%w", path, err)
	}
	return recs, nil
}

// Read 解析带表头的分隔文本表，返回按原始顺序编号（从 1 开始）的记录。
//
// 规则：
// - 列名大小写不敏感，匹配 name / serial / region；其余列忽略
// - name 与 serial 列必须存在；region 可缺省
// - 全空行跳过（不占用 Index）
// - name 做 NFC 规范化（表格软件导出的 NFD 文本会导致 URL 不一致）
func Read(r io.Reader, delim rune) ([]domain.Record, error) {
	if delim == 0 {
		delim = DefaultDelimiter
	}

	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("目录表为空（缺少表头）")
		}
		return nil, err
	}

	col := map[string]int{"name": -1, "serial": -1, "region": -1}
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if idx, ok := col[key]; ok && idx < 0 {
			col[key] = i
		}
	}
	var missing []string
	for _, k := range []string{"name", "serial"} {
		if col[k] < 0 {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return nil, &HeaderError{Missing: missing, Header: header}
	}

	recs := make([]domain.Record, 0, 256)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if isBlank(row) {
			continue
		}
		recs = append(recs, domain.Record{
			Index:  len(recs) + 1,
			Name:   norm.NFC.String(field(row, col["name"])),
			Serial: field(row, col["serial"]),
			Region: field(row, col["region"]),
		})
	}
	return recs, nil
}

// FilterRegions 只保留 region 命中 regions 的记录（大小写不敏感）。
// regions 为空时原样返回。Index 保持不变，便于对照原始目录表。
func FilterRegions(recs []domain.Record, regions []string) []domain.Record {
	want := make(map[string]struct{}, len(regions))
	for _, r := range regions {
		r = strings.ToLower(strings.TrimSpace(r))
		if r != "" {
			want[r] = struct{}{}
		}
	}
	if len(want) == 0 {
		return recs
	}
	out := make([]domain.Record, 0, len(recs))
	for _, rec := range recs {
		if _, ok := want[strings.ToLower(strings.TrimSpace(rec.Region))]; ok {
			out = append(out, rec)
		}
	}
	return out
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
