package fsx

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
)

// 可替换的函数指针：测试用来模拟 rename/link 失败。
var (
	renameFunc = os.Rename
	linkFunc   = os.Link
)

// PathTypeConflictError 表示目标路径类型冲突（例如期望文件但实际是目录）。
// 上层把它映射为 error_code=target_conflict。
type PathTypeConflictError struct {
	Path string
	Want string
	Got  string
}

func (e *PathTypeConflictError) Error() string {
	return fmt.Sprintf("目标路径类型冲突：%q（期望 %s，实际 %s）", e.Path, e.Want, e.Got)
}

func IsPathTypeConflict(err error) bool {
	var e *PathTypeConflictError
	return errors.As(err, &e)
}

// FileExists 报告 path 处是否已有普通文件（跟随 symlink）。
// 不存在返回 (false, nil)；存在但不是普通文件（含悬空 symlink）返回 *PathTypeConflictError。
func FileExists(path string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return false, err
		}
		// 悬空 symlink：Stat 报不存在，但 link 发布时目标名已被占用。
		if li, lerr := os.Lstat(path); lerr == nil && li.Mode()&fs.ModeSymlink != 0 {
			return true, &PathTypeConflictError{Path: path, Want: "file", Got: "broken symlink"}
		}
		return false, nil
	}
	if fi.IsDir() {
		return true, &PathTypeConflictError{Path: path, Want: "file", Got: "dir"}
	}
	if !fi.Mode().IsRegular() {
		return true, &PathTypeConflictError{Path: path, Want: "regular file", Got: fi.Mode().Type().String()}
	}
	return true, nil
}

// EnsureDir 确保 dir 是目录（不存在则创建）。
func EnsureDir(dir string) error {
	fi, err := os.Stat(dir)
	if err == nil {
		if fi.IsDir() {
			return nil
		}
		return &PathTypeConflictError{Path: dir, Want: "dir", Got: "file"}
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// WriteFileAtomicNoOverwrite 在 dir 下写入 name，且绝不覆盖已有文件。
//
// 数据先完整写入同目录临时文件，再用 link 发布到最终文件名：
// link 在目标已存在时原子失败，因此两个并发写同一路径时只有一个会成功，
// 另一个得到 os.ErrExist。文件系统不支持硬链接时退化为“检查 + rename”。
func WriteFileAtomicNoOverwrite(dir, name string, data []byte) error {
	dst := filepath.Join(filepath.Clean(dir), name)
	if ok, err := FileExists(dst); err != nil {
		return err
	} else if ok {
		return os.ErrExist
	}

	return writeViaTemp(dir, name, data, func(tmpName string) error {
		err := linkFunc(tmpName, dst)
		if err == nil {
			return nil
		}
		if errors.Is(err, fs.ErrExist) {
			return os.ErrExist
		}
		if ok, e := FileExists(dst); e != nil {
			return e
		} else if ok {
			return os.ErrExist
		}
		return renameFunc(tmpName, dst)
	})
}

// WriteFileAtomicReplace 写入并覆盖同名文件（report 等内部产物使用）。
func WriteFileAtomicReplace(dir, name string, data []byte) error {
	dst := filepath.Join(dir, name)
	return writeViaTemp(dir, name, data, func(tmpName string) error {
		return renameFunc(tmpName, dst)
	})
}

// writeViaTemp 写同目录临时文件（前缀 '.'，避免出现在封面目录的正常列表里），
// 然后调用 publish 把它放到最终位置。无论成败，临时文件都会被清理。
func writeViaTemp(dir, name string, data []byte, publish func(tmpName string) error) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := publish(tmpName); err != nil {
		return err
	}

	_ = syncDirBestEffort(dir)
	return nil
}

func syncDirBestEffort(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
