package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fp/pkg/contract"
)

// Options 为文件输出 Writer 的配置。
type Options struct {
	// Path: 输出文件路径（必需）。
	Path string `yaml:"path"`
	// BaseDir: 可选根目录；设置后 Path 必须是其下的相对路径，禁止绝对路径与 '..' 逃逸。
	BaseDir string `yaml:"base_dir"`
	// Atomic: 是否写入同目录临时文件并在 Close 时原子替换。默认 true。
	Atomic *bool `yaml:"atomic"`
	// Separator: 记录分隔符，nil 取 "\n"。
	Separator *string `yaml:"separator"`
	// PermFile/PermDir: 可选权限；为 0 表示使用默认 0644/0755。
	PermFile os.FileMode `yaml:"perm_file"`
	PermDir  os.FileMode `yaml:"perm_dir"`
	// BufSize: 写缓冲区大小；<=0 使用默认 64KiB。
	BufSize int `yaml:"buf_size"`
}

// FS 将记录流写入单个文件。
// 原子模式下内容先落到 ".tmp-*"，Close 时 fsync + rename；Abort 删除临时文件，目标保持原样。
type FS struct {
	dest   string
	atomic bool
	sep    []byte
	permF  os.FileMode
	permD  os.FileMode

	f      *os.File
	bw     *bufio.Writer
	tmp    string
	done   bool
	bufSz  int
	opened bool
}

var (
	_ contract.Writer  = (*FS)(nil)
	_ contract.Aborter = (*FS)(nil)
)

// New 校验路径并创建 Writer；文件在首次 Write 时才打开。
func New(opts *Options) (*FS, error) {
	if opts == nil || strings.TrimSpace(opts.Path) == "" {
		return nil, fmt.Errorf("writer: empty path: %w", contract.ErrInvalidInput)
	}
	dest, err := mapPath(opts.BaseDir, opts.Path)
	if err != nil {
		return nil, err
	}
	w := &FS{dest: dest, atomic: true, sep: []byte("\n"), permF: 0o644, permD: 0o755, bufSz: 64 * 1024}
	if opts.Atomic != nil {
		w.atomic = *opts.Atomic
	}
	if opts.Separator != nil {
		w.sep = []byte(*opts.Separator)
	}
	if opts.PermFile != 0 {
		w.permF = opts.PermFile
	}
	if opts.PermDir != 0 {
		w.permD = opts.PermDir
	}
	if opts.BufSize > 0 {
		w.bufSz = opts.BufSize
	}
	return w, nil
}

// Dest 返回最终目标路径。
func (w *FS) Dest() string { return w.dest }

// mapPath: Clean + Join + 越界校验。
func mapPath(base, p string) (string, error) {
	rel := filepath.Clean(p)
	if base == "" {
		if rel == "." {
			return "", contract.ErrPathInvalid
		}
		return rel, nil
	}
	if rel == "." || rel == ".." || filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" ||
		strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", contract.ErrPathInvalid
	}
	return filepath.Join(base, rel), nil
}

func (w *FS) open() error {
	if err := os.MkdirAll(filepath.Dir(w.dest), w.permD); err != nil {
		return err
	}
	if w.atomic {
		f, err := os.CreateTemp(filepath.Dir(w.dest), ".tmp-*")
		if err != nil {
			return err
		}
		_ = os.Chmod(f.Name(), w.permF)
		w.f, w.tmp = f, f.Name()
	} else {
		f, err := os.OpenFile(w.dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
		if err != nil {
			return err
		}
		w.f = f
	}
	w.bw = bufio.NewWriterSize(w.f, w.bufSz)
	w.opened = true
	return nil
}

// Write 追加一条记录与分隔符。
func (w *FS) Write(ctx context.Context, record []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.done {
		return os.ErrClosed
	}
	if !w.opened {
		if err := w.open(); err != nil {
			return err
		}
	}
	if _, err := w.bw.Write(record); err != nil {
		return err
	}
	_, err := w.bw.Write(w.sep)
	return err
}

// Close 提交输出。没有任何记录时仍创建（或截断）目标文件。
func (w *FS) Close() error {
	if w.done {
		return nil
	}
	if !w.opened {
		if err := w.open(); err != nil {
			w.done = true
			return err
		}
	}
	w.done = true
	if err := w.bw.Flush(); err != nil {
		w.discard()
		return err
	}
	if !w.atomic {
		return w.f.Close()
	}
	if err := w.f.Sync(); err != nil {
		w.discard()
		return err
	}
	if err := w.f.Close(); err != nil {
		_ = os.Remove(w.tmp)
		return err
	}
	if err := osReplace(w.tmp, w.dest); err != nil {
		_ = os.Remove(w.tmp)
		return err
	}
	// 最佳努力：同步父目录
	_ = syncDir(filepath.Dir(w.dest))
	return nil
}

// Abort 放弃输出：原子模式删除临时文件；非原子模式仅关闭文件。幂等。
func (w *FS) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	if !w.opened {
		return nil
	}
	w.discard()
	return nil
}

func (w *FS) discard() {
	_ = w.f.Close()
	if w.atomic {
		_ = os.Remove(w.tmp)
	}
}
