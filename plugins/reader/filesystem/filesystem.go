package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"fp/pkg/contract"
)

// Options 为文件系统 Reader 的可选配置。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `yaml:"buf_size"`
	// ExcludeDirNames: 扫描目录时跳过这些目录名（基名、大小写不敏感），如 [".git"]。
	ExcludeDirNames []string `yaml:"exclude_dir_names"`
	// IncludeExts: 仅在目录扫描中生效的扩展名白名单（含点，大小写不敏感）；为空不限制。
	// 显式给出的文件 root 不受此限制。
	IncludeExts []string `yaml:"include_exts"`
}

// FileSystem 实现基于文件系统与 STDIN 的 Reader。
type FileSystem struct {
	bufSize    int
	excludeDir map[string]struct{}
	includeExt map[string]struct{}
	stdin      io.Reader
}

const defaultBuf = 64 * 1024

// New 创建文件系统 Reader。
func New(opts *Options) *FileSystem {
	r := &FileSystem{bufSize: defaultBuf, excludeDir: map[string]struct{}{}, stdin: os.Stdin}
	if opts == nil {
		return r
	}
	if opts.BufSize > 0 {
		r.bufSize = opts.BufSize
	}
	for _, name := range opts.ExcludeDirNames {
		if name != "" {
			r.excludeDir[strings.ToLower(name)] = struct{}{}
		}
	}
	if len(opts.IncludeExts) > 0 {
		r.includeExt = make(map[string]struct{}, len(opts.IncludeExts))
		for _, e := range opts.IncludeExts {
			if e != "" {
				r.includeExt[strings.ToLower(e)] = struct{}{}
			}
		}
	}
	return r
}

// WithStdin 替换 STDIN 来源（测试与嵌入场景）。
func (r *FileSystem) WithStdin(in io.Reader) *FileSystem {
	r.stdin = in
	return r
}

// Iterate 遍历 roots，按稳定顺序对每个输入调用 yield；yield 返回后关闭输入。
// roots 为空或仅为 "-" 时读取 STDIN；"-" 不得与其他 root 混用。
// 显式给出的 FIFO/字符设备按流读取；目录扫描中只取常规文件（含指向常规文件的符号链接）。
func (r *FileSystem) Iterate(ctx context.Context, roots []string, yield func(fileID contract.FileID, rc io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(roots) == 0 || (len(roots) == 1 && roots[0] == contract.StdinID) {
		return r.emit(contract.FileID(contract.StdinID), io.NopCloser(r.stdin), yield)
	}
	for _, s := range roots {
		if s == contract.StdinID {
			return fmt.Errorf("reader: stdin '-' cannot be mixed with other roots: %w", contract.ErrInvalidInput)
		}
	}
	for _, root := range roots {
		if err := r.iterateOne(ctx, root, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) iterateOne(ctx context.Context, root string, yield func(contract.FileID, io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	switch {
	case info.IsDir():
		lst, err := os.Lstat(root)
		if err != nil {
			return err
		}
		// 目录符号链接不跟随
		if lst.Mode()&fs.ModeSymlink != 0 {
			return nil
		}
		return r.walkDir(ctx, root, yield)
	case info.Mode().IsRegular(), info.Mode()&(fs.ModeNamedPipe|fs.ModeCharDevice) != 0:
		return r.openAndEmit(root, yield)
	default:
		return nil
	}
}

func (r *FileSystem) walkDir(ctx context.Context, dir string, yield func(contract.FileID, io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	// 稳定顺序：字典序；先子目录，后文件
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
			continue
		}
		if err := r.walkDir(ctx, filepath.Join(dir, e.Name()), yield); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		p := filepath.Join(dir, e.Name())
		if !r.accept(e.Name()) {
			continue
		}
		if e.Type()&fs.ModeSymlink != 0 {
			t, err := os.Stat(p)
			if err != nil {
				return err
			}
			if !t.Mode().IsRegular() {
				continue
			}
		} else if !e.Type().IsRegular() {
			continue
		}
		if err := r.openAndEmit(p, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) accept(name string) bool {
	if r.includeExt == nil {
		return true
	}
	_, ok := r.includeExt[strings.ToLower(filepath.Ext(name))]
	return ok
}

func (r *FileSystem) openAndEmit(p string, yield func(contract.FileID, io.ReadCloser) error) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	return r.emit(contract.NormalizeFileID(p), f, yield)
}

func (r *FileSystem) emit(id contract.FileID, src io.ReadCloser, yield func(contract.FileID, io.ReadCloser) error) error {
	brc := newBufferedCloser(src, r.bufSize)
	err := yield(id, brc)
	_ = brc.Close()
	return err
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser；Close 幂等。
type bufferedCloser struct {
	*bufio.Reader
	c      io.Closer
	closed bool
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	if bufSize <= 0 {
		bufSize = defaultBuf
	}
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return b.c.Close()
}
