package filesystem

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fp/pkg/contract"
)

type visit struct {
	id   string
	data string
}

// iterate 读取全部输入内容。
func iterate(t *testing.T, r *FileSystem, roots ...string) ([]visit, error) {
	t.Helper()
	var out []visit
	err := r.Iterate(context.Background(), roots, func(id contract.FileID, rc io.ReadCloser) error {
		b, err := io.ReadAll(rc)
		if err != nil {
			return err
		}
		out = append(out, visit{string(id), string(b)})
		return nil
	})
	return out, err
}

func write(t *testing.T, p, s string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(s), 0o644))
}

// TestIterateSingleFile 读取单文件。
func TestIterateSingleFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a.txt")
	write(t, p, "hello")
	got, err := iterate(t, New(nil), p)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, string(contract.NormalizeFileID(p)), got[0].id)
	assert.Equal(t, "hello", got[0].data)
}

// TestIterateDirOrder 目录：先子目录、后文件，均按字典序。
func TestIterateDirOrder(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "b.txt"), "b")
	write(t, filepath.Join(dir, "a.txt"), "a")
	write(t, filepath.Join(dir, "sub", "c.txt"), "c")
	got, err := iterate(t, New(nil), dir)
	require.NoError(t, err)
	var names []string
	for _, v := range got {
		names = append(names, filepath.Base(v.id))
	}
	assert.Equal(t, []string{"c.txt", "a.txt", "b.txt"}, names)
}

// TestExcludeAndInclude 目录排除与扩展名白名单。
func TestExcludeAndInclude(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "keep.txt"), "k")
	write(t, filepath.Join(dir, "skip.log"), "l")
	write(t, filepath.Join(dir, ".git", "bad.txt"), "b")

	r := New(&Options{ExcludeDirNames: []string{".GIT"}, IncludeExts: []string{".TXT"}})
	got, err := iterate(t, r, dir)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, strings.HasSuffix(got[0].id, "keep.txt"))

	// 显式文件不受白名单限制
	got, err = iterate(t, r, filepath.Join(dir, "skip.log"))
	require.NoError(t, err)
	require.Len(t, got, 1)
}

// TestIterateStdin 空 roots 与 "-" 均读取 STDIN。
func TestIterateStdin(t *testing.T) {
	for _, roots := range [][]string{nil, {"-"}} {
		r := New(nil).WithStdin(strings.NewReader("hi"))
		got, err := iterate(t, r, roots...)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, contract.StdinID, got[0].id)
		assert.Equal(t, "hi", got[0].data)
	}
}

// TestIterateDashMix 混用 '-' 返回错误。
func TestIterateDashMix(t *testing.T) {
	_, err := iterate(t, New(nil), "-", "a")
	require.ErrorIs(t, err, contract.ErrInvalidInput)
}

// TestIterateMissing 不存在的路径上抛错误。
func TestIterateMissing(t *testing.T) {
	_, err := iterate(t, New(nil), filepath.Join(t.TempDir(), "none"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestIterateCtxCancel 上下文取消。
func TestIterateCtxCancel(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a.txt")
	write(t, p, "x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(nil).Iterate(ctx, []string{p}, func(contract.FileID, io.ReadCloser) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

// TestYieldErrorStops 回调错误终止遍历并原样返回。
func TestYieldErrorStops(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "a.txt"), "a")
	write(t, filepath.Join(dir, "b.txt"), "b")
	stop := io.ErrShortWrite
	n := 0
	err := New(nil).Iterate(context.Background(), []string{dir}, func(contract.FileID, io.ReadCloser) error {
		n++
		return stop
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, n)
}

// TestBufferedCloser 默认缓冲与幂等关闭。
func TestBufferedCloser(t *testing.T) {
	bc := newBufferedCloser(io.NopCloser(strings.NewReader("")), 0)
	require.NotNil(t, bc.Reader)
	require.NoError(t, bc.Close())
	require.NoError(t, bc.Close())
}
