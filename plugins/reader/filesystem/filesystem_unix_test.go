//go:build !windows

package filesystem

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWalkDirSkipsFifo 目录扫描跳过 FIFO。
func TestWalkDirSkipsFifo(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, syscall.Mkfifo(filepath.Join(root, "fifo"), 0o644))
	got, err := iterate(t, New(nil), root)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// TestExplicitFifo 显式给出的 FIFO 按流读取。
func TestExplicitFifo(t *testing.T) {
	fifo := filepath.Join(t.TempDir(), "fifo")
	require.NoError(t, syscall.Mkfifo(fifo, 0o644))
	go func() {
		f, err := os.OpenFile(fifo, os.O_WRONLY, 0)
		if err != nil {
			return
		}
		_, _ = f.WriteString("a\nb")
		_ = f.Close()
	}()
	got, err := iterate(t, New(nil), fifo)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a\nb", got[0].data)
}

// TestSymlinks 文件链接被跟随，目录链接被忽略，悬空链接报错。
func TestSymlinks(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "t.txt")
	write(t, target, "ok")
	link := filepath.Join(root, "l.txt")
	require.NoError(t, os.Symlink(target, link))

	got, err := iterate(t, New(nil), link)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].data)

	realDir := filepath.Join(root, "real")
	write(t, filepath.Join(realDir, "a.txt"), "x")
	dirLink := filepath.Join(root, "ln")
	require.NoError(t, os.Symlink(realDir, dirLink))
	got, err = iterate(t, New(nil), dirLink)
	require.NoError(t, err)
	assert.Empty(t, got)

	dangling := filepath.Join(root, "dangling")
	require.NoError(t, os.Symlink(filepath.Join(root, "no"), dangling))
	_, err = iterate(t, New(nil), dangling)
	require.Error(t, err)
}

// TestWalkIgnoresDirSymlink 目录扫描忽略指向目录的链接。
func TestWalkIgnoresDirSymlink(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	write(t, filepath.Join(sub, "ok.txt"), "o")
	require.NoError(t, os.Symlink(sub, filepath.Join(root, "sub_link")))
	got, err := iterate(t, New(nil), root)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ok.txt", filepath.Base(got[0].id))
}
