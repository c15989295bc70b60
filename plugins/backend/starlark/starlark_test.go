package starlark

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fp/pkg/contract"
)

func newBackend(t *testing.T, opts *Options) *Backend {
	t.Helper()
	b, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	b.Init(contract.Environment{})
	return b
}

func eval(t *testing.T, b *Backend, name string, args ...contract.Value) contract.Value {
	t.Helper()
	for i, a := range args {
		require.NoError(t, b.PassArgument(i, a))
	}
	v, err := b.Evaluate(name, len(args))
	require.NoError(t, err)
	return v
}

// TestDeclareForms lambda 与 def 两种形式。
func TestDeclareForms(t *testing.T) {
	b := newBackend(t, nil)
	require.NoError(t, b.Declare("up", 1, `\a.upper()`))
	assert.Equal(t, "ABC", eval(t, b, "up", contract.Text("abc")).String())

	require.NoError(t, b.Declare("numbered", 2, "s = str(a) + ': ' + b\nreturn s"))
	assert.Equal(t, "3: x", eval(t, b, "numbered", contract.Int(3), contract.Text("x")).String())

	// 同名覆盖
	require.NoError(t, b.Declare("up", 1, `\a.lower()`))
	assert.Equal(t, "abc", eval(t, b, "up", contract.Text("ABC")).String())
}

// TestNumbers 整数保持整数，浮点保持浮点。
func TestNumbers(t *testing.T) {
	b := newBackend(t, nil)
	require.NoError(t, b.Declare("add", 2, `\a + int(b)`))
	v := eval(t, b, "add", contract.Int(4), contract.Text("2"))
	require.True(t, v.IsNumber())
	assert.Equal(t, "6", v.String())

	require.NoError(t, b.Declare("half", 1, `\a / 2`))
	v = eval(t, b, "half", contract.Int(3))
	assert.Equal(t, "1.5", v.String())
}

// TestErrors 声明语法错误、运行时错误、不支持的结果。
func TestErrors(t *testing.T) {
	b := newBackend(t, nil)
	require.ErrorIs(t, b.Declare("bad", 1, `\a +`), contract.ErrDeclare)
	require.ErrorIs(t, b.Declare("wide", 7, `\a`), contract.ErrSlotOutOfRange)

	_, err := b.Evaluate("nope", 0)
	require.ErrorIs(t, err, contract.ErrEvaluate)

	require.NoError(t, b.Declare("fail", 1, `\int(a)`))
	require.NoError(t, b.PassArgument(0, contract.Text("x")))
	_, err = b.Evaluate("fail", 1)
	require.ErrorIs(t, err, contract.ErrEvaluate)

	require.NoError(t, b.Declare("lst", 1, `\[a]`))
	_, err = b.Evaluate("lst", 1)
	require.ErrorIs(t, err, contract.ErrUnsupportedResult)

	require.NoError(t, b.Declare("two", 2, `\a + b`))
	_, err = b.Evaluate("two", 2)
	require.ErrorIs(t, err, contract.ErrSlotUnbound)
}

// TestImport 内置模块与 .star 文件。
func TestImport(t *testing.T) {
	dir := t.TempDir()
	lib := filepath.Join(dir, "util.star")
	require.NoError(t, os.WriteFile(lib, []byte("def shout(s):\n    return s + '!'\n"), 0o644))

	b := newBackend(t, nil)
	require.NoError(t, b.Import("math", contract.NamespaceSeparate))
	require.NoError(t, b.Declare("fl", 1, `\math.floor(a)`))
	assert.Equal(t, "2", eval(t, b, "fl", contract.Number(2.7)).String())

	require.NoError(t, b.Import(lib, contract.NamespaceSeparate))
	require.NoError(t, b.Declare("s1", 1, `\util.shout(a)`))
	assert.Equal(t, "hi!", eval(t, b, "s1", contract.Text("hi")).String())

	require.NoError(t, b.Import(lib, contract.NamespaceCurrent))
	require.NoError(t, b.Declare("s2", 1, `\shout(a)`))
	assert.Equal(t, "yo!", eval(t, b, "s2", contract.Text("yo")).String())

	require.ErrorIs(t, b.Import("nosuch", contract.NamespaceSeparate), contract.ErrImport)
	require.ErrorIs(t, b.Import(filepath.Join(dir, "missing.star"), contract.NamespaceSeparate), contract.ErrImport)
}

// TestDebugTrace 调试输出为 %q 形式。
func TestDebugTrace(t *testing.T) {
	b := newBackend(t, nil)
	var buf bytes.Buffer
	b.Init(contract.Environment{DeclarationDebug: true, Trace: &buf})
	require.NoError(t, b.Declare("f", 1, `\a`))
	assert.Equal(t, "\"f = lambda a: a\\n\"\n", buf.String())
}

// TestMaxSteps 步数上限终止失控求值。
func TestMaxSteps(t *testing.T) {
	b := newBackend(t, &Options{MaxSteps: 1000})
	require.NoError(t, b.Declare("spin", 1, "n = 0\nfor i in range(1000000):\n    n += i\nreturn n"))
	require.NoError(t, b.PassArgument(0, contract.Int(0)))
	_, err := b.Evaluate("spin", 1)
	require.ErrorIs(t, err, contract.ErrEvaluate)
}

// TestClosed 关闭幂等；关闭后的调用返回对应哨兵错误，不再触碰 globals。
func TestClosed(t *testing.T) {
	b, err := New(nil)
	require.NoError(t, err)
	b.Init(contract.Environment{})
	require.NoError(t, b.Declare("f", 1, `\a`))
	require.NoError(t, b.PassArgument(0, contract.Text("x")))
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	require.ErrorIs(t, b.Declare("g", 1, `\a`), contract.ErrDeclare)
	require.ErrorIs(t, b.Import("math", contract.NamespaceSeparate), contract.ErrImport)
	require.ErrorIs(t, b.Import("math", contract.NamespaceCurrent), contract.ErrImport)
	require.ErrorIs(t, b.PassArgument(0, contract.Text("y")), contract.ErrBind)
	_, err = b.Evaluate("f", 1)
	require.ErrorIs(t, err, contract.ErrEvaluate)
}

// TestModules 内置模块列表。
func TestModules(t *testing.T) {
	assert.Equal(t, []string{"json", "math", "time"}, Modules())
}

// TestMaxStepsRecovers 超限后的下一次求值不受影响。
func TestMaxStepsRecovers(t *testing.T) {
	b := newBackend(t, &Options{MaxSteps: 1000})
	require.NoError(t, b.Declare("spin", 1, "n = 0\nfor i in range(a):\n    n += i\nreturn n"))
	require.NoError(t, b.PassArgument(0, contract.Int(1000000)))
	_, err := b.Evaluate("spin", 1)
	require.ErrorIs(t, err, contract.ErrEvaluate)
	assert.Equal(t, "3", eval(t, b, "spin", contract.Int(3)).String())
}
