package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fp/internal/diag"
	"fp/pkg/contract"
	"fp/plugins/backend/lua"
	"fp/plugins/splitter/delimiter"
)

// 通用桩件 ----------------------------------------------------

// memReader 依次产出若干内存输入。
type memReader struct{ files []string }

func (r memReader) Iterate(ctx context.Context, roots []string, yield func(contract.FileID, io.ReadCloser) error) error {
	for i, s := range r.files {
		id := contract.FileID(string(rune('a' + i)))
		if err := yield(id, io.NopCloser(strings.NewReader(s))); err != nil {
			return err
		}
	}
	return nil
}

type memWriter struct {
	recs    []string
	closed  int
	aborted int
	failAt  int
}

func (w *memWriter) Write(ctx context.Context, rec []byte) error {
	if w.failAt > 0 && len(w.recs)+1 == w.failAt {
		return errors.New("disk full")
	}
	w.recs = append(w.recs, string(rec))
	return nil
}
func (w *memWriter) Close() error { w.closed++; return nil }
func (w *memWriter) Abort() error { w.aborted++; return nil }

// countingBackend 包装真实后端并统计 Close 次数。
type countingBackend struct {
	contract.Backend
	closes int
}

func (b *countingBackend) Close() error { b.closes++; return b.Backend.Close() }

func newLua(t *testing.T) *countingBackend {
	t.Helper()
	b, err := lua.New(nil)
	require.NoError(t, err)
	return &countingBackend{Backend: b}
}

func newSplitter(t *testing.T) contract.Splitter {
	t.Helper()
	s, err := delimiter.New(nil)
	require.NoError(t, err)
	return s
}

func mustOp(t *testing.T, kind string, args ...string) Operation {
	t.Helper()
	op, err := ParseOperation(kind, args, DefaultPlaceholder)
	require.NoError(t, err)
	return op
}

type fixture struct {
	backend *countingBackend
	writer  *memWriter
}

func run(t *testing.T, files []string, set Settings) (fixture, Stats, error) {
	t.Helper()
	fx := fixture{backend: newLua(t), writer: &memWriter{}}
	if set.Inputs == nil {
		set.Inputs = []string{"-"}
	}
	set.BackendName = "lua"
	comp := Components{Reader: memReader{files: files}, Splitter: newSplitter(t), Backend: fx.backend, Writer: fx.writer}
	d, err := New(comp, set, diag.Nop())
	if err != nil {
		return fx, Stats{}, err
	}
	st, err := d.Run(context.Background())
	cerr := d.Close()
	if err == nil {
		err = cerr
	}
	return fx, st, err
}

// TestMapIdentity 逐 token 映射保持顺序，末尾无分隔符的残余也作为 token。
func TestMapIdentity(t *testing.T) {
	fx, st, err := run(t, []string{"x\ny\nz"}, Settings{Operation: mustOp(t, "map", `\a`), Passthrough: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z"}, fx.writer.recs)
	assert.Equal(t, int64(3), st.Tokens)
	assert.Equal(t, int64(3), st.Emitted)
	assert.Equal(t, 1, fx.writer.closed)
	assert.Equal(t, 0, fx.writer.aborted)
	assert.Equal(t, 1, fx.backend.closes)
}

// TestMapPlaceholder 占位符替换为双引号。
func TestMapPlaceholder(t *testing.T) {
	fx, _, err := run(t, []string{"a\nb\n"}, Settings{Operation: mustOp(t, "map", `\a`, "..", "#!#")})
	require.NoError(t, err)
	assert.Equal(t, []string{"a!", "b!"}, fx.writer.recs)
}

// TestMapIndexedAcrossInputs 序号在多个输入之间连续递增。
func TestMapIndexedAcrossInputs(t *testing.T) {
	op := mustOp(t, "map-indexed", `\a .. ":" .. b`)
	fx, st, err := run(t, []string{"p\nq\n", "r"}, Settings{Operation: op})
	require.NoError(t, err)
	assert.Equal(t, []string{"0:p", "1:q", "2:r"}, fx.writer.recs)
	assert.Equal(t, int64(2), st.Inputs)
}

// TestFoldSum 1\n2\n3 折叠求和为 6，仅在末尾输出一次。
func TestFoldSum(t *testing.T) {
	op := mustOp(t, "fold", "0", `\a + b`)
	fx, st, err := run(t, []string{"1\n2\n3\n"}, Settings{Operation: op})
	require.NoError(t, err)
	assert.Equal(t, []string{"6"}, fx.writer.recs)
	assert.Equal(t, int64(1), st.Emitted)
}

// TestFoldEmptyInput 无 token 时输出初始值。
func TestFoldEmptyInput(t *testing.T) {
	op := mustOp(t, "fold", "start", `\a .. b`)
	fx, _, err := run(t, []string{""}, Settings{Operation: op})
	require.NoError(t, err)
	assert.Equal(t, []string{"start"}, fx.writer.recs)
}

// TestFoldSkipsFailures 失败 token 被跳过，累加值保持不变。
func TestFoldSkipsFailures(t *testing.T) {
	op := mustOp(t, "fold", "0", `\a + tonumber(b)`)
	fx, st, err := run(t, []string{"1\nx\n4"}, Settings{Operation: op, Passthrough: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"5"}, fx.writer.recs)
	assert.Equal(t, int64(1), st.Failed)
	assert.Equal(t, int64(0), st.Passthrough)
}

// TestPassthroughPolicy 默认透传失败 token；关闭后丢弃。
func TestPassthroughPolicy(t *testing.T) {
	op := mustOp(t, "map", `\tonumber(a) + 1`)
	fx, st, err := run(t, []string{"1\nx\n3"}, Settings{Operation: op, Passthrough: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "x", "4"}, fx.writer.recs)
	assert.Equal(t, int64(1), st.Passthrough)

	fx, st, err = run(t, []string{"1\nx\n3"}, Settings{Operation: op, Passthrough: false})
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "4"}, fx.writer.recs)
	assert.Equal(t, int64(1), st.Dropped)
}

// TestUnsupportedResult 非文本/数字结果按失败处理。
func TestUnsupportedResult(t *testing.T) {
	op := mustOp(t, "map", `\{}`)
	fx, st, err := run(t, []string{"a"}, Settings{Operation: op, Passthrough: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, fx.writer.recs)
	assert.Equal(t, int64(1), st.Failed)
}

// TestDeclareFailure 声明失败：无输出，输出端被放弃，后端被释放。
func TestDeclareFailure(t *testing.T) {
	fx, _, err := run(t, []string{"a\nb"}, Settings{Operation: mustOp(t, "map", `\)(`)})
	require.ErrorIs(t, err, contract.ErrDeclare)
	assert.True(t, diag.IsSetup(err))
	assert.Empty(t, fx.writer.recs)
	assert.Equal(t, 1, fx.writer.aborted)
	assert.Equal(t, 0, fx.writer.closed)
	assert.Equal(t, 1, fx.backend.closes)
}

// TestImportFailure 导入失败属于启动期错误。
func TestImportFailure(t *testing.T) {
	set := Settings{
		Operation: mustOp(t, "map", `\a`),
		Imports:   []Import{{Descriptor: "no_such_module_xyz"}},
	}
	fx, _, err := run(t, []string{"a"}, set)
	require.ErrorIs(t, err, contract.ErrImport)
	assert.Equal(t, diag.CodeImport, diag.Classify(err))
	assert.Equal(t, 1, fx.backend.closes)
}

// TestWriterFailureAborts 输出失败中止运行并放弃输出。
func TestWriterFailureAborts(t *testing.T) {
	b := newLua(t)
	w := &memWriter{failAt: 2}
	comp := Components{Reader: memReader{files: []string{"a\nb\nc"}}, Splitter: newSplitter(t), Backend: b, Writer: w}
	d, err := New(comp, Settings{Inputs: []string{"-"}, Operation: mustOp(t, "map", `\a`)}, nil)
	require.NoError(t, err)
	_, err = d.Run(context.Background())
	require.Error(t, err)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.Equal(t, []string{"a"}, w.recs)
	assert.Equal(t, 1, w.aborted)
	assert.Equal(t, 1, b.closes)
}

// TestRunCanceled 取消在 token 之间生效。
func TestRunCanceled(t *testing.T) {
	b := newLua(t)
	w := &memWriter{}
	comp := Components{Reader: memReader{files: []string{"a\nb"}}, Splitter: newSplitter(t), Backend: b, Writer: w}
	d, err := New(comp, Settings{Inputs: []string{"-"}, Operation: mustOp(t, "map", `\a`)}, diag.Nop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, diag.CodeCancel, diag.Classify(err))
	require.NoError(t, d.Close())
	assert.Empty(t, w.recs)
	assert.Equal(t, 1, w.aborted)
}

// TestRunTwice 驱动只能运行一次。
func TestRunTwice(t *testing.T) {
	b := newLua(t)
	comp := Components{Reader: memReader{files: []string{"a"}}, Splitter: newSplitter(t), Backend: b, Writer: &memWriter{}}
	d, err := New(comp, Settings{Inputs: []string{"-"}, Operation: mustOp(t, "map", `\a`)}, nil)
	require.NoError(t, err)
	_, err = d.Run(context.Background())
	require.NoError(t, err)
	_, err = d.Run(context.Background())
	require.ErrorIs(t, err, contract.ErrInvalidInput)
	require.NoError(t, d.Close())
}

// TestCloseWithoutRun 未运行即关闭：放弃输出。
func TestCloseWithoutRun(t *testing.T) {
	b := newLua(t)
	w := &memWriter{}
	comp := Components{Reader: memReader{}, Splitter: newSplitter(t), Backend: b, Writer: w}
	d, err := New(comp, Settings{Inputs: []string{"-"}, Operation: mustOp(t, "map", `\a`)}, nil)
	require.NoError(t, err)
	require.NoError(t, d.Close())
	assert.Equal(t, 1, w.aborted)
	assert.Equal(t, 1, b.closes)
}

// TestSanity 缺失组件或输入。
func TestSanity(t *testing.T) {
	b := newLua(t)
	_, err := New(Components{Backend: b}, Settings{Inputs: []string{"-"}, Operation: mustOp(t, "map", `\a`)}, nil)
	require.ErrorIs(t, err, contract.ErrInvalidInput)
	assert.Equal(t, 1, b.closes)
}

// TestDeclarationDebug 调试开关将生成源码写入 Trace。
func TestDeclarationDebug(t *testing.T) {
	var trace strings.Builder
	_, _, err := run(t, []string{"a"}, Settings{Operation: mustOp(t, "map", `\a`), DeclarationDebug: true, Trace: &trace})
	require.NoError(t, err)
	assert.Contains(t, trace.String(), "transform")
}

// TestParseOperation 参数拼接、占位符与 fold 初始值。
func TestParseOperation(t *testing.T) {
	op, err := ParseOperation("map", []string{`\a`, "..", "#x#"}, "#")
	require.NoError(t, err)
	assert.Equal(t, `\a .. "x"`, op.Code)
	assert.Equal(t, 1, op.Arity())

	op, err = ParseOperation("fold", []string{"10", `\a + b`}, "")
	require.NoError(t, err)
	assert.True(t, op.Initial.IsNumber())
	assert.Equal(t, "10", op.Initial.String())
	assert.Equal(t, 2, op.Arity())

	op, err = ParseOperation("fold", []string{"abc", `\a .. b`}, "")
	require.NoError(t, err)
	assert.True(t, op.Initial.IsText())

	_, err = ParseOperation("fold", nil, "")
	require.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = ParseOperation("map", []string{"  "}, "")
	require.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = ParseOperation("reduce", []string{"x"}, "")
	require.ErrorIs(t, err, contract.ErrInvalidInput)
	assert.Len(t, Kinds(), 3)
}
