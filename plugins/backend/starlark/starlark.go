// Package starlark 提供进程内 Starlark（Python 方言）后端。
package starlark

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	stjson "go.starlark.net/lib/json"
	stmath "go.starlark.net/lib/math"
	sttime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"fp/pkg/contract"
)

// 内置可导入模块。
var builtinModules = map[string]*starlarkstruct.Module{
	"json": stjson.Module,
	"math": stmath.Module,
	"time": sttime.Module,
}

// Modules 返回可按名导入的内置模块名（已排序）。
func Modules() []string {
	names := make([]string, 0, len(builtinModules))
	for n := range builtinModules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Options 为 Starlark 后端的可选配置。
type Options struct {
	// MaxSteps: 单次求值的执行步数上限；0 表示不限制。
	MaxSteps uint64 `yaml:"max_steps"`
}

// Backend: 一个 Starlark 会话，globals 在声明与导入之间持续累积。
type Backend struct {
	thread   *starlark.Thread
	globals  starlark.StringDict
	slots    contract.Slots
	maxSteps uint64
	debug    bool
	trace    io.Writer
	closed   bool
}

// New 创建 Starlark 会话。
func New(opts *Options) (*Backend, error) {
	b := &Backend{globals: starlark.StringDict{}, trace: os.Stderr}
	if opts != nil {
		b.maxSteps = opts.MaxSteps
	}
	b.thread = b.newThread()
	return b, nil
}

// newThread 创建执行线程；print() 输出到 trace。
func (b *Backend) newThread() *starlark.Thread {
	return &starlark.Thread{
		Name:  "fp",
		Print: func(_ *starlark.Thread, msg string) { fmt.Fprintln(b.trace, msg) },
	}
}

// Init 重置跟踪标志。
func (b *Backend) Init(env contract.Environment) {
	b.debug = env.DeclarationDebug
	b.trace = env.Trace
	if b.trace == nil {
		b.trace = os.Stderr
	}
}

// Source 生成声明对应的 Starlark 源码：表达式生成 lambda，函数体逐行缩进。
func Source(name string, arity int, code string) string {
	params := strings.Join(contract.ParamNames[:arity], ", ")
	if expr, ok := contract.SplitExpression(code); ok {
		if arity == 0 {
			return fmt.Sprintf("%s = lambda: %s\n", name, expr)
		}
		return fmt.Sprintf("%s = lambda %s: %s\n", name, params, expr)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "def %s(%s):\n", name, params)
	for _, line := range strings.Split(code, "\n") {
		sb.WriteString("    ")
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Declare 执行生成的定义并并入 globals；同名覆盖。
func (b *Backend) Declare(name string, arity int, code string) error {
	if b.closed {
		return fmt.Errorf("starlark: closed: %w", contract.ErrDeclare)
	}
	if err := contract.CheckArity(arity); err != nil {
		return err
	}
	src := Source(name, arity, code)
	if b.debug {
		fmt.Fprintf(b.trace, "%q\n", src)
	}
	if err := b.exec("<declare "+name+">", src); err != nil {
		return fmt.Errorf("starlark: %s: %w: %v", name, contract.ErrDeclare, err)
	}
	return nil
}

func (b *Backend) exec(filename string, src any) error {
	out, err := starlark.ExecFile(b.thread, filename, src, b.globals)
	if err != nil {
		return err
	}
	for k, v := range out {
		b.globals[k] = v
	}
	return nil
}

// Import 导入内置模块（json/math/time）或 .star 文件。
// NamespaceSeparate 以模块名绑定；NamespaceCurrent 将成员并入 globals。
func (b *Backend) Import(descriptor string, ns contract.ImportNamespace) error {
	if b.closed {
		return fmt.Errorf("starlark: closed: %w", contract.ErrImport)
	}
	var (
		name    string
		members starlark.StringDict
	)
	if mod, ok := builtinModules[descriptor]; ok {
		name, members = mod.Name, mod.Members
	} else if strings.HasSuffix(descriptor, ".star") {
		out, err := starlark.ExecFile(b.thread, descriptor, nil, b.globals)
		if err != nil {
			return fmt.Errorf("starlark: load %q: %w: %v", descriptor, contract.ErrImport, err)
		}
		name = strings.TrimSuffix(filepath.Base(descriptor), ".star")
		members = out
	} else {
		return fmt.Errorf("starlark: unknown module %q: %w", descriptor, contract.ErrImport)
	}
	if ns == contract.NamespaceCurrent {
		for k, v := range members {
			b.globals[k] = v
		}
		return nil
	}
	b.globals[name] = &starlarkstruct.Module{Name: name, Members: members}
	return nil
}

// PassArgument 绑定槽位。
func (b *Backend) PassArgument(slot int, v contract.Value) error {
	if b.closed {
		return fmt.Errorf("starlark: closed: %w", contract.ErrBind)
	}
	return b.slots.Set(slot, v)
}

// Evaluate 以槽位 0..arity-1 调用 name。
func (b *Backend) Evaluate(name string, arity int) (contract.Value, error) {
	if b.closed {
		return contract.Value{}, fmt.Errorf("starlark: closed: %w", contract.ErrEvaluate)
	}
	args, err := b.slots.Args(arity)
	if err != nil {
		return contract.Value{}, fmt.Errorf("starlark: %w: %w", contract.ErrEvaluate, err)
	}
	fn, ok := b.globals[name].(starlark.Callable)
	if !ok {
		return contract.Value{}, fmt.Errorf("starlark: %q not declared: %w", name, contract.ErrEvaluate)
	}
	sargs := make(starlark.Tuple, len(args))
	for i, a := range args {
		sargs[i] = toStarlark(a)
	}
	th := b.thread
	if b.maxSteps > 0 {
		// 步数超限会永久取消线程，因此每次求值使用新线程
		th = b.newThread()
		th.SetMaxExecutionSteps(b.maxSteps)
	}
	ret, err := starlark.Call(th, fn, sargs, nil)
	if err != nil {
		return contract.Value{}, fmt.Errorf("starlark: %s: %w: %v", name, contract.ErrEvaluate, err)
	}
	return fromStarlark(ret)
}

// Close 释放会话；幂等。
func (b *Backend) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.globals = nil
	return nil
}

func toStarlark(v contract.Value) starlark.Value {
	if v.IsText() {
		return starlark.String(v.TextValue())
	}
	f := v.Float()
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return starlark.MakeInt64(int64(f))
	}
	return starlark.Float(f)
}

func fromStarlark(v starlark.Value) (contract.Value, error) {
	switch x := v.(type) {
	case starlark.String:
		return contract.Text(string(x)), nil
	case starlark.Int, starlark.Float:
		f, _ := starlark.AsFloat(x)
		return contract.Number(f), nil
	default:
		return contract.Value{}, fmt.Errorf("starlark: result is %s: %w: %w", v.Type(), contract.ErrEvaluate, contract.ErrUnsupportedResult)
	}
}
