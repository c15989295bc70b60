// Package lua 提供进程内 Lua 5.1 后端（gopher-lua）。
package lua

import (
	"fmt"
	"io"
	"os"
	"strings"

	glua "github.com/yuin/gopher-lua"

	"fp/pkg/contract"
)

// Options 为 Lua 后端的可选配置。
type Options struct {
	// PackagePath: 追加到 package.path 之前的模块搜索模板（如 "./lib/?.lua"）。
	PackagePath []string `yaml:"package_path"`
	// CallStackSize: 调用栈深度上限；0 取 gopher-lua 默认值。
	CallStackSize int `yaml:"call_stack_size"`
}

// Backend: 一个 Lua 会话。非并发安全，由单一驱动持有。
type Backend struct {
	L      *glua.LState
	slots  contract.Slots
	debug  bool
	trace  io.Writer
	closed bool
}

// New 创建 Lua 会话并打开标准库。
func New(opts *Options) (*Backend, error) {
	lo := glua.Options{}
	if opts != nil && opts.CallStackSize > 0 {
		lo.CallStackSize = opts.CallStackSize
	}
	L := glua.NewState(lo)
	if opts != nil && len(opts.PackagePath) > 0 {
		pkg, ok := L.GetGlobal("package").(*glua.LTable)
		if !ok {
			L.Close()
			return nil, fmt.Errorf("lua: package table missing: %w", contract.ErrInvalidInput)
		}
		cur := glua.LVAsString(pkg.RawGetString("path"))
		paths := append(append([]string{}, opts.PackagePath...), cur)
		pkg.RawSetString("path", glua.LString(strings.Join(paths, ";")))
	}
	return &Backend{L: L, trace: os.Stderr}, nil
}

// Init 重置跟踪标志。
func (b *Backend) Init(env contract.Environment) {
	b.debug = env.DeclarationDebug
	b.trace = env.Trace
	if b.trace == nil {
		b.trace = os.Stderr
	}
}

// Source 生成声明对应的 Lua 源码。
func Source(name string, arity int, code string) string {
	params := strings.Join(contract.ParamNames[:arity], ", ")
	if expr, ok := contract.SplitExpression(code); ok {
		return fmt.Sprintf("function %s(%s) return %s end", name, params, expr)
	}
	return fmt.Sprintf("function %s(%s)\n%s\nend", name, params, code)
}

// Declare 在全局作用域定义 name(a..)；同名覆盖。
func (b *Backend) Declare(name string, arity int, code string) error {
	if b.closed {
		return fmt.Errorf("lua: closed: %w", contract.ErrDeclare)
	}
	if err := contract.CheckArity(arity); err != nil {
		return err
	}
	src := Source(name, arity, code)
	if b.debug {
		fmt.Fprintf(b.trace, "%q\n", src)
	}
	if err := b.L.DoString(src); err != nil {
		return fmt.Errorf("lua: %s: %w: %v", name, contract.ErrDeclare, err)
	}
	return nil
}

// Import 通过 require 加载模块。
// NamespaceSeparate 以模块路径的最后一段为全局名绑定（require "a.b" 绑定为 b）；
// NamespaceCurrent 将模块表成员合并进 _G。
func (b *Backend) Import(descriptor string, ns contract.ImportNamespace) error {
	if b.closed {
		return fmt.Errorf("lua: closed: %w", contract.ErrImport)
	}
	if descriptor == "" {
		return fmt.Errorf("lua: empty import: %w", contract.ErrImport)
	}
	err := b.L.CallByParam(glua.P{Fn: b.L.GetGlobal("require"), NRet: 1, Protect: true}, glua.LString(descriptor))
	if err != nil {
		return fmt.Errorf("lua: require %q: %w: %v", descriptor, contract.ErrImport, err)
	}
	mod := b.L.Get(-1)
	b.L.Pop(1)
	if ns == contract.NamespaceCurrent {
		tbl, ok := mod.(*glua.LTable)
		if !ok {
			return fmt.Errorf("lua: module %q is %s, not a table: %w", descriptor, mod.Type(), contract.ErrImport)
		}
		g := b.L.G.Global
		tbl.ForEach(func(k, v glua.LValue) { g.RawSet(k, v) })
		return nil
	}
	b.L.SetGlobal(BindingName(descriptor), mod)
	return nil
}

// BindingName 返回模块路径的最后一段。
func BindingName(descriptor string) string {
	return descriptor[strings.LastIndexByte(descriptor, '.')+1:]
}

// PassArgument 绑定槽位。
func (b *Backend) PassArgument(slot int, v contract.Value) error {
	if b.closed {
		return fmt.Errorf("lua: closed: %w", contract.ErrBind)
	}
	return b.slots.Set(slot, v)
}

// Evaluate 以槽位 0..arity-1 调用 name。
func (b *Backend) Evaluate(name string, arity int) (contract.Value, error) {
	if b.closed {
		return contract.Value{}, fmt.Errorf("lua: closed: %w", contract.ErrEvaluate)
	}
	args, err := b.slots.Args(arity)
	if err != nil {
		return contract.Value{}, fmt.Errorf("lua: %w: %w", contract.ErrEvaluate, err)
	}
	fn := b.L.GetGlobal(name)
	if fn.Type() != glua.LTFunction {
		return contract.Value{}, fmt.Errorf("lua: %q not declared: %w", name, contract.ErrEvaluate)
	}
	largs := make([]glua.LValue, len(args))
	for i, a := range args {
		largs[i] = toLua(a)
	}
	if err := b.L.CallByParam(glua.P{Fn: fn, NRet: 1, Protect: true}, largs...); err != nil {
		return contract.Value{}, fmt.Errorf("lua: %s: %w: %v", name, contract.ErrEvaluate, err)
	}
	ret := b.L.Get(-1)
	b.L.Pop(1)
	return fromLua(ret)
}

// Close 释放 Lua 状态；幂等。
func (b *Backend) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.L.Close()
	return nil
}

func toLua(v contract.Value) glua.LValue {
	if v.IsNumber() {
		return glua.LNumber(v.Float())
	}
	return glua.LString(v.TextValue())
}

func fromLua(v glua.LValue) (contract.Value, error) {
	switch x := v.(type) {
	case glua.LString:
		return contract.Text(string(x)), nil
	case glua.LNumber:
		return contract.Number(float64(x)), nil
	default:
		return contract.Value{}, fmt.Errorf("lua: result is %s: %w: %w", v.Type(), contract.ErrEvaluate, contract.ErrUnsupportedResult)
	}
}
