//go:build cgo && (linux || darwin || freebsd)

// Package dynamic 通过 dlopen 加载实现 fp_plugin.h 的共享模块，并适配为 contract.Backend。
package dynamic

/*
#cgo linux LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>
#include "fp_plugin.h"

static void* fp_dlopen(const char* path) {
	return dlopen(path, RTLD_NOW | RTLD_LOCAL);
}
static const char* fp_dlerror(void) {
	return dlerror();
}
static int fp_dlclose(void* h) {
	return dlclose(h);
}

// 清除 dlerror 后查找符号；失败时 *err 指向 dlerror 文本（无需释放）。
static void* fp_dlsym_clear(void* h, const char* name, const char** err) {
	dlerror();
	void* p = dlsym(h, name);
	const char* e = dlerror();
	if (e) { *err = e; return NULL; }
	if (!p) { *err = "symbol resolved to NULL"; return NULL; }
	*err = NULL;
	return p;
}

// 函数指针蹦床：cgo 不能直接调用 C 函数指针。
static void fp_call_init(void* fn, const fp_env* env) {
	((fp_init_fn)fn)(env);
}
static int fp_call_declare(void* fn, const char* name, size_t arity, const char* code, size_t code_len, char** err) {
	return ((fp_declare_fn)fn)(name, arity, code, code_len, err);
}
static int fp_call_import(void* fn, const char* descr, int ns, char** err) {
	return ((fp_import_fn)fn)(descr, ns, err);
}
static int fp_call_pass_argument(void* fn, size_t slot, const fp_value* v, char** err) {
	return ((fp_pass_argument_fn)fn)(slot, v, err);
}
static int fp_call_evaluate(void* fn, const char* name, size_t arity, fp_value* out, char** err) {
	return ((fp_evaluate_fn)fn)(name, arity, out, err);
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	"fp/pkg/contract"
)

// Symbols: 模块必须导出的入口（按解析顺序）。
var Symbols = [...]string{"init", "declare", "import", "pass_argument", "evaluate"}

const (
	symInit = iota
	symDeclare
	symImport
	symPass
	symEvaluate
)

// Library: 已加载的共享模块。五个入口在 Open 时一次性解析。
type Library struct {
	path   string
	handle unsafe.Pointer
	fns    [len(Symbols)]unsafe.Pointer
	slots  contract.Slots
	closed bool
}

// dlerr 返回最近一次 dlerror 文本。
func dlerr() string {
	if e := C.fp_dlerror(); e != nil {
		return C.GoString(e)
	}
	return "unknown dlerror"
}

// Open 打开模块并解析全部入口；任一入口缺失即关闭句柄并返回 ErrPluginSymbol。
func Open(path string) (*Library, error) {
	if path == "" {
		return nil, fmt.Errorf("dynamic: empty path: %w", contract.ErrPluginLoad)
	}
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	h := C.fp_dlopen(cpath)
	if h == nil {
		return nil, fmt.Errorf("dynamic: dlopen %q: %w: %s", path, contract.ErrPluginLoad, dlerr())
	}
	lib := &Library{path: path, handle: h}
	for i, name := range Symbols {
		cname := C.CString(name)
		var cerr *C.char
		p := C.fp_dlsym_clear(h, cname, &cerr)
		C.free(unsafe.Pointer(cname))
		if p == nil {
			msg := "not found"
			if cerr != nil {
				msg = C.GoString(cerr)
			}
			C.fp_dlclose(h)
			return nil, fmt.Errorf("dynamic: %q: symbol %s: %w: %s", path, name, contract.ErrPluginSymbol, msg)
		}
		lib.fns[i] = p
	}
	return lib, nil
}

// Path 返回模块路径。
func (l *Library) Path() string { return l.path }

// takeError 取走被调方分配的诊断文本并释放。
func takeError(cerr *C.char) string {
	if cerr == nil {
		return "no diagnostic"
	}
	defer C.free(unsafe.Pointer(cerr))
	return C.GoString(cerr)
}

// Init 传递 ABI 版本与调试标志；Trace 不跨边界，模块自行写 STDERR。
func (l *Library) Init(env contract.Environment) {
	if l.closed {
		return
	}
	cenv := C.fp_env{abi_version: C.uint32_t(C.FP_ABI_VERSION)}
	if env.DeclarationDebug {
		cenv.declaration_debug = 1
	}
	C.fp_call_init(l.fns[symInit], &cenv)
}

// Declare 见 contract.Interpreter。
func (l *Library) Declare(name string, arity int, code string) error {
	if l.closed {
		return fmt.Errorf("dynamic: closed: %w", contract.ErrDeclare)
	}
	if err := contract.CheckArity(arity); err != nil {
		return err
	}
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	ccode := C.CString(code)
	defer C.free(unsafe.Pointer(ccode))
	var cerr *C.char
	if rc := C.fp_call_declare(l.fns[symDeclare], cname, C.size_t(arity), ccode, C.size_t(len(code)), &cerr); rc != 0 {
		return fmt.Errorf("dynamic: %s: %w: %s", name, contract.ErrDeclare, takeError(cerr))
	}
	return nil
}

// Import 见 contract.Interpreter。
func (l *Library) Import(descriptor string, ns contract.ImportNamespace) error {
	if l.closed {
		return fmt.Errorf("dynamic: closed: %w", contract.ErrImport)
	}
	cd := C.CString(descriptor)
	defer C.free(unsafe.Pointer(cd))
	var cerr *C.char
	if rc := C.fp_call_import(l.fns[symImport], cd, C.int(ns), &cerr); rc != 0 {
		return fmt.Errorf("dynamic: import %q: %w: %s", descriptor, contract.ErrImport, takeError(cerr))
	}
	return nil
}

// PassArgument 先在本侧校验槽位，再跨边界绑定。文本以 C 堆拷贝传入，调用返回后释放。
func (l *Library) PassArgument(slot int, v contract.Value) error {
	if l.closed {
		return fmt.Errorf("dynamic: closed: %w", contract.ErrBind)
	}
	if err := contract.CheckSlot(slot); err != nil {
		return err
	}
	var cv C.fp_value
	if v.IsNumber() {
		cv.tag = C.FP_VALUE_NUMBER
		cv.number = C.double(v.Float())
	} else {
		s := v.TextValue()
		cv.tag = C.FP_VALUE_TEXT
		cv.len = C.size_t(len(s))
		if len(s) > 0 {
			cv.text = (*C.char)(C.CBytes([]byte(s)))
			defer C.free(unsafe.Pointer(cv.text))
		}
	}
	var cerr *C.char
	if rc := C.fp_call_pass_argument(l.fns[symPass], C.size_t(slot), &cv, &cerr); rc != 0 {
		return fmt.Errorf("dynamic: slot %d: %w: %s", slot, contract.ErrBind, takeError(cerr))
	}
	return l.slots.Set(slot, v)
}

// Evaluate 跨边界求值；结果文本拷入 Go 内存后立即 free。
func (l *Library) Evaluate(name string, arity int) (contract.Value, error) {
	if l.closed {
		return contract.Value{}, fmt.Errorf("dynamic: closed: %w", contract.ErrEvaluate)
	}
	if _, err := l.slots.Args(arity); err != nil {
		return contract.Value{}, fmt.Errorf("dynamic: %w: %w", contract.ErrEvaluate, err)
	}
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var out C.fp_value
	var cerr *C.char
	rc := C.fp_call_evaluate(l.fns[symEvaluate], cname, C.size_t(arity), &out, &cerr)
	if out.text != nil {
		defer C.free(unsafe.Pointer(out.text))
	}
	if rc != 0 {
		return contract.Value{}, fmt.Errorf("dynamic: %s: %w: %s", name, contract.ErrEvaluate, takeError(cerr))
	}
	switch out.tag {
	case C.FP_VALUE_TEXT:
		if out.len == 0 {
			return contract.Text(""), nil
		}
		return contract.Text(string(C.GoBytes(unsafe.Pointer(out.text), C.int(out.len)))), nil
	case C.FP_VALUE_NUMBER:
		return contract.Number(float64(out.number)), nil
	default:
		return contract.Value{}, fmt.Errorf("dynamic: %s: tag %d: %w: %w", name, uint32(out.tag), contract.ErrEvaluate, contract.ErrUnsupportedResult)
	}
}

// Close 关闭句柄；幂等。
func (l *Library) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	if C.fp_dlclose(l.handle) != 0 {
		return fmt.Errorf("dynamic: dlclose %q: %s", l.path, dlerr())
	}
	return nil
}
