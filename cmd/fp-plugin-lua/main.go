// fp-plugin-lua 是一个以 -buildmode=c-shared 构建的 fp 动态后端，内部复用 Lua 后端。
//
//	go build -buildmode=c-shared -ldflags=-extldflags=-Wl,-z,nodelete -o fp-plugin-lua.so ./cmd/fp-plugin-lua
//	fp --plugin ./fp-plugin-lua.so map '\a:upper()'
//
// -z nodelete 让 dlclose 不卸载模块：Go 运行时一旦启动就不能被卸载。
// 该链接参数不在 cgo 的 #cgo LDFLAGS 白名单内，因此经 -extldflags 传入。
package main

/*
#cgo CFLAGS: -I${SRCDIR}/../../plugins/backend/dynamic
#include <stdlib.h>
#include "fp_plugin.h"
*/
import "C"

import "fp/pkg/contract"

// setErr 以 C 堆分配诊断文本，所有权交给宿主。
func setErr(out **C.char, err error) C.int {
	if out != nil {
		*out = C.CString(err.Error())
	}
	return 1
}

//export fpPluginInit
func fpPluginInit(env *C.fp_env) {
	if env == nil {
		global.init(abiVersion, false)
		return
	}
	global.init(uint32(env.abi_version), env.declaration_debug != 0)
}

//export fpPluginDeclare
func fpPluginDeclare(name *C.char, arity C.size_t, code *C.char, codeLen C.size_t, errOut **C.char) C.int {
	src := C.GoStringN(code, C.int(codeLen))
	if err := global.declare(C.GoString(name), int(arity), src); err != nil {
		return setErr(errOut, err)
	}
	return 0
}

//export fpPluginImport
func fpPluginImport(descriptor *C.char, ns C.int, errOut **C.char) C.int {
	if err := global.importLib(C.GoString(descriptor), contract.ImportNamespace(ns)); err != nil {
		return setErr(errOut, err)
	}
	return 0
}

//export fpPluginPassArgument
func fpPluginPassArgument(slot C.size_t, value *C.fp_value, errOut **C.char) C.int {
	var v contract.Value
	switch {
	case value == nil:
		v = contract.Text("")
	case value.tag == C.FP_VALUE_NUMBER:
		v = contract.Number(float64(value.number))
	default:
		v = contract.Text(C.GoStringN(value.text, C.int(value.len)))
	}
	if err := global.pass(int(slot), v); err != nil {
		return setErr(errOut, err)
	}
	return 0
}

//export fpPluginEvaluate
func fpPluginEvaluate(name *C.char, arity C.size_t, out *C.fp_value, errOut **C.char) C.int {
	v, err := global.evaluate(C.GoString(name), int(arity))
	if err != nil {
		return setErr(errOut, err)
	}
	if v.IsNumber() {
		out.tag = C.FP_VALUE_NUMBER
		out.number = C.double(v.Float())
		out.text = nil
		out.len = 0
		return 0
	}
	s := v.TextValue()
	out.tag = C.FP_VALUE_TEXT
	out.len = C.size_t(len(s))
	out.text = nil
	if len(s) > 0 {
		out.text = (*C.char)(C.CBytes([]byte(s)))
	}
	return 0
}

func main() {}
