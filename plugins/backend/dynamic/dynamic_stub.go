//go:build !cgo || !(linux || darwin || freebsd)

package dynamic

import (
	"fmt"

	"fp/pkg/contract"
)

// Symbols: 模块必须导出的入口（按解析顺序）。
var Symbols = [...]string{"init", "declare", "import", "pass_argument", "evaluate"}

var errUnsupported = fmt.Errorf("dynamic: backends require cgo on linux/darwin/freebsd: %w", contract.ErrPluginLoad)

// Library 在当前构建下不可用。
type Library struct{}

// Open 在无 cgo 的构建中总是失败。
func Open(path string) (*Library, error) { return nil, errUnsupported }

func (l *Library) Path() string { return "" }
func (l *Library) Init(contract.Environment) {}
func (l *Library) Declare(string, int, string) error { return errUnsupported }
func (l *Library) Import(string, contract.ImportNamespace) error { return errUnsupported }
func (l *Library) PassArgument(int, contract.Value) error { return errUnsupported }
func (l *Library) Evaluate(string, int) (contract.Value, error) {
	return contract.Value{}, errUnsupported
}
func (l *Library) Close() error { return nil }
