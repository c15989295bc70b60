package diag

import (
	"context"
	"errors"
	"io"
	"io/fs"

	"fp/pkg/contract"
)

// Code 是最小错误分类代码。仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown  Code = "unknown"
	CodeConfig   Code = "config"
	CodePlugin   Code = "plugin"
	CodeImport   Code = "import"
	CodeDeclare  Code = "declare"
	CodeBind     Code = "bind"
	CodeEvaluate Code = "evaluate"
	CodeIO       Code = "io"
	CodeCancel   Code = "cancel"
)

// Classify 将错误归为最小分类。只依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	switch {
	case err == nil:
		return CodeUnknown
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCancel
	case errors.Is(err, contract.ErrPluginLoad), errors.Is(err, contract.ErrPluginSymbol):
		return CodePlugin
	case errors.Is(err, contract.ErrImport):
		return CodeImport
	case errors.Is(err, contract.ErrDeclare):
		return CodeDeclare
	// 求值错误可能同时包装了槽位错误，先判定
	case errors.Is(err, contract.ErrEvaluate), errors.Is(err, contract.ErrUnsupportedResult):
		return CodeEvaluate
	case errors.Is(err, contract.ErrBind), errors.Is(err, contract.ErrSlotOutOfRange), errors.Is(err, contract.ErrSlotUnbound):
		return CodeBind
	case errors.Is(err, contract.ErrInvalidInput), errors.Is(err, contract.ErrPathInvalid):
		return CodeConfig
	}
	var perr *fs.PathError
	if errors.As(err, &perr) || errors.Is(err, io.ErrNoProgress) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, fs.ErrClosed) {
		return CodeIO
	}
	return CodeUnknown
}

// IsSetup 判断错误是否属于启动期（配置、加载、导入、声明）失败。
func IsSetup(err error) bool {
	switch Classify(err) {
	case CodeConfig, CodePlugin, CodeImport, CodeDeclare:
		return true
	}
	return false
}
