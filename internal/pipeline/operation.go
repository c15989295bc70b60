package pipeline

import (
	"fmt"
	"strings"

	"fp/pkg/contract"
)

// Kind: 逐 token 操作类型。
type Kind string

const (
	KindMap        Kind = "map"
	KindMapIndexed Kind = "map-indexed"
	KindFold       Kind = "fold"
)

// Kinds 返回全部操作类型（CLI 子命令顺序）。
func Kinds() []Kind { return []Kind{KindMap, KindMapIndexed, KindFold} }

// DefaultPlaceholder: 代码中替换为双引号的占位符，避免 shell 引号嵌套。
const DefaultPlaceholder = "#"

// Operation: 解析后的操作。
type Operation struct {
	Kind Kind
	// Code: 以单空格拼接并完成占位符替换后的代码。
	Code string
	// Initial: fold 的初始累加值。
	Initial contract.Value
}

// Arity 返回声明所需的元数：map=1，map-indexed/fold=2。
func (o Operation) Arity() int {
	if o.Kind == KindMap {
		return 1
	}
	return 2
}

// ParseOperation 解析操作关键字与其后的参数。
// fold 的第一个参数为初始值（整数 → 浮点 → 文本）；其余参数以单空格拼接为代码，
// placeholder 非空时其每次出现替换为 `"`。
func ParseOperation(kind string, args []string, placeholder string) (Operation, error) {
	op := Operation{Kind: Kind(kind)}
	switch op.Kind {
	case KindMap, KindMapIndexed:
	case KindFold:
		if len(args) == 0 {
			return Operation{}, fmt.Errorf("fold: missing initial value: %w", contract.ErrInvalidInput)
		}
		op.Initial = contract.ParseLiteral(args[0])
		args = args[1:]
	default:
		return Operation{}, fmt.Errorf("unknown operation %q: %w", kind, contract.ErrInvalidInput)
	}
	code := strings.Join(args, " ")
	if placeholder != "" {
		code = strings.ReplaceAll(code, placeholder, `"`)
	}
	if strings.TrimSpace(code) == "" {
		return Operation{}, fmt.Errorf("%s: missing code: %w", kind, contract.ErrInvalidInput)
	}
	op.Code = code
	return op, nil
}
