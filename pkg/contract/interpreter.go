package contract

import "io"

// MaxSlots: 参数槽位上限。所有后端共享，越界绑定一律拒绝。
const MaxSlots = 6

// DeclarationName: 驱动声明的可调用对象名。
const DeclarationName = "transform"

// ParamNames: 槽位对应的形参名（a..f），脚本后端按此生成函数签名。
var ParamNames = [MaxSlots]string{"a", "b", "c", "d", "e", "f"}

// ImportNamespace: 导入库的可见方式。
type ImportNamespace int

const (
	// NamespaceSeparate: 以库名绑定到全局（lib.member）。
	NamespaceSeparate ImportNamespace = 0
	// NamespaceCurrent: 将库成员合并进全局作用域。
	NamespaceCurrent ImportNamespace = 1
)

func (ns ImportNamespace) String() string {
	if ns == NamespaceCurrent {
		return "current"
	}
	return "separate"
}

// Environment: 初始化时传给后端的全局标志；Init 之后对驱动只读。
type Environment struct {
	// DeclarationDebug: 声明前把生成的源码（%q 形式）写到 Trace。
	DeclarationDebug bool
	// Trace: 调试输出目标；nil 时为 STDERR。
	Trace io.Writer
}

// Interpreter: 脚本后端契约。
// 调用顺序：Init → Import* → Declare → (PassArgument* → Evaluate)*。
// 约束：
// 1) Init 幂等，重置跟踪标志；
// 2) Declare 同名覆盖；arity 超出 [0, MaxSlots] 返回 ErrSlotOutOfRange，后端拒绝返回 ErrDeclare；
// 3) PassArgument 越界返回 ErrSlotOutOfRange 且不改动任何槽位；
// 4) Evaluate 读取槽位 0..arity-1；槽位跨求值保留（未重新绑定即沿用旧值），
//    从未绑定的槽位返回 ErrSlotUnbound；结果只允许文本或数字；
// 5) 代码以反斜杠开头表示表达式，否则为函数体。
type Interpreter interface {
	Init(env Environment)
	Declare(name string, arity int, code string) error
	Import(descriptor string, ns ImportNamespace) error
	PassArgument(slot int, v Value) error
	Evaluate(name string, arity int) (Value, error)
}

// Backend: 一个后端会话。由驱动独占，Close 恰好释放一次（幂等）。
type Backend interface {
	Interpreter
	io.Closer
}

// SplitExpression 识别表达式简写：以反斜杠开头时返回去掉前缀的表达式与 true。
func SplitExpression(code string) (string, bool) {
	if len(code) > 0 && code[0] == '\\' {
		return code[1:], true
	}
	return code, false
}
