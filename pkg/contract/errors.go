package contract

import "errors"

// 错误分类哨兵。实现方以 fmt.Errorf("...: %w", ErrXxx) 包装，调用方以 errors.Is 判定。
var (
	// ErrInvalidInput: 参数或配置不合法（空分隔符、未知操作等）。
	ErrInvalidInput = errors.New("invalid input")
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")

	// ErrPluginLoad: 动态模块无法打开（文件不存在、格式错误、平台不支持）。
	ErrPluginLoad = errors.New("plugin load failed")
	// ErrPluginSymbol: 动态模块缺少五个入口之一。
	ErrPluginSymbol = errors.New("plugin symbol missing")

	// ErrDeclare: 后端拒绝声明（语法错误等）。致命，发生在读取任何 token 之前。
	ErrDeclare = errors.New("declaration failed")
	// ErrImport: 后端无法解析导入描述符。
	ErrImport = errors.New("import failed")
	// ErrBind: 后端拒绝绑定参数。
	ErrBind = errors.New("bind failed")
	// ErrSlotOutOfRange: 槽位下标或元数超出 [0, MaxSlots)。
	ErrSlotOutOfRange = errors.New("slot out of range")
	// ErrSlotUnbound: 求值时所需槽位从未绑定过。
	ErrSlotUnbound = errors.New("slot unbound")
	// ErrEvaluate: 求值失败（未知名称、运行时错误、结果类型不受支持）。
	ErrEvaluate = errors.New("evaluation failed")
	// ErrUnsupportedResult: 求值结果既非文本也非数字。
	ErrUnsupportedResult = errors.New("unsupported result type")
)
