package contract

import (
	"path"
	"strings"
)

// NormalizeFileID 规范化路径，统一为跨平台稳定的 FileID。
// 规则：反斜杠一律视为分隔符；path.Clean 清理 . 与 ..；不做隐式绝对化。
// STDIN 的 "-" 原样保留。
func NormalizeFileID(p string) FileID {
	if p == StdinID {
		return FileID(StdinID)
	}
	return FileID(path.Clean(strings.ReplaceAll(p, `\`, "/")))
}
