package contract

// FileID: 逻辑输入标识（通常为路径，需规范化，跨平台一致）。
type FileID string

// StdinID: 代表标准输入的输入标识。
const StdinID = "-"

// Token: 分词器产出的一个片段。所有权归接收方，产出后不再被分词器改写。
type Token []byte

// Index: 全局 token 序号，自 0 起，跨输入文件连续递增。
type Index int64
