package contract

import "context"

// Writer: 输出端。每次 Write 写出一条记录（实现负责追加记录分隔符）。
// 约束：
//  1. 单写者，按调用顺序落地；
//  2. ctx 取消需尽快返回；
//  3. 错误直接上抛（不做重试/回退）；
//  4. Close 提交并释放资源，幂等。
type Writer interface {
	Write(ctx context.Context, record []byte) error
	Close() error
}

// Aborter: 可选能力。放弃尚未提交的输出（例如原子写入的临时文件）。
type Aborter interface {
	Abort() error
}
