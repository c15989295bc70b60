package contract

import "io"

// Splitter: 将单个输入的字节流按分隔符惰性拆分为 token 序列。
// 约束：
// 1) 不跨输入合并；
// 2) 不改写内容（不做换行归一）；
// 3) 无内部并发；一个 TokenStream 只能被一个调用方消费。
type Splitter interface {
	Split(r io.Reader) TokenStream
}

// TokenStream: 惰性 token 序列。
// Next 返回 ok=false 表示序列结束；此后再调用仍返回 ok=false。
// err 非 nil 时 ok 为 false，流随之结束。
type TokenStream interface {
	Next() (tok Token, ok bool, err error)
}
