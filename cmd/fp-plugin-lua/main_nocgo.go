//go:build !cgo

package main

// 无 cgo 时不导出任何符号；main.go 中的 main 同样为空。
func main() {}
