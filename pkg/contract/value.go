package contract

import (
	"math"
	"strconv"
)

// Kind: Value 的变体标签。
type Kind uint8

const (
	KindText Kind = iota
	KindNumber
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value: 跨后端边界传递的两变体值（文本 | 数字）。不可变。
type Value struct {
	kind Kind
	text string
	num  float64
}

// Text 构造文本值（任意字节，不校验 UTF-8）。
func Text(s string) Value { return Value{kind: KindText, text: s} }

// Number 构造数字值。
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Int 构造整数值（以 float64 承载）。
func Int(i int64) Value { return Number(float64(i)) }

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsText() bool { return v.kind == KindText }
func (v Value) IsNumber() bool { return v.kind == KindNumber }
func (v Value) TextValue() string { return v.text }
func (v Value) Float() float64 { return v.num }

// 超过该量级的整数值不再按整数渲染（float64 在此之上已无法逐一表示整数）。
const intRenderLimit = 1e15

// String 规范文本形式：文本原样；整数值的数字不带小数部分；其余取最短往返形式。
func (v Value) String() string {
	if v.kind == KindText {
		return v.text
	}
	return FormatNumber(v.num)
}

// FormatNumber 数字的规范文本形式，供各后端复用。
func FormatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < intRenderLimit {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Add 组合两个值：
//   - 文本 + 文本 → 拼接；
//   - 数字 + 数字 → 算术和；
//   - 混合 → 数字先渲染为文本，再按操作数顺序拼接。
func (v Value) Add(o Value) Value {
	if v.kind == KindNumber && o.kind == KindNumber {
		return Number(v.num + o.num)
	}
	return Text(v.String() + o.String())
}

// ParseLiteral 解析命令行字面量：整数，其次浮点，否则文本。
func ParseLiteral(s string) Value {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Number(f)
	}
	return Text(s)
}
