package contract

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNormalizeFileID 验证路径规范化逻辑。
func TestNormalizeFileID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"本地分隔符", filepath.Join("a", "b", "c"), "a/b/c"},
		{"相对回退", "./x/../y", "y"},
		{"空串", "", "."},
		{"Windows路径", "C:\\Users\\test\\file.txt", "C:/Users/test/file.txt"},
		{"清理多余斜杠", "path//to///file.txt", "path/to/file.txt"},
		{"混合分隔符", "C:\\Users/test\\Documents/file.txt", "C:/Users/test/Documents/file.txt"},
		{"中文路径", "项目\\文档/测试.txt", "项目/文档/测试.txt"},
		{"复杂父目录", "a\\b\\c\\..\\..\\..\\..\\d", "../d"},
		{"STDIN", "-", "-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(NormalizeFileID(tt.input)))
		})
	}
}

// TestValueString 覆盖规范文本形式。
func TestValueString(t *testing.T) {
	cases := []struct {
		v    Value
		want string
	}{
		{Text("abc"), "abc"},
		{Text(""), ""},
		{Int(6), "6"},
		{Int(-2), "-2"},
		{Number(0.5), "0.5"},
		{Number(1e20), "1e+20"},
		{Number(math.Inf(1)), "+Inf"},
		{Number(1.25e-7), "1.25e-07"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.v.String())
	}
}

// TestValueAdd 验证组合律：同类相加、混合转文本按序拼接。
func TestValueAdd(t *testing.T) {
	sum := Int(2).Add(Number(0.5))
	require.True(t, sum.IsNumber())
	assert.Equal(t, 2.5, sum.Float())

	cat := Text("ab").Add(Text("cd"))
	require.True(t, cat.IsText())
	assert.Equal(t, "abcd", cat.TextValue())

	assert.Equal(t, "x7", Text("x").Add(Int(7)).TextValue())
	assert.Equal(t, "7x", Int(7).Add(Text("x")).TextValue())
	assert.Equal(t, "1.5x", Number(1.5).Add(Text("x")).TextValue())
}

// TestParseLiteral 整数 → 浮点 → 文本。
func TestParseLiteral(t *testing.T) {
	v := ParseLiteral("0")
	require.True(t, v.IsNumber())
	assert.Equal(t, "0", v.String())

	v = ParseLiteral("-3.5")
	require.True(t, v.IsNumber())
	assert.Equal(t, -3.5, v.Float())

	v = ParseLiteral("hello")
	require.True(t, v.IsText())
	assert.Equal(t, "hello", v.String())

	assert.True(t, ParseLiteral("").IsText())
}

// TestSlots 覆盖越界、未绑定与跨求值沿用。
func TestSlots(t *testing.T) {
	var s Slots
	_, err := s.Args(1)
	require.ErrorIs(t, err, ErrSlotUnbound)

	require.NoError(t, s.Set(0, Text("x")))
	require.NoError(t, s.Set(5, Int(1)))

	err = s.Set(6, Text("boom"))
	require.ErrorIs(t, err, ErrSlotOutOfRange)
	err = s.Set(-1, Text("boom"))
	require.ErrorIs(t, err, ErrSlotOutOfRange)

	args, err := s.Args(1)
	require.NoError(t, err)
	assert.Equal(t, "x", args[0].String())

	// 槽位 1 从未绑定
	_, err = s.Args(2)
	require.ErrorIs(t, err, ErrSlotUnbound)

	_, err = s.Args(MaxSlots + 1)
	require.ErrorIs(t, err, ErrSlotOutOfRange)

	// 槽位保留：未重新绑定即沿用
	args, err = s.Args(1)
	require.NoError(t, err)
	assert.Equal(t, "x", args[0].String())

	s.Reset()
	_, err = s.Args(1)
	assert.True(t, errors.Is(err, ErrSlotUnbound))
}

// TestSplitExpression 反斜杠前缀识别。
func TestSplitExpression(t *testing.T) {
	expr, ok := SplitExpression(`\a .. "!"`)
	assert.True(t, ok)
	assert.Equal(t, `a .. "!"`, expr)

	body, ok := SplitExpression("return a")
	assert.False(t, ok)
	assert.Equal(t, "return a", body)

	_, ok = SplitExpression("")
	assert.False(t, ok)
}

// BenchmarkValueString 数字渲染基准。
func BenchmarkValueString(b *testing.B) {
	vals := []Value{Int(42), Number(3.14159), Text("abc"), Number(1e18)}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, v := range vals {
			_ = v.String()
		}
	}
}
