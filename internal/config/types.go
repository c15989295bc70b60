package config

import (
	"gopkg.in/yaml.v3"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// YAML/JSON 键使用 snake_case；未知字段在解析期失败。
// 指针字段区分“未设置”与显式零值，供 Merge 判断。
type Config struct {
	Inputs []string `yaml:"inputs,omitempty"`
	// Delimiter: token 分隔符（已解释转义）；nil 取默认 "\n"，显式空串在装配期被拒绝。
	Delimiter *string `yaml:"delimiter,omitempty"`
	// Passthrough: 失败 token 原样输出（默认 true）。
	Passthrough      *bool `yaml:"passthrough,omitempty"`
	DeclarationDebug *bool `yaml:"declaration_debug,omitempty"`
	// QuotePlaceholder: 代码中替换为双引号的占位符（默认 "#"，空串关闭）。
	QuotePlaceholder *string  `yaml:"quote_placeholder,omitempty"`
	Imports          []Import `yaml:"imports,omitempty"`
	Logging          Logging  `yaml:"logging,omitempty"`
	Metrics          Metrics  `yaml:"metrics,omitempty"`
	// Status: STDERR 终端进度提示。
	Status *bool `yaml:"status,omitempty"`

	// Backend: 后端名（注册表中的实现名）。
	Backend    string     `yaml:"backend,omitempty"`
	Components Components `yaml:"components,omitempty"`
	// 各组件 Options 子树，原样传入工厂。
	Options Options `yaml:"options,omitempty"`
}

// Import: 声明前导入的库；Namespace 为 separate（默认）或 current。
type Import struct {
	Descriptor string `yaml:"descriptor"`
	Namespace  string `yaml:"namespace,omitempty"`
}

// Logging: 日志等级与可选落盘目录（空为 STDERR）。
type Logging struct {
	Level string `yaml:"level,omitempty"`
	Dir   string `yaml:"dir,omitempty"`
}

// Metrics: 退出时写出 Prometheus 文本格式指标。
type Metrics struct {
	Textfile string `yaml:"textfile,omitempty"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader   string `yaml:"reader,omitempty"`
	Splitter string `yaml:"splitter,omitempty"`
	Writer   string `yaml:"writer,omitempty"`
}

// Options: 各组件的原样 Options。
type Options struct {
	Backend  RawOptions `yaml:"backend,omitempty"`
	Reader   RawOptions `yaml:"reader,omitempty"`
	Splitter RawOptions `yaml:"splitter,omitempty"`
	Writer   RawOptions `yaml:"writer,omitempty"`
}

// RawOptions: 未解释的 Options 子树（YAML 文本，JSON 亦为合法 YAML）。
type RawOptions []byte

// UnmarshalYAML 保存子树的 YAML 文本，延迟到工厂严格解码。
func (r *RawOptions) UnmarshalYAML(n *yaml.Node) error {
	b, err := yaml.Marshal(n)
	if err != nil {
		return err
	}
	*r = b
	return nil
}

// MarshalYAML 将文本还原为节点，使模板输出保持嵌套结构。
func (r RawOptions) MarshalYAML() (any, error) {
	if len(r) == 0 {
		return nil, nil
	}
	var n yaml.Node
	if err := yaml.Unmarshal(r, &n); err != nil {
		return nil, err
	}
	if n.Kind == yaml.DocumentNode && len(n.Content) == 1 {
		return n.Content[0], nil
	}
	return &n, nil
}

// IsZero 供 omitempty 判断。
func (r RawOptions) IsZero() bool { return len(r) == 0 }
