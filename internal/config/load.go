package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"fp/pkg/contract"
)

// DefaultFile: 当前目录下自动加载的配置文件名。
const DefaultFile = "fp.yaml"

// EnvPrefix: 环境变量覆盖前缀。
const EnvPrefix = "FP_"

// Defaults 返回带有安全默认值的 Config 雏形。
func Defaults() Config {
	on := true
	ph := "#"
	return Config{
		Inputs:           []string{"-"},
		Passthrough:      &on,
		QuotePlaceholder: &ph,
		Logging:          Logging{Level: "warn"},
		Backend:          "lua",
		Components: Components{
			Reader:   "fs",
			Splitter: "delimiter",
			Writer:   "stream",
		},
	}
}

// Load 从文件路径或原始文本解析 Config（YAML 或 JSON，严格拒绝未知字段）。
// 空文档得到零值 Config。
func Load(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("config: %w: %w", contract.ErrInvalidInput, err)
		}
		defer f.Close()
		r = f
	default:
		return cfg, fmt.Errorf("config: no source provided: %w", contract.ErrInvalidInput)
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: %w: %v", contract.ErrInvalidInput, err)
	}
	return cfg, nil
}

// Source 按优先级选择配置来源：显式路径 > FP_CONFIG_FILE > FP_CONFIG_YAML > ./fp.yaml。
// 均不存在时返回 ok=false。
func Source(explicit string, getenv func(string) string) (path string, raw []byte, ok bool) {
	if explicit != "" {
		return explicit, nil, true
	}
	if p := strings.TrimSpace(getenv(EnvPrefix + "CONFIG_FILE")); p != "" {
		return p, nil, true
	}
	if y := getenv(EnvPrefix + "CONFIG_YAML"); strings.TrimSpace(y) != "" {
		return "", []byte(y), true
	}
	if st, err := os.Stat(DefaultFile); err == nil && st.Mode().IsRegular() {
		return DefaultFile, nil, true
	}
	return "", nil, false
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅对已设置的字段做替换；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if len(over.Inputs) > 0 {
		out.Inputs = cloneStrings(over.Inputs)
	}
	if over.Delimiter != nil {
		out.Delimiter = cloneString(over.Delimiter)
	}
	if over.Passthrough != nil {
		out.Passthrough = cloneBool(over.Passthrough)
	}
	if over.DeclarationDebug != nil {
		out.DeclarationDebug = cloneBool(over.DeclarationDebug)
	}
	if over.QuotePlaceholder != nil {
		out.QuotePlaceholder = cloneString(over.QuotePlaceholder)
	}
	if len(over.Imports) > 0 {
		out.Imports = append([]Import(nil), over.Imports...)
	}
	if over.Status != nil {
		out.Status = cloneBool(over.Status)
	}
	if strings.TrimSpace(over.Logging.Level) != "" {
		out.Logging.Level = strings.TrimSpace(over.Logging.Level)
	}
	if over.Logging.Dir != "" {
		out.Logging.Dir = over.Logging.Dir
	}
	if over.Metrics.Textfile != "" {
		out.Metrics.Textfile = over.Metrics.Textfile
	}
	if strings.TrimSpace(over.Backend) != "" {
		out.Backend = strings.TrimSpace(over.Backend)
	}

	// 组件名（空不覆盖）
	if over.Components.Reader != "" {
		out.Components.Reader = over.Components.Reader
	}
	if over.Components.Splitter != "" {
		out.Components.Splitter = over.Components.Splitter
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}

	// Options（完整替换对应键）
	if len(over.Options.Backend) > 0 {
		out.Options.Backend = cloneRaw(over.Options.Backend)
	}
	if len(over.Options.Reader) > 0 {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}
	if len(over.Options.Splitter) > 0 {
		out.Options.Splitter = cloneRaw(over.Options.Splitter)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合，其余 FP_ 键忽略）。
// 支持：INPUTS, DELIMITER, BACKEND, PLUGIN, PASSTHROUGH, DECLARATION_DEBUG, STATUS,
// LOG_LEVEL, LOG_DIR, METRICS_FILE, COMPONENTS_{READER,SPLITTER,WRITER}。
// 布尔值无法解析时返回 ErrInvalidInput。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := strings.TrimPrefix(kv[:eq], EnvPrefix)
		val := kv[eq+1:]
		switch key {
		case "INPUTS":
			if val != "" {
				over.Inputs = splitComma(val)
			}
		case "DELIMITER":
			if val != "" {
				d, err := Unescape(val)
				if err != nil {
					return Config{}, fmt.Errorf("env %s: %w", kv[:eq], err)
				}
				over.Delimiter = &d
			}
		case "BACKEND":
			over.Backend = strings.TrimSpace(val)
		case "PLUGIN":
			if p := strings.TrimSpace(val); p != "" {
				raw, err := SetOption(nil, "path", p)
				if err != nil {
					return Config{}, err
				}
				over.Backend = "plugin"
				over.Options.Backend = raw
			}
		case "PASSTHROUGH", "DECLARATION_DEBUG", "STATUS":
			if strings.TrimSpace(val) == "" {
				continue
			}
			b, err := strconv.ParseBool(strings.TrimSpace(val))
			if err != nil {
				return Config{}, fmt.Errorf("env %s: %w: %v", kv[:eq], contract.ErrInvalidInput, err)
			}
			switch key {
			case "PASSTHROUGH":
				over.Passthrough = &b
			case "DECLARATION_DEBUG":
				over.DeclarationDebug = &b
			default:
				over.Status = &b
			}
		case "LOG_LEVEL":
			over.Logging.Level = strings.TrimSpace(val)
		case "LOG_DIR":
			over.Logging.Dir = strings.TrimSpace(val)
		case "METRICS_FILE":
			over.Metrics.Textfile = strings.TrimSpace(val)
		case "COMPONENTS_READER":
			over.Components.Reader = strings.TrimSpace(val)
		case "COMPONENTS_SPLITTER":
			over.Components.Splitter = strings.TrimSpace(val)
		case "COMPONENTS_WRITER":
			over.Components.Writer = strings.TrimSpace(val)
		}
	}
	return over, nil
}

// Unescape 解释分隔符中的转义序列：\n \t \r \0 \\。其余反斜杠序列视为错误。
func Unescape(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(s) {
			return "", fmt.Errorf("delimiter %q: trailing backslash: %w", s, contract.ErrInvalidInput)
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '0':
			b.WriteByte(0)
		case '\\':
			b.WriteByte('\\')
		default:
			return "", fmt.Errorf("delimiter %q: unknown escape \\%c: %w", s, s[i], contract.ErrInvalidInput)
		}
	}
	return b.String(), nil
}

// SetOption 在原样 Options 上设置一个顶层键（保留其他键）。
func SetOption(raw RawOptions, key string, val any) (RawOptions, error) {
	m := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("options: %w: %v", contract.ErrInvalidInput, err)
		}
		if m == nil {
			m = map[string]any{}
		}
	}
	m[key] = val
	b, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("options: %w: %v", contract.ErrInvalidInput, err)
	}
	return b, nil
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in RawOptions) RawOptions {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func cloneBool(p *bool) *bool {
	v := *p
	return &v
}

func cloneString(p *string) *string {
	v := *p
	return &v
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
