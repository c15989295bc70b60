package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 默认输入为 STDIN（"-"），输出到 STDOUT；
// - 后端为内置 lua，组件名采用仓库内置实现；
// - 选项给出安全中性默认值，包含全部键。
func DefaultTemplateConfig() Config {
	cfg := Defaults()
	nl := "\n"
	cfg.Delimiter = &nl
	off := false
	cfg.DeclarationDebug = &off
	cfg.Status = &off
	cfg.Options.Backend = RawOptions("package_path: []\ncall_stack_size: 0\n")
	cfg.Options.Reader = RawOptions("buf_size: 65536\nexclude_dir_names: [.git, node_modules, vendor]\ninclude_exts: []\n")
	cfg.Options.Splitter = RawOptions("chunk_size: 1024\n")
	cfg.Options.Writer = RawOptions("target: stdout\nflush: auto\nbuf_size: 65536\n")
	return cfg
}

const templateHeader = `# fp configuration. Precedence: defaults < this file < FP_* env < flags.
# backends: lua | starlark | plugin (options.backend.path required)
# writers:  stream (stdout/stderr) | fs (options.writer.path)
`

// MarshalTemplate 渲染带注释头的 YAML 模板。
func MarshalTemplate(cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(templateHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTemplate 在 dir 下写出 fp.yaml；已存在时不覆盖并返回 fs.ErrExist。
func WriteTemplate(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	p := filepath.Join(dir, DefaultFile)
	b, err := MarshalTemplate(DefaultTemplateConfig())
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return p, fmt.Errorf("%s: %w", p, fs.ErrExist)
		}
		return "", err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return "", err
	}
	return p, f.Close()
}
