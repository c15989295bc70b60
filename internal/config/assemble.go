package config

import (
	"fmt"
	"strings"

	"fp/internal/pipeline"
	"fp/pkg/contract"
	"fp/pkg/registry"
)

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if len(cfg.Inputs) == 0 {
		return invalid("inputs empty")
	}
	// 输入路径不得为空字符串；"-" 不能与其他根混用
	dash := false
	for _, r := range cfg.Inputs {
		if strings.TrimSpace(r) == "" {
			return invalid("input path cannot be empty")
		}
		if strings.TrimSpace(r) == contract.StdinID {
			dash = true
		}
	}
	if dash && len(cfg.Inputs) > 1 {
		return invalid("'-' cannot be mixed with other inputs")
	}
	if _, err := ParseLevel(cfg.Logging.Level); err != nil {
		return err
	}
	for _, im := range cfg.Imports {
		if strings.TrimSpace(im.Descriptor) == "" {
			return invalid("import descriptor empty")
		}
		if _, err := parseNamespace(im.Namespace); err != nil {
			return err
		}
	}
	d := Defaults()
	bn := effName(cfg.Backend, d.Backend)
	if registry.Backend[bn] == nil {
		return invalid(fmt.Sprintf("backend %q not registered", bn))
	}
	if name := effName(cfg.Components.Reader, d.Components.Reader); registry.Reader[name] == nil {
		return invalid(fmt.Sprintf("reader %q not registered", name))
	}
	if name := effName(cfg.Components.Splitter, d.Components.Splitter); registry.Splitter[name] == nil {
		return invalid(fmt.Sprintf("splitter %q not registered", name))
	}
	if name := effName(cfg.Components.Writer, d.Components.Writer); registry.Writer[name] == nil {
		return invalid(fmt.Sprintf("writer %q not registered", name))
	}
	return nil
}

// Assemble 构造 Components 与 Settings（Settings.Operation 由调用方填写）。
// 严格 Options 解析在 registry（工厂）层进行；此处只传原样 Options，
// 顶层的 delimiter 注入到 delimiter 拆分器的 Options。
// 后端最后构造；此前任一步失败不会留下需要释放的会话。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	d := Defaults()
	rn := effName(cfg.Components.Reader, d.Components.Reader)
	sn := effName(cfg.Components.Splitter, d.Components.Splitter)
	wn := effName(cfg.Components.Writer, d.Components.Writer)
	bn := effName(cfg.Backend, d.Backend)

	r, err := registry.Reader[rn](cfg.Options.Reader)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("reader %s: %w", rn, err)
	}
	sopts := cfg.Options.Splitter
	// 显式空串同样下传，由拆分器报 ErrInvalidInput
	if cfg.Delimiter != nil && sn == "delimiter" {
		if sopts, err = SetOption(sopts, "delimiter", *cfg.Delimiter); err != nil {
			return pipeline.Components{}, pipeline.Settings{}, err
		}
	}
	s, err := registry.Splitter[sn](sopts)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("splitter %s: %w", sn, err)
	}
	w, err := registry.Writer[wn](cfg.Options.Writer)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("writer %s: %w", wn, err)
	}
	b, err := registry.Backend[bn](cfg.Options.Backend)
	if err != nil {
		if ab, ok := w.(contract.Aborter); ok {
			_ = ab.Abort()
		} else {
			_ = w.Close()
		}
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("backend %s: %w", bn, err)
	}

	imports := make([]pipeline.Import, 0, len(cfg.Imports))
	for _, im := range cfg.Imports {
		ns, _ := parseNamespace(im.Namespace)
		imports = append(imports, pipeline.Import{Descriptor: im.Descriptor, Namespace: ns})
	}
	comp := pipeline.Components{Reader: r, Splitter: s, Backend: b, Writer: w}
	set := pipeline.Settings{
		Inputs:           cloneStrings(cfg.Inputs),
		Passthrough:      boolOr(cfg.Passthrough, true),
		DeclarationDebug: boolOr(cfg.DeclarationDebug, false),
		Imports:          imports,
		BackendName:      bn,
	}
	return comp, set, nil
}

// Placeholder 返回生效的引号占位符。
func (c Config) Placeholder() string {
	if c.QuotePlaceholder == nil {
		return pipeline.DefaultPlaceholder
	}
	return *c.QuotePlaceholder
}

// ParseImport 解析 DESC[:current] / DESC[:separate]。
func ParseImport(s string) (Import, error) {
	desc, ns := s, ""
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		switch suffix := s[i+1:]; suffix {
		case "current", "separate":
			desc, ns = s[:i], suffix
		}
	}
	if strings.TrimSpace(desc) == "" {
		return Import{}, invalid(fmt.Sprintf("import %q: empty descriptor", s))
	}
	return Import{Descriptor: desc, Namespace: ns}, nil
}

func parseNamespace(s string) (contract.ImportNamespace, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "separate":
		return contract.NamespaceSeparate, nil
	case "current":
		return contract.NamespaceCurrent, nil
	}
	return 0, invalid(fmt.Sprintf("import namespace %q (want separate|current)", s))
}

// ParseLevel 校验日志等级；空为 warn。
func ParseLevel(s string) (string, error) {
	switch l := strings.ToLower(strings.TrimSpace(s)); l {
	case "":
		return "warn", nil
	case "debug", "info", "warn", "error":
		return l, nil
	}
	return "", invalid(fmt.Sprintf("log level %q (want debug|info|warn|error)", s))
}

func invalid(msg string) error {
	return fmt.Errorf("config: %s: %w", msg, contract.ErrInvalidInput)
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
