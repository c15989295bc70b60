package registry

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"fp/pkg/contract"
	bdyn "fp/plugins/backend/dynamic"
	blua "fp/plugins/backend/lua"
	bstar "fp/plugins/backend/starlark"
	rfs "fp/plugins/reader/filesystem"
	sdelim "fp/plugins/splitter/delimiter"
	wfs "fp/plugins/writer/filesystem"
	wstream "fp/plugins/writer/stream"
)

// strictUnmarshal: KnownFields 严格解码（YAML，兼容 JSON），拒绝未知字段；空输入保持零值。
func strictUnmarshal(raw []byte, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("options: %w: %v", contract.ErrInvalidInput, err)
	}
	return nil
}

// NewBackend 工厂签名：接收原样 YAML/JSON Options，返回独立会话。
type NewBackend func(raw []byte) (contract.Backend, error)

// NewReader 工厂签名。
type NewReader func(raw []byte) (contract.Reader, error)

// NewSplitter 工厂签名。
type NewSplitter func(raw []byte) (contract.Splitter, error)

// NewWriter 工厂签名。
type NewWriter func(raw []byte) (contract.Writer, error)

// PluginOptions: 动态后端选项。
type PluginOptions struct {
	// Path: 实现 fp_plugin.h 的共享模块路径。
	Path string `yaml:"path"`
}

// Backend 工厂注册表（显式、零反射）。
var Backend = map[string]NewBackend{
	// lua: 进程内 Lua 5.1
	"lua": func(raw []byte) (contract.Backend, error) {
		var opts blua.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return blua.New(&opts)
	},
	// starlark: 进程内 Starlark（Python 方言）
	"starlark": func(raw []byte) (contract.Backend, error) {
		var opts bstar.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return bstar.New(&opts)
	},
	// plugin: dlopen 加载的共享模块
	"plugin": func(raw []byte) (contract.Backend, error) {
		var opts PluginOptions
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		if opts.Path == "" {
			return nil, fmt.Errorf("plugin: path required: %w", contract.ErrInvalidInput)
		}
		return bdyn.Open(opts.Path)
	},
}

// BackendDescriptions: `fp backends` 的说明文本。
var BackendDescriptions = map[string]string{
	"lua":      "embedded Lua 5.1 (gopher-lua); \\expr or function body",
	"starlark": "embedded Starlark, a Python dialect; \\expr (lambda) or def body",
	"plugin":   "shared module exporting init/declare/import/pass_argument/evaluate (fp_plugin.h)",
}

// BackendNames 返回已注册后端名（已排序）。
func BackendNames() []string {
	names := make([]string, 0, len(Backend))
	for n := range Backend {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Reader 工厂注册表。
var Reader = map[string]NewReader{
	// fs: 文件系统/STDIN Reader
	"fs": func(raw []byte) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Splitter 工厂注册表。
var Splitter = map[string]NewSplitter{
	// delimiter: 增量分隔符拆分
	"delimiter": func(raw []byte) (contract.Splitter, error) {
		var opts sdelim.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return sdelim.New(&opts)
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// stream: STDOUT/STDERR
	"stream": func(raw []byte) (contract.Writer, error) {
		var opts wstream.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wstream.New(&opts)
	},
	// fs: 单文件输出（默认原子替换）
	"fs": func(raw []byte) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}
