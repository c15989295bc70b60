package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	cfgpkg "fp/internal/config"
	"fp/internal/diag"
	"fp/internal/pipeline"
	"fp/pkg/registry"
)

// 退出码：与日志错误分类解耦。
const (
	exitOK      = 0
	exitRuntime = 1
	exitUsage   = 2
	exitSetup   = 3
)

// exitError 携带退出码；err 为 nil 时表示已自行报告。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func fail(code int, format string, a ...any) error {
	return &exitError{code: code, err: fmt.Errorf(format, a...)}
}

var runCtx = func() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute 运行命令树并映射退出码。cobra 自身的解析/参数错误视为用法错误。
func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stderr)
	if args == nil {
		// nil 会让 cobra 回退到 os.Args
		args = []string{}
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.Execute()
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fprintf(stderr, "fp: %v\n", ee.err)
		}
		return ee.code
	}
	fprintf(stderr, "fp: %v\n", err)
	fprintf(stderr, "Run 'fp --help' for usage.\n")
	return exitUsage
}

// flags: 全局旗标。只能出现在操作关键字之前，由根命令解析；
// 关键字之后的参数原样作为初值与代码（fold -1 中的 "-1" 不是短旗标）。
type flags struct {
	space       bool
	debug       bool
	noPass      bool
	delimiter   string
	backend     string
	plugin      string
	imports     []string
	output      string
	config      string
	logLevel    string
	status      bool
	metricsFile string
}

func newRootCmd(stderr io.Writer) *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:   "fp [flags] <map|map-indexed|fold> [args...]",
		Short: "Split input into tokens and transform each with a script backend",
		Long: `fp splits its input into tokens (default delimiter: newline) and applies a
user-supplied function to each one:

  fp map '\a:upper()'                  one output per token
  fp map-indexed '\a .. ": " .. b'     a = index, b = token
  fp fold 0 '\a + tonumber(b)'         a = accumulator, b = token

A leading backslash marks an expression; otherwise the code is a function body.
'#' in code is replaced by a double quote.`,
		Args:             cobra.NoArgs,
		TraverseChildren: true,
		SilenceErrors:    true,
		SilenceUsage:     true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Usage()
			return &exitError{code: exitUsage}
		},
	}
	pf := root.PersistentFlags()
	pf.BoolVarP(&f.space, "space", "w", false, "use a single space as the token delimiter")
	pf.BoolVarP(&f.debug, "debug", "d", false, "trace backend declarations on stderr")
	pf.BoolVarP(&f.noPass, "no-passthrough", "p", false, "drop tokens whose evaluation fails instead of echoing them")
	pf.StringVar(&f.delimiter, "delimiter", "", `custom delimiter; escapes \n \t \r \0 \\ are interpreted (overrides -w)`)
	pf.StringVarP(&f.backend, "backend", "b", "", "backend name (see 'fp backends')")
	pf.StringVar(&f.plugin, "plugin", "", "shared module path; implies --backend plugin")
	pf.StringArrayVarP(&f.imports, "import", "i", nil, "import a backend library before declaring: DESC[:current] (repeatable)")
	pf.StringVarP(&f.output, "output", "o", "", "write output to a file instead of stdout")
	pf.StringVarP(&f.config, "config", "c", "", "YAML/JSON config file (default ./fp.yaml if present)")
	pf.StringVar(&f.logLevel, "log-level", "", "log level: debug|info|warn|error")
	pf.BoolVar(&f.status, "status", false, "terminal status on stderr")
	pf.StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus text metrics to this file at exit")

	for _, k := range pipeline.Kinds() {
		root.AddCommand(newOpCmd(f, k, stderr))
	}
	root.AddCommand(newBackendsCmd(), newInitConfigCmd())
	return root
}

func newOpCmd(f *flags, kind pipeline.Kind, stderr io.Writer) *cobra.Command {
	use, short, minArgs := string(kind)+" <code...>", "", 1
	switch kind {
	case pipeline.KindMap:
		short = "Apply code to each token (a = token)"
	case pipeline.KindMapIndexed:
		short = "Apply code to each token with its index (a = index, b = token)"
	case pipeline.KindFold:
		use, minArgs = string(kind)+" <initial> <code...>", 2
		short = "Fold tokens into one value (a = accumulator, b = token)"
	}
	return &cobra.Command{
		Use:                use,
		Short:              short,
		Args:               cobra.MinimumNArgs(minArgs),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperation(cmd, f, kind, args, stderr)
		},
	}
}

func newBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List registered backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			for _, n := range registry.BackendNames() {
				fmt.Fprintf(w, "%-10s %s\n", n, registry.BackendDescriptions[n])
			}
			return nil
		},
	}
}

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [dir]",
		Short: "Write an fp.yaml template (never overwrites)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			p, err := cfgpkg.WriteTemplate(dir)
			if err != nil {
				if errors.Is(err, fs.ErrExist) {
					return fail(exitSetup, "%s already exists; not overwritten", p)
				}
				return fail(exitSetup, "init-config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", p)
			return nil
		},
	}
}

// loadConfig 按 Defaults ← 文件 ← ENV ← CLI 合并配置。
func loadConfig(cmd *cobra.Command, f *flags) (cfgpkg.Config, error) {
	cfg := cfgpkg.Defaults()
	if path, raw, ok := cfgpkg.Source(f.config, os.Getenv); ok {
		base, err := cfgpkg.Load(path, raw)
		if err != nil {
			return cfg, err
		}
		cfg = cfgpkg.Merge(cfg, base)
	}
	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, err
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	var over cfgpkg.Config
	// 操作子命令不解析旗标，变更状态记在根命令上
	changed := cmd.Root().Flags().Changed
	if f.space {
		sp := " "
		over.Delimiter = &sp
	}
	if changed("delimiter") {
		d, err := cfgpkg.Unescape(f.delimiter)
		if err != nil {
			return cfg, err
		}
		over.Delimiter = &d
	}
	if f.debug {
		over.DeclarationDebug = &f.debug
	}
	if f.noPass {
		off := false
		over.Passthrough = &off
	}
	if changed("status") {
		over.Status = &f.status
	}
	over.Backend = f.backend
	if f.plugin != "" {
		raw, err := cfgpkg.SetOption(cfg.Options.Backend, "path", f.plugin)
		if err != nil {
			return cfg, err
		}
		over.Backend = "plugin"
		over.Options.Backend = raw
	}
	for _, s := range f.imports {
		im, err := cfgpkg.ParseImport(s)
		if err != nil {
			return cfg, err
		}
		over.Imports = append(over.Imports, im)
	}
	if f.output != "" {
		raw, err := cfgpkg.SetOption(nil, "path", f.output)
		if err != nil {
			return cfg, err
		}
		over.Components.Writer = "fs"
		over.Options.Writer = raw
	}
	over.Logging.Level = f.logLevel
	over.Metrics.Textfile = f.metricsFile
	return cfgpkg.Merge(cfg, over), nil
}

// runOperation 完成一次 map/map-indexed/fold 运行。
// 启动期错误（配置/加载/导入/声明）在任何输出前以退出码 3 返回。
func runOperation(cmd *cobra.Command, f *flags, kind pipeline.Kind, args []string, stderr io.Writer) error {
	start := time.Now()
	corrID := uuid.NewString()

	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return fail(exitSetup, "config: %w", err)
	}
	level, err := cfgpkg.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return fail(exitSetup, "%w", err)
	}
	var logger *diag.Logger
	if cfg.Logging.Dir != "" {
		logger = diag.NewLogger(corrID, level, cfg.Logging.Dir)
	} else {
		logger = diag.NewLoggerTo(corrID, level, stderr)
	}
	defer func() { _ = logger.Sync() }()
	if p := cfg.Metrics.Textfile; p != "" {
		defer func() {
			if err := diag.WriteTextfile(p); err != nil {
				fprintf(stderr, "fp: metrics: %v\n", err)
			}
		}()
	}

	op, err := pipeline.ParseOperation(string(kind), args, cfg.Placeholder())
	if err != nil {
		return fail(exitUsage, "%w", err)
	}

	status := cfg.Status != nil && *cfg.Status
	term := diag.NewTerminal(stderr, status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)

	logger.DebugStart(diag.CompConfig, "effective", "", map[string]string{
		"inputs_count": fmt.Sprintf("%d", len(cfg.Inputs)),
		"backend":      cfg.Backend,
		"reader":       cfg.Components.Reader,
		"splitter":     cfg.Components.Splitter,
		"writer":       cfg.Components.Writer,
		"op":           string(kind),
		"passthrough":  fmt.Sprintf("%t", cfg.Passthrough == nil || *cfg.Passthrough),
	})

	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		logger.Error(diag.CompConfig, string(diag.Classify(err)), "assemble failed", &start)
		diag.IncError(diag.CompConfig, diag.Classify(err))
		return fail(exitSetup, "%w", err)
	}
	set.Operation = op
	set.Trace = stderr

	d, err := pipeline.New(comp, set, logger)
	if err != nil {
		code := exitRuntime
		if diag.IsSetup(err) {
			code = exitSetup
		}
		logger.Error(diag.CompPipeline, string(diag.Classify(err)), "setup failed", &start)
		return fail(code, "%w", err)
	}

	ctx, stop := runCtx()
	defer stop()
	t := logger.Start(diag.CompPipeline, "run")
	st, runErr := d.Run(ctx)
	closeErr := d.Close()
	if runErr != nil || closeErr != nil {
		err := errors.Join(runErr, closeErr)
		code := diag.Classify(err)
		logger.Error(diag.CompPipeline, string(code), "first error", &start)
		diag.IncOp(diag.CompPipeline, "error", "error")
		diag.IncError(diag.CompPipeline, code)
		if errors.Is(err, context.Canceled) {
			return &exitError{code: exitRuntime}
		}
		return fail(exitRuntime, "%w", err)
	}
	t.Finish("run", st.Tokens)
	diag.IncOp(diag.CompPipeline, "finish", "success")
	if st.Failed > 0 {
		logger.InfoFinish(diag.CompEvaluator, fmt.Sprintf("tokens failed: passthrough=%d dropped=%d", st.Passthrough, st.Dropped), start, st.Failed)
	}
	return nil
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }
