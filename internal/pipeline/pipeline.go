package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"fp/internal/diag"
	"fp/pkg/contract"
)

// - 单线程：token 按源顺序逐个处理；declare 先于任何绑定，绑定先于求值，fold 的累加值在下一次绑定前更新。
// - 启动期（Init/Import/Declare）失败即致命；逐 token 的绑定/求值失败按透传策略就地消化，不中止运行。
// - 后端与输出端由 Driver 独占，Close 在任何退出路径上恰好释放一次。

// Components 聚合运行所需的组件。
type Components struct {
	Reader   contract.Reader
	Splitter contract.Splitter
	Backend  contract.Backend
	Writer   contract.Writer
}

// Import: 声明前导入的后端库。
type Import struct {
	Descriptor string
	Namespace  contract.ImportNamespace
}

// Settings 运行期配置。
type Settings struct {
	Inputs    []string
	Operation Operation
	// Passthrough: 失败 token 原样输出（默认 true）；false 时丢弃。
	Passthrough      bool
	DeclarationDebug bool
	// Trace: 声明调试输出目标；nil 为 STDERR。
	Trace   io.Writer
	Imports []Import
	// BackendName 仅用于日志与终端提示。
	BackendName string
}

// Stats 运行统计。
type Stats struct {
	Inputs      int64
	Tokens      int64
	Emitted     int64
	Failed      int64
	Passthrough int64
	Dropped     int64
}

// Driver: 一次运行的驱动器。
type Driver struct {
	comp   Components
	set    Settings
	logger *diag.Logger

	ran    bool
	runErr error
	closed bool

	okTokens   prometheus.Counter
	passTokens prometheus.Counter
	dropTokens prometheus.Counter
	foldFails  prometheus.Counter
}

// New 完成启动期：Init → Import* → Declare。失败时释放全部组件并返回带分类的错误。
func New(comp Components, set Settings, logger *diag.Logger) (*Driver, error) {
	d := &Driver{
		comp:       comp,
		set:        set,
		logger:     logger,
		okTokens:   diag.OpCounter(diag.CompEvaluator, "token", "success"),
		passTokens: diag.OpCounter(diag.CompEvaluator, "token", "passthrough"),
		dropTokens: diag.OpCounter(diag.CompEvaluator, "token", "dropped"),
		foldFails:  diag.OpCounter(diag.CompEvaluator, "token", "skipped"),
	}
	if err := sanity(comp, set); err != nil {
		d.release(err)
		return nil, fmt.Errorf("sanity: %w", err)
	}
	if err := d.setup(); err != nil {
		d.release(err)
		return nil, err
	}
	return d, nil
}

func (d *Driver) setup() error {
	b := d.comp.Backend
	timer := d.logger.StartWithKV(diag.CompBackend, "setup", "", map[string]string{
		"backend": d.set.BackendName,
		"op":      string(d.set.Operation.Kind),
	})
	b.Init(contract.Environment{DeclarationDebug: d.set.DeclarationDebug, Trace: d.set.Trace})
	for _, im := range d.set.Imports {
		if err := b.Import(im.Descriptor, im.Namespace); err != nil {
			d.fail(diag.CompBackend, "import failed", err)
			return fmt.Errorf("import %q: %w", im.Descriptor, err)
		}
	}
	op := d.set.Operation
	if err := b.Declare(contract.DeclarationName, op.Arity(), op.Code); err != nil {
		d.fail(diag.CompBackend, "declare failed", err)
		return fmt.Errorf("declare: %w", err)
	}
	timer.Finish("setup", int64(len(d.set.Imports)))
	diag.IncOp(diag.CompBackend, "setup", "success")
	return nil
}

// fail 记录组件级错误（日志 + 指标）。
func (d *Driver) fail(comp, msg string, err error) {
	code := diag.Classify(err)
	d.logger.ErrorWithKV(comp, string(code), msg, nil, "", map[string]string{"err": err.Error()})
	diag.IncOp(comp, "error", "error")
	diag.IncError(comp, code)
}

// Run 遍历全部输入并逐 token 求值。只能调用一次。
func (d *Driver) Run(ctx context.Context) (Stats, error) {
	var st Stats
	if d.closed || d.ran {
		return st, fmt.Errorf("pipeline: driver already used: %w", contract.ErrInvalidInput)
	}
	d.ran = true
	start := time.Now()
	op := d.set.Operation
	term := diag.GetTerminal()
	term.RunStart(d.set.BackendName, string(op.Kind))

	var index int64
	acc := op.Initial
	rtimer := d.logger.Start(diag.CompReader, "iterate")
	err := d.comp.Reader.Iterate(ctx, d.set.Inputs, func(fid contract.FileID, rc io.ReadCloser) error {
		st.Inputs++
		term.InputStart(string(fid))
		d.logger.DebugStart(diag.CompSplitter, "split", string(fid), nil)
		ts := d.comp.Splitter.Split(rc)
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			tok, ok, err := ts.Next()
			if err != nil {
				d.fail(diag.CompSplitter, "split failed", err)
				return fmt.Errorf("split %s: %w", fid, err)
			}
			if !ok {
				return nil
			}
			i := index
			index++
			st.Tokens++

			res, err := d.apply(op, i, tok, acc)
			if err != nil {
				st.Failed++
				code := diag.Classify(err)
				diag.IncError(diag.CompEvaluator, code)
				d.logger.TokenFailure(diag.CompEvaluator, string(code), err.Error(), string(fid), i, nil)
				switch {
				case op.Kind == KindFold:
					d.foldFails.Inc()
				case d.set.Passthrough:
					st.Passthrough++
					d.passTokens.Inc()
					if err := d.write(ctx, tok); err != nil {
						return err
					}
				default:
					st.Dropped++
					d.dropTokens.Inc()
				}
				term.Progress(st.Tokens, st.Failed)
				continue
			}
			d.okTokens.Inc()
			if op.Kind == KindFold {
				acc = res
			} else {
				if err := d.write(ctx, []byte(res.String())); err != nil {
					return err
				}
				st.Emitted++
			}
			term.Progress(st.Tokens, st.Failed)
		}
	})
	if err == nil && op.Kind == KindFold {
		if err = d.write(ctx, []byte(acc.String())); err == nil {
			st.Emitted++
		}
	}
	if err != nil {
		if !errors.Is(err, errWrite) {
			d.fail(diag.CompReader, "iterate failed", err)
		}
		d.runErr = err
		term.RunFinish(false, st.Tokens, st.Failed, time.Since(start))
		return st, fmt.Errorf("run: %w", err)
	}
	rtimer.Finish("iterate", st.Tokens)
	diag.ObserveDuration(diag.CompPipeline, "run", time.Since(start))
	term.RunFinish(true, st.Tokens, st.Failed, time.Since(start))
	return st, nil
}

// apply 绑定一个 token 的参数并求值。
func (d *Driver) apply(op Operation, index int64, tok contract.Token, acc contract.Value) (contract.Value, error) {
	b := d.comp.Backend
	switch op.Kind {
	case KindMap:
		if err := b.PassArgument(0, contract.Text(string(tok))); err != nil {
			return contract.Value{}, err
		}
	case KindMapIndexed:
		if err := b.PassArgument(0, contract.Int(index)); err != nil {
			return contract.Value{}, err
		}
		if err := b.PassArgument(1, contract.Text(string(tok))); err != nil {
			return contract.Value{}, err
		}
	case KindFold:
		if err := b.PassArgument(0, acc); err != nil {
			return contract.Value{}, err
		}
		if err := b.PassArgument(1, contract.Text(string(tok))); err != nil {
			return contract.Value{}, err
		}
	}
	return b.Evaluate(contract.DeclarationName, op.Arity())
}

// errWrite 标记输出端错误（已单独记录）。
var errWrite = errors.New("write failed")

func (d *Driver) write(ctx context.Context, rec []byte) error {
	if err := d.comp.Writer.Write(ctx, rec); err != nil {
		d.fail(diag.CompWriter, "write failed", err)
		return fmt.Errorf("%w: %w", errWrite, err)
	}
	return nil
}

// Close 释放后端并提交（或放弃）输出；幂等。
// Run 失败或从未运行时，支持 Aborter 的输出端会被放弃而非提交。
func (d *Driver) Close() error {
	if d.closed {
		return nil
	}
	cause := d.runErr
	if !d.ran && cause == nil {
		cause = errNotRun
	}
	return d.release(cause)
}

var errNotRun = errors.New("not run")

// release 恰好一次地释放组件；cause 非 nil 时放弃输出。
func (d *Driver) release(cause error) error {
	if d.closed {
		return nil
	}
	d.closed = true
	var errs []error
	if d.comp.Backend != nil {
		if err := d.comp.Backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("backend close: %w", err))
		}
	}
	if w := d.comp.Writer; w != nil {
		if ab, ok := w.(contract.Aborter); ok && cause != nil {
			if err := ab.Abort(); err != nil {
				errs = append(errs, fmt.Errorf("writer abort: %w", err))
			}
		} else if err := w.Close(); err != nil {
			d.fail(diag.CompWriter, "commit failed", err)
			errs = append(errs, fmt.Errorf("writer close: %w", err))
		}
	}
	return errors.Join(errs...)
}

func sanity(c Components, s Settings) error {
	if c.Reader == nil || c.Splitter == nil || c.Backend == nil || c.Writer == nil {
		return fmt.Errorf("pipeline: missing components: %w", contract.ErrInvalidInput)
	}
	if len(s.Inputs) == 0 {
		return fmt.Errorf("pipeline: empty inputs: %w", contract.ErrInvalidInput)
	}
	switch s.Operation.Kind {
	case KindMap, KindMapIndexed, KindFold:
	default:
		return fmt.Errorf("pipeline: unknown operation %q: %w", s.Operation.Kind, contract.ErrInvalidInput)
	}
	return nil
}
