// Package stream 将记录写到 STDOUT/STDERR。
package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"fp/pkg/contract"
)

// 刷新策略。
const (
	FlushAuto   = "auto"   // 终端逐条刷新，否则仅在缓冲满或 Close 时刷新
	FlushRecord = "record" // 每条记录后刷新（适合管道下游需要即时消费）
	FlushNever  = "never"  // 仅缓冲满或 Close 时刷新
)

// Options 为流输出 Writer 的配置。
type Options struct {
	// Target: "stdout"（默认）或 "stderr"。
	Target string `yaml:"target"`
	// Separator: 记录分隔符，nil 取 "\n"。
	Separator *string `yaml:"separator"`
	// Flush: auto|record|never，默认 auto。
	Flush string `yaml:"flush"`
	// BufSize: 写缓冲区大小；<=0 使用默认 64KiB。
	BufSize int `yaml:"buf_size"`
}

// Stream 为带缓冲的记录输出。
type Stream struct {
	bw     *bufio.Writer
	sep    []byte
	each   bool
	closed bool
}

var _ contract.Writer = (*Stream)(nil)

// New 按 Target 选择标准流。
func New(opts *Options) (*Stream, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	var f *os.File
	switch o.Target {
	case "", "stdout":
		f = os.Stdout
	case "stderr":
		f = os.Stderr
	default:
		return nil, fmt.Errorf("stream: unknown target %q: %w", o.Target, contract.ErrInvalidInput)
	}
	return NewTo(f, isTerminal(f), &o)
}

// NewTo 写到任意 io.Writer；tty 决定 auto 策略下是否逐条刷新。
func NewTo(w io.Writer, tty bool, opts *Options) (*Stream, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	s := &Stream{sep: []byte("\n")}
	if o.Separator != nil {
		s.sep = []byte(*o.Separator)
	}
	switch o.Flush {
	case "", FlushAuto:
		s.each = tty
	case FlushRecord:
		s.each = true
	case FlushNever:
	default:
		return nil, fmt.Errorf("stream: unknown flush policy %q: %w", o.Flush, contract.ErrInvalidInput)
	}
	size := o.BufSize
	if size <= 0 {
		size = 64 * 1024
	}
	s.bw = bufio.NewWriterSize(w, size)
	return s, nil
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Write 写出记录与分隔符。
func (s *Stream) Write(ctx context.Context, record []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return os.ErrClosed
	}
	if _, err := s.bw.Write(record); err != nil {
		return err
	}
	if _, err := s.bw.Write(s.sep); err != nil {
		return err
	}
	if s.each {
		return s.bw.Flush()
	}
	return nil
}

// Close 刷新缓冲；不关闭底层标准流。幂等。
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.bw.Flush()
}
