package delimiter

import (
	"bytes"
	"fmt"
	"io"

	"fp/pkg/contract"
)

// DefaultChunkSize: 单次从源读取的字节数。
const DefaultChunkSize = 1024

// 连续零字节读取的容忍次数，超过即视为源无进展。
const maxEmptyReads = 100

// Options 为分隔符拆分器的配置。
type Options struct {
	// Delimiter: 分隔符字节串；nil 取默认 "\n"，显式空串非法。
	Delimiter *string `yaml:"delimiter"`
	// ChunkSize: 每次读取的块大小；<=0 取默认。
	ChunkSize int `yaml:"chunk_size"`
}

// Splitter 按固定分隔符拆分字节流。
type Splitter struct {
	delim []byte
	chunk int
}

// New 创建拆分器；空分隔符返回 ErrInvalidInput。
func New(opts *Options) (*Splitter, error) {
	d := "\n"
	chunk := DefaultChunkSize
	if opts != nil {
		if opts.Delimiter != nil {
			d = *opts.Delimiter
		}
		if opts.ChunkSize > 0 {
			chunk = opts.ChunkSize
		}
	}
	if d == "" {
		return nil, fmt.Errorf("delimiter: empty delimiter: %w", contract.ErrInvalidInput)
	}
	return &Splitter{delim: []byte(d), chunk: chunk}, nil
}

// Delimiter 返回生效的分隔符。
func (s *Splitter) Delimiter() []byte { return s.delim }

// Split 返回 r 上的惰性 token 流。
func (s *Splitter) Split(r io.Reader) contract.TokenStream {
	return &Stream{src: r, delim: s.delim, chunk: make([]byte, s.chunk)}
}

// Stream: 增量分词状态。
// buf 保存尚未产出的字节；scanned 之前的区域已确认不含完整分隔符起点
// （跨块边界的部分匹配从 scanned-len(delim)+1 处重新比较）。
type Stream struct {
	src     io.Reader
	delim   []byte
	chunk   []byte
	buf     []byte
	scanned int
	eof     bool
	done    bool
}

// Next 产出下一个 token。源耗尽时非空余量作为最后一个 token 返回一次。
func (st *Stream) Next() (contract.Token, bool, error) {
	if st.done {
		return nil, false, nil
	}
	for {
		from := st.scanned - len(st.delim) + 1
		if from < 0 {
			from = 0
		}
		if i := bytes.Index(st.buf[from:], st.delim); i >= 0 {
			end := from + i
			tok := make(contract.Token, end)
			copy(tok, st.buf[:end])
			rest := copy(st.buf, st.buf[end+len(st.delim):])
			st.buf = st.buf[:rest]
			st.scanned = 0
			return tok, true, nil
		}
		st.scanned = len(st.buf)

		if st.eof {
			st.done = true
			if len(st.buf) == 0 {
				return nil, false, nil
			}
			tok := make(contract.Token, len(st.buf))
			copy(tok, st.buf)
			st.buf = nil
			return tok, true, nil
		}
		if err := st.fill(); err != nil {
			st.done = true
			return nil, false, err
		}
	}
}

// fill 读取一个块追加到 buf；io.EOF 仅置位 eof。
func (st *Stream) fill() error {
	for empty := 0; empty < maxEmptyReads; empty++ {
		n, err := st.src.Read(st.chunk)
		if n > 0 {
			st.buf = append(st.buf, st.chunk[:n]...)
		}
		if err == io.EOF {
			st.eof = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("delimiter: read: %w", err)
		}
		if n > 0 {
			return nil
		}
	}
	return io.ErrNoProgress
}
