// Package jsonl 实现异步 JSONL 文件写入。
// 使用带缓冲的 channel 实现热路径的非阻塞写入。
package jsonl

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

var (
	// ErrClosed 写入器已关闭
	ErrClosed = errors.New("writer 已关闭")
	// ErrFull 缓冲已满（仅 TryWrite）
	ErrFull = errors.New("writer 缓冲已满")
)

type opType int

const (
	opWrite opType = iota
	opFlush
	opClose
)

type op struct {
	typ  opType
	val  any
	done chan error
}

// WriterStats 写入器计数
type WriterStats struct {
	// Path 输出文件路径
	Path string `json:"path"`
	// Written 已写入行数
	Written int64 `json:"written"`
	// Dropped TryWrite 因缓冲满丢弃的记录数
	Dropped int64 `json:"dropped"`
	// EncodeErrors 编码或写入失败数
	EncodeErrors int64 `json:"encode_errors"`
}

// Writer 异步 JSONL 写入器
// Write 只负责投递，实际 JSON 编码与文件 I/O 在后台 goroutine 完成。
type Writer struct {
	// path 输出文件路径
	path string
	// ch 操作通道
	ch chan op

	written      int64
	dropped      int64
	encodeErrors int64

	closeOnce sync.Once
	closeErr  error
	closed    int32

	sendMu sync.Mutex

	wg sync.WaitGroup
}

// Open 在 dir 下创建名为 name 的写入器
func Open(dir, name string, bufferSize int) (*Writer, error) {
	return NewWriter(filepath.Join(dir, name), bufferSize)
}

// NewWriter 创建 JSONL 写入器
// 参数 path: 输出文件路径（追加写入）
// 参数 bufferSize: 写入缓冲区大小（channel capacity）
func NewWriter(path string, bufferSize int) (*Writer, error) {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开输出文件失败: %w", err)
	}

	w := &Writer{
		path: path,
		ch:   make(chan op, bufferSize),
	}

	w.wg.Add(1)
	go w.loop(f)

	return w, nil
}

// Write 投递一条记录，缓冲满时阻塞
func (w *Writer) Write(v any) error {
	if w == nil {
		return nil
	}
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	if atomic.LoadInt32(&w.closed) == 1 {
		return ErrClosed
	}
	w.ch <- op{typ: opWrite, val: v}
	return nil
}

// TryWrite 投递一条记录，缓冲满时丢弃并计数
// 用于订单簿快照等允许丢失的高频输出。
func (w *Writer) TryWrite(v any) error {
	if w == nil {
		return nil
	}
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	if atomic.LoadInt32(&w.closed) == 1 {
		return ErrClosed
	}
	select {
	case w.ch <- op{typ: opWrite, val: v}:
		return nil
	default:
		atomic.AddInt64(&w.dropped, 1)
		return ErrFull
	}
}

// Flush 强制 flush 文件缓冲区
func (w *Writer) Flush() error {
	if w == nil {
		return nil
	}
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	if atomic.LoadInt32(&w.closed) == 1 {
		return nil
	}
	done := make(chan error, 1)
	w.ch <- op{typ: opFlush, done: done}
	return <-done
}

// Close 关闭写入器（会先 flush），可重复调用
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.closeOnce.Do(func() {
		w.sendMu.Lock()
		defer w.sendMu.Unlock()
		atomic.StoreInt32(&w.closed, 1)
		done := make(chan error, 1)
		w.ch <- op{typ: opClose, done: done}
		w.closeErr = <-done
		close(w.ch)
	})
	w.wg.Wait()
	return w.closeErr
}

// Stats 获取写入计数
func (w *Writer) Stats() WriterStats {
	if w == nil {
		return WriterStats{}
	}
	return WriterStats{
		Path:         w.path,
		Written:      atomic.LoadInt64(&w.written),
		Dropped:      atomic.LoadInt64(&w.dropped),
		EncodeErrors: atomic.LoadInt64(&w.encodeErrors),
	}
}

// Path 输出文件路径
func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) loop(f *os.File) {
	defer w.wg.Done()
	defer f.Close()

	bw := bufio.NewWriterSize(f, 1<<20) // 1MB buffer
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)

	for req := range w.ch {
		switch req.typ {
		case opWrite:
			// Encode 自带换行
			if err := enc.Encode(req.val); err != nil {
				atomic.AddInt64(&w.encodeErrors, 1)
				continue
			}
			atomic.AddInt64(&w.written, 1)
		case opFlush:
			req.done <- bw.Flush()
		case opClose:
			req.done <- bw.Flush()
			return
		}
	}
}
