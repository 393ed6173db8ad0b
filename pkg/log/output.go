package log

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// ConsoleOutput writes to stderr (or stdout when UseStdout is set).
type ConsoleOutput struct {
	UseStdout bool
	mu        sync.Mutex
}

// NewConsoleOutput returns a ConsoleOutput writing to stderr.
func NewConsoleOutput() *ConsoleOutput { return &ConsoleOutput{} }

func (o *ConsoleOutput) Write(_ *Entry, b []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var w io.Writer = os.Stderr
	if o.UseStdout {
		w = os.Stdout
	}
	_, err := w.Write(b)
	return err
}

func (o *ConsoleOutput) Close() error { return nil }

// FileOutput appends entries to a file.
type FileOutput struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileOutput opens (or creates) path for appending.
func NewFileOutput(path string) (*FileOutput, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &FileOutput{f: f}, nil
}

func (o *FileOutput) Write(_ *Entry, b []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, err := o.f.Write(b)
	return err
}

func (o *FileOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.f.Close()
}

// WriterOutput writes to an arbitrary io.Writer. Used by tests.
type WriterOutput struct {
	mu sync.Mutex
	W  io.Writer
}

func (o *WriterOutput) Write(_ *Entry, b []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, err := o.W.Write(b)
	return err
}

func (o *WriterOutput) Close() error { return nil }

// NullOutput discards everything.
type NullOutput struct{}

func (NullOutput) Write(*Entry, []byte) error { return nil }
func (NullOutput) Close() error               { return nil }
