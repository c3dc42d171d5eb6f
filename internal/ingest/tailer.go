package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/nxadm/tail"
)

// FileReader reads a finished file to EOF once and closes its channel
type FileReader struct {
	path string
	t    *tail.Tail
}

// NewFileReader creates a new reader for a path
func NewFileReader(path string) *FileReader {
	return &FileReader{
		path: path,
	}
}

// Start begins reading the file and returns a channel of lines with any
// trailing \r removed. The channel is closed at EOF or when ctx is done.
func (f *FileReader) Start(ctx context.Context) (<-chan string, error) {
	config := tail.Config{
		Follow:    false,
		ReOpen:    false,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	}

	t, err := tail.TailFile(f.path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", f.path, err)
	}
	f.t = t

	out := make(chan string)

	go func() {
		defer close(out)
		for line := range t.Lines {
			if line.Err != nil {
				continue
			}
			select {
			case out <- strings.TrimRight(line.Text, "\r"):
			case <-ctx.Done():
				t.Stop()
				return
			}
		}
	}()

	return out, nil
}

// Stop stops reading early
func (f *FileReader) Stop() error {
	if f.t != nil {
		return f.t.Stop()
	}
	return nil
}

// Wait returns the read error, if any, once the line channel is drained
func (f *FileReader) Wait() error {
	if f.t == nil {
		return nil
	}
	return f.t.Wait()
}

// ReadSample returns up to n leading lines of a file
func ReadSample(ctx context.Context, path string, n int) ([]string, error) {
	r := NewFileReader(path)
	lines, err := r.Start(ctx)
	if err != nil {
		return nil, err
	}

	sample := make([]string, 0, n)
	for line := range lines {
		sample = append(sample, line)
		if len(sample) >= n {
			break
		}
	}
	if len(sample) >= n {
		r.Stop()
		// Unblock the forwarder if it is mid-send
		for range lines {
		}
		return sample, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.Wait(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return sample, nil
}
