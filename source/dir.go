package source

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"sort"
	"sync"

	"pcstream/codec"
	"pcstream/frame"
	"pcstream/log"

	"go.uber.org/zap"
)

const DirPattern = "*.cwicpc"

var ErrorEmptyDir = errors.New("no point cloud files")

// Dir replays the encoded point clouds of a directory in name order,
// restamping each frame with the acquisition time.
type Dir struct {
	path  string
	files []string
	loop  bool

	mtx    sync.Mutex
	next   int
	closed bool
}

// NewDir lists path once. With loop set the files repeat forever.
func NewDir(path string, loop bool) (*Dir, error) {
	files, err := filepath.Glob(filepath.Join(path, DirPattern))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s %w", path, err)
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("%s %w", path, ErrorEmptyDir)
	}

	sort.Strings(files)

	return &Dir{
		path:  path,
		files: files,
		loop:  loop,
	}, nil
}

func (d *Dir) Acquire(ctx context.Context) (*frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mtx.Lock()
	defer d.mtx.Unlock()

	for failed := 0; ; {
		if d.closed {
			return nil, frame.ErrorClosed
		}

		if d.next >= len(d.files) {
			if !d.loop {
				return nil, frame.ErrorExhausted
			}

			d.next = 0
		}

		name := d.files[d.next]
		d.next++

		data, err := ioutil.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s %w", name, err)
		}

		f, err := codec.Decode(data)
		if err != nil {
			log.Warn("skip undecodable file", zap.String("file", name), zap.Error(err))

			if failed++; failed >= len(d.files) {
				return nil, fmt.Errorf("%s %w", d.path, ErrorEmptyDir)
			}

			continue
		}

		f.Timestamp = frame.NowMillis()

		return f, nil
	}
}

func (d *Dir) Files() []string {
	return d.files
}

func (d *Dir) Close() error {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	d.closed = true

	return nil
}

func (d *Dir) String() string {
	return "dir(" + d.path + ")"
}
