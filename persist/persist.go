package persist

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	DefaultMaxKeys = 100000
	IndexName      = "index.db"
	FilePattern    = "pointcloud-%d-%05d.cwicpc"
)

var ErrorClosed = errors.New("store closed")

// Record is the index entry of one saved buffer.
type Record struct {
	Name string    `json:"name"`
	Size int       `json:"size"`
	Seq  uint64    `json:"seq"`
	Time time.Time `json:"time"`
}

type Options struct {
	MaxKeys int
}

type Option func(*Options)

// OptionWithMaxKeys bounds the index entries kept per stream. Files are not
// removed.
func OptionWithMaxKeys(n int) Option {
	return func(o *Options) {
		o.MaxKeys = n
	}
}

// Store saves received buffers as files and indexes them per stream.
type Store struct {
	dir  string
	opts Options

	mtx sync.Mutex
	db  *bolt.DB
}

func Open(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		dir: dir,
		opts: Options{
			MaxKeys: DefaultMaxKeys,
		},
	}

	for _, o := range opts {
		o(&s.opts)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s %w", dir, err)
	}

	db, err := bolt.Open(filepath.Join(dir, IndexName), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open index %w", err)
	}

	s.db = db

	return s, nil
}

// FileName is the file of the seq-th buffer of stream index.
func FileName(index int, seq uint64) string {
	return fmt.Sprintf(FilePattern, index, seq)
}

func bucket(index int) []byte {
	return []byte("stream-" + strconv.Itoa(index))
}

func encodeKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)

	return k
}

func deleteFirstKey(b *bolt.Bucket) error {
	k, _ := b.Cursor().First()

	return b.Delete(k)
}

// Save implements the receiver persister.
func (s *Store) Save(index int, seq uint64, buf []byte) error {
	s.mtx.Lock()
	db := s.db
	s.mtx.Unlock()

	if db == nil {
		return ErrorClosed
	}

	name := FileName(index, seq)

	if err := ioutil.WriteFile(filepath.Join(s.dir, name), buf, 0o644); err != nil {
		return fmt.Errorf("failed to write %s %w", name, err)
	}

	value, err := json.Marshal(Record{Name: name, Size: len(buf), Seq: seq, Time: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal record %w", err)
	}

	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucket(index))
		if err != nil {
			return fmt.Errorf("failed to create bucket %w", err)
		}

		if s.opts.MaxKeys > 0 && b.Stats().KeyN >= s.opts.MaxKeys {
			if err := deleteFirstKey(b); err != nil {
				return fmt.Errorf("failed to delete first key %w", err)
			}
		}

		return b.Put(encodeKey(seq), value)
	})
}

// Records returns the indexed records of stream index in sequence order.
func (s *Store) Records(index int) ([]Record, error) {
	s.mtx.Lock()
	db := s.db
	s.mtx.Unlock()

	if db == nil {
		return nil, ErrorClosed
	}

	var records []Record

	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket(index))
		if b == nil {
			return nil
		}

		return b.ForEach(func(_, v []byte) error {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("failed to unmarshal record %w", err)
			}

			records = append(records, r)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.db == nil {
		return nil
	}

	err := s.db.Close()
	s.db = nil

	if err != nil {
		return fmt.Errorf("failed to close index %w", err)
	}

	return nil
}
