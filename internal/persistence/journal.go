package persistence

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/daysim/internal/engine"
)

// JournalEntry is one line of the activity journal. Exactly one of
// Activity and Day is set.
type JournalEntry struct {
	Type     string                 `json:"type"` // "activity" or "day"
	Activity *engine.ActivityRecord `json:"activity,omitempty"`
	Day      *engine.DayReport      `json:"day,omitempty"`
}

// Journal writes zstd-compressed JSONL files, one per simulated hour.
// It implements engine.Observer.
type Journal struct {
	baseDir string
	prefix  string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
	err     error
}

// NewJournal returns a journal writing <prefix>-<hour>.jsonl.zst files
// under baseDir.
func NewJournal(baseDir, prefix string) *Journal {
	return &Journal{baseDir: baseDir, prefix: prefix}
}

// ObserveActivity appends rec to the file of the hour it starts in.
func (j *Journal) ObserveActivity(rec engine.ActivityRecord) {
	j.write(rec.Start, JournalEntry{Type: "activity", Activity: &rec})
}

// ObserveDay appends rep and flushes the current file.
func (j *Journal) ObserveDay(rep engine.DayReport) {
	j.write(rep.Date.AddDate(0, 0, 1), JournalEntry{Type: "day", Day: &rep})
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.w != nil {
		if err := j.w.Flush(); err != nil {
			j.failLocked(err)
		}
	}
}

func (j *Journal) write(at time.Time, e JournalEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.writeLocked(at, e); err != nil {
		j.failLocked(err)
	}
}

func (j *Journal) writeLocked(at time.Time, e JournalEntry) error {
	hour := at.UTC().Format("2006-01-02-15")
	if j.w == nil || hour > j.curHour {
		if err := j.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := j.w.Write(b); err != nil {
		return err
	}
	return j.w.WriteByte('\n')
}

func (j *Journal) rotateLocked(hour string) error {
	if err := j.closeLocked(); err != nil {
		return err
	}
	path := j.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	j.f = f
	j.enc = enc
	j.w = bufio.NewWriterSize(enc, 128*1024)
	j.curHour = hour
	return nil
}

func (j *Journal) closeLocked() error {
	var err error
	if j.w != nil {
		err = j.w.Flush()
	}
	if j.enc != nil {
		err = errors.Join(err, j.enc.Close())
		j.enc = nil
	}
	if j.f != nil {
		err = errors.Join(err, j.f.Close())
		j.f = nil
	}
	j.w = nil
	return err
}

func (j *Journal) failLocked(err error) {
	slog.Error("journal write failed", "dir", j.baseDir, "err", err)
	if j.err == nil {
		j.err = err
	}
}

func (j *Journal) pathForHour(hour string) string {
	return filepath.Join(j.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", j.prefix, hour))
}

// Close flushes and closes the current file. It returns the first error
// the journal ran into.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.closeLocked(); err != nil {
		j.failLocked(err)
	}
	return j.err
}

// ReadJournal decodes every entry of the journal files with the given
// prefix under dir, in file order.
func ReadJournal(dir, prefix string) ([]JournalEntry, error) {
	paths, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)

	var out []JournalEntry
	for _, p := range paths {
		entries, err := readJournalFile(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, entries...)
	}
	return out, nil
}

func readJournalFile(path string) ([]JournalEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []JournalEntry
	jd := json.NewDecoder(dec)
	for {
		var e JournalEntry
		if err := jd.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, err
		}
		out = append(out, e)
	}
}
