// Package marks keeps file based claims that an OS process owns a
// long-running job. A mark outliving its process reveals a crashed worker.
package marks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Folders used by the platform's workers.
const (
	FolderLearn   = "learn"
	FolderPredict = "predict"
	FolderTasks   = "tasks"
)

var seq atomic.Uint64

// Mark is one claim file: <root>/<folder>/<pid>-<createMillis>-<seq>.
type Mark struct {
	Folder     string
	Name       string
	PID        int
	CreateTime int64 // process create time in ms; 0 if unknown
}

// DefaultDir is used when no directory is configured.
func DefaultDir() string {
	return filepath.Join(os.TempDir(), "fleetd", "processes")
}

// Store manages marks under a root directory.
type Store struct {
	root string
	log  *slog.Logger
}

func New(root string, log *slog.Logger) *Store {
	if root == "" {
		root = DefaultDir()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{root: root, log: log}
}

func (s *Store) Root() string { return s.root }

// Create claims a job in folder for the calling process.
func (s *Store) Create(folder string) (Mark, error) {
	return s.CreateFor(folder, os.Getpid())
}

// CreateFor claims a job in folder for pid.
func (s *Store) CreateFor(folder string, pid int) (Mark, error) {
	if folder == "" || strings.ContainsAny(folder, `/\`) || folder == "." || folder == ".." {
		return Mark{}, fmt.Errorf("invalid mark folder %q", folder)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var ct int64
	if p, err := process.NewProcessWithContext(ctx, int32(pid)); err == nil {
		ct, _ = p.CreateTimeWithContext(ctx)
	}
	m := Mark{
		Folder:     folder,
		PID:        pid,
		CreateTime: ct,
		Name:       fmt.Sprintf("%d-%d-%d%d", pid, ct, time.Now().UnixNano(), seq.Add(1)),
	}
	dir := filepath.Join(s.root, folder)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Mark{}, err
	}
	f, err := os.OpenFile(filepath.Join(dir, m.Name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return Mark{}, err
	}
	return m, f.Close()
}

// Delete removes a mark. A missing mark is not an error.
func (s *Store) Delete(m Mark) error {
	err := os.Remove(filepath.Join(s.root, m.Folder, m.Name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// List returns every well formed mark.
func (s *Store) List() ([]Mark, error) {
	folders, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []Mark
	for _, f := range folders {
		if !f.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(s.root, f.Name()))
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			m, ok := parse(f.Name(), e.Name())
			if !ok {
				s.log.Warn("ignoring malformed process mark", "folder", f.Name(), "name", e.Name())
				continue
			}
			out = append(out, m)
		}
	}
	return out, nil
}

func parse(folder, name string) (Mark, bool) {
	parts := strings.SplitN(name, "-", 3)
	if len(parts) < 2 {
		return Mark{}, false
	}
	pid, err := strconv.Atoi(parts[0])
	if err != nil || pid <= 0 {
		return Mark{}, false
	}
	ct, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Mark{}, false
	}
	return Mark{Folder: folder, Name: name, PID: pid, CreateTime: ct}, true
}

// SweepStale removes marks whose process is gone, a zombie, or a different
// process reusing the pid, and returns the distinct pids of removed marks.
// Marks whose process cannot be inspected are kept.
func (s *Store) SweepStale() ([]int, error) {
	marks, err := s.List()
	if err != nil {
		return nil, err
	}
	seen := make(map[int]bool)
	var firstErr error
	for _, m := range marks {
		stale, err := isStale(m)
		if err != nil {
			s.log.Debug("cannot inspect marked process", "pid", m.PID, "error", err)
			continue
		}
		if !stale {
			continue
		}
		if err := s.Delete(m); err != nil && firstErr == nil {
			firstErr = err
		}
		seen[m.PID] = true
	}
	pids := make([]int, 0, len(seen))
	for pid := range seen {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids, firstErr
}

func isStale(m Mark) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	exists, err := process.PidExistsWithContext(ctx, int32(m.PID))
	if err != nil {
		return false, err
	}
	if !exists {
		return true, nil
	}
	p, err := process.NewProcessWithContext(ctx, int32(m.PID))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return true, nil
		}
		return false, err
	}
	if st, err := p.StatusWithContext(ctx); err == nil {
		for _, v := range st {
			if v == process.Zombie {
				return true, nil
			}
		}
	}
	if m.CreateTime > 0 {
		ct, err := p.CreateTimeWithContext(ctx)
		if err != nil {
			return false, err
		}
		if ct != m.CreateTime {
			return true, nil
		}
	}
	return false, nil
}

// ClearAll removes every mark and folder.
func (s *Store) ClearAll() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
