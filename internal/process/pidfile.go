package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// PIDMeta is stored after the pid line of a pid file.
type PIDMeta struct {
	Service   string    `json:"service"`
	StartedAt time.Time `json:"started_at"`
}

// WritePIDFile writes "<pid>\n<json meta>" atomically.
func WritePIDFile(path string, pid int, service string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	meta, err := json.Marshal(PIDMeta{Service: service, StartedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	data := fmt.Sprintf("%d\n%s\n", pid, meta)
	if err := os.WriteFile(tmp, []byte(data), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadPIDFile returns the pid and, when present, the metadata line.
func ReadPIDFile(path string) (int, *PIDMeta, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, err
	}
	pidLine, rest, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil {
		return 0, nil, err
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return pid, nil, nil
	}
	var meta PIDMeta
	if err := json.Unmarshal([]byte(rest), &meta); err != nil {
		return pid, nil, nil
	}
	return pid, &meta, nil
}
