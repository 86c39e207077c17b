package service

import (
	"errors"
	"fmt"
	"strings"
)

// Name identifies one of the services the supervisor knows how to run.
type Name string

const (
	HTTP        Name = "http"
	MySQL       Name = "mysql"
	MongoDB     Name = "mongodb"
	Postgres    Name = "postgres"
	Jobs        Name = "jobs"
	Tasks       Name = "tasks"
	MLTaskQueue Name = "ml_task_queue"
	MCP         Name = "mcp"
)

// ErrUnknownService is returned when a name is outside the closed service set.
var ErrUnknownService = errors.New("unknown service")

// Names lists every service in launch order.
var Names = []Name{HTTP, MySQL, MongoDB, Postgres, Jobs, Tasks, MLTaskQueue, MCP}

// APIs lists the network-facing services selectable with --api.
var APIs = []Name{HTTP, MySQL, MongoDB, Postgres, MCP}

// DefaultAPIs is used when no api list was given at all.
var DefaultAPIs = []Name{HTTP, MySQL}

func (n Name) String() string { return string(n) }

// Valid reports whether n belongs to the closed service set.
func (n Name) Valid() bool {
	for _, k := range Names {
		if k == n {
			return true
		}
	}
	return false
}

// IsAPI reports whether n is a network-facing service.
func (n Name) IsAPI() bool {
	for _, k := range APIs {
		if k == n {
			return true
		}
	}
	return false
}

// ParseName validates s against the closed service set.
func ParseName(s string) (Name, error) {
	n := Name(strings.ToLower(strings.TrimSpace(s)))
	if !n.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownService, s)
	}
	return n, nil
}

// ParseAPIs parses a comma separated api list such as "http,mysql".
// A blank list yields no services. Duplicates are collapsed.
func ParseAPIs(list string) ([]Name, error) {
	var out []Name
	seen := make(map[Name]bool)
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		n, err := ParseName(part)
		if err != nil {
			return nil, err
		}
		if !n.IsAPI() {
			return nil, fmt.Errorf("%w: %q is not an api", ErrUnknownService, part)
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out, nil
}
