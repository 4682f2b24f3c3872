// Package session models one scan run: the parsed target, the chosen
// intensity, authentication material, and the lifecycle status that the
// pipeline drives from pending to a terminal state.
package session

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Intensity selects how deep the technique catalog is exercised.
type Intensity string

const (
	IntensityQuick    Intensity = "quick"
	IntensityStandard Intensity = "standard"
	IntensityThorough Intensity = "thorough"
)

// ParseIntensity validates a user-supplied intensity string.
func ParseIntensity(s string) (Intensity, error) {
	switch Intensity(strings.ToLower(s)) {
	case IntensityQuick:
		return IntensityQuick, nil
	case IntensityStandard:
		return IntensityStandard, nil
	case IntensityThorough:
		return IntensityThorough, nil
	default:
		return "", fmt.Errorf("session: unknown intensity %q (want quick, standard or thorough)", s)
	}
}

// MaxLevel returns the deepest technique layer this intensity unlocks.
func (i Intensity) MaxLevel() int {
	switch i {
	case IntensityQuick:
		return 0
	case IntensityThorough:
		return 2
	default:
		return 1
	}
}

func (i Intensity) String() string { return string(i) }

// Status is the session lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the session has finished.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusStopped || s == StatusFailed
}

// webPorts are ports treated as HTTP services when a target names a
// port with no scheme.
var webPorts = []int{80, 443, 8080, 8443, 9090, 3000, 5000, 8000, 8888}

// ErrEmptyTarget indicates the target string was blank.
var ErrEmptyTarget = errors.New("session: empty target")

// Target is the parsed form of the user's target argument.
type Target struct {
	// Raw is the argument exactly as given.
	Raw string `json:"raw"`
	// Host is the bare hostname or address, without port or scheme.
	Host string `json:"host"`
	// URL is the base URL for web probing, when one can be derived.
	URL string `json:"url,omitempty"`
	// WebPort is the HTTP(S) port in use, zero when unknown.
	WebPort int `json:"web_port,omitempty"`
}

// ParseTarget accepts a full URL, a host:port pair, or a bare host, and
// normalizes it. host:port pairs on a known web port get an http or
// https URL derived for them; other ports stay URL-less.
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, ErrEmptyTarget
	}

	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return Target{}, fmt.Errorf("session: invalid target URL %q", raw)
		}
		t := Target{Raw: raw, Host: u.Hostname(), URL: strings.TrimRight(raw, "/")}
		if p := u.Port(); p != "" {
			t.WebPort, _ = strconv.Atoi(p)
		} else if u.Scheme == "https" {
			t.WebPort = 443
		} else {
			t.WebPort = 80
		}
		return t, nil
	}

	if host, portStr, err := net.SplitHostPort(raw); err == nil {
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return Target{}, fmt.Errorf("session: invalid port in target %q", raw)
		}
		t := Target{Raw: raw, Host: host, WebPort: 0}
		if isWebPort(port) {
			scheme := "http"
			if port == 443 || port == 8443 {
				scheme = "https"
			}
			t.URL = fmt.Sprintf("%s://%s:%d", scheme, host, port)
			t.WebPort = port
		}
		return t, nil
	}

	return Target{Raw: raw, Host: raw}, nil
}

func isWebPort(p int) bool {
	for _, w := range webPorts {
		if p == w {
			return true
		}
	}
	return false
}

// AuthKind describes the shape of credential material supplied for the
// scan.
type AuthKind string

const (
	AuthNone   AuthKind = "none"
	AuthBasic  AuthKind = "basic"
	AuthBearer AuthKind = "bearer"
	AuthCookie AuthKind = "cookie"
	AuthHeader AuthKind = "header"
)

// Auth carries credential material agents may use against the target.
// Values are never written to the audit log or deliverables.
type Auth struct {
	Kind     AuthKind `json:"kind"`
	Username string   `json:"-"`
	Secret   string   `json:"-"`
	// Header is the header name for AuthHeader material.
	Header string `json:"header,omitempty"`
}

// Session is one scan run.
type Session struct {
	ID        string    `json:"id"`
	Target    Target    `json:"target"`
	RepoPath  string    `json:"repo_path,omitempty"`
	Intensity Intensity `json:"intensity"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Auth      Auth      `json:"auth,omitempty"`
}

// New creates a pending session for a target.
func New(t Target, repoPath string, intensity Intensity) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Target:    t,
		RepoPath:  repoPath,
		Intensity: intensity,
		Status:    StatusPending,
		StartedAt: time.Now().UTC(),
	}
}

// HasRepo reports whether source code was supplied for white-box work.
func (s *Session) HasRepo() bool { return s.RepoPath != "" }
