// Package techniques holds the catalog of testing techniques agents can
// invoke against a target, layered by depth so scan intensity bounds
// how aggressive a session gets.
package techniques

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/vulnpilot/vulnpilot/pkg/finding"
)

// Technique is one testing procedure from the catalog.
type Technique struct {
	// Name is the stable identifier, e.g. "sqli-error-based".
	Name string `yaml:"name" json:"name"`
	// Category is the weakness class the technique targets.
	Category finding.Category `yaml:"category" json:"category"`
	// Level is the depth layer: 0 passive, 1 active, 2 intrusive.
	Level int `yaml:"level" json:"level"`
	// Tool names the external tool or probe the technique runs.
	Tool string `yaml:"tool" json:"tool"`
	// Description summarizes the procedure for prompts and reports.
	Description string `yaml:"description" json:"description"`
}

// Library is the loaded technique catalog.
type Library struct {
	byName     map[string]Technique
	byCategory map[finding.Category][]Technique
}

// catalogFile is the YAML shape of a techniques file.
type catalogFile struct {
	Techniques []Technique `yaml:"techniques"`
}

// Load reads a technique catalog from a YAML file.
func Load(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("techniques: read catalog: %w", err)
	}
	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("techniques: parse catalog: %w", err)
	}
	return NewLibrary(cf.Techniques)
}

// NewLibrary builds a library from technique records, validating each.
func NewLibrary(list []Technique) (*Library, error) {
	l := &Library{
		byName:     make(map[string]Technique),
		byCategory: make(map[finding.Category][]Technique),
	}
	for i, t := range list {
		switch {
		case t.Name == "":
			return nil, fmt.Errorf("techniques: entry %d has no name", i)
		case !t.Category.IsValid():
			return nil, fmt.Errorf("techniques: %s has unknown category %q", t.Name, t.Category)
		case t.Level < 0 || t.Level > 2:
			return nil, fmt.Errorf("techniques: %s has level %d, want 0..2", t.Name, t.Level)
		}
		if _, dup := l.byName[t.Name]; dup {
			return nil, fmt.Errorf("techniques: duplicate name %q", t.Name)
		}
		l.byName[t.Name] = t
		l.byCategory[t.Category] = append(l.byCategory[t.Category], t)
	}
	for _, list := range l.byCategory {
		sort.Slice(list, func(i, j int) bool {
			if list[i].Level != list[j].Level {
				return list[i].Level < list[j].Level
			}
			return list[i].Name < list[j].Name
		})
	}
	return l, nil
}

// Default returns the built-in catalog.
func Default() *Library {
	l, err := NewLibrary(builtin)
	if err != nil {
		panic(err)
	}
	return l
}

// Get returns a technique by name.
func (l *Library) Get(name string) (Technique, bool) {
	t, ok := l.byName[name]
	return t, ok
}

// ForCategory returns the techniques for a category whose level does
// not exceed maxLevel, shallowest first.
func (l *Library) ForCategory(cat finding.Category, maxLevel int) []Technique {
	var out []Technique
	for _, t := range l.byCategory[cat] {
		if t.Level <= maxLevel {
			out = append(out, t)
		}
	}
	return out
}

// Len returns the catalog size.
func (l *Library) Len() int { return len(l.byName) }

var builtin = []Technique{
	{Name: "sqli-error-based", Category: finding.CategoryInjection, Level: 1, Tool: "sqlmap", Description: "Probe parameters with error-inducing SQL metacharacters."},
	{Name: "sqli-time-based", Category: finding.CategoryInjection, Level: 2, Tool: "sqlmap", Description: "Confirm blind injection with database sleep primitives."},
	{Name: "cmdi-echo", Category: finding.CategoryInjection, Level: 2, Tool: "curl", Description: "Inject shell metacharacters and look for command output reflection."},
	{Name: "xss-reflected", Category: finding.CategoryXSS, Level: 1, Tool: "curl", Description: "Reflect canary markup through query parameters."},
	{Name: "xss-stored", Category: finding.CategoryXSS, Level: 2, Tool: "curl", Description: "Persist canary markup and re-fetch rendering contexts."},
	{Name: "auth-default-creds", Category: finding.CategoryAuth, Level: 1, Tool: "hydra", Description: "Try vendor default credentials against login endpoints."},
	{Name: "auth-session-fixation", Category: finding.CategoryAuth, Level: 2, Tool: "curl", Description: "Check whether pre-auth session ids survive login."},
	{Name: "ssrf-internal-probe", Category: finding.CategorySSRF, Level: 2, Tool: "curl", Description: "Point URL parameters at internal address ranges."},
	{Name: "authz-idor-sweep", Category: finding.CategoryAuthz, Level: 1, Tool: "curl", Description: "Walk adjacent object identifiers under a low-privilege session."},
	{Name: "authz-method-swap", Category: finding.CategoryAuthz, Level: 1, Tool: "curl", Description: "Replay restricted requests with alternate HTTP methods."},
	{Name: "infra-port-sweep", Category: finding.CategoryInfrastructure, Level: 0, Tool: "nmap", Description: "Enumerate open services on common ports."},
	{Name: "infra-version-probe", Category: finding.CategoryInfrastructure, Level: 1, Tool: "nmap", Description: "Fingerprint service versions for known-vulnerable builds."},
	{Name: "infra-tls-audit", Category: finding.CategoryInfrastructure, Level: 0, Tool: "openssl", Description: "Inspect TLS configuration for weak protocols and ciphers."},
}
