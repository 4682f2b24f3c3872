package llm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// defaultPrompts are the built-in system prompts per agent role.
// A prompts directory can override any of them with a <role>.md file.
var defaultPrompts = map[string]string{
	"whitebox": "You are a source code security auditor. Review the supplied " +
		"repository for injection, XSS, authentication, SSRF and authorization " +
		"weaknesses. Report each suspect endpoint with file and line evidence.",
	"recon": "You are a reconnaissance analyst. Map the target's attack " +
		"surface from the supplied service and endpoint data. Flag anything " +
		"that suggests a vulnerability class worth deeper analysis.",
	"analysis": "You are a vulnerability analyst focused on one weakness " +
		"category. Decide which discovered findings are worth exploitation " +
		"attempts and rank them.",
	"exploitation": "You are an exploitation specialist focused on one " +
		"weakness category. For each claimed finding, attempt a safe proof of " +
		"exploitability and report a verdict with evidence.",
	"reporting": "You are a security report writer. Summarize the session's " +
		"verdicts into an engagement report for the target's owners.",
}

// PromptLoader resolves the system prompt for an agent role, preferring
// files in a prompts directory over the built-in defaults.
type PromptLoader struct {
	dir string
}

// NewPromptLoader creates a loader. dir may be empty, in which case
// only built-ins are served.
func NewPromptLoader(dir string) *PromptLoader {
	return &PromptLoader{dir: dir}
}

// Load returns the prompt for a role.
func (l *PromptLoader) Load(role string) (string, error) {
	role = strings.ToLower(role)
	if l.dir != "" {
		data, err := os.ReadFile(filepath.Join(l.dir, role+".md"))
		if err == nil {
			return strings.TrimSpace(string(data)), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("llm: read prompt for %s: %w", role, err)
		}
	}
	if p, ok := defaultPrompts[role]; ok {
		return p, nil
	}
	return "", fmt.Errorf("llm: no prompt for role %q", role)
}
