// Package config parses CLI flags and environment into the scan
// configuration.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vulnpilot/vulnpilot/pkg/llm"
	"github.com/vulnpilot/vulnpilot/pkg/session"
)

// ErrUsage indicates the arguments were unusable; the flag set has
// already printed usage.
var ErrUsage = errors.New("config: usage")

// Config is the fully parsed scan configuration.
type Config struct {
	Target    session.Target
	RepoPath  string
	Intensity session.Intensity

	Provider llm.Provider
	Model    string
	APIKey   string

	BudgetUSD float64

	Auth session.Auth

	Focus     string
	Avoid     string
	ScopeFile string

	OutputDir      string
	StateDir       string
	PromptsDir     string
	TechniquesFile string

	ToolConcurrency int
	ToolRate        float64
	TaskTimeout     time.Duration

	MetricsPort int
	Resume      bool
	Silent      bool
	Verbose     bool
}

// ParseFlags parses the scan command line. args excludes the program
// name.
func ParseFlags(args []string) (*Config, error) {
	fs := flag.NewFlagSet("vulnpilot", flag.ContinueOnError)

	var (
		repo       = fs.String("repo", "", "Path to target source code for white-box analysis")
		intensity  = fs.String("intensity", "standard", "Scan intensity: quick, standard, thorough")
		provider   = fs.String("provider", "local", "Model provider: anthropic, openai, local")
		model      = fs.String("model", "", "Model name override")
		budgetUSD  = fs.Float64("budget", 0, "Spend ceiling in USD, 0 for unlimited")
		focus      = fs.String("focus", "", "Comma-separated focus patterns (allow-list)")
		avoid      = fs.String("avoid", "", "Comma-separated avoid patterns (deny-list, always wins)")
		scopeFile  = fs.String("scope-file", "", "YAML scope rules file")
		authKind   = fs.String("auth", "none", "Credential kind: none, basic, bearer, cookie, header")
		authUser   = fs.String("auth-user", "", "Username for basic auth")
		authHeader = fs.String("auth-header", "", "Header name for header auth")
		outputDir  = fs.String("output", "deliverables", "Deliverables directory")
		stateDir   = fs.String("state", ".vulnpilot", "Session state directory (audit log, summary)")
		promptsDir = fs.String("prompts", "", "Directory of per-role prompt overrides")
		techniques = fs.String("techniques", "", "YAML technique catalog override")
		toolConc   = fs.Int("tool-concurrency", 4, "Max concurrent tool invocations")
		toolRate   = fs.Float64("tool-rate", 5, "Tool launches per second")
		timeout    = fs.Duration("task-timeout", 15*time.Minute, "Per-task deadline")
		metrics    = fs.Int("metrics-port", 0, "Prometheus metrics port, 0 to disable")
		resume     = fs.Bool("resume", false, "Resume the session recorded in the state directory")
		silent     = fs.Bool("silent", false, "Suppress decorative output")
		verbose    = fs.Bool("verbose", false, "Debug logging")
	)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: vulnpilot [flags] <target>\n\n")
		fmt.Fprintf(fs.Output(), "Target may be a URL, host:port, or bare host.\n\nFlags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, fmt.Errorf("%w: exactly one target required", ErrUsage)
	}

	tgt, err := session.ParseTarget(fs.Arg(0))
	if err != nil {
		return nil, err
	}
	intens, err := session.ParseIntensity(*intensity)
	if err != nil {
		return nil, err
	}
	prov, err := llm.ParseProvider(*provider)
	if err != nil {
		return nil, err
	}
	if *budgetUSD < 0 {
		return nil, fmt.Errorf("config: negative budget %f", *budgetUSD)
	}
	if *repo != "" {
		if fi, err := os.Stat(*repo); err != nil || !fi.IsDir() {
			return nil, fmt.Errorf("config: repo path %q is not a directory", *repo)
		}
	}
	auth, err := parseAuth(*authKind, *authUser, *authHeader)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Target:          tgt,
		RepoPath:        *repo,
		Intensity:       intens,
		Provider:        prov,
		Model:           *model,
		APIKey:          apiKeyFor(prov),
		BudgetUSD:       *budgetUSD,
		Auth:            auth,
		Focus:           *focus,
		Avoid:           *avoid,
		ScopeFile:       *scopeFile,
		OutputDir:       *outputDir,
		StateDir:        *stateDir,
		PromptsDir:      *promptsDir,
		TechniquesFile:  *techniques,
		ToolConcurrency: *toolConc,
		ToolRate:        *toolRate,
		TaskTimeout:     *timeout,
		MetricsPort:     *metrics,
		Resume:          *resume,
		Silent:          *silent,
		Verbose:         *verbose,
	}
	if cfg.Provider != llm.ProviderLocal && cfg.APIKey == "" {
		return nil, fmt.Errorf("config: no API key in environment for provider %s", cfg.Provider)
	}
	return cfg, nil
}

// parseAuth builds the credential descriptor. The secret itself is
// read from VULNPILOT_AUTH_SECRET so it never appears in process
// arguments.
func parseAuth(kind, user, header string) (session.Auth, error) {
	k := session.AuthKind(kind)
	switch k {
	case session.AuthNone:
		return session.Auth{Kind: session.AuthNone}, nil
	case session.AuthBasic, session.AuthBearer, session.AuthCookie, session.AuthHeader:
	default:
		return session.Auth{}, fmt.Errorf("config: unknown auth kind %q", kind)
	}
	a := session.Auth{
		Kind:     k,
		Username: user,
		Secret:   os.Getenv("VULNPILOT_AUTH_SECRET"),
		Header:   header,
	}
	if a.Secret == "" {
		return session.Auth{}, fmt.Errorf("config: auth kind %s requires VULNPILOT_AUTH_SECRET", k)
	}
	if k == session.AuthBasic && a.Username == "" {
		return session.Auth{}, fmt.Errorf("config: basic auth requires -auth-user")
	}
	if k == session.AuthHeader && a.Header == "" {
		return session.Auth{}, fmt.Errorf("config: header auth requires -auth-header")
	}
	return a, nil
}

func apiKeyFor(p llm.Provider) string {
	switch p {
	case llm.ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case llm.ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	default:
		return ""
	}
}
