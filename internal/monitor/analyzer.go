package monitor

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// Analyzer flags submitted code and program output that reaches beyond the
// computation it was asked to perform. Submissions run on the host with only
// a wall-clock bound, so flags are surfaced to operators rather than used to
// reject work.
type Analyzer struct {
	patterns []DetectionPattern
}

// DetectionPattern defines a suspicious pattern to match.
type DetectionPattern struct {
	Name        string
	Description string
	Regex       *regexp.Regexp
	Severity    Severity
}

// Severity levels for detected patterns.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Detection represents a matched pattern.
type Detection struct {
	Pattern  string `json:"pattern"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
	Line     int    `json:"line,omitempty"`
}

// NewAnalyzer creates an analyzer with default patterns.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		patterns: defaultPatterns(),
	}
}

// AnalyzeCode checks submitted code line by line. Each pattern is reported
// at most once, at its first matching line.
func (a *Analyzer) AnalyzeCode(code string) []Detection {
	var detections []Detection
	seen := make(map[string]bool)

	lines := strings.Split(code, "\n")
	for i, line := range lines {
		for _, p := range a.patterns {
			if seen[p.Name] || !p.Regex.MatchString(line) {
				continue
			}
			seen[p.Name] = true
			detections = append(detections, Detection{
				Pattern:  p.Name,
				Severity: p.Severity.String(),
				Detail:   p.Description,
				Line:     i + 1,
			})

			log.Warn().
				Str("pattern", p.Name).
				Str("severity", p.Severity.String()).
				Int("line", i+1).
				Msg("suspicious pattern in submitted code")
		}
	}

	return detections
}

// AnalyzeOutput checks program output for host data that should not be
// reachable from a solution.
func (a *Analyzer) AnalyzeOutput(output string) []Detection {
	var detections []Detection

	outputPatterns := []struct {
		name   string
		substr string
		sev    Severity
	}{
		{"passwd_leak", "root:x:0:0", SeverityCritical},
		{"kernel_leak", "Linux version", SeverityHigh},
		{"private_key_leak", "PRIVATE KEY-----", SeverityCritical},
		{"aws_credentials_leak", "aws_secret_access_key", SeverityCritical},
	}

	for _, p := range outputPatterns {
		if strings.Contains(output, p.substr) {
			detections = append(detections, Detection{
				Pattern:  p.name,
				Severity: p.sev.String(),
				Detail:   "suspicious content in output: " + p.name,
			})
		}
	}

	return detections
}

func defaultPatterns() []DetectionPattern {
	return []DetectionPattern{
		{
			Name:        "marker_spoof",
			Description: "Printing the verdict marker prefix",
			Regex:       regexp.MustCompile(`__CODEEXEC_VERDICT_`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "process_spawn",
			Description: "Spawning external processes",
			Regex: regexp.MustCompile(`subprocess\.|os\.system|os\.popen|child_process|Runtime\.getRuntime\(\)\.exec|ProcessBuilder|` +
				`std::process::Command|"os/exec"|Process\.Start|\bexecv?p?e?\s*\(|\bsystem\s*\(|\bpopen\s*\(|\bfork\s*\(`),
			Severity: SeverityHigh,
		},
		{
			Name:        "network",
			Description: "Opening network connections",
			Regex: regexp.MustCompile(`\bsocket\b|urllib|requests\.(get|post)|http\.client|\bfetch\s*\(|require\(['"](https?|net)['"]\)|` +
				`java\.net\.|HttpClient|"net/http"|"net"|net\.Dial|std::net::|TcpStream|System\.Net`),
			Severity: SeverityMedium,
		},
		{
			Name:        "filesystem_probe",
			Description: "Reading host credentials or process information",
			Regex:       regexp.MustCompile(`/etc/(passwd|shadow)|/proc/self/(root|exe|fd|environ|maps)|\.ssh/|\.aws/|\.kube/config`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "destructive_fs",
			Description: "Recursively deleting files",
			Regex:       regexp.MustCompile(`rm\s+-[a-z]*r[a-z]*f|shutil\.rmtree|os\.RemoveAll|fs\.rmSync|remove_dir_all|Directory\.Delete`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "metadata_service",
			Description: "Attempting to reach cloud metadata service",
			Regex:       regexp.MustCompile(`169\.254\.169\.254|metadata\.google|metadata\.aws`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "reverse_shell",
			Description: "Potential reverse shell command",
			Regex:       regexp.MustCompile(`(?i)(nc|ncat|netcat|socat)\s+.*-[elp]|/dev/tcp/|bash\s+-i\s+>&`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "fork_bomb",
			Description: "Unbounded process or thread creation",
			Regex:       regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\};:|while\s*\(?\s*(true|1)\s*\)?\s*:?\s*\{?\s*(os\.)?fork\(`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "crypto_miner",
			Description: "Potential cryptocurrency mining",
			Regex:       regexp.MustCompile(`(?i)(stratum\+tcp|xmrig|minerd|cryptonight|hashrate)`),
			Severity:    SeverityMedium,
		},
	}
}
