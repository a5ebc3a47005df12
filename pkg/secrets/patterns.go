package secrets

import (
	"fmt"
	"regexp"

	"github.com/wisebound/sentinel/pkg/models"
)

// Pattern is a compiled detection rule. Unlike the teacher's irreversible
// masking.CompiledPattern, a secrets Pattern carries a Sensitivity used to
// build the replacement StoredSecret and drive the auto-decapsulate matrix
// (spec.md §4.4), grounded on pkg/masking/pattern.go's compile-and-resolve
// shape.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Description string
	Sensitivity models.Sensitivity
}

// builtinSpecs mirrors the detection intent of
// pkg/config/builtin.go's initBuiltinMaskingPatterns, reworked for
// reversible capture (one submatch = the secret value) and ranked by
// sensitivity instead of a flat redaction replacement string
// (SPEC_FULL.md §4.4).
var builtinSpecs = []struct {
	name        string
	pattern     string
	description string
	sensitivity models.Sensitivity
}{
	{"aws_access_key", `(?i)AKIA[A-Z0-9]{16}`, "AWS Access Key", models.SensitivityHigh},
	{"aws_secret_key", `(?i)(?:aws[_-]?secret[_-]?access[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9/+=]{40})["']?`, "AWS Secret Key", models.SensitivityCritical},
	{"api_key", `(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{16,})["']?`, "API Key", models.SensitivityHigh},
	{"private_key", `-----BEGIN (?:RSA |EC |OPENSSH )?PRIVATE KEY-----[\s\S]+?-----END (?:RSA |EC |OPENSSH )?PRIVATE KEY-----`, "Private Key", models.SensitivityCritical},
	{"github_token", `gh[pousr]_[A-Za-z0-9]{36,255}`, "GitHub Token", models.SensitivityHigh},
	{"slack_token", `xox[baprs]-[A-Za-z0-9-]{10,72}`, "Slack Token", models.SensitivityHigh},
	{"password", `(?i)(?:password|pwd)["']?\s*[:=]\s*["']?([^"'\s]{6,})["']?`, "Password", models.SensitivityHigh},
	{"bearer_token", `(?i)bearer\s+([A-Za-z0-9_\-\.]{20,})`, "Bearer Token", models.SensitivityMedium},
	{"ssh_public_key", `ssh-(?:rsa|ed25519|ecdsa)\s+[A-Za-z0-9+/]+={0,2}`, "SSH Public Key", models.SensitivityLow},
	{"email", `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9]+(?:[.-][A-Za-z0-9]+)*\.[A-Za-z]{2,63}\b`, "Email Address", models.SensitivityLow},
}

// BuiltinPatterns compiles and returns the default detection set.
func BuiltinPatterns() []*Pattern {
	out := make([]*Pattern, 0, len(builtinSpecs))
	for _, s := range builtinSpecs {
		out = append(out, &Pattern{
			Name:        s.name,
			Regex:       regexp.MustCompile(s.pattern),
			Description: s.description,
			Sensitivity: s.sensitivity,
		})
	}
	return out
}

// FilterOp is a configuration-change operation against the agent-configured
// pattern set (spec.md §4.4 "update_filter(op)").
type FilterOp struct {
	Add    *Pattern
	Remove string // pattern name to remove
}

// CompileCustomPattern compiles an agent-configured regex into a Pattern,
// matching the "agent-configured regex patterns" of spec.md §4.4.
func CompileCustomPattern(name, pattern, description string, sensitivity models.Sensitivity) (*Pattern, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("secrets: compile pattern %q: %w", name, err)
	}
	return &Pattern{Name: name, Regex: re, Description: description, Sensitivity: sensitivity}, nil
}
