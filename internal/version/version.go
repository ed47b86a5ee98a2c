// Package version canonicalizes raw version strings and decides whether two
// version signals refer to the same release. It deliberately never orders
// versions: sources use too many incompatible conventions for "newer than"
// to be meaningful, so the only judgments are match, deviation and unknown.
package version

import (
	"regexp"
	"strconv"
	"strings"
)

// Verdict is the outcome of comparing two version signals.
type Verdict string

const (
	// VerdictMatch means both signals refer to the same version.
	VerdictMatch Verdict = "match"
	// VerdictDeviation means both signals resolved, but to different versions.
	VerdictDeviation Verdict = "deviation"
	// VerdictUnknown means at least one signal could not be resolved.
	// This is never folded into VerdictDeviation.
	VerdictUnknown Verdict = "unknown"
)

var (
	commitHashRegexp = regexp.MustCompile(`^[a-fA-F0-9]{40}$|^[a-fA-F0-9]{64}$`)
	separatorRegexp  = regexp.MustCompile(`[-_]`)
	multiDotRegexp   = regexp.MustCompile(`\.{2,}`)
)

// Normalize strips non-semantic decorations from a raw version string:
// surrounding whitespace, a leading "v"/"V" prefix, build metadata after "+",
// and separator differences between components. SHA-1 and SHA-256 commit
// hashes are passed through untouched apart from case folding.
// Normalize is idempotent.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	if commitHashRegexp.MatchString(s) {
		return strings.ToLower(s)
	}

	// Build metadata is not part of the version identity.
	s, _, _ = strings.Cut(s, "+")
	s = strings.TrimSpace(s)

	if len(s) > 1 && (s[0] == 'v' || s[0] == 'V') && s[1] >= '0' && s[1] <= '9' {
		s = s[1:]
	}

	s = separatorRegexp.ReplaceAllString(s, ".")
	s = multiDotRegexp.ReplaceAllString(s, ".")
	s = strings.Trim(s, ".")

	return strings.ToLower(s)
}

// Compare reports whether two raw version strings refer to the same version.
// An empty input means the version could not be resolved and yields
// VerdictUnknown. When the normalized strings differ, the shared numeric core
// is compared so that e.g. a distro revision suffix does not mask an
// otherwise identical version, but two different numeric cores never match.
func Compare(a, b string) Verdict {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return VerdictUnknown
	}

	na := Normalize(a)
	nb := Normalize(b)
	if na == nb {
		return VerdictMatch
	}

	coreA := numericCore(na)
	coreB := numericCore(nb)
	if len(coreA) > 0 && len(coreB) > 0 && equalCores(coreA, coreB) {
		return VerdictMatch
	}

	return VerdictDeviation
}

// numericCore extracts the contiguous run of numeric components starting at
// the first numeric component of a normalized version string.
// "nmap.7.80.r0" yields [7 80], "1.2.3" yields [1 2 3], "beta" yields nil.
func numericCore(normalized string) []int {
	var core []int
	started := false
	for _, part := range strings.Split(normalized, ".") {
		n, err := strconv.Atoi(part)
		if err != nil {
			if started {
				break
			}
			continue
		}
		started = true
		core = append(core, n)
	}
	return core
}

func equalCores(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// FromEnv looks up the value of an environment variable in the KEY=VALUE
// slice baked into an image config. Returns "" when the variable is absent.
func FromEnv(env []string, key string) string {
	for _, kv := range env {
		if name, value, ok := strings.Cut(kv, "="); ok && name == key {
			return value
		}
	}
	return ""
}
