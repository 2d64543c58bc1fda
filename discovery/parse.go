package discovery

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/crucible-sec/crucible/registry"
)

var versionPattern = regexp.MustCompile(`v?(\d+\.\d+(?:\.\d+)?(?:[-.]\w+)*)`)

// ParseVersion extracts a version string from probe output, normalized
// through semver when the match parses cleanly. Falls back to the raw match
// so tools with loose version schemes still get recorded.
func ParseVersion(output string) string {
	match := versionPattern.FindStringSubmatch(output)
	if match == nil {
		return ""
	}
	raw := match[1]
	if v, err := semver.NewVersion(raw); err == nil {
		return v.String()
	}
	return raw
}

// ParseDescription picks the first substantive line of help text: not a
// usage banner, not an option row, long enough to say something.
func ParseDescription(help string) string {
	for _, line := range strings.Split(help, "\n") {
		line = strings.TrimSpace(line)
		if len(line) < 12 {
			continue
		}
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "usage") || strings.HasPrefix(lower, "options") || strings.HasPrefix(lower, "flags") {
			continue
		}
		if strings.HasPrefix(line, "-") {
			continue
		}
		return line
	}
	return ""
}

// Per-tool flag extractors for help formats the generic pattern mishandles.
// The generic pattern covers conventional "-f, --flag  description" layouts.
var toolFlagPatterns = map[string]*regexp.Regexp{
	// nmap groups flags mid-line: "  -sV: Probe open ports ..."
	"nmap": regexp.MustCompile(`(?m)^\s{2,}(-[A-Za-z][\w-]*)\s*[:]?\s+(.+)$`),
	// projectdiscovery tools use "   -flag, -alias string   description"
	"nuclei":    regexp.MustCompile(`(?m)^\s+(-[a-z][\w-]*)(?:,\s*-[\w-]+)*(?:\s+\w+)?\s{2,}(.+)$`),
	"httpx":     regexp.MustCompile(`(?m)^\s+(-[a-z][\w-]*)(?:,\s*-[\w-]+)*(?:\s+\w+)?\s{2,}(.+)$`),
	"subfinder": regexp.MustCompile(`(?m)^\s+(-[a-z][\w-]*)(?:,\s*-[\w-]+)*(?:\s+\w+)?\s{2,}(.+)$`),
}

var genericFlagPattern = regexp.MustCompile(`(?m)^\s+(?:-[\w?],\s+)?(--?[A-Za-z][\w-]*)(?:[= ]<?\w*>?)?\s{2,}(.+)$`)

var (
	stringHints = []string{"file", "path", "url", "host", "target", "dir", "domain", "output", "wordlist", "template"}
	numberHints = []string{"int", "number", "port", "count", "thread", "rate", "timeout", "depth", "retries"}
	arrayHints  = []string{"comma", "list"}
)

// classifyType maps a flag name and its description onto a parameter type
// by keyword heuristics. String hints win over number hints; anything
// unmatched is treated as a boolean switch.
func classifyType(flag, desc string) string {
	text := strings.ToLower(flag + " " + desc)
	for _, h := range stringHints {
		if strings.Contains(text, h) {
			return "string"
		}
	}
	for _, h := range numberHints {
		if strings.Contains(text, h) {
			return "number"
		}
	}
	for _, h := range arrayHints {
		if strings.Contains(text, h) {
			return "array"
		}
	}
	return "boolean"
}

// ParseParameters extracts flag parameters from help output, capped at
// maxParams. Duplicate flags keep their first occurrence.
func ParseParameters(toolID, help string, maxParams int) []registry.Parameter {
	pattern, ok := toolFlagPatterns[toolID]
	if !ok {
		pattern = genericFlagPattern
	}
	matches := pattern.FindAllStringSubmatch(help, -1)

	seen := make(map[string]bool)
	var params []registry.Parameter
	for _, m := range matches {
		if maxParams > 0 && len(params) >= maxParams {
			break
		}
		flag := strings.TrimLeft(m[1], "-")
		if flag == "" || seen[flag] {
			continue
		}
		desc := strings.TrimSpace(m[2])
		seen[flag] = true
		params = append(params, registry.Parameter{
			Name:        flag,
			Type:        classifyType(m[1], desc),
			Required:    false,
			Description: desc,
		})
	}
	return params
}
