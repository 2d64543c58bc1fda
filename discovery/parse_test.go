package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{"nmap banner", "Nmap version 7.94SVN ( https://nmap.org )", "7.94.0"},
		{"semver with v", "nuclei v3.1.4\n", "3.1.4"},
		{"two component", "masscan 1.3", "1.3.0"},
		{"prerelease", "httpx v1.6.0-dev", "1.6.0-dev"},
		{"no version", "command not found", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseVersion(tt.output))
		})
	}
}

func TestParseDescription(t *testing.T) {
	help := `Usage: subfinder [flags]

Subfinder is a subdomain discovery tool that finds valid subdomains.

Flags:
   -d, -domain string[]   domains to find subdomains for
`
	assert.Equal(t, "Subfinder is a subdomain discovery tool that finds valid subdomains.", ParseDescription(help))
}

func TestParseDescriptionSkipsOptionRows(t *testing.T) {
	help := "usage: tool [opts]\n-v verbose mode enabled always\nA scanner for forgotten services.\n"
	assert.Equal(t, "A scanner for forgotten services.", ParseDescription(help))
}

func TestParseParametersGeneric(t *testing.T) {
	help := `Usage: gobuster dir [flags]

Flags:
  -u, --url string        The target URL
  -w, --wordlist string   Path to the wordlist
  -t, --threads int       Number of concurrent threads
  -k, --no-tls-validation   Skip TLS certificate verification
`
	params := ParseParameters("gobuster", help, 20)
	require.Len(t, params, 4)

	byName := map[string]string{}
	for _, p := range params {
		byName[p.Name] = p.Type
	}
	assert.Equal(t, "string", byName["url"])
	assert.Equal(t, "string", byName["wordlist"])
	assert.Equal(t, "number", byName["threads"])
	assert.Equal(t, "boolean", byName["no-tls-validation"])
}

func TestParseParametersNmap(t *testing.T) {
	help := `Nmap 7.94SVN ( https://nmap.org )
Usage: nmap [Scan Type(s)] [Options] {target specification}
  -sV: Probe open ports to determine service/version info
  -p <port ranges>: Only scan specified ports
  -oN <file>: Output scan in normal format to the given filename
`
	params := ParseParameters("nmap", help, 20)
	require.NotEmpty(t, params)

	byName := map[string]string{}
	for _, p := range params {
		byName[p.Name] = p.Type
	}
	assert.Contains(t, byName, "sV")
	assert.Equal(t, "number", byName["p"])
	assert.Equal(t, "string", byName["oN"])
}

func TestParseParametersCap(t *testing.T) {
	help := `Flags:
  --alpha   first switch description
  --bravo   second switch description
  --charlie   third switch description
  --delta   fourth switch description
`
	params := ParseParameters("mystery", help, 2)
	assert.Len(t, params, 2)
}

func TestParseParametersArrayHint(t *testing.T) {
	help := "Flags:\n  --exclude string   comma-separated values to skip\n"
	params := ParseParameters("mystery", help, 10)
	require.Len(t, params, 1)
	assert.Equal(t, "array", params[0].Type)
}

func TestBatteryKnownCategories(t *testing.T) {
	assert.NotEmpty(t, Battery("network"))
	assert.NotEmpty(t, Battery("web"))
	assert.Nil(t, Battery("nonexistent"))
}
