// Package discovery probes execution containers for installed security
// tools, parses their version and help text into structured parameter
// schemas, and syncs the results into the tool registry.
package discovery

import "fmt"

// Probe describes one tool the agent looks for: how to confirm it is
// present and which category it belongs to.
type Probe struct {
	ToolID      string
	DisplayName string
	VersionArgs string // appended after the presence check
}

// Probe batteries per tool category. Each probe encodes a presence check
// before reporting version, so an absent tool exits non-zero and is skipped
// rather than treated as an error.
var batteries = map[string][]Probe{
	"network": {
		{ToolID: "nmap", DisplayName: "Nmap", VersionArgs: "--version"},
		{ToolID: "masscan", DisplayName: "Masscan", VersionArgs: "--version"},
		{ToolID: "naabu", DisplayName: "Naabu", VersionArgs: "-version"},
		{ToolID: "netcat", DisplayName: "Netcat", VersionArgs: "-h"},
	},
	"web": {
		{ToolID: "nuclei", DisplayName: "Nuclei", VersionArgs: "-version"},
		{ToolID: "httpx", DisplayName: "httpx", VersionArgs: "-version"},
		{ToolID: "nikto", DisplayName: "Nikto", VersionArgs: "-Version"},
		{ToolID: "gobuster", DisplayName: "Gobuster", VersionArgs: "version"},
		{ToolID: "ffuf", DisplayName: "ffuf", VersionArgs: "-V"},
		{ToolID: "whatweb", DisplayName: "WhatWeb", VersionArgs: "--version"},
		{ToolID: "wpscan", DisplayName: "WPScan", VersionArgs: "--version"},
		{ToolID: "sqlmap", DisplayName: "sqlmap", VersionArgs: "--version"},
	},
	"recon": {
		{ToolID: "subfinder", DisplayName: "Subfinder", VersionArgs: "-version"},
		{ToolID: "amass", DisplayName: "Amass", VersionArgs: "-version"},
		{ToolID: "dnsx", DisplayName: "dnsx", VersionArgs: "-version"},
		{ToolID: "bbot", DisplayName: "BBOT", VersionArgs: "--version"},
		{ToolID: "theharvester", DisplayName: "theHarvester", VersionArgs: "--version"},
	},
	"password": {
		{ToolID: "hydra", DisplayName: "Hydra", VersionArgs: "-h"},
		{ToolID: "john", DisplayName: "John the Ripper", VersionArgs: "--version"},
		{ToolID: "hashcat", DisplayName: "Hashcat", VersionArgs: "--version"},
	},
}

// Battery returns the probe list for a category, nil when the category is
// unknown.
func Battery(category string) []Probe {
	return batteries[category]
}

// Categories lists all known probe categories.
func Categories() []string {
	out := make([]string, 0, len(batteries))
	for category := range batteries {
		out = append(out, category)
	}
	return out
}

// presenceCommand builds the shell probe confirming a tool exists before
// asking its version.
func presenceCommand(p Probe) []string {
	script := fmt.Sprintf("command -v %s >/dev/null 2>&1 && %s %s 2>&1", p.ToolID, p.ToolID, p.VersionArgs)
	return []string{"sh", "-c", script}
}

// pathCommand resolves the tool's canonical binary path.
func pathCommand(toolID string) []string {
	return []string{"sh", "-c", fmt.Sprintf("command -v %s", toolID)}
}

// helpCommand captures the tool's help text (stderr folded in; many
// scanners print usage there).
func helpCommand(toolID string) []string {
	return []string{"sh", "-c", fmt.Sprintf("%s --help 2>&1 || %s -h 2>&1 || true", toolID, toolID)}
}
