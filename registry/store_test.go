package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucible-sec/crucible/errors"
	crucibletest "github.com/crucible-sec/crucible/internal/testing"
)

func sampleTool() *Tool {
	return &Tool{
		ToolID:        "nmap",
		DisplayName:   "Nmap",
		Category:      "network",
		Version:       "7.94",
		Description:   "Network exploration tool and security / port scanner",
		BinaryPath:    "/usr/bin/nmap",
		ContainerName: "pentest-tools",
		ContainerUser: "root",
		InstallStatus: "installed",
	}
}

func TestUpsertAndGet(t *testing.T) {
	store := NewStore(crucibletest.CreateTestDB(t))

	require.NoError(t, store.Upsert(sampleTool()))

	got, err := store.Get("nmap")
	require.NoError(t, err)
	assert.Equal(t, "Nmap", got.DisplayName)
	assert.Equal(t, "7.94", got.Version)
	assert.Equal(t, "pentest-tools", got.ContainerName)
}

func TestGetNotFound(t *testing.T) {
	store := NewStore(crucibletest.CreateTestDB(t))

	_, err := store.Get("nuclei")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

// When the same tool name is discovered in multiple containers, the most
// recently synced container binding wins.
func TestUpsertLastWriterWins(t *testing.T) {
	store := NewStore(crucibletest.CreateTestDB(t))

	require.NoError(t, store.Upsert(sampleTool()))

	moved := sampleTool()
	moved.ContainerName = "bbot-scanner"
	moved.Version = "7.95"
	require.NoError(t, store.Upsert(moved))

	got, err := store.Get("nmap")
	require.NoError(t, err)
	assert.Equal(t, "bbot-scanner", got.ContainerName)
	assert.Equal(t, "7.95", got.Version)

	tools, err := store.List()
	require.NoError(t, err)
	assert.Len(t, tools, 1, "one row per tool name regardless of containers")
}

func TestReplaceParameters(t *testing.T) {
	store := NewStore(crucibletest.CreateTestDB(t))
	require.NoError(t, store.Upsert(sampleTool()))

	require.NoError(t, store.ReplaceParameters("nmap", []Parameter{
		{Name: "-sV", Type: "boolean", Description: "Probe open ports to determine service/version info"},
		{Name: "-p", Type: "string", Description: "Only scan specified ports"},
	}))

	// Second discovery cycle sees a different schema; old rows must vanish.
	require.NoError(t, store.ReplaceParameters("nmap", []Parameter{
		{Name: "-sV", Type: "boolean"},
		{Name: "--top-ports", Type: "number"},
		{Name: "--script", Type: "array"},
	}))

	got, err := store.Get("nmap")
	require.NoError(t, err)
	require.Len(t, got.Parameters, 3)
	names := []string{got.Parameters[0].Name, got.Parameters[1].Name, got.Parameters[2].Name}
	assert.Equal(t, []string{"-sV", "--top-ports", "--script"}, names)
	assert.Equal(t, "number", got.Parameters[1].Type)
}

func TestReplaceParametersEnumValues(t *testing.T) {
	store := NewStore(crucibletest.CreateTestDB(t))
	require.NoError(t, store.Upsert(sampleTool()))

	require.NoError(t, store.ReplaceParameters("nmap", []Parameter{
		{Name: "-severity", Type: "enum", EnumValues: []string{"low", "medium", "high", "critical"}},
	}))

	got, err := store.Get("nmap")
	require.NoError(t, err)
	require.Len(t, got.Parameters, 1)
	assert.Equal(t, []string{"low", "medium", "high", "critical"}, got.Parameters[0].EnumValues)
}
