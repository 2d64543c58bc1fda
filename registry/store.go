// Package registry is the persisted catalog of discovered tools and the
// router that resolves logical tool names to invocation metadata.
package registry

import (
	"database/sql"
	"strings"
	"time"

	"github.com/crucible-sec/crucible/errors"
)

// Tool is one registry row: everything needed to invoke a discovered tool.
type Tool struct {
	ToolID        string
	DisplayName   string
	Category      string
	Version       string
	Description   string
	BinaryPath    string
	ContainerName string
	ContainerUser string
	InstallStatus string
	Parameters    []Parameter
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Parameter describes one flag or argument of a tool, derived from its help
// text during discovery.
type Parameter struct {
	Name         string
	Type         string // string, number, boolean, array, enum
	Required     bool
	Description  string
	DefaultValue string
	EnumValues   []string
}

// Store persists tools and their parameters.
type Store struct {
	db *sql.DB
}

// NewStore creates a registry store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Upsert creates or updates a tool by its ID. On update the container
// binding moves to the most recent discovery ("last writer wins" when the
// same tool name exists in multiple containers).
func (s *Store) Upsert(tool *Tool) error {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := s.db.Exec(`
		INSERT INTO tools (tool_id, display_name, category, version, description,
			binary_path, container_name, container_user, install_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tool_id) DO UPDATE SET
			display_name = excluded.display_name,
			category = excluded.category,
			version = excluded.version,
			description = excluded.description,
			binary_path = excluded.binary_path,
			container_name = excluded.container_name,
			container_user = excluded.container_user,
			install_status = excluded.install_status,
			updated_at = excluded.updated_at
	`,
		tool.ToolID, tool.DisplayName, tool.Category, tool.Version, tool.Description,
		tool.BinaryPath, tool.ContainerName, tool.ContainerUser, tool.InstallStatus, now, now,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to upsert tool %s", tool.ToolID)
	}
	return nil
}

// ReplaceParameters swaps a tool's parameter rows wholesale in one
// transaction. Last discovery wins; parameters always describe the most
// recent successful parse, never a union across discoveries.
func (s *Store) ReplaceParameters(toolID string, params []Parameter) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin tx")
	}

	if _, err := tx.Exec(`DELETE FROM tool_parameters WHERE tool_id = ?`, toolID); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "failed to clear parameters for %s", toolID)
	}

	for _, p := range params {
		enumValues := strings.Join(p.EnumValues, ",")
		if _, err := tx.Exec(`
			INSERT INTO tool_parameters (tool_id, name, type, required, description, default_value, enum_values)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, toolID, p.Name, p.Type, p.Required, p.Description, p.DefaultValue, enumValues); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "failed to insert parameter %s for %s", p.Name, toolID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "failed to commit parameters for %s", toolID)
	}
	return nil
}

// Get retrieves a tool with its parameters.
func (s *Store) Get(toolID string) (*Tool, error) {
	row := s.db.QueryRow(`
		SELECT tool_id, display_name, category, version, description,
			binary_path, container_name, container_user, install_status, created_at, updated_at
		FROM tools WHERE tool_id = ?
	`, toolID)

	tool, err := scanTool(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("tool %q", toolID)
		}
		return nil, errors.Wrapf(err, "failed to get tool %s", toolID)
	}

	params, err := s.parameters(toolID)
	if err != nil {
		return nil, err
	}
	tool.Parameters = params
	return tool, nil
}

// List returns all tools with their parameters, ordered by tool ID.
func (s *Store) List() ([]*Tool, error) {
	rows, err := s.db.Query(`
		SELECT tool_id, display_name, category, version, description,
			binary_path, container_name, container_user, install_status, created_at, updated_at
		FROM tools ORDER BY tool_id
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tools")
	}
	defer rows.Close()

	var tools []*Tool
	for rows.Next() {
		tool, err := scanTool(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan tool")
		}
		tools = append(tools, tool)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate tools")
	}

	for _, tool := range tools {
		params, err := s.parameters(tool.ToolID)
		if err != nil {
			return nil, err
		}
		tool.Parameters = params
	}
	return tools, nil
}

func (s *Store) parameters(toolID string) ([]Parameter, error) {
	rows, err := s.db.Query(`
		SELECT name, type, required, description, default_value, enum_values
		FROM tool_parameters WHERE tool_id = ? ORDER BY id
	`, toolID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query parameters for %s", toolID)
	}
	defer rows.Close()

	var params []Parameter
	for rows.Next() {
		var p Parameter
		var description, defaultValue, enumValues sql.NullString
		if err := rows.Scan(&p.Name, &p.Type, &p.Required, &description, &defaultValue, &enumValues); err != nil {
			return nil, errors.Wrapf(err, "failed to scan parameter for %s", toolID)
		}
		p.Description = description.String
		p.DefaultValue = defaultValue.String
		if enumValues.String != "" {
			p.EnumValues = strings.Split(enumValues.String, ",")
		}
		params = append(params, p)
	}
	return params, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTool(row rowScanner) (*Tool, error) {
	var tool Tool
	var version, description, binaryPath sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&tool.ToolID, &tool.DisplayName, &tool.Category, &version, &description,
		&binaryPath, &tool.ContainerName, &tool.ContainerUser, &tool.InstallStatus,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	tool.Version = version.String
	tool.Description = description.String
	tool.BinaryPath = binaryPath.String

	if tool.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for %s", tool.ToolID)
	}
	if tool.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for %s", tool.ToolID)
	}
	return &tool, nil
}
