package pipeline

import (
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crucible-sec/crucible/errors"
)

// Operation is a pentest engagement owning a pipeline cascade.
type Operation struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Scope     []string  `json:"scope"`
	Pipeline  Status    `json:"pipeline_status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Target is one in-scope scan target of an operation.
type Target struct {
	ID          string `json:"id"`
	OperationID string `json:"operation_id"`
	Value       string `json:"value"`
	Type        string `json:"type"`
	AutoCreated bool   `json:"auto_created"`
}

// Asset is a host or domain reported by a surface assessment scan.
type Asset struct {
	ID          string `json:"id"`
	OperationID string `json:"operation_id"`
	ScanID      string `json:"scan_id"`
	Value       string `json:"value"`
	AssetType   string `json:"asset_type"`
}

// Service is one open port reported by a port scan.
type Service struct {
	ID          string `json:"id"`
	OperationID string `json:"operation_id"`
	ScanID      string `json:"scan_id"`
	AssetValue  string `json:"asset_value"`
	Port        int    `json:"port"`
	Protocol    string `json:"protocol"`
	ServiceName string `json:"service_name"`
}

// Store persists operations, targets, and scan discoveries. The pipeline
// status document is read-modify-written as a whole; statusMu serializes
// those writes within this process, which narrows but does not close the
// cross-process update race.
type Store struct {
	db       *sql.DB
	statusMu sync.Mutex
}

// NewStore creates a pipeline store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateOperation inserts a new operation with an empty pipeline document.
func (s *Store) CreateOperation(name string, scope []string) (*Operation, error) {
	op := &Operation{
		ID:        uuid.NewString(),
		Name:      name,
		Scope:     scope,
		Pipeline:  Status{AutomationEnabled: true},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	scopeJSON, err := json.Marshal(op.Scope)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal scope")
	}
	statusJSON, err := json.Marshal(op.Pipeline)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal pipeline status")
	}

	_, err = s.db.Exec(`
		INSERT INTO operations (id, name, scope, pipeline_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, op.ID, op.Name, string(scopeJSON), string(statusJSON),
		op.CreatedAt.Format(time.RFC3339), op.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create operation %s", name)
	}
	return op, nil
}

// GetOperation loads one operation with its pipeline document.
func (s *Store) GetOperation(id string) (*Operation, error) {
	var (
		op         Operation
		scopeJSON  string
		statusJSON string
		createdAt  string
		updatedAt  string
	)
	err := s.db.QueryRow(`
		SELECT id, name, scope, pipeline_status, created_at, updated_at
		FROM operations WHERE id = ?
	`, id).Scan(&op.ID, &op.Name, &scopeJSON, &statusJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("operation %q not found", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load operation %s", id)
	}

	if err := json.Unmarshal([]byte(scopeJSON), &op.Scope); err != nil {
		return nil, errors.Wrapf(err, "failed to decode scope for %s", id)
	}
	if err := json.Unmarshal([]byte(statusJSON), &op.Pipeline); err != nil {
		return nil, errors.Wrapf(err, "failed to decode pipeline status for %s", id)
	}
	op.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	op.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &op, nil
}

// UpdatePipelineStatus applies mutate to the operation's pipeline document
// under the store's status lock and persists the whole document back.
func (s *Store) UpdatePipelineStatus(operationID string, mutate func(*Status)) error {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	var statusJSON string
	err := s.db.QueryRow(`SELECT pipeline_status FROM operations WHERE id = ?`, operationID).
		Scan(&statusJSON)
	if err == sql.ErrNoRows {
		return errors.NewNotFoundError("operation %q not found", operationID)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to read pipeline status for %s", operationID)
	}

	var status Status
	if err := json.Unmarshal([]byte(statusJSON), &status); err != nil {
		return errors.Wrapf(err, "failed to decode pipeline status for %s", operationID)
	}

	mutate(&status)

	updated, err := json.Marshal(&status)
	if err != nil {
		return errors.Wrap(err, "failed to marshal pipeline status")
	}
	_, err = s.db.Exec(`UPDATE operations SET pipeline_status = ?, updated_at = ? WHERE id = ?`,
		string(updated), time.Now().UTC().Format(time.RFC3339), operationID)
	if err != nil {
		return errors.Wrapf(err, "failed to write pipeline status for %s", operationID)
	}
	return nil
}

// CreateTarget inserts a target, reporting whether a new row was created.
// An existing (operation, value) pair is left untouched.
func (s *Store) CreateTarget(operationID, value, targetType string, autoCreated bool) (bool, error) {
	res, err := s.db.Exec(`
		INSERT INTO targets (id, operation_id, value, type, auto_created, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(operation_id, value) DO NOTHING
	`, uuid.NewString(), operationID, value, targetType, autoCreated,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return false, errors.Wrapf(err, "failed to create target %s", value)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read rows affected")
	}
	return n > 0, nil
}

// TargetsByOperation lists an operation's targets in creation order.
func (s *Store) TargetsByOperation(operationID string) ([]Target, error) {
	rows, err := s.db.Query(`
		SELECT id, operation_id, value, type, auto_created
		FROM targets WHERE operation_id = ? ORDER BY created_at, value
	`, operationID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list targets for %s", operationID)
	}
	defer rows.Close()

	var targets []Target
	for rows.Next() {
		var t Target
		if err := rows.Scan(&t.ID, &t.OperationID, &t.Value, &t.Type, &t.AutoCreated); err != nil {
			return nil, errors.Wrap(err, "failed to scan target")
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// InsertAsset records one discovered asset from a surface assessment scan.
func (s *Store) InsertAsset(operationID, scanID, value, assetType string) error {
	_, err := s.db.Exec(`
		INSERT INTO discovered_assets (id, operation_id, scan_id, value, asset_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), operationID, scanID, value, assetType,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return errors.Wrapf(err, "failed to insert asset %s", value)
	}
	return nil
}

// AssetsByScan lists the assets one scan reported.
func (s *Store) AssetsByScan(scanID string) ([]Asset, error) {
	rows, err := s.db.Query(`
		SELECT id, operation_id, scan_id, value, asset_type
		FROM discovered_assets WHERE scan_id = ? ORDER BY created_at, value
	`, scanID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list assets for scan %s", scanID)
	}
	defer rows.Close()

	var assets []Asset
	for rows.Next() {
		var a Asset
		if err := rows.Scan(&a.ID, &a.OperationID, &a.ScanID, &a.Value, &a.AssetType); err != nil {
			return nil, errors.Wrap(err, "failed to scan asset")
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// InsertService records one open service from a port scan.
func (s *Store) InsertService(operationID, scanID, assetValue string, port int, protocol, serviceName string) error {
	_, err := s.db.Exec(`
		INSERT INTO discovered_services (id, operation_id, scan_id, asset_value, port, protocol, service_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), operationID, scanID, assetValue, port, protocol, serviceName,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return errors.Wrapf(err, "failed to insert service %s:%d", assetValue, port)
	}
	return nil
}

// ServicesByScan lists the open services one scan reported.
func (s *Store) ServicesByScan(scanID string) ([]Service, error) {
	rows, err := s.db.Query(`
		SELECT id, operation_id, scan_id, asset_value, port, protocol, COALESCE(service_name, '')
		FROM discovered_services WHERE scan_id = ? ORDER BY asset_value, port
	`, scanID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list services for scan %s", scanID)
	}
	defer rows.Close()

	var services []Service
	for rows.Next() {
		var svc Service
		if err := rows.Scan(&svc.ID, &svc.OperationID, &svc.ScanID, &svc.AssetValue,
			&svc.Port, &svc.Protocol, &svc.ServiceName); err != nil {
			return nil, errors.Wrap(err, "failed to scan service")
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}
