package pipeline

import "time"

// Phase statuses. Failed and skipped are terminal for that phase only and
// do not necessarily block later phases.
const (
	PhaseRunning   = "running"
	PhaseCompleted = "completed"
	PhaseFailed    = "failed"
	PhaseSkipped   = "skipped"
)

// Canonical phase names in cascade order.
const (
	PhaseTargetCreation = "target_creation"
	PhaseNmap           = "nmap"
	PhaseNuclei         = "nuclei"
	PhaseFinal          = "completed"
)

// Phase is one entry in an operation's pipeline status document, keyed by
// name within the phase list.
type Phase struct {
	Name          string     `json:"name"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"startedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	ResultSummary string     `json:"resultSummary,omitempty"`
}

// Status is the per-operation pipeline document. It is read-modify-written
// as a whole on every update, not as independently lockable rows.
type Status struct {
	CurrentPhase      string    `json:"currentPhase"`
	AutomationEnabled bool      `json:"automationEnabled"`
	Phases            []Phase   `json:"phases"`
	LastUpdated       time.Time `json:"lastUpdated"`
}

// UpsertPhase finds-or-appends the named phase and overwrites its status,
// timestamps, and summary. Calling twice with the same name never produces
// two entries.
func (s *Status) UpsertPhase(name, status, summary string) {
	now := time.Now()
	s.CurrentPhase = name
	s.LastUpdated = now

	for i := range s.Phases {
		if s.Phases[i].Name != name {
			continue
		}
		s.Phases[i].Status = status
		s.Phases[i].ResultSummary = summary
		if status == PhaseCompleted || status == PhaseFailed || status == PhaseSkipped {
			s.Phases[i].CompletedAt = &now
		} else {
			// A phase moved back to running has no completion time until it
			// reaches a terminal status again.
			s.Phases[i].CompletedAt = nil
		}
		return
	}

	phase := Phase{
		Name:          name,
		Status:        status,
		StartedAt:     now,
		ResultSummary: summary,
	}
	if status == PhaseCompleted || status == PhaseFailed || status == PhaseSkipped {
		phase.CompletedAt = &now
	}
	s.Phases = append(s.Phases, phase)
}

// Phase returns the named phase entry, nil if absent.
func (s *Status) Phase(name string) *Phase {
	for i := range s.Phases {
		if s.Phases[i].Name == name {
			return &s.Phases[i]
		}
	}
	return nil
}
