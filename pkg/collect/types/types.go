// Package types provides the core data types for sweepcollect: sweeps, the
// runs they own, and the ordered records used for run configs and history
// steps. It also parses the "entity/project/sweep" paths used to address a
// sweep on the tracking service.
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidPath is returned when a sweep path cannot be parsed.
var ErrInvalidPath = errors.New("invalid sweep path")

// Run states reported by the tracking service.
const (
	RunStateRunning  = "running"
	RunStateFinished = "finished"
	RunStateCrashed  = "crashed"
	RunStateFailed   = "failed"
	RunStateKilled   = "killed"
)

// SweepPath addresses a sweep on the tracking service.
type SweepPath struct {
	// Entity is the user or team owning the project. Empty means the
	// service's default entity for the API key.
	Entity string

	// Project is the project name.
	Project string

	// Sweep is the sweep identifier within the project.
	Sweep string
}

// String returns the path as "entity/project/sweep", or "project/sweep"
// when no entity is set.
func (p SweepPath) String() string {
	if p.Entity == "" {
		return p.Project + "/" + p.Sweep
	}
	return p.Entity + "/" + p.Project + "/" + p.Sweep
}

// WithDefaultEntity returns a copy of p with entity filled in when p has none.
func (p SweepPath) WithDefaultEntity(entity string) SweepPath {
	if p.Entity == "" {
		p.Entity = entity
	}
	return p
}

// ParseSweepPath builds a SweepPath from a project identifier and a sweep
// identifier. The project identifier is either "project" or "entity/project".
func ParseSweepPath(projectID, sweepID string) (SweepPath, error) {
	projectID = strings.Trim(strings.TrimSpace(projectID), "/")
	sweepID = strings.TrimSpace(sweepID)

	if projectID == "" {
		return SweepPath{}, fmt.Errorf("%w: project id is required", ErrInvalidPath)
	}
	if sweepID == "" {
		return SweepPath{}, fmt.Errorf("%w: sweep id is required", ErrInvalidPath)
	}
	if strings.Contains(sweepID, "/") {
		return SweepPath{}, fmt.Errorf("%w: sweep id %q contains '/'", ErrInvalidPath, sweepID)
	}

	parts := strings.Split(projectID, "/")
	switch len(parts) {
	case 1:
		return SweepPath{Project: parts[0], Sweep: sweepID}, nil
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return SweepPath{}, fmt.Errorf("%w: %q", ErrInvalidPath, projectID)
		}
		return SweepPath{Entity: parts[0], Project: parts[1], Sweep: sweepID}, nil
	default:
		return SweepPath{}, fmt.Errorf("%w: project id %q has too many segments", ErrInvalidPath, projectID)
	}
}

// Sweep is a named collection of related runs.
type Sweep struct {
	// Path is the resolved location of the sweep.
	Path SweepPath

	// ID is the service's internal identifier.
	ID string

	// Name is the sweep identifier used in paths.
	Name string

	// DisplayName is the human-readable name, if any.
	DisplayName string

	// State is the sweep state (e.g. RUNNING, FINISHED).
	State string

	// Method is the search method from the sweep config (grid, random, bayes).
	Method string

	// RunCount is the number of runs the service reports for the sweep.
	RunCount int
}

// Run is a single execution of an experiment.
type Run struct {
	// Path is the sweep the run belongs to.
	Path SweepPath

	// ID is the run identifier, unique within the project.
	ID string

	// Name is the display name.
	Name string

	// State is the run state (see RunState constants).
	State string

	// CreatedAt is when the run was created.
	CreatedAt time.Time

	// Config holds hyperparameters fixed at run start, in service order.
	Config *Record
}

// Finished reports whether the run has reached a terminal state.
// Histories of finished runs no longer change.
func (r *Run) Finished() bool {
	switch r.State {
	case RunStateFinished, RunStateCrashed, RunStateFailed, RunStateKilled:
		return true
	default:
		return false
	}
}
