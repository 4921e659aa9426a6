package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/sweepcollect/pkg/collect/types"
)

const sweepQuery = `query Sweep($entity: String, $project: String!, $sweep: String!) {
  project(name: $project, entityName: $entity) {
    sweep(sweepName: $sweep) {
      id
      name
      displayName
      state
      config
      runCount
    }
  }
}`

const runsQuery = `query SweepRuns($entity: String, $project: String!, $sweep: String!, $first: Int, $after: String) {
  project(name: $project, entityName: $entity) {
    sweep(sweepName: $sweep) {
      runs(first: $first, after: $after) {
        edges {
          node {
            id
            name
            displayName
            state
            config
            createdAt
          }
        }
        pageInfo {
          endCursor
          hasNextPage
        }
      }
    }
  }
}`

const historyQuery = `query RunHistory($entity: String, $project: String!, $run: String!, $samples: Int) {
  project(name: $project, entityName: $entity) {
    run(name: $run) {
      history(samples: $samples)
    }
  }
}`

type sweepNode struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	State       string `json:"state"`
	Config      string `json:"config"`
	RunCount    int    `json:"runCount"`
}

type sweepData struct {
	Project *struct {
		Sweep *sweepNode `json:"sweep"`
	} `json:"project"`
}

type runNode struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	State       string `json:"state"`
	Config      string `json:"config"`
	CreatedAt   string `json:"createdAt"`
}

type runsData struct {
	Project *struct {
		Sweep *struct {
			Runs struct {
				Edges []struct {
					Node runNode `json:"node"`
				} `json:"edges"`
				PageInfo struct {
					EndCursor   string `json:"endCursor"`
					HasNextPage bool   `json:"hasNextPage"`
				} `json:"pageInfo"`
			} `json:"runs"`
		} `json:"sweep"`
	} `json:"project"`
}

type historyData struct {
	Project *struct {
		Run *struct {
			History []string `json:"history"`
		} `json:"run"`
	} `json:"project"`
}

func pathVars(p types.SweepPath) map[string]any {
	vars := map[string]any{"project": p.Project}
	if p.Entity != "" {
		vars["entity"] = p.Entity
	}
	return vars
}

// GetSweep fetches the sweep at path.
func (c *Client) GetSweep(ctx context.Context, path types.SweepPath) (*types.Sweep, error) {
	vars := pathVars(path)
	vars["sweep"] = path.Sweep

	var data sweepData
	if err := c.query(ctx, "Sweep", sweepQuery, vars, &data); err != nil {
		return nil, err
	}
	if data.Project == nil || data.Project.Sweep == nil {
		return nil, fmt.Errorf("%w: %s", ErrSweepNotFound, path)
	}

	node := data.Project.Sweep
	sweep := &types.Sweep{
		Path:        path,
		ID:          node.ID,
		Name:        node.Name,
		DisplayName: node.DisplayName,
		State:       node.State,
		Method:      sweepMethod(node.Config),
		RunCount:    node.RunCount,
	}
	if sweep.Name == "" {
		sweep.Name = path.Sweep
	}

	log.Debug("fetched sweep", "path", path, "state", sweep.State, "runs", sweep.RunCount)
	return sweep, nil
}

// Runs lists every run of sweep in service order, following pagination
// until the service reports no further pages.
func (c *Client) Runs(ctx context.Context, sweep *types.Sweep) ([]*types.Run, error) {
	var (
		runs  []*types.Run
		after string
		pages int
	)

	for {
		vars := pathVars(sweep.Path)
		vars["sweep"] = sweep.Path.Sweep
		vars["first"] = c.pageSize
		if after != "" {
			vars["after"] = after
		}

		var data runsData
		if err := c.query(ctx, "SweepRuns", runsQuery, vars, &data); err != nil {
			return nil, err
		}
		if data.Project == nil || data.Project.Sweep == nil {
			return nil, fmt.Errorf("%w: %s", ErrSweepNotFound, sweep.Path)
		}
		pages++

		conn := data.Project.Sweep.Runs
		for _, edge := range conn.Edges {
			run, err := decodeRun(sweep.Path, edge.Node)
			if err != nil {
				return nil, err
			}
			runs = append(runs, run)
		}

		if !conn.PageInfo.HasNextPage {
			break
		}
		if conn.PageInfo.EndCursor == "" || conn.PageInfo.EndCursor == after {
			return nil, fmt.Errorf("%w: SweepRuns: next page has no cursor", ErrCommunication)
		}
		after = conn.PageInfo.EndCursor
	}

	log.Debug("listed runs", "sweep", sweep.Path, "runs", len(runs), "pages", pages)
	return runs, nil
}

// History fetches up to samples history steps for run, in step order.
func (c *Client) History(ctx context.Context, run *types.Run, samples int) ([]*types.Record, error) {
	vars := pathVars(run.Path)
	vars["run"] = run.ID
	if samples > 0 {
		vars["samples"] = samples
	}

	var data historyData
	if err := c.query(ctx, "RunHistory", historyQuery, vars, &data); err != nil {
		return nil, err
	}
	if data.Project == nil || data.Project.Run == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}

	steps := make([]*types.Record, 0, len(data.Project.Run.History))
	for i, line := range data.Project.Run.History {
		rec, err := types.DecodeRecord([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("%w: run %s history step %d: %w", ErrCommunication, run.ID, i, err)
		}
		steps = append(steps, rec)
	}
	return steps, nil
}

// decodeRun converts a run node. The service encodes the config as a JSON
// string of {"key": {"value": v, "desc": ...}} entries; values are
// unwrapped and internal keys starting with "_" are dropped.
func decodeRun(path types.SweepPath, node runNode) (*types.Run, error) {
	config, err := DecodeConfig(node.Config)
	if err != nil {
		return nil, fmt.Errorf("%w: run %s config: %w", ErrCommunication, node.Name, err)
	}

	name := node.DisplayName
	if name == "" {
		name = node.Name
	}

	return &types.Run{
		Path:      path,
		ID:        node.Name,
		Name:      name,
		State:     node.State,
		CreatedAt: parseTime(node.CreatedAt),
		Config:    config,
	}, nil
}

// DecodeConfig decodes a run config as stored by the service.
func DecodeConfig(raw string) (*types.Record, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return types.NewRecord(), nil
	}

	wrapped, err := types.DecodeRecord([]byte(raw))
	if err != nil {
		return nil, err
	}

	config := types.NewRecord()
	wrapped.Each(func(key string, value any) {
		if strings.HasPrefix(key, "_") {
			return
		}
		if m, ok := value.(map[string]any); ok {
			if v, ok := m["value"]; ok {
				value = v
			}
		}
		config.Set(key, value)
	})
	return config, nil
}

// sweepMethod extracts the search method from the sweep's YAML config.
func sweepMethod(raw string) string {
	if raw == "" {
		return ""
	}
	var cfg struct {
		Method string `yaml:"method"`
	}
	if err := yaml.Unmarshal([]byte(raw), &cfg); err != nil {
		log.Debug("unparsable sweep config", "error", err)
		return ""
	}
	return cfg.Method
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// parseTime parses the service's timestamps, which omit the zone and are UTC.
// Unparsable values yield the zero time.
func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
