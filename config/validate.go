package config

import (
	"strings"

	"github.com/BaSui01/debateflow/types"
)

// Validate checks the configuration before a run starts. Violations are
// fatal: the run never begins with an invalid configuration or roster.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.Run.Topic) == "" {
		errs = append(errs, "run.topic is required")
	}
	if c.Run.MaxTurns <= 0 {
		errs = append(errs, "run.max_turns must be positive")
	}
	if c.Run.FacilitatorCheckInterval <= 0 {
		errs = append(errs, "run.facilitator_check_interval must be positive")
	}
	if c.Run.ConvergenceThreshold < 0 || c.Run.ConvergenceThreshold > 1 {
		errs = append(errs, "run.convergence_threshold must be in [0,1]")
	}
	if c.Run.ReadyRatioThreshold < 0 || c.Run.ReadyRatioThreshold > 1 {
		errs = append(errs, "run.ready_ratio_threshold must be in [0,1]")
	}
	if c.Run.DepthThreshold < 0 || c.Run.DepthThreshold > 1 {
		errs = append(errs, "run.depth_threshold must be in [0,1]")
	}
	if c.Run.MaxConcurrentComments <= 0 {
		errs = append(errs, "run.max_concurrent_comments must be positive")
	}
	if c.Run.StagnationWindow < 2 {
		errs = append(errs, "run.stagnation_window must be at least 2")
	}

	if len(c.Agents) == 0 {
		errs = append(errs, "at least one agent is required")
	}
	for i, a := range c.Agents {
		if strings.TrimSpace(a.Name) == "" {
			errs = append(errs, "agent name must not be empty")
			continue
		}
		if a.Name == types.SpeakerConclusion {
			errs = append(errs, "agent name must not be \"Conclusion\"")
		}
		for j := 0; j < i; j++ {
			if c.Agents[j].Name == a.Name {
				errs = append(errs, "duplicate agent name: "+a.Name)
			}
		}
	}

	if c.Gateway.Timeout <= 0 {
		errs = append(errs, "gateway.timeout must be positive")
	}
	if c.Gateway.MaxRetries < 0 {
		errs = append(errs, "gateway.max_retries must not be negative")
	}
	if c.Gateway.ParseRetries < 0 {
		errs = append(errs, "gateway.parse_retries must not be negative")
	}

	if c.Checkpoint.Enabled {
		switch c.Checkpoint.Store {
		case "sqlite", "redis":
		default:
			errs = append(errs, "checkpoint.store must be \"sqlite\" or \"redis\"")
		}
	}

	if len(errs) > 0 {
		return types.NewError(types.ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// Roster builds the closed speaker set from the configured agents.
func (c *Config) Roster() (*types.Roster, error) {
	ids := make([]types.AgentID, 0, len(c.Agents))
	for _, a := range c.Agents {
		ids = append(ids, types.AgentID(a.Name))
	}
	return types.NewRoster(ids)
}

// SubjectiveView renders one agent's private view of the other
// participants, one line per target, for prompt assembly.
func (c *Config) SubjectiveView(name string) string {
	for _, a := range c.Agents {
		if a.Name != name {
			continue
		}
		if len(a.SubjectiveViews) == 0 {
			return ""
		}
		lines := make([]string, 0, len(a.SubjectiveViews))
		// Follow roster order so the rendering is deterministic.
		for _, other := range c.Agents {
			if view, ok := a.SubjectiveViews[other.Name]; ok {
				lines = append(lines, "- "+other.Name+": "+view)
			}
		}
		return strings.Join(lines, "\n")
	}
	return ""
}
