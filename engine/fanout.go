package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/toolmesh/protocol"
	"github.com/hupe1980/toolmesh/provider"
)

// FanOutToolName is the builtin dispatch tool the engine injects into the
// advertised catalog when a SubAgentFunc is configured.
const FanOutToolName = "dispatch_agents"

// SubTask is one dispatch target. The engine treats the fields as opaque
// routing hints for the SubAgentFunc; Dependencies and Parallel are
// carried through untouched.
type SubTask struct {
	ID            string   `json:"id"`
	Description   string   `json:"description"`
	AssignedAgent string   `json:"assigned_agent,omitempty"`
	Dependencies  []string `json:"dependencies,omitempty"`
	Parallel      bool     `json:"parallel,omitempty"`
}

// SubAgentFunc executes one dispatched sub-task and returns its textual
// outcome.
type SubAgentFunc func(ctx context.Context, task SubTask) (string, error)

type dispatchArgs struct {
	Tasks []SubTask `json:"tasks"`
}

func fanOutDefinition() provider.ToolDefinition {
	return provider.ToolDefinition{
		Name:        FanOutToolName,
		Description: "Dispatch a batch of sub-tasks to specialized agents. All tasks start concurrently and the call returns when every task has finished.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tasks": map[string]any{
					"type":        "array",
					"description": "Sub-tasks to dispatch.",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"id":             map[string]any{"type": "string"},
							"description":    map[string]any{"type": "string"},
							"assigned_agent": map[string]any{"type": "string"},
							"dependencies":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
							"parallel":       map[string]any{"type": "boolean"},
						},
						"required": []string{"id", "description"},
					},
				},
			},
			"required": []string{"tasks"},
		},
	}
}

// runFanOut starts every sub-task concurrently and joins on all of them,
// bounded by FanOutTimeout. Each outcome is reported per task; a failing
// or panicking dispatch never aborts its siblings.
func (e *Engine) runFanOut(ctx context.Context, rawArgs string) *protocol.ToolResult {
	var args dispatchArgs
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return protocol.ErrorResult(fmt.Sprintf("invalid dispatch arguments: %v", err))
	}
	if len(args.Tasks) == 0 {
		return protocol.ErrorResult("dispatch requires at least one task")
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.FanOutTimeout)
	defer cancel()

	outcomes := make([]string, len(args.Tasks))

	start := time.Now()
	var wg sync.WaitGroup
	for i, task := range args.Tasks {
		wg.Add(1)
		go func(idx int, t SubTask) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("engine.dispatch.panic", "task", t.ID, "recover", fmt.Sprintf("%v", r))
					outcomes[idx] = fmt.Sprintf("task %s: error: panic: %v", t.ID, r)
				}
			}()

			text, err := e.subAgent(ctx, t)
			if err != nil {
				outcomes[idx] = fmt.Sprintf("task %s: error: %v", t.ID, err)
				return
			}
			outcomes[idx] = fmt.Sprintf("task %s: success: %s", t.ID, text)
		}(i, task)
	}
	wg.Wait()

	e.logger.Debug("engine.dispatch.complete",
		"tasks", len(args.Tasks),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return protocol.TextResult(strings.Join(outcomes, "\n"))
}
