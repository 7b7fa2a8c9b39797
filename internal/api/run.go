package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// StartRunRequest carries the input for a new run.
type StartRunRequest struct {
	Input  string         `json:"input,omitempty"`
	Source string         `json:"source,omitempty"`
	Config map[string]any `json:"config,omitempty"`
}

// RunHandle identifies a started run.
type RunHandle struct {
	RunID     string
	Status    string
	StartedAt time.Time
}

// StartRun starts a run for the given agent (or an ad-hoc run when
// agentID is empty) and returns its handle.
func (c *Client) StartRun(ctx context.Context, agentID string, req StartRunRequest) (*RunHandle, error) {
	path := "/run"
	if agentID != "" {
		path = "/agents/" + url.PathEscape(agentID) + "/run"
	}

	raw, err := c.Call(ctx, http.MethodPost, path, req)
	if err != nil {
		return nil, err
	}

	var resp struct {
		RunID     string `json:"run_id"`
		Status    string `json:"status"`
		StartedAt string `json:"started_at"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode run response: %w", err)
	}
	if resp.RunID == "" {
		return nil, fmt.Errorf("run response missing run_id")
	}

	handle := &RunHandle{RunID: resp.RunID, Status: resp.Status}
	if resp.StartedAt != "" {
		if ts, err := time.Parse(time.RFC3339, resp.StartedAt); err == nil {
			handle.StartedAt = ts
		}
	}
	return handle, nil
}
