// services/simulation_client.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// SimPlayer is a player card as the simulation engine expects it.
type SimPlayer struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position string `json:"position,omitempty"`
}

// SimTeam is one side of a simulation request.
type SimTeam struct {
	Name            string      `json:"name"`
	OwnerName       string      `json:"ownerName"`
	CosmeticSlots   [3]string   `json:"cosmeticSlots"`
	BenchPlayers    []SimPlayer `json:"benchPlayers"`
	StartingPlayers []SimPlayer `json:"startingPlayers"`
}

// SimulationRequest is the body POSTed to the engine.
type SimulationRequest struct {
	Teams [2]SimTeam `json:"teams"`
}

// SimulationResult is the decoded engine response. Trace is kept opaque.
type SimulationResult struct {
	Result struct {
		Score *[2]int `json:"score"`
	} `json:"result"`
	Trace json.RawMessage `json:"trace"`
}

// Score returns the final scoreline. Only valid on results returned by Simulate.
func (r *SimulationResult) Score() [2]int {
	return *r.Result.Score
}

// Simulator runs one match on the outcome engine.
type Simulator interface {
	Simulate(ctx context.Context, req SimulationRequest) (*SimulationResult, error)
}

// SimulationClient talks to the external match-outcome engine. It never retries.
type SimulationClient struct {
	BaseURL *url.URL
	Token   string
	Client  *http.Client
}

// NewSimulationClient validates the engine address up front; a missing or
// relative URL is a configuration error, not a per-call failure.
func NewSimulationClient(baseURL, token string) (*SimulationClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: empty engine URL", ErrSimulationConfig)
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSimulationConfig, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: engine URL %q must be absolute http(s)", ErrSimulationConfig, baseURL)
	}

	return &SimulationClient{
		BaseURL: u,
		Token:   token,
		Client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Simulate posts one match to /simulate and decodes the outcome.
func (c *SimulationClient) Simulate(ctx context.Context, simReq SimulationRequest) (*SimulationResult, error) {
	endpoint := c.BaseURL.JoinPath("simulate").String()

	body, err := json.Marshal(simReq)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrSimulationTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrSimulationTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("X-Service-Token", c.Token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSimulationTransport, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: engine returned %d: %s", ErrSimulationTransport, resp.StatusCode, string(msg))
	}

	var out SimulationResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrSimulationTransport, err)
	}
	if out.Result.Score == nil {
		return nil, fmt.Errorf("%w: response has no score", ErrSimulationTransport)
	}
	if len(out.Trace) == 0 {
		out.Trace = json.RawMessage("[]")
	}
	return &out, nil
}
