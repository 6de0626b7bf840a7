// Package codex implements the agent backend port against the Codex
// app-server: a subprocess speaking line-delimited JSON-RPC over stdio.
package codex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/askluigi/agentd/internal/port/agent"
)

// Client starts Codex threads by spawning one app-server per thread.
type Client struct {
	bin string
}

// New creates a Client that launches the given codex binary.
func New(bin string) *Client {
	return &Client{bin: bin}
}

// StartThread spawns an app-server bound to the working directory and
// opens a thread on it.
func (c *Client) StartThread(ctx context.Context, opts agent.Options) (agent.Thread, error) {
	conn, err := startRPC(ctx, c.bin, []string{"app-server", "--listen", "stdio://"}, opts.WorkingDirectory)
	if err != nil {
		return nil, err
	}

	if err := conn.Call(ctx, "initialize", map[string]any{
		"clientInfo": map[string]string{"name": "agentd", "version": "0.1.0"},
	}, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("codex: initialize: %w", err)
	}

	sandbox := opts.SandboxMode
	if sandbox == "" {
		sandbox = "workspaceWrite"
	}
	params := map[string]any{
		"cwd":            opts.WorkingDirectory,
		"sandbox":        sandbox,
		"approvalPolicy": "never",
	}
	if opts.Model != "" {
		params["model"] = opts.Model
	}
	if opts.SkipGitRepoCheck {
		params["skipGitRepoCheck"] = true
	}

	var resp struct {
		Thread struct {
			ID string `json:"id"`
		} `json:"thread"`
	}
	if err := conn.Call(ctx, "thread/start", params, &resp); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("codex: thread/start: %w", err)
	}
	if strings.TrimSpace(resp.Thread.ID) == "" {
		_ = conn.Close()
		return nil, fmt.Errorf("codex: empty thread id")
	}

	return &Thread{conn: conn, id: resp.Thread.ID, cwd: opts.WorkingDirectory}, nil
}

// Thread is one Codex conversation backed by a dedicated app-server process.
type Thread struct {
	conn   *rpcConn
	id     string
	cwd    string
	turnID string
}

// ID returns the backend thread identifier.
func (t *Thread) ID() string { return t.id }

// Run submits one prompt as a streamed turn and pumps the app-server's
// notifications into raw events until the turn completes.
func (t *Thread) Run(ctx context.Context, prompt string) (<-chan agent.RawEvent, error) {
	var resp struct {
		Turn struct {
			ID string `json:"id"`
		} `json:"turn"`
	}
	err := t.conn.Call(ctx, "turn/start", map[string]any{
		"threadId": t.id,
		"input":    []map[string]any{{"type": "text", "text": prompt}},
		"cwd":      t.cwd,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("codex: turn/start: %w", err)
	}
	t.turnID = resp.Turn.ID

	out := make(chan agent.RawEvent, 64)
	go t.pump(ctx, resp.Turn.ID, out)
	return out, nil
}

// pump translates app-server notifications for one turn into raw events.
func (t *Thread) pump(ctx context.Context, turnID string, out chan<- agent.RawEvent) {
	defer close(out)

	for {
		select {
		case n, ok := <-t.conn.notifs:
			if !ok {
				return
			}
			if !t.forTurn(n.Params, turnID) {
				continue
			}
			switch n.Method {
			case "item/reasoning/summaryTextDelta":
				var p struct {
					Delta string `json:"delta"`
				}
				_ = json.Unmarshal(n.Params, &p)
				if p.Delta != "" {
					out <- agent.RawEvent{Kind: "reasoning", Text: p.Delta}
				}

			case "item/completed":
				var p struct {
					Item json.RawMessage `json:"item"`
				}
				_ = json.Unmarshal(n.Params, &p)
				if item := parseItem(p.Item); item != nil {
					out <- agent.RawEvent{Kind: "item.completed", Item: item}
				}

			case "error":
				var p struct {
					Message string `json:"message"`
				}
				_ = json.Unmarshal(n.Params, &p)
				out <- agent.RawEvent{Kind: "error", Err: p.Message}

			case "turn/completed":
				var p struct {
					Turn struct {
						Status string `json:"status"`
						Error  *struct {
							Message string `json:"message"`
						} `json:"error"`
					} `json:"turn"`
				}
				_ = json.Unmarshal(n.Params, &p)
				if p.Turn.Error != nil && p.Turn.Error.Message != "" {
					out <- agent.RawEvent{Kind: "error", Err: p.Turn.Error.Message}
				}
				return

			default:
				// Deltas, token usage, item/started: not part of the
				// contract upstream; drop here.
			}

		case <-t.conn.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// forTurn filters notifications to the active thread and turn. Params
// lacking ids (e.g. global errors) pass through.
func (t *Thread) forTurn(params json.RawMessage, turnID string) bool {
	var p struct {
		ThreadID string `json:"threadId"`
		TurnID   string `json:"turnId"`
	}
	_ = json.Unmarshal(params, &p)
	if p.ThreadID != "" && p.ThreadID != t.id {
		return false
	}
	if p.TurnID != "" && p.TurnID != turnID {
		return false
	}
	return true
}

// parseItem maps a completed vendor item to the port shape. Unknown
// item types are forwarded with just their type; the translator upstream
// ignores them.
func parseItem(raw json.RawMessage) *agent.Item {
	if len(raw) == 0 {
		return nil
	}
	var v struct {
		Type    string `json:"type"`
		Text    string `json:"text"`
		Changes []struct {
			Path string `json:"path"`
			Kind string `json:"kind"`
		} `json:"changes"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		slog.Debug("codex: unparseable item", "error", err)
		return nil
	}

	item := &agent.Item{Type: v.Type, Text: v.Text}
	for _, ch := range v.Changes {
		item.Changes = append(item.Changes, agent.Change{Path: ch.Path, Kind: ch.Kind})
	}
	return item
}

// Interrupt aborts the in-flight turn.
func (t *Thread) Interrupt(ctx context.Context) error {
	if t.turnID == "" {
		return nil
	}
	return t.conn.Call(ctx, "turn/interrupt", map[string]any{
		"threadId": t.id,
		"turnId":   t.turnID,
	}, nil)
}

// Close shuts down the app-server process.
func (t *Thread) Close() error {
	return t.conn.Close()
}
