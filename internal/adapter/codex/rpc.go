package codex

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
)

// maxLineSize bounds one JSON-RPC line from the app-server; file-change
// items can carry whole file diffs.
const maxLineSize = 8 << 20

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("rpc %d: %s", e.Code, e.Message) }

type rpcResult struct {
	result json.RawMessage
	err    error
}

type notification struct {
	Method string
	Params json.RawMessage
}

// rpcConn is a line-delimited JSON-RPC connection to a codex app-server
// subprocess over its stdio.
type rpcConn struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	writeMu sync.Mutex
	nextID  atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan rpcResult
	closed  bool

	notifs chan notification
	done   chan struct{}
}

// startRPC spawns the app-server and begins reading its stdout.
func startRPC(ctx context.Context, bin string, args []string, dir string) (*rpcConn, error) {
	cmd := exec.CommandContext(ctx, bin, args...) //nolint:gosec // G204: bin comes from config
	cmd.Dir = dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("codex: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("codex: stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("codex: start %s: %w", bin, err)
	}

	c := &rpcConn{
		cmd:     cmd,
		stdin:   stdin,
		pending: make(map[int64]chan rpcResult),
		notifs:  make(chan notification, 4096),
		done:    make(chan struct{}),
	}
	go c.read(stdout)
	return c, nil
}

// read pumps stdout lines into responses and notifications until EOF.
func (c *rpcConn) read(stdout io.Reader) {
	defer c.teardown()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var env struct {
			ID     *int64          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
			Result json.RawMessage `json:"result"`
			Error  *rpcError       `json:"error"`
		}
		if err := json.Unmarshal(line, &env); err != nil {
			slog.Debug("codex: unparseable line", "error", err)
			continue
		}

		switch {
		case env.Method != "" && env.ID != nil:
			// Server-initiated request (approvals). approvalPolicy is
			// "never", so these are unexpected; answer to unblock the turn.
			c.reply(*env.ID, map[string]string{"decision": "allow"})
		case env.Method != "":
			select {
			case c.notifs <- notification{Method: env.Method, Params: env.Params}:
			default:
				slog.Warn("codex: notification buffer full, dropping", "method", env.Method)
			}
		case env.ID != nil:
			c.mu.Lock()
			ch := c.pending[*env.ID]
			delete(c.pending, *env.ID)
			c.mu.Unlock()
			if ch == nil {
				continue
			}
			if env.Error != nil {
				ch <- rpcResult{err: env.Error}
			} else {
				ch <- rpcResult{result: env.Result}
			}
		}
	}
}

// teardown fails outstanding calls and signals notification consumers.
func (c *rpcConn) teardown() {
	c.mu.Lock()
	c.closed = true
	for id, ch := range c.pending {
		ch <- rpcResult{err: fmt.Errorf("codex: connection closed")}
		delete(c.pending, id)
	}
	c.mu.Unlock()
	close(c.done)
}

// Call performs one request/response round trip.
func (c *rpcConn) Call(ctx context.Context, method string, params, out any) error {
	id := c.nextID.Add(1)
	ch := make(chan rpcResult, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("codex: connection closed")
	}
	c.pending[id] = ch
	c.mu.Unlock()

	req := map[string]any{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		req["params"] = params
	}
	if err := c.write(req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return err
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return res.err
		}
		if out != nil && len(res.result) > 0 {
			return json.Unmarshal(res.result, out)
		}
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	}
}

func (c *rpcConn) reply(id int64, result any) {
	_ = c.write(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func (c *rpcConn) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("codex: marshal: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("codex: write: %w", err)
	}
	return nil
}

// Close terminates the subprocess and waits for the reader to finish.
func (c *rpcConn) Close() error {
	_ = c.stdin.Close()
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	err := c.cmd.Wait()
	<-c.done
	return err
}
