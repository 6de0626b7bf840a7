package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/askluigi/agentd/internal/domain/agent"
)

// streamEvents writes the run's events as server-sent `data:` records,
// flushing after each one, and closes the stream right after the
// terminal event. onEvent observes every forwarded event. If the
// producer ends without a terminal event, one is synthesized so the
// drawer never hangs on an open stream.
func streamEvents(w http.ResponseWriter, r *http.Request, events <-chan agent.Event, onEvent func(agent.Event)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	terminal := false
	defer func() {
		if p := recover(); p != nil {
			slog.Error("panic in run stream", "panic", p)
			terminal = false
		}
		if !terminal {
			writeSSE(w, agent.Error("run ended unexpectedly"))
			flusher.Flush()
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
			if onEvent != nil {
				onEvent(ev)
			}
			if ev.Terminal() {
				terminal = true
				return
			}
		case <-r.Context().Done():
			terminal = true // client is gone; nothing to synthesize to
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, ev agent.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
