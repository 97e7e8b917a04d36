package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"codeintel.dev/codeerr"
)

// HandleStream is the GET /mcp/sse Echo handler: opens a session, writes
// standard event:/data: framing, and streams until the client disconnects.
func (m *Manager) HandleStream(c echo.Context) error {
	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sess := m.Open(c.Request().Context())
	defer m.Close(sess.ID)

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case <-ticker.C:
			if err := writeEvent(w, Event{Name: "ping"}); err != nil {
				return nil
			}
			w.Flush()
		case ev, ok := <-sess.out:
			if !ok {
				return nil
			}
			if err := writeEvent(w, ev); err != nil {
				return nil
			}
			w.Flush()
			if ev.Name == "bye" {
				return nil
			}
		}
	}
}

// HandleMessage is the POST /mcp/messages/{session} Echo handler: it
// dispatches the tool call asynchronously (the result arrives as a
// tool_result/tool_error event on the session stream) and returns 202
// immediately, per §6's wire contract.
func (m *Manager) HandleMessage(c echo.Context) error {
	sessionID := c.Param("session")
	if _, ok := m.session(sessionID); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}

	var raw json.RawMessage
	if err := c.Bind(&raw); err != nil {
		return codeerr.New(codeerr.ValidationFailed, "malformed request body")
	}

	go m.Dispatch(c.Request().Context(), sessionID, raw)
	return c.NoContent(http.StatusAccepted)
}

func writeEvent(w *echo.Response, ev Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", ev.Name); err != nil {
		return err
	}
	if ev.Data == nil {
		_, err := fmt.Fprint(w, "data: {}\n\n")
		return err
	}
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
