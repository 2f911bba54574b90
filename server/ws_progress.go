package server

import (
	"net/http"
	"time"

	"m3u8conv/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

// BatchProgressWSHandler streams BatchStatus messages for a batch held by
// this process: one immediately, one per finished job, and a final one with
// Done set, after which the server closes the connection.
func (h *APIHandler) BatchProgressWSHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	tk, ok := h.deps.Queue.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}
	defer conn.Close()

	updates, cancel := tk.Subscribe()
	defer cancel()

	// Clients never send data; reading still processes close and ping
	// frames, and the first read error means the client is gone.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	send := func(st BatchStatus) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(st); err != nil {
			logger.Warn("websocket write", logger.String("batchId", id), logger.ErrorField(err))
			return false
		}
		return true
	}

	first := ticketStatus(tk)
	if !send(first) {
		return
	}
	if !first.Done {
		for range updates {
			if !send(ticketStatus(tk)) {
				return
			}
		}
		// updates closes when the batch finishes
		final := ticketStatus(tk)
		if !final.Done || !send(final) {
			return
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "batch finished"),
		time.Now().Add(wsWriteTimeout))
}
