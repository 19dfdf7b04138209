package handlers

import (
	"log"
	"net/http"

	"github.com/coder/websocket"

	"github.com/drydock-sh/drydock/internal/catalog"
	"github.com/drydock-sh/drydock/internal/middleware"
	"github.com/drydock-sh/drydock/internal/monitor"
	"github.com/drydock-sh/drydock/internal/mux"
	"github.com/drydock-sh/drydock/internal/runtime"
	"github.com/drydock-sh/drydock/internal/session"
)

// Shared orchestration state, set from main.go during init.
var (
	Registry   *session.Registry
	Catalog    *catalog.Catalog
	Reconciler *session.Reconciler
	Monitor    *monitor.Monitor
	Adapter    runtime.Adapter
)

// TerminalWS upgrades the request to a WebSocket and hands the connection to
// the protocol multiplexer. The multiplexer owns the connection from here:
// it creates the session on request and tears it down when the socket dies.
func TerminalWS(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	if Registry == nil || Catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "Orchestrator not initialized")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("Failed to accept terminal websocket: %v", err)
		return
	}
	defer conn.CloseNow()

	m := mux.New(mux.NewWSConn(conn), Registry, Catalog, user.ID)
	m.Run(r.Context())
}
