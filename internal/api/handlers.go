package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	gwebsocket "github.com/gorilla/websocket"

	"factory-control-core/internal/auth"
	"factory-control-core/internal/command"
	"factory-control-core/internal/events"
	"factory-control-core/internal/history"
	"factory-control-core/internal/machine"
	"factory-control-core/internal/state"
	"factory-control-core/internal/websocket"
)

var upgrader = gwebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// APIHandler exposes the control core over REST and websocket push.
type APIHandler struct {
	store      *state.Store
	dispatcher *command.Dispatcher
	history    history.Store
	hub        *websocket.Hub
	auth       *auth.Manager
	plantID    string
}

func NewAPIHandler(store *state.Store, dispatcher *command.Dispatcher, hist history.Store, hub *websocket.Hub, authMgr *auth.Manager, plantID string) *APIHandler {
	return &APIHandler{
		store:      store,
		dispatcher: dispatcher,
		history:    hist,
		hub:        hub,
		auth:       authMgr,
		plantID:    plantID,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

// HandleLogin exchanges credentials for a JWT carrying the user's role.
func (h *APIHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "username and password required"})
		return
	}

	user, err := h.auth.AuthenticateUser(req.Username, req.Password)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	token, err := h.auth.GenerateJWT(user.Username, user.Role, user.Name)
	if err != nil {
		log.Printf("Error generating token for %s: %v", user.Username, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user": map[string]string{
			"username": user.Username,
			"role":     user.Role,
			"name":     user.Name,
		},
	})
}

// HandleHealth is the public liveness probe.
func (h *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// HandleMachines lists the machine registry.
func (h *APIHandler) HandleMachines(w http.ResponseWriter, r *http.Request) {
	machines, err := h.history.ListMachines(r.Context())
	if err != nil {
		log.Printf("Error fetching machines: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to fetch machines"})
		return
	}
	if machines == nil {
		machines = []machine.Info{}
	}
	writeJSON(w, http.StatusOK, machines)
}

// HandleMachineState returns the tracked state of one machine.
func (h *APIHandler) HandleMachineState(w http.ResponseWriter, r *http.Request, machineID string) {
	writeJSON(w, http.StatusOK, h.store.Get(machineID))
}

// HandleMachineTelemetry returns recent readings for one machine.
func (h *APIHandler) HandleMachineTelemetry(w http.ResponseWriter, r *http.Request, machineID string) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	readings, err := h.history.RecentTelemetry(r.Context(), machineID, limit)
	if err != nil {
		log.Printf("Error fetching telemetry for %s: %v", machineID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to fetch telemetry"})
		return
	}
	writeJSON(w, http.StatusOK, readings)
}

// HandleMachineConditions returns recent evaluation records for one machine.
func (h *APIHandler) HandleMachineConditions(w http.ResponseWriter, r *http.Request, machineID string) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	conditions, err := h.history.RecentConditions(r.Context(), machineID, limit)
	if err != nil {
		log.Printf("Error fetching conditions for %s: %v", machineID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to fetch conditions"})
		return
	}
	writeJSON(w, http.StatusOK, conditions)
}

// HandleCommand dispatches a manual command for the machine. The role comes
// from the verified token, never the request body.
func (h *APIHandler) HandleCommand(w http.ResponseWriter, r *http.Request, machineID string) {
	username, role := auth.UserFromContext(r.Context())
	if role == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "user authentication missing or invalid"})
		return
	}

	var req struct {
		Cmd      string `json:"cmd"`
		IssuedBy string `json:"issuedBy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Cmd == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "cmd required"})
		return
	}
	issuer := req.IssuedBy
	if issuer == "" {
		issuer = username
	}

	result, err := h.dispatcher.Dispatch(r.Context(), command.Request{
		MachineID: machineID,
		PlantID:   h.plantID,
		Command:   machine.Command(req.Cmd),
		Issuer:    issuer,
		Role:      role,
	})
	if err != nil {
		if command.IsValidation(err) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		log.Printf("Command error for %s: %v", machineID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "command dispatch failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"reqId":    result.ReqID,
		"newState": result.NewState,
		"message":  result.Message,
	})
}

// HandleWebSocket upgrades the connection, registers the client with the
// hub, and pushes the current machine-state snapshot.
func (h *APIHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &websocket.Client{Hub: h.hub, Conn: conn, Send: make(chan []byte, 256)}
	client.Hub.RegisterClient(client)

	go client.WritePump()
	go client.ReadPump()

	go h.sendInitialStates(client)
}

// sendInitialStates delivers the machine-state snapshot to a new client.
func (h *APIHandler) sendInitialStates(client *websocket.Client) {
	snapshot := h.store.Snapshot()
	messageBytes, err := json.Marshal(map[string]any{
		"type":    events.TypeInitialStates,
		"payload": snapshot,
	})
	if err != nil {
		log.Printf("Error marshalling initial states: %v", err)
		return
	}

	select {
	case client.Send <- messageBytes:
	case <-time.After(5 * time.Second):
		log.Printf("Timeout sending initial states to client %s", client.Conn.RemoteAddr())
	}
}
