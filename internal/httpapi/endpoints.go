package httpapi

import (
	"net/http"

	"pkt.systems/gridd/api"
	"pkt.systems/gridd/internal/grid"
)

func (h *Handler) handleNewSession(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}
	var payload api.NewSessionRequest
	if err := h.decodeJSON(r, &payload); err != nil {
		return err
	}
	if len(payload.Capabilities) == 0 {
		return grid.NewFailure(grid.CodeMalformedRequest, "no capabilities found in session request")
	}

	alternatives := make([]grid.Capabilities, 0, len(payload.Capabilities))
	for _, caps := range payload.Capabilities {
		alternatives = append(alternatives, grid.Capabilities(caps))
	}
	req := grid.NewSessionRequest(h.clock.Now(), alternatives, payload.Metadata)

	result := h.dist.SubmitAndWait(r.Context(), req)
	if !result.OK() {
		return result.Err
	}

	session := result.Response.Session
	h.writeJSON(w, http.StatusCreated, api.NewSessionResponse{
		SessionID:    session.ID.String(),
		NodeID:       session.NodeID.String(),
		NodeURI:      session.URI,
		Capabilities: session.Capabilities,
		StartedAt:    session.Started.Unix(),
	}, nil)
	return nil
}

func (h *Handler) handleRegisterNode(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}
	var payload api.RegisterNodeRequest
	if err := h.decodeJSON(r, &payload); err != nil {
		return err
	}
	if payload.URI == "" {
		return grid.NewFailure(grid.CodeMalformedRequest, "node uri required")
	}
	if len(payload.Slots) == 0 {
		return grid.NewFailure(grid.CodeMalformedRequest, "node must advertise at least one slot")
	}

	id := grid.NodeID(payload.NodeID)
	if id == "" {
		id = grid.NewNodeID()
	}
	status := grid.NodeStatus{
		ID:           id,
		URI:          payload.URI,
		Availability: grid.Up,
		Slots:        make([]grid.Slot, 0, len(payload.Slots)),
	}
	for _, slot := range payload.Slots {
		status.Slots = append(status.Slots, grid.Slot{
			ID:         grid.SlotID{Node: id, Slot: slot.SlotID},
			Stereotype: grid.Capabilities(slot.Stereotype),
		})
	}

	if err := h.dist.Register(status); err != nil {
		return err
	}
	h.writeJSON(w, http.StatusCreated, api.RegisterNodeResponse{NodeID: id.String()}, nil)
	return nil
}

func (h *Handler) handleDrainNode(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}
	id := grid.NodeID(r.PathValue("id"))
	if id == "" {
		return grid.NewFailure(grid.CodeMalformedRequest, "node id required")
	}
	draining := h.dist.Drain(id)
	h.writeJSON(w, http.StatusOK, api.DrainNodeResponse{Draining: draining}, nil)
	return nil
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	h.writeJSON(w, http.StatusOK, h.statusResponse(), nil)
	return nil
}

func (h *Handler) statusResponse() api.StatusResponse {
	fleet := h.dist.GetStatus()
	resp := api.StatusResponse{
		Nodes:     make([]api.NodeStatus, 0, len(fleet)),
		QueueSize: h.dist.QueueSize(),
	}
	for _, node := range fleet {
		if node.Availability == grid.Up {
			resp.Ready = true
		}
		entry := api.NodeStatus{
			NodeID:       node.ID.String(),
			URI:          node.URI,
			Availability: string(node.Availability),
			Slots:        make([]api.SlotStatus, 0, len(node.Slots)),
		}
		if !node.Heartbeat.IsZero() {
			entry.LastHeartbeat = node.Heartbeat.Unix()
		}
		for _, slot := range node.Slots {
			slotEntry := api.SlotStatus{
				SlotID:     slot.ID.Slot,
				Stereotype: slot.Stereotype,
				Reserved:   slot.Reserved,
			}
			if slot.Session != nil {
				slotEntry.SessionID = slot.Session.ID.String()
			}
			entry.Slots = append(entry.Slots, slotEntry)
		}
		resp.Nodes = append(resp.Nodes, entry)
	}
	return resp
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) error {
	switch r.Method {
	case http.MethodGet:
		contents := h.dist.QueueContents()
		out := make([]api.QueuedRequest, 0, len(contents))
		for _, req := range contents {
			entry := api.QueuedRequest{
				RequestID:    req.ID.String(),
				Capabilities: make([]map[string]any, 0, len(req.Alternatives)),
				EnqueuedAt:   req.Enqueued.Unix(),
			}
			for _, caps := range req.Alternatives {
				entry.Capabilities = append(entry.Capabilities, caps)
			}
			out = append(out, entry)
		}
		h.writeJSON(w, http.StatusOK, out, nil)
		return nil
	case http.MethodDelete:
		cleared := h.dist.ClearQueue()
		h.writeJSON(w, http.StatusOK, api.ClearQueueResponse{Cleared: cleared}, nil)
		return nil
	default:
		return methodNotAllowed(w, "GET, DELETE")
	}
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, nil)
	return nil
}

// handleReadyz reports 503 until at least one node is UP, so orchestration
// gates traffic on an actually usable grid.
func (h *Handler) handleReadyz(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	status := h.statusResponse()
	if !status.Ready {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no nodes up"}, nil)
		return nil
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, nil)
	return nil
}
