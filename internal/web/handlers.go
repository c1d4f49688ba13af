package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/cjeanneret/ICLJog/internal/debug"
	"github.com/cjeanneret/ICLJog/internal/hw/modbus"
	"github.com/cjeanneret/ICLJog/internal/hw/stepper"
	"github.com/cjeanneret/ICLJog/internal/logic/motion"
	"github.com/cjeanneret/ICLJog/internal/logic/teleop"
)

const maxBodyBytes = 1 << 20

// Submitter applies intents on the control loop.
type Submitter interface {
	Submit(ctx context.Context, in teleop.Intent) (teleop.Outcome, error)
}

// RunSequenceFunc runs the named waypoint sequence.
// It is called from the POST /sequence handler in a goroutine.
type RunSequenceFunc func(ctx context.Context, name string) error

// MotorInfo describes one configured drive.
type MotorInfo struct {
	Name    string `json:"name"`
	SlaveID int    `json:"slave_id"`
}

// PanelConfig is what the control panel needs to render (from config).
type PanelConfig struct {
	Motors          []MotorInfo      `json:"motors"`
	Sequences       []string         `json:"sequences"`
	JogVelocity     int              `json:"jog_velocity"`
	JogVelocityStep int              `json:"jog_velocity_step"`
	Presets         map[string]int32 `json:"presets"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Loop        Submitter
	RunSequence RunSequenceFunc
	Panel       PanelConfig
	runningMu   sync.Mutex
	running     bool
	cancelSeq   context.CancelFunc
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If runSequence is nil, POST /sequence will return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, loop Submitter, runSequence RunSequenceFunc, panel PanelConfig, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Loop:        loop,
		RunSequence: runSequence,
		Panel:       panel,
		staticFS:    staticFS,
	}
}

type errorResponse struct {
	Error string          `json:"error"`
	State *teleop.Outcome `json:"state,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// statusCode maps control errors to HTTP codes.
func statusCode(err error) int {
	var te *modbus.TransportError
	switch {
	case errors.Is(err, modbus.ErrInvalidSlaveID):
		return http.StatusBadRequest
	case errors.Is(err, teleop.ErrEStop),
		errors.Is(err, motion.ErrNotEnabled),
		errors.Is(err, motion.ErrNoDevice):
		return http.StatusConflict
	case errors.Is(err, teleop.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.As(err, &te):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// submit runs in on the loop and writes the outcome.
func (h *Handlers) submit(w http.ResponseWriter, r *http.Request, in teleop.Intent) {
	if h.Loop == nil {
		http.Error(w, "control loop not configured", http.StatusServiceUnavailable)
		return
	}
	out, err := h.Loop.Submit(r.Context(), in)
	if err != nil {
		debug.Error(fmt.Errorf("web %s: %w", in, err))
		h.Broadcaster.Broadcast("error", fmt.Sprintf("%s: %v", in, err))
		resp := errorResponse{Error: err.Error()}
		if !errors.Is(err, teleop.ErrStopped) {
			resp.State = &out
		}
		writeJSON(w, statusCode(err), resp)
		return
	}
	if out.Message != "" {
		h.Broadcaster.BroadcastMsg(out.Message)
	}
	h.Broadcaster.BroadcastState(out)
	writeJSON(w, http.StatusOK, out)
}

// HandleConfig returns the panel configuration as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Panel)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleState handles GET /state: the loop snapshot without bus traffic.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, teleop.Snapshot())
}

// HandleStatus handles GET /status: reads the drive status word.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, teleop.ReadStatus())
}

type slaveRequest struct {
	SlaveID int `json:"slave_id"`
}

// HandleSelect handles POST /select {"slave_id": n}.
func (h *Handlers) HandleSelect(w http.ResponseWriter, r *http.Request) {
	var req slaveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.submit(w, r, teleop.Select(req.SlaveID))
}

// HandleInitialize handles POST /initialize {"slave_id": n}.
func (h *Handlers) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	var req slaveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.submit(w, r, teleop.Initialize(req.SlaveID))
}

type moveRequest struct {
	Position     *int32 `json:"position"`
	Velocity     int    `json:"velocity"`
	Acceleration int    `json:"acceleration"`
	Deceleration int    `json:"deceleration"`
}

// validateMove checks register ranges. Position is required.
func validateMove(m moveRequest) error {
	if m.Position == nil {
		return errors.New("position is required")
	}
	for name, v := range map[string]int{
		"velocity": m.Velocity, "acceleration": m.Acceleration, "deceleration": m.Deceleration,
	} {
		if v < 0 || v > 0xFFFF {
			return fmt.Errorf("%s must be between 0 and 65535", name)
		}
	}
	return nil
}

// HandleMove handles POST /move. Omitted velocity and ramps use the
// controller defaults.
func (h *Handlers) HandleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateMove(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.submit(w, r, teleop.Move(stepper.Profile{
		Position:     *req.Position,
		Velocity:     uint16(req.Velocity),
		Acceleration: uint16(req.Acceleration),
		Deceleration: uint16(req.Deceleration),
	}))
}

type jogRequest struct {
	Direction string `json:"direction"`
	Pulse     bool   `json:"pulse"` // one jog command instead of toggling
}

// HandleJog handles POST /jog {"direction": "cw"|"ccw", "pulse": false}.
func (h *Handlers) HandleJog(w http.ResponseWriter, r *http.Request) {
	var req jogRequest
	if !decodeBody(w, r, &req) {
		return
	}
	dir, err := stepper.ParseDirection(req.Direction)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Pulse {
		h.submit(w, r, teleop.Jog(dir))
		return
	}
	h.submit(w, r, teleop.ToggleJog(dir))
}

// HandleStop handles POST /stop. It also cancels a running sequence.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	if h.CancelSequence() {
		h.Broadcaster.BroadcastMsg("Sequence cancelled")
	}
	h.submit(w, r, teleop.Stop())
}

type velocityRequest struct {
	Velocity *int `json:"velocity"`
	Delta    int  `json:"delta"`
}

// HandleJogVelocity handles POST /jog/velocity with either an absolute
// "velocity" or a relative "delta".
func (h *Handlers) HandleJogVelocity(w http.ResponseWriter, r *http.Request) {
	var req velocityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Velocity != nil {
		if *req.Velocity < 0 || *req.Velocity > 0xFFFF {
			http.Error(w, "velocity must be between 0 and 65535", http.StatusBadRequest)
			return
		}
		h.submit(w, r, teleop.SetJogVelocity(*req.Velocity))
		return
	}
	if req.Delta == 0 {
		http.Error(w, "velocity or delta is required", http.StatusBadRequest)
		return
	}
	h.submit(w, r, teleop.StepJogVelocity(req.Delta))
}

// HandleJogAcceleration handles POST /jog/acceleration {"acceleration": n}.
func (h *Handlers) HandleJogAcceleration(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Acceleration int `json:"acceleration"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Acceleration < 0 || req.Acceleration > 0xFFFF {
		http.Error(w, "acceleration must be between 0 and 65535", http.StatusBadRequest)
		return
	}
	h.submit(w, r, teleop.SetJogAcceleration(req.Acceleration))
}

// HandleSequence handles POST /sequence {"name": "..."} to start a run.
func (h *Handlers) HandleSequence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	known := false
	for _, name := range h.Panel.Sequences {
		if name == req.Name {
			known = true
			break
		}
	}
	if !known {
		http.Error(w, fmt.Sprintf("unknown sequence %q", req.Name), http.StatusNotFound)
		return
	}

	if h.RunSequence == nil {
		http.Error(w, "sequences not configured", http.StatusServiceUnavailable)
		return
	}

	h.runningMu.Lock()
	if h.running {
		h.runningMu.Unlock()
		http.Error(w, "sequence already in progress", http.StatusConflict)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.running = true
	h.cancelSeq = cancel
	h.runningMu.Unlock()

	// Run in goroutine; clear running when done
	go func() {
		defer func() {
			h.runningMu.Lock()
			h.running = false
			h.cancelSeq = nil
			h.runningMu.Unlock()
			cancel()
		}()

		h.Broadcaster.BroadcastMsg("Sequence " + req.Name + " started")
		if err := h.RunSequence(ctx, req.Name); err != nil {
			h.Broadcaster.Broadcast("error", "Sequence failed: "+err.Error())
			debug.Error(fmt.Errorf("sequence %s: %w", req.Name, err))
		} else {
			h.Broadcaster.Broadcast("info", "Sequence complete")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// CancelSequence cancels the running sequence, if any, and reports
// whether there was one.
func (h *Handlers) CancelSequence() bool {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()
	if h.cancelSeq == nil {
		return false
	}
	h.cancelSeq()
	h.cancelSeq = nil
	return true
}

// Running reports whether a sequence is in progress.
func (h *Handlers) Running() bool {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()
	return h.running
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
