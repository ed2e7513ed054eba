package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"presencedb/pkg/commands"
	"presencedb/pkg/ledger"
	"presencedb/pkg/logger"
	"presencedb/pkg/models"
	"presencedb/pkg/presence"
	"presencedb/pkg/reconcile"
	"presencedb/pkg/roster"
	"presencedb/pkg/store"
	"presencedb/pkg/utils"
	"presencedb/pkg/validation"
)

// Server exposes the engine over HTTP. One instance per process.
type Server struct {
	eng *presence.Engine
}

// NewServer wraps an engine for HTTP serving.
func NewServer(eng *presence.Engine) *Server {
	return &Server{eng: eng}
}

// Register mounts all /v1 endpoints on the given router.
func (s *Server) Register(r *mux.Router) {
	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/conversations/{id}/messages", s.finalizeMessage).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/messages", s.listMessages).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}/messages", s.pruneMessages).Methods(http.MethodDelete)

	v1.HandleFunc("/conversations/{id}/turn", s.startTurn).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/turn/abort", s.abortTurn).Methods(http.MethodPost)

	v1.HandleFunc("/conversations/{id}/commands/{name}", s.runCommand).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/presence", s.togglePresence).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/ignore", s.toggleIgnore).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/group", s.bindGroup).Methods(http.MethodPost)

	v1.HandleFunc("/groups/{id}", s.putGroup).Methods(http.MethodPut)
	v1.HandleFunc("/groups/{id}", s.getGroup).Methods(http.MethodGet)

	v1.HandleFunc("/settings", s.getSettings).Methods(http.MethodGet)
	v1.HandleFunc("/settings", s.putSettings).Methods(http.MethodPut)
}

// statusFor maps domain errors onto HTTP codes. Anything unrecognized is
// a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInvalidRange),
		errors.Is(err, roster.ErrUnknown),
		errors.Is(err, roster.ErrAmbiguous),
		errors.Is(err, reconcile.ErrUnknownActor):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) finalizeMessage(w http.ResponseWriter, r *http.Request) {
	convID := mux.Vars(r)["id"]
	var msg models.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validation.ValidateMessage(msg); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.eng.FinalizeMessage(r.Context(), convID, msg)
	if err != nil {
		utils.JSONError(w, statusFor(err), err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, out)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	convID := mux.Vars(r)["id"]
	if r.URL.Query().Get("view") == "tracker" {
		entries, err := s.eng.Tracker(r.Context(), convID)
		if err != nil {
			utils.JSONError(w, statusFor(err), err.Error())
			return
		}
		_ = utils.JSONWrite(w, http.StatusOK, struct {
			Conversation string                  `json:"conversation"`
			Tracker      []presence.TrackerEntry `json:"tracker"`
		}{Conversation: convID, Tracker: entries})
		return
	}
	msgs, err := s.eng.Messages(r.Context(), convID)
	if err != nil {
		utils.JSONError(w, statusFor(err), err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Conversation string           `json:"conversation"`
		Messages     []models.Message `json:"messages"`
	}{Conversation: convID, Messages: msgs})
}

func (s *Server) pruneMessages(w http.ResponseWriter, r *http.Request) {
	convID := mux.Vars(r)["id"]
	start, err1 := strconv.Atoi(r.URL.Query().Get("start"))
	end, err2 := strconv.Atoi(r.URL.Query().Get("end"))
	if err1 != nil || err2 != nil {
		utils.JSONError(w, http.StatusBadRequest, "start and end are required integers")
		return
	}
	removed, err := s.eng.Prune(r.Context(), convID, start, end)
	if err != nil {
		utils.JSONError(w, statusFor(err), err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) startTurn(w http.ResponseWriter, r *http.Request) {
	convID := mux.Vars(r)["id"]
	var body struct {
		Participant string `json:"participant"`
		Action      string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if body.Participant == "" {
		utils.JSONError(w, http.StatusBadRequest, "participant is required")
		return
	}
	res, err := s.eng.StartTurn(r.Context(), convID, body.Participant, body.Action)
	if err != nil {
		utils.JSONError(w, statusFor(err), err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, res)
}

func (s *Server) abortTurn(w http.ResponseWriter, r *http.Request) {
	convID := mux.Vars(r)["id"]
	res, err := s.eng.AbortTurn(r.Context(), convID)
	if err != nil {
		utils.JSONError(w, statusFor(err), err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, res)
}

func (s *Server) runCommand(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	convID := vars["id"]
	var req commands.Request
	if r.Body != nil {
		// an empty body is a valid zero-argument invocation
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	req.Name = vars["name"]
	res, err := s.eng.RunCommand(r.Context(), convID, req)
	if err != nil {
		utils.JSONError(w, statusFor(err), err.Error())
		return
	}
	// warnings are advisory, never an HTTP failure
	_ = utils.JSONWrite(w, http.StatusOK, res)
}

func (s *Server) togglePresence(w http.ResponseWriter, r *http.Request) {
	convID := mux.Vars(r)["id"]
	var body struct {
		Index       int                  `json:"index"`
		Participant models.ParticipantID `json:"participant"`
		Present     bool                 `json:"present"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if body.Participant == "" {
		utils.JSONError(w, http.StatusBadRequest, "participant is required")
		return
	}
	if err := s.eng.TogglePresence(r.Context(), convID, body.Index, body.Participant, body.Present); err != nil {
		utils.JSONError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) toggleIgnore(w http.ResponseWriter, r *http.Request) {
	convID := mux.Vars(r)["id"]
	var body struct {
		Participant models.ParticipantID `json:"participant"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if body.Participant == "" {
		utils.JSONError(w, http.StatusBadRequest, "participant is required")
		return
	}
	ignored, err := s.eng.ToggleIgnore(r.Context(), convID, body.Participant)
	if err != nil {
		utils.JSONError(w, statusFor(err), err.Error())
		return
	}
	logger.Info("ignore_toggled", "conversation", convID, "participant", body.Participant, "ignored", ignored)
	_ = utils.JSONWrite(w, http.StatusOK, map[string]bool{"ignored": ignored})
}

func (s *Server) bindGroup(w http.ResponseWriter, r *http.Request) {
	convID := mux.Vars(r)["id"]
	var body struct {
		GroupID string `json:"group_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if body.GroupID == "" {
		utils.JSONError(w, http.StatusBadRequest, "group_id is required")
		return
	}
	if err := s.eng.BindGroup(r.Context(), convID, body.GroupID); err != nil {
		utils.JSONError(w, statusFor(err), err.Error())
		return
	}
	logger.Info("group_bound", "conversation", convID, "group", body.GroupID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) putGroup(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["id"]
	var g models.Group
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	g.ID = groupID
	if len(g.Members) == 0 {
		utils.JSONError(w, http.StatusBadRequest, "group needs at least one member")
		return
	}
	for _, m := range g.Members {
		if m.ID == "" {
			utils.JSONError(w, http.StatusBadRequest, "member id is required")
			return
		}
	}
	if err := store.SaveGroup(g); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.Info("group_saved", "group", g.ID, "members", len(g.Members))
	_ = utils.JSONWrite(w, http.StatusOK, g)
}

func (s *Server) getGroup(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["id"]
	g, err := store.GetGroup(groupID)
	if err != nil {
		utils.JSONError(w, statusFor(err), err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, g)
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	set, err := s.eng.Settings(r.Context())
	if err != nil {
		utils.JSONError(w, statusFor(err), err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, set)
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var set models.Settings
	if err := json.NewDecoder(r.Body).Decode(&set); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.eng.UpdateSettings(r.Context(), set); err != nil {
		utils.JSONError(w, statusFor(err), err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, set)
}
