package core

import (
	"net/http"
	"strconv"

	"leadflow/internal/scheduler"
	"leadflow/internal/types"
)

// runQueuedResponse is returned for ?async=true.
type runQueuedResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
}

// HandleRunCycle runs one reminder cycle and returns its CycleReport. The
// optional JSON body is a scheduler.CyclePayload. With ?async=true the
// request is enqueued instead and the handler answers 202.
func (s *Server) HandleRunCycle(w http.ResponseWriter, r *http.Request) {
	var payload scheduler.CyclePayload
	if err := DecodeOptionalJSON(w, r, &payload); err != nil {
		Error(w, r, err)
		return
	}
	if err := s.Validator.Validate(payload); err != nil {
		Error(w, r, err)
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		s.enqueueRun(w, r, payload)
		return
	}

	now := s.Now()
	if payload.ReferenceTime != nil {
		now = *payload.ReferenceTime
	}

	ctx := types.WithTriggerSource(r.Context(), types.TriggerHTTP)
	report, err := s.Runner.RunAt(ctx, now)
	if err != nil {
		s.Logger.ErrorContext(ctx, "manual reminder cycle failed",
			"requested_by", payload.RequestedBy,
			"error", err,
		)
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: report})
}

func (s *Server) enqueueRun(w http.ResponseWriter, r *http.Request, payload scheduler.CyclePayload) {
	if s.Trigger == nil || !s.Trigger.Enabled() {
		Error(w, r, types.NewAppError(types.ErrCodeServiceUnavailable, "asynchronous run requests are not configured", nil))
		return
	}
	msgID, err := s.Trigger.Enqueue(r.Context(), payload)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusAccepted, APIResponse{Data: runQueuedResponse{Status: "queued", MessageID: msgID}})
}
