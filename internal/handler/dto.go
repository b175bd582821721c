package handler

import "vnml-server/shared/models"

// startSessionRequest - JSON-вариант тела POST /sessions. Также принимается сырая разметка (text/plain).
type startSessionRequest struct {
	Setup string `json:"setup" binding:"required"`
}

type startSessionResponse struct {
	SessionID string              `json:"session_id"`
	State     models.SessionState `json:"state"`
}

type submitActionRequest struct {
	Text   string              `json:"text" binding:"required"`
	Policy models.ActionPolicy `json:"policy,omitempty"`
}

type submitChoiceRequest struct {
	Index *int `json:"index" binding:"required,min=0"`
}

type submitFragmentRequest struct {
	Fragment string `json:"fragment" binding:"required"`
}

// turnResponse - зафиксированный ход вместе с репликами для рендерера.
type turnResponse struct {
	Turn     models.Turn                   `json:"turn"`
	Cues     []models.Cue                  `json:"cues"`
	Warnings []models.ContentPolicyWarning `json:"warnings,omitempty"`
}

type listSessionsResponse struct {
	Data   []models.SessionSummary `json:"data"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
}

type cuesResponse struct {
	Seq  int          `json:"seq"`
	Cues []models.Cue `json:"cues"`
}
