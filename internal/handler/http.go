package handler

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"vnml-server/internal/render"
	"vnml-server/shared/interfaces"
	"vnml-server/shared/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ограничение на размер тела с разметкой.
const maxMarkupBytes = 1 << 20

// EngineHandler обрабатывает HTTP запросы к движку повествования.
type EngineHandler struct {
	service interfaces.EngineService
	logger  *zap.Logger
}

// NewEngineHandler создает новый EngineHandler.
func NewEngineHandler(s interfaces.EngineService, logger *zap.Logger) *EngineHandler {
	return &EngineHandler{
		service: s,
		logger:  logger.Named("EngineHandler"),
	}
}

// RegisterRoutes регистрирует маршруты сессий.
func (h *EngineHandler) RegisterRoutes(router gin.IRouter) {
	sessions := router.Group("/sessions")
	{
		sessions.POST("", h.startSession)
		sessions.GET("", h.listSessions)
		sessions.GET("/:id", h.getSnapshot)
		sessions.POST("/:id/resume", h.resumeSession)
		sessions.GET("/:id/cues", h.getCues)
		sessions.POST("/:id/actions", h.submitAction)
		sessions.POST("/:id/choices", h.submitChoice)
		sessions.POST("/:id/fragments", h.submitFragment)
		sessions.POST("/:id/advance", h.retryGeneration)
		sessions.DELETE("/:id", h.closeSession)
	}
}

// --- Обработчики --- //

func (h *EngineHandler) startSession(c *gin.Context) {
	setupText, err := readMarkup(c, func() (string, error) {
		var req startSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return "", err
		}
		return req.Setup, nil
	})
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}

	state, err := h.service.StartSession(c.Request.Context(), setupText)
	if err != nil {
		if state.SessionID != "" {
			// Сессия создана, но первый ход не сгенерирован: клиент может повторить через /advance.
			h.logger.Warn("Session created without first turn", zap.String("sessionID", state.SessionID), zap.Error(err))
			statusCode, errResp := mapServiceError(err)
			errResp.SessionID = state.SessionID
			c.AbortWithStatusJSON(statusCode, errResp)
			return
		}
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusCreated, startSessionResponse{SessionID: state.SessionID, State: state})
}

func (h *EngineHandler) listSessions(c *gin.Context) {
	limit, err := queryInt(c, "limit", 20)
	if err != nil || limit <= 0 {
		handleServiceError(c, fmt.Errorf("%w: invalid 'limit' parameter", models.ErrBadRequest), h.logger)
		return
	}
	if limit > 100 {
		limit = 100
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		handleServiceError(c, fmt.Errorf("%w: invalid 'offset' parameter", models.ErrBadRequest), h.logger)
		return
	}

	list, err := h.service.ListSessions(c.Request.Context(), limit, offset)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	if list == nil {
		list = []models.SessionSummary{}
	}
	c.JSON(http.StatusOK, listSessionsResponse{Data: list, Limit: limit, Offset: offset})
}

func (h *EngineHandler) getSnapshot(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	state, err := h.service.GetSnapshot(c.Request.Context(), id)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *EngineHandler) resumeSession(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	state, err := h.service.ResumeSession(c.Request.Context(), id)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *EngineHandler) getCues(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	seq, err := queryInt(c, "seq", -1)
	if err != nil {
		handleServiceError(c, fmt.Errorf("%w: invalid 'seq' parameter", models.ErrBadRequest), h.logger)
		return
	}
	cues, err := h.service.GetCues(c.Request.Context(), id, seq)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	if len(cues) > 0 {
		seq = cues[0].Seq
	}
	c.JSON(http.StatusOK, cuesResponse{Seq: seq, Cues: cues})
}

func (h *EngineHandler) submitAction(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	var req submitActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleServiceError(c, fmt.Errorf("%w: %v", models.ErrBadRequest, err), h.logger)
		return
	}
	if req.Policy != "" && !req.Policy.Valid() {
		handleServiceError(c, fmt.Errorf("%w: unknown policy %q", models.ErrBadRequest, req.Policy), h.logger)
		return
	}

	turn, err := h.service.SubmitAction(c.Request.Context(), id, req.Text, req.Policy)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, newTurnResponse(turn, nil))
}

func (h *EngineHandler) submitChoice(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	var req submitChoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleServiceError(c, fmt.Errorf("%w: %v", models.ErrBadRequest, err), h.logger)
		return
	}

	turn, err := h.service.SubmitChoice(c.Request.Context(), id, *req.Index)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, newTurnResponse(turn, nil))
}

func (h *EngineHandler) submitFragment(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	raw, err := readMarkup(c, func() (string, error) {
		var req submitFragmentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return "", err
		}
		return req.Fragment, nil
	})
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}

	turn, warnings, err := h.service.SubmitFragment(c.Request.Context(), id, raw)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusCreated, newTurnResponse(turn, warnings))
}

func (h *EngineHandler) retryGeneration(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	turn, err := h.service.RetryGeneration(c.Request.Context(), id)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, newTurnResponse(turn, nil))
}

func (h *EngineHandler) closeSession(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	if err := h.service.CloseSession(c.Request.Context(), id); err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Вспомогательные функции --- //

func (h *EngineHandler) sessionID(c *gin.Context) (uuid.UUID, bool) {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.logger.Warn("Invalid session ID format", zap.String("id", idStr), zap.Error(err))
		handleServiceError(c, fmt.Errorf("%w: invalid session id", models.ErrBadRequest), h.logger)
		return uuid.Nil, false
	}
	return id, true
}

// readMarkup читает разметку из тела: JSON через bindJSON, любой другой тип как сырой текст.
func readMarkup(c *gin.Context, bindJSON func() (string, error)) (string, error) {
	var text string
	if strings.HasPrefix(c.ContentType(), gin.MIMEJSON) {
		v, err := bindJSON()
		if err != nil {
			return "", fmt.Errorf("%w: %v", models.ErrBadRequest, err)
		}
		text = v
	} else {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxMarkupBytes+1))
		if err != nil {
			return "", fmt.Errorf("%w: failed to read body: %v", models.ErrBadRequest, err)
		}
		if len(body) > maxMarkupBytes {
			return "", fmt.Errorf("%w: body exceeds %d bytes", models.ErrBadRequest, maxMarkupBytes)
		}
		text = string(body)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty markup", models.ErrBadRequest)
	}
	return text, nil
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func newTurnResponse(turn models.Turn, warnings []models.ContentPolicyWarning) turnResponse {
	return turnResponse{Turn: turn, Cues: render.Cues(turn), Warnings: warnings}
}
