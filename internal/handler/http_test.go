package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"vnml-server/internal/handler"
	"vnml-server/shared/interfaces/mocks"
	"vnml-server/shared/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRouter(t *testing.T) (*gin.Engine, *mocks.EngineService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := mocks.NewEngineService(t)
	r := gin.New()
	handler.NewEngineHandler(svc, zap.NewNop()).RegisterRoutes(r)
	return r, svc
}

func do(r *gin.Engine, method, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func sampleTurn() models.Turn {
	return models.Turn{
		Seq:   0,
		Scene: models.Scene{Background: []string{"ruins"}, Music: []string{"drums"}},
		Scenes: []models.Scene{
			{Background: []string{"ruins"}, Music: []string{"drums"}},
		},
		Dialogue: []models.DialogueEvent{
			{Type: models.EventLine, Speaker: "Tharok", Kind: models.CharacterKindNPC, Text: "Halt.", SceneIndex: 0},
		},
		Options: models.OptionsBlock{Title: "Now?", Options: []models.Option{{Index: 0, Text: "Search the ruins"}}},
	}
}

func TestStartSession_RawMarkup(t *testing.T) {
	r, svc := newRouter(t)
	id := uuid.NewString()
	svc.On("StartSession", mock.Anything, "<story/>").
		Return(models.SessionState{SessionID: id, Status: models.StatusAwaitingAction}, nil).Once()

	rec := do(r, http.MethodPost, "/sessions", "text/plain", "<story/>")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"session_id":"`+id+`"`)
}

func TestStartSession_JSONBody(t *testing.T) {
	r, svc := newRouter(t)
	svc.On("StartSession", mock.Anything, "<story/>").
		Return(models.SessionState{SessionID: uuid.NewString()}, nil).Once()

	rec := do(r, http.MethodPost, "/sessions", "application/json", `{"setup":"<story/>"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestStartSession_EmptyBody(t *testing.T) {
	r, _ := newRouter(t)
	rec := do(r, http.MethodPost, "/sessions", "text/plain", "   ")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, models.ErrCodeBadRequest, decodeError(t, rec).Code)
}

func TestStartSession_SetupErrorIs422(t *testing.T) {
	r, svc := newRouter(t)
	svc.On("StartSession", mock.Anything, mock.Anything).
		Return(models.SessionState{}, &models.SetupError{Element: "player", Detail: "missing <player>"}).Once()

	rec := do(r, http.MethodPost, "/sessions", "text/plain", "<story/>")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, models.ErrCodeSetup, resp.Code)
	assert.Empty(t, resp.SessionID)
}

func TestStartSession_EngineErrorCarriesSessionID(t *testing.T) {
	r, svc := newRouter(t)
	id := uuid.NewString()
	cause := &models.SchemaError{Kind: models.SchemaMissingRequired, Element: "fragment"}
	svc.On("StartSession", mock.Anything, mock.Anything).
		Return(models.SessionState{SessionID: id}, &models.EngineError{Retries: 2, Cause: cause}).Once()

	rec := do(r, http.MethodPost, "/sessions", "text/plain", "<story/>")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, models.ErrCodeEngine, resp.Code)
	assert.Equal(t, id, resp.SessionID)
	assert.Equal(t, string(models.SchemaMissingRequired), resp.Kind)
	require.NotNil(t, resp.Retries)
	assert.Equal(t, 2, *resp.Retries)
}

func TestGetSnapshot(t *testing.T) {
	r, svc := newRouter(t)
	id := uuid.New()
	svc.On("GetSnapshot", mock.Anything, id).
		Return(models.SessionState{SessionID: id.String(), Status: models.StatusAwaitingAction}, nil).Once()

	rec := do(r, http.MethodGet, "/sessions/"+id.String(), "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var state models.SessionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, models.StatusAwaitingAction, state.Status)
}

func TestGetSnapshot_BadIDAndNotFound(t *testing.T) {
	r, svc := newRouter(t)
	rec := do(r, http.MethodGet, "/sessions/not-a-uuid", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	id := uuid.New()
	svc.On("GetSnapshot", mock.Anything, id).Return(models.SessionState{}, models.ErrNotFound).Once()
	rec = do(r, http.MethodGet, "/sessions/"+id.String(), "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSessions(t *testing.T) {
	r, svc := newRouter(t)
	svc.On("ListSessions", mock.Anything, 100, 5).
		Return([]models.SessionSummary{{ID: "a", Title: "Ruins"}}, nil).Once()

	rec := do(r, http.MethodGet, "/sessions?limit=500&offset=5", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"title":"Ruins"`)

	rec = do(r, http.MethodGet, "/sessions?limit=abc", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitAction_ReturnsTurnWithCues(t *testing.T) {
	r, svc := newRouter(t)
	id := uuid.New()
	svc.On("SubmitAction", mock.Anything, id, "Search the ruins", models.ActionPolicyFreeForm).
		Return(sampleTurn(), nil).Once()

	rec := do(r, http.MethodPost, "/sessions/"+id.String()+"/actions", "application/json",
		`{"text":"Search the ruins","policy":"free-form"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Turn models.Turn  `json:"turn"`
		Cues []models.Cue `json:"cues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Cues, 2)
	assert.Equal(t, models.CueDisplay, resp.Cues[0].Type)
	assert.Equal(t, models.CueSpeak, resp.Cues[1].Type)
}

func TestSubmitAction_Validation(t *testing.T) {
	r, _ := newRouter(t)
	id := uuid.NewString()

	rec := do(r, http.MethodPost, "/sessions/"+id+"/actions", "application/json", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodPost, "/sessions/"+id+"/actions", "application/json", `{"text":"x","policy":"fuzzy"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitAction_UnknownActionAndBusy(t *testing.T) {
	r, svc := newRouter(t)
	id := uuid.New()
	svc.On("SubmitAction", mock.Anything, id, "Dance", models.ActionPolicy("")).
		Return(models.Turn{}, &models.UnknownActionError{Action: "Dance", Pending: []string{"Leave"}}).Once()
	svc.On("SubmitAction", mock.Anything, id, "Leave", models.ActionPolicy("")).
		Return(models.Turn{}, models.ErrSessionBusy).Once()

	rec := do(r, http.MethodPost, "/sessions/"+id.String()+"/actions", "application/json", `{"text":"Dance"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, models.ErrCodeUnknownAction, decodeError(t, rec).Code)

	rec = do(r, http.MethodPost, "/sessions/"+id.String()+"/actions", "application/json", `{"text":"Leave"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSubmitChoice_ZeroIndexIsValid(t *testing.T) {
	r, svc := newRouter(t)
	id := uuid.New()
	svc.On("SubmitChoice", mock.Anything, id, 0).Return(sampleTurn(), nil).Once()

	rec := do(r, http.MethodPost, "/sessions/"+id.String()+"/choices", "application/json", `{"index":0}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(r, http.MethodPost, "/sessions/"+id.String()+"/choices", "application/json", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitFragment(t *testing.T) {
	r, svc := newRouter(t)
	id := uuid.New()
	warnings := []models.ContentPolicyWarning{{Rule: "min-dialogue", Min: 3, Actual: 1}}
	svc.On("SubmitFragment", mock.Anything, id, "<scene/>").Return(sampleTurn(), warnings, nil).Once()
	svc.On("SubmitFragment", mock.Anything, id, "<bad/>").
		Return(models.Turn{}, nil, &models.ContinuityError{Kind: models.ContinuityUnknownSpeaker, Character: "Ghost"}).Once()

	rec := do(r, http.MethodPost, "/sessions/"+id.String()+"/fragments", "text/plain", "<scene/>")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"rule":"min-dialogue"`)

	rec = do(r, http.MethodPost, "/sessions/"+id.String()+"/fragments", "application/json", `{"fragment":"<bad/>"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, models.ErrCodeContinuity, resp.Code)
	assert.Equal(t, string(models.ContinuityUnknownSpeaker), resp.Kind)
}

func TestAdvance_TimeoutIs504(t *testing.T) {
	r, svc := newRouter(t)
	id := uuid.New()
	svc.On("RetryGeneration", mock.Anything, id).
		Return(models.Turn{}, &models.EngineError{Retries: 1, Cause: &models.GeneratorTimeoutError{Attempt: 2}}).Once()

	rec := do(r, http.MethodPost, "/sessions/"+id.String()+"/advance", "", "")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, models.ErrCodeTimeout, decodeError(t, rec).Code)
}

func TestGetCues(t *testing.T) {
	r, svc := newRouter(t)
	id := uuid.New()
	svc.On("GetCues", mock.Anything, id, -1).
		Return([]models.Cue{{Type: models.CueNarrate, Seq: 4, Text: "Wind."}}, nil).Once()
	svc.On("GetCues", mock.Anything, id, 9).Return(nil, models.ErrNotFound).Once()

	rec := do(r, http.MethodGet, "/sessions/"+id.String()+"/cues", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"seq":4`)

	rec = do(r, http.MethodGet, "/sessions/"+id.String()+"/cues?seq=9", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResumeAndClose(t *testing.T) {
	r, svc := newRouter(t)
	id := uuid.New()
	svc.On("ResumeSession", mock.Anything, id).Return(models.SessionState{SessionID: id.String()}, nil).Once()
	svc.On("CloseSession", mock.Anything, id).Return(nil).Once()

	rec := do(r, http.MethodPost, "/sessions/"+id.String()+"/resume", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(r, http.MethodDelete, "/sessions/"+id.String(), "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
