package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/tsbox/internal/apperror"
	"github.com/sakif/tsbox/internal/build"
	"github.com/sakif/tsbox/internal/handler"
	"github.com/sakif/tsbox/internal/model"
)

type MockPipeline struct {
	CapturedRun  model.TestRunRequest
	RunResult    *model.TestRunResult
	RunErr       error
	CapturedCode string
	CapturedOpts build.SyntaxOptions
	SyntaxResult *build.SyntaxResult
}

func (m *MockPipeline) RunTest(_ context.Context, req model.TestRunRequest) (*model.TestRunResult, error) {
	m.CapturedRun = req
	return m.RunResult, m.RunErr
}

func (m *MockPipeline) Validate(_ context.Context, code string, opts build.SyntaxOptions) (*build.SyntaxResult, error) {
	m.CapturedCode = code
	m.CapturedOpts = opts
	return m.SyntaxResult, nil
}

func TestPipelineHandler_HandleRunTest(t *testing.T) {
	logger := testLogger()

	t.Run("tests ran", func(t *testing.T) {
		mock := &MockPipeline{RunResult: &model.TestRunResult{Success: true, Message: "tests passed", Result: "PASS"}}
		h := handler.NewPipelineHandler(mock, 1<<20, logger)

		reqBody := `{"tsCode":"export const a = 1;","testCode":"it('a', () => {});","packages":["lodash@4.17.21"],"tsConfig":{"compilerOptions":{"strict":true}}}`
		rr := httptest.NewRecorder()
		h.HandleRunTest(rr, httptest.NewRequest(http.MethodPost, "/run-test", bytes.NewBufferString(reqBody)))

		assert.Equal(t, http.StatusOK, rr.Code)
		var res model.TestRunResult
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
		assert.True(t, res.Success)
		assert.Equal(t, "PASS", res.Result)

		assert.Equal(t, "export const a = 1;", mock.CapturedRun.TSCode)
		assert.Equal(t, []string{"lodash@4.17.21"}, mock.CapturedRun.Packages)
		assert.Equal(t, map[string]any{"strict": true}, mock.CapturedRun.TSConfig["compilerOptions"])
	})

	t.Run("pipeline stopped early is still 200", func(t *testing.T) {
		mock := &MockPipeline{RunResult: &model.TestRunResult{
			Message: "TypeScript compilation failed",
			Error:   "every build strategy failed",
			Stage:   model.StateBuilt,
		}}
		h := handler.NewPipelineHandler(mock, 1<<20, logger)

		rr := httptest.NewRecorder()
		h.HandleRunTest(rr, httptest.NewRequest(http.MethodPost, "/run-test", bytes.NewBufferString(`{"tsCode":"x","testCode":"y"}`)))

		assert.Equal(t, http.StatusOK, rr.Code)
		body := decodeMap(t, rr)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "built", body["stage"])
	})

	t.Run("missing code", func(t *testing.T) {
		mock := &MockPipeline{RunErr: apperror.ValidationFailed("tsCode", "tsCode is required")}
		h := handler.NewPipelineHandler(mock, 1<<20, logger)

		rr := httptest.NewRecorder()
		h.HandleRunTest(rr, httptest.NewRequest(http.MethodPost, "/run-test", bytes.NewBufferString(`{"testCode":"y"}`)))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		body := decodeMap(t, rr)
		assert.Equal(t, "validation_error", body["error"])
	})

	t.Run("workspace failure", func(t *testing.T) {
		mock := &MockPipeline{RunErr: apperror.Filesystem("create temp root", "/var/tsbox/temp", assert.AnError)}
		h := handler.NewPipelineHandler(mock, 1<<20, logger)

		rr := httptest.NewRecorder()
		h.HandleRunTest(rr, httptest.NewRequest(http.MethodPost, "/run-test", bytes.NewBufferString(`{"tsCode":"x","testCode":"y"}`)))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.NotContains(t, rr.Body.String(), "/var/tsbox")
	})

	t.Run("malformed body", func(t *testing.T) {
		h := handler.NewPipelineHandler(&MockPipeline{}, 1<<20, logger)

		rr := httptest.NewRecorder()
		h.HandleRunTest(rr, httptest.NewRequest(http.MethodPost, "/run-test", bytes.NewBufferString(`tsCode=x`)))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestPipelineHandler_HandleValidate(t *testing.T) {
	strict := false
	mock := &MockPipeline{SyntaxResult: &build.SyntaxResult{
		Valid:  false,
		Error:  "code.ts(1,7): error TS2322: Type 'string' is not assignable to type 'number'.",
		Config: map[string]any{"strict": false},
		Diagnostics: []build.Diagnostic{
			{File: "code.ts", Line: 1, Character: 7, Code: 2322, Message: "Type 'string' is not assignable to type 'number'."},
		},
	}}
	h := handler.NewPipelineHandler(mock, 1<<20, testLogger())

	rr := httptest.NewRecorder()
	h.HandleValidate(rr, httptest.NewRequest(http.MethodPost, "/validate",
		bytes.NewBufferString(`{"code":"const x: number = 'a';","options":{"target":"es2022","strict":false}}`)))

	assert.Equal(t, http.StatusOK, rr.Code)
	var res build.SyntaxResult
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	assert.False(t, res.Valid)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, 2322, res.Diagnostics[0].Code)

	assert.Equal(t, "const x: number = 'a';", mock.CapturedCode)
	assert.Equal(t, "es2022", mock.CapturedOpts.Target)
	require.NotNil(t, mock.CapturedOpts.Strict)
	assert.Equal(t, strict, *mock.CapturedOpts.Strict)
	assert.Nil(t, mock.CapturedOpts.NoImplicitAny)
}

func TestHandleHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	handler.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	body := decodeMap(t, rr)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}
