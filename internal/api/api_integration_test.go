package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/pardalotus/metabeak/internal/config"
	"github.com/pardalotus/metabeak/internal/model"
	"github.com/pardalotus/metabeak/internal/storage"
)

// newTestAPI builds a Server against a migrated test database and exposes
// its full middleware-wrapped handler over httptest.
func newTestAPI(ctx context.Context, t *testing.T) (*httptest.Server, *config.TestDatabase) {
	t.Helper()

	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	cfg := LoadServerConfig()
	server := NewServer(&cfg,
		testDB.Connection,
		storage.NewHandlerStore(testDB.Connection),
		storage.NewExecutionResultStore(testDB.Connection),
		nil, nil)

	ts := httptest.NewServer(server.httpServer.Handler)
	t.Cleanup(ts.Close)

	return ts, testDB
}

func uploadFunction(t *testing.T, baseURL, code string) *http.Response {
	t.Helper()

	var buf bytes.Buffer

	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("data", "handler.js")
	require.NoError(t, err)

	_, err = fw.Write([]byte(code))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, baseURL+"/functions", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	return resp
}

func TestAPI_Heartbeat(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	ts, _ := newTestAPI(ctx, t)

	resp, err := http.Get(ts.URL + "/heartbeat")
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Heartbeat bool   `json:"heartbeat"`
		Platform  string `json:"platform"`
		Version   string `json:"version"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.True(t, body.Heartbeat)
	require.Equal(t, Platform, body.Platform)
	require.Equal(t, Version, body.Version)
}

func TestAPI_UploadFunctionDedupAndFetch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	ts, _ := newTestAPI(ctx, t)

	code := `function f(e){return [e]}`

	resp := uploadFunction(t, ts.URL, code)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		Status string `json:"status"`
		Data   struct {
			ID int64 `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.Equal(t, "ok", created.Status)
	require.NotZero(t, created.Data.ID)

	// Re-uploading identical source collapses to the existing handler.
	again := uploadFunction(t, ts.URL, code)
	defer func() { _ = again.Body.Close() }()
	require.Equal(t, http.StatusOK, again.StatusCode)

	var dedup struct {
		Data struct {
			ID int64 `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(again.Body).Decode(&dedup))
	require.Equal(t, created.Data.ID, dedup.Data.ID)

	// The listing includes it.
	listResp, err := http.Get(ts.URL + "/functions")
	require.NoError(t, err)

	defer func() { _ = listResp.Body.Close() }()

	var listing struct {
		Status string `json:"status"`
		Data   []struct {
			ID     int64  `json:"id"`
			Code   string `json:"code"`
			Status string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&listing))
	require.Equal(t, "ok", listing.Status)
	require.Len(t, listing.Data, 1)
	require.Equal(t, code, listing.Data[0].Code)
	require.Equal(t, "enabled", listing.Data[0].Status)

	// Raw source round-trips through /code.js.
	codeResp, err := http.Get(fmt.Sprintf("%s/functions/%d/code.js", ts.URL, created.Data.ID))
	require.NoError(t, err)

	defer func() { _ = codeResp.Body.Close() }()

	require.Equal(t, http.StatusOK, codeResp.StatusCode)
	require.Equal(t, "text/javascript", codeResp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(codeResp.Body)
	require.NoError(t, err)
	require.Equal(t, code, string(raw))
}

func TestAPI_GetFunctionNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	ts, _ := newTestAPI(ctx, t)

	resp, err := http.Get(ts.URL + "/functions/999999")
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var envelope Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.Equal(t, "error", envelope.Status)
	require.NotEmpty(t, envelope.Message)
}

func TestAPI_UploadRejectsMissingField(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	ts, _ := newTestAPI(ctx, t)

	var buf bytes.Buffer

	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("wrong-field", "handler.js")
	require.NoError(t, err)

	_, err = fw.Write([]byte(`function f(){}`))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/functions", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_ResultsAndDebugPages(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	ts, testDB := newTestAPI(ctx, t)

	handlers := storage.NewHandlerStore(testDB.Connection)
	results := storage.NewExecutionResultStore(testDB.Connection)

	handlerID, _, err := handlers.Insert(ctx, `function f(e){return []}`, "results-page-hash", "test")
	require.NoError(t, err)

	errMsg := "it broke"

	tx, err := testDB.Connection.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, results.SaveResults(ctx, tx, []model.ExecutionResult{
		{HandlerID: handlerID, EventID: 1, Output: json.RawMessage(`{"r":"one"}`)},
		{HandlerID: handlerID, EventID: 2, Error: &errMsg},
	}))
	require.NoError(t, tx.Commit())

	// /results carries only the success.
	resp, err := http.Get(fmt.Sprintf("%s/functions/%d/results", ts.URL, handlerID))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	var page struct {
		Status string `json:"status"`
		Data   struct {
			Results []struct {
				EventID int64           `json:"event_id"`
				Output  json.RawMessage `json:"output"`
				Error   *string         `json:"error"`
			} `json:"results"`
			Cursor int64 `json:"cursor"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	require.Len(t, page.Data.Results, 1)
	require.Equal(t, int64(1), page.Data.Results[0].EventID)
	require.JSONEq(t, `{"r":"one"}`, string(page.Data.Results[0].Output))
	require.NotZero(t, page.Data.Cursor)

	// /debug carries both.
	debugResp, err := http.Get(fmt.Sprintf("%s/functions/%d/debug", ts.URL, handlerID))
	require.NoError(t, err)

	defer func() { _ = debugResp.Body.Close() }()

	var debugPage struct {
		Data struct {
			Results []struct {
				EventID int64   `json:"event_id"`
				Error   *string `json:"error"`
			} `json:"results"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(debugResp.Body).Decode(&debugPage))
	require.Len(t, debugPage.Data.Results, 2)
	require.NotNil(t, debugPage.Data.Results[1].Error)
	require.Equal(t, errMsg, *debugPage.Data.Results[1].Error)
}
