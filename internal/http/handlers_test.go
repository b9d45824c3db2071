package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Cypherspark/bulk-sms/internal/apperr"
	"github.com/Cypherspark/bulk-sms/internal/core"
	database "github.com/Cypherspark/bulk-sms/internal/db"
	httpapi "github.com/Cypherspark/bulk-sms/internal/http"
	"github.com/Cypherspark/bulk-sms/internal/provider"
	"github.com/Cypherspark/bulk-sms/internal/worker"
)

// scriptedGateway returns a canned result or error and remembers the last request.
type scriptedGateway struct {
	res  *provider.SendResult
	err  error
	last provider.SendRequest
}

func (g *scriptedGateway) Send(_ context.Context, req provider.SendRequest) (*provider.SendResult, error) {
	g.last = req
	if err := provider.Validate(req); err != nil {
		return nil, err
	}
	return g.res, g.err
}

type apiEnv struct {
	h     http.Handler
	store *database.Memory
	dummy *provider.Dummy
}

func startAPI(t *testing.T, edge provider.Gateway) apiEnv {
	t.Helper()
	store := database.NewMemory()
	dummy := provider.NewDummy()
	svc := core.NewService(dummy, store, core.Options{PublicBaseURL: "https://sms.example.com"}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	runner := worker.NewRunner(svc, worker.Options{Concurrency: 1}, zerolog.Nop())
	runner.Start(ctx)
	t.Cleanup(func() { cancel(); runner.Wait() })

	if edge == nil {
		edge = dummy
	}
	srv := &httpapi.Server{Gateway: edge, Sender: svc, Jobs: runner, Store: store, Log: zerolog.Nop(), DefaultSender: "BulkComm"}
	return apiEnv{h: srv.Router(), store: store, dummy: dummy}
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd *bytes.Buffer
	if body != "" {
		rd = bytes.NewBufferString(body)
	} else {
		rd = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestSendSMS_Success(t *testing.T) {
	gw := &scriptedGateway{res: &provider.SendResult{
		SentCount:  1,
		MessageIDs: []string{"m1"},
		TotalCost:  0.16,
		Results:    []provider.NumberResult{{ID: "m1", Number: "420777123456", Status: "QUEUE", Points: 0.16}},
		InvalidNumbers: []provider.InvalidNumber{{Number: "123", Reason: "Invalid phone number"}},
	}}
	env := startAPI(t, gw)

	w, out := do(t, env.h, http.MethodPost, "/send-sms", `{"recipients":["+420777123456","123"],"message":"Hi [%1%]","param1":"https://a|https://b","test":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, true, out["success"])
	require.EqualValues(t, 1, out["sentCount"])
	require.EqualValues(t, 2, out["totalRecipients"])
	require.Equal(t, "EUR", out["currency"])
	details := out["details"].(map[string]any)
	require.Len(t, details["invalid"], 1)

	require.Equal(t, "BulkComm", gw.last.Sender)
	require.Equal(t, []string{"https://a", "https://b"}, gw.last.Links)
	require.True(t, gw.last.Test)
}

func TestSendSMS_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   any
	}{
		{"provider rejection", &apperr.GatewayError{Code: 103, Message: "insufficient credits on the provider account"}, http.StatusBadRequest, float64(103)},
		{"configuration", apperr.Configuration("SMSAPI_TOKEN", "provider auth token is not set"), http.StatusInternalServerError, nil},
		{"parse", &apperr.GatewayParseError{Status: 502, Body: "<html>"}, http.StatusInternalServerError, nil},
		{"timeout", &apperr.GatewayTimeoutError{Err: context.DeadlineExceeded}, http.StatusInternalServerError, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := startAPI(t, &scriptedGateway{err: tc.err})
			w, out := do(t, env.h, http.MethodPost, "/send-sms", `{"recipients":["+420777123456"],"message":"hi"}`)
			require.Equal(t, tc.status, w.Code)
			require.Equal(t, false, out["success"])
			require.NotEmpty(t, out["error"])
			require.Equal(t, tc.code, out["errorCode"])
			require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestSendSMS_Validation(t *testing.T) {
	env := startAPI(t, &scriptedGateway{res: &provider.SendResult{}})

	w, _ := do(t, env.h, http.MethodPost, "/send-sms", `{"recipients":[],"message":"hi"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, env.h, http.MethodPost, "/send-sms", `{"recipients":["+420777123456"],"message":"  "}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, env.h, http.MethodPost, "/send-sms", `not json`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendSMS_AllInvalidIsRejected(t *testing.T) {
	env := startAPI(t, nil)
	w, out := do(t, env.h, http.MethodPost, "/send-sms", `{"recipients":["abc"],"message":"hi"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.EqualValues(t, provider.CodeNoValidNumbers, out["errorCode"])
	require.Len(t, out["invalidNumbers"], 1)
}

func TestCORSPreflight(t *testing.T) {
	env := startAPI(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/send-sms", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	env.h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "content-type")
}

func TestBulkSend_PersonalizedWithCampaign(t *testing.T) {
	env := startAPI(t, nil)
	c, err := env.store.InsertCampaign(context.Background(), core.Campaign{ShortID: "SPRING", Name: "Spring"})
	require.NoError(t, err)

	body := `{"recipients":["+420777123456","+12025550100","null"],"message":"Open {{ link }}","campaignId":"` + c.ID + `"}`
	w, out := do(t, env.h, http.MethodPost, "/bulk-sms", body)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, out["success"])
	require.EqualValues(t, 2, out["sentCount"])
	require.EqualValues(t, 2, out["totalRecipients"])
	require.Len(t, env.store.Recipients(c.ID), 2)

	w, out = do(t, env.h, http.MethodGet, "/bulk-sms/logs?campaignId="+c.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, out["items"], 1)
}

func TestBulkSend_Errors(t *testing.T) {
	env := startAPI(t, nil)

	w, out := do(t, env.h, http.MethodPost, "/bulk-sms", `{"recipients":["undefined"],"message":"hi"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "validation", out["kind"])

	w, out = do(t, env.h, http.MethodPost, "/bulk-sms", `{"recipients":["abc","def"],"message":"hi"}`)
	require.Equal(t, http.StatusBadGateway, w.Code)
	require.Equal(t, false, out["success"])
	require.Len(t, out["invalidNumbers"], 2)
}

func TestBulkSend_MissingPublicURLIsConfigurationError(t *testing.T) {
	store := database.NewMemory()
	svc := core.NewService(provider.NewDummy(), store, core.Options{}, zerolog.Nop())
	srv := &httpapi.Server{Gateway: provider.NewDummy(), Sender: svc, Store: store, Log: zerolog.Nop()}

	w, out := do(t, srv.Router(), http.MethodPost, "/bulk-sms", `{"recipients":["+420777123456"],"message":"{{link}}"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, "configuration", out["kind"])
}

func TestJobs_SubmitAndPoll(t *testing.T) {
	env := startAPI(t, nil)

	w, out := do(t, env.h, http.MethodPost, "/bulk-sms/jobs", `{"recipients":["+420777123456","+351912345678"],"message":"Hi {{link}}","test":true}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	id, _ := out["jobId"].(string)
	require.NotEmpty(t, id)
	require.Equal(t, "/bulk-sms/jobs/"+id, w.Header().Get("Location"))

	require.Eventually(t, func() bool {
		_, job := do(t, env.h, http.MethodGet, "/bulk-sms/jobs/"+id, "")
		return job["state"] == "done"
	}, 2*time.Second, 10*time.Millisecond)

	_, job := do(t, env.h, http.MethodGet, "/bulk-sms/jobs/"+id, "")
	require.EqualValues(t, 100, job["progress"])
	res := job["result"].(map[string]any)
	require.EqualValues(t, 2, res["sentCount"])
	require.EqualValues(t, 0, res["cost"])
}

func TestJobs_ValidationAndUnknown(t *testing.T) {
	env := startAPI(t, nil)

	w, _ := do(t, env.h, http.MethodPost, "/bulk-sms/jobs", `{"recipients":[],"message":"hi"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, env.h, http.MethodGet, "/bulk-sms/jobs/does-not-exist", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndDocs(t *testing.T) {
	env := startAPI(t, nil)

	w, _ := do(t, env.h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = do(t, env.h, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = do(t, env.h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = do(t, env.h, http.MethodGet, "/openapi.yaml", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "/bulk-sms/jobs")
}

type downStore struct{ *database.Memory }

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestReadyz(t *testing.T) {
	unconfigured := provider.NewSMSAPI(provider.SMSAPIOptions{})

	srv := &httpapi.Server{Gateway: unconfigured, Store: database.NewMemory(), Log: zerolog.Nop()}
	w, out := do(t, srv.Router(), http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", out["store"])
	require.NotEqual(t, "ok", out["gateway"])

	srv.Store = downStore{database.NewMemory()}
	w, out = do(t, srv.Router(), http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, "unavailable", out["status"])
	require.Equal(t, "connection refused", out["store"])
}
