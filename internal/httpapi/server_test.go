package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"vyapaar/internal/config"
	"vyapaar/internal/notify"
	"vyapaar/internal/pipeline"
	"vyapaar/internal/storage"
)

const testPhone = "+919876543210"

type fakeSender struct {
	phones []string
	bodies []string
}

func (f *fakeSender) Send(_ context.Context, phone, body string) (notify.MessageResult, error) {
	f.phones = append(f.phones, phone)
	f.bodies = append(f.bodies, body)
	return notify.MessageResult{SID: "SM42", Status: "queued"}, nil
}

type testServer struct {
	handler http.Handler
	db      *storage.DB
	sender  *fakeSender
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	tmp := t.TempDir()
	db, err := storage.Open(filepath.Join(tmp, "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Config{MaxUploadMB: 1, ForecastMinPeriods: 3}
	uploads := pipeline.NewUploadService(db, storage.NewSnapshotStore(filepath.Join(tmp, "users")), nil, nil, nil)
	sender := &fakeSender{}
	srv := NewServer(cfg, db, uploads, notify.NewSummaryService(db, uploads, sender, nil), nil)
	return testServer{handler: srv.Routes(), db: db, sender: sender}
}

func (ts testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func fileRequest(t *testing.T, target, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

const salesCSV = "Product,Quantity Sold,Stock Left,Customer ID\nTea,10,2,c1\nSugar,5,9,c1\nTea,4,2,c2\n"

func TestHealthAndRequestID(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, healthText, rec.Body.String())
	assert.Len(t, rec.Header().Get("X-Request-Id"), 36)
}

func TestLegacyUpload(t *testing.T) {
	ts := newTestServer(t)

	t.Run("missing file", func(t *testing.T) {
		rec := ts.do(t, jsonRequest(http.MethodPost, "/upload", `{}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, map[string]any{"error": "No file uploaded"}, decode(t, rec))
	})

	t.Run("insights", func(t *testing.T) {
		rec := ts.do(t, fileRequest(t, "/upload", "march.csv", salesCSV))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decode(t, rec)
		assert.Equal(t, map[string]any{"Tea": 14.0, "Sugar": 5.0}, body["top_selling_products"])
		assert.Equal(t, []any{"Tea"}, body["low_stock_alerts"])
		assert.Equal(t, "'unit_price' column missing", body["top_revenue_products"])
		assert.True(t, strings.Index(rec.Body.String(), `"Tea"`) < strings.Index(rec.Body.String(), `"Sugar"`))
	})

	t.Run("missing columns", func(t *testing.T) {
		rec := ts.do(t, fileRequest(t, "/upload", "notes.csv", "Remarks\nfine\n"))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, decode(t, rec)["error"], "missing important fields")
	})
}

func TestSmartInsight(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, fileRequest(t, "/smart-insight", "march.csv", salesCSV))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Contains(t, body, "insights")
	assert.Contains(t, body["smart_suggestion"], "Tea, Sugar")
}

func TestSendWhatsApp(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, jsonRequest(http.MethodPost, "/send-whatsapp", `{"phone":"+919876543210"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"status": "error", "message": "Missing phone or message"}, decode(t, rec))

	rec = ts.do(t, jsonRequest(http.MethodPost, "/send-whatsapp", `{"phone":"+919876543210","message":"Stock up on tea"}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "success", "message": "Message sent successfully"}, decode(t, rec))
	assert.Equal(t, []string{"Stock up on tea"}, ts.sender.bodies)
}

func TestRegisterValidation(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, jsonRequest(http.MethodPost, "/users", `{"name":"Asha","phone":"98765","email":"nope"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "VALIDATION_FAILED", body["error_code"])
	fields := map[string]bool{}
	for _, d := range body["details"].([]any) {
		fields[d.(map[string]any)["field"].(string)] = true
	}
	assert.Equal(t, map[string]bool{"phone": true, "email": true}, fields)
}

func TestUnknownUser(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/users/"+testPhone+"/uploads", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, rec)["error_code"])

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/users/not-a-phone/uploads", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserSnapshotFlow(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, jsonRequest(http.MethodPost, "/users", `{"name":"Asha","phone":"+919876543210","email":"Owner@Shop.in"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "owner@shop.in", decode(t, rec)["email"])

	var files []string
	for _, qty := range []string{"10", "20", "30"} {
		rec := ts.do(t, fileRequest(t, "/users/"+testPhone+"/uploads", "sales.csv",
			"Item,Qty,Left,Buyer\nTea,"+qty+",3,c1\n"))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		files = append(files, decode(t, rec)["file"].(string))
	}

	rec = ts.do(t, fileRequest(t, "/users/"+testPhone+"/uploads", "bad.csv", "Remarks\nfine\n"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "SCHEMA_RESOLUTION_FAILED", body["error_code"])

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/users/"+testPhone+"/uploads", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["uploads"], 3)

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/users/"+testPhone+"/uploads/"+files[0]+"/insights", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	insights := decode(t, rec)["insights"].(map[string]any)
	assert.Equal(t, map[string]any{"Tea": 10.0}, insights["top_selling_products"])

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/users/"+testPhone+"/uploads/missing.csv/insights", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/users/"+testPhone+"/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["history"], 3)

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/users/"+testPhone+"/forecast", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, 3.0, body["periods_available"])
	assert.Contains(t, body["forecast"], "Tea")

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/users/"+testPhone+"/uploads/"+files[2]+"/report.xlsx?forecast=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	wb, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer wb.Close()
	assert.Contains(t, wb.GetSheetList(), "Forecast")

	rec = ts.do(t, httptest.NewRequest(http.MethodPost, "/users/"+testPhone+"/uploads/"+files[2]+"/notify", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "SM42", decode(t, rec)["sid"])
	require.Len(t, ts.sender.bodies, 1)
	assert.True(t, strings.HasPrefix(ts.sender.bodies[0], "Summary for "+files[2]+":\n"))
	assert.Equal(t, []string{testPhone}, ts.sender.phones)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, fileRequest(t, "/upload", "march.csv", salesCSV))
	ts.do(t, fileRequest(t, "/upload", "notes.csv", "Remarks\nfine\n"))

	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, `vyapaar_uploads_total{source="csv",stored="false"} 1`)
	assert.Contains(t, out, "vyapaar_schema_failures_total 1")
	assert.Contains(t, out, `route="/upload"`)
}
