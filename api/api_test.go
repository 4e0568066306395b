/*
Copyright 2025 CrossCheck Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/crosscheck-finance/crosscheck"
	"github.com/crosscheck-finance/crosscheck/api/middleware"
	"github.com/crosscheck-finance/crosscheck/config"
	"github.com/crosscheck-finance/crosscheck/database/mocks"
)

type TestRequest struct {
	Payload  io.Reader
	Router   *gin.Engine
	Response interface{}
	Method   string
	Route    string
	Header   map[string]string
}

func SetUpTestRequest(s TestRequest) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(s.Method, s.Route, s.Payload)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range s.Header {
		req.Header.Set(key, value)
	}
	resp := httptest.NewRecorder()
	s.Router.ServeHTTP(resp, req)

	err := json.NewDecoder(resp.Body).Decode(&s.Response)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// testConfig builds a configuration backed by a per-test miniredis, with
// uploads and exports pointed at temp dirs.
func testConfig(t *testing.T) *config.Configuration {
	t.Helper()

	redisServer := miniredis.RunT(t)
	return &config.Configuration{
		Redis: config.RedisConfig{Dns: redisServer.Addr()},
		Queue: config.QueueConfig{
			FileProcessingQueue: "crosscheck:file_processing",
			MatchingQueue:       "crosscheck:matching",
			WebhookQueue:        "crosscheck:webhook",
			IndexQueue:          "crosscheck:index",
			NumberOfQueues:      1,
			MaxRetryAttempts:    3,
		},
		Reconciliation: config.ReconciliationConfig{
			DefaultDateToleranceDays: 3,
			DefaultAmountTolerance:   0.01,
			UploadDir:                t.TempDir(),
			MaxFileSizeMB:            4,
		},
		ExportDir: t.TempDir(),
	}
}

// setupRouter builds the full router over a mock datasource and a
// miniredis-backed queue, so handler tests exercise the real service layer.
func setupRouter(t *testing.T) (*gin.Engine, *mocks.MockDataSource) {
	t.Helper()

	config.MockConfig(testConfig(t))

	mockDS := new(mocks.MockDataSource)
	service, err := crosscheck.NewCrossCheck(mockDS)
	require.NoError(t, err)
	router := NewAPI(service).Router()
	return router, mockDS
}

func mustParseDate(t *testing.T, value string) time.Time {
	t.Helper()
	date, err := time.Parse("2006-01-02", value)
	require.NoError(t, err)
	return date
}

// multipartBody builds a multipart form with the given fields and one CSV
// file per entry in files.
func multipartBody(t *testing.T, fields map[string]string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for field, value := range fields {
		require.NoError(t, writer.WriteField(field, value))
	}
	for field, content := range files {
		part, err := writer.CreateFormFile(field, field+".csv")
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := setupRouter(t)

	var response string
	testRequest := TestRequest{
		Response: &response,
		Method:   "GET",
		Route:    "/",
		Router:   router,
	}

	resp, err := SetUpTestRequest(testRequest)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "server running...", response)
}

func TestSecureModeRequiresKey(t *testing.T) {
	cnf := testConfig(t)
	cnf.Server.Secure = true
	cnf.Server.SecretKey = "master-key"
	config.MockConfig(cnf)

	mockDS := new(mocks.MockDataSource)
	service, err := crosscheck.NewCrossCheck(mockDS)
	require.NoError(t, err)
	router := NewAPI(service).Router()

	mockDS.On("GetAllSessions", mock.Anything, "", defaultListLimit, 0).Return(nil, nil)

	unauthenticated := httptest.NewRecorder()
	router.ServeHTTP(unauthenticated, httptest.NewRequest("GET", "/reconciliation/sessions", nil))
	assert.Equal(t, http.StatusUnauthorized, unauthenticated.Code)

	req := httptest.NewRequest("GET", "/reconciliation/sessions", nil)
	req.Header.Set(middleware.KeyHeader, "master-key")
	authenticated := httptest.NewRecorder()
	router.ServeHTTP(authenticated, req)
	assert.Equal(t, http.StatusOK, authenticated.Code)
}
