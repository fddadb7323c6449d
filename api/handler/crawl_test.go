package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/crawlkit/api"
	"github.com/use-agent/crawlkit/config"
	"github.com/use-agent/crawlkit/eventbus"
	"github.com/use-agent/crawlkit/models"
	"github.com/use-agent/crawlkit/store"
	"github.com/use-agent/crawlkit/sysmon"
)

func newTestDeps(t *testing.T) *api.Deps {
	t.Helper()
	cfg := config.Load()
	jobs := api.NewJobStore(time.Hour)
	t.Cleanup(jobs.Stop)
	return &api.Deps{
		Config:       cfg,
		Store:        store.NewMemoryStore(0),
		Bus:          eventbus.New(),
		SystemStatus: sysmon.NewSystemStatus(sysmon.StatusConfig{}),
		Jobs:         jobs,
		StartTime:    time.Now(),
	}
}

func TestPostCrawl_RejectsMissingURLs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps := newTestDeps(t)
	r := gin.New()
	r.POST("/crawls", PostCrawl(deps))

	req := httptest.NewRequest(http.MethodPost, "/crawls", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostCrawl_StartsABasicCrawlAndReturnsJobID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps := newTestDeps(t)
	r := gin.New()
	r.POST("/crawls", PostCrawl(deps))

	body, err := json.Marshal(map[string]any{
		"urls":        []string{"https://example.test/"},
		"use_browser": false,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/crawls", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp models.StartCrawlResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "running", resp.Status)

	_, ok := deps.Jobs.Load(resp.ID)
	assert.True(t, ok, "the job must be registered in the JobStore immediately")
}

func TestPostCrawl_ErrorsWithoutBrowserPoolWhenUseBrowserIsTrue(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps := newTestDeps(t) // deps.BrowserPool is nil
	r := gin.New()
	r.POST("/crawls", PostCrawl(deps))

	body, err := json.Marshal(map[string]any{
		"urls":        []string{"https://example.test/"},
		"use_browser": true,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/crawls", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetCrawl_ReturnsNotFoundForUnknownID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps := newTestDeps(t)
	r := gin.New()
	r.GET("/crawls/:id", GetCrawl(deps))

	req := httptest.NewRequest(http.MethodGet, "/crawls/does-not-exist", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetCrawl_ReturnsSnapshotForKnownJob(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps := newTestDeps(t)
	r := gin.New()
	r.POST("/crawls", PostCrawl(deps))
	r.GET("/crawls/:id", GetCrawl(deps))

	body, err := json.Marshal(map[string]any{
		"urls":        []string{"https://example.test/"},
		"use_browser": false,
	})
	require.NoError(t, err)
	postReq := httptest.NewRequest(http.MethodPost, "/crawls", bytes.NewReader(body))
	postReq.Header.Set("Content-Type", "application/json")
	postW := httptest.NewRecorder()
	r.ServeHTTP(postW, postReq)
	require.Equal(t, http.StatusOK, postW.Code)

	var started models.StartCrawlResponse
	require.NoError(t, json.Unmarshal(postW.Body.Bytes(), &started))

	getReq := httptest.NewRequest(http.MethodGet, "/crawls/"+started.ID, nil)
	getW := httptest.NewRecorder()
	r.ServeHTTP(getW, getReq)

	require.Equal(t, http.StatusOK, getW.Code)
	var status models.CrawlStatusResponse
	require.NoError(t, json.Unmarshal(getW.Body.Bytes(), &status))
	assert.Equal(t, started.ID, status.ID)
}
