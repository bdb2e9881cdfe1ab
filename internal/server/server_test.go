package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"marketsync/internal/cache"
	"marketsync/internal/config"
	"marketsync/internal/model"
)

type fakeServerController struct {
	dbErr     error
	cacheErr  error
	rabbitErr error
}

func (f *fakeServerController) DBHealth() error     { return f.dbErr }
func (f *fakeServerController) CacheHealth() error  { return f.cacheErr }
func (f *fakeServerController) RabbitHealth() error { return f.rabbitErr }
func (f *fakeServerController) Online() string      { return "Online" }

type fakeJobController struct {
	created   *model.Job
	createErr error
	cancelled []string
	paused    []string
	resumed   []string
}

func (f *fakeJobController) CreateJob(ctx context.Context, ownerID, marketplace, jobType string, params map[string]string) (*model.Job, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = &model.Job{
		ID:          primitive.NewObjectID(),
		OwnerID:     ownerID,
		Marketplace: marketplace,
		Type:        jobType,
		Status:      model.StatusPending,
		Params:      params,
		CreatedAt:   time.Now(),
	}
	return f.created, nil
}

func (f *fakeJobController) ProcessJobs(ctx context.Context) error { return nil }
func (f *fakeJobController) StopProcessing()                       {}

func (f *fakeJobController) CancelJob(ctx context.Context, jobID string) error {
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

func (f *fakeJobController) PauseJob(ctx context.Context, jobID string) error {
	f.paused = append(f.paused, jobID)
	return nil
}

func (f *fakeJobController) ResumeJob(ctx context.Context, jobID string) error {
	f.resumed = append(f.resumed, jobID)
	return nil
}

func (f *fakeJobController) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	if f.created != nil && f.created.ID.Hex() == jobID {
		return f.created, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeJobController) ListJobs(ctx context.Context, ownerID string, limit, offset int) ([]*model.Job, error) {
	if f.created != nil {
		return []*model.Job{f.created}, nil
	}
	return nil, nil
}

func (f *fakeJobController) AvailableJobTypes() map[string]string {
	return map[string]string{"catalog_sync": "Catalog Sync"}
}

type fakeCatalogController struct {
	rules    []*model.ExclusionRule
	snapshot []model.RemoteProduct
}

func (f *fakeCatalogController) ListMirror(ctx context.Context, ownerID, marketplace string) ([]*model.MirrorProduct, error) {
	return []*model.MirrorProduct{{StockCode: "A", Marketplace: marketplace}}, nil
}

func (f *fakeCatalogController) RemoteSnapshot(ctx context.Context, ownerID, marketplace string) ([]model.RemoteProduct, error) {
	if f.snapshot == nil {
		return nil, cache.ErrCacheMiss
	}
	return f.snapshot, nil
}

func (f *fakeCatalogController) ListExclusions(ctx context.Context, ownerID string) ([]*model.ExclusionRule, error) {
	return f.rules, nil
}

func (f *fakeCatalogController) AddExclusion(ctx context.Context, ownerID, value, matchType string) (*model.ExclusionRule, error) {
	if matchType != model.MatchStockCode && matchType != model.MatchBarcode {
		return nil, errors.New("invalid match type")
	}
	rule := &model.ExclusionRule{OwnerID: ownerID, Value: value, MatchType: matchType}
	f.rules = append(f.rules, rule)
	return rule, nil
}

func (f *fakeCatalogController) RemoveExclusion(ctx context.Context, ownerID, value, matchType string) error {
	return nil
}

func testServer(jc *fakeJobController, sc *fakeServerController) (*Server, http.Handler) {
	gin.SetMode(gin.TestMode)

	srv := &Server{
		sc: sc,
		jc: jc,
		cc: &fakeCatalogController{},
		config: config.Config{
			Marketplaces: map[string]config.MarketplaceConfig{
				"trendyol": {},
			},
			CORS: config.CORSConfig{
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "DELETE"},
				AllowedHeaders: []string{"Content-Type", "X-Owner-ID"},
			},
		},
	}
	return srv, srv.RegisterRoutes()
}

func TestRegisterRoutesWithoutCORSConfig(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// A config file with no cors block must still produce a working router.
	srv := &Server{
		sc:     &fakeServerController{},
		jc:     &fakeJobController{},
		cc:     &fakeCatalogController{},
		config: config.Config{},
	}
	handler := srv.RegisterRoutes()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/online", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected 200 from /online, got %d", w.Code)
	}
}

func TestCORSHeadersApplied(t *testing.T) {
	_, handler := testServer(&fakeJobController{}, &fakeServerController{})

	req := httptest.NewRequest(http.MethodGet, "/online", nil)
	req.Header.Set("Origin", "https://panel.example.com")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected wildcard allow-origin header, got %q", got)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, handler := testServer(&fakeJobController{}, &fakeServerController{})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHealthEndpointDegraded(t *testing.T) {
	_, handler := testServer(&fakeJobController{}, &fakeServerController{dbErr: errors.New("down")})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when database is down, got %d", w.Code)
	}
}

func TestCreateJobEndpoint(t *testing.T) {
	jc := &fakeJobController{}
	_, handler := testServer(jc, &fakeServerController{})

	body := `{"type":"catalog_sync","marketplace":"trendyol","params":{"source_id":"src"}}`
	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Owner-ID", "owner-1")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if jc.created == nil || jc.created.OwnerID != "owner-1" {
		t.Errorf("owner header not forwarded: %+v", jc.created)
	}

	var resp JobResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != string(model.StatusPending) {
		t.Errorf("expected pending job in response, got %s", resp.Status)
	}
}

func TestCreateJobUnknownMarketplace(t *testing.T) {
	_, handler := testServer(&fakeJobController{}, &fakeServerController{})

	body := `{"type":"catalog_sync","marketplace":"bogus"}`
	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown marketplace, got %d", w.Code)
	}
}

func TestJobControlEndpoints(t *testing.T) {
	jc := &fakeJobController{}
	_, handler := testServer(jc, &fakeServerController{})

	id := primitive.NewObjectID().Hex()
	for _, action := range []string{"cancel", "pause", "resume"} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/jobs/"+id+"/"+action, nil))
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d: %s", action, w.Code, w.Body.String())
		}
	}

	if len(jc.cancelled) != 1 || len(jc.paused) != 1 || len(jc.resumed) != 1 {
		t.Errorf("control requests not forwarded: cancel=%v pause=%v resume=%v",
			jc.cancelled, jc.paused, jc.resumed)
	}
}

func TestAddExclusionValidation(t *testing.T) {
	_, handler := testServer(&fakeJobController{}, &fakeServerController{})

	body := `{"value":"ABC","matchType":"nonsense"}`
	req := httptest.NewRequest(http.MethodPost, "/exclusions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid match type, got %d", w.Code)
	}
}

func TestRemoteSnapshotEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cc := &fakeCatalogController{}
	srv := &Server{
		sc: &fakeServerController{},
		jc: &fakeJobController{},
		cc: cc,
		config: config.Config{
			Marketplaces: map[string]config.MarketplaceConfig{"trendyol": {}},
		},
	}
	handler := srv.RegisterRoutes()

	// No run has cached a snapshot yet
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/marketplaces/trendyol/snapshot", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a snapshot, got %d", w.Code)
	}

	cc.snapshot = []model.RemoteProduct{{StockCode: "A", Quantity: 3}}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/marketplaces/trendyol/snapshot", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with a snapshot, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Count int                   `json:"count"`
		Items []model.RemoteProduct `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 1 || len(resp.Items) != 1 || resp.Items[0].StockCode != "A" {
		t.Errorf("snapshot payload wrong: %+v", resp)
	}
}

func TestListMirrorUnknownMarketplace(t *testing.T) {
	_, handler := testServer(&fakeJobController{}, &fakeServerController{})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/marketplaces/bogus/products", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown marketplace, got %d", w.Code)
	}
}
