package recon

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"marketsync/internal/cache"
	"marketsync/internal/catalog"
	"marketsync/internal/config"
	"marketsync/internal/database"
	"marketsync/internal/marketplace"
	"marketsync/internal/model"
)

// ---- fakes -----------------------------------------------------------------

type fakeJobDB struct {
	mu       sync.Mutex
	job      model.Job
	logs     []string
	progress []model.JobProgress
}

func newFakeJobDB() *fakeJobDB {
	return &fakeJobDB{job: model.Job{ID: primitive.NewObjectID(), Status: model.StatusRunning}}
}

func (f *fakeJobDB) CreateJob(ctx context.Context, job *model.Job) error { return nil }

func (f *fakeJobDB) GetJobByID(ctx context.Context, id primitive.ObjectID) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.job
	return &j, nil
}

func (f *fakeJobDB) UpdateJobStatus(ctx context.Context, id primitive.ObjectID, status model.JobStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.job.Status = status
	return nil
}

func (f *fakeJobDB) MarkJobRunning(ctx context.Context, id primitive.ObjectID) error { return nil }

func (f *fakeJobDB) UpdateJobProgress(ctx context.Context, id primitive.ObjectID, progress model.JobProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, progress)
	return nil
}

func (f *fakeJobDB) AppendJobLog(ctx context.Context, id primitive.ObjectID, level model.LogLevel, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, message)
	return nil
}

func (f *fakeJobDB) SetJobResult(ctx context.Context, id primitive.ObjectID, result interface{}) error {
	return nil
}

func (f *fakeJobDB) RequestJobCancel(ctx context.Context, id primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.job.CancelRequested = true
	return nil
}

func (f *fakeJobDB) RequestJobPause(ctx context.Context, id primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.job.PauseRequested = true
	return nil
}

func (f *fakeJobDB) ResumeJob(ctx context.Context, id primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.job.PauseRequested = false
	return nil
}

func (f *fakeJobDB) CountJobsByStatus(ctx context.Context, status model.JobStatus) (int64, error) {
	return 0, nil
}

func (f *fakeJobDB) ListJobsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*model.Job, error) {
	return nil, nil
}

func (f *fakeJobDB) ListJobsByStatus(ctx context.Context, status model.JobStatus, limit, offset int) ([]*model.Job, error) {
	return nil, nil
}

var _ database.JobDatabase = (*fakeJobDB)(nil)

type fakeMirrorDB struct {
	mu   sync.Mutex
	rows map[string]*model.MirrorProduct
}

func newFakeMirrorDB(rows ...*model.MirrorProduct) *fakeMirrorDB {
	m := &fakeMirrorDB{rows: make(map[string]*model.MirrorProduct)}
	for _, r := range rows {
		m.rows[r.StockCode] = r
	}
	return m
}

func (f *fakeMirrorDB) ListMirrorProducts(ctx context.Context, ownerID, marketplace string) ([]*model.MirrorProduct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.MirrorProduct, 0, len(f.rows))
	for _, r := range f.rows {
		copied := *r
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeMirrorDB) UpsertMirrorProducts(ctx context.Context, products []*model.MirrorProduct) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range products {
		copied := *p
		f.rows[p.StockCode] = &copied
	}
	return nil
}

func (f *fakeMirrorDB) SetMirrorQuantities(ctx context.Context, ownerID, marketplace string, updates []model.PriceStockUpdate, sourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range updates {
		if row, ok := f.rows[u.Key]; ok {
			row.Price = u.Price
			row.Quantity = u.Quantity
			row.SourceID = sourceID
		}
	}
	return nil
}

func (f *fakeMirrorDB) DeleteMirrorProductsNotIn(ctx context.Context, ownerID, marketplace string, stockCodes []string) (int64, error) {
	return 0, nil
}

var _ database.MirrorDatabase = (*fakeMirrorDB)(nil)

type fakeExclusionDB struct {
	set map[string]struct{}
}

func (f *fakeExclusionDB) GetExclusionSet(ctx context.Context, ownerID string) (map[string]struct{}, error) {
	if f.set == nil {
		return map[string]struct{}{}, nil
	}
	return f.set, nil
}

func (f *fakeExclusionDB) ListExclusions(ctx context.Context, ownerID string) ([]*model.ExclusionRule, error) {
	return nil, nil
}

func (f *fakeExclusionDB) AddExclusion(ctx context.Context, rule *model.ExclusionRule) error {
	return nil
}

func (f *fakeExclusionDB) RemoveExclusion(ctx context.Context, ownerID, value, matchType string) error {
	return nil
}

var _ database.ExclusionDatabase = (*fakeExclusionDB)(nil)

type fakeAdapter struct {
	mu          sync.Mutex
	tag         string
	remote      []model.RemoteProduct
	createCalls [][]marketplace.Listing
	updateCalls [][]model.PriceStockUpdate
	updateErrs  []error
	afterUpdate func()
}

func (f *fakeAdapter) Tag() string { return f.tag }

func (f *fakeAdapter) ListRemoteInventory(ctx context.Context, fn func([]model.RemoteProduct) error) error {
	return fn(f.remote)
}

func (f *fakeAdapter) CreateListings(ctx context.Context, listings []marketplace.Listing) (*marketplace.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls = append(f.createCalls, listings)
	return &marketplace.BatchResult{Succeeded: len(listings)}, nil
}

func (f *fakeAdapter) UpdatePriceAndStock(ctx context.Context, updates []model.PriceStockUpdate) (*marketplace.BatchResult, error) {
	f.mu.Lock()
	var err error
	if len(f.updateErrs) > 0 {
		err = f.updateErrs[0]
		f.updateErrs = f.updateErrs[1:]
	}
	hook := f.afterUpdate
	if err == nil {
		f.updateCalls = append(f.updateCalls, updates)
	}
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return &marketplace.BatchResult{Succeeded: len(updates)}, nil
}

func (f *fakeAdapter) updateCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updateCalls)
}

var _ marketplace.Adapter = (*fakeAdapter)(nil)

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (m *memCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return v, nil
}

func (m *memCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memCache) Ping(ctx context.Context) error { return nil }
func (m *memCache) Close() error                   { return nil }

// ---- harness ---------------------------------------------------------------

type engineFixture struct {
	engine  *Engine
	jobs    *fakeJobDB
	mirror  *fakeMirrorDB
	adapter *fakeAdapter
}

func staticResolver(id int64) cache.ResolverFunc {
	return func(ctx context.Context, marketplace, name string) (int64, error) { return id, nil }
}

func newEngineFixture(t *testing.T, adapter *fakeAdapter, mirror *fakeMirrorDB, exclusions map[string]struct{}, brandResolver cache.ResolverFunc) *engineFixture {
	t.Helper()

	jobs := newFakeJobDB()
	store := newMemCache()

	if brandResolver == nil {
		brandResolver = staticResolver(42)
	}

	jobsCfg := config.JobsConfig{
		MaxConcurrent:          10,
		QuotaRetryAttempts:     3,
		QuotaRetryDelaySeconds: 0,
		PausePollSeconds:       0,
		MaxFailureReasons:      25,
	}
	mpCfg := map[string]config.MarketplaceConfig{
		adapter.tag: {CreateBatchSize: 50, UpdateBatchSize: 100},
	}

	engine := NewEngine(
		jobs,
		mirror,
		&fakeExclusionDB{set: exclusions},
		marketplace.Registry{adapter.tag: adapter},
		store,
		cache.NewLookupCache(store, brandResolver, "brand", time.Minute),
		cache.NewLookupCache(store, staticResolver(7), "category", time.Minute),
		func(base float64, tag string) float64 { return base },
		jobsCfg,
		mpCfg,
	)

	return &engineFixture{engine: engine, jobs: jobs, mirror: mirror, adapter: adapter}
}

// ---- tests -----------------------------------------------------------------

func TestReconcileEndToEnd(t *testing.T) {
	adapter := &fakeAdapter{
		tag: "trendyol",
		remote: []model.RemoteProduct{
			{RemoteID: "r1", StockCode: "A", Barcode: "111", Price: 10, Quantity: 3},
			{RemoteID: "r2", StockCode: "gone", Price: 5, Quantity: 2},
		},
	}
	mirror := newFakeMirrorDB(
		&model.MirrorProduct{StockCode: "A", SourceID: "src", Quantity: 3, Price: 10},
		&model.MirrorProduct{StockCode: "gone", SourceID: "src", Quantity: 2, Price: 5},
	)
	fx := newEngineFixture(t, adapter, mirror, nil, nil)

	idx := catalog.NewIndex("src", []model.CatalogRecord{
		{StockCode: "A", Barcode: "111", Title: "Item A", Brand: "Acme", Category: "Widgets", Price: 12, Quantity: 5},
		{StockCode: "B", Barcode: "222", Title: "Item B", Brand: "Acme", Category: "Widgets", Price: 20, Quantity: 2},
	})

	result, err := fx.engine.Reconcile(context.Background(), "owner-1", "trendyol", idx, fx.jobs.job.ID)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if result.UpdatedCount != 1 || result.CreatedCount != 1 || result.ZeroedCount != 1 {
		t.Fatalf("unexpected counts: updated=%d created=%d zeroed=%d",
			result.UpdatedCount, result.CreatedCount, result.ZeroedCount)
	}
	if result.Cancelled {
		t.Error("run must not report cancelled")
	}

	// The update batch pushes under the barcode the marketplace lists A by
	var sawBarcodeKey bool
	for _, call := range adapter.updateCalls {
		for _, u := range call {
			if u.Key == "111" && u.Quantity == 5 && u.Price == 12 {
				sawBarcodeKey = true
			}
		}
	}
	if !sawBarcodeKey {
		t.Errorf("expected barcode-keyed update for A, calls: %+v", adapter.updateCalls)
	}

	if len(adapter.createCalls) != 1 || len(adapter.createCalls[0]) != 1 {
		t.Fatalf("expected one create batch with one listing, got %+v", adapter.createCalls)
	}
	created := adapter.createCalls[0][0]
	if created.BrandID != 42 || created.CategoryID != 7 {
		t.Errorf("expected resolved brand/category, got %+v", created)
	}

	// Mirror converges: A updated, gone zeroed, B inserted
	if row := mirror.rows["A"]; row.Quantity != 5 || row.Price != 12 {
		t.Errorf("mirror row A not updated: %+v", row)
	}
	if row := mirror.rows["gone"]; row.Quantity != 0 {
		t.Errorf("mirror row gone not zeroed: %+v", row)
	}
	if row, ok := mirror.rows["B"]; !ok || row.SourceID != "src" || row.Status != "Pending" {
		t.Errorf("mirror row B missing or untagged: %+v", row)
	}
}

func TestReconcileCancellationStopsAtBatchBoundary(t *testing.T) {
	adapter := &fakeAdapter{
		tag: "trendyol",
		remote: []model.RemoteProduct{
			{StockCode: "A", Price: 10, Quantity: 1},
			{StockCode: "B", Price: 10, Quantity: 1},
		},
	}
	fx := newEngineFixture(t, adapter, newFakeMirrorDB(), nil, nil)

	// Cancel as soon as the first batch lands
	adapter.afterUpdate = func() { _ = fx.jobs.RequestJobCancel(context.Background(), fx.jobs.job.ID) }

	// One-item update batches so the cancel check fires between items
	fx.engine.mpCfg["trendyol"] = config.MarketplaceConfig{CreateBatchSize: 1, UpdateBatchSize: 1}

	idx := catalog.NewIndex("src", []model.CatalogRecord{
		{StockCode: "A", Price: 15, Quantity: 2},
		{StockCode: "B", Price: 15, Quantity: 2},
	})

	result, err := fx.engine.Reconcile(context.Background(), "owner-1", "trendyol", idx, fx.jobs.job.ID)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if !result.Cancelled {
		t.Fatal("expected cancelled result")
	}
	if result.UpdatedCount != 1 {
		t.Errorf("expected exactly one batch before cancel, got %d", result.UpdatedCount)
	}
	if len(adapter.createCalls) != 0 {
		t.Errorf("no creates may run after cancel, got %+v", adapter.createCalls)
	}
}

func TestReconcileConvergedStateIsNoOp(t *testing.T) {
	// Remote already matches the catalog; a zeroed leftover stays zeroed.
	adapter := &fakeAdapter{
		tag: "trendyol",
		remote: []model.RemoteProduct{
			{RemoteID: "r1", StockCode: "A", Barcode: "111", Price: 12, Quantity: 5},
			{RemoteID: "r2", StockCode: "gone", Price: 5, Quantity: 0},
		},
	}
	mirror := newFakeMirrorDB(
		&model.MirrorProduct{StockCode: "A", SourceID: "src", Quantity: 5, Price: 12},
		&model.MirrorProduct{StockCode: "gone", SourceID: "src", Quantity: 0, Price: 5},
	)
	fx := newEngineFixture(t, adapter, mirror, nil, nil)

	idx := catalog.NewIndex("src", []model.CatalogRecord{
		{StockCode: "A", Barcode: "111", Title: "Item A", Brand: "Acme", Category: "Widgets", Price: 12, Quantity: 5},
	})

	result, err := fx.engine.Reconcile(context.Background(), "owner-1", "trendyol", idx, fx.jobs.job.ID)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if result.PlannedUpdates != 0 || result.PlannedCreates != 0 || result.PlannedZeroes != 0 {
		t.Errorf("converged state must plan nothing: %+v", result)
	}
	if adapter.updateCallCount() != 0 || len(adapter.createCalls) != 0 {
		t.Errorf("converged state must not touch the marketplace: updates=%d creates=%d",
			adapter.updateCallCount(), len(adapter.createCalls))
	}

	var inSync bool
	for _, line := range fx.jobs.logs {
		if strings.Contains(line, "already in sync") {
			inSync = true
		}
	}
	if !inSync {
		t.Errorf("expected in-sync log line, got %v", fx.jobs.logs)
	}
}

func TestReconcilePauseParksUntilResumed(t *testing.T) {
	adapter := &fakeAdapter{
		tag: "trendyol",
		remote: []model.RemoteProduct{
			{StockCode: "A", Price: 10, Quantity: 1},
			{StockCode: "B", Price: 10, Quantity: 1},
		},
	}
	fx := newEngineFixture(t, adapter, newFakeMirrorDB(), nil, nil)
	fx.engine.mpCfg["trendyol"] = config.MarketplaceConfig{CreateBatchSize: 1, UpdateBatchSize: 1}

	// Pause lands after the first batch; the next checkpoint must park.
	var pauseOnce sync.Once
	adapter.afterUpdate = func() {
		pauseOnce.Do(func() { _ = fx.jobs.RequestJobPause(context.Background(), fx.jobs.job.ID) })
	}

	idx := catalog.NewIndex("src", []model.CatalogRecord{
		{StockCode: "A", Price: 15, Quantity: 2},
		{StockCode: "B", Price: 15, Quantity: 2},
	})

	type outcome struct {
		result *Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := fx.engine.Reconcile(context.Background(), "owner-1", "trendyol", idx, fx.jobs.job.ID)
		done <- outcome{r, err}
	}()

	// While paused the second batch must not go out and the run must not end
	time.Sleep(200 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("run finished while paused")
	default:
	}
	if got := adapter.updateCallCount(); got != 1 {
		t.Fatalf("expected the run parked after 1 batch, saw %d", got)
	}

	if err := fx.jobs.ResumeJob(context.Background(), fx.jobs.job.ID); err != nil {
		t.Fatalf("ResumeJob: %v", err)
	}

	select {
	case out := <-done:
		if out.err != nil {
			t.Fatalf("Reconcile: %v", out.err)
		}
		if out.result.Cancelled {
			t.Error("resumed run must not report cancelled")
		}
		if out.result.UpdatedCount != 2 {
			t.Errorf("expected both batches after resume, got %d", out.result.UpdatedCount)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not resume after the pause flag cleared")
	}
}

func TestReconcileRetriesQuotaErrors(t *testing.T) {
	quotaErr := &marketplace.QuotaError{Marketplace: "trendyol", StatusCode: 429}
	adapter := &fakeAdapter{
		tag:        "trendyol",
		remote:     []model.RemoteProduct{{StockCode: "A", Price: 10, Quantity: 1}},
		updateErrs: []error{quotaErr, quotaErr},
	}
	fx := newEngineFixture(t, adapter, newFakeMirrorDB(), nil, nil)

	idx := catalog.NewIndex("src", []model.CatalogRecord{{StockCode: "A", Price: 15, Quantity: 2}})

	result, err := fx.engine.Reconcile(context.Background(), "owner-1", "trendyol", idx, fx.jobs.job.ID)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	// Two quota failures, success on the third attempt
	if result.UpdatedCount != 1 {
		t.Errorf("expected update to succeed after retries, got %+v", result)
	}
	if result.FailedBatches != 0 {
		t.Errorf("quota retries must not count as failed batches: %d", result.FailedBatches)
	}
}

func TestReconcileContinuesAfterTransientBatchFailure(t *testing.T) {
	adapter := &fakeAdapter{
		tag: "trendyol",
		remote: []model.RemoteProduct{
			{StockCode: "A", Price: 10, Quantity: 1},
			{StockCode: "B", Price: 10, Quantity: 1},
		},
		updateErrs: []error{errors.New("upstream 503")},
	}
	fx := newEngineFixture(t, adapter, newFakeMirrorDB(), nil, nil)
	fx.engine.mpCfg["trendyol"] = config.MarketplaceConfig{CreateBatchSize: 1, UpdateBatchSize: 1}

	idx := catalog.NewIndex("src", []model.CatalogRecord{
		{StockCode: "A", Price: 15, Quantity: 2},
		{StockCode: "B", Price: 15, Quantity: 2},
	})

	result, err := fx.engine.Reconcile(context.Background(), "owner-1", "trendyol", idx, fx.jobs.job.ID)
	if err != nil {
		t.Fatalf("failed batch must not fail the run: %v", err)
	}

	if result.FailedBatches != 1 {
		t.Errorf("expected 1 failed batch, got %d", result.FailedBatches)
	}
	if result.UpdatedCount != 1 {
		t.Errorf("expected the second batch to still run, got %d updates", result.UpdatedCount)
	}
}

func TestReconcileSkipsUnresolvedBrand(t *testing.T) {
	adapter := &fakeAdapter{tag: "trendyol"}
	resolver := func(ctx context.Context, marketplace, name string) (int64, error) {
		return 0, cache.ErrNotResolved
	}
	fx := newEngineFixture(t, adapter, newFakeMirrorDB(), nil, resolver)

	idx := catalog.NewIndex("src", []model.CatalogRecord{
		{StockCode: "A", Title: "Item A", Brand: "Unknown Brand", Category: "Widgets", Price: 15, Quantity: 2},
	})

	result, err := fx.engine.Reconcile(context.Background(), "owner-1", "trendyol", idx, fx.jobs.job.ID)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if len(adapter.createCalls) != 0 {
		t.Errorf("unresolved brand must not reach the marketplace: %+v", adapter.createCalls)
	}
	if result.SkippedCount != 1 {
		t.Errorf("expected 1 skip, got %d", result.SkippedCount)
	}

	var reasonLogged bool
	for _, line := range fx.jobs.logs {
		if strings.Contains(line, "not resolved") {
			reasonLogged = true
		}
	}
	if !reasonLogged {
		t.Error("skip reason missing from job log")
	}
}
