package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"marketsync/internal/cache"
	"marketsync/internal/config"
	"marketsync/internal/model"
	"marketsync/internal/ratelimit"
)

const trendyolPageSize = 200

// TrendyolAdapter implements Adapter against the Trendyol seller API
type TrendyolAdapter struct {
	httpClient *http.Client
	gate       *ratelimit.Gate
	baseURL    string
	sellerID   string
	apiKey     string
	apiSecret  string
}

// NewTrendyolAdapter creates a Trendyol connector for one seller account
func NewTrendyolAdapter(cfg config.MarketplaceConfig, gate *ratelimit.Gate) *TrendyolAdapter {
	return &TrendyolAdapter{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		gate:       gate,
		baseURL:    cfg.BaseURL,
		sellerID:   cfg.SellerID,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
	}
}

// Tag implements Adapter.
func (a *TrendyolAdapter) Tag() string { return "trendyol" }

type trendyolProduct struct {
	ID        string  `json:"id"`
	Barcode   string  `json:"barcode"`
	StockCode string  `json:"stockCode"`
	Title     string  `json:"title"`
	SalePrice float64 `json:"salePrice"`
	Quantity  int     `json:"quantity"`
	Approved  bool    `json:"approved"`
	OnSale    bool    `json:"onSale"`
}

type trendyolProductPage struct {
	Content    []trendyolProduct `json:"content"`
	Page       int               `json:"page"`
	TotalPages int               `json:"totalPages"`
}

// ListRemoteInventory implements Adapter. Large accounts page dozens of
// times; every page request passes through the rate gate.
func (a *TrendyolAdapter) ListRemoteInventory(ctx context.Context, fn func(items []model.RemoteProduct) error) error {
	page := 0
	for {
		endpoint := fmt.Sprintf("%s/sellers/%s/products?page=%d&size=%d", a.baseURL, a.sellerID, page, trendyolPageSize)

		body, err := a.request(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("list inventory page %d: %w", page, err)
		}

		var pageData trendyolProductPage
		if err := json.Unmarshal(body, &pageData); err != nil {
			return fmt.Errorf("decode inventory page %d: %w", page, err)
		}

		items := make([]model.RemoteProduct, 0, len(pageData.Content))
		for _, p := range pageData.Content {
			items = append(items, model.RemoteProduct{
				RemoteID:  p.ID,
				StockCode: p.StockCode,
				Barcode:   p.Barcode,
				Title:     p.Title,
				Price:     p.SalePrice,
				Quantity:  p.Quantity,
				Approved:  p.Approved,
				OnSale:    p.OnSale,
			})
		}

		if err := fn(items); err != nil {
			return err
		}

		page++
		if page >= pageData.TotalPages || len(pageData.Content) == 0 {
			return nil
		}
	}
}

type trendyolBatchResponse struct {
	BatchRequestID string `json:"batchRequestId"`
	Errors         []struct {
		Key     string `json:"key"`
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

// CreateListings implements Adapter.
func (a *TrendyolAdapter) CreateListings(ctx context.Context, items []Listing) (*BatchResult, error) {
	payload := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		images := make([]map[string]string, 0, len(item.Record.Images))
		for _, url := range item.Record.Images {
			images = append(images, map[string]string{"url": url})
		}

		payload = append(payload, map[string]interface{}{
			"barcode":       item.Barcode,
			"title":         item.Title,
			"productMainId": item.Record.StockCode,
			"stockCode":     item.Record.StockCode,
			"brandId":       item.BrandID,
			"categoryId":    item.CategoryID,
			"quantity":      item.Quantity,
			"listPrice":     item.Price,
			"salePrice":     item.Price,
			"currencyType":  "TRY",
			"vatRate":       item.Record.VatRate,
			"description":   item.Record.Description,
			"images":        images,
		})
	}

	endpoint := fmt.Sprintf("%s/sellers/%s/products", a.baseURL, a.sellerID)
	return a.pushBatch(ctx, endpoint, payload, len(items))
}

// UpdatePriceAndStock implements Adapter.
func (a *TrendyolAdapter) UpdatePriceAndStock(ctx context.Context, updates []model.PriceStockUpdate) (*BatchResult, error) {
	payload := make([]map[string]interface{}, 0, len(updates))
	for _, u := range updates {
		payload = append(payload, map[string]interface{}{
			"barcode":   u.Key,
			"quantity":  u.Quantity,
			"listPrice": u.Price,
			"salePrice": u.Price,
		})
	}

	endpoint := fmt.Sprintf("%s/sellers/%s/products/price-and-inventory", a.baseURL, a.sellerID)
	return a.pushBatch(ctx, endpoint, payload, len(updates))
}

func (a *TrendyolAdapter) pushBatch(ctx context.Context, endpoint string, items []map[string]interface{}, total int) (*BatchResult, error) {
	body, err := json.Marshal(map[string]interface{}{"items": items})
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}

	respBody, err := a.request(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}

	var resp trendyolBatchResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}

	result := &BatchResult{Succeeded: total - len(resp.Errors)}
	for _, e := range resp.Errors {
		result.Failures = append(result.Failures, ItemFailure{Key: e.Key, Reason: e.Message})
	}

	log.Debug().
		Str("marketplace", a.Tag()).
		Str("batchRequestId", resp.BatchRequestID).
		Int("succeeded", result.Succeeded).
		Int("failed", len(result.Failures)).
		Msg("Pushed batch")

	return result, nil
}

func (a *TrendyolAdapter) request(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	if err := a.gate.Acquire(ctx, a.Tag()); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(a.apiKey, a.apiSecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", fmt.Sprintf("%s - SelfIntegration", a.sellerID))

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trendyol request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read trendyol response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(a.Tag(), resp.StatusCode, respBody)
	}

	return respBody, nil
}

// ResolveBrand implements LookupProvider via the brand search endpoint.
// Trendyol matches brand names exactly, so the first hit wins.
func (a *TrendyolAdapter) ResolveBrand(ctx context.Context, name string) (int64, error) {
	endpoint := fmt.Sprintf("%s/brands/by-name?name=%s", a.baseURL, url.QueryEscape(name))

	body, err := a.request(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("brand lookup: %w", err)
	}

	var brands []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &brands); err != nil {
		return 0, fmt.Errorf("decode brand lookup: %w", err)
	}
	if len(brands) == 0 {
		return 0, cache.ErrNotResolved
	}

	return brands[0].ID, nil
}

type trendyolCategory struct {
	ID            int64              `json:"id"`
	Name          string             `json:"name"`
	SubCategories []trendyolCategory `json:"subCategories,omitempty"`
}

// ResolveCategory implements LookupProvider by walking the category tree
// for a case-insensitive name match. Results are cached upstream so the
// tree fetch stays rare.
func (a *TrendyolAdapter) ResolveCategory(ctx context.Context, name string) (int64, error) {
	endpoint := fmt.Sprintf("%s/product-categories", a.baseURL)

	body, err := a.request(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("category lookup: %w", err)
	}

	var tree struct {
		Categories []trendyolCategory `json:"categories"`
	}
	if err := json.Unmarshal(body, &tree); err != nil {
		return 0, fmt.Errorf("decode category tree: %w", err)
	}

	if id, ok := findCategory(tree.Categories, strings.ToLower(name)); ok {
		return id, nil
	}
	return 0, cache.ErrNotResolved
}

// findCategory walks the tree with an explicit stack; category trees run
// deep enough that recursion depth should not depend on marketplace data.
func findCategory(categories []trendyolCategory, lowered string) (int64, bool) {
	stack := make([]trendyolCategory, len(categories))
	copy(stack, categories)

	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if strings.ToLower(c.Name) == lowered {
			return c.ID, true
		}
		stack = append(stack, c.SubCategories...)
	}
	return 0, false
}
