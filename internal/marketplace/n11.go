package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"marketsync/internal/config"
	"marketsync/internal/model"
	"marketsync/internal/ratelimit"
)

const n11PageSize = 100

// N11Adapter implements Adapter against the n11 seller API. n11 keys its
// listings by what the catalog considers a stock code but reports quantities
// under "stockItems"; the adapter flattens that shape.
type N11Adapter struct {
	httpClient *http.Client
	gate       *ratelimit.Gate
	baseURL    string
	apiKey     string
	apiSecret  string
}

// NewN11Adapter creates an n11 connector for one seller account
func NewN11Adapter(cfg config.MarketplaceConfig, gate *ratelimit.Gate) *N11Adapter {
	return &N11Adapter{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		gate:       gate,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
	}
}

// Tag implements Adapter.
func (a *N11Adapter) Tag() string { return "n11" }

type n11Product struct {
	ProductID  int64   `json:"productId"`
	StockCode  string  `json:"stockCode"`
	Barcode    string  `json:"barcode"`
	Title      string  `json:"title"`
	SalePrice  float64 `json:"salePrice"`
	Quantity   int     `json:"quantity"`
	Status     string  `json:"status"`
	SaleStatus string  `json:"saleStatus"`
}

type n11ProductPage struct {
	Content    []n11Product `json:"content"`
	TotalPages int          `json:"totalPages"`
}

// ListRemoteInventory implements Adapter.
func (a *N11Adapter) ListRemoteInventory(ctx context.Context, fn func(items []model.RemoteProduct) error) error {
	page := 0
	for {
		endpoint := fmt.Sprintf("%s/ms/product-query?page=%d&size=%d", a.baseURL, page, n11PageSize)

		body, err := a.request(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("list inventory page %d: %w", page, err)
		}

		var pageData n11ProductPage
		if err := json.Unmarshal(body, &pageData); err != nil {
			return fmt.Errorf("decode inventory page %d: %w", page, err)
		}

		items := make([]model.RemoteProduct, 0, len(pageData.Content))
		for _, p := range pageData.Content {
			items = append(items, model.RemoteProduct{
				RemoteID:  fmt.Sprintf("%d", p.ProductID),
				StockCode: p.StockCode,
				Barcode:   p.Barcode,
				Title:     p.Title,
				Price:     p.SalePrice,
				Quantity:  p.Quantity,
				Approved:  p.Status == "Active",
				OnSale:    p.SaleStatus == "ON_SALE",
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

type n11BatchResponse struct {
	ID           string `json:"id"`
	FailedItems  []struct {
		StockCode string `json:"stockCode"`
		Reason    string `json:"reason"`
	} `json:"failedItems,omitempty"`
}

// CreateListings implements Adapter.
func (a *N11Adapter) CreateListings(ctx context.Context, items []Listing) (*BatchResult, error) {
	payload := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		payload = append(payload, map[string]interface{}{
			"title":       item.Title,
			"description": item.Record.Description,
			"categoryId":  item.CategoryID,
			"stockCode":   item.Record.StockCode,
			"barcode":     item.Barcode,
			"salePrice":   item.Price,
			"quantity":    item.Quantity,
			"images":      item.Record.Images,
			"brandId":     item.BrandID,
			"vatRate":     item.Record.VatRate,
		})
	}

	endpoint := fmt.Sprintf("%s/ms/product/tasks/product-create", a.baseURL)
	return a.pushBatch(ctx, endpoint, payload, len(items))
}

// UpdatePriceAndStock implements Adapter.
func (a *N11Adapter) UpdatePriceAndStock(ctx context.Context, updates []model.PriceStockUpdate) (*BatchResult, error) {
	payload := make([]map[string]interface{}, 0, len(updates))
	for _, u := range updates {
		payload = append(payload, map[string]interface{}{
			"stockCode": u.Key,
			"salePrice": u.Price,
			"quantity":  u.Quantity,
		})
	}

	endpoint := fmt.Sprintf("%s/ms/product/tasks/price-stock-update", a.baseURL)
	return a.pushBatch(ctx, endpoint, payload, len(updates))
}

func (a *N11Adapter) pushBatch(ctx context.Context, endpoint string, items []map[string]interface{}, total int) (*BatchResult, error) {
	body, err := json.Marshal(map[string]interface{}{"payload": items})
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}

	respBody, err := a.request(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}

	var resp n11BatchResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}

	result := &BatchResult{Succeeded: total - len(resp.FailedItems)}
	for _, f := range resp.FailedItems {
		result.Failures = append(result.Failures, ItemFailure{Key: f.StockCode, Reason: f.Reason})
	}

	return result, nil
}

func (a *N11Adapter) request(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
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
	req.Header.Set("appkey", a.apiKey)
	req.Header.Set("appsecret", a.apiSecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("n11 request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read n11 response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(a.Tag(), resp.StatusCode, respBody)
	}

	return respBody, nil
}
