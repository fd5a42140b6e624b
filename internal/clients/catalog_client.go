package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/santehsupply/orders-api/pkg/circuitbreaker"
	"github.com/santehsupply/orders-api/pkg/errors"
	"github.com/santehsupply/orders-api/pkg/logger"
	"github.com/santehsupply/orders-api/pkg/retry"
)

// CatalogClient fetches product data from the catalog service. Unit
// prices for new orders are always taken from here, never from client
// input.
type CatalogClient struct {
	baseURL     string
	httpClient  *http.Client
	logger      logger.Logger
	retryConfig *retry.RetryConfig
	breaker     *circuitbreaker.CircuitBreaker
}

// ProductResponse represents the catalog's product payload
type ProductResponse struct {
	ProductID int64           `json:"product_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Price     decimal.Decimal `json:"price,omitempty"`
	Error     string          `json:"error,omitempty"`
	Code      string          `json:"code,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// NewCatalogClient creates a new CatalogClient
func NewCatalogClient(baseURL string, logger logger.Logger) *CatalogClient {
	httpClient := &http.Client{
		Timeout: 5 * time.Second,
	}

	retryConfig := &retry.RetryConfig{
		MaxAttempts: 3,
		BackoffStrategy: &retry.ExponentialBackoff{
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      1.5,
			JitterFactor:    0.2,
		},
		Logger: logger,
		RetryableErrors: []error{
			errors.ErrTimeout,
			errors.ErrTransientStore,
		},
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 2,
	})

	return &CatalogClient{
		baseURL:     baseURL,
		httpClient:  httpClient,
		logger:      logger,
		retryConfig: retryConfig,
		breaker:     breaker,
	}
}

// GetProduct fetches a product by id. A missing product is reported as
// ErrProductNotFound; catalog outages surface as retryable errors.
func (c *CatalogClient) GetProduct(ctx context.Context, productID int64) (*ProductResponse, error) {
	if !c.breaker.Allow() {
		c.logger.Warn("Catalog circuit breaker open, rejecting call", "productID", productID)
		return nil, errors.NewTransientStoreError("catalog service unavailable")
	}

	url := fmt.Sprintf("%s/api/v1/products/%d", c.baseURL, productID)

	var response *ProductResponse

	retryFunc := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return errors.NewInternalError(fmt.Sprintf("failed to create request: %v", err))
		}

		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return errors.NewTimeoutError("product request timed out")
			}
			return errors.NewTransientStoreError(fmt.Sprintf("failed to make request: %v", err))
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return errors.NewInternalError(fmt.Sprintf("failed to read response body: %v", err))
		}

		if resp.StatusCode == http.StatusNotFound {
			return errors.NewAppError(
				errors.ErrProductNotFound,
				fmt.Sprintf("product %d not found in catalog", productID),
				http.StatusNotFound,
				false,
			)
		}

		if resp.StatusCode >= 400 {
			if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout {
				return errors.NewTimeoutError("product request timed out")
			}

			if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusInternalServerError {
				return errors.NewTransientStoreError(fmt.Sprintf("catalog service error: %d", resp.StatusCode))
			}

			return errors.NewAppError(
				errors.ErrInternal,
				fmt.Sprintf("catalog service returned error: %d", resp.StatusCode),
				resp.StatusCode,
				false,
			)
		}

		response = &ProductResponse{}

		if err := json.Unmarshal(body, response); err != nil {
			return errors.NewInternalError(fmt.Sprintf("failed to parse response: %v", err))
		}

		if response.Error != "" {
			if response.Code == "TIMEOUT" {
				return errors.NewTimeoutError(response.Error)
			}
			return errors.NewTransientStoreError(response.Error)
		}

		return nil
	}

	err := retry.Retry(ctx, retryFunc, c.retryConfig)
	if err != nil {
		if errors.IsRetryable(err) {
			c.breaker.Failure()
		}

		c.logger.Error("Failed to fetch product after retries",
			"error", err,
			"productID", productID)
		return nil, err
	}

	c.breaker.Success()
	return response, nil
}
