package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const (
	// SandboxBaseURL — песочница Daraja.
	SandboxBaseURL = "https://sandbox.safaricom.co.ke"
	// ProductionBaseURL — боевой контур Daraja.
	ProductionBaseURL = "https://api.safaricom.co.ke"

	tokenPath        = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath      = "/mpesa/stkpush/v1/processrequest"
	stkPushQueryPath = "/mpesa/stkpushquery/v1/query"

	timestampLayout = "20060102150405"
)

// RetryConfig конфигурация для retry логики HTTP-запросов к провайдеру.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Config — параметры подключения к Daraja API.
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	HTTPTimeout    time.Duration
}

// PushRequest — параметры STK push: сколько, кому и за что.
type PushRequest struct {
	Amount      int64
	PhoneNumber string
	Reference   string
	Description string
}

// PushResponse — ответ провайдера на push-запрос.
type PushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// QueryResponse — ответ провайдера на запрос статуса.
type QueryResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
}

// DarajaAPI — граница HTTP-клиента провайдера; шлюз зависит от неё,
// а не от конкретного клиента, чтобы в тестах подставлять заглушку.
type DarajaAPI interface {
	STKPush(ctx context.Context, req PushRequest) (PushResponse, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (QueryResponse, error)
}

// Client — HTTP-клиент Daraja API с кэшированием OAuth-токена и
// ограниченным экспоненциальным retry на сетевых ошибках и 5xx.
type Client struct {
	cfg        Config
	httpClient *http.Client
	retry      RetryConfig
	logger     *log.Entry

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient создаёт клиент Daraja. Пустой BaseURL означает песочницу.
func NewClient(cfg Config, retry RetryConfig, logger *log.Entry) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = SandboxBaseURL
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}
	if logger == nil {
		logger = log.New().WithField("component", "mpesa-client")
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		retry:      retry,
		logger:     logger,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// accessToken возвращает кэшированный OAuth-токен или запрашивает новый.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build token request: %v", domain.ErrPaymentInitiation, err)
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	body, err := c.doWithRetry(req, "token")
	if err != nil {
		return "", err
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("%w: decode token response: %v", domain.ErrPaymentInitiation, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", domain.ErrPaymentInitiation)
	}

	c.token = tok.AccessToken
	// Провайдер выдаёт токен на час; обновляем за минуту до истечения.
	c.tokenExpiry = time.Now().Add(59 * time.Minute)
	return c.token, nil
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// STKPush отправляет push-запрос на телефон плательщика.
func (c *Client) STKPush(ctx context.Context, push PushRequest) (PushResponse, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return PushResponse{}, err
	}

	timestamp := time.Now().Format(timestampLayout)
	payload := stkPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          darajaPassword(c.cfg.ShortCode, c.cfg.Passkey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            push.Amount,
		PartyA:            push.PhoneNumber,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       push.PhoneNumber,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  push.Reference,
		TransactionDesc:   push.Description,
	}

	body, err := c.postJSON(ctx, stkPushPath, token, payload, "stk-push")
	if err != nil {
		return PushResponse{}, err
	}

	var resp PushResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return PushResponse{}, fmt.Errorf("%w: decode push response: %v", domain.ErrPaymentInitiation, err)
	}
	if resp.ResponseCode != "0" {
		return PushResponse{}, fmt.Errorf("%w: provider rejected push: code=%s desc=%s",
			domain.ErrPaymentInitiation, resp.ResponseCode, resp.ResponseDescription)
	}
	if resp.CheckoutRequestID == "" {
		return PushResponse{}, fmt.Errorf("%w: push response without checkout request id", domain.ErrPaymentInitiation)
	}

	return resp, nil
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

// QueryStatus запрашивает у провайдера текущий статус push-транзакции.
func (c *Client) QueryStatus(ctx context.Context, checkoutRequestID string) (QueryResponse, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return QueryResponse{}, err
	}

	timestamp := time.Now().Format(timestampLayout)
	payload := stkQueryRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          darajaPassword(c.cfg.ShortCode, c.cfg.Passkey, timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	body, err := c.postJSON(ctx, stkPushQueryPath, token, payload, "stk-query")
	if err != nil {
		return QueryResponse{}, err
	}

	var resp QueryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return QueryResponse{}, fmt.Errorf("%w: decode query response: %v", domain.ErrPaymentInitiation, err)
	}
	return resp, nil
}

func (c *Client) postJSON(ctx context.Context, path, token string, payload any, operation string) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s request: %v", domain.ErrPaymentInitiation, operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: build %s request: %v", domain.ErrPaymentInitiation, operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	return c.doWithRetry(req, operation)
}

// doWithRetry выполняет запрос с экспоненциальным backoff.
// Повторяются сетевые ошибки и 5xx; 4xx возвращается сразу.
func (c *Client) doWithRetry(req *http.Request, operation string) ([]byte, error) {
	var lastErr error
	delay := c.retry.InitialDelay

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		// Тело запроса вычитывается при каждой попытке; перед повтором
		// его нужно восстановить.
		if attempt > 1 && req.GetBody != nil {
			fresh, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("%w: rewind %s request body: %v", domain.ErrPaymentInitiation, operation, err)
			}
			req.Body = fresh
		}

		body, retryable, err := c.doOnce(req)
		if err == nil {
			if attempt > 1 {
				c.logger.WithFields(log.Fields{
					"operation": operation,
					"attempt":   attempt,
				}).Info("Provider request succeeded after retry")
			}
			return body, nil
		}

		lastErr = err
		if !retryable {
			return nil, err
		}

		if attempt < c.retry.MaxAttempts {
			c.logger.WithFields(log.Fields{
				"operation": operation,
				"attempt":   attempt,
				"delay":     delay,
				"error":     err,
			}).Warn("Provider request failed, retrying")

			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(delay):
			}

			delay = time.Duration(float64(delay) * c.retry.BackoffFactor)
			if delay > c.retry.MaxDelay {
				delay = c.retry.MaxDelay
			}
		}
	}

	c.logger.WithFields(log.Fields{
		"operation":    operation,
		"max_attempts": c.retry.MaxAttempts,
		"error":        lastErr,
	}).Error("Provider request failed after all retry attempts")
	return nil, lastErr
}

func (c *Client) doOnce(req *http.Request) (body []byte, retryable bool, err error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", domain.ErrPaymentInitiation, err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, true, fmt.Errorf("%w: read response: %v", domain.ErrPaymentInitiation, err)
	}

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("%w: provider returned %d", domain.ErrPaymentInitiation, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, false, fmt.Errorf("%w: provider returned %d: %s", domain.ErrPaymentInitiation, resp.StatusCode, bytes.TrimSpace(body))
	}

	return body, false, nil
}

// darajaPassword собирает пароль push-запроса по схеме провайдера:
// base64(shortcode + passkey + timestamp).
func darajaPassword(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

var _ DarajaAPI = (*Client)(nil)
