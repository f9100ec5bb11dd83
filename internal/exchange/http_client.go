package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yuechangmingzou/nofx-engine/internal/utils"
)

const backoffKey = "binance"

// ErrRateLimited 交易所限流
var ErrRateLimited = errors.New("exchange rate limited")

// HTTPOptions HTTP客户端参数
type HTTPOptions struct {
	BaseURL    string
	APIKey     string
	SecretKey  string
	Timeout    time.Duration
	RateRPS    float64
	RateBurst  int
	HTTPClient *http.Client
}

// HTTPClient 带限流、退避和签名的REST客户端
type HTTPClient struct {
	client      *http.Client
	rateLimiter *RateLimiter
	backoff     *BackoffManager
	baseURL     string
	apiKey      string
	secretKey   string
	now         func() time.Time
}

// NewHTTPClient 创建HTTP客户端
func NewHTTPClient(opts HTTPOptions) *HTTPClient {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{
		client:      client,
		rateLimiter: NewRateLimiter(opts.RateRPS, opts.RateBurst),
		backoff:     NewBackoffManager(6, 60.0),
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		apiKey:      opts.APIKey,
		secretKey:   opts.SecretKey,
		now:         time.Now,
	}
}

// HasCredentials 是否配置了API密钥
func (c *HTTPClient) HasCredentials() bool {
	return c.apiKey != "" && c.secretKey != ""
}

// Do 发送请求并把JSON响应解码到out
func (c *HTTPClient) Do(ctx context.Context, method, endpoint string, params map[string]string, signed bool, out interface{}) error {
	if signed && !c.HasCredentials() {
		return fmt.Errorf("API keys required for %s", endpoint)
	}
	if err := c.backoff.WaitBackoff(ctx, backoffKey); err != nil {
		return err
	}
	if err := c.rateLimiter.Wait(ctx, 1); err != nil {
		return err
	}

	query := c.encode(params, signed)
	u := c.baseURL + endpoint
	if query != "" {
		u += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("create request failed: %w", err)
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body failed: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		c.backoff.ResetBackoff(backoffKey)
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("parse JSON failed: %w", err)
		}
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418:
		waitSec := c.backoff.OnRateLimited(backoffKey, resp.StatusCode, ParseRetryAfter(resp.Header.Get("Retry-After")))
		utils.GetLogger("exchange").Warnw("交易所限流",
			"status", resp.StatusCode,
			"endpoint", endpoint,
			"wait_sec", waitSec,
		)
		return fmt.Errorf("%w: HTTP %d, wait %.1fs", ErrRateLimited, resp.StatusCode, waitSec)
	default:
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, utils.Truncate(utils.SanitizeString(string(body)), 500))
	}
}

// encode 按键排序编码参数，签名请求追加timestamp和signature
func (c *HTTPClient) encode(params map[string]string, signed bool) string {
	values := make(map[string]string, len(params)+1)
	for k, v := range params {
		values[k] = v
	}
	if signed {
		values["timestamp"] = strconv.FormatInt(c.now().UnixMilli(), 10)
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+url.QueryEscape(values[k]))
	}
	query := strings.Join(parts, "&")
	if signed {
		query += "&signature=" + c.sign(query)
	}
	return query
}

// sign HMAC-SHA256签名
func (c *HTTPClient) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}
