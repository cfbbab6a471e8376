package ringcentral

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/ringclaw/internal/channels"
)

const (
	tmRoot        = "/team-messaging/v1"
	restRoot      = "/restapi/v1.0"
	tokenEndpoint = "/restapi/oauth/token"
	jwtGrantType  = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	tokenExpiryBuffer = 3 * time.Minute
)

// RestClient is a lightweight RingCentral API client using net/http.
// It owns the bearer credential (JWT grant, auto-refresh) and exposes
// JSON, multipart and bounded streaming-download calls. The token
// endpoint has very low capacity on the platform side, so refreshes go
// through a 1-per-minute limiter.
type RestClient struct {
	server       string
	clientID     string
	clientSecret string
	jwt          string
	accountID    string // bridge account id, for error context only
	httpClient   *http.Client

	tokenLimiter *rate.Limiter

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// NewRestClient creates a client for one account's credentials.
func NewRestClient(accountID, server, clientID, clientSecret, jwt string) *RestClient {
	return &RestClient{
		server:       strings.TrimRight(server, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		jwt:          jwt,
		accountID:    accountID,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		// Burst of 2 so an initial fetch plus one expired-token refresh
		// pass immediately; sustained refresh storms are paced to 1/min.
		tokenLimiter: rate.NewLimiter(rate.Every(time.Minute), 2),
	}
}

// Server returns the API server base URL.
func (c *RestClient) Server() string { return c.server }

// --- Token management (JWT grant) ---

// getToken returns a cached bearer token, acquiring a fresh one via the
// JWT grant when missing or near expiry.
func (c *RestClient) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExp) {
		return c.token, nil
	}

	if err := c.tokenLimiter.Wait(ctx); err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("grant_type", jwtGrantType)
	form.Set("assertion", c.jwt)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.server+tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	basic := base64.StdEncoding.EncodeToString([]byte(c.clientID + ":" + c.clientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ringcentral token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("ringcentral token read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", parseAPIError(resp.StatusCode, resp.Header.Get("x-request-id"), c.accountID, body, retryAfterHeader(resp))
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("ringcentral token decode: %w", err)
	}
	if result.AccessToken == "" {
		return "", parseAPIError(resp.StatusCode, resp.Header.Get("x-request-id"), c.accountID, body, 0)
	}

	c.token = result.AccessToken
	c.tokenExp = time.Now().Add(time.Duration(result.ExpiresIn)*time.Second - tokenExpiryBuffer)
	return c.token, nil
}

func (c *RestClient) clearToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExp = time.Time{}
	c.mu.Unlock()
}

// BearerToken exposes the current credential for the websocket dial.
func (c *RestClient) BearerToken(ctx context.Context) (string, error) {
	return c.getToken(ctx)
}

// --- Generic API helpers ---

// doJSON performs an authenticated JSON API call. out may be nil for
// calls whose response body is irrelevant. A single retry happens on
// 401 with a cleared token (expired credential).
func (c *RestClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	err := c.doJSONOnce(ctx, method, path, body, out)
	if err != nil {
		var ae *APIError
		if asAPIError(err, &ae) && ae.HTTPStatus == 401 {
			c.clearToken()
			return c.doJSONOnce(ctx, method, path, body, out)
		}
	}
	return err
}

func (c *RestClient) doJSONOnce(ctx context.Context, method, path string, body, out interface{}) error {
	token, err := c.getToken(ctx)
	if err != nil {
		return err
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.server+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ringcentral api %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("ringcentral api read: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAPIError(resp.StatusCode, resp.Header.Get("x-request-id"), c.accountID, respBody, retryAfterHeader(resp))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("ringcentral api decode %s %s: %w", method, path, err)
		}
	}
	return nil
}

// doMultipart uploads a file plus optional JSON fields.
func (c *RestClient) doMultipart(ctx context.Context, path string, fileName string, fileData io.Reader, contentType string, out interface{}) error {
	token, err := c.getToken(ctx)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if fileName == "" {
		fileName = "upload"
	}
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, fileData); err != nil {
		return fmt.Errorf("copy file data: %w", err)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.server+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	_ = contentType // the platform infers the attachment type server-side

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ringcentral upload %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("ringcentral upload read: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAPIError(resp.StatusCode, resp.Header.Get("x-request-id"), c.accountID, respBody, retryAfterHeader(resp))
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("ringcentral upload decode: %w", err)
		}
	}
	return nil
}

// Download is the bounded streaming content fetch. contentURI is used
// verbatim as returned by the platform; relative URIs are resolved
// against the API server. The maxBytes contract:
//
//  1. An advertised Content-Length over the limit fails without
//     consuming the body.
//  2. Otherwise the body is read chunk-by-chunk; crossing the limit
//     cancels the stream and fails.
//
// There is deliberately no whole-body convenience read.
func (c *RestClient) Download(ctx context.Context, contentURI string, maxBytes int64) (*channels.FetchResult, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return nil, err
	}

	target := contentURI
	if strings.HasPrefix(target, "/") {
		target = c.server + target
	}

	// Cancelling this context tears down the transfer mid-stream.
	dlCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ringcentral download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, parseAPIError(resp.StatusCode, resp.Header.Get("x-request-id"), c.accountID, body, retryAfterHeader(resp))
	}

	data, err := channels.ReadAllLimited(resp.Body, resp.ContentLength, maxBytes)
	if err != nil {
		cancel()
		return nil, err
	}

	return &channels.FetchResult{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

func retryAfterHeader(resp *http.Response) int {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return secs
	}
	return 0
}

func asAPIError(err error, target **APIError) bool {
	ae, ok := err.(*APIError)
	if ok {
		*target = ae
	}
	return ok
}
