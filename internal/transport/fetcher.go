// Package transport 实现 remote 仓库的上游 HTTP 访问。
//
// 上游 404/410 表示内容不存在，返回 ErrNotFound；其余非 2xx 状态、网络错误与
// 超时均返回 *FaultError，调用方据此区分“没有”与“失败”。
package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/content-hub/internal/topology"
)

// ErrNotFound 表示上游不存在该内容。
var ErrNotFound = errors.New("upstream content not found")

// FaultError 描述一次失败的上游访问。
type FaultError struct {
	URL     string
	Status  int
	Timeout bool
	Err     error
}

func (e *FaultError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("upstream %s timed out: %v", e.URL, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("upstream %s returned status %d", e.URL, e.Status)
	default:
		return fmt.Sprintf("upstream %s failed: %v", e.URL, e.Err)
	}
}

func (e *FaultError) Unwrap() error { return e.Err }

// Response 是一次成功回源的结果，调用方负责关闭 Body。
type Response struct {
	URL    string
	Status int
	Header http.Header
	Body   io.ReadCloser
}

// Fetcher 是 remote 仓库的上游访问契约。
type Fetcher interface {
	Fetch(ctx context.Context, loc topology.Location, path string) (*Response, error)
	Exists(ctx context.Context, loc topology.Location, path string) (bool, error)
}

// HTTPFetcher 基于共享 http.Client 访问上游。
type HTTPFetcher struct {
	client *http.Client
	logger *logrus.Logger
}

// NewHTTPFetcher 构建 Fetcher；client 为 nil 时使用 NewClient。
func NewHTTPFetcher(client *http.Client, logger *logrus.Logger) *HTTPFetcher {
	if client == nil {
		client = NewClient()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HTTPFetcher{client: client, logger: logger}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, loc topology.Location, path string) (*Response, error) {
	resp, upstream, cancel, err := f.do(ctx, loc, http.MethodGet, path)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		f.logResult(loc, upstream, resp.StatusCode, nil)
		header := http.Header{}
		CopyHeaders(header, resp.Header)
		return &Response{
			URL:    upstream.String(),
			Status: resp.StatusCode,
			Header: header,
			Body:   &cancelOnClose{ReadCloser: resp.Body, cancel: cancel},
		}, nil
	case isAbsent(resp.StatusCode):
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, upstream.String())
	default:
		resp.Body.Close()
		cancel()
		fault := &FaultError{URL: upstream.String(), Status: resp.StatusCode}
		f.logResult(loc, upstream, resp.StatusCode, fault)
		return nil, fault
	}
}

func (f *HTTPFetcher) Exists(ctx context.Context, loc topology.Location, path string) (bool, error) {
	resp, upstream, cancel, err := f.do(ctx, loc, http.MethodHead, path)
	if err != nil {
		return false, err
	}
	defer cancel()
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	case isAbsent(resp.StatusCode):
		return false, nil
	default:
		return false, &FaultError{URL: upstream.String(), Status: resp.StatusCode}
	}
}

// do 发起请求；凭证配置且上游返回 401/429 时按挑战重试一次。
func (f *HTTPFetcher) do(ctx context.Context, loc topology.Location, method, path string) (*http.Response, *url.URL, context.CancelFunc, error) {
	if loc.Remote == nil || loc.Remote.URL == nil {
		return nil, nil, nil, fmt.Errorf("store %s has no upstream", loc.Key)
	}
	upstream := ResolveUpstreamURL(loc.Remote.URL, path)

	var (
		reqCtx context.Context
		cancel context.CancelFunc
	)
	if loc.Remote.Timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, loc.Remote.Timeout)
	} else {
		reqCtx, cancel = context.WithCancel(ctx)
	}

	resp, err := f.execute(reqCtx, loc.Remote, method, upstream, "")
	if err != nil {
		cancel()
		return nil, upstream, nil, f.fault(reqCtx, loc, upstream, err)
	}

	if shouldRetryAuth(loc.Remote, resp.StatusCode) {
		challenge, ok := parseBearerChallenge(resp.Header.Values("Www-Authenticate"))
		resp.Body.Close()

		authHeader := ""
		if ok {
			token, err := f.fetchBearerToken(reqCtx, challenge, loc.Remote)
			if err != nil {
				cancel()
				return nil, upstream, nil, f.fault(reqCtx, loc, upstream, err)
			}
			authHeader = "Bearer " + token
		}
		resp, err = f.execute(reqCtx, loc.Remote, method, upstream, authHeader)
		if err != nil {
			cancel()
			return nil, upstream, nil, f.fault(reqCtx, loc, upstream, err)
		}
	}
	return resp, upstream, cancel, nil
}

func (f *HTTPFetcher) execute(ctx context.Context, remote *topology.RemoteAttributes, method string, upstream *url.URL, overrideAuth string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, upstream.String(), http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "content-hub")
	if overrideAuth != "" {
		req.Header.Set("Authorization", overrideAuth)
	} else if authHeader := buildCredentialHeader(remote.Username, remote.Password); authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	return f.clientFor(remote).Do(req)
}

func (f *HTTPFetcher) clientFor(remote *topology.RemoteAttributes) *http.Client {
	if remote.ProxyURL == nil {
		return f.client
	}
	transport := http.Transport{}
	if base, ok := f.client.Transport.(*http.Transport); ok && base != nil {
		transport = *base.Clone()
	}
	transport.Proxy = http.ProxyURL(remote.ProxyURL)
	client := *f.client
	client.Transport = &transport
	return &client
}

func (f *HTTPFetcher) fault(ctx context.Context, loc topology.Location, upstream *url.URL, err error) error {
	fault := &FaultError{URL: upstream.String(), Err: err}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		fault.Timeout = true
	}
	f.logResult(loc, upstream, 0, fault)
	return fault
}

func (f *HTTPFetcher) logResult(loc topology.Location, upstream *url.URL, status int, err error) {
	fields := logrus.Fields{
		"action":   "remote_fetch",
		"store":    loc.Key.String(),
		"upstream": upstream.String(),
		"status":   status,
	}
	if err != nil {
		fields["error"] = err.Error()
		f.logger.WithFields(fields).Warn("remote_fetch_failed")
		return
	}
	f.logger.WithFields(fields).Debug("remote_fetch_completed")
}

// ResolveUpstreamURL 将逻辑路径拼接到上游基址后，保留基址自身的路径前缀与目录结尾斜杠。
func ResolveUpstreamURL(base *url.URL, path string) *url.URL {
	out := *base
	prefix := strings.TrimSuffix(base.Path, "/")
	out.Path = prefix + "/" + strings.TrimPrefix(path, "/")
	out.RawPath = ""
	return &out
}

func isAbsent(status int) bool {
	return status == http.StatusNotFound || status == http.StatusGone
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

type bearerChallenge struct {
	Realm   string
	Service string
	Scope   string
}

func parseBearerChallenge(values []string) (bearerChallenge, bool) {
	for _, raw := range values {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.HasPrefix(strings.ToLower(raw), "bearer ") {
			continue
		}
		params := parseAuthParams(raw[len("Bearer "):])
		challenge := bearerChallenge{
			Realm:   params["realm"],
			Service: params["service"],
			Scope:   params["scope"],
		}
		if challenge.Realm == "" {
			continue
		}
		return challenge, true
	}
	return bearerChallenge{}, false
}

func parseAuthParams(input string) map[string]string {
	params := make(map[string]string)
	for _, part := range strings.Split(input, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		params[key] = strings.Trim(strings.TrimSpace(kv[1]), `"`)
	}
	return params
}

func (f *HTTPFetcher) fetchBearerToken(ctx context.Context, challenge bearerChallenge, remote *topology.RemoteAttributes) (string, error) {
	tokenURL, err := url.Parse(challenge.Realm)
	if err != nil {
		return "", fmt.Errorf("invalid bearer realm: %w", err)
	}
	query := tokenURL.Query()
	if challenge.Service != "" {
		query.Set("service", challenge.Service)
	}
	if challenge.Scope != "" {
		query.Set("scope", challenge.Scope)
	}
	tokenURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL.String(), nil)
	if err != nil {
		return "", err
	}
	if remote.HasCredentials() {
		req.SetBasicAuth(remote.Username, remote.Password)
	}

	resp, err := f.clientFor(remote).Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("token request failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tokenResp struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	token := tokenResp.Token
	if token == "" {
		token = tokenResp.AccessToken
	}
	if token == "" {
		return "", errors.New("token response missing token value")
	}
	return token, nil
}

func buildCredentialHeader(username, password string) string {
	if username == "" || password == "" {
		return ""
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

func shouldRetryAuth(remote *topology.RemoteAttributes, status int) bool {
	return remote.HasCredentials() && (status == http.StatusUnauthorized || status == http.StatusTooManyRequests)
}
