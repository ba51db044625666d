package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sovrium/sovrium/pkg/schema"
)

// HTTPConfig configures the HTTP actions.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
	// Transport overrides the default transport (tests, proxies).
	Transport http.RoundTripper
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
	defaultMaxRedirects    = 10
)

const httpInputSchema = `{
  "type": "object",
  "properties": {
    "url": {"type": "string", "minLength": 1},
    "headers": {"type": "object"},
    "query": {"type": "object"},
    "body": {},
    "bodyEncoding": {"type": "string", "enum": ["json", "form", "text"]},
    "auth": {
      "type": "object",
      "properties": {
        "type": {"type": "string", "enum": ["bearer", "basic", "api_key"]},
        "token": {"type": "string"},
        "username": {"type": "string"},
        "password": {"type": "string"},
        "headerName": {"type": "string"},
        "headerValue": {"type": "string"}
      }
    },
    "timeout": {"type": "string"},
    "followRedirects": {"type": "boolean"},
    "failOnErrorStatus": {"type": "boolean"}
  },
  "required": ["url"]
}`

// HTTPAction implements http/get and http/post.
//
// Output: {statusCode, status, headers, body, contentType, durationMs}. A JSON
// response body is decoded; anything else is returned as a string.
type HTTPAction struct {
	method string
	config HTTPConfig
}

// NewHTTPGetAction creates the http.get action.
func NewHTTPGetAction(cfg HTTPConfig) *HTTPAction {
	return newHTTPAction(http.MethodGet, cfg)
}

// NewHTTPPostAction creates the http.post action.
func NewHTTPPostAction(cfg HTTPConfig) *HTTPAction {
	return newHTTPAction(http.MethodPost, cfg)
}

func newHTTPAction(method string, cfg HTTPConfig) *HTTPAction {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	return &HTTPAction{method: method, config: cfg}
}

func (a *HTTPAction) Name() string {
	return Key(schema.ServiceHTTP, strings.ToLower(a.method))
}

func (a *HTTPAction) Schema() ActionSchema {
	return ActionSchema{
		Description: fmt.Sprintf("Send an HTTP %s request.", a.method),
		InputSchema: json.RawMessage(httpInputSchema),
	}
}

func (a *HTTPAction) Validate(params map[string]any) error {
	rawURL := stringParam(params, "url", "")
	if rawURL == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: missing required param 'url'", a.Name())
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: invalid url %q", a.Name(), rawURL)
	}
	return nil
}

func (a *HTTPAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	params := input.Params
	if params == nil {
		params = map[string]any{}
	}
	if err := a.Validate(params); err != nil {
		return nil, err
	}

	rawURL := stringParam(params, "url", "")
	if q := mapParam(params, "query"); len(q) > 0 {
		u, _ := url.Parse(rawURL)
		vals := u.Query()
		for k, v := range stringMap(q) {
			vals.Set(k, v)
		}
		u.RawQuery = vals.Encode()
		rawURL = u.String()
	}

	timeout := a.config.DefaultTimeout
	if ts := stringParam(params, "timeout", ""); ts != "" {
		if d, err := time.ParseDuration(ts); err == nil {
			timeout = d
		}
	}

	var bodyReader io.Reader
	var contentType string
	if rawBody, ok := params["body"]; ok && rawBody != nil && a.method != http.MethodGet {
		switch stringParam(params, "bodyEncoding", "json") {
		case "form":
			vals := url.Values{}
			if formData, ok := rawBody.(map[string]any); ok {
				for k, v := range stringMap(formData) {
					vals.Set(k, v)
				}
			}
			bodyReader = strings.NewReader(vals.Encode())
			contentType = "application/x-www-form-urlencoded"
		case "text":
			bodyReader = strings.NewReader(fmt.Sprintf("%v", rawBody))
			contentType = "text/plain"
		default:
			b, err := json.Marshal(rawBody)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeActionExecution, "%s: failed to marshal body as JSON", a.Name()).WithCause(err)
			}
			bodyReader = strings.NewReader(string(b))
			contentType = "application/json"
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, a.method, rawURL, bodyReader)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeActionExecution, "%s: failed to create request", a.Name()).WithCause(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range stringMap(mapParam(params, "headers")) {
		req.Header.Set(k, v)
	}
	applyAuth(req, mapParam(params, "auth"))

	resp, durationMs, err := a.do(req, boolParam(params, "followRedirects", true))
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, schema.NewErrorf(schema.ErrCodeTimeout, "%s: request timed out after %s", a.Name(), timeout).WithCause(err)
		}
		return nil, schema.NewErrorf(schema.ErrCodeActionExecution, "%s: request failed: %v", a.Name(), err).WithCause(err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, a.config.MaxResponseBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeActionExecution, "%s: failed to read response body", a.Name()).WithCause(err)
	}

	respContentType := resp.Header.Get("Content-Type")
	var parsedBody any
	if len(bodyBytes) > 0 {
		parsedBody = string(bodyBytes)
		if strings.Contains(respContentType, "json") {
			var jsonBody any
			if err := json.Unmarshal(bodyBytes, &jsonBody); err == nil {
				parsedBody = jsonBody
			}
		}
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	result := map[string]any{
		"statusCode":  resp.StatusCode,
		"status":      resp.Status,
		"headers":     respHeaders,
		"body":        parsedBody,
		"contentType": respContentType,
		"durationMs":  durationMs,
	}

	if boolParam(params, "failOnErrorStatus", true) && resp.StatusCode >= 400 {
		return nil, schema.NewErrorf(schema.ErrCodeActionExecution, "%s: server returned %d", a.Name(), resp.StatusCode).
			WithDetails(result)
	}

	return jsonOutput(a.Name(), result)
}

func (a *HTTPAction) do(req *http.Request, followRedirects bool) (*http.Response, int64, error) {
	transport := a.config.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client := &http.Client{Transport: transport}
	if !followRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else {
		client.CheckRedirect = func(_ *http.Request, via []*http.Request) error {
			if len(via) >= defaultMaxRedirects {
				return fmt.Errorf("stopped after %d redirects", defaultMaxRedirects)
			}
			return nil
		}
	}

	start := time.Now()
	resp, err := client.Do(req)
	return resp, time.Since(start).Milliseconds(), err
}

func applyAuth(req *http.Request, auth map[string]any) {
	if auth == nil {
		return
	}
	switch stringParam(auth, "type", "") {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+stringParam(auth, "token", ""))
	case "basic":
		req.SetBasicAuth(stringParam(auth, "username", ""), stringParam(auth, "password", ""))
	case "api_key":
		if name := stringParam(auth, "headerName", ""); name != "" {
			req.Header.Set(name, stringParam(auth, "headerValue", ""))
		}
	}
}
