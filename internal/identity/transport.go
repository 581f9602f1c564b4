package identity

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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/hitoshi/clientportal/internal/identity"

// DefaultTimeout はHTTPクライアント未指定時のIdP呼び出しタイムアウト。
const DefaultTimeout = 10 * time.Second

// ProviderError はIdPのエラーレスポンスを表す。
type ProviderError struct {
	Status  int
	Code    string
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity provider returned %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("identity provider returned %d: %s", e.Status, e.Message)
}

// transport はIdPのREST API（/auth/v1）呼び出しを共通化する。
type transport struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func newTransport(baseURL, apiKey string, httpClient *http.Client) transport {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return transport{
		baseURL:    strings.TrimRight(baseURL, "/") + "/auth/v1",
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// do はJSONリクエストを送信し、成功時はレスポンスをoutにデコードする。
// bearerが空の場合はAPIキーをBearerトークンとして使用する。
func (t transport) do(ctx context.Context, op, method, path string, query url.Values, bearer string, body, out any) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "identity."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("identity.path", path),
		),
	)
	defer span.End()

	err := t.roundTrip(ctx, method, path, query, bearer, body, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (t transport) roundTrip(ctx context.Context, method, path string, query url.Values, bearer string, body, out any) error {
	endpoint := t.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if bearer == "" {
		bearer = t.apiKey
	}
	req.Header.Set("apikey", t.apiKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to identity provider failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read identity provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseProviderError(resp.StatusCode, respBody)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse identity provider response: %w", err)
	}
	return nil
}

// parseProviderError はIdPのエラーボディを解釈する。
// APIのバージョンによりerror_code/msg形式とerror/error_description形式が混在する。
func parseProviderError(status int, body []byte) *ProviderError {
	pe := &ProviderError{Status: status, Message: http.StatusText(status)}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		if s := strings.TrimSpace(string(body)); s != "" {
			pe.Message = s
		}
		return pe
	}

	for _, key := range []string{"error_code", "error"} {
		if v, ok := payload[key].(string); ok && v != "" {
			pe.Code = v
			break
		}
	}
	for _, key := range []string{"msg", "error_description", "message"} {
		if v, ok := payload[key].(string); ok && v != "" {
			pe.Message = v
			break
		}
	}
	return pe
}
