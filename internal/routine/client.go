package routine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"slices"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const maxResponseBody = 1 << 20

// Options are shared by all built-in routines.
type Options struct {
	// HTTPClient used for API calls, http.DefaultClient if nil
	HTTPClient *http.Client
	// RequestInterval is the minimal gap between two API calls of one run.
	// Zero disables the limit.
	RequestInterval time.Duration
}

// restClient talks to the platform API on behalf of one run.
type restClient struct {
	http    *http.Client
	token   string
	limiter *rate.Limiter
}

func (o Options) client(token string) *restClient {
	hc := o.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	limit := rate.Inf
	if o.RequestInterval > 0 {
		limit = rate.Every(o.RequestInterval)
	}
	return &restClient{
		http:    hc,
		token:   token,
		limiter: rate.NewLimiter(limit, 1),
	}
}

type response struct {
	Status int
	Body   []byte
}

func (r response) OK(codes ...int) bool {
	return slices.Contains(codes, r.Status)
}

func (r response) Reason() string {
	return http.StatusText(r.Status)
}

func (r response) Text() string {
	return strings.TrimSpace(string(r.Body))
}

func (r response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

func (c *restClient) do(ctx context.Context, method, url string, body io.Reader, contentType string) (response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return response{}, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return response{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return response{}, fmt.Errorf("read response: %w", err)
	}
	return response{Status: resp.StatusCode, Body: b}, nil
}

func (c *restClient) get(ctx context.Context, url string) (response, error) {
	return c.do(ctx, http.MethodGet, url, nil, "")
}

func (c *restClient) delete(ctx context.Context, url string) (response, error) {
	return c.do(ctx, http.MethodDelete, url, nil, "")
}

// sendJSON sends payload as a JSON body, no body when payload is nil.
func (c *restClient) sendJSON(ctx context.Context, method, url string, payload any) (response, error) {
	if payload == nil {
		return c.do(ctx, method, url, nil, "application/json")
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return response{}, fmt.Errorf("marshal payload: %w", err)
	}
	return c.do(ctx, method, url, bytes.NewReader(b), "application/json")
}

// putMultipartJSON sends payload as a JSON part called name of a
// multipart/form-data body.
func (c *restClient) putMultipartJSON(ctx context.Context, url, name string, payload any) (response, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return response{}, fmt.Errorf("marshal payload: %w", err)
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q`, name))
	h.Set("Content-Type", "application/json")
	part, err := mw.CreatePart(h)
	if err != nil {
		return response{}, err
	}
	if _, err := part.Write(b); err != nil {
		return response{}, err
	}
	if err := mw.Close(); err != nil {
		return response{}, err
	}
	return c.do(ctx, http.MethodPut, url, &buf, mw.FormDataContentType())
}
