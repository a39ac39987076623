// Package remote is the HTTP plumbing shared by the auth, database, storage
// and user management clients: request building, the apikey header and
// decoding of backend error replies.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	nerrors "github.com/jrsteele09/notifica/internal/errors"
	"github.com/pkg/errors"
)

const (
	contentTypeJSON = "application/json"
	clientInfo      = "notifica-go/1"
	maxErrorBody    = 64 << 10
)

// Caller issues requests against one backend project.
type Caller struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Request describes a single backend call.
type Request struct {
	Method   string
	Path     string // path below the project URL, e.g. "/rest/v1/alunos"
	RawQuery string
	Header   http.Header
	// Body is JSON encoded unless it is an io.Reader, which is sent as is.
	Body any
	// Bearer overrides the Authorization token. When empty the anon key is
	// used; an oauth2 transport on the HTTP client may still replace it.
	Bearer string
}

// NewCaller returns a Caller for the project at baseURL. A nil httpClient
// means http.DefaultClient.
func NewCaller(baseURL, apiKey string, httpClient *http.Client) *Caller {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Caller{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// BaseURL returns the project URL.
func (c *Caller) BaseURL() string {
	return c.baseURL
}

// APIKey returns the anon key sent with every request.
func (c *Caller) APIKey() string {
	return c.apiKey
}

// WithHTTPClient returns a copy of c that sends requests through httpClient.
func (c *Caller) WithHTTPClient(httpClient *http.Client) *Caller {
	cp := *c
	cp.httpClient = httpClient
	return &cp
}

// URL joins path and query onto the project URL.
func (c *Caller) URL(path, rawQuery string) string {
	u := c.baseURL + path
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}

// Do sends req and decodes a successful JSON reply into out. out may be nil
// (reply discarded) or a *[]byte (raw body). Non-2xx replies come back as
// *errors.RemoteError.
func (c *Caller) Do(ctx context.Context, req Request, out any) (http.Header, error) {
	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, errors.Wrap(err, "[Caller.Do] encode body")
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.URL(req.Path, req.RawQuery), body)
	if err != nil {
		return nil, errors.Wrap(err, "[Caller.Do] new request")
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", contentTypeJSON)
	}
	httpReq.Header.Set("apikey", c.apiKey)
	httpReq.Header.Set("X-Client-Info", clientInfo)
	httpReq.Header.Set("X-Request-Id", uuid.NewString())
	bearer := req.Bearer
	if bearer == "" {
		bearer = c.apiKey
	}
	httpReq.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(err, "[Caller.Do] %s %s", req.Method, req.Path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.Header, DecodeError(resp.StatusCode, raw)
	}

	switch dst := out.(type) {
	case nil:
		_, _ = io.Copy(io.Discard, resp.Body)
	case *[]byte:
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.Header, errors.Wrap(err, "[Caller.Do] read body")
		}
		*dst = raw
	default:
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.Header, errors.Wrap(err, "[Caller.Do] read body")
		}
		if len(bytes.TrimSpace(raw)) == 0 {
			return resp.Header, nil
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return resp.Header, errors.Wrap(err, "[Caller.Do] decode reply")
		}
	}
	return resp.Header, nil
}

func encodeBody(body any) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case io.Reader:
		return b, "", nil
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(raw), contentTypeJSON, nil
	}
}

// DecodeError turns an error reply into a RemoteError. The backend services
// disagree on field names, so the common spellings are all tried.
func DecodeError(status int, raw []byte) *nerrors.RemoteError {
	re := &nerrors.RemoteError{Status: status}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		re.Message = strings.TrimSpace(string(raw))
		if re.Message == "" {
			re.Message = http.StatusText(status)
		}
		return re
	}
	re.Message = firstString(fields, "message", "msg", "error_description", "error")
	re.Code = firstString(fields, "error_code", "code", "error")
	if re.Code == re.Message {
		re.Code = ""
	}
	re.Details = firstString(fields, "details", "hint")
	if re.Message == "" {
		re.Message = http.StatusText(status)
	}
	return re
}

func firstString(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := fields[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%d", int(v))
		}
	}
	return ""
}
