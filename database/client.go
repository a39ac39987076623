// Package database wraps the backend's PostgREST-style table API. Row-level
// security on the server decides what each signed-in user may read or write;
// the client only forwards the user's access token.
package database

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jrsteele09/notifica/internal/remote"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	basePath          = "/rest/v1/"
	acceptSingle      = "application/vnd.pgrst.object+json"
	preferReturnRows  = "return=representation"
	preferReturnEmpty = "return=minimal"
)

// Client issues table reads and writes.
type Client struct {
	caller *remote.Caller
	logger zerolog.Logger
}

// ClientOption defines a function type to modify the Client instance.
type ClientOption func(*Client)

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient returns a table client. Requests carry the token from tokens as
// their bearer; a nil tokens sends the anon key.
func NewClient(caller *remote.Caller, tokens oauth2.TokenSource, options ...ClientOption) (*Client, error) {
	if caller == nil {
		return nil, errors.New("[NewClient] caller is required")
	}
	c := &Client{caller: caller, logger: log.Logger}
	if tokens != nil {
		c.caller = caller.WithHTTPClient(AuthorizedHTTPClient(tokens))
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// ContextTokenSource is a token source that can be bound to a request's
// context, so a refresh triggered by a request is cancelled with it.
type ContextTokenSource interface {
	oauth2.TokenSource
	TokenSource(ctx context.Context) oauth2.TokenSource
}

// AuthorizedHTTPClient returns an HTTP client that sets the Authorization
// header from tokens on every request. A ContextTokenSource is bound to each
// request's context.
func AuthorizedHTTPClient(tokens oauth2.TokenSource) *http.Client {
	return &http.Client{Transport: &bearerTransport{tokens: tokens, base: http.DefaultTransport}}
}

type bearerTransport struct {
	tokens oauth2.TokenSource
	base   http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	src := t.tokens
	if cs, ok := src.(ContextTokenSource); ok {
		src = cs.TokenSource(req.Context())
	}
	return (&oauth2.Transport{Source: src, Base: t.base}).RoundTrip(req)
}

// Select reads rows from table. With q.Single the one matching object is
// returned as a single-row result; no match (or several) is an error.
func (c *Client) Select(ctx context.Context, table string, q Query) (Rows, error) {
	if q.Single {
		var rec Record
		if err := c.selectInto(ctx, table, q, &rec); err != nil {
			return nil, err
		}
		return Rows{rec}, nil
	}
	var rows Rows
	if err := c.selectInto(ctx, table, q, &rows); err != nil {
		return nil, err
	}
	if rows == nil {
		rows = Rows{}
	}
	return rows, nil
}

func (c *Client) selectInto(ctx context.Context, table string, q Query, out any) error {
	req := remote.Request{
		Method:   http.MethodGet,
		Path:     basePath + table,
		RawQuery: q.Encode(),
	}
	if q.Single {
		req.Header = http.Header{"Accept": []string{acceptSingle}}
	}
	if _, err := c.caller.Do(ctx, req, out); err != nil {
		c.logFault(err, table, "select")
		return errors.Wrapf(err, "[Client.Select] %s", table)
	}
	return nil
}

// Insert adds record and returns the stored row (with server defaults such
// as id and created_at), or nil when the server returned nothing.
func (c *Client) Insert(ctx context.Context, table string, record any) (Record, error) {
	var rows Rows
	if err := c.write(ctx, http.MethodPost, table, "", record, &rows); err != nil {
		return nil, errors.Wrapf(err, "[Client.Insert] %s", table)
	}
	return first(rows), nil
}

// Update patches the row with the given id. A missing row is not an error:
// the result is simply nil.
func (c *Client) Update(ctx context.Context, table, id string, patch any) (Record, error) {
	var rows Rows
	if err := c.write(ctx, http.MethodPatch, table, idFilter(id), patch, &rows); err != nil {
		return nil, errors.Wrapf(err, "[Client.Update] %s", table)
	}
	return first(rows), nil
}

// Delete removes the row with the given id.
func (c *Client) Delete(ctx context.Context, table, id string) error {
	if err := c.write(ctx, http.MethodDelete, table, idFilter(id), nil, nil); err != nil {
		return errors.Wrapf(err, "[Client.Delete] %s", table)
	}
	return nil
}

func (c *Client) write(ctx context.Context, method, table, rawQuery string, body any, out any) error {
	prefer := preferReturnRows
	if out == nil {
		prefer = preferReturnEmpty
	}
	_, err := c.caller.Do(ctx, remote.Request{
		Method:   method,
		Path:     basePath + table,
		RawQuery: rawQuery,
		Header:   http.Header{"Prefer": []string{prefer}},
		Body:     body,
	}, out)
	if err != nil {
		c.logFault(err, table, method)
	}
	return err
}

func (c *Client) logFault(err error, table, op string) {
	c.logger.Error().Err(err).Str("table", table).Str("op", op).Msg("table request failed")
}

func first(rows Rows) Record {
	if len(rows) == 0 {
		return nil
	}
	return rows[0]
}

// SelectAs reads rows from table straight into T.
func SelectAs[T any](ctx context.Context, c *Client, table string, q Query) ([]T, error) {
	if q.Single {
		var item T
		if err := c.selectInto(ctx, table, q, &item); err != nil {
			return nil, err
		}
		return []T{item}, nil
	}
	items := []T{}
	if err := c.selectInto(ctx, table, q, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// InsertAs inserts record and decodes the stored row into T.
func InsertAs[T any](ctx context.Context, c *Client, table string, record any) (*T, error) {
	var items []T
	if err := c.write(ctx, http.MethodPost, table, "", record, &items); err != nil {
		return nil, errors.Wrapf(err, "[InsertAs] %s", table)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// UpdateAs patches the row with the given id and decodes it into T. A
// missing row yields nil.
func UpdateAs[T any](ctx context.Context, c *Client, table, id string, patch any) (*T, error) {
	var items []T
	if err := c.write(ctx, http.MethodPatch, table, idFilter(id), patch, &items); err != nil {
		return nil, errors.Wrapf(err, "[UpdateAs] %s", table)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// Decode converts a loosely typed record into T.
func Decode[T any](rec Record) (*T, error) {
	if rec == nil {
		return nil, nil
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, errors.Wrap(err, "[Decode] encode record")
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "[Decode] decode record")
	}
	return &out, nil
}
