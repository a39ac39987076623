// Package storage wraps the backend's object storage API. Buckets used by
// the school are public for reads, so stored documents can be linked from
// WhatsApp messages and the guardian portal.
package storage

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jrsteele09/notifica/database"
	"github.com/jrsteele09/notifica/internal/remote"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	basePath     = "/storage/v1/object/"
	cacheControl = "max-age=3600"
)

// Client uploads, links and removes stored files.
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

// NewClient returns a storage client authorised by tokens.
func NewClient(caller *remote.Caller, tokens oauth2.TokenSource, options ...ClientOption) (*Client, error) {
	if caller == nil {
		return nil, errors.New("[NewClient] caller is required")
	}
	c := &Client{caller: caller, logger: log.Logger}
	if tokens != nil {
		c.caller = caller.WithHTTPClient(database.AuthorizedHTTPClient(tokens))
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Upload stores body at bucket/path. An existing object is never
// overwritten; uploading to a taken path fails.
func (c *Client) Upload(ctx context.Context, bucket, path string, body io.Reader, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	var reply struct {
		Key string `json:"Key"`
	}
	_, err := c.caller.Do(ctx, remote.Request{
		Method: http.MethodPost,
		Path:   basePath + bucket + "/" + escapePath(path),
		Header: http.Header{
			"Content-Type":  []string{contentType},
			"Cache-Control": []string{cacheControl},
			"X-Upsert":      []string{"false"},
		},
		Body: body,
	}, &reply)
	if err != nil {
		c.logger.Error().Err(err).Str("bucket", bucket).Str("path", path).Msg("upload failed")
		return "", errors.Wrapf(err, "[Client.Upload] %s/%s", bucket, path)
	}
	return reply.Key, nil
}

// PublicURL is the unauthenticated download link of bucket/path. It makes no
// request and does not check that the object exists.
func (c *Client) PublicURL(bucket, path string) string {
	return c.caller.URL(basePath+"public/"+bucket+"/"+escapePath(path), "")
}

// Remove deletes the objects at paths in bucket. Missing objects are ignored.
func (c *Client) Remove(ctx context.Context, bucket string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	_, err := c.caller.Do(ctx, remote.Request{
		Method: http.MethodDelete,
		Path:   basePath + bucket,
		Body:   map[string][]string{"prefixes": paths},
	}, nil)
	if err != nil {
		c.logger.Error().Err(err).Str("bucket", bucket).Strs("paths", paths).Msg("remove failed")
		return errors.Wrapf(err, "[Client.Remove] %s", bucket)
	}
	return nil
}

// PathFromPublicURL recovers the object path from a link built by PublicURL,
// or "" when the link points elsewhere.
func (c *Client) PathFromPublicURL(bucket, link string) string {
	prefix := c.PublicURL(bucket, "")
	if !strings.HasPrefix(link, prefix) {
		return ""
	}
	p, err := url.PathUnescape(strings.TrimPrefix(link, prefix))
	if err != nil {
		return ""
	}
	return p
}

func escapePath(p string) string {
	parts := strings.Split(strings.TrimLeft(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
