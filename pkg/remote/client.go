// Package remote is the thin typed wrapper around the third-party document
// API that pagestore uses as its backing store. It issues list/create/
// update/lock/comment/reaction calls and classifies HTTP outcomes into
// error kinds; it knows nothing about caching or dedup.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"pagestore/pkg/logger"
	"pagestore/pkg/models"
	"pagestore/pkg/telemetry"
)

// Options configures the remote client. Zero fields get defaults.
type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// Attempts bounds transport retries. Classified 4xx outcomes are never
	// retried; only network errors and 5xx responses are.
	Attempts uint
	Client   *http.Client
}

// Client talks to the remote document store over HTTP.
type Client struct {
	base     string
	token    string
	attempts uint
	hc       *http.Client
}

// New creates a remote client for the given base URL.
func New(opts Options) *Client {
	hc := opts.Client
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	attempts := opts.Attempts
	if attempts == 0 {
		attempts = 3
	}
	return &Client{
		base:     strings.TrimRight(opts.BaseURL, "/"),
		token:    opts.Token,
		attempts: attempts,
		hc:       hc,
	}
}

// ListRecords returns open records in the namespace carrying every label in
// labels. The remote store matches label sets by equality on the queried
// labels; newly created records may be missing from results for a short
// indexing window.
func (c *Client) ListRecords(ctx context.Context, namespace string, labels []string) ([]models.Record, error) {
	q := url.Values{}
	q.Set("labels", strings.Join(labels, ","))
	q.Set("state", "open")
	var out []models.Record
	err := c.do(ctx, "list_records", http.MethodGet,
		"/v1/namespaces/"+url.PathEscape(namespace)+"/records?"+q.Encode(), nil, &out)
	return out, err
}

// CreateRecord creates a new record in the namespace. When lock is set the
// record is locked against external mutation immediately after creation.
func (c *Client) CreateRecord(ctx context.Context, namespace, title, body string, labels []string, lock bool) (models.Record, error) {
	req := struct {
		Title  string   `json:"title"`
		Body   string   `json:"body"`
		Labels []string `json:"labels,omitempty"`
		Lock   bool     `json:"lock,omitempty"`
	}{Title: title, Body: body, Labels: labels, Lock: lock}
	var out models.Record
	err := c.do(ctx, "create_record", http.MethodPost,
		"/v1/namespaces/"+url.PathEscape(namespace)+"/records", req, &out)
	return out, err
}

// UpdateRecordBody overwrites the record body. The remote store resolves
// concurrent writers last-write-wins.
func (c *Client) UpdateRecordBody(ctx context.Context, number int64, body string) (models.Record, error) {
	req := struct {
		Body string `json:"body"`
	}{Body: body}
	var out models.Record
	err := c.do(ctx, "update_record", http.MethodPatch,
		"/v1/records/"+strconv.FormatInt(number, 10), req, &out)
	return out, err
}

// LockRecord locks a record against external mutation.
func (c *Client) LockRecord(ctx context.Context, number int64) error {
	return c.do(ctx, "lock_record", http.MethodPut,
		"/v1/records/"+strconv.FormatInt(number, 10)+"/lock", nil, nil)
}

// ListComments returns one page of a record's comments in server-assigned
// creation order. page is 1-based.
func (c *Client) ListComments(ctx context.Context, number int64, page, pageSize int) ([]models.Comment, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(pageSize))
	var out []models.Comment
	err := c.do(ctx, "list_comments", http.MethodGet,
		"/v1/records/"+strconv.FormatInt(number, 10)+"/comments?"+q.Encode(), nil, &out)
	return out, err
}

// CreateComment appends a comment to a record's thread.
func (c *Client) CreateComment(ctx context.Context, number int64, authorID, authorLogin, body string) (models.Comment, error) {
	req := struct {
		AuthorID    string `json:"author_id,omitempty"`
		AuthorLogin string `json:"author_login"`
		Body        string `json:"body"`
	}{AuthorID: authorID, AuthorLogin: authorLogin, Body: body}
	var out models.Comment
	err := c.do(ctx, "create_comment", http.MethodPost,
		"/v1/records/"+strconv.FormatInt(number, 10)+"/comments", req, &out)
	return out, err
}

// GetComment returns a single comment by id.
func (c *Client) GetComment(ctx context.Context, commentID string) (models.Comment, error) {
	var out models.Comment
	err := c.do(ctx, "get_comment", http.MethodGet,
		"/v1/comments/"+url.PathEscape(commentID), nil, &out)
	return out, err
}

// UpdateComment replaces a comment's body in place.
func (c *Client) UpdateComment(ctx context.Context, commentID, body string) (models.Comment, error) {
	req := struct {
		Body string `json:"body"`
	}{Body: body}
	var out models.Comment
	err := c.do(ctx, "update_comment", http.MethodPatch,
		"/v1/comments/"+url.PathEscape(commentID), req, &out)
	return out, err
}

// ListReactions returns the authoritative reaction set for a comment.
func (c *Client) ListReactions(ctx context.Context, commentID string) ([]models.Reaction, error) {
	var out []models.Reaction
	err := c.do(ctx, "list_reactions", http.MethodGet,
		"/v1/comments/"+url.PathEscape(commentID)+"/reactions", nil, &out)
	return out, err
}

// CreateReaction adds a reaction to a comment on behalf of authorLogin.
func (c *Client) CreateReaction(ctx context.Context, commentID, typ, authorLogin string) (models.Reaction, error) {
	req := struct {
		Type        string `json:"type"`
		AuthorLogin string `json:"author_login"`
	}{Type: typ, AuthorLogin: authorLogin}
	var out models.Reaction
	err := c.do(ctx, "create_reaction", http.MethodPost,
		"/v1/comments/"+url.PathEscape(commentID)+"/reactions", req, &out)
	return out, err
}

// DeleteReaction removes a reaction from a comment.
func (c *Client) DeleteReaction(ctx context.Context, commentID, reactionID string) error {
	return c.do(ctx, "delete_reaction", http.MethodDelete,
		"/v1/comments/"+url.PathEscape(commentID)+"/reactions/"+url.PathEscape(reactionID), nil, nil)
}

// do runs one API call with transport retries and decodes the response into
// out when non-nil. Classified client errors short-circuit the retry loop.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		body = b
	}

	err := retry.Do(
		func() error {
			var rd io.Reader = http.NoBody
			if body != nil {
				rd = bytes.NewReader(body)
			}
			req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Accept", "application/json")
			if body != nil {
				req.Header.Set("Content-Type", "application/json")
			}
			if c.token != "" {
				req.Header.Set("Authorization", "Bearer "+c.token)
			}

			resp, err := c.hc.Do(req)
			if err != nil {
				logger.Warn("remote_request_failed", "op", op, "error", err)
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 400 {
				return classify(op, resp)
			}
			if out != nil {
				if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
					return retry.Unrecoverable(fmt.Errorf("decode %s response: %w", op, err))
				}
			}
			return nil
		},
		retry.Attempts(c.attempts),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(10*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Info("remote_retrying", "op", op, "attempt", n, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			// only network errors and 5xx responses are retryable
			var re *Error
			return !errors.As(err, &re)
		}),
	)

	telemetry.ObserveRemoteCall(op, KindOf(err).String(), err == nil)
	return err
}

// classify maps an HTTP failure into the error taxonomy. The response body
// is read for its message but never trusted beyond that.
func classify(op string, resp *http.Response) error {
	msg := readErrMsg(resp.Body)
	e := &Error{Op: op, Status: resp.StatusCode, Msg: msg}
	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		e.Kind = KindNotFound
	case http.StatusConflict:
		e.Kind = KindAlreadyExists
	case http.StatusUnauthorized, http.StatusForbidden:
		e.Kind = KindPermissionDenied
	case http.StatusTooManyRequests:
		e.Kind = KindRateLimited
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				e.RetryAfter = time.Duration(secs) * time.Second
			}
		}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		e.Kind = KindValidation
	default:
		if resp.StatusCode >= 500 {
			// unclassified: the retry loop may try again
			return fmt.Errorf("remote %s: http %d: %s", op, resp.StatusCode, msg)
		}
		e.Kind = KindUnknown
	}
	return e
}

func readErrMsg(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(b) == 0 {
		return ""
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(b, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(b))
}
