// Package client is the Go client of the inbox API. Besides the HTTP calls it
// carries the client-side state machines: the conversation list, the upload
// queue and the optimistic chat session.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"marketplace-inbox/attachment"
	"marketplace-inbox/domain"
	"marketplace-inbox/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Resolution struct {
	ConversationID string `json:"conversationId"`
	Existing       bool   `json:"existing"`
}

type MessagePage struct {
	Messages   []domain.Message `json:"messages"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

type conversationPage struct {
	Conversations []domain.ConversationSummary `json:"conversations"`
	NextCursor    string                       `json:"nextCursor,omitempty"`
}

type Limits struct {
	PlanTier  domain.PlanTier   `json:"planTier"`
	Limits    domain.PlanLimits `json:"limits"`
	Used      int               `json:"used"`
	Remaining int               `json:"remaining"`
	ResetAt   time.Time         `json:"resetAt"`
}

type SendRequest struct {
	Body          string   `json:"body"`
	AttachmentIDs []string `json:"attachmentIds,omitempty"`
	ClientRef     string   `json:"clientRef,omitempty"`
}

// File is a local file picked for upload.
type File struct {
	Name     string
	MimeType string
	Size     int64
	Body     io.Reader
}

func (f File) Info() attachment.FileInfo {
	return attachment.FileInfo{Name: f.Name, Size: f.Size, MimeType: f.MimeType}
}

type API struct {
	log     *slog.Logger
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*API)

func WithHTTPClient(c *http.Client) Option {
	return func(a *API) { a.http = c }
}

func NewAPI(log *slog.Logger, baseURL, token string, opts ...Option) *API {
	api := &API{
		log:     log,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(api)
	}
	return api
}

func (a *API) Resolve(ctx context.Context, targetUserID, propertyID string) (Resolution, error) {
	var out Resolution
	err := a.call(ctx, http.MethodPost, "/api/conversations", map[string]string{
		"targetUserId": targetUserID,
		"propertyId":   propertyID,
	}, &out)
	return out, err
}

// ListConversations fetches a full snapshot, following cursors.
func (a *API) ListConversations(ctx context.Context, filter domain.ListFilter) ([]domain.ConversationSummary, error) {
	var all []domain.ConversationSummary
	cursor := ""
	for {
		query := url.Values{}
		if filter != "" {
			query.Set("filter", string(filter))
		}
		if cursor != "" {
			query.Set("cursor", cursor)
		}
		var page conversationPage
		if err := a.listPage(ctx, "/api/conversations?"+query.Encode(), &page); err != nil {
			return nil, err
		}
		all = append(all, page.Conversations...)
		if page.NextCursor == "" {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

// listPage never trusts a 304 for the conversation list: it is refetched once
// with caching disabled, and a second 304 is an error rather than an empty list.
func (a *API) listPage(ctx context.Context, path string, out any) error {
	err := a.call(ctx, http.MethodGet, path, nil, out)
	if !errors.Is(err, errNotModified) {
		return err
	}
	a.log.Warn("Conversation list answered 304, forcing a refetch", "path", path)
	err = a.call(ctx, http.MethodGet, path, nil, out, func(r *http.Request) {
		r.Header.Set("Cache-Control", "no-cache")
		r.Header.Set("Pragma", "no-cache")
	})
	if errors.Is(err, errNotModified) {
		return fmt.Errorf("%w: conversation list served from a stale cache", errors.ErrTransient)
	}
	return err
}

func (a *API) Messages(ctx context.Context, conversationID, cursor string, limit int) (MessagePage, error) {
	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out MessagePage
	err := a.call(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(conversationID)+"/messages?"+query.Encode(), nil, &out)
	return out, err
}

func (a *API) Send(ctx context.Context, conversationID string, request SendRequest) (domain.Message, error) {
	var out domain.Message
	err := a.call(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(conversationID)+"/messages", request, &out)
	return out, err
}

func (a *API) MarkRead(ctx context.Context, conversationID string) error {
	return a.call(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(conversationID)+"/read", nil, nil)
}

func (a *API) Hide(ctx context.Context, conversationID string) error {
	return a.call(ctx, http.MethodDelete, "/api/conversations/"+url.PathEscape(conversationID), nil, nil)
}

// Presence reports whether the other participant of the conversation is connected.
func (a *API) Presence(ctx context.Context, conversationID string) (domain.Presence, error) {
	var out domain.Presence
	err := a.call(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(conversationID)+"/presence", nil, &out)
	return out, err
}

func (a *API) Limits(ctx context.Context) (Limits, error) {
	var out Limits
	err := a.call(ctx, http.MethodGet, "/api/attachments/limits", nil, &out)
	return out, err
}

// Upload sends one file as multipart form data. progress receives the number
// of request bytes written so far and the total.
func (a *API) Upload(ctx context.Context, conversationID string, file File, progress func(sent, total int64)) (domain.Attachment, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, file.Name))
	header.Set("Content-Type", file.MimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return domain.Attachment{}, err
	}
	if _, err = io.Copy(part, file.Body); err != nil {
		return domain.Attachment{}, fmt.Errorf("reading %s: %w", file.Name, err)
	}
	if err = writer.Close(); err != nil {
		return domain.Attachment{}, err
	}

	total := int64(body.Len())
	reader := &progressReader{reader: &body, total: total, report: progress}
	var out domain.Attachment
	err = a.call(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(conversationID)+"/attachments", nil, &out,
		func(r *http.Request) {
			r.Body = io.NopCloser(reader)
			r.ContentLength = total
			r.Header.Set("Content-Type", writer.FormDataContentType())
		})
	return out, err
}

var errNotModified = fmt.Errorf("not modified")

func (a *API) call(ctx context.Context, method, path string, in, out any, mutators ...func(*http.Request)) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	request, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Accept", "application/json")
	request.Header.Set("Authorization", "Bearer "+a.token)
	for _, mutate := range mutators {
		mutate(request)
	}

	response, err := a.http.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", errors.ErrTransient, method, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotModified {
		return errNotModified
	}
	if response.StatusCode >= http.StatusBadRequest {
		return responseError(response)
	}
	if out == nil || response.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(response.Body).Decode(out)
}

func responseError(response *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(response.Body, 64<<10)).Decode(&payload)

	if response.StatusCode == http.StatusTooManyRequests {
		limit, _ := strconv.Atoi(response.Header.Get("X-RateLimit-Limit"))
		remaining, _ := strconv.Atoi(response.Header.Get("X-RateLimit-Remaining"))
		reset, _ := strconv.ParseInt(response.Header.Get("X-RateLimit-Reset"), 10, 64)
		return &errors.QuotaExceeded{Limit: limit, Used: limit - remaining, ResetAt: time.Unix(reset, 0).UTC()}
	}
	sentinel := errors.FromHTTPStatus(response.StatusCode)
	if sentinel == nil {
		sentinel = fmt.Errorf("unexpected status %d", response.StatusCode)
	}
	if payload.Error == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, payload.Error)
}

type progressReader struct {
	reader io.Reader
	sent   int64
	total  int64
	report func(sent, total int64)
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.sent += int64(n)
		if r.report != nil {
			r.report(r.sent, r.total)
		}
	}
	return n, err
}
