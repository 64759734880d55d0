package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shineum/mail-archiver/internal/email"
)

// maxRetries is the maximum number of retry attempts for transient failures.
const maxRetries = 3

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

// messageSelect lists the message fields the archiver consumes.
const messageSelect = "id,subject,body,from,toRecipients,ccRecipients,receivedDateTime,hasAttachments,isRead"

// Config holds the credentials for creating a Client.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
}

// Client talks to the Microsoft Graph mail API using OAuth2 client
// credentials authentication. All operations retry transient failures
// with exponential backoff, respect Retry-After on HTTP 429, and refresh
// the access token once on HTTP 401.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      *tokenCache
}

// New creates a Client for the given tenant credentials.
func New(cfg Config) *Client {
	tokenURL := fmt.Sprintf(
		"https://login.microsoftonline.com/%s/oauth2/v2.0/token",
		cfg.TenantID,
	)

	client := &http.Client{Timeout: 30 * time.Second}

	return &Client{
		baseURL:    "https://graph.microsoft.com/v1.0",
		httpClient: client,
		token:      newTokenCache(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
	}
}

// newWithOverrides creates a Client with custom URLs and HTTP client,
// used for testing.
func newWithOverrides(cfg Config, baseURL, tokenURL string, client *http.Client) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: client,
		token:      newTokenCache(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
	}
}

// ListUsers returns every user in the tenant directory, following paging
// links until the listing is exhausted.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	next := c.baseURL + "/users?" + url.Values{
		"$select": {"id,displayName,userPrincipalName,mail"},
	}.Encode()

	var users []User
	for next != "" {
		data, err := c.do(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to list users: %w", err)
		}

		var page userListResponse
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("failed to parse user listing: %w", err)
		}

		users = append(users, page.Value...)
		next = page.NextLink
	}

	return users, nil
}

// ListMessages returns the messages of a mailbox in API page order,
// following paging links until the listing is exhausted. With unreadOnly
// set, only unread messages are returned.
func (c *Client) ListMessages(ctx context.Context, userID string, pageSize int, unreadOnly bool) ([]email.Envelope, error) {
	q := url.Values{
		"$select": {messageSelect},
		"$top":    {strconv.Itoa(pageSize)},
	}
	if unreadOnly {
		q.Set("$filter", "isRead eq false")
	}
	next := fmt.Sprintf("%s/users/%s/messages?%s", c.baseURL, url.PathEscape(userID), q.Encode())

	var envelopes []email.Envelope
	for next != "" {
		data, err := c.do(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to list messages for user %s: %w", userID, err)
		}

		var page messageListResponse
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("failed to parse message listing: %w", err)
		}

		for _, m := range page.Value {
			envelopes = append(envelopes, envelopeFromResource(m))
		}
		next = page.NextLink
	}

	return envelopes, nil
}

// ListReadMessageIDs returns the IDs of every read message in a mailbox.
// It is used when resetting a mailbox back to unread.
func (c *Client) ListReadMessageIDs(ctx context.Context, userID string) ([]string, error) {
	q := url.Values{
		"$select": {"id,isRead"},
		"$filter": {"isRead eq true"},
		"$top":    {"999"},
	}
	next := fmt.Sprintf("%s/users/%s/messages?%s", c.baseURL, url.PathEscape(userID), q.Encode())

	var ids []string
	for next != "" {
		data, err := c.do(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to list read messages for user %s: %w", userID, err)
		}

		var page messageListResponse
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("failed to parse message listing: %w", err)
		}

		for _, m := range page.Value {
			ids = append(ids, m.ID)
		}
		next = page.NextLink
	}

	return ids, nil
}

// ListAttachments returns the attachment descriptors of one message.
// Payloads are not necessarily included; use GetAttachment to download
// an individual attachment in full.
func (c *Client) ListAttachments(ctx context.Context, userID, messageID string) ([]email.Attachment, error) {
	reqURL := fmt.Sprintf("%s/users/%s/messages/%s/attachments",
		c.baseURL, url.PathEscape(userID), url.PathEscape(messageID))

	data, err := c.do(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments for message %s: %w", messageID, err)
	}

	var page attachmentListResponse
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to parse attachment listing: %w", err)
	}

	attachments := make([]email.Attachment, 0, len(page.Value))
	for _, a := range page.Value {
		attachments = append(attachments, attachmentFromResource(a))
	}
	return attachments, nil
}

// GetAttachment downloads a single attachment in full, including its
// base64-encoded payload.
func (c *Client) GetAttachment(ctx context.Context, userID, messageID, attachmentID string) (*email.Attachment, error) {
	reqURL := fmt.Sprintf("%s/users/%s/messages/%s/attachments/%s",
		c.baseURL, url.PathEscape(userID), url.PathEscape(messageID), url.PathEscape(attachmentID))

	data, err := c.do(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download attachment %s: %w", attachmentID, err)
	}

	var res attachmentResource
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to parse attachment %s: %w", attachmentID, err)
	}

	att := attachmentFromResource(res)
	return &att, nil
}

// SetRead toggles the read flag of one message.
func (c *Client) SetRead(ctx context.Context, userID, messageID string, read bool) error {
	reqURL := fmt.Sprintf("%s/users/%s/messages/%s",
		c.baseURL, url.PathEscape(userID), url.PathEscape(messageID))

	body, err := json.Marshal(readStatePatch{IsRead: read})
	if err != nil {
		return fmt.Errorf("failed to marshal read-state patch: %w", err)
	}

	if _, err := c.do(ctx, http.MethodPatch, reqURL, body); err != nil {
		return fmt.Errorf("failed to set read state of message %s: %w", messageID, err)
	}
	return nil
}

// do performs a Graph API request with retry logic: exponential backoff
// for transient failures, Retry-After header respect for HTTP 429, and a
// single automatic token refresh for HTTP 401.
func (c *Client) do(ctx context.Context, method, reqURL string, body []byte) ([]byte, error) {
	var lastErr error
	tokenRefreshed := false

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying Graph API request",
				"attempt", attempt,
				"max_retries", maxRetries,
			)
		}

		data, err := c.doOnce(ctx, method, reqURL, body)
		if err == nil {
			return data, nil
		}

		lastErr = err

		apiErr, ok := err.(*apiError)
		if !ok {
			return nil, err
		}

		switch {
		case apiErr.permanent:
			return nil, apiErr
		case apiErr.statusCode == http.StatusUnauthorized && !tokenRefreshed:
			// Refresh token once and retry immediately
			slog.Info("refreshing Graph API token after 401")
			if _, refreshErr := c.token.ForceRefresh(); refreshErr != nil {
				return nil, fmt.Errorf("token refresh failed: %w", refreshErr)
			}
			tokenRefreshed = true
			continue
		case apiErr.statusCode == http.StatusUnauthorized:
			// Still unauthorized with a fresh token; retrying cannot help
			return nil, fmt.Errorf("request unauthorized after token refresh: %w", apiErr)
		case apiErr.statusCode == http.StatusTooManyRequests:
			delay := retryAfterDelay(apiErr.retryAfter, attempt)
			slog.Info("rate limited by Graph API",
				"retry_after", delay,
			)
			if err := sleepWithContext(ctx, delay); err != nil {
				return nil, fmt.Errorf("context cancelled during retry wait: %w", err)
			}
			continue
		case apiErr.transient:
			delay := backoffDelay(attempt)
			slog.Info("transient Graph API error, retrying",
				"status", apiErr.statusCode,
				"delay", delay,
			)
			if err := sleepWithContext(ctx, delay); err != nil {
				return nil, fmt.Errorf("context cancelled during retry wait: %w", err)
			}
			continue
		default:
			return nil, apiErr
		}
	}

	return nil, fmt.Errorf("Graph API request failed after %d retries: %w", maxRetries, lastErr)
}

// doOnce performs a single HTTP request against the Graph API.
func (c *Client) doOnce(ctx context.Context, method, reqURL string, body []byte) ([]byte, error) {
	token, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &apiError{
			message:   fmt.Sprintf("HTTP request failed: %v", err),
			transient: true,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &apiError{
			message:   fmt.Sprintf("failed to read response body: %v", err),
			transient: true,
		}
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return respBody, nil
	}

	var graphErrResp graphErrorResponse
	if jsonErr := json.Unmarshal(respBody, &graphErrResp); jsonErr == nil && graphErrResp.Error.Message != "" {
		return nil, classifyError(resp.StatusCode, graphErrResp.Error.Message, resp.Header.Get("Retry-After"))
	}

	return nil, classifyError(resp.StatusCode, string(respBody), resp.Header.Get("Retry-After"))
}

// apiError represents an error from the Graph API with classification
// for retry logic.
type apiError struct {
	message    string
	statusCode int
	permanent  bool
	transient  bool
	retryAfter string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}

// classifyError categorizes an HTTP error response for retry decisions.
func classifyError(statusCode int, message, retryAfter string) *apiError {
	err := &apiError{
		message:    message,
		statusCode: statusCode,
		retryAfter: retryAfter,
	}

	switch {
	case statusCode == http.StatusBadRequest || statusCode == http.StatusForbidden || statusCode == http.StatusNotFound:
		err.permanent = true
	case statusCode == http.StatusUnauthorized:
		err.transient = true
	case statusCode == http.StatusTooManyRequests:
		err.transient = true
	case statusCode >= 500:
		err.transient = true
	default:
		err.permanent = true
	}

	return err
}

// retryAfterDelay parses a Retry-After header value, falling back to
// exponential backoff when the header is missing or unparseable.
func retryAfterDelay(retryAfter string, attempt int) time.Duration {
	if retryAfter == "" {
		return backoffDelay(attempt)
	}

	seconds, err := strconv.Atoi(retryAfter)
	if err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	return backoffDelay(attempt)
}

// backoffDelay returns the exponential backoff delay for the given attempt
// number. Delays are: 1s, 2s, 4s
func backoffDelay(attempt int) time.Duration {
	delay := baseRetryDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// sleepWithContext waits for the specified duration or until the context
// is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
