package testutil

import (
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
)

// ErrNoMockResponse is returned by MockHTTPClient.Do when no queued response
// matches the request.
var ErrNoMockResponse = errors.New("no mock response configured")

// MockHTTPClient is a scripted stand-in for *http.Client. Queued responses
// are served once each, in order, skipping those whose Matcher rejects the
// request.
type MockHTTPClient struct {
	mu       sync.Mutex
	queue    []MockResponse
	requests []*http.Request
}

// MockResponse is one scripted reply. A non-nil Error fails the request at
// the transport level.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Error      error
	Matcher    func(*http.Request) bool
}

func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{}
}

// AddResponse queues a response.
func (m *MockHTTPClient) AddResponse(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, resp)
}

// Do records req and serves the first matching queued response.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	i := matchIndex(m.queue, req)
	if i < 0 {
		return nil, ErrNoMockResponse
	}
	resp := m.queue[i]
	m.queue = slices.Delete(m.queue, i, i+1)

	if resp.Error != nil {
		return nil, resp.Error
	}

	out := &http.Response{
		StatusCode: resp.StatusCode,
		Body:       io.NopCloser(strings.NewReader(resp.Body)),
		Header:     make(http.Header),
		Request:    req,
	}
	for k, v := range resp.Headers {
		out.Header.Set(k, v)
	}
	return out, nil
}

func matchIndex(queue []MockResponse, req *http.Request) int {
	for i, r := range queue {
		if r.Matcher == nil || r.Matcher(req) {
			return i
		}
	}
	return -1
}

// LastRequest returns the most recent request, or nil before the first.
func (m *MockHTTPClient) LastRequest() *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

// MockTextResponse is a 200 reply with the given body and content type.
func MockTextResponse(body, contentType string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": contentType},
	}
}

// MockErrorResponse is a non-2xx reply with a plain text body.
func MockErrorResponse(statusCode int, message string) MockResponse {
	return MockResponse{
		StatusCode: statusCode,
		Body:       message,
		Headers:    map[string]string{"Content-Type": "text/plain"},
	}
}

// MockConnectionError fails the request before any response arrives.
func MockConnectionError() MockResponse {
	return MockResponse{Error: errors.New("connection refused")}
}
