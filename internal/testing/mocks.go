package testing

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"
)

// MockHTTPHandler is a mock HTTP handler for testing the gateway probe and
// the Telegram token check.
type MockHTTPHandler struct {
	mu            sync.Mutex
	responses     map[string][]*MockResponse
	requests      []*MockRequest
	defaultStatus int
	delay         time.Duration
}

// MockResponse represents a mock HTTP response.
type MockResponse struct {
	Status int
	Body   any
	Header map[string]string
}

// MockRequest represents a captured HTTP request.
type MockRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
	At     time.Time
}

// NewMockHTTPHandler creates a new mock HTTP handler.
func NewMockHTTPHandler() *MockHTTPHandler {
	return &MockHTTPHandler{
		responses:     make(map[string][]*MockResponse),
		defaultStatus: http.StatusOK,
	}
}

// ServeHTTP implements http.Handler.
func (m *MockHTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	m.requests = append(m.requests, &MockRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   body,
		At:     time.Now(),
	})

	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	key := r.Method + ":" + r.URL.Path
	responses, ok := m.responses[key]
	if !ok || len(responses) == 0 {
		w.WriteHeader(m.defaultStatus)
		return
	}

	// The last queued response repeats once the others are consumed.
	resp := responses[0]
	if len(responses) > 1 {
		m.responses[key] = responses[1:]
	}

	for k, v := range resp.Header {
		w.Header().Set(k, v)
	}
	if resp.Body != nil {
		w.Header().Set("Content-Type", "application/json")
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	if resp.Body != nil && r.Method != http.MethodHead {
		_ = json.NewEncoder(w).Encode(resp.Body)
	}
}

// AddResponse adds a mock response for a given method and path.
func (m *MockHTTPHandler) AddResponse(method, path string, status int, body any) {
	m.AddResponseWithHeaders(method, path, status, body, nil)
}

// AddResponseWithHeaders adds a mock response with custom headers.
func (m *MockHTTPHandler) AddResponseWithHeaders(method, path string, status int, body any, headers map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := method + ":" + path
	m.responses[key] = append(m.responses[key], &MockResponse{
		Status: status,
		Body:   body,
		Header: headers,
	})
}

// SetDefaultStatus sets the status returned for unmatched requests.
func (m *MockHTTPHandler) SetDefaultStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultStatus = status
}

// SetDelay sets an artificial delay for all responses.
func (m *MockHTTPHandler) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// GetRequests returns all captured requests.
func (m *MockHTTPHandler) GetRequests() []*MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*MockRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// NewTestServer creates a test HTTP server with the mock handler. The server
// is closed when the test completes.
func (m *MockHTTPHandler) NewTestServer(t interface{ Cleanup(func()) }) *httptest.Server {
	srv := httptest.NewServer(m)
	t.Cleanup(srv.Close)
	return srv
}

// Reset clears all responses and requests.
func (m *MockHTTPHandler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses = make(map[string][]*MockResponse)
	m.requests = nil
}
