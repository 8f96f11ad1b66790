package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	jsonpkg "github.com/ajitpratap0/adsync/pkg/json"
)

// TestAccessToken is the access token the fake token endpoint issues
const TestAccessToken = "test-access"

// AdsRequest is one search call received by an AdsServer
type AdsRequest struct {
	CustomerID      string
	Query           string
	LoginCustomerID string
	Authorization   string
}

type searchResponder struct {
	customerID string
	match      string
	results    []jsonpkg.RawMessage
	status     int
}

// AdsServer is a fake Google Ads REST endpoint with an OAuth token endpoint
// at /token. Searches are answered by the first responder registered for
// the customer whose match string occurs in the query.
type AdsServer struct {
	*httptest.Server

	mu         sync.Mutex
	responders []searchResponder
	accessible []string
	requests   []AdsRequest
}

// NewAdsServer starts a fake server that is closed when the test completes
func NewAdsServer(t *testing.T) *AdsServer {
	t.Helper()
	s := &AdsServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// TokenURL returns the OAuth token endpoint
func (s *AdsServer) TokenURL() string {
	return s.URL + "/token"
}

// OnSearch answers queries against customerID containing match with rows,
// each a JSON-encoded GoogleAdsRow
func (s *AdsServer) OnSearch(customerID, match string, rows ...string) {
	results := make([]jsonpkg.RawMessage, len(rows))
	for i, row := range rows {
		results[i] = jsonpkg.RawMessage(row)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responders = append(s.responders, searchResponder{customerID: customerID, match: match, results: results, status: http.StatusOK})
}

// FailSearch answers matching queries with an API error of the given status
func (s *AdsServer) FailSearch(customerID, match string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responders = append(s.responders, searchResponder{customerID: customerID, match: match, status: status})
}

// SetAccessible sets the customers returned by listAccessibleCustomers
func (s *AdsServer) SetAccessible(customerIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessible = customerIDs
}

// Requests returns the search calls received so far
func (s *AdsServer) Requests() []AdsRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AdsRequest(nil), s.requests...)
}

func (s *AdsServer) serve(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path == "/token" {
		_, _ = io.WriteString(w, `{"access_token":"`+TestAccessToken+`","token_type":"Bearer","expires_in":3600}`)
		return
	}

	// /{version}/customers:listAccessibleCustomers
	// /{version}/customers/{id}/googleAds:search
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 3)
	switch {
	case len(parts) == 2 && parts[1] == "customers:listAccessibleCustomers":
		s.listAccessible(w)
	case len(parts) == 3 && parts[1] == "customers" && strings.HasSuffix(parts[2], "/googleAds:search"):
		s.search(w, r, strings.TrimSuffix(parts[2], "/googleAds:search"))
	default:
		writeAPIError(w, http.StatusNotFound, "unknown path "+r.URL.Path)
	}
}

func (s *AdsServer) listAccessible(w http.ResponseWriter) {
	s.mu.Lock()
	names := make([]string, len(s.accessible))
	for i, id := range s.accessible {
		names[i] = "customers/" + id
	}
	s.mu.Unlock()

	data, _ := jsonpkg.Marshal(map[string][]string{"resourceNames": names})
	_, _ = w.Write(data)
}

func (s *AdsServer) search(w http.ResponseWriter, r *http.Request, customerID string) {
	var body struct {
		Query string `json:"query"`
	}
	data, err := io.ReadAll(r.Body)
	if err == nil {
		err = jsonpkg.Unmarshal(data, &body)
	}
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, AdsRequest{
		CustomerID:      customerID,
		Query:           body.Query,
		LoginCustomerID: r.Header.Get("login-customer-id"),
		Authorization:   r.Header.Get("Authorization"),
	})
	var found *searchResponder
	for i := range s.responders {
		if s.responders[i].customerID == customerID && strings.Contains(body.Query, s.responders[i].match) {
			found = &s.responders[i]
			break
		}
	}
	s.mu.Unlock()

	if found == nil {
		writeAPIError(w, http.StatusBadRequest, "no responder for customer "+customerID)
		return
	}
	if found.status != http.StatusOK {
		writeAPIError(w, found.status, http.StatusText(found.status))
		return
	}

	out, _ := jsonpkg.Marshal(map[string]interface{}{"results": found.results})
	_, _ = w.Write(out)
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	data, _ := jsonpkg.Marshal(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    status,
			"message": message,
			"status":  "TEST_ERROR",
		},
	})
	_, _ = w.Write(data)
}
