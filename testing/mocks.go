package testing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/terraonline/launcher/internal/patch"
)

// MockPatchServer speaks the patch server's token-and-query protocol for
// tests: a bare GET issues a token, everything else dispatches on the
// action query parameter.
type MockPatchServer struct {
	*httptest.Server

	// Configurable behavior, mutate before issuing requests.
	TokenSuccess bool
	TokenValue   string
	ExpiresIn    int64 // seconds
	Files        []patch.ServerFile
	Checksums    []patch.Checksum
	RepairFiles  []patch.ServerFile
	ListSuccess  bool
	FileContents map[string][]byte
	TokenStatus  int // non-zero overrides the token response status
	ActionStatus int // non-zero overrides every action response status
	Requests     []MockRequest
}

// MockRequest records one request made to the mock server.
type MockRequest struct {
	Action string
	Token  string
	File   string
}

// NewMockPatchServer creates a mock patch server with sane defaults:
// tokens succeed with a one-hour lifetime and action calls succeed.
func NewMockPatchServer(t *testing.T) *MockPatchServer {
	t.Helper()

	mock := &MockPatchServer{
		TokenSuccess: true,
		TokenValue:   "test-token",
		ExpiresIn:    3600,
		ListSuccess:  true,
		FileContents: make(map[string][]byte),
	}

	mock.Server = httptest.NewServer(http.HandlerFunc(mock.handle))
	t.Cleanup(mock.Server.Close)
	return mock
}

func (m *MockPatchServer) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	action := q.Get("action")
	m.Requests = append(m.Requests, MockRequest{
		Action: action,
		Token:  q.Get("token"),
		File:   q.Get("file"),
	})

	if action == "" {
		m.handleToken(w)
		return
	}

	if m.ActionStatus != 0 {
		w.WriteHeader(m.ActionStatus)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch action {
	case "list":
		json.NewEncoder(w).Encode(map[string]any{
			"success": m.ListSuccess, "files": m.Files,
		})
	case "checksums":
		json.NewEncoder(w).Encode(map[string]any{
			"success": true, "checksums": m.Checksums,
		})
	case "repair":
		json.NewEncoder(w).Encode(map[string]any{
			"success": true, "repair_files": m.RepairFiles,
		})
	case "download":
		body, ok := m.FileContents[q.Get("file")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(body)
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (m *MockPatchServer) handleToken(w http.ResponseWriter) {
	if m.TokenStatus != 0 {
		w.WriteHeader(m.TokenStatus)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if !m.TokenSuccess {
		json.NewEncoder(w).Encode(map[string]any{
			"success": false, "message": "maintenance",
		})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"success": true, "token": m.TokenValue, "expires_in": m.ExpiresIn,
	})
}

// CountAction returns how many requests carried the given action.
// Token requests have an empty action.
func (m *MockPatchServer) CountAction(action string) int {
	count := 0
	for _, req := range m.Requests {
		if req.Action == action {
			count++
		}
	}
	return count
}
