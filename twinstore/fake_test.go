package twinstore

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testNamespace = "org.dhsiled"
	testUser      = "ditto"
	testPassword  = "ditto"
)

type inboxMessage struct {
	ThingID string
	Subject string
	Timeout string
	Body    map[string]any
}

// fakeStore is an in-memory twin store speaking the HTTP API under /api/2.
type fakeStore struct {
	mu       sync.Mutex
	things   map[string]Twin
	policies map[string]Policy
	inbox    []inboxMessage
	calls    []string

	// override short-circuits a request with a status when it returns true.
	override func(r *http.Request) (int, bool)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		things:   make(map[string]Twin),
		policies: make(map[string]Policy),
	}
}

func (s *fakeStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, callKey(r))

	if user, pass, ok := r.BasicAuth(); !ok || user != testUser || pass != testPassword {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if s.override != nil {
		if status, ok := s.override(r); ok {
			w.WriteHeader(status)
			return
		}
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/2")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 2 && parts[0] == "things":
		s.thing(w, r, parts[1])
	case len(parts) == 4 && parts[0] == "things" && parts[2] == "features":
		s.feature(w, r, parts[1], parts[3])
	case len(parts) == 5 && parts[0] == "things" && parts[2] == "inbox":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.inbox = append(s.inbox, inboxMessage{
			ThingID: parts[1], Subject: parts[4], Timeout: r.URL.Query().Get("timeout"), Body: body,
		})
		w.WriteHeader(http.StatusAccepted)
	case len(parts) == 2 && parts[0] == "policies":
		s.policy(w, r, parts[1])
	case path == "/search/things":
		s.search(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *fakeStore) thing(w http.ResponseWriter, r *http.Request, id string) {
	existing, exists := s.things[id]
	switch r.Method {
	case http.MethodGet:
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, existing)
	case http.MethodPatch:
		if !exists {
			if r.Header.Get("If-Match") == "*" {
				w.WriteHeader(http.StatusPreconditionFailed)
			} else {
				w.WriteHeader(http.StatusNotFound)
			}
			return
		}
		var patch map[string]any
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := json.Marshal(existing)
		var doc map[string]any
		_ = json.Unmarshal(data, &doc)
		data, _ = json.Marshal(mergePatch(doc, patch))
		var merged Twin
		_ = json.Unmarshal(data, &merged)
		s.things[id] = merged
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPut:
		if r.Header.Get("If-Match") == "*" && !exists {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		if r.Header.Get("If-None-Match") == "*" && exists {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		var twin Twin
		if err := json.NewDecoder(r.Body).Decode(&twin); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		twin.ThingID = id
		s.things[id] = twin
		if exists {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusCreated, twin)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *fakeStore) feature(w http.ResponseWriter, r *http.Request, id, featureID string) {
	twin, exists := s.things[id]
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		f, ok := twin.Features[featureID]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, f)
	case http.MethodPut:
		var f Feature
		if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if twin.Features == nil {
			twin.Features = Features{}
		}
		twin.Features[featureID] = f
		s.things[id] = twin
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *fakeStore) policy(w http.ResponseWriter, r *http.Request, id string) {
	existing, exists := s.policies[id]
	switch r.Method {
	case http.MethodGet:
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, existing)
	case http.MethodPut:
		if r.Header.Get("If-None-Match") == "*" && exists {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		var p Policy
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.policies[id] = p
		w.WriteHeader(http.StatusCreated)
	}
}

// search serves two things per page.
func (s *fakeStore) search(w http.ResponseWriter, r *http.Request) {
	ids := make([]string, 0, len(s.things))
	for id := range s.things {
		if strings.HasPrefix(id, r.URL.Query().Get("namespaces")+":") {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	start := 0
	option := r.URL.Query().Get("option")
	if i := strings.Index(option, "cursor("); i >= 0 {
		cursor := strings.TrimSuffix(option[i+len("cursor("):], ")")
		for j, id := range ids {
			if id == cursor {
				start = j
			}
		}
	}
	end := min(start+2, len(ids))

	page := searchPage{}
	for _, id := range ids[start:end] {
		page.Items = append(page.Items, s.things[id])
	}
	if end < len(ids) {
		page.Cursor = ids[end]
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *fakeStore) callCount(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (s *fakeStore) put(twin Twin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.things[twin.ThingID] = twin
}

func (s *fakeStore) get(thingID string) (Twin, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.things[thingID]
	return t, ok
}

// callKey renders a request as "METHOD path [precondition]".
func callKey(r *http.Request) string {
	key := r.Method + " " + strings.TrimPrefix(r.URL.Path, "/api/2")
	if r.Header.Get("If-Match") != "" {
		key += " if-match"
	}
	if r.Header.Get("If-None-Match") != "" {
		key += " if-none-match"
	}
	return key
}

// mergePatch applies an RFC 7396 merge patch.
func mergePatch(doc, patch map[string]any) map[string]any {
	if doc == nil {
		doc = map[string]any{}
	}
	for k, v := range patch {
		switch pv := v.(type) {
		case nil:
			delete(doc, k)
		case map[string]any:
			sub, _ := doc[k].(map[string]any)
			doc[k] = mergePatch(sub, pv)
		default:
			doc[k] = v
		}
	}
	return doc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, store http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(store)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		Endpoint:       srv.URL,
		APIVersion:     2,
		Username:       testUser,
		Password:       testPassword,
		Namespace:      testNamespace,
		RequestTimeout: 2 * time.Second,
	}, nil, nil)
	require.NoError(t, err)
	return c, srv
}
