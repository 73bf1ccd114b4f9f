// Package githubtest runs an in-memory stand-in for the parts of the GitHub
// issues API the relay uses.
package githubtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-github/v61/github"
)

type Issue struct {
	Number      int
	Body        string
	State       string
	Labels      []string
	Comments    []string
	PullRequest bool
	UpdatedAt   time.Time
}

type Server struct {
	*httptest.Server
	Owner string
	Repo  string

	mu        sync.Mutex
	issues    map[int]*Issue
	next      int
	clock     time.Time
	failEdits int
	listCalls int
}

func New(t testing.TB, owner, repo string) *Server {
	t.Helper()
	s := &Server{
		Owner:  owner,
		Repo:   repo,
		issues: map[int]*Issue{},
		next:   1,
		clock:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/{owner}/{repo}/issues", s.list)
	mux.HandleFunc("PATCH /repos/{owner}/{repo}/issues/{number}", s.edit)
	mux.HandleFunc("POST /repos/{owner}/{repo}/issues/{number}/labels", s.addLabels)
	mux.HandleFunc("DELETE /repos/{owner}/{repo}/issues/{number}/labels/{name}", s.removeLabel)
	mux.HandleFunc("POST /repos/{owner}/{repo}/issues/{number}/comments", s.comment)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Client returns a go-github client pointed at the fake.
func (s *Server) Client() *github.Client {
	client := github.NewClient(nil)
	u, _ := url.Parse(s.URL + "/")
	client.BaseURL = u
	return client
}

// AddIssue opens an issue and returns its number. Later issues count as more
// recently updated.
func (s *Server) AddIssue(body string, labels ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.next
	s.next++
	s.clock = s.clock.Add(time.Minute)
	s.issues[n] = &Issue{Number: n, Body: body, State: "open", Labels: labels, UpdatedAt: s.clock}
	return n
}

// AddPullRequest opens a pull request, which the issues API lists alongside issues.
func (s *Server) AddPullRequest(body string, labels ...string) int {
	n := s.AddIssue(body, labels...)
	s.mu.Lock()
	s.issues[n].PullRequest = true
	s.mu.Unlock()
	return n
}

func (s *Server) Issue(n int) Issue {
	s.mu.Lock()
	defer s.mu.Unlock()
	is := *s.issues[n]
	is.Labels = append([]string(nil), is.Labels...)
	is.Comments = append([]string(nil), is.Comments...)
	return is
}

// SetLabels replaces an issue's labels, as a maintainer editing it by hand would.
func (s *Server) SetLabels(n int, labels ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	is := s.issues[n]
	is.Labels = append([]string(nil), labels...)
	s.touch(is)
}

// FailEdits makes the next n issue edits answer 502.
func (s *Server) FailEdits(n int) {
	s.mu.Lock()
	s.failEdits = n
	s.mu.Unlock()
}

func (s *Server) ListCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

func (s *Server) checkRepo(w http.ResponseWriter, r *http.Request) bool {
	if r.PathValue("owner") != s.Owner || r.PathValue("repo") != s.Repo {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
		return false
	}
	return true
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) *Issue {
	n, err := strconv.Atoi(r.PathValue("number"))
	if err != nil {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
		return nil
	}
	is, ok := s.issues[n]
	if !ok {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
		return nil
	}
	return is
}

func hasAll(have []string, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func toJSON(is *Issue) map[string]any {
	labels := make([]map[string]any, 0, len(is.Labels))
	for _, l := range is.Labels {
		labels = append(labels, map[string]any{"name": l})
	}
	out := map[string]any{
		"number":     is.Number,
		"body":       is.Body,
		"state":      is.State,
		"labels":     labels,
		"updated_at": is.UpdatedAt.Format(time.RFC3339),
	}
	if is.PullRequest {
		out["pull_request"] = map[string]any{"url": "https://example.invalid/pull/" + strconv.Itoa(is.Number)}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	if !s.checkRepo(w, r) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++

	q := r.URL.Query()
	state := q.Get("state")
	if state == "" {
		state = "open"
	}
	var labels []string
	if l := q.Get("labels"); l != "" {
		labels = strings.Split(l, ",")
	}
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if perPage <= 0 {
		perPage = 30
	}

	var matched []*Issue
	for _, is := range s.issues {
		if (state == "all" || is.State == state) && hasAll(is.Labels, labels) {
			matched = append(matched, is)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if q.Get("direction") == "asc" {
			return matched[i].UpdatedAt.Before(matched[j].UpdatedAt)
		}
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})
	if len(matched) > perPage {
		matched = matched[:perPage]
	}

	out := make([]map[string]any, 0, len(matched))
	for _, is := range matched {
		out = append(out, toJSON(is))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) edit(w http.ResponseWriter, r *http.Request) {
	if !s.checkRepo(w, r) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failEdits > 0 {
		s.failEdits--
		http.Error(w, `{"message":"Bad Gateway"}`, http.StatusBadGateway)
		return
	}
	is := s.lookup(w, r)
	if is == nil {
		return
	}
	var req struct {
		State *string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"message":"Problems parsing JSON"}`, http.StatusBadRequest)
		return
	}
	if req.State != nil {
		is.State = *req.State
	}
	s.touch(is)
	writeJSON(w, http.StatusOK, toJSON(is))
}

// touch bumps updated_at the way GitHub does on any issue change.
// Callers hold s.mu.
func (s *Server) touch(is *Issue) {
	s.clock = s.clock.Add(time.Minute)
	is.UpdatedAt = s.clock
}

func (s *Server) addLabels(w http.ResponseWriter, r *http.Request) {
	if !s.checkRepo(w, r) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	is := s.lookup(w, r)
	if is == nil {
		return
	}
	var labels []string
	if err := json.NewDecoder(r.Body).Decode(&labels); err != nil {
		http.Error(w, `{"message":"Problems parsing JSON"}`, http.StatusBadRequest)
		return
	}
	for _, l := range labels {
		if !hasAll(is.Labels, []string{l}) {
			is.Labels = append(is.Labels, l)
		}
	}
	s.touch(is)
	writeJSON(w, http.StatusOK, toJSON(is)["labels"])
}

func (s *Server) removeLabel(w http.ResponseWriter, r *http.Request) {
	if !s.checkRepo(w, r) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	is := s.lookup(w, r)
	if is == nil {
		return
	}
	name := r.PathValue("name")
	kept := make([]string, 0, len(is.Labels))
	for _, l := range is.Labels {
		if l != name {
			kept = append(kept, l)
		}
	}
	if len(kept) == len(is.Labels) {
		http.Error(w, `{"message":"Label does not exist"}`, http.StatusNotFound)
		return
	}
	is.Labels = kept
	s.touch(is)
	writeJSON(w, http.StatusOK, toJSON(is)["labels"])
}

func (s *Server) comment(w http.ResponseWriter, r *http.Request) {
	if !s.checkRepo(w, r) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	is := s.lookup(w, r)
	if is == nil {
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"message":"Problems parsing JSON"}`, http.StatusBadRequest)
		return
	}
	is.Comments = append(is.Comments, req.Body)
	s.touch(is)
	writeJSON(w, http.StatusCreated, map[string]any{"id": len(is.Comments), "body": req.Body})
}
