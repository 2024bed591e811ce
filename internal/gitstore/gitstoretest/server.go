// Package gitstoretest provides an in-memory GitHub git-data API for tests.
package gitstoretest

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Route names used by Calls, FailNext and OnCall.
const (
	RouteGetRef       = "get-ref"
	RouteUpdateRef    = "update-ref"
	RouteGetCommit    = "get-commit"
	RouteCreateCommit = "create-commit"
	RouteCreateBlob   = "create-blob"
	RouteCreateTree   = "create-tree"
	RouteGetTree      = "get-tree"
	RouteListCommits  = "list-commits"
	RouteGetContents  = "get-contents"
)

// MutatingRoutes are the routes that create objects or move refs.
var MutatingRoutes = []string{RouteCreateBlob, RouteCreateTree, RouteCreateCommit, RouteUpdateRef}

type commitObject struct {
	tree    string
	parents []string
	message string
}

type failure struct {
	status int
	times  int
}

// Server fakes one GitHub repository. Objects are content addressed with real git blob hashes.
type Server struct {
	*httptest.Server

	Owner string
	Repo  string

	mu       sync.Mutex
	blobs    map[string][]byte
	trees    map[string]map[string]string
	commits  map[string]commitObject
	refs     map[string]string
	calls    map[string]int
	failures map[string]*failure
	hooks    map[string]func()
	seq      int
}

// New starts a fake for owner/repo and closes it when the test ends.
func New(t testing.TB, owner, repo string) *Server {
	t.Helper()
	s := &Server{
		Owner:    owner,
		Repo:     repo,
		blobs:    make(map[string][]byte),
		trees:    make(map[string]map[string]string),
		commits:  make(map[string]commitObject),
		refs:     make(map[string]string),
		calls:    make(map[string]int),
		failures: make(map[string]*failure),
		hooks:    make(map[string]func()),
	}

	prefix := "/repos/{owner}/{repo}"
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+prefix+"/git/ref/{ref...}", s.route(RouteGetRef, s.getRef))
	mux.HandleFunc("GET "+prefix+"/git/refs/{ref...}", s.route(RouteGetRef, s.getRef))
	mux.HandleFunc("PATCH "+prefix+"/git/refs/{ref...}", s.route(RouteUpdateRef, s.updateRef))
	mux.HandleFunc("GET "+prefix+"/git/commits/{sha}", s.route(RouteGetCommit, s.getCommit))
	mux.HandleFunc("POST "+prefix+"/git/commits", s.route(RouteCreateCommit, s.createCommit))
	mux.HandleFunc("POST "+prefix+"/git/blobs", s.route(RouteCreateBlob, s.createBlob))
	mux.HandleFunc("POST "+prefix+"/git/trees", s.route(RouteCreateTree, s.createTree))
	mux.HandleFunc("GET "+prefix+"/git/trees/{sha}", s.route(RouteGetTree, s.getTree))
	mux.HandleFunc("GET "+prefix+"/commits", s.route(RouteListCommits, s.listCommits))
	mux.HandleFunc("GET "+prefix+"/contents/{path...}", s.route(RouteGetContents, s.getContents))

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the API root to configure the client with.
func (s *Server) BaseURL() string {
	return s.URL + "/"
}

// Seed commits files on top of the branch head, creating the branch when missing.
// It returns the new head SHA.
func (s *Server) Seed(branch string, files map[string]string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	tree := make(map[string]string)
	var parents []string
	if head, ok := s.refs[branch]; ok {
		for p, sha := range s.trees[s.commits[head].tree] {
			tree[p] = sha
		}
		parents = []string{head}
	}
	for p, content := range files {
		tree[p] = s.putBlob([]byte(content))
	}
	sha := s.putCommit(s.putTree(tree), parents, fmt.Sprintf("seed %d", len(s.commits)+1))
	s.refs[branch] = sha
	return sha
}

// Head returns the SHA the branch points to.
func (s *Server) Head(branch string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs[branch]
}

// Files returns the content of every file at the branch head.
func (s *Server) Files(branch string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	for p, sha := range s.trees[s.commits[s.refs[branch]].tree] {
		out[p] = string(s.blobs[sha])
	}
	return out
}

// Parents returns the parents of a commit.
func (s *Server) Parents(sha string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commits[sha].parents...)
}

// Calls returns how many requests hit the route.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// MutatingCalls returns the number of requests that create objects or move refs.
func (s *Server) MutatingCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, r := range MutatingRoutes {
		n += s.calls[r]
	}
	return n
}

// FailNext makes the next times requests to route fail with status.
func (s *Server) FailNext(route string, status, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = &failure{status: status, times: times}
}

// OnCall runs fn once before the next request to route is handled.
func (s *Server) OnCall(route string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[route] = fn
}

func (s *Server) route(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[name]++
		hook := s.hooks[name]
		delete(s.hooks, name)
		var status int
		if f := s.failures[name]; f != nil && f.times > 0 {
			f.times--
			status = f.status
		}
		s.mu.Unlock()

		if hook != nil {
			hook()
		}
		if status != 0 {
			writeError(w, status, http.StatusText(status))
			return
		}
		h(w, r)
	}
}

func (s *Server) getRef(w http.ResponseWriter, r *http.Request) {
	branch := strings.TrimPrefix(r.PathValue("ref"), "heads/")
	s.mu.Lock()
	sha, ok := s.refs[branch]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, refJSON(branch, sha))
}

func (s *Server) updateRef(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SHA   string `json:"sha"`
		Force bool   `json:"force"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	branch := strings.TrimPrefix(r.PathValue("ref"), "heads/")

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.refs[branch]
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "Reference does not exist")
		return
	}
	if _, ok := s.commits[req.SHA]; !ok {
		writeError(w, http.StatusUnprocessableEntity, "Object does not exist")
		return
	}
	if !req.Force && !s.isAncestor(current, req.SHA) {
		writeError(w, http.StatusUnprocessableEntity, "Update is not a fast forward")
		return
	}
	s.refs[branch] = req.SHA
	writeJSON(w, http.StatusOK, refJSON(branch, req.SHA))
}

func (s *Server) getCommit(w http.ResponseWriter, r *http.Request) {
	sha := r.PathValue("sha")
	s.mu.Lock()
	c, ok := s.commits[sha]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, s.commitJSON(sha, c))
}

func (s *Server) createCommit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string   `json:"message"`
		Tree    string   `json:"tree"`
		Parents []string `json:"parents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trees[req.Tree]; !ok {
		writeError(w, http.StatusUnprocessableEntity, "Tree SHA does not exist")
		return
	}
	for _, p := range req.Parents {
		if _, ok := s.commits[p]; !ok {
			writeError(w, http.StatusUnprocessableEntity, "Parent SHA does not exist")
			return
		}
	}
	sha := s.putCommit(req.Tree, req.Parents, req.Message)
	writeJSON(w, http.StatusCreated, s.commitJSON(sha, s.commits[sha]))
}

func (s *Server) createBlob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	content := []byte(req.Content)
	if req.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid base64")
			return
		}
		content = decoded
	}

	s.mu.Lock()
	sha := s.putBlob(content)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]any{"sha": sha, "url": s.URL + "/blobs/" + sha})
}

func (s *Server) createTree(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BaseTree string `json:"base_tree"`
		Tree     []struct {
			Path string  `json:"path"`
			Mode string  `json:"mode"`
			Type string  `json:"type"`
			SHA  *string `json:"sha"`
		} `json:"tree"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tree := make(map[string]string)
	if req.BaseTree != "" {
		base, ok := s.trees[req.BaseTree]
		if !ok {
			writeError(w, http.StatusUnprocessableEntity, "base_tree is not a valid tree")
			return
		}
		for p, sha := range base {
			tree[p] = sha
		}
	}
	for _, e := range req.Tree {
		if e.SHA == nil {
			delete(tree, e.Path)
			continue
		}
		if _, ok := s.blobs[*e.SHA]; !ok {
			writeError(w, http.StatusUnprocessableEntity, "tree.sha "+*e.SHA+" is not a valid blob")
			return
		}
		tree[e.Path] = *e.SHA
	}
	sha := s.putTree(tree)
	writeJSON(w, http.StatusCreated, s.treeJSON(sha))
}

func (s *Server) getTree(w http.ResponseWriter, r *http.Request) {
	sha := r.PathValue("sha")
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.commits[sha]; ok {
		sha = c.tree
	}
	if _, ok := s.trees[sha]; !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, s.treeJSON(sha))
}

func (s *Server) listCommits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if perPage <= 0 {
		perPage = 30
	}
	page, _ := strconv.Atoi(q.Get("page"))
	if page <= 0 {
		page = 1
	}

	s.mu.Lock()
	branch := q.Get("sha")
	if branch == "" {
		branch = "main"
	}
	head, ok := s.refs[branch]
	var chain []string
	if ok {
		chain = s.reachable(head)
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	lastPage := (len(chain) + perPage - 1) / perPage
	if lastPage > 1 && page < lastPage {
		w.Header().Set("Link", fmt.Sprintf(`<%s%s?page=%d&per_page=%d&sha=%s>; rel="last"`,
			s.URL, r.URL.Path, lastPage, perPage, q.Get("sha")))
	}

	start := min((page-1)*perPage, len(chain))
	end := min(start+perPage, len(chain))
	out := make([]map[string]any, 0, end-start)
	for _, sha := range chain[start:end] {
		out = append(out, map[string]any{"sha": sha})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getContents(w http.ResponseWriter, r *http.Request) {
	p := strings.Trim(r.PathValue("path"), "/")
	ref := r.URL.Query().Get("ref")

	s.mu.Lock()
	defer s.mu.Unlock()
	head, ok := s.refs[ref]
	if !ok {
		writeError(w, http.StatusNotFound, "No commit found for the ref "+ref)
		return
	}
	tree := s.trees[s.commits[head].tree]

	if sha, ok := tree[p]; ok {
		content := s.blobs[sha]
		writeJSON(w, http.StatusOK, map[string]any{
			"type":     "file",
			"encoding": "base64",
			"name":     path.Base(p),
			"path":     p,
			"sha":      sha,
			"size":     len(content),
			"content":  base64.StdEncoding.EncodeToString(content),
		})
		return
	}

	children := make(map[string]map[string]any)
	for filePath, sha := range tree {
		rest, found := strings.CutPrefix(filePath, p+"/")
		if !found {
			continue
		}
		name, _, nested := strings.Cut(rest, "/")
		entry := map[string]any{"name": name, "path": p + "/" + name, "type": "file", "sha": sha, "size": len(s.blobs[sha])}
		if nested {
			entry = map[string]any{"name": name, "path": p + "/" + name, "type": "dir"}
		}
		children[name] = entry
	}
	if len(children) == 0 {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]map[string]any, 0, len(names))
	for _, name := range names {
		out = append(out, children[name])
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) putBlob(content []byte) string {
	sha := plumbing.ComputeHash(plumbing.BlobObject, content).String()
	s.blobs[sha] = append([]byte(nil), content...)
	return sha
}

func (s *Server) putTree(entries map[string]string) string {
	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	var buf bytes.Buffer
	for _, p := range paths {
		fmt.Fprintf(&buf, "%s %s %s\n", "100644", entries[p], p)
	}
	sha := plumbing.ComputeHash(plumbing.TreeObject, buf.Bytes()).String()
	s.trees[sha] = entries
	return sha
}

func (s *Server) putCommit(tree string, parents []string, message string) string {
	s.seq++
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", tree)
	for _, p := range parents {
		fmt.Fprintf(&buf, "parent %s\n", p)
	}
	fmt.Fprintf(&buf, "seq %d\n\n%s", s.seq, message)
	sha := plumbing.ComputeHash(plumbing.CommitObject, buf.Bytes()).String()
	s.commits[sha] = commitObject{tree: tree, parents: append([]string(nil), parents...), message: message}
	return sha
}

func (s *Server) isAncestor(ancestor, sha string) bool {
	for _, c := range s.reachable(sha) {
		if c == ancestor {
			return true
		}
	}
	return false
}

// reachable lists every commit reachable from sha, newest first.
func (s *Server) reachable(sha string) []string {
	var out []string
	seen := make(map[string]bool)
	queue := []string{sha}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		out = append(out, cur)
		queue = append(queue, s.commits[cur].parents...)
	}
	return out
}

func (s *Server) commitJSON(sha string, c commitObject) map[string]any {
	parents := make([]map[string]any, 0, len(c.parents))
	for _, p := range c.parents {
		parents = append(parents, map[string]any{"sha": p})
	}
	return map[string]any{
		"sha":      sha,
		"message":  c.message,
		"tree":     map[string]any{"sha": c.tree},
		"parents":  parents,
		"html_url": fmt.Sprintf("https://github.com/%s/%s/commit/%s", s.Owner, s.Repo, sha),
	}
}

func (s *Server) treeJSON(sha string) map[string]any {
	entries := s.trees[sha]
	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	out := make([]map[string]any, 0, len(paths))
	for _, p := range paths {
		out = append(out, map[string]any{
			"path": p,
			"mode": "100644",
			"type": "blob",
			"sha":  entries[p],
			"size": len(s.blobs[entries[p]]),
		})
	}
	return map[string]any{"sha": sha, "tree": out, "truncated": false}
}

func refJSON(branch, sha string) map[string]any {
	return map[string]any{
		"ref":    "refs/heads/" + branch,
		"object": map[string]any{"sha": sha, "type": "commit"},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"message": message})
}
