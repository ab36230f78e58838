package cbtest

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
)

func (c *Cluster) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /pools", c.handlePools)
	mux.HandleFunc("GET /pools/default/buckets", c.handleListBuckets)
	mux.HandleFunc("GET /pools/default/buckets/{name}", c.handleGetBucket)
	mux.HandleFunc("POST /pools/default/buckets", c.handleCreateBucket)
	mux.HandleFunc("DELETE /pools/default/buckets/{name}", c.handleDeleteBucket)
	mux.HandleFunc("PUT /{bucket}/_design/{ddoc}", c.handlePutDesign)
	mux.HandleFunc("DELETE /{bucket}/_design/{ddoc}", c.handleDeleteDesign)
	mux.HandleFunc("GET /{bucket}/_design/{ddoc}/_view/{view}", c.handleView)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.opts.Username != "" {
			user, pass, ok := r.BasicAuth()
			if !ok || user != c.opts.Username || pass != c.opts.Password {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}
		mux.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorJSON(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"errors": map[string]string{"_": msg}})
}

func (c *Cluster) handlePools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"isAdminCreds": true,
		"pools":        []any{map[string]any{"name": "default", "uri": "/pools/default"}},
	})
}

func (c *Cluster) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	buckets := make([]*Bucket, 0, len(c.buckets))
	for _, b := range c.buckets {
		buckets = append(buckets, b)
	}
	c.mu.Unlock()

	out := make([]any, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, c.bucketConfig(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *Cluster) handleGetBucket(w http.ResponseWriter, r *http.Request) {
	if c.stallConfigs.Load() {
		<-r.Context().Done()
		return
	}
	b := c.Bucket(r.PathValue("name"))
	if b == nil {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, "Requested resource not found.\r\n")
		return
	}
	writeJSON(w, http.StatusOK, c.bucketConfig(b))
}

func (c *Cluster) handleCreateBucket(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		errorJSON(w, http.StatusBadRequest, err.Error())
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.created = append(c.created, r.PostForm)

	if c.createStatus != 0 {
		errorJSON(w, c.createStatus, "bucket creation refused")
		return
	}

	name := r.PostForm.Get("name")
	if name == "" {
		errorJSON(w, http.StatusBadRequest, "Bucket name cannot be empty")
		return
	}
	if v := r.PostForm.Get("replicaNumber"); v != "" {
		replicas, err := strconv.Atoi(v)
		if err != nil || replicas < 0 || replicas > len(c.nodes) {
			errorJSON(w, http.StatusBadRequest, "replicaNumber must be between 0 and the number of nodes")
			return
		}
	}
	if _, exists := c.buckets[name]; exists {
		errorJSON(w, http.StatusBadRequest, "Bucket with given name already exists")
		return
	}

	b := newBucket(name, r.PostForm.Get("bucketType"))
	if quota, err := strconv.Atoi(r.PostForm.Get("ramQuotaMB")); err == nil {
		b.RAMQuotaMB = quota
	}
	b.warmup = c.createWarmup
	c.buckets[name] = b

	w.WriteHeader(http.StatusAccepted)
}

func (c *Cluster) handleDeleteBucket(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	c.mu.Lock()
	defer c.mu.Unlock()

	c.deleted = append(c.deleted, name)
	b, ok := c.buckets[name]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	delete(c.buckets, name)
	for _, n := range c.nodes {
		n.dropBucket(b)
	}
	w.WriteHeader(http.StatusOK)
}

func (c *Cluster) viewBucket(w http.ResponseWriter, r *http.Request) *Bucket {
	b := c.Bucket(r.PathValue("bucket"))
	if b == nil || b.Type == BucketMemcached {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "reason": "no_couchbase_bucket_exists"})
		return nil
	}
	return b
}

func (c *Cluster) handlePutDesign(w http.ResponseWriter, r *http.Request) {
	b := c.viewBucket(w, r)
	if b == nil {
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil || !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "reason": "invalid UTF-8 JSON"})
		return
	}

	b.mu.Lock()
	b.designs[r.PathValue("ddoc")] = body
	b.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "id": "_design/" + r.PathValue("ddoc")})
}

func (c *Cluster) handleDeleteDesign(w http.ResponseWriter, r *http.Request) {
	b := c.viewBucket(w, r)
	if b == nil {
		return
	}

	name := r.PathValue("ddoc")
	b.mu.Lock()
	_, ok := b.designs[name]
	delete(b.designs, name)
	b.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "reason": "missing"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": "_design/" + name})
}

func (c *Cluster) handleView(w http.ResponseWriter, r *http.Request) {
	b := c.viewBucket(w, r)
	if b == nil {
		return
	}

	path := "_design/" + r.PathValue("ddoc") + "/_view/" + r.PathValue("view")
	b.mu.Lock()
	body, ok := b.views[path]
	b.viewQuery = r.URL.Query()
	b.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "reason": "missing_named_view"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}
