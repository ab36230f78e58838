package couchbase

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/pior/couchbase/engine"
	"gopkg.in/yaml.v2"
)

const bucketsPath = "pools/default/buckets"

// DefaultRAMQuotaMB is the RAM quota of a bucket created without one.
const DefaultRAMQuotaMB = 100

// Bucket types.
const (
	BucketCouchbase = "couchbase"
	BucketMemcached = "memcached"
)

// BucketSpec describes a bucket to create.
type BucketSpec struct {
	SASLPassword  string `yaml:"sasl_password"`
	RAMQuotaMB    int    `yaml:"ram_quota_mb"`
	ReplicaNumber int    `yaml:"replica_number"`
	// BucketType is BucketCouchbase or BucketMemcached. Empty lets the
	// cluster pick its default, a couchbase bucket.
	BucketType string `yaml:"bucket_type"`
	// Params are sent as extra form fields and override the computed ones.
	Params map[string]string `yaml:"params"`
}

// LoadBucketSpec reads a BucketSpec from a YAML file.
func LoadBucketSpec(path string) (BucketSpec, error) {
	var spec BucketSpec
	data, err := os.ReadFile(path)
	if err != nil {
		return spec, fmt.Errorf("couchbase: read bucket spec: %w", err)
	}
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return spec, fmt.Errorf("couchbase: parse bucket spec %s: %w", path, err)
	}
	return spec, nil
}

func (s BucketSpec) form(name string) url.Values {
	quota := s.RAMQuotaMB
	if quota <= 0 {
		quota = DefaultRAMQuotaMB
	}

	form := url.Values{}
	form.Set("name", name)
	form.Set("saslPassword", s.SASLPassword)
	form.Set("ramQuotaMB", strconv.Itoa(quota))
	form.Set("replicaNumber", strconv.Itoa(s.ReplicaNumber))
	form.Set("authType", "sasl")
	if s.BucketType != "" {
		form.Set("bucketType", s.BucketType)
	}
	for k, v := range s.Params {
		form.Set(k, v)
	}
	return form
}

func (s BucketSpec) isMemcached() bool {
	if t, ok := s.Params["bucketType"]; ok {
		return t == BucketMemcached
	}
	return s.BucketType == BucketMemcached
}

// BucketInfo is a bucket as listed by the cluster.
type BucketInfo struct {
	Name string `json:"name"`
	Type string `json:"bucketType"`
}

// Cluster is an administrative connection to the cluster REST API.
type Cluster struct {
	conn *connection
	cfg  *Config
}

func openCluster(cfg *Config, host, username, password string) (*Cluster, error) {
	conn, err := openConnection(cfg, cfg.engineOptions(host, username, password, "", engine.TypeCluster))
	if err != nil {
		return nil, err
	}
	return &Cluster{conn: conn, cfg: cfg}, nil
}

// Close releases the connection.
func (c *Cluster) Close() error {
	return c.conn.close()
}

// CreateBucket asks the cluster to create a bucket. The cluster accepts the
// request with 202; the bucket is not usable until it has warmed up, see
// Client.Create.
func (c *Cluster) CreateBucket(name string, spec BucketSpec) error {
	req := engine.HTTPRequest{
		Type:        engine.HTTPManagement,
		Method:      http.MethodPost,
		Path:        bucketsPath,
		Body:        []byte(spec.form(name).Encode()),
		ContentType: "application/x-www-form-urlencoded",
	}
	_, err := c.expect("create_bucket", name, req, http.StatusAccepted)
	return err
}

// DeleteBucket deletes a bucket and all of its documents.
func (c *Cluster) DeleteBucket(name string) error {
	req := engine.HTTPRequest{
		Type:   engine.HTTPManagement,
		Method: http.MethodDelete,
		Path:   bucketsPath + "/" + url.PathEscape(name),
	}
	_, err := c.expect("delete_bucket", name, req, http.StatusOK)
	return err
}

// Buckets lists the buckets of the cluster.
func (c *Cluster) Buckets() ([]BucketInfo, error) {
	req := engine.HTTPRequest{Type: engine.HTTPManagement, Method: http.MethodGet, Path: bucketsPath}
	body, err := c.expect("list_buckets", "", req, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var out []BucketInfo
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &Error{Op: "list_buckets", Kind: KindProtocol, Message: "invalid bucket list: " + err.Error(), err: err}
	}
	return out, nil
}

// expect runs req and requires the exact status want.
func (c *Cluster) expect(op, key string, req engine.HTTPRequest, want int) ([]byte, error) {
	var body []byte
	err := c.conn.do(op, key, slotHTTP,
		func(t Transport) error { return t.MakeHTTPRequest(nil, req) },
		func(r *router) error {
			resp := r.http.resp
			switch r.http.code {
			case engine.CodeSuccess, engine.CodeHTTPError:
				if resp == nil {
					return codeError(op, key, engine.CodeProtocolError)
				}
				if resp.Status != want {
					return httpError(op, key, resp.Status, resp.Body)
				}
				body = resp.Body
				return nil
			}
			return codeError(op, key, r.http.code)
		})
	return body, err
}
