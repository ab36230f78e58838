package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// MakeHTTPRequest schedules an HTTP request. The HTTPComplete callback
// carries CodeSuccess for 2xx responses, CodeHTTPError for any other
// status and a network code when no response was received.
func (i *Instance) MakeHTTPRequest(cookie any, req HTTPRequest) error {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if req.Type == HTTPRaw && req.Host == "" {
		return CodeInvalidArgs
	}

	return i.schedule(&operation{
		name:    "http " + req.Method,
		timeout: i.opts.HTTPTimeout,
		run: func(ctx context.Context, emit emitFunc) {
			code, resp := i.doHTTP(ctx, req)
			emit(func(cb Callbacks) { cb.HTTPComplete(cookie, code, resp) })
		},
	})
}

func (i *Instance) doHTTP(ctx context.Context, req HTTPRequest) (Code, *HTTPResponse) {
	failed := &HTTPResponse{Path: req.Path}

	base, code := i.httpBase(req)
	if code != CodeSuccess {
		return code, failed
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, base+strings.TrimPrefix(req.Path, "/"), body)
	if err != nil {
		return CodeInvalidArgs, failed
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	if i.opts.Username != "" {
		httpReq.SetBasicAuth(i.opts.Username, i.opts.Password)
	}

	resp, err := i.opts.HTTPClient.Do(httpReq)
	if err != nil {
		return httpErrorCode(err), failed
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return httpErrorCode(err), failed
	}

	out := &HTTPResponse{
		Status: resp.StatusCode,
		Path:   req.Path,
		Header: resp.Header,
		Body:   data,
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return CodeHTTPError, out
	}
	return CodeSuccess, out
}

func (i *Instance) httpBase(req HTTPRequest) (string, Code) {
	switch req.Type {
	case HTTPManagement:
		return i.restBase, CodeSuccess
	case HTTPRaw:
		return "http://" + strings.TrimSuffix(req.Host, "/") + "/", CodeSuccess
	case HTTPView:
		cfg, _, code := i.topology()
		if code != CodeSuccess {
			return "", code
		}
		if cfg.IsMemcached() {
			return "", CodeNotSupported
		}
		if base := cfg.ViewBase(); base != "" {
			return base, CodeSuccess
		}
		host := net.JoinHostPort(i.hostname, strconv.Itoa(DefaultViewPort))
		return "http://" + host + "/" + i.opts.Bucket + "/", CodeSuccess
	}
	return "", CodeInvalidArgs
}

func httpErrorCode(err error) Code {
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.As(err, &dnsErr):
		return CodeUnknownHost
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return CodeConnectError
	}
	return CodeNetworkError
}

// getJSON fetches a management API document for bootstrap.
func (i *Instance) getJSON(ctx context.Context, path string) ([]byte, Code, error) {
	code, resp := i.doHTTP(ctx, HTTPRequest{Type: HTTPManagement, Method: http.MethodGet, Path: path})
	switch {
	case code == CodeSuccess:
		return resp.Body, CodeSuccess, nil
	case resp.Status == http.StatusUnauthorized:
		return nil, CodeAuthError, fmt.Errorf("GET %s: unauthorized", path)
	case resp.Status == http.StatusNotFound:
		return nil, CodeBucketNotFound, fmt.Errorf("GET %s: not found", path)
	case code == CodeHTTPError:
		return nil, CodeProtocolError, fmt.Errorf("GET %s: status %d", path, resp.Status)
	default:
		return nil, code, fmt.Errorf("GET %s%s: %s", i.restBase, path, code)
	}
}
