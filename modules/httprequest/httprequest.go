// Package httprequest performs one HTTP request, for notifying external
// systems from a workflow.
package httprequest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/opcflow/internal/graph"
	"github.com/vk/opcflow/internal/registry"
	"github.com/vk/opcflow/internal/value"
)

// DefaultTimeout bounds one request.
const DefaultTimeout = 10 * time.Second

// MaxBodyBytes caps how much of the response is captured.
const MaxBodyBytes = 1 << 20

// Register wires the http_request node type.
func Register(r *registry.Registry) {
	r.Register(&registry.Handler{
		Type: "http_request",
		Schema: graph.Schema{
			Inputs: []graph.PortDef{
				{Name: "body", Type: cty.String, Optional: true},
			},
			Outputs: []graph.PortDef{
				{Name: "status", Type: cty.Number},
				{Name: "body", Type: cty.String},
			},
		},
		Run: run,
	})
}

func run(ctx context.Context, call *registry.Call) (map[string]cty.Value, error) {
	url := value.GetString(call.Config, "url")
	if url == "" {
		return nil, fmt.Errorf("missing required config attribute \"url\"")
	}
	method := value.GetString(call.Config, "method")
	if method == "" {
		method = http.MethodGet
	}
	timeout := DefaultTimeout
	if s := value.GetString(call.Config, "timeout"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout: %w", err)
		}
		timeout = d
	}

	var body io.Reader
	if v, ok := call.ConfigValue("body"); ok && v.Type() == cty.String {
		body = strings.NewReader(v.AsString())
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, strings.ToUpper(method), url, body)
	if err != nil {
		return nil, err
	}
	if headers, ok := call.Config["headers"]; ok && !headers.IsNull() && headers.CanIterateElements() {
		for it := headers.ElementIterator(); it.Next(); {
			k, v := it.Element()
			if k.Type() == cty.String && v.Type() == cty.String {
				req.Header.Set(k.AsString(), v.AsString())
			}
		}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return nil, err
	}

	return map[string]cty.Value{
		"status": cty.NumberIntVal(int64(resp.StatusCode)),
		"body":   cty.StringVal(string(data)),
	}, nil
}
