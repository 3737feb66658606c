package probe

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/m00npl/guardant/pkg/types"
)

// customPrefix marks a target carrying an embedded monitoring-API descriptor
const customPrefix = "custom:"

// CustomChecker handles the custom service type. A plain URL target behaves
// like a web check against an expected status; a "custom:<base64-json>"
// target describes an external monitoring API whose response fields are
// walked for down signals.
type CustomChecker struct{}

// NewCustomChecker creates a new custom checker
func NewCustomChecker() *CustomChecker {
	return &CustomChecker{}
}

type customDescriptor struct {
	URL    string   `json:"url"`
	Fields []string `json:"fields"`
}

// Check performs the custom check
func (c *CustomChecker) Check(ctx context.Context, svc *types.NestService) Result {
	if !strings.HasPrefix(svc.Target, customPrefix) {
		expected := 0
		if svc.Custom != nil {
			expected = svc.Custom.ExpectedStatus
		}
		return checkHTTP(ctx, svc.Target, expected)
	}
	return c.checkAPI(ctx, svc.Target)
}

// Type returns the service type
func (c *CustomChecker) Type() types.ServiceType {
	return types.ServiceTypeCustom
}

func (c *CustomChecker) checkAPI(ctx context.Context, target string) Result {
	start := time.Now()

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(target, customPrefix))
	if err != nil {
		return down(start, fmt.Sprintf("bad custom descriptor: %v", err))
	}
	var desc customDescriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		return down(start, fmt.Sprintf("bad custom descriptor: %v", err))
	}
	if desc.URL == "" {
		return down(start, "custom descriptor has no url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.URL, nil)
	if err != nil {
		return down(start, err.Error())
	}
	req.Header.Set("Accept", "application/json")

	begin := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		return failure(start, err)
	}
	defer resp.Body.Close()
	latency := time.Since(begin).Milliseconds()

	if resp.StatusCode != http.StatusOK {
		return down(start, fmt.Sprintf("monitoring API returned HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return failure(start, err)
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return down(start, fmt.Sprintf("bad monitoring API payload: %v", err))
	}

	meta := make(map[string]string, len(desc.Fields))
	for _, path := range desc.Fields {
		value, ok := walkPath(doc, path)
		if !ok {
			continue
		}
		meta[path] = fmt.Sprintf("%v", value)
		if reason := downSignal(path, value); reason != "" {
			r := down(start, fmt.Sprintf("field %s: %s", path, reason))
			r.Metadata = meta
			return r
		}
	}

	r := up(start, fmt.Sprintf("all %d monitored fields healthy", len(desc.Fields)), latency)
	r.Metadata = meta
	return r
}

// walkPath follows dot and bracket notation ("a.b[0].c") through decoded JSON
func walkPath(doc any, path string) (any, bool) {
	cur := doc
	for _, seg := range splitPath(path) {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

func splitPath(path string) []string {
	replaced := strings.NewReplacer("[", ".", "]", "").Replace(path)
	var segs []string
	for _, s := range strings.Split(replaced, ".") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// downSignal interprets a field value: "down"/false/0 always, non-"up" status
// fields, and availability fields below 90
func downSignal(path string, value any) string {
	leaf := strings.ToLower(path)
	if i := strings.LastIndexAny(leaf, ".]"); i >= 0 {
		leaf = leaf[i+1:]
	}

	switch v := value.(type) {
	case string:
		lv := strings.ToLower(v)
		if lv == "down" {
			return "reports down"
		}
		if strings.Contains(leaf, "status") && lv != "up" {
			return fmt.Sprintf("status %q", v)
		}
	case bool:
		if !v {
			return "reports false"
		}
	case float64:
		if v == 0 {
			return "reports zero"
		}
		if strings.Contains(leaf, "availability") && v < 90 {
			return fmt.Sprintf("availability %.2f below 90", v)
		}
	}
	return ""
}
