package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/m00npl/guardant/pkg/types"
)

// maxKeywordBody bounds how much of the response body is scanned
const maxKeywordBody = 1 << 20

// KeywordChecker fetches the target and tests the body for a keyword
type KeywordChecker struct{}

// NewKeywordChecker creates a new keyword checker
func NewKeywordChecker() *KeywordChecker {
	return &KeywordChecker{}
}

// Check performs the keyword check
func (k *KeywordChecker) Check(ctx context.Context, svc *types.NestService) Result {
	start := time.Now()

	if svc.Keyword == nil || svc.Keyword.Keyword == "" {
		return down(start, "keyword configuration missing")
	}
	cfg := svc.Keyword

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.Target, nil)
	if err != nil {
		return down(start, err.Error())
	}
	req.Header.Set("User-Agent", "GuardAnt-Monitor/1.0")

	begin := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		return failure(start, err)
	}
	defer resp.Body.Close()
	latency := time.Since(begin).Milliseconds()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeywordBody))
	if err != nil {
		return failure(start, err)
	}

	haystack := string(body)
	needle := cfg.Keyword
	if !cfg.CaseSensitive {
		haystack = strings.ToLower(haystack)
		needle = strings.ToLower(needle)
	}

	found := strings.Contains(haystack, needle)
	if found == cfg.MustContain {
		verb := "present"
		if !found {
			verb = "absent"
		}
		return up(start, fmt.Sprintf("keyword %q %s as expected", cfg.Keyword, verb), latency)
	}

	if cfg.MustContain {
		return down(start, fmt.Sprintf("keyword %q not found", cfg.Keyword))
	}
	return down(start, fmt.Sprintf("forbidden keyword %q found", cfg.Keyword))
}

// Type returns the service type
func (k *KeywordChecker) Type() types.ServiceType {
	return types.ServiceTypeKeyword
}
