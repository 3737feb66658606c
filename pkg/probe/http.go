package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/m00npl/guardant/pkg/types"
)

// WebChecker probes HTTP(S) endpoints. It issues HEAD first and falls back to
// GET when the server rejects HEAD (403/404/405); response time is wall clock
// until headers arrive.
type WebChecker struct{}

// NewWebChecker creates a new web checker
func NewWebChecker() *WebChecker {
	return &WebChecker{}
}

// Check performs the HTTP check
func (w *WebChecker) Check(ctx context.Context, svc *types.NestService) Result {
	expected := 0
	if svc.Custom != nil {
		expected = svc.Custom.ExpectedStatus
	}
	return checkHTTP(ctx, svc.Target, expected)
}

// Type returns the service type
func (w *WebChecker) Type() types.ServiceType {
	return types.ServiceTypeWeb
}

// checkHTTP runs the HEAD-then-GET probe shared by web, custom and keyword-less
// checks. expectedStatus of 0 means "any success status".
func checkHTTP(ctx context.Context, target string, expectedStatus int) Result {
	start := time.Now()

	status, rt, err := doRequest(ctx, http.MethodHead, target)
	fallback := false
	if err == nil && (status == http.StatusForbidden || status == http.StatusNotFound || status == http.StatusMethodNotAllowed) {
		status, rt, err = doRequest(ctx, http.MethodGet, target)
		fallback = true
	}
	if err != nil {
		return failure(start, err)
	}

	ok := status >= 200 && status < 400
	if expectedStatus != 0 {
		ok = status == expectedStatus
	}

	message := fmt.Sprintf("HTTP %d", status)
	if fallback {
		message += " (GET fallback)"
	}
	if !ok {
		if expectedStatus != 0 {
			message = fmt.Sprintf("%s, expected %d", message, expectedStatus)
		}
		return down(start, message)
	}
	return up(start, message, rt)
}

// doRequest issues one request and returns the status code and the time to
// headers in milliseconds
func doRequest(ctx context.Context, method, target string) (int, int64, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("User-Agent", "GuardAnt-Monitor/1.0")

	begin := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, 0, err
	}
	rt := time.Since(begin).Milliseconds()
	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
	return resp.StatusCode, rt, nil
}
