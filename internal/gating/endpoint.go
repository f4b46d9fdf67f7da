package gating

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// EndpointChecker probes operator-supplied HTTP endpoints for custom gating.
// The URL template has already been validated at rule-storage time; the only
// substitution performed here is the subject's wallet address.
type EndpointChecker struct {
	http *http.Client
}

func NewEndpointChecker() *EndpointChecker {
	return &EndpointChecker{
		http: &http.Client{
			Timeout: 10 * time.Second,
			// A gating endpoint that redirects is answering a different
			// question; treat it as a denial.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Check substitutes address into template and reports whether the endpoint
// answered 200.
func (c *EndpointChecker) Check(ctx context.Context, template, address string) (bool, error) {
	target := strings.ReplaceAll(template, "{{address}}", address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return false, fmt.Errorf("gating endpoint returned %d", resp.StatusCode)
	}
	return resp.StatusCode == http.StatusOK, nil
}
