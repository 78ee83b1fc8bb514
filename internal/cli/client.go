package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// APIError is a non-2xx reply from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type client struct {
	http *resty.Client
}

func newClient(server string) *client {
	c := resty.New().
		SetBaseURL(server).
		SetHeader("Content-Type", "application/json").
		SetTimeout(65 * time.Second)
	return &client{http: c}
}

// do sends body as JSON and returns the raw response body.
func (c *client) do(ctx context.Context, method, path string, query map[string]string, body any) ([]byte, error) {
	req := c.http.R().SetContext(ctx).SetQueryParams(query)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(resp.Body(), &e) != nil || e.Error == "" {
			e.Error = resp.String()
		}
		return nil, &APIError{Status: resp.StatusCode(), Message: e.Error}
	}
	return resp.Body(), nil
}
