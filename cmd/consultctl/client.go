package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sanjabh11/consultflow/internal/observability"
	"github.com/sanjabh11/consultflow/internal/transport"
	"github.com/sanjabh11/consultflow/model"
)

// client calls the consultation HTTP API on behalf of one operator.
type client struct {
	baseURL string
	subject string
	roles   string
	token   string
	http    *http.Client
}

func newClient(baseURL, subject, roles, token string, timeout time.Duration) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		subject: subject,
		roles:   roles,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// do sends the request and decodes a successful response into out. Error
// responses are returned as *model.ErrorEnvelope.
func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/v1"+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost {
		req.Header.Set(transport.HeaderIdempotencyKey, uuid.NewString())
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else {
		req.Header.Set(transport.HeaderSubjectID, c.subject)
		if c.roles != "" {
			req.Header.Set(transport.HeaderRoles, c.roles)
		}
	}
	observability.InjectTraceHeaders(ctx, req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		env := &model.ErrorEnvelope{}
		if err := json.NewDecoder(resp.Body).Decode(env); err != nil || env.Code == "" {
			return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
		}
		return env
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}
