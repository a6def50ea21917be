/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package request

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const maxErrorBody = 512

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.Code)
}

// StatusCode exposes the HTTP status to error classifiers.
func (e *StatusError) StatusCode() int {
	return e.Code
}

// ToJsonReq serializes payload into a request body.
func ToJsonReq(payload interface{}) (*bytes.Buffer, error) {
	c, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(c), nil
}

// Call sends req with a JSON content type and decodes a 2xx body into response.
// Non-2xx responses yield a *StatusError. A nil client uses http.DefaultClient.
func Call(client *http.Client, req *http.Request, response interface{}) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return resp, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp, &StatusError{
			Method: req.Method,
			URL:    req.URL.String(),
			Code:   resp.StatusCode,
			Body:   string(body),
		}
	}

	if response == nil {
		return resp, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return resp, fmt.Errorf("decode response from %s: %w", req.URL, err)
	}
	return resp, nil
}

// GetJSON issues a GET bound to ctx and decodes the body into out.
func GetJSON(ctx context.Context, client *http.Client, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	_, err = Call(client, req, out)
	return err
}

// PostJSON issues a POST of payload bound to ctx. The response body is discarded.
func PostJSON(ctx context.Context, client *http.Client, url string, payload interface{}) error {
	body, err := ToJsonReq(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	_, err = Call(client, req, nil)
	return err
}
