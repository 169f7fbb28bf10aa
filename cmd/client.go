// Copyright (c) 2026 The dubqueue Authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type apiErrorBody struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// request issues method/path against apiAddr, encoding body (if non-nil) as
// JSON request payload and out (if non-nil) as the JSON response payload.
// Non-2xx responses are translated into the exit code the server's status
// implies, the same taxonomy httpapi/respond.go uses in reverse.
func request(method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, apiAddr+path, reqBody)
	if err != nil {
		return misconfigured(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return &cliError{ExitGeneric, err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb apiErrorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		msg := fmt.Sprintf("%s (status %d)", eb.Detail, resp.StatusCode)
		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			return quotaExceeded(msg)
		case http.StatusServiceUnavailable:
			return draining(msg)
		default:
			return &cliError{ExitGeneric, msg}
		}
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
