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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/rentcycle/internal/apierror"
)

// maxErrorBody bounds how much of an error response is kept for logging.
const maxErrorBody = 2048

// ToJsonReq converts a Go object to a JSON-encoded HTTP request payload.
//
// Parameters:
// - payload interface{}: The data structure to be serialized into JSON.
//
// Returns:
// - *bytes.Buffer: The JSON-encoded payload wrapped in a bytes buffer, ready to be sent in a request.
// - error: An error if the JSON marshalling process fails.
func ToJsonReq(payload interface{}) (*bytes.Buffer, error) {
	c, e := json.Marshal(payload)
	if e != nil {
		return nil, e
	}
	return bytes.NewBuffer(c), nil
}

// ToFormReq encodes values as an application/x-www-form-urlencoded body.
func ToFormReq(values url.Values) *strings.Reader {
	return strings.NewReader(values.Encode())
}

// Call sends req with client and decodes a 2xx JSON body into response.
// Non-2xx statuses are mapped onto the apierror taxonomy; transport errors
// are returned as transient. The Content-Type header defaults to JSON when
// the caller has not set one.
//
// Parameters:
// - client *http.Client: The client to send with. nil uses http.DefaultClient.
// - req *http.Request: The prepared HTTP request to send.
// - response interface{}: The target structure to hold the decoded JSON response, or nil.
//
// Returns:
// - *http.Response: The raw HTTP response object.
// - error: An error if the HTTP request fails, returns a non-2xx status or cannot be decoded.
func Call(client *http.Client, req *http.Request, response interface{}) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return resp, apierror.NewAPIError(apierror.ErrTransient, fmt.Sprintf("%s %s failed", req.Method, req.URL.Path), err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.WithError(err).Error("Failed to close response body")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp, apierror.FromHTTPStatus(resp.StatusCode,
			fmt.Sprintf("%s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode),
			string(body))
	}

	if response == nil {
		return resp, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(response); err != nil && err != io.EOF {
		return resp, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to decode response", err)
	}
	return resp, nil
}

// BasicAuth generates a basic HTTP authentication string by encoding the provided username and password.
//
// Parameters:
// - username string: The username for basic authentication.
// - password string: The password for basic authentication.
//
// Returns:
// - string: A base64-encoded string in the format "username:password".
func BasicAuth(username, password string) string {
	auth := username + ":" + password
	return base64.StdEncoding.EncodeToString([]byte(auth))
}
