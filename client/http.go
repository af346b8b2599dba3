package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNotFound is returned when the node has no such resource.
var ErrNotFound = errors.New("not found")

// httpClient bounds every API call.
var httpClient = &http.Client{Timeout: 30 * time.Second}

// httpGet performs a GET request and decodes the JSON response.
func httpGet(url string, result any) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("GET %s:\n%w", url, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if err := checkStatus(url, resp); err != nil {
		return err
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// httpDownload performs a GET request and copies the body to w.
func httpDownload(url string, w io.Writer) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("GET %s:\n%w", url, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if err := checkStatus(url, resp); err != nil {
		return err
	}

	_, err = io.Copy(w, resp.Body)
	return err
}

// checkStatus turns a non-200 response into an error carrying the API message.
func checkStatus(url string, resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	var body struct {
		Error string `json:"error"`
	}
	json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("GET %s: %w", url, ErrNotFound)
	}

	return fmt.Errorf("GET %s: status %d: %s", url, resp.StatusCode, body.Error)
}
