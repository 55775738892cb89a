// Package e2e drives a running govid server through its public HTTP API.
// The server must run with DEMO_SEED=true so the demo identities and their
// opaque tokens exist.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "http://localhost:8080"

// TestContext holds one scenario's HTTP state.
type TestContext struct {
	baseURL string
	client  *http.Client

	actor      string
	token      string
	clientAddr string

	lastStatus  int
	lastBody    []byte
	lastHeaders http.Header
	saved       map[string]string
}

func NewTestContext() *TestContext {
	base := os.Getenv("GOVID_E2E_URL")
	if base == "" {
		base = defaultBaseURL
	}
	return &TestContext{
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		saved:   make(map[string]string),
	}
}

// DemoToken is the opaque token the demo seed issues for externalID.
func DemoToken(externalID string) string {
	return "demo-" + strings.ToLower(externalID)
}

func (tc *TestContext) SetActor(externalID string) {
	tc.actor = externalID
	tc.token = DemoToken(externalID)
}

func (tc *TestContext) SetToken(token string) { tc.token = token }

func (tc *TestContext) ClearToken() {
	tc.actor = ""
	tc.token = ""
}

func (tc *TestContext) Actor() string { return tc.actor }

// SetClientAddress sends every later request with X-Forwarded-For set, giving
// the scenario its own address window.
func (tc *TestContext) SetClientAddress(addr string) { tc.clientAddr = addr }

func (tc *TestContext) GET(path string) error {
	return tc.do(http.MethodGet, path, nil)
}

func (tc *TestContext) POST(path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	return tc.do(http.MethodPost, path, raw)
}

func (tc *TestContext) do(method, path string, body []byte) error {
	req, err := http.NewRequest(method, tc.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tc.token != "" {
		req.Header.Set("Authorization", "Bearer "+tc.token)
	}
	if tc.clientAddr != "" {
		req.Header.Set("X-Forwarded-For", tc.clientAddr)
	}

	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	tc.lastBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	tc.lastStatus = resp.StatusCode
	tc.lastHeaders = resp.Header
	return nil
}

func (tc *TestContext) LastStatus() int            { return tc.lastStatus }
func (tc *TestContext) LastBody() []byte           { return tc.lastBody }
func (tc *TestContext) LastHeader(k string) string { return tc.lastHeaders.Get(k) }

// ResponseField walks a dot-separated path through the last JSON body.
// Numeric segments index arrays.
func (tc *TestContext) ResponseField(path string) (any, error) {
	var cur any
	if err := json.Unmarshal(tc.lastBody, &cur); err != nil {
		return nil, fmt.Errorf("response is not JSON: %s", tc.lastBody)
	}
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, fmt.Errorf("field %q not found in %s", path, tc.lastBody)
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("index %q out of range in %q", seg, path)
			}
			cur = node[i]
		default:
			return nil, fmt.Errorf("cannot descend into %q of %q", seg, path)
		}
	}
	return cur, nil
}

func (tc *TestContext) Save(key, value string) { tc.saved[key] = value }

func (tc *TestContext) Saved(key string) string { return tc.saved[key] }
