package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/odvcencio/gotsync/pkg/object"
)

// Endpoint identifies a sync protocol repository endpoint.
// BaseURL is normalized to ".../got/{owner}/{repo}" with no trailing slash.
type Endpoint struct {
	Raw     string
	BaseURL string
	Owner   string
	Repo    string
	user    string
	pass    string
}

// ParseEndpoint parses a remote URL into a canonical endpoint.
//
// Supported inputs include:
// - https://host/got/owner/repo
// - https://host/owner/repo (expanded to /got/owner/repo)
// - https://host/api/v1/got/owner/repo
func ParseEndpoint(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, fmt.Errorf("remote URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse remote URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Endpoint{}, fmt.Errorf("remote URL must include scheme and host")
	}

	segments := splitPathSegments(u.Path)
	if len(segments) < 2 {
		return Endpoint{}, fmt.Errorf("remote URL must include owner and repository")
	}

	gotIdx := -1
	for i := 0; i+2 < len(segments); i++ {
		if segments[i] == "got" {
			gotIdx = i
		}
	}

	var owner, repo string
	var baseSegments []string
	if gotIdx >= 0 {
		owner = segments[gotIdx+1]
		repo = segments[gotIdx+2]
		baseSegments = append(baseSegments, segments[:gotIdx+3]...)
	} else {
		owner = segments[len(segments)-2]
		repo = segments[len(segments)-1]
		baseSegments = append(baseSegments, segments[:len(segments)-2]...)
		baseSegments = append(baseSegments, "got", owner, repo)
	}

	endpointURL := *u
	endpointURL.Path = "/" + strings.Join(baseSegments, "/")
	endpointURL.RawPath = ""
	endpointURL.RawQuery = ""
	endpointURL.Fragment = ""
	var user, pass string
	if endpointURL.User != nil {
		user = endpointURL.User.Username()
		pass, _ = endpointURL.User.Password()
	}
	endpointURL.User = nil

	return Endpoint{
		Raw:     raw,
		BaseURL: strings.TrimRight(endpointURL.String(), "/"),
		Owner:   owner,
		Repo:    repo,
		user:    user,
		pass:    pass,
	}, nil
}

func splitPathSegments(p string) []string {
	p = strings.TrimSpace(path.Clean(p))
	p = strings.TrimPrefix(p, "/")
	if p == "" || p == "." {
		return nil
	}
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" && part != "." {
			out = append(out, part)
		}
	}
	return out
}

// ClientOptions configures the remote protocol client.
type ClientOptions struct {
	Timeout     time.Duration // HTTP client timeout (default 60s)
	MaxAttempts int           // retry attempts (default 3)
	Callbacks   Callbacks
}

// Response limits per endpoint type.
const (
	responseLimitDefault = 2 << 20  // 2MB
	responseLimitRefs    = 8 << 20  // 8MB
	responseLimitBatch   = 64 << 20 // 64MB
	responseLimitObject  = 32 << 20 // 32MB
)

// Client is the HTTP Transport.
type Client struct {
	endpoint    Endpoint
	httpClient  *http.Client
	maxAttempts int
	cb          Callbacks

	credOnce sync.Once
	credErr  error
	token    string
	user     string
	pass     string

	mu         sync.Mutex
	serverCaps Capabilities
}

// NewClient creates a remote protocol client with default options.
func NewClient(remoteURL string) (*Client, error) {
	return NewClientWithOptions(remoteURL, ClientOptions{})
}

// NewClientWithOptions creates a remote protocol client with configurable options.
// Zero-value or negative fields in opts receive defaults (60s timeout, 3 attempts).
func NewClientWithOptions(remoteURL string, opts ClientOptions) (*Client, error) {
	endpoint, err := ParseEndpoint(remoteURL)
	if err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Client{
		endpoint:    endpoint,
		httpClient:  &http.Client{Timeout: opts.Timeout},
		maxAttempts: opts.MaxAttempts,
		cb:          opts.Callbacks,
		serverCaps:  ParseCapabilities(""),
	}, nil
}

// Endpoint returns the parsed endpoint metadata.
func (c *Client) Endpoint() Endpoint {
	return c.endpoint
}

// ServerCapabilities returns what the server advertised on its last reply.
func (c *Client) ServerCapabilities() Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverCaps
}

// resolveCredentials picks credentials once per client.
//
// Resolution order:
// 1) GOT_TOKEN (Bearer)
// 2) GOT_USERNAME + GOT_PASSWORD (Basic)
// 3) URL userinfo (Basic)
// 4) the Credentials callback
func (c *Client) resolveCredentials() error {
	c.credOnce.Do(func() {
		c.token = strings.TrimSpace(os.Getenv("GOT_TOKEN"))
		c.user = strings.TrimSpace(os.Getenv("GOT_USERNAME"))
		c.pass = os.Getenv("GOT_PASSWORD")
		if c.token != "" || c.user != "" {
			return
		}
		if c.endpoint.user != "" {
			c.user, c.pass = c.endpoint.user, c.endpoint.pass
			return
		}
		if c.cb.Credentials == nil {
			return
		}
		creds, err := c.cb.Credentials(c.endpoint.BaseURL)
		if err != nil {
			c.credErr = fmt.Errorf("credentials for %s: %w", c.endpoint.BaseURL, err)
			return
		}
		c.token = strings.TrimSpace(creds.Token)
		c.user = strings.TrimSpace(creds.Username)
		c.pass = creds.Password
	})
	return c.credErr
}

// ListRefs returns all remote refs under their full names.
func (c *Client) ListRefs(ctx context.Context) (map[string]object.Hash, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint.BaseURL+"/refs", nil)
	if err != nil {
		return nil, err
	}
	body, err := c.doWithLimit(req, responseLimitRefs, "application/json")
	if err != nil {
		return nil, err
	}
	var raw map[string]string
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode refs response: %w", err)
	}
	refs := make(map[string]object.Hash, len(raw))
	for name, hash := range raw {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		h := object.Hash(strings.TrimSpace(hash))
		if err := object.ValidateHash(h); err != nil {
			return nil, fmt.Errorf("invalid hash for ref %q: %w", name, err)
		}
		refs[fromWireRef(name)] = h
	}
	return refs, nil
}

// FetchObjects downloads everything reachable from wants into store.
func (c *Client) FetchObjects(ctx context.Context, store *object.Store, wants, haves []object.Hash) (TransferProgress, error) {
	return fetchIntoStore(ctx, c, store, wants, haves, c.cb)
}

type wireObject struct {
	Hash string `json:"hash"`
	Type string `json:"type"`
	Data []byte `json:"data"`
}

// BatchObjects fetches missing objects reachable from wants and not in haves.
func (c *Client) BatchObjects(ctx context.Context, wants, haves []object.Hash, maxObjects int) ([]ObjectRecord, bool, error) {
	reqBody := struct {
		Wants      []string `json:"wants"`
		Haves      []string `json:"haves,omitempty"`
		MaxObjects int      `json:"max_objects,omitempty"`
	}{MaxObjects: maxObjects}
	for _, h := range object.UniqueHashes(wants) {
		reqBody.Wants = append(reqBody.Wants, string(h))
	}
	for _, h := range object.UniqueHashes(haves) {
		reqBody.Haves = append(reqBody.Haves, string(h))
	}
	if len(reqBody.Wants) == 0 {
		return nil, false, fmt.Errorf("at least one non-empty want hash is required")
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.BaseURL+"/objects/batch", bytes.NewReader(payload))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.doWithLimit(req, responseLimitBatch, "application/json")
	if err != nil {
		return nil, false, err
	}

	var resp struct {
		Objects   []wireObject `json:"objects"`
		Truncated bool         `json:"truncated"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, false, fmt.Errorf("decode batch response: %w", err)
	}

	out := make([]ObjectRecord, 0, len(resp.Objects))
	for _, obj := range resp.Objects {
		objType, err := parseObjectType(obj.Type)
		if err != nil {
			return nil, false, err
		}
		h := object.Hash(strings.TrimSpace(obj.Hash))
		if err := object.ValidateHash(h); err != nil {
			return nil, false, fmt.Errorf("invalid hash in batch response: %w", err)
		}
		out = append(out, ObjectRecord{Hash: h, Type: objType, Data: obj.Data})
	}
	return out, resp.Truncated, nil
}

// GetObject fetches one object by hash.
func (c *Client) GetObject(ctx context.Context, hash object.Hash) (ObjectRecord, error) {
	hash = object.Hash(strings.TrimSpace(string(hash)))
	if err := object.ValidateHash(hash); err != nil {
		return ObjectRecord{}, fmt.Errorf("get object: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint.BaseURL+"/objects/"+string(hash), nil)
	if err != nil {
		return ObjectRecord{}, err
	}
	resp, body, err := c.roundTrip(req, responseLimitObject)
	if err != nil {
		return ObjectRecord{}, err
	}

	objType, err := parseObjectType(resp.Header.Get("X-Object-Type"))
	if err != nil {
		return ObjectRecord{}, fmt.Errorf("decode object %s: %w", hash, err)
	}
	return ObjectRecord{Hash: hash, Type: objType, Data: body}, nil
}

// PushObjects uploads objects as newline-delimited JSON, zstd-compressed
// when the server advertised support for it.
func (c *Client) PushObjects(ctx context.Context, objects []ObjectRecord) error {
	if len(objects) == 0 {
		return nil
	}

	progress := newProgressTracker(c.cb)
	if err := progress.expect(len(objects)); err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, obj := range objects {
		if _, err := parseObjectType(string(obj.Type)); err != nil {
			return fmt.Errorf("push object %d: %w", i, err)
		}
		computedHash := object.HashObject(obj.Type, obj.Data)
		if provided := object.Hash(strings.TrimSpace(string(obj.Hash))); provided != "" && provided != computedHash {
			return fmt.Errorf("push object %d: hash mismatch (provided %s, computed %s)", i, provided, computedHash)
		}
		if err := enc.Encode(wireObject{Hash: string(computedHash), Type: string(obj.Type), Data: obj.Data}); err != nil {
			return fmt.Errorf("push object %d: encode: %w", i, err)
		}
		if err := progress.received(len(obj.Data), true); err != nil {
			return err
		}
	}

	payload := buf.Bytes()
	compressed := false
	if c.ServerCapabilities().Has("zstd") {
		z, err := compressZstd(payload)
		if err != nil {
			return fmt.Errorf("compress push payload: %w", err)
		}
		payload, compressed = z, true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.BaseURL+"/objects", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	if compressed {
		req.Header.Set("Content-Encoding", "zstd")
	}
	_, err = c.doWithLimit(req, responseLimitDefault, "application/json")
	return err
}

// UpdateRefs applies atomic CAS updates on the remote refs.
func (c *Client) UpdateRefs(ctx context.Context, updates []RefUpdate) (map[string]object.Hash, error) {
	if len(updates) == 0 {
		return nil, fmt.Errorf("at least one ref update is required")
	}

	type refUpdatePayload struct {
		Name string  `json:"name"`
		Old  *string `json:"old,omitempty"`
		New  *string `json:"new"`
	}
	payload := struct {
		Updates []refUpdatePayload `json:"updates"`
	}{Updates: make([]refUpdatePayload, 0, len(updates))}
	for _, u := range updates {
		name := toWireRef(u.Name)
		if name == "" {
			return nil, fmt.Errorf("ref update name is required")
		}
		var oldStr *string
		if u.Old != nil {
			v := strings.TrimSpace(string(*u.Old))
			oldStr = &v
		}
		newStr := new(string)
		if u.New != nil {
			*newStr = strings.TrimSpace(string(*u.New))
		}
		payload.Updates = append(payload.Updates, refUpdatePayload{Name: name, Old: oldStr, New: newStr})
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.BaseURL+"/refs", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.doWithLimit(req, responseLimitDefault, "application/json")
	if err != nil {
		return nil, err
	}
	var resp struct {
		Updated map[string]string `json:"updated"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode ref update response: %w", err)
	}

	out := make(map[string]object.Hash, len(resp.Updated))
	for name, hash := range resp.Updated {
		out[fromWireRef(name)] = object.Hash(strings.TrimSpace(hash))
	}
	return out, nil
}

// doWithLimit sends req and returns the decoded body of a 200 response.
func (c *Client) doWithLimit(req *http.Request, maxBytes int64, expectedContentType string) ([]byte, error) {
	resp, body, err := c.roundTrip(req, maxBytes)
	if err != nil {
		return nil, err
	}
	ct := resp.Header.Get("Content-Type")
	if strings.HasPrefix(ct, contentTypeSideband) {
		return demuxSideband(body, c.cb.Message)
	}
	if expectedContentType != "" && ct != "" && !strings.HasPrefix(ct, expectedContentType) {
		return nil, fmt.Errorf("unexpected content type %q (expected %s) from %s %s (status %d)",
			ct, expectedContentType, req.Method, req.URL.Path, resp.StatusCode)
	}
	return body, nil
}

// roundTrip sends req with retries, records the server's capabilities and
// returns the body of a 200 response, decompressed if needed.
func (c *Client) roundTrip(req *http.Request, maxBytes int64) (*http.Response, []byte, error) {
	if err := c.applyAuth(req); err != nil {
		return nil, nil, err
	}
	resp, err := retryDo(c.httpClient, req, c.maxAttempts)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if caps := resp.Header.Get(headerCapabilities); caps != "" {
		c.mu.Lock()
		c.serverCaps = ParseCapabilities(caps)
		c.mu.Unlock()
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		if re := tryParseRemoteError(body); re != nil {
			return nil, nil, re
		}
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, nil, fmt.Errorf("remote request failed (%s %s): %s", req.Method, req.URL.Path, msg)
	}
	if isZstdEncoded(resp.Header.Get("Content-Encoding")) {
		body, err = decompressZstd(body, maxBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("decompress %s response: %w", req.URL.Path, err)
		}
	}
	return resp, body, nil
}

func (c *Client) applyAuth(req *http.Request) error {
	req.Header.Set(headerProtocol, ProtocolVersion)
	req.Header.Set(headerCapabilities, ClientCapabilities)
	req.Header.Set("Accept-Encoding", "zstd")

	if err := c.resolveCredentials(); err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
		return nil
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}
	return nil
}
