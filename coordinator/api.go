package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

const defaultTimeout = 30 * time.Second

// Client is the HTTP/JSON client for the per-client API. Every call takes
// the Session explicitly; the client itself holds no credential.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientConfig holds client construction options.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewClient creates an API client for the given base URL.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

// BaseURL returns the resolved base URL of the per-client API.
func (c *Client) BaseURL() string { return c.baseURL }

// envelope is the common response wrapper: {success, error?}.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (e envelope) ok() bool       { return e.Success }
func (e envelope) errMsg() string { return e.Error }

type responseEnvelope interface {
	ok() bool
	errMsg() string
}

// do issues a request and decodes the JSON envelope. An application-level
// failure ({success:false}) becomes an *APIError with a classified kind;
// transport failures are wrapped and classified by ErrorKind at the caller.
func (c *Client) do(ctx context.Context, op, method, path, token string, body any, out responseEnvelope) error {
	l := sub("api")

	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		l.Warn("request failed", "op", op, "path", path, "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response (HTTP %d): %w", op, resp.StatusCode, err)
	}

	if !out.ok() {
		msg := out.errMsg()
		if msg == "" {
			msg = fmt.Sprintf("server returned HTTP %d", resp.StatusCode)
		}
		apiErr := newAPIError(op, msg)
		l.Warn("server rejected request", "op", op, "kind", apiErr.Kind, "msg", msg)
		return apiErr
	}
	return nil
}

// --- auth and session lifecycle ---

type loginResponse struct {
	envelope
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Login authenticates against the identity service and returns a Session
// bound to this client's base URL.
func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	var resp loginResponse
	err := c.do(ctx, "login", http.MethodPost, "/login", "", map[string]string{
		"username": username,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	sub("api").Info("logged in", "user", resp.User.Username)
	return &Session{BaseURL: c.baseURL, Token: resp.Token, User: resp.User}, nil
}

// Register creates a new account and returns a Session for it.
func (c *Client) Register(ctx context.Context, username, password, displayName string) (*Session, error) {
	var resp loginResponse
	err := c.do(ctx, "register", http.MethodPost, "/register", "", map[string]string{
		"username":     username,
		"password":     password,
		"display_name": displayName,
	}, &resp)
	if err != nil {
		return nil, err
	}
	sub("api").Info("registered", "user", resp.User.Username)
	return &Session{BaseURL: c.baseURL, Token: resp.Token, User: resp.User}, nil
}

type initResponse struct {
	envelope
	Client ClientInfo `json:"client"`
}

// InitSession establishes the per-client peer endpoint with the registry.
// The returned ClientInfo is recorded on the session.
func (c *Client) InitSession(ctx context.Context, sess *Session, serverIP string, serverPort uint16) (ClientInfo, error) {
	var resp initResponse
	err := c.do(ctx, "init", http.MethodPost, "/init", sess.Token, map[string]any{
		"username":    sess.User.Username,
		"server_ip":   serverIP,
		"server_port": serverPort,
	}, &resp)
	if err != nil {
		return ClientInfo{}, err
	}
	sess.Client = resp.Client
	sub("api").Info("client initialized", "hostname", resp.Client.Hostname, "port", resp.Client.Port)
	return resp.Client, nil
}

// Logout disconnects the client from the network. Failures are surfaced
// but callers treat them as non-fatal to navigation.
func (c *Client) Logout(ctx context.Context, sess *Session) error {
	var resp envelope
	return c.do(ctx, "logout", http.MethodPost, "/logout", sess.Token, nil, &resp)
}

// --- file listings ---

type filesResponse struct {
	envelope
	Files []FileRecord `json:"files"`
}

type networkFilesResponse struct {
	envelope
	Files []NetworkFileRecord `json:"files"`
}

// LocalFiles fetches the full local-files listing.
func (c *Client) LocalFiles(ctx context.Context, sess *Session) ([]FileRecord, error) {
	var resp filesResponse
	if err := c.do(ctx, "list local files", http.MethodGet, "/local-files", sess.Token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

// PublishedFiles fetches the full published-files listing.
func (c *Client) PublishedFiles(ctx context.Context, sess *Session) ([]FileRecord, error) {
	var resp filesResponse
	if err := c.do(ctx, "list published files", http.MethodGet, "/published-files", sess.Token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

// NetworkFiles fetches the full network-files listing.
func (c *Client) NetworkFiles(ctx context.Context, sess *Session) ([]NetworkFileRecord, error) {
	var resp networkFilesResponse
	if err := c.do(ctx, "list network files", http.MethodGet, "/network-files", sess.Token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

// --- duplicate checks (server-side variants) ---

type localDuplicateResponse struct {
	envelope
	Exists    bool        `json:"exists"`
	LocalFile *FileRecord `json:"local_file,omitempty"`
}

// CheckLocalDuplicate asks the backend whether a file with the given name
// is already tracked. The in-memory classifier answers the same question
// from the resident snapshot; this call is for callers without one.
func (c *Client) CheckLocalDuplicate(ctx context.Context, sess *Session, fname string) (bool, *FileRecord, error) {
	var resp localDuplicateResponse
	err := c.do(ctx, "check local duplicate", http.MethodPost, "/check-local-duplicate", sess.Token, map[string]string{
		"fname": fname,
	}, &resp)
	if err != nil {
		return false, nil, err
	}
	return resp.Exists, resp.LocalFile, nil
}

type networkDuplicateResponse struct {
	envelope
	HasExact       bool                `json:"has_exact_duplicate"`
	HasPartial     bool                `json:"has_partial_duplicate"`
	ExactMatches   []NetworkFileRecord `json:"exact_matches"`
	PartialMatches []NetworkFileRecord `json:"partial_matches"`
}

// CheckNetworkDuplicate asks the backend to classify a candidate against
// the network directory.
func (c *Client) CheckNetworkDuplicate(ctx context.Context, sess *Session, fname string, size uint64, modified float64) (DuplicateVerdict, error) {
	var resp networkDuplicateResponse
	err := c.do(ctx, "check network duplicate", http.MethodPost, "/check-duplicate", sess.Token, map[string]any{
		"fname":    fname,
		"size":     size,
		"modified": modified,
	}, &resp)
	if err != nil {
		return DuplicateVerdict{}, err
	}
	return DuplicateVerdict{
		HasExact:       resp.HasExact,
		ExactMatches:   resp.ExactMatches,
		HasPartial:     resp.HasPartial,
		PartialMatches: resp.PartialMatches,
	}, nil
}

// --- mutations ---

type addFileResponse struct {
	envelope
	Message string      `json:"message"`
	File    *FileRecord `json:"file,omitempty"`
}

// AddFile tracks a file by path (metadata only, no copy). With autoPublish
// the backend publishes in a second step; a publish failure there leaves
// the file tracked but unpublished.
func (c *Client) AddFile(ctx context.Context, sess *Session, filePath string, autoPublish bool) (*FileRecord, string, error) {
	var resp addFileResponse
	err := c.do(ctx, "add file", http.MethodPost, "/add-file", sess.Token, map[string]any{
		"filepath":     filePath,
		"auto_publish": autoPublish,
	}, &resp)
	if err != nil {
		return nil, "", err
	}
	sub("api").Info("file tracked", "path", filePath, "autoPublish", autoPublish)
	return resp.File, resp.Message, nil
}

type messageResponse struct {
	envelope
	Message string `json:"message"`
}

// Publish announces a tracked file to the network directory.
func (c *Client) Publish(ctx context.Context, sess *Session, fname, localPath string) (string, error) {
	body := map[string]string{"fname": fname}
	if localPath != "" {
		body["local_path"] = localPath
	}
	var resp messageResponse
	if err := c.do(ctx, "publish", http.MethodPost, "/publish", sess.Token, body, &resp); err != nil {
		return "", err
	}
	sub("api").Info("file published", "fname", fname)
	return resp.Message, nil
}

// Unpublish withdraws a file from the network directory, keeping it tracked.
func (c *Client) Unpublish(ctx context.Context, sess *Session, fname string) (string, error) {
	var resp messageResponse
	err := c.do(ctx, "unpublish", http.MethodPost, "/unpublish", sess.Token, map[string]string{
		"fname": fname,
	}, &resp)
	if err != nil {
		return "", err
	}
	sub("api").Info("file unpublished", "fname", fname)
	return resp.Message, nil
}

// --- fetch ---

type fetchResponse struct {
	envelope
	FetchID  string `json:"fetch_id"`
	SavePath string `json:"save_path"`
}

// SubmitFetch asks the peer-transfer backend to start downloading fname.
// Returns the opaque fetch id and the resolved save path.
func (c *Client) SubmitFetch(ctx context.Context, sess *Session, fname, savePath string) (string, string, error) {
	body := map[string]string{"fname": fname}
	if savePath != "" {
		body["save_path"] = savePath
	}
	var resp fetchResponse
	if err := c.do(ctx, "fetch", http.MethodPost, "/fetch", sess.Token, body, &resp); err != nil {
		return "", "", err
	}
	return resp.FetchID, resp.SavePath, nil
}

type fetchProgressResponse struct {
	envelope
	Progress FetchProgress `json:"progress"`
}

// FetchProgress polls the progress resource for a fetch id.
func (c *Client) FetchProgress(ctx context.Context, sess *Session, fetchID string) (FetchProgress, error) {
	var resp fetchProgressResponse
	path := "/fetch-progress/" + url.PathEscape(fetchID)
	if err := c.do(ctx, "fetch progress", http.MethodGet, path, sess.Token, nil, &resp); err != nil {
		return FetchProgress{}, err
	}
	resp.Progress.FetchID = fetchID
	return resp.Progress, nil
}
