package platform

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultBaseURL   = "https://www.instagram.com"
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	defaultAppID     = "936619743392459"
)

// HTTPClientConfig tunes the concrete adapter. Zero values select working
// defaults; Transport exists so tests can intercept requests.
type HTTPClientConfig struct {
	BaseURL   string
	UserAgent string
	AppID     string
	Timeout   time.Duration
	Transport http.RoundTripper
}

// HTTPClient talks to the platform's private web API. It owns a cookie jar
// whose contents, together with the device identity, form the exportable
// settings blob.
type HTTPClient struct {
	cfg  HTTPClientConfig
	http *http.Client
	jar  *cookiejar.Jar
	base *url.URL

	mu        sync.Mutex
	username  string
	userPK    int64
	deviceID  string
	csrfToken string
	userIDs   map[string]int64
}

// NewHTTPClient constructs an unauthenticated adapter.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.AppID == "" {
		cfg.AppID = defaultAppID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	jar, _ := cookiejar.New(nil)
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		base, _ = url.Parse(defaultBaseURL)
	}
	return &HTTPClient{
		cfg:      cfg,
		http:     &http.Client{Jar: jar, Timeout: cfg.Timeout, Transport: cfg.Transport},
		jar:      jar,
		base:     base,
		deviceID: newDeviceID(),
		userIDs:  make(map[string]int64),
	}
}

// NewFactory returns a Factory producing adapters that share the provided
// configuration but nothing else.
func NewFactory(cfg HTTPClientConfig) Factory {
	return func() Client {
		return NewHTTPClient(cfg)
	}
}

func newDeviceID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("android-%d", time.Now().UnixNano())
	}
	return "android-" + hex.EncodeToString(buf)
}

type settingsBlob struct {
	Username  string          `json:"username"`
	UserPK    int64           `json:"user_pk"`
	DeviceID  string          `json:"device_id"`
	CSRFToken string          `json:"csrf_token"`
	Cookies   []settingCookie `json:"cookies"`
}

type settingCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Path    string    `json:"path,omitempty"`
	Expires time.Time `json:"expires,omitempty"`
}

// Login performs the credentialed web login flow: fetch a CSRF token, then
// submit the encoded password.
func (c *HTTPClient) Login(ctx context.Context, username, password string) error {
	if strings.TrimSpace(username) == "" || password == "" {
		return &Error{Kind: KindInvalidCredentials, Message: "username and password are required"}
	}
	if err := c.primeCSRF(ctx); err != nil {
		return err
	}

	form := url.Values{}
	form.Set("username", username)
	form.Set("enc_password", fmt.Sprintf("#PWD_INSTAGRAM_BROWSER:0:%d:%s", time.Now().Unix(), password))
	form.Set("queryParams", "{}")
	form.Set("optIntoOneTap", "false")

	var result struct {
		Authenticated bool   `json:"authenticated"`
		User          bool   `json:"user"`
		UserID        string `json:"userId"`
		Message       string `json:"message"`
		Status        string `json:"status"`
		CheckpointURL string `json:"checkpoint_url"`
	}
	if err := c.postForm(ctx, "/api/v1/web/accounts/login/ajax/", form, &result); err != nil {
		return err
	}
	switch {
	case result.CheckpointURL != "" || result.Message == "checkpoint_required":
		return &Error{Kind: KindChallengeRequired, Message: "account challenge required"}
	case !result.Authenticated && result.User:
		return &Error{Kind: KindInvalidCredentials, Message: "bad password"}
	case !result.Authenticated:
		return &Error{Kind: KindInvalidCredentials, Message: "unknown account"}
	}

	pk, _ := strconv.ParseInt(result.UserID, 10, 64)
	c.mu.Lock()
	c.username = username
	c.userPK = pk
	c.mu.Unlock()
	return nil
}

// Restore imports an exported settings blob and revalidates it with a
// no-credential call. A stale or revoked blob surfaces as an error so callers
// can fall back to a fresh login.
func (c *HTTPClient) Restore(ctx context.Context, settings []byte) error {
	var blob settingsBlob
	if err := json.Unmarshal(settings, &blob); err != nil {
		return NewError(KindOther, err, "decode settings: %v", err)
	}
	if blob.Username == "" || len(blob.Cookies) == 0 {
		return &Error{Kind: KindOther, Message: "settings blob is incomplete"}
	}

	cookies := make([]*http.Cookie, 0, len(blob.Cookies))
	for _, ck := range blob.Cookies {
		cookies = append(cookies, &http.Cookie{
			Name:    ck.Name,
			Value:   ck.Value,
			Path:    ck.Path,
			Expires: ck.Expires,
		})
	}
	c.jar.SetCookies(c.base, cookies)

	c.mu.Lock()
	c.username = blob.Username
	c.userPK = blob.UserPK
	if blob.DeviceID != "" {
		c.deviceID = blob.DeviceID
	}
	c.csrfToken = blob.CSRFToken
	c.mu.Unlock()

	var current struct {
		User struct {
			PK       json.Number `json:"pk"`
			Username string      `json:"username"`
		} `json:"user"`
		Status string `json:"status"`
	}
	if err := c.getJSON(ctx, "/api/v1/accounts/current_user/", nil, &current); err != nil {
		return fmt.Errorf("revalidate restored session: %w", err)
	}
	if current.User.Username == "" {
		return &Error{Kind: KindOther, Message: "restored session is no longer valid"}
	}
	if pk, err := current.User.PK.Int64(); err == nil && pk != 0 {
		c.mu.Lock()
		c.userPK = pk
		c.mu.Unlock()
	}
	return nil
}

// Settings exports the cookie jar and device identity as an opaque JSON blob.
func (c *HTTPClient) Settings() ([]byte, error) {
	c.mu.Lock()
	blob := settingsBlob{
		Username:  c.username,
		UserPK:    c.userPK,
		DeviceID:  c.deviceID,
		CSRFToken: c.csrfToken,
	}
	c.mu.Unlock()
	if blob.Username == "" {
		return nil, &Error{Kind: KindOther, Message: "client is not authenticated"}
	}
	for _, ck := range c.jar.Cookies(c.base) {
		blob.Cookies = append(blob.Cookies, settingCookie{
			Name:    ck.Name,
			Value:   ck.Value,
			Path:    ck.Path,
			Expires: ck.Expires,
		})
	}
	return json.Marshal(blob)
}

// Username reports the authenticated account name, empty before login.
func (c *HTTPClient) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

func (c *HTTPClient) UserInfo(ctx context.Context, username string) (User, error) {
	var result struct {
		Data struct {
			User struct {
				ID            json.Number `json:"id"`
				Username      string      `json:"username"`
				FullName      string      `json:"full_name"`
				Biography     string      `json:"biography"`
				ProfilePicURL string      `json:"profile_pic_url_hd"`
				IsVerified    bool        `json:"is_verified"`
				EdgeFollowed  struct {
					Count int `json:"count"`
				} `json:"edge_followed_by"`
				EdgeFollow struct {
					Count int `json:"count"`
				} `json:"edge_follow"`
				EdgeMedia struct {
					Count int `json:"count"`
				} `json:"edge_owner_to_timeline_media"`
			} `json:"user"`
		} `json:"data"`
	}
	query := url.Values{"username": {username}}
	if err := c.getJSON(ctx, "/api/v1/users/web_profile_info/", query, &result); err != nil {
		return User{}, err
	}
	raw := result.Data.User
	if raw.Username == "" {
		return User{}, NewError(KindOther, nil, "user %s not found", username)
	}
	pk, _ := raw.ID.Int64()
	return User{
		PK:             pk,
		Username:       raw.Username,
		FullName:       raw.FullName,
		Biography:      raw.Biography,
		ProfilePicURL:  raw.ProfilePicURL,
		FollowerCount:  raw.EdgeFollowed.Count,
		FollowingCount: raw.EdgeFollow.Count,
		MediaCount:     raw.EdgeMedia.Count,
		IsVerified:     raw.IsVerified,
	}, nil
}

type rawMedia struct {
	PK      json.Number `json:"pk"`
	Caption struct {
		Text string `json:"text"`
	} `json:"caption"`
	MediaType     int `json:"media_type"`
	ImageVersions struct {
		Candidates []struct {
			URL string `json:"url"`
		} `json:"candidates"`
	} `json:"image_versions2"`
	LikeCount    int   `json:"like_count"`
	CommentCount int   `json:"comment_count"`
	TakenAt      int64 `json:"taken_at"`
}

func (m rawMedia) toMedia() Media {
	pk, _ := m.PK.Int64()
	media := Media{
		PK:           pk,
		CaptionText:  m.Caption.Text,
		MediaType:    m.MediaType,
		LikeCount:    m.LikeCount,
		CommentCount: m.CommentCount,
	}
	if len(m.ImageVersions.Candidates) > 0 {
		media.ThumbnailURL = m.ImageVersions.Candidates[0].URL
	}
	if m.TakenAt > 0 {
		media.TakenAt = time.Unix(m.TakenAt, 0).UTC()
	}
	return media
}

func (c *HTTPClient) UserMedias(ctx context.Context, username string, limit int) ([]Media, error) {
	if err := ValidateLimit(limit); err != nil {
		return nil, err
	}
	userID, err := c.resolveUserID(ctx, username)
	if err != nil {
		return nil, err
	}
	var result struct {
		Items []rawMedia `json:"items"`
	}
	query := url.Values{"count": {strconv.Itoa(limit)}}
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v1/feed/user/%d/", userID), query, &result); err != nil {
		return nil, err
	}
	medias := make([]Media, 0, len(result.Items))
	for _, item := range result.Items {
		medias = append(medias, item.toMedia())
		if len(medias) >= limit {
			break
		}
	}
	return medias, nil
}

type rawUserSummary struct {
	PK            json.Number `json:"pk"`
	Username      string      `json:"username"`
	FullName      string      `json:"full_name"`
	ProfilePicURL string      `json:"profile_pic_url"`
	IsVerified    bool        `json:"is_verified"`
	FollowerCount int         `json:"follower_count"`
}

func (u rawUserSummary) toSummary() UserSummary {
	pk, _ := u.PK.Int64()
	return UserSummary{
		PK:            pk,
		Username:      u.Username,
		FullName:      u.FullName,
		ProfilePicURL: u.ProfilePicURL,
		IsVerified:    u.IsVerified,
		FollowerCount: u.FollowerCount,
	}
}

func (c *HTTPClient) UserFollowers(ctx context.Context, username string, limit int) ([]UserSummary, error) {
	return c.friendships(ctx, username, limit, "followers")
}

func (c *HTTPClient) UserFollowing(ctx context.Context, username string, limit int) ([]UserSummary, error) {
	return c.friendships(ctx, username, limit, "following")
}

func (c *HTTPClient) friendships(ctx context.Context, username string, limit int, direction string) ([]UserSummary, error) {
	if err := ValidateLimit(limit); err != nil {
		return nil, err
	}
	userID, err := c.resolveUserID(ctx, username)
	if err != nil {
		return nil, err
	}
	var result struct {
		Users []rawUserSummary `json:"users"`
	}
	query := url.Values{"count": {strconv.Itoa(limit)}}
	path := fmt.Sprintf("/api/v1/friendships/%d/%s/", userID, direction)
	if err := c.getJSON(ctx, path, query, &result); err != nil {
		return nil, err
	}
	users := make([]UserSummary, 0, len(result.Users))
	for _, raw := range result.Users {
		users = append(users, raw.toSummary())
		if len(users) >= limit {
			break
		}
	}
	return users, nil
}

func (c *HTTPClient) LikeMedia(ctx context.Context, mediaID string) error {
	if strings.TrimSpace(mediaID) == "" {
		return &Error{Kind: KindBadRequest, Message: "media_id is required"}
	}
	var result struct {
		Status string `json:"status"`
	}
	path := fmt.Sprintf("/api/v1/web/likes/%s/like/", url.PathEscape(mediaID))
	if err := c.postForm(ctx, path, url.Values{}, &result); err != nil {
		return err
	}
	if result.Status != "ok" {
		return NewError(KindOther, nil, "like rejected with status %q", result.Status)
	}
	return nil
}

func (c *HTTPClient) CommentMedia(ctx context.Context, mediaID, text string) (string, error) {
	if strings.TrimSpace(mediaID) == "" {
		return "", &Error{Kind: KindBadRequest, Message: "media_id is required"}
	}
	if strings.TrimSpace(text) == "" {
		return "", &Error{Kind: KindBadRequest, Message: "comment text is required"}
	}
	form := url.Values{"comment_text": {text}}
	var result struct {
		ID     json.Number `json:"id"`
		Status string      `json:"status"`
	}
	path := fmt.Sprintf("/api/v1/web/comments/%s/add/", url.PathEscape(mediaID))
	if err := c.postForm(ctx, path, form, &result); err != nil {
		return "", err
	}
	if result.Status != "ok" {
		return "", NewError(KindOther, nil, "comment rejected with status %q", result.Status)
	}
	return result.ID.String(), nil
}

func (c *HTTPClient) UploadPhoto(ctx context.Context, path, caption string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", NewError(KindBadRequest, err, "open photo: %v", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	uploadID := strconv.FormatInt(time.Now().UnixMilli(), 10)
	_ = writer.WriteField("upload_id", uploadID)
	_ = writer.WriteField("caption", caption)
	part, err := writer.CreateFormFile("photo", filepath.Base(path))
	if err != nil {
		return "", NewError(KindOther, err, "build upload request: %v", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", NewError(KindOther, err, "read photo: %v", err)
	}
	if err := writer.Close(); err != nil {
		return "", NewError(KindOther, err, "finalize upload request: %v", err)
	}

	var result struct {
		Media struct {
			PK json.Number `json:"pk"`
		} `json:"media"`
		Status string `json:"status"`
	}
	if err := c.postBody(ctx, "/api/v1/media/configure/", writer.FormDataContentType(), &body, &result); err != nil {
		return "", err
	}
	if result.Status != "ok" {
		return "", NewError(KindOther, nil, "upload rejected with status %q", result.Status)
	}
	return result.Media.PK.String(), nil
}

func (c *HTTPClient) SearchUsers(ctx context.Context, query string, limit int) ([]UserSummary, error) {
	if err := ValidateLimit(limit); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, &Error{Kind: KindBadRequest, Message: "query is required"}
	}
	var result struct {
		Users []struct {
			User rawUserSummary `json:"user"`
		} `json:"users"`
	}
	params := url.Values{"query": {query}, "context": {"user"}}
	if err := c.getJSON(ctx, "/api/v1/web/search/topsearch/", params, &result); err != nil {
		return nil, err
	}
	users := make([]UserSummary, 0, len(result.Users))
	for _, entry := range result.Users {
		users = append(users, entry.User.toSummary())
		if len(users) >= limit {
			break
		}
	}
	return users, nil
}

// resolveUserID maps a username to its numeric platform identifier, caching
// successful lookups for the lifetime of the client.
func (c *HTTPClient) resolveUserID(ctx context.Context, username string) (int64, error) {
	normalized := strings.ToLower(strings.TrimSpace(username))
	if normalized == "" {
		return 0, &Error{Kind: KindBadRequest, Message: "username is required"}
	}
	c.mu.Lock()
	if id, ok := c.userIDs[normalized]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	info, err := c.UserInfo(ctx, normalized)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.userIDs[normalized] = info.PK
	c.mu.Unlock()
	return info.PK, nil
}

// primeCSRF fetches the landing page so the jar holds a csrftoken cookie
// before the login POST.
func (c *HTTPClient) primeCSRF(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/", nil, "")
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return NewError(KindOther, err, "reach platform: %v", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	for _, ck := range c.jar.Cookies(c.base) {
		if ck.Name == "csrftoken" {
			c.mu.Lock()
			c.csrfToken = ck.Value
			c.mu.Unlock()
			return nil
		}
	}
	return nil
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	target := c.base.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, NewError(KindOther, err, "build request: %v", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("X-IG-App-ID", c.cfg.AppID)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	c.mu.Lock()
	if c.csrfToken != "" {
		req.Header.Set("X-CSRFToken", c.csrfToken)
	}
	c.mu.Unlock()
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, query url.Values, dest interface{}) error {
	target := path
	if len(query) > 0 {
		target = path + "?" + query.Encode()
	}
	req, err := c.newRequest(ctx, http.MethodGet, target, nil, "")
	if err != nil {
		return err
	}
	return c.do(req, dest)
}

func (c *HTTPClient) postForm(ctx context.Context, path string, form url.Values, dest interface{}) error {
	body := strings.NewReader(form.Encode())
	req, err := c.newRequest(ctx, http.MethodPost, path, body, "application/x-www-form-urlencoded")
	if err != nil {
		return err
	}
	return c.do(req, dest)
}

func (c *HTTPClient) postBody(ctx context.Context, path, contentType string, body io.Reader, dest interface{}) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, body, contentType)
	if err != nil {
		return err
	}
	return c.do(req, dest)
}

func (c *HTTPClient) do(req *http.Request, dest interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return NewError(KindOther, err, "platform request failed: %v", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return NewError(KindOther, err, "read platform response: %v", err)
	}
	for _, ck := range resp.Cookies() {
		if ck.Name == "csrftoken" && ck.Value != "" {
			c.mu.Lock()
			c.csrfToken = ck.Value
			c.mu.Unlock()
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return classifyResponse(resp.StatusCode, payload)
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return NewError(KindOther, err, "decode platform response: %v", err)
	}
	return nil
}

// classifyResponse maps platform error payloads onto the error taxonomy.
func classifyResponse(status int, payload []byte) error {
	var body struct {
		Message   string `json:"message"`
		ErrorType string `json:"error_type"`
	}
	_ = json.Unmarshal(payload, &body)
	message := body.Message
	if message == "" {
		message = strings.TrimSpace(string(payload))
	}
	if message == "" {
		message = http.StatusText(status)
	}

	switch {
	case status == http.StatusTooManyRequests,
		strings.Contains(message, "Please wait"),
		body.ErrorType == "rate_limit_error":
		return &Error{Kind: KindRateLimited, Message: message}
	case body.Message == "checkpoint_required",
		body.ErrorType == "checkpoint_challenge_required",
		strings.Contains(message, "challenge"):
		return &Error{Kind: KindChallengeRequired, Message: message}
	case body.ErrorType == "bad_password",
		body.ErrorType == "invalid_user",
		body.Message == "login_required" && status == http.StatusUnauthorized:
		return &Error{Kind: KindInvalidCredentials, Message: message}
	default:
		return &Error{Kind: KindOther, Message: fmt.Sprintf("platform returned %d: %s", status, message)}
	}
}
