package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"instabridge/internal/platform"
	"instabridge/internal/testsupport/platformstub"
)

// authedHandler logs in the stub and returns the handler plus a bearer token
// for authenticated requests.
func authedHandler(t *testing.T, stub *platformstub.Client) (*Handler, string) {
	t.Helper()
	handler := newTestHandler(stub)
	rec := doLogin(t, handler, "alice", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	token, _ := decodeBody(t, rec)["session_token"].(string)
	return handler, token
}

func authedRequest(method, target, token string, body string) *http.Request {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestUserInfoMapsProfile(t *testing.T) {
	stub := platformstub.New()
	stub.User = platform.User{
		PK:             1,
		Username:       "bob",
		FullName:       "Bob Example",
		Biography:      "hello",
		ProfilePicURL:  "https://cdn.example/bob.jpg",
		FollowerCount:  10,
		FollowingCount: 5,
		MediaCount:     3,
	}
	handler, token := authedHandler(t, stub)

	rec := httptest.NewRecorder()
	handler.UserInfo(rec, authedRequest(http.MethodGet, "/api/user-info?username=bob", token, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	payload := decodeBody(t, rec)
	want := map[string]interface{}{
		"user_id":         "1",
		"username":        "bob",
		"full_name":       "Bob Example",
		"followers_count": float64(10),
		"following_count": float64(5),
		"media_count":     float64(3),
		"biography":       "hello",
		"profile_pic_url": "https://cdn.example/bob.jpg",
	}
	for key, value := range want {
		if payload[key] != value {
			t.Errorf("field %s: expected %v, got %v", key, value, payload[key])
		}
	}
}

func TestUserInfoRequiresUsername(t *testing.T) {
	stub := platformstub.New()
	handler, token := authedHandler(t, stub)

	rec := httptest.NewRecorder()
	handler.UserInfo(rec, authedRequest(http.MethodGet, "/api/user-info", token, ""))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if stub.Calls("user_info") != 0 {
		t.Fatal("validation failures must not reach the platform")
	}
}

func TestProxyEndpointsRequireToken(t *testing.T) {
	stub := platformstub.New()
	handler := newTestHandler(stub)

	endpoints := []struct {
		name string
		call func(w http.ResponseWriter, r *http.Request)
		req  *http.Request
	}{
		{"user-info", handler.UserInfo, httptest.NewRequest(http.MethodGet, "/api/user-info?username=bob", nil)},
		{"user-posts", handler.UserPosts, httptest.NewRequest(http.MethodGet, "/api/user-posts?username=bob", nil)},
		{"followers", handler.Followers, httptest.NewRequest(http.MethodGet, "/api/followers?username=bob", nil)},
		{"following", handler.Following, httptest.NewRequest(http.MethodGet, "/api/following?username=bob", nil)},
		{"like-post", handler.LikePost, httptest.NewRequest(http.MethodPost, "/api/like-post?media_id=9", nil)},
		{"comment-post", handler.CommentPost, httptest.NewRequest(http.MethodPost, "/api/comment-post?media_id=9&text=hi", nil)},
		{"upload-photo", handler.UploadPhoto, httptest.NewRequest(http.MethodPost, "/api/upload-photo", strings.NewReader(`{"image_path":"/tmp/x.jpg"}`))},
		{"search-users", handler.SearchUsers, httptest.NewRequest(http.MethodGet, "/api/search-users?query=bob", nil)},
	}
	for _, ep := range endpoints {
		t.Run(ep.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ep.call(rec, ep.req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
	if stub.ProxyCalls() != 0 {
		t.Fatalf("unauthenticated requests reached the platform %d times", stub.ProxyCalls())
	}
}

func TestUserPostsDefaultsAndMapsTakenAt(t *testing.T) {
	stub := platformstub.New()
	taken := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	for i := 0; i < 15; i++ {
		media := platform.Media{
			PK:          int64(100 + i),
			CaptionText: "post",
			MediaType:   1,
			LikeCount:   i,
		}
		if i == 0 {
			media.TakenAt = taken
		}
		stub.Medias = append(stub.Medias, media)
	}
	handler, token := authedHandler(t, stub)

	rec := httptest.NewRecorder()
	handler.UserPosts(rec, authedRequest(http.MethodGet, "/api/user-posts?username=bob", token, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	payload := decodeBody(t, rec)
	posts, _ := payload["posts"].([]interface{})
	if len(posts) != 12 {
		t.Fatalf("expected default limit of 12 posts, got %d", len(posts))
	}
	first, _ := posts[0].(map[string]interface{})
	if first["id"] != "100" {
		t.Fatalf("expected string media id, got %v", first["id"])
	}
	if first["taken_at"] != "2024-05-01T12:30:00Z" {
		t.Fatalf("unexpected taken_at %v", first["taken_at"])
	}
	second, _ := posts[1].(map[string]interface{})
	if second["taken_at"] != nil {
		t.Fatalf("zero timestamp must encode as null, got %v", second["taken_at"])
	}
}

func TestCollectionLimitValidation(t *testing.T) {
	stub := platformstub.New()
	handler, token := authedHandler(t, stub)

	targets := []string{
		"/api/user-posts?username=bob&limit=abc",
		"/api/user-posts?username=bob&limit=0",
		"/api/followers?username=bob&limit=-3",
		"/api/search-users?query=bob&limit=1.5",
	}
	for _, target := range targets {
		rec := httptest.NewRecorder()
		switch {
		case strings.Contains(target, "user-posts"):
			handler.UserPosts(rec, authedRequest(http.MethodGet, target, token, ""))
		case strings.Contains(target, "followers"):
			handler.Followers(rec, authedRequest(http.MethodGet, target, token, ""))
		default:
			handler.SearchUsers(rec, authedRequest(http.MethodGet, target, token, ""))
		}
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestFollowGraphEndpoints(t *testing.T) {
	stub := platformstub.New()
	stub.Followers = []platform.UserSummary{{PK: 7, Username: "fan", FullName: "Fan One"}}
	stub.Following = []platform.UserSummary{{PK: 8, Username: "idol"}, {PK: 9, Username: "muse"}}
	handler, token := authedHandler(t, stub)

	rec := httptest.NewRecorder()
	handler.Followers(rec, authedRequest(http.MethodGet, "/api/followers?username=bob", token, ""))
	payload := decodeBody(t, rec)
	followers, _ := payload["followers"].([]interface{})
	if len(followers) != 1 {
		t.Fatalf("expected 1 follower, got %d", len(followers))
	}
	record, _ := followers[0].(map[string]interface{})
	if record["user_id"] != "7" || record["username"] != "fan" {
		t.Fatalf("unexpected follower record %v", record)
	}

	rec = httptest.NewRecorder()
	handler.Following(rec, authedRequest(http.MethodGet, "/api/following?username=bob&limit=1", token, ""))
	payload = decodeBody(t, rec)
	following, _ := payload["following"].([]interface{})
	if len(following) != 1 {
		t.Fatalf("limit=1 must truncate, got %d entries", len(following))
	}
}

func TestLikePostAcceptsQueryAndBody(t *testing.T) {
	stub := platformstub.New()
	handler, token := authedHandler(t, stub)

	rec := httptest.NewRecorder()
	handler.LikePost(rec, authedRequest(http.MethodPost, "/api/like-post?media_id=42", token, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("query param like failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.LikePost(rec, authedRequest(http.MethodPost, "/api/like-post", token, `{"media_id":"43"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("body param like failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.LikePost(rec, authedRequest(http.MethodPost, "/api/like-post", token, ""))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing media_id must 400, got %d", rec.Code)
	}
	if stub.Calls("like_media") != 2 {
		t.Fatalf("expected 2 like calls, got %d", stub.Calls("like_media"))
	}
}

func TestCommentPostRequiresText(t *testing.T) {
	stub := platformstub.New()
	stub.CommentID = "777"
	handler, token := authedHandler(t, stub)

	rec := httptest.NewRecorder()
	handler.CommentPost(rec, authedRequest(http.MethodPost, "/api/comment-post?media_id=42", token, ""))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing text must 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.CommentPost(rec, authedRequest(http.MethodPost, "/api/comment-post?media_id=42&text=nice", token, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody(t, rec)["comment_id"]; got != "777" {
		t.Fatalf("expected comment_id 777, got %v", got)
	}
}

func TestCommentPostMergesQueryAndBody(t *testing.T) {
	stub := platformstub.New()
	stub.CommentID = "888"
	handler, token := authedHandler(t, stub)

	rec := httptest.NewRecorder()
	handler.CommentPost(rec, authedRequest(http.MethodPost, "/api/comment-post?media_id=42", token, `{"text":"hi"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("query media_id with body text failed: %d %s", rec.Code, rec.Body.String())
	}
	if stub.LastCommentMediaID != "42" || stub.LastCommentText != "hi" {
		t.Fatalf("platform saw media_id=%q text=%q, want 42/hi", stub.LastCommentMediaID, stub.LastCommentText)
	}

	rec = httptest.NewRecorder()
	handler.CommentPost(rec, authedRequest(http.MethodPost, "/api/comment-post?media_id=42&text=first", token, `{"text":"second"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("query text over body text failed: %d %s", rec.Code, rec.Body.String())
	}
	if stub.LastCommentText != "first" {
		t.Fatalf("query text must win over body text, platform saw %q", stub.LastCommentText)
	}
}

func TestUploadPhotoChecksFileBeforePlatform(t *testing.T) {
	stub := platformstub.New()
	stub.UploadMediaID = "555"
	handler, token := authedHandler(t, stub)

	rec := httptest.NewRecorder()
	body := `{"caption":"hi","image_path":"/nonexistent/photo.jpg"}`
	handler.UploadPhoto(rec, authedRequest(http.MethodPost, "/api/upload-photo", token, body))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing file must 400, got %d", rec.Code)
	}
	if stub.Calls("upload_photo") != 0 {
		t.Fatal("missing file must fail before any platform call")
	}

	path := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(path, []byte("jpeg"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	rec = httptest.NewRecorder()
	body = `{"caption":"hi","image_path":"` + path + `"}`
	handler.UploadPhoto(rec, authedRequest(http.MethodPost, "/api/upload-photo", token, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	payload := decodeBody(t, rec)
	if payload["media_id"] != "555" {
		t.Fatalf("expected media_id 555, got %v", payload["media_id"])
	}
	if stub.Calls("upload_photo") != 1 {
		t.Fatalf("expected one upload call, got %d", stub.Calls("upload_photo"))
	}
}

func TestSearchUsersMapsRecords(t *testing.T) {
	stub := platformstub.New()
	stub.SearchResults = []platform.UserSummary{
		{PK: 11, Username: "bob", FullName: "Bob", IsVerified: true, FollowerCount: 99},
	}
	handler, token := authedHandler(t, stub)

	rec := httptest.NewRecorder()
	handler.SearchUsers(rec, authedRequest(http.MethodGet, "/api/search-users?query=bob", token, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	payload := decodeBody(t, rec)
	users, _ := payload["users"].([]interface{})
	if len(users) != 1 {
		t.Fatalf("expected 1 result, got %d", len(users))
	}
	record, _ := users[0].(map[string]interface{})
	if record["user_id"] != "11" || record["is_verified"] != true || record["follower_count"] != float64(99) {
		t.Fatalf("unexpected search record %v", record)
	}
}

func TestProxyPlatformFailuresBecome500(t *testing.T) {
	stub := platformstub.New()
	stub.UserErr = &platform.Error{Kind: platform.KindRateLimited, Message: "please wait"}
	handler, token := authedHandler(t, stub)

	rec := httptest.NewRecorder()
	handler.UserInfo(rec, authedRequest(http.MethodGet, "/api/user-info?username=bob", token, ""))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("proxy failures surface as 500, got %d", rec.Code)
	}
	if got, _ := decodeBody(t, rec)["error"].(string); !strings.Contains(got, "please wait") {
		t.Fatalf("error must carry the platform message, got %q", got)
	}
}

func TestHealthReportsSessionCount(t *testing.T) {
	stub := platformstub.New()
	handler, _ := authedHandler(t, stub)
	handler.Environment = "production"

	rec := httptest.NewRecorder()
	handler.Health(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	payload := decodeBody(t, rec)
	if payload["status"] != "healthy" {
		t.Fatalf("unexpected status %v", payload["status"])
	}
	if payload["active_sessions"] != float64(1) {
		t.Fatalf("expected 1 active session, got %v", payload["active_sessions"])
	}
	if payload["environment"] != "production" {
		t.Fatalf("unexpected environment %v", payload["environment"])
	}
}

func TestRootBanner(t *testing.T) {
	handler := newTestHandler(platformstub.New())

	rec := httptest.NewRecorder()
	handler.Root(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	payload := decodeBody(t, rec)
	if payload["message"] != "Instagram API Backend is running!" {
		t.Fatalf("unexpected banner %v", payload["message"])
	}
	if payload["health_check"] != "/api/health" {
		t.Fatalf("unexpected health_check %v", payload["health_check"])
	}

	rec = httptest.NewRecorder()
	handler.Root(rec, httptest.NewRequest(http.MethodGet, "/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown path, got %d", rec.Code)
	}
}
