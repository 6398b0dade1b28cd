package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"instabridge/internal/platform"
)

const (
	defaultPostsLimit     = 12
	defaultFollowersLimit = 50
	defaultSearchLimit    = 10
)

// writeProxyError surfaces platform failures. Unlike login, proxy operations
// do not differentiate transient platform errors: everything that is not a
// locally detected bad request becomes a 500 carrying the platform message.
func writeProxyError(w http.ResponseWriter, err error) {
	if platform.KindOf(err) == platform.KindBadRequest {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeError(w, http.StatusInternalServerError, fmt.Errorf("Error: %s", err.Error()))
}

func parseLimit(r *http.Request, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("limit must be a positive integer, got %q", raw)
	}
	return limit, nil
}

func requiredQuery(r *http.Request, name string) (string, error) {
	value := strings.TrimSpace(r.URL.Query().Get(name))
	if value == "" {
		return "", fmt.Errorf("%s query parameter is required", name)
	}
	return value, nil
}

type userInfoResponse struct {
	UserID         string `json:"user_id"`
	Username       string `json:"username"`
	FullName       string `json:"full_name"`
	FollowersCount int    `json:"followers_count"`
	FollowingCount int    `json:"following_count"`
	MediaCount     int    `json:"media_count"`
	Biography      string `json:"biography"`
	ProfilePicURL  string `json:"profile_pic_url"`
}

// UserInfo returns the profile of the requested username.
func (h *Handler) UserInfo(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	username, err := requiredQuery(r, "username")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := sess.Client.UserInfo(r.Context(), username)
	h.recorder().ObservePlatformCall("user_info", err)
	if err != nil {
		writeProxyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userInfoResponse{
		UserID:         strconv.FormatInt(user.PK, 10),
		Username:       user.Username,
		FullName:       user.FullName,
		FollowersCount: user.FollowerCount,
		FollowingCount: user.FollowingCount,
		MediaCount:     user.MediaCount,
		Biography:      user.Biography,
		ProfilePicURL:  user.ProfilePicURL,
	})
}

type postRecord struct {
	ID           string  `json:"id"`
	Caption      string  `json:"caption"`
	MediaType    int     `json:"media_type"`
	ThumbnailURL string  `json:"thumbnail_url"`
	LikeCount    int     `json:"like_count"`
	CommentCount int     `json:"comment_count"`
	TakenAt      *string `json:"taken_at"`
}

// UserPosts lists the most recent posts of the requested username, truncated
// to the limit. Ordering is whatever the platform returned.
func (h *Handler) UserPosts(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	username, err := requiredQuery(r, "username")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit, err := parseLimit(r, defaultPostsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	medias, err := sess.Client.UserMedias(r.Context(), username, limit)
	h.recorder().ObservePlatformCall("user_medias", err)
	if err != nil {
		writeProxyError(w, err)
		return
	}
	posts := make([]postRecord, 0, len(medias))
	for _, media := range medias {
		record := postRecord{
			ID:           strconv.FormatInt(media.PK, 10),
			Caption:      media.CaptionText,
			MediaType:    media.MediaType,
			ThumbnailURL: media.ThumbnailURL,
			LikeCount:    media.LikeCount,
			CommentCount: media.CommentCount,
		}
		if !media.TakenAt.IsZero() {
			takenAt := media.TakenAt.UTC().Format(time.RFC3339)
			record.TakenAt = &takenAt
		}
		posts = append(posts, record)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "posts": posts})
}

type userRecord struct {
	UserID        string `json:"user_id"`
	Username      string `json:"username"`
	FullName      string `json:"full_name"`
	ProfilePicURL string `json:"profile_pic_url"`
}

func toUserRecords(summaries []platform.UserSummary) []userRecord {
	records := make([]userRecord, 0, len(summaries))
	for _, summary := range summaries {
		records = append(records, userRecord{
			UserID:        strconv.FormatInt(summary.PK, 10),
			Username:      summary.Username,
			FullName:      summary.FullName,
			ProfilePicURL: summary.ProfilePicURL,
		})
	}
	return records
}

// Followers lists accounts following the requested username.
func (h *Handler) Followers(w http.ResponseWriter, r *http.Request) {
	h.followGraph(w, r, "followers")
}

// Following lists accounts the requested username follows.
func (h *Handler) Following(w http.ResponseWriter, r *http.Request) {
	h.followGraph(w, r, "following")
}

func (h *Handler) followGraph(w http.ResponseWriter, r *http.Request, direction string) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	username, err := requiredQuery(r, "username")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit, err := parseLimit(r, defaultFollowersLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var summaries []platform.UserSummary
	if direction == "followers" {
		summaries, err = sess.Client.UserFollowers(r.Context(), username, limit)
		h.recorder().ObservePlatformCall("user_followers", err)
	} else {
		summaries, err = sess.Client.UserFollowing(r.Context(), username, limit)
		h.recorder().ObservePlatformCall("user_following", err)
	}
	if err != nil {
		writeProxyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, direction: toUserRecords(summaries)})
}

type mediaActionRequest struct {
	MediaID string `json:"media_id"`
	Text    string `json:"text,omitempty"`
}

// mediaActionParams accepts the media identifier (and optional text) from
// query parameters, a JSON body, or a mix of the two. Query parameters win
// when both carry the same field.
func mediaActionParams(r *http.Request) (mediaActionRequest, error) {
	var req mediaActionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			return req, err
		}
	}
	if mediaID := strings.TrimSpace(r.URL.Query().Get("media_id")); mediaID != "" {
		req.MediaID = mediaID
	}
	if text := r.URL.Query().Get("text"); text != "" {
		req.Text = text
	}
	req.MediaID = strings.TrimSpace(req.MediaID)
	if req.MediaID == "" {
		return req, errors.New("media_id is required")
	}
	return req, nil
}

// LikePost likes the referenced media as the authenticated account.
func (h *Handler) LikePost(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	req, err := mediaActionParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	err = sess.Client.LikeMedia(r.Context(), req.MediaID)
	h.recorder().ObservePlatformCall("like_media", err)
	if err != nil {
		writeProxyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Like enviado"})
}

// CommentPost comments on the referenced media as the authenticated account.
func (h *Handler) CommentPost(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	req, err := mediaActionParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, errors.New("text is required"))
		return
	}

	commentID, err := sess.Client.CommentMedia(r.Context(), req.MediaID, req.Text)
	h.recorder().ObservePlatformCall("comment_media", err)
	if err != nil {
		writeProxyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"message":    "Comentario enviado",
		"comment_id": commentID,
	})
}

type uploadPhotoRequest struct {
	Caption   string `json:"caption"`
	ImagePath string `json:"image_path"`
}

// UploadPhoto publishes a local image file. The file must exist before any
// platform call is attempted.
func (h *Handler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	var req uploadPhotoRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.ImagePath = strings.TrimSpace(req.ImagePath)
	if req.ImagePath == "" {
		writeError(w, http.StatusBadRequest, errors.New("image_path is required"))
		return
	}
	if info, err := os.Stat(req.ImagePath); err != nil || info.IsDir() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("image file not found: %s", req.ImagePath))
		return
	}

	mediaID, err := sess.Client.UploadPhoto(r.Context(), req.ImagePath, req.Caption)
	h.recorder().ObservePlatformCall("upload_photo", err)
	if err != nil {
		writeProxyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"message":  "Foto publicada",
		"media_id": mediaID,
	})
}

type searchRecord struct {
	UserID        string `json:"user_id"`
	Username      string `json:"username"`
	FullName      string `json:"full_name"`
	ProfilePicURL string `json:"profile_pic_url"`
	IsVerified    bool   `json:"is_verified"`
	FollowerCount int    `json:"follower_count"`
}

// SearchUsers searches accounts matching the query string.
func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	query, err := requiredQuery(r, "query")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit, err := parseLimit(r, defaultSearchLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	summaries, err := sess.Client.SearchUsers(r.Context(), query, limit)
	h.recorder().ObservePlatformCall("search_users", err)
	if err != nil {
		writeProxyError(w, err)
		return
	}
	users := make([]searchRecord, 0, len(summaries))
	for _, summary := range summaries {
		users = append(users, searchRecord{
			UserID:        strconv.FormatInt(summary.PK, 10),
			Username:      summary.Username,
			FullName:      summary.FullName,
			ProfilePicURL: summary.ProfilePicURL,
			IsVerified:    summary.IsVerified,
			FollowerCount: summary.FollowerCount,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "users": users})
}
