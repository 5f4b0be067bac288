package restapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/matheus3301/duet/internal/state"
)

// AuthResponse is returned by login and register.
type AuthResponse struct {
	User  state.User `json:"user"`
	Token string     `json:"token"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// MessagePage is one page of conversation history.
type MessagePage struct {
	Data        []state.Message `json:"data"`
	Total       int             `json:"total"`
	CurrentPage int             `json:"current_page"`
	LastPage    int             `json:"last_page"`
	PerPage     int             `json:"per_page"`
}

// HasMore reports whether older pages remain.
func (p MessagePage) HasMore() bool {
	if p.LastPage > 0 {
		return p.CurrentPage < p.LastPage
	}
	if p.PerPage > 0 {
		return p.CurrentPage*p.PerPage < p.Total
	}
	return len(p.Data) > 0 && p.Total > len(p.Data)
}

// Login exchanges email and password for a credential.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	var out AuthResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/login",
		body:   jsonBody(map[string]string{"email": email, "password": password}),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates an account and returns its credential.
func (c *Client) Register(ctx context.Context, r RegisterRequest) (*AuthResponse, error) {
	var out AuthResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/register",
		body:   jsonBody(r),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout revokes the current credential server-side.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, request{method: http.MethodPost, path: "/auth/logout", auth: true}, nil)
}

// Me returns the user owning the current credential.
func (c *Client) Me(ctx context.Context) (*state.User, error) {
	var out itemOf[state.User]
	err := c.do(ctx, request{method: http.MethodGet, path: "/auth/me", auth: true, idempotent: true}, &out)
	if err != nil {
		return nil, err
	}
	return &out.Item, nil
}

// ListConversations returns every conversation of the signed-in user.
func (c *Client) ListConversations(ctx context.Context) ([]state.Conversation, error) {
	var out listOf[state.Conversation]
	err := c.do(ctx, request{method: http.MethodGet, path: "/conversations", auth: true, idempotent: true}, &out)
	if err != nil {
		return nil, err
	}
	return out.Items, nil
}

// GetConversation returns a single conversation.
func (c *Client) GetConversation(ctx context.Context, id int64) (*state.Conversation, error) {
	var out itemOf[state.Conversation]
	err := c.do(ctx, request{
		method:     http.MethodGet,
		path:       "/conversations/" + strconv.FormatInt(id, 10),
		auth:       true,
		idempotent: true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out.Item, nil
}

// CreateConversation opens (or returns the existing) conversation with userID.
func (c *Client) CreateConversation(ctx context.Context, userID int64) (*state.Conversation, error) {
	var out itemOf[state.Conversation]
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/conversations",
		body:   jsonBody(map[string]int64{"user_id": userID}),
		auth:   true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out.Item, nil
}

// ListMessages returns one page of a conversation's history.
func (c *Client) ListMessages(ctx context.Context, convID int64, page int) (*MessagePage, error) {
	if page < 1 {
		page = 1
	}
	var out MessagePage
	err := c.do(ctx, request{
		method:     http.MethodGet,
		path:       "/conversations/" + strconv.FormatInt(convID, 10) + "/messages",
		query:      url.Values{"page": {strconv.Itoa(page)}},
		auth:       true,
		idempotent: true,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.CurrentPage == 0 {
		out.CurrentPage = page
	}
	return &out, nil
}

// SearchUsers finds users by name or email.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]state.User, error) {
	var out listOf[state.User]
	err := c.do(ctx, request{
		method:     http.MethodGet,
		path:       "/users/search",
		query:      url.Values{"q": {query}},
		auth:       true,
		idempotent: true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Upload sends a local file as multipart form field "file" and returns the
// resulting attachment.
func (c *Client) Upload(ctx context.Context, path string) (*state.Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("upload %s: is a directory", path)
	}
	name := filepath.Base(path)

	var out itemOf[state.Attachment]
	err = c.do(ctx, request{
		method: http.MethodPost,
		path:   "/upload",
		body:   multipartFile(path, name),
		auth:   true,
	}, &out)
	if err != nil {
		return nil, err
	}
	att := out.Item
	if att.Name == "" {
		att.Name = name
	}
	if att.Size == 0 {
		att.Size = info.Size()
	}
	if att.Type == "" {
		att.Type = AttachmentTypeFor(name)
	}
	return &att, nil
}

func multipartFile(path, name string) func() (io.Reader, string, error) {
	return func() (io.Reader, string, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, "", err
		}
		defer func() { _ = f.Close() }()

		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		part, err := w.CreateFormFile("file", name)
		if err != nil {
			return nil, "", err
		}
		if _, err := io.Copy(part, f); err != nil {
			return nil, "", err
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return &buf, w.FormDataContentType(), nil
	}
}

var mediaExt = map[string]state.AttachmentType{
	".mp4":  state.AttachmentVideo,
	".mov":  state.AttachmentVideo,
	".webm": state.AttachmentVideo,
	".mkv":  state.AttachmentVideo,
	".mp3":  state.AttachmentAudio,
	".ogg":  state.AttachmentAudio,
	".wav":  state.AttachmentAudio,
	".m4a":  state.AttachmentAudio,
}

// AttachmentTypeFor classifies a file name by its MIME type.
func AttachmentTypeFor(name string) state.AttachmentType {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := mediaExt[ext]; ok {
		return t
	}
	mt := mime.TypeByExtension(ext)
	switch {
	case strings.HasPrefix(mt, "image/"):
		return state.AttachmentImage
	case strings.HasPrefix(mt, "video/"):
		return state.AttachmentVideo
	case strings.HasPrefix(mt, "audio/"):
		return state.AttachmentAudio
	default:
		return state.AttachmentFile
	}
}
