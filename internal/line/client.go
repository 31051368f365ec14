package line

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// maxReplyMessages is the platform limit per reply call.
	maxReplyMessages = 5
	// maxTextRunes is the platform limit for a single text message.
	maxTextRunes = 5000
)

var (
	ErrReply         = errors.New("line: reply failed")
	ErrProfileLookup = errors.New("line: profile lookup failed")
)

type Client struct {
	BaseURL     string
	AccessToken string
	HTTP        *http.Client
}

func NewClient(baseURL, accessToken string) *Client {
	if baseURL == "" {
		baseURL = "https://api.line.me"
	}
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		AccessToken: accessToken,
		HTTP:        &http.Client{Timeout: 10 * time.Second},
	}
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type replyReq struct {
	ReplyToken string        `json:"replyToken"`
	Messages   []textMessage `json:"messages"`
}

type Profile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	PictureURL  string `json:"pictureUrl,omitempty"`
}

// Reply sends up to five text messages using a reply token. Tokens are single use
// and expire shortly after the event was delivered.
func (c *Client) Reply(ctx context.Context, replyToken string, texts ...string) error {
	if replyToken == "" {
		return fmt.Errorf("%w: empty reply token", ErrReply)
	}
	if len(texts) == 0 || len(texts) > maxReplyMessages {
		return fmt.Errorf("%w: %d messages, want 1..%d", ErrReply, len(texts), maxReplyMessages)
	}

	body := replyReq{ReplyToken: replyToken, Messages: make([]textMessage, 0, len(texts))}
	for _, t := range texts {
		body.Messages = append(body.Messages, textMessage{Type: MessageTypeText, Text: truncate(t, maxTextRunes)})
	}

	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v2/bot/message/reply", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReply, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s", ErrReply, statusMessage(resp))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Profile fetches the public profile of a user who has added the bot.
func (c *Client) Profile(ctx context.Context, userID string) (Profile, error) {
	u := c.BaseURL + "/v2/bot/profile/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Profile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrProfileLookup, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Profile{}, fmt.Errorf("%w: %s", ErrProfileLookup, statusMessage(resp))
	}

	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrProfileLookup, err)
	}
	return p, nil
}

// DisplayName returns the user's display name.
func (c *Client) DisplayName(ctx context.Context, userID string) (string, error) {
	p, err := c.Profile(ctx, userID)
	if err != nil {
		return "", err
	}
	return p.DisplayName, nil
}

func statusMessage(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Sprintf("status %d", resp.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", resp.StatusCode, msg)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
