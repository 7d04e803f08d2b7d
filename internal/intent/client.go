package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEmptyMessage = errors.New("message is required")
	ErrUpstream     = errors.New("intent service failed")
)

// Detector turns a free-text patient message into an assistant reply.
type Detector interface {
	Detect(ctx context.Context, message string) (string, error)
}

type Client struct {
	URL        string
	httpClient *http.Client
}

func NewClient(url string) *Client {
	return &Client{
		URL: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type detectReq struct {
	SessionID    string `json:"sessionId"`
	Message      string `json:"message"`
	LanguageCode string `json:"languageCode"`
}

type detectResp struct {
	Reply           string `json:"reply"`
	FulfillmentText string `json:"fulfillmentText"`
}

// Detect sends one message per fresh conversation id, so no context is
// carried between calls.
func (c *Client) Detect(ctx context.Context, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyMessage
	}

	jsonBody, err := json.Marshal(detectReq{
		SessionID:    uuid.NewString(),
		Message:      message,
		LanguageCode: "en-US",
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: status %s, body: %s", ErrUpstream, resp.Status, string(bodyBytes))
	}

	var out detectResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode reply: %v", ErrUpstream, err)
	}
	if out.Reply != "" {
		return out.Reply, nil
	}
	return out.FulfillmentText, nil
}

// StaticResponder answers from a fixed keyword table when no intent service
// is configured.
type StaticResponder struct{}

var staticReplies = []struct {
	keywords []string
	reply    string
}{
	{[]string{"emergency", "chest pain", "can't breathe"}, "If this is an emergency, call your local emergency number right away."},
	{[]string{"appointment", "book", "schedule"}, "You can book a session from the scheduler. Pick a free slot with your doctor."},
	{[]string{"cancel"}, "Open your session history and choose cancel on the session you want to free."},
	{[]string{"prescription", "medication"}, "Your doctor can issue a digital prescription during or after your session."},
	{[]string{"hello", "hi", "hey"}, "Hello! How can I help you today?"},
}

const fallbackReply = "I'm not sure I understood. You can ask about appointments, prescriptions or emergencies."

func (StaticResponder) Detect(_ context.Context, message string) (string, error) {
	msg := strings.ToLower(strings.TrimSpace(message))
	if msg == "" {
		return "", ErrEmptyMessage
	}
	for _, entry := range staticReplies {
		for _, kw := range entry.keywords {
			if strings.Contains(msg, kw) {
				return entry.reply, nil
			}
		}
	}
	return fallbackReply, nil
}
