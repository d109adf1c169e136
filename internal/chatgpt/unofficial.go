package chatgpt

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chatgpt-ui-server/backend/pkg/logger"

	"github.com/google/uuid"
)

// Endpoints and model name of the web chat backend. The upstream client
// these were lifted from obfuscated them; only the resolved literals
// matter.
const (
	defaultWebBaseURL  = "https://chat.openai.com/backend-api"
	conversationPath   = "/conversation"
	moderationPath     = "/moderations"
	webModel           = "gpt-4"
	moderationModel    = "text-moderation-playground"
	doneSentinel       = "[DONE]"
	defaultHeadStart   = 500 * time.Millisecond
	moderationTimeout  = 10 * time.Second
	maxErrorBodyLength = 4096
	maxFrameSize       = 4 << 20
)

// UnofficialConfig configures the web backend transport
type UnofficialConfig struct {
	// BaseURL overrides the web backend base URL (tests, relays)
	BaseURL string
	// Proxy is an optional HTTP proxy for upstream calls
	Proxy string
	// PassModeration skips the advisory moderation pre-check
	PassModeration bool
	// HeadStart is how long the moderation side-call runs before the
	// main call is issued; zero means the default half second
	HeadStart time.Duration
}

// UnofficialClient talks to the cookie/session authenticated web chat
// backend and adapts its cumulative-text event stream into deltas.
type UnofficialClient struct {
	creds  CredentialManager
	config UnofficialConfig
	client *http.Client
	log    *logger.Logger
}

// NewUnofficialClient builds a client for the web backend path
func NewUnofficialClient(creds CredentialManager, config UnofficialConfig, log *logger.Logger) *UnofficialClient {
	if config.BaseURL == "" {
		config.BaseURL = defaultWebBaseURL
	}
	if config.HeadStart == 0 {
		config.HeadStart = defaultHeadStart
	}
	client := &http.Client{}
	if config.Proxy != "" {
		if proxyURL, err := url.Parse(config.Proxy); err == nil {
			client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		} else {
			log.Warn("Ignoring invalid proxy URL", "proxy", config.Proxy, "error", err.Error())
		}
	}
	return &UnofficialClient{creds: creds, config: config, client: client, log: log}
}

type webMessageContent struct {
	ContentType string   `json:"content_type"`
	Parts       []string `json:"parts"`
}

type webAuthor struct {
	Role string `json:"role"`
}

type webMessage struct {
	ID      string            `json:"id"`
	Role    string            `json:"role,omitempty"`
	Author  webAuthor         `json:"author"`
	Content webMessageContent `json:"content"`
}

type webConversationRequest struct {
	Action          string       `json:"action"`
	Messages        []webMessage `json:"messages"`
	ConversationID  string       `json:"conversation_id,omitempty"`
	ParentMessageID string       `json:"parent_message_id"`
	Model           string       `json:"model"`
}

// webFrame is one data frame of the conversation event stream. The web
// backend returns the full accumulated text in every frame, not deltas.
type webFrame struct {
	Message struct {
		ID     string    `json:"id"`
		Author webAuthor `json:"author"`
		Content struct {
			ContentType string   `json:"content_type"`
			Parts       []string `json:"parts"`
		} `json:"content"`
	} `json:"message"`
	ConversationID string `json:"conversation_id"`
	Error          any    `json:"error"`
}

// StreamCompletion sends the prompt to the web backend and returns the
// delta stream. conversationID is empty when starting a new upstream
// conversation; parentMessageID is minted when absent.
//
// Unless disabled, a best-effort moderation pre-check runs on its own
// goroutine and is never awaited; the fixed head start only gives it a
// chance to land first.
func (c *UnofficialClient) StreamCompletion(ctx context.Context, prompt, conversationID, parentMessageID string) (Stream, error) {
	if !c.creds.Valid() {
		if err := c.creds.Refresh(ctx); err != nil {
			return nil, err
		}
	}
	cred := c.creds.Current()

	if !c.config.PassModeration {
		go c.moderationCheck(cred.AccessToken, prompt)
		time.Sleep(c.config.HeadStart)
	}

	if parentMessageID == "" {
		parentMessageID = uuid.New().String()
	}

	payload := webConversationRequest{
		Action: "next",
		Messages: []webMessage{{
			ID:      uuid.New().String(),
			Role:    "user",
			Author:  webAuthor{Role: "user"},
			Content: webMessageContent{ContentType: "text", Parts: []string{prompt}},
		}},
		ConversationID:  conversationID,
		ParentMessageID: parentMessageID,
		Model:           webModel,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+conversationPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, cred)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLength))
		resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			c.creds.Invalidate()
			return nil, ErrAuthExpired
		case resp.StatusCode >= 500:
			return nil, ErrUpstreamUnavailable
		default:
			return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(respBody)}
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	// Every frame repeats the full accumulated reply, so long replies
	// outgrow the scanner's default 64KB token limit
	scanner.Buffer(make([]byte, 0, 64<<10), maxFrameSize)

	return &unofficialStream{
		body:    resp.Body,
		scanner: scanner,
	}, nil
}

func (c *UnofficialClient) setHeaders(req *http.Request, cred Credential) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Referer", "https://chat.openai.com/chat?model=gpt-4")
	req.Header.Set("Origin", "https://chat.openai.com")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Safari/605.1.15")
	req.Header.Set("Cookie", cred.Cookie)
	req.Header.Set("X-OpenAI-Assistant-App-Id", "")
}

// moderationCheck is the advisory content-policy side-call. Fire and
// forget: its outcome never reaches the main flow.
func (c *UnofficialClient) moderationCheck(accessToken, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), moderationTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{
		"input": text,
		"model": moderationModel,
	})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+moderationPath, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Debug("Moderation side-call failed", "error", err.Error())
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// unofficialStream parses `data: {json}` frames separated by blank
// lines, stopping at the [DONE] sentinel. Frames authored by system or
// user carry no assistant text and are skipped. Because each frame
// holds the cumulative text, the delta is the suffix beyond what was
// already emitted.
type unofficialStream struct {
	body           io.ReadCloser
	scanner        *bufio.Scanner
	buf            strings.Builder
	text           string
	messageID      string
	conversationID string
	done           bool
}

func (s *unofficialStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for {
		frame, err := s.nextFrame()
		if err != nil {
			if err == io.EOF {
				s.done = true
			}
			return "", err
		}
		if frame == nil {
			continue
		}

		role := frame.Message.Author.Role
		if role == "system" || role == "user" {
			continue
		}
		if len(frame.Message.Content.Parts) == 0 {
			continue
		}

		s.messageID = frame.Message.ID
		s.conversationID = frame.ConversationID

		full := frame.Message.Content.Parts[0]
		if len(full) < len(s.text) {
			// Upstream rewrote earlier text; emit nothing for this tick
			s.text = full
			return "", nil
		}
		delta := full[len(s.text):]
		s.text = full
		return delta, nil
	}
}

// nextFrame reads lines until one complete event is buffered. A nil
// frame with nil error means the event was not a data frame
// (keep-alive) and the caller should keep reading.
func (s *unofficialStream) nextFrame() (*webFrame, error) {
	for s.scanner.Scan() {
		line := strings.TrimRight(s.scanner.Text(), "\r")
		if line != "" {
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				if s.buf.Len() > 0 {
					s.buf.WriteString("\n")
				}
				s.buf.WriteString(data)
			}
			continue
		}

		raw := s.buf.String()
		s.buf.Reset()
		if raw == "" {
			continue
		}
		if strings.HasSuffix(raw, doneSentinel) {
			return nil, io.EOF
		}

		var frame webFrame
		if err := json.Unmarshal([]byte(raw), &frame); err != nil {
			return nil, fmt.Errorf("decoding stream frame: %w", err)
		}
		return &frame, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}

	// Stream ended without a sentinel; flush any trailing frame
	raw := s.buf.String()
	s.buf.Reset()
	if raw != "" && !strings.HasSuffix(raw, doneSentinel) {
		var frame webFrame
		if err := json.Unmarshal([]byte(raw), &frame); err == nil {
			return &frame, nil
		}
	}
	return nil, io.EOF
}

func (s *unofficialStream) Result() Completion {
	return Completion{
		Text:           s.text,
		MessageID:      s.messageID,
		ConversationID: s.conversationID,
	}
}

func (s *unofficialStream) Close() error {
	return s.body.Close()
}
