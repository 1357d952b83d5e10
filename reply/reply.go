// Package reply generates chat replies with an OpenAI-compatible completion API.
package reply

import (
	"bytes"
	"context"
	"log/slog"
	"regexp"
	"strings"
	"text/template"

	openai "github.com/sashabaranov/go-openai"

	"git.skobk.in/skobkin/telegram-chat-groups-bot/storage"
)

// Fallback is sent to the chat when generation fails.
const Fallback = "Something broke on my end. Try again later."

type Generator interface {
	Generate(ctx context.Context, history []storage.ChatMessage) (string, error)
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// Temperature of zero leaves the provider default.
	Temperature float32
	BotName     string
	// AdminName is the user whose requests the bot always follows. Optional.
	AdminName string
}

var personaTemplate = template.Must(template.New("persona").Parse(
	`You are a chat bot named {{.BotName}} living in a group chat of close friends.
You are a sarcastic, brilliant cynic who is tired of human stupidity and does not hide it.
You speak bluntly, never admit being a bot or an AI, and keep answers to one short paragraph.
{{- if .AdminName}}
{{.AdminName}} is your creator. When {{.AdminName}} asks for something you do it, in your own style.
{{- end}}
Answer in plain text without any Markdown.`))

var historyTemplate = template.Must(template.New("history").Parse(
	`Recent messages (oldest first):
{{range .}}{{.}}
{{end}}
Answer the last message in your style.`))

// OpenAI talks to any endpoint implementing the chat completions API.
type OpenAI struct {
	client *openai.Client
	cfg    Config
}

func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, newConfigError("api key is not set")
	}
	if cfg.Model == "" {
		return nil, newConfigError("model is not set")
	}
	if cfg.BotName == "" {
		cfg.BotName = "Bot"
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
	}, nil
}

func (g *OpenAI) Generate(ctx context.Context, history []storage.ChatMessage) (string, error) {
	system, err := g.persona()
	if err != nil {
		return "", err
	}
	prompt, err := Prompt(history, g.cfg.BotName)
	if err != nil {
		return "", err
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		slog.Error("reply: Completion request failed", "error", err, "model", g.cfg.Model)
		return "", newProviderError("completion", g.cfg.Model, "failed to create completion", err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", &Error{
			Type:      ErrTypeEmpty,
			Operation: "completion",
			Model:     g.cfg.Model,
			Message:   "empty completion response",
		}
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (g *OpenAI) persona() (string, error) {
	var buf bytes.Buffer
	if err := personaTemplate.Execute(&buf, g.cfg); err != nil {
		return "", newConfigError("failed to render persona: " + err.Error())
	}
	return buf.String(), nil
}

// Prompt renders the history as "Name: text" lines followed by the instruction.
// Bot messages are labelled with botName, unknown authors as "User".
func Prompt(history []storage.ChatMessage, botName string) (string, error) {
	lines := make([]string, 0, len(history))
	for _, msg := range history {
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			continue
		}

		name := msg.AuthorName
		switch {
		case msg.IsBot:
			name = botName
		case name == "":
			name = "User"
		}
		lines = append(lines, name+": "+text)
	}

	var buf bytes.Buffer
	if err := historyTemplate.Execute(&buf, lines); err != nil {
		return "", newConfigError("failed to render history: " + err.Error())
	}
	return buf.String(), nil
}

// Triggered reports whether a chat message addresses the bot: it mentions the bot's
// username or name as a whole word, or it replies to one of the bot's messages.
func Triggered(text, botUsername, botName string, replyToBot bool) bool {
	if replyToBot {
		return true
	}
	if botUsername != "" && containsWord(text, "@"+botUsername) {
		return true
	}
	return botName != "" && containsWord(text, botName)
}

// containsWord matches word case-insensitively when it is not surrounded by letters, digits or underscores.
// Unlike \b this also holds for non-ASCII names.
func containsWord(text, word string) bool {
	re, err := regexp.Compile(`(?i)(?:^|[^\p{L}\p{N}_])` + regexp.QuoteMeta(word) + `(?:$|[^\p{L}\p{N}_])`)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}
