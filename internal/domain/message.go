package domain

import (
	"context"
	"encoding/json"
	"time"
)

// ChannelType — тип мессенджер-платформы, откуда пришло сообщение.
type ChannelType string

const (
	ChannelTelegram ChannelType = "telegram"
	ChannelSlack    ChannelType = "slack"
	ChannelDiscord  ChannelType = "discord"
	ChannelWhatsApp ChannelType = "whatsapp"
	ChannelSignal   ChannelType = "signal"
	ChannelMatrix   ChannelType = "matrix"
	ChannelEmail    ChannelType = "email"
	ChannelWebChat  ChannelType = "webchat"
	ChannelCLI      ChannelType = "cli"
)

// ContentKind — вариант содержимого нормализованного сообщения.
type ContentKind string

const (
	ContentText     ContentKind = "text"
	ContentImage    ContentKind = "image"
	ContentFile     ContentKind = "file"
	ContentVoice    ContentKind = "voice"
	ContentLocation ContentKind = "location"
	ContentCommand  ContentKind = "command"
)

// ChannelUser — отправитель на стороне платформы.
type ChannelUser struct {
	PlatformID  string `json:"platform_id"`
	DisplayName string `json:"display_name"`
}

// ChannelContent — tagged-вариант содержимого. Заполнены только поля,
// релевантные для Kind; ядро использует фактически лишь Text и Command.
type ChannelContent struct {
	Kind     ContentKind `json:"kind"`
	Text     string      `json:"text,omitempty"`
	URL      string      `json:"url,omitempty"`
	Filename string      `json:"filename,omitempty"`
	Duration uint32      `json:"duration_seconds,omitempty"`
	Lat      float64     `json:"lat,omitempty"`
	Lon      float64     `json:"lon,omitempty"`
	Command  string      `json:"command,omitempty"`
	Args     []string    `json:"args,omitempty"`
}

// ChannelMessage — единая форма входящего сообщения из любого адаптера.
// Платформенная специфика остается в Metadata как непрозрачный JSON.
type ChannelMessage struct {
	Channel           ChannelType                `json:"channel"`
	PlatformMessageID string                     `json:"platform_message_id"`
	Sender            ChannelUser                `json:"sender"`
	Content           ChannelContent             `json:"content"`
	TargetAgent       string                     `json:"target_agent,omitempty"`
	IsGroup           bool                       `json:"is_group"`
	ThreadID          string                     `json:"thread_id,omitempty"`
	Timestamp         time.Time                  `json:"timestamp"`
	Metadata          map[string]json.RawMessage `json:"metadata,omitempty"`
}

// AgentPhase — фаза обработки для UX-индикации в каналах.
type AgentPhase string

const (
	PhaseQueued    AgentPhase = "queued"
	PhaseThinking  AgentPhase = "thinking"
	PhaseToolUse   AgentPhase = "tool_use"
	PhaseStreaming AgentPhase = "streaming"
	PhaseDone      AgentPhase = "done"
	PhaseError     AgentPhase = "error"
)

// ChannelAdapter — фиксированный набор способностей платформенного
// адаптера. Реализация подбирается на этапе композиции, без рефлексии.
// Ядро видит адаптеры только через этот интерфейс.
type ChannelAdapter interface {
	Start(ctx context.Context) error
	Send(ctx context.Context, chatID string, text string) error
	SendTyping(ctx context.Context, chatID string) error
	SendReaction(ctx context.Context, messageID string, phase AgentPhase) error
	Stop(ctx context.Context) error
	Status() string
}
