package transport

import "context"

// ChatTarget addresses one side-channel conversation.
type ChatTarget struct {
	ChatID int64
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Document is a file pushed through the side-channel alongside a caption.
type Document struct {
	Path     string
	FileName string
	Caption  string
}

// Notifier is the outbound side-channel used for delivery reports and
// operational notices. Implementations must be safe for concurrent use.
type Notifier interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
	SendDocument(ctx context.Context, to ChatTarget, doc Document) error
}
