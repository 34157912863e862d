package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mymmrac/telego"
)

// replyInfo describes the message a user replied to, when any.
type replyInfo struct {
	IsBotReply bool
	Sender     string
	Preview    string
}

// messageContext captures reply/location context extracted from an incoming
// Telegram message, enriching what the agent sees beyond raw text.
type messageContext struct {
	ReplyInfo    *replyInfo
	LocationText string
}

// buildMessageContext extracts reply and location context from msg.
func buildMessageContext(msg *telego.Message, botUsername string) *messageContext {
	mc := &messageContext{}

	if msg.ReplyToMessage != nil {
		from := msg.ReplyToMessage.From
		info := &replyInfo{}
		if from != nil {
			info.IsBotReply = botUsername != "" && from.Username == botUsername
			info.Sender = from.FirstName
			if from.Username != "" {
				info.Sender = "@" + from.Username
			}
		}
		preview := msg.ReplyToMessage.Text
		if preview == "" {
			preview = msg.ReplyToMessage.Caption
		}
		info.Preview = Truncate(preview, 120)
		mc.ReplyInfo = info
	}

	if msg.Location != nil {
		mc.LocationText = fmt.Sprintf("[Location: %.5f, %.5f]", msg.Location.Latitude, msg.Location.Longitude)
	} else if msg.Venue != nil {
		mc.LocationText = fmt.Sprintf("[Venue: %s]", msg.Venue.Title)
	}

	return mc
}

// Truncate shortens s to maxLen, matching channels.Truncate's behavior
// without importing the channels package purely for this helper.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// enrichContentWithContext prepends reply/location annotations to content.
func enrichContentWithContext(content string, mc *messageContext) string {
	if mc == nil {
		return content
	}

	prefix := ""
	if mc.ReplyInfo != nil && mc.ReplyInfo.Preview != "" {
		prefix += fmt.Sprintf("[Replying to %s: %q]\n", mc.ReplyInfo.Sender, mc.ReplyInfo.Preview)
	}
	if mc.LocationText != "" {
		prefix += mc.LocationText + "\n"
	}

	if prefix == "" {
		return content
	}
	return prefix + content
}

// sanitizeImage strips no metadata today (no image-processing dependency is
// wired into this module) and returns the original path unchanged. Kept as a
// seam so a real EXIF-stripping step can be dropped in without touching callers.
func sanitizeImage(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}

// handleCallbackQuery answers inline-keyboard callback queries. The bot does
// not currently register any inline keyboards, so this only clears the
// client-side loading spinner Telegram shows until answerCallbackQuery is called.
func (c *Channel) handleCallbackQuery(ctx context.Context, cb *telego.CallbackQuery) {
	if err := c.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
		CallbackQueryID: cb.ID,
	}); err != nil {
		slog.Debug("telegram: answer callback query failed", "error", err)
	}
}
