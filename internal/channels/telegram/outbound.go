package telegram

import (
	"context"
	"fmt"
	"strings"

	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/andy963/ads/internal/bus"
)

// Send delivers an agent reply to a Telegram chat, satisfying
// channels.Channel for the outbound half of the bus. Unlike handleMessage's
// reply path, Send has no forum thread id to target (the bus carries only a
// chat id), so every outbound send lands in the chat's General topic.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := parseChatID(msg.ChatID)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}

	if msg.Content != "" {
		if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), msg.Content)); err != nil {
			return fmt.Errorf("telegram send message: %w", err)
		}
	}
	for _, m := range msg.Media {
		if err := c.sendMediaAttachment(ctx, chatID, m); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) sendMediaAttachment(ctx context.Context, chatID int64, m bus.MediaAttachment) error {
	file := tu.FileFromURL(m.URL)
	if strings.HasPrefix(m.ContentType, "image/") {
		_, err := c.bot.SendPhoto(ctx, tu.Photo(tu.ID(chatID), file).WithCaption(m.Caption))
		if err != nil {
			return fmt.Errorf("telegram send photo: %w", err)
		}
		return nil
	}
	_, err := c.bot.SendDocument(ctx, tu.Document(tu.ID(chatID), file).WithCaption(m.Caption))
	if err != nil {
		return fmt.Errorf("telegram send document: %w", err)
	}
	return nil
}
