package telegram

import (
	"strings"
	"testing"

	"github.com/mymmrac/telego"
)

func TestBuildMessageContext_ReplyToBot(t *testing.T) {
	msg := &telego.Message{
		ReplyToMessage: &telego.Message{
			From: &telego.User{Username: "mybot", FirstName: "My Bot"},
			Text: "earlier reply",
		},
	}
	mc := buildMessageContext(msg, "mybot")
	if mc.ReplyInfo == nil || !mc.ReplyInfo.IsBotReply {
		t.Fatal("expected IsBotReply to be true when replying to the bot's own message")
	}
}

func TestBuildMessageContext_ReplyToOtherUser(t *testing.T) {
	msg := &telego.Message{
		ReplyToMessage: &telego.Message{
			From: &telego.User{Username: "alice"},
			Text: "hi there",
		},
	}
	mc := buildMessageContext(msg, "mybot")
	if mc.ReplyInfo == nil || mc.ReplyInfo.IsBotReply {
		t.Fatal("expected IsBotReply to be false when replying to another user")
	}
	if mc.ReplyInfo.Sender != "@alice" {
		t.Errorf("Sender = %q, want @alice", mc.ReplyInfo.Sender)
	}
}

func TestEnrichContentWithContext_PrependsReplyAnnotation(t *testing.T) {
	mc := &messageContext{ReplyInfo: &replyInfo{Sender: "@alice", Preview: "hi there"}}
	got := enrichContentWithContext("my reply", mc)
	if !strings.Contains(got, "@alice") || !strings.Contains(got, "my reply") {
		t.Errorf("expected both sender and content present, got: %q", got)
	}
}

func TestEnrichContentWithContext_NilContextIsNoop(t *testing.T) {
	if got := enrichContentWithContext("plain", nil); got != "plain" {
		t.Errorf("expected content unchanged for nil context, got: %q", got)
	}
}

func TestSanitizeImage_MissingFileReturnsError(t *testing.T) {
	if _, err := sanitizeImage("/nonexistent/path/to/image.jpg"); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
