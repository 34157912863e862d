package wsfront

import "encoding/json"

// InboundEnvelope is one parsed client->server WebSocket frame.
type InboundEnvelope struct {
	Type            string          `json:"type"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	ClientMessageID string          `json:"client_message_id,omitempty"`
	ChatSessionID   string          `json:"chatSessionId,omitempty"`
}

// PromptPayload is the payload of a {type:"prompt"} envelope.
type PromptPayload struct {
	Text   string   `json:"text"`
	Images []string `json:"images,omitempty"`
}

// CommandPayload is the payload of a {type:"command"} envelope. It accepts
// either a bare string (`"payload":"/pwd"`) or an object carrying an
// explicit silent flag.
type CommandPayload struct {
	Text   string
	Silent bool
}

func (c *CommandPayload) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		return nil
	}
	var obj struct {
		Text   string `json:"text"`
		Silent bool   `json:"silent,omitempty"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	c.Text = obj.Text
	c.Silent = obj.Silent
	return nil
}

// TaskResumePayload is the payload of a {type:"task_resume"} envelope.
type TaskResumePayload struct {
	TaskID string `json:"taskId"`
}

// outboundEnvelope is one server->client WebSocket frame.
type outboundEnvelope struct {
	Type            string `json:"type"`
	Ts              int64  `json:"ts,omitempty"`
	ClientMessageID string `json:"client_message_id,omitempty"`
	Duplicate       bool   `json:"duplicate,omitempty"`
	Payload         any    `json:"payload,omitempty"`
}
