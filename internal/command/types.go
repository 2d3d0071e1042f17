package command

import "encoding/json"

// Interaction wire types for the Discord interactions webhook. Only the
// fields the gateway reads are modeled; unknown fields are ignored.

type InteractionType int

const (
	InteractionPing               InteractionType = 1
	InteractionApplicationCommand InteractionType = 2
)

type Interaction struct {
	ID            string          `json:"id"`
	ApplicationID string          `json:"application_id"`
	Type          InteractionType `json:"type"`
	Token         string          `json:"token"`
	Member        *Member         `json:"member,omitempty"`
	User          *InvokingUser   `json:"user,omitempty"`
	Data          *CommandData    `json:"data,omitempty"`
}

// InvokerID returns the invoking user's ID, whether the command came
// from a guild (member) or a DM (user).
func (ic *Interaction) InvokerID() string {
	if ic.Member != nil && ic.Member.User != nil {
		return ic.Member.User.ID
	}
	if ic.User != nil {
		return ic.User.ID
	}
	return ""
}

type Member struct {
	User *InvokingUser `json:"user,omitempty"`
}

type InvokingUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type CommandData struct {
	Name    string   `json:"name"`
	Options []Option `json:"options,omitempty"`
}

type Option struct {
	Name    string          `json:"name"`
	Type    int             `json:"type"`
	Value   json.RawMessage `json:"value,omitempty"`
	Options []Option        `json:"options,omitempty"`
}

// StringValue decodes the option value as a string. User options carry
// the user ID as a JSON string.
func (o Option) StringValue() string {
	var s string
	if err := json.Unmarshal(o.Value, &s); err != nil {
		return ""
	}
	return s
}

type ResponseType int

const (
	ResponsePong     ResponseType = 1
	ResponseMessage  ResponseType = 4
	ResponseDeferred ResponseType = 5
)

// flagEphemeral marks a reply visible only to the invoking user.
const flagEphemeral = 64

type Response struct {
	Type ResponseType  `json:"type"`
	Data *ResponseData `json:"data,omitempty"`
}

type ResponseData struct {
	Content string `json:"content,omitempty"`
	Flags   int    `json:"flags,omitempty"`
}

func message(content string) Response {
	return Response{Type: ResponseMessage, Data: &ResponseData{Content: content}}
}

func ephemeral(content string) Response {
	return Response{Type: ResponseMessage, Data: &ResponseData{Content: content, Flags: flagEphemeral}}
}

func deferred() Response {
	return Response{Type: ResponseDeferred}
}
