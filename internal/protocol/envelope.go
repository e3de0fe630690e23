package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

type Kind string

const (
	KindRegister    Kind = "register"
	KindChatRequest Kind = "chat_request"
	KindMessage     Kind = "message"
	KindSystem      Kind = "system"
	KindError       Kind = "error"
	KindDelivery    Kind = "delivery"
)

// Envelope is one application message. Kind selects which of the other
// fields are meaningful; the rest stay empty.
type Envelope struct {
	Kind       Kind   `validate:"oneof=register chat_request message system error delivery"`
	Username   string `validate:"required_if=Kind register"`
	TargetUser string `validate:"required_if=Kind chat_request,required_if=Kind message"`
	From       string `validate:"required_if=Kind delivery"`
	Content    string
	Text       string `validate:"required_if=Kind system,required_if=Kind error"`
}

func Register(username string) Envelope {
	return Envelope{Kind: KindRegister, Username: username}
}

func ChatRequest(target string) Envelope {
	return Envelope{Kind: KindChatRequest, TargetUser: target}
}

func DirectMessage(target, content string) Envelope {
	return Envelope{Kind: KindMessage, TargetUser: target, Content: content}
}

func SystemNotice(text string) Envelope {
	return Envelope{Kind: KindSystem, Text: text}
}

func ErrorNotice(text string) Envelope {
	return Envelope{Kind: KindError, Text: text}
}

func Delivery(from, content string) Envelope {
	return Envelope{Kind: KindDelivery, From: from, Content: content}
}

// FromServer reports whether the envelope is one the server emits.
func (e Envelope) FromServer() bool {
	switch e.Kind {
	case KindSystem, KindError, KindDelivery:
		return true
	}
	return false
}

var validate = validator.New()

// Wire keys allowed for each kind. Server kinds carry no "type" key and are
// told apart by which of "system", "error" or "from" is present.
var wireKeys = map[Kind][]string{
	KindRegister:    {"type", "username"},
	KindChatRequest: {"type", "target_user"},
	KindMessage:     {"type", "target_user", "content"},
	KindSystem:      {"system"},
	KindError:       {"error"},
	KindDelivery:    {"from", "content"},
}

// Marshal encodes e as the JSON payload of one frame.
func Marshal(e Envelope) ([]byte, error) {
	if err := validate.Struct(e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	var fields map[string]string
	switch e.Kind {
	case KindRegister:
		fields = map[string]string{"type": string(e.Kind), "username": e.Username}
	case KindChatRequest:
		fields = map[string]string{"type": string(e.Kind), "target_user": e.TargetUser}
	case KindMessage:
		fields = map[string]string{"type": string(e.Kind), "target_user": e.TargetUser, "content": e.Content}
	case KindSystem:
		fields = map[string]string{"system": e.Text}
	case KindError:
		fields = map[string]string{"error": e.Text}
	case KindDelivery:
		fields = map[string]string{"from": e.From, "content": e.Content}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fields); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Unmarshal decodes one frame payload. Anything that does not map onto
// exactly one kind, carries foreign keys or misses required fields is
// rejected with ErrInvalidEnvelope or ErrMalformedFrame. Payloads that are
// not valid UTF-8 are rejected rather than having bytes replaced by U+FFFD.
func Unmarshal(data []byte) (Envelope, error) {
	if !utf8.Valid(data) {
		return Envelope{}, fmt.Errorf("%w: payload is not valid UTF-8", ErrInvalidEnvelope)
	}
	var fields map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&fields); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if dec.More() {
		return Envelope{}, fmt.Errorf("%w: trailing data after payload", ErrMalformedFrame)
	}
	if fields == nil {
		return Envelope{}, fmt.Errorf("%w: payload is not an object", ErrMalformedFrame)
	}

	values := make(map[string]string, len(fields))
	for key, raw := range fields {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Envelope{}, fmt.Errorf("%w: field %q is not a string", ErrInvalidEnvelope, key)
		}
		values[key] = s
	}

	kind, err := discriminate(values)
	if err != nil {
		return Envelope{}, err
	}
	for key := range values {
		if !slices.Contains(wireKeys[kind], key) {
			return Envelope{}, fmt.Errorf("%w: unexpected field %q for %s", ErrInvalidEnvelope, key, kind)
		}
	}

	e := Envelope{
		Kind:       kind,
		Username:   values["username"],
		TargetUser: values["target_user"],
		From:       values["from"],
		Content:    values["content"],
	}
	switch kind {
	case KindSystem:
		e.Text = values["system"]
	case KindError:
		e.Text = values["error"]
	}
	if err := validate.Struct(e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return e, nil
}

func discriminate(values map[string]string) (Kind, error) {
	var found []Kind
	if t, ok := values["type"]; ok {
		switch k := Kind(t); k {
		case KindRegister, KindChatRequest, KindMessage:
			found = append(found, k)
		default:
			return "", fmt.Errorf("%w: unknown type %q", ErrInvalidEnvelope, t)
		}
	}
	if _, ok := values["system"]; ok {
		found = append(found, KindSystem)
	}
	if _, ok := values["error"]; ok {
		found = append(found, KindError)
	}
	if _, ok := values["from"]; ok {
		found = append(found, KindDelivery)
	}
	// Bare {"username": ...} is how older clients register.
	if len(found) == 0 {
		if _, ok := values["username"]; ok {
			return KindRegister, nil
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w: no discriminating field", ErrInvalidEnvelope)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("%w: ambiguous envelope %v", ErrInvalidEnvelope, found)
	}
}
