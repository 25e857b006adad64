package protocol

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/casualjim/hoot/provider"
	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// InvalidSeq is the decoded sequence number of a seq field that is present
// but not an integer.
const InvalidSeq = -1

var (
	ErrInvalidJSON = errors.New("invalid json")
	ErrMissingType = errors.New("missing envelope type")
	ErrUnknownType = errors.New("unknown envelope type")
	ErrNoPayload   = errors.New("missing envelope payload")
)

var (
	sendJSON   = []byte(`{"type":"send"}`)
	cancelJSON = []byte(`{"type":"cancel"}`)
	deltaJSON  = []byte(`{"type":"delta"}`)
	doneJSON   = []byte(`{"type":"done"}`)
	errorJSON  = []byte(`{"type":"error"}`)
)

func template(t Type) ([]byte, error) {
	var b []byte
	switch t {
	case TypeSend:
		b = sendJSON
	case TypeCancel:
		b = cancelJSON
	case TypeDelta:
		b = deltaJSON
	case TypeDone:
		b = doneJSON
	case TypeError:
		b = errorJSON
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	// sjson may write into the backing array
	return slices.Clone(b), nil
}

// Encode renders an envelope as {"type","requestId","payload"}.
func Encode(env Envelope) ([]byte, error) {
	if env.Message == nil {
		return nil, ErrNoPayload
	}
	typ := env.Type
	if typ == "" {
		typ = env.Message.MessageType()
	}
	if typ != env.Message.MessageType() {
		return nil, fmt.Errorf("envelope type %q does not match payload type %q", typ, env.Message.MessageType())
	}

	result, err := template(typ)
	if err != nil {
		return nil, err
	}
	if env.RequestID != "" {
		result, err = sjson.SetBytes(result, "requestId", env.RequestID)
		if err != nil {
			return nil, err
		}
	}

	payload, err := json.Marshal(env.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return sjson.SetRawBytes(result, "payload", payload)
}

// Decode parses an envelope. Missing turnId and seq fields decode as zero
// values; a seq that is not an integer decodes as InvalidSeq.
func Decode(data []byte) (Envelope, error) {
	if !gjson.ValidBytes(data) {
		return Envelope{}, fmt.Errorf("%w: %s", ErrInvalidJSON, data)
	}

	typ := gjson.GetBytes(data, "type")
	if !typ.Exists() || typ.String() == "" {
		return Envelope{}, ErrMissingType
	}
	env := Envelope{
		Type:      Type(typ.String()),
		RequestID: gjson.GetBytes(data, "requestId").String(),
	}

	payload := gjson.GetBytes(data, "payload")
	if !payload.IsObject() {
		return Envelope{}, ErrNoPayload
	}

	switch env.Type {
	case TypeSend:
		var m Send
		if err := json.Unmarshal([]byte(payload.Raw), &m); err != nil {
			return Envelope{}, fmt.Errorf("invalid send payload: %w", err)
		}
		env.Message = m
	case TypeCancel:
		var m Cancel
		if err := json.Unmarshal([]byte(payload.Raw), &m); err != nil {
			return Envelope{}, fmt.Errorf("invalid cancel payload: %w", err)
		}
		env.Message = m
	case TypeDelta:
		env.Message = Delta{
			EventMeta: decodeMeta(payload),
			TextDelta: payload.Get("textDelta").String(),
		}
	case TypeDone:
		env.Message = Done{
			EventMeta:    decodeMeta(payload),
			FinishReason: provider.FinishReason(payload.Get("finishReason").String()),
		}
	case TypeError:
		env.Message = ErrorMessage{
			EventMeta: decodeMeta(payload),
			Message:   payload.Get("message").String(),
		}
	default:
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return env, nil
}

func decodeMeta(p gjson.Result) EventMeta {
	return EventMeta{
		RequestID: p.Get("requestId").String(),
		SessionID: p.Get("sessionId").String(),
		TurnID:    p.Get("turnId").String(),
		Seq:       decodeSeq(p.Get("seq")),
	}
}

func decodeSeq(r gjson.Result) int {
	if !r.Exists() || r.Type == gjson.Null {
		return 0
	}
	if r.Type != gjson.Number || r.Num != math.Trunc(r.Num) || math.Abs(r.Num) > math.MaxInt32 {
		return InvalidSeq
	}
	return int(r.Num)
}

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return Encode(e)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	env, err := Decode(data)
	if err != nil {
		return err
	}
	*e = env
	return nil
}
