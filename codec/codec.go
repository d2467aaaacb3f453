// Package codec turns requests and results into the JSON frames exchanged
// with the remote endpoint. Every frame is an envelope {"type", "data"};
// the type selects how data is read.
package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/risa-org/chatlink/message"
)

// ErrMalformed marks a frame that could not be decoded. It matches
// message.ErrProtocol so dispatch reports it as a protocol failure.
var ErrMalformed = fmt.Errorf("malformed frame: %w", message.ErrProtocol)

// Frame types.
const (
	TypeText       = "text"
	TypeFileUpload = "file_upload"
	TypeFileFetch  = "file_fetch"
	TypeDelete     = "delete"
	TypeLogin      = "login"

	TypeDelivered  = "delivered"
	TypeFileMeta   = "file_meta"
	TypeFileBytes  = "file_bytes"
	TypeDeletedAck = "deleted_ack"
	TypeLoginOK    = "login_ok"
	TypeError      = "error"
)

// Error codes carried by error frames.
const (
	CodeBadRequest   = "bad_request"
	CodeUnauthorized = "unauthorized"
	CodeNotFound     = "not_found"
	CodeForbidden    = "forbidden"
	CodeTooLarge     = "too_large"
	CodeInternal     = "internal"
)

// EnvelopeOverhead is the room reserved in a frame for everything around
// file content: type, names, author, target and credential.
const EnvelopeOverhead = 64 << 10

// MaxContentSize is the largest file content that still fits a frame of
// frameSize bytes once base64 encoded inside an envelope.
func MaxContentSize(frameSize int) int64 {
	room := frameSize - EnvelopeOverhead
	if room <= 0 {
		return 0
	}
	return int64(base64.StdEncoding.DecodedLen(room))
}

// Envelope is the outer shape of every frame.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type textData struct {
	Body       string             `json:"body"`
	Author     string             `json:"author"`
	Target     string             `json:"target,omitempty"`
	Credential string             `json:"credential"`
	ReplyTo    *message.MessageID `json:"reply_to,omitempty"`
}

type uploadData struct {
	FileName   string             `json:"file_name"`
	Author     string             `json:"author"`
	Target     string             `json:"target,omitempty"`
	Credential string             `json:"credential"`
	ReplyTo    *message.MessageID `json:"reply_to,omitempty"`
	Content    []byte             `json:"content"`
}

type fetchData struct {
	Index      uint64 `json:"index"`
	Author     string `json:"author"`
	Credential string `json:"credential"`
}

type deleteData struct {
	MessageID  message.MessageID `json:"message_id"`
	Author     string            `json:"author"`
	Credential string            `json:"credential"`
}

type loginData struct {
	Author string `json:"author"`
	Secret string `json:"secret,omitempty"`
}

type deliveredData struct {
	MessageID message.MessageID `json:"message_id"`
}

type fileMetaData struct {
	Index    uint64 `json:"index"`
	FileName string `json:"file_name"`
	Size     uint64 `json:"size"`
}

type fileBytesData struct {
	Index uint64 `json:"index"`
	Bytes []byte `json:"bytes"`
}

type loginOKData struct {
	Credential string `json:"credential"`
}

type errorData struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

func encode(typ string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", typ, err)
	}
	return json.Marshal(Envelope{Type: typ, Data: raw})
}

func open(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env, nil
}

func decodeData(env Envelope, v any) error {
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformed, env.Type, err)
	}
	return nil
}
