package codec

import (
	"fmt"

	"github.com/risa-org/chatlink/message"
)

// RemoteError is an error frame: the endpoint read the request and refused it.
type RemoteError struct {
	Code   string
	Reason string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote refused (%s): %s", e.Code, e.Reason)
}

func (e *RemoteError) ErrorKind() message.ErrorKind { return message.KindRemote }

func (e *RemoteError) Is(target error) bool { return target == message.ErrRemote }

// EncodeResult writes res as a frame. A Failure is written as an error
// frame coded by its kind.
func EncodeResult(res message.Result) ([]byte, error) {
	switch r := res.(type) {
	case message.Delivered:
		return encode(TypeDelivered, deliveredData{MessageID: r.MessageID})
	case message.FileMeta:
		return encode(TypeFileMeta, fileMetaData{Index: r.Index, FileName: r.FileName, Size: r.Size})
	case message.FileBytes:
		b := r.Bytes
		if b == nil {
			b = []byte{}
		}
		return encode(TypeFileBytes, fileBytesData{Index: r.Index, Bytes: b})
	case message.DeletedAck:
		return encode(TypeDeletedAck, deliveredData{MessageID: r.MessageID})
	case message.Failure:
		code := CodeInternal
		if r.Kind == message.KindValidation {
			code = CodeBadRequest
		}
		return EncodeError(code, r.Reason)
	default:
		return nil, fmt.Errorf("cannot encode result %T", res)
	}
}

// EncodeError writes an error frame.
func EncodeError(code, reason string) ([]byte, error) {
	return encode(TypeError, errorData{Code: code, Reason: reason})
}

// DecodeResult reads a result frame. An error frame comes back as a
// *RemoteError; anything unreadable wraps ErrMalformed.
func DecodeResult(payload []byte) (message.Result, error) {
	env, err := open(payload)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeDelivered:
		var d deliveredData
		if err := decodeData(env, &d); err != nil {
			return nil, err
		}
		return message.Delivered{MessageID: d.MessageID}, nil
	case TypeFileMeta:
		var d fileMetaData
		if err := decodeData(env, &d); err != nil {
			return nil, err
		}
		return message.FileMeta{Index: d.Index, FileName: d.FileName, Size: d.Size}, nil
	case TypeFileBytes:
		var d fileBytesData
		if err := decodeData(env, &d); err != nil {
			return nil, err
		}
		return message.FileBytes{Index: d.Index, Bytes: d.Bytes}, nil
	case TypeDeletedAck:
		var d deliveredData
		if err := decodeData(env, &d); err != nil {
			return nil, err
		}
		return message.DeletedAck{MessageID: d.MessageID}, nil
	case TypeError:
		return nil, decodeRemoteError(env)
	default:
		return nil, fmt.Errorf("%w: unexpected result type %q", ErrMalformed, env.Type)
	}
}

// EncodeLoginOK writes the reply to a successful login.
func EncodeLoginOK(credential string) ([]byte, error) {
	return encode(TypeLoginOK, loginOKData{Credential: credential})
}

// DecodeLoginOK reads the reply to a login.
func DecodeLoginOK(payload []byte) (string, error) {
	env, err := open(payload)
	if err != nil {
		return "", err
	}
	switch env.Type {
	case TypeLoginOK:
		var d loginOKData
		if err := decodeData(env, &d); err != nil {
			return "", err
		}
		if d.Credential == "" {
			return "", fmt.Errorf("%w: empty credential", ErrMalformed)
		}
		return d.Credential, nil
	case TypeError:
		return "", decodeRemoteError(env)
	default:
		return "", fmt.Errorf("%w: unexpected login reply %q", ErrMalformed, env.Type)
	}
}

func decodeRemoteError(env Envelope) error {
	var d errorData
	if err := decodeData(env, &d); err != nil {
		return err
	}
	return &RemoteError{Code: d.Code, Reason: d.Reason}
}
