package codec

import (
	"fmt"

	"github.com/risa-org/chatlink/message"
)

// Login is the credential exchange that opens a session.
type Login struct {
	Author string
	Secret string
}

// Incoming is a request as the endpoint sees it after decoding. Exactly one
// of Request or Login is set. For uploads Request is a message.FileUpload
// whose Path holds the advertised file name and Content holds the bytes.
type Incoming struct {
	Type    string
	Request message.ClientRequest
	Content []byte
	Login   *Login
}

// EncodeRequest writes req as a frame. content is the file body for a
// FileUpload and ignored otherwise.
func EncodeRequest(req message.ClientRequest, content []byte) ([]byte, error) {
	switch r := req.(type) {
	case message.Text:
		return encode(TypeText, textData{
			Body:       r.Body,
			Author:     r.Author,
			Target:     r.Target,
			Credential: r.Credential,
			ReplyTo:    r.ReplyTo,
		})
	case message.FileUpload:
		if content == nil {
			content = []byte{}
		}
		return encode(TypeFileUpload, uploadData{
			FileName:   r.FileName(),
			Author:     r.Author,
			Target:     r.Target,
			Credential: r.Credential,
			ReplyTo:    r.ReplyTo,
			Content:    content,
		})
	case message.FileFetch:
		return encode(TypeFileFetch, fetchData{
			Index:      r.Index,
			Author:     r.Author,
			Credential: r.Credential,
		})
	case message.DeleteMark:
		return encode(TypeDelete, deleteData{
			MessageID:  r.MessageID,
			Author:     r.Author,
			Credential: r.Credential,
		})
	default:
		return nil, fmt.Errorf("%w: cannot encode request %T", message.ErrValidation, req)
	}
}

// EncodeLogin writes a login frame.
func EncodeLogin(author, secret string) ([]byte, error) {
	return encode(TypeLogin, loginData{Author: author, Secret: secret})
}

// DecodeRequest reads any request frame, login included.
func DecodeRequest(payload []byte) (Incoming, error) {
	env, err := open(payload)
	if err != nil {
		return Incoming{}, err
	}

	in := Incoming{Type: env.Type}
	switch env.Type {
	case TypeText:
		var d textData
		if err := decodeData(env, &d); err != nil {
			return Incoming{}, err
		}
		in.Request = message.Text{
			Body:       d.Body,
			Author:     d.Author,
			Target:     d.Target,
			Credential: d.Credential,
			ReplyTo:    d.ReplyTo,
		}
	case TypeFileUpload:
		var d uploadData
		if err := decodeData(env, &d); err != nil {
			return Incoming{}, err
		}
		in.Request = message.FileUpload{
			Path:       d.FileName,
			Author:     d.Author,
			Target:     d.Target,
			Credential: d.Credential,
			ReplyTo:    d.ReplyTo,
		}
		in.Content = d.Content
	case TypeFileFetch:
		var d fetchData
		if err := decodeData(env, &d); err != nil {
			return Incoming{}, err
		}
		in.Request = message.FileFetch{Index: d.Index, Author: d.Author, Credential: d.Credential}
	case TypeDelete:
		var d deleteData
		if err := decodeData(env, &d); err != nil {
			return Incoming{}, err
		}
		in.Request = message.DeleteMark{MessageID: d.MessageID, Author: d.Author, Credential: d.Credential}
	case TypeLogin:
		var d loginData
		if err := decodeData(env, &d); err != nil {
			return Incoming{}, err
		}
		in.Login = &Login{Author: d.Author, Secret: d.Secret}
	default:
		return Incoming{}, fmt.Errorf("%w: unknown request type %q", ErrMalformed, env.Type)
	}
	return in, nil
}
