// Package message defines what flows between a chat client and its remote
// endpoint: the outbound request variants, the inbound result variants, and
// the error kinds used to report failures.
//
// Requests are plain values. The target address, credential and author are
// copied in at construction time, so the goroutine that eventually performs
// the exchange never reaches back into state owned by the UI.
package message

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// MessageID identifies a chat message on the remote endpoint.
type MessageID uint64

// RequestID identifies one dispatch. It is also the correlation id of the
// exchange on the wire, so a reply can only ever resolve its own request.
type RequestID = uuid.UUID

// NewRequestID returns a fresh random request id.
func NewRequestID() RequestID {
	return uuid.New()
}

// RequestKind names a ClientRequest variant.
type RequestKind string

const (
	KindText       RequestKind = "text"
	KindFileUpload RequestKind = "file_upload"
	KindFileFetch  RequestKind = "file_fetch"
	KindDeleteMark RequestKind = "delete"
)

// ClientRequest is one of Text, FileUpload, FileFetch or DeleteMark.
// The interface is sealed: only this package can add variants.
type ClientRequest interface {
	Kind() RequestKind
	Sender() string
	isClientRequest()
}

// Text is a chat message body sent to Target, optionally replying to an
// earlier message.
type Text struct {
	Body       string
	Author     string
	Target     string
	Credential string
	ReplyTo    *MessageID
}

// FileUpload asks the endpoint to store the file at Path and advertise it.
// The file is read inside the dispatched goroutine, not at construction.
type FileUpload struct {
	Path       string
	Author     string
	Target     string
	Credential string
	ReplyTo    *MessageID
}

// FileFetch requests the content of a previously advertised file.
// Index is the only addressing key; file names are not unique.
type FileFetch struct {
	Index      uint64
	Author     string
	Credential string
}

// DeleteMark asks the endpoint to mark a message deleted.
type DeleteMark struct {
	MessageID  MessageID
	Author     string
	Credential string
}

func (Text) Kind() RequestKind       { return KindText }
func (FileUpload) Kind() RequestKind { return KindFileUpload }
func (FileFetch) Kind() RequestKind  { return KindFileFetch }
func (DeleteMark) Kind() RequestKind { return KindDeleteMark }

func (r Text) Sender() string       { return r.Author }
func (r FileUpload) Sender() string { return r.Author }
func (r FileFetch) Sender() string  { return r.Author }
func (r DeleteMark) Sender() string { return r.Author }

func (Text) isClientRequest()       {}
func (FileUpload) isClientRequest() {}
func (FileFetch) isClientRequest()  {}
func (DeleteMark) isClientRequest() {}

// FileName is the display name advertised for the upload.
func (r FileUpload) FileName() string {
	return filepath.Base(r.Path)
}

// NewText validates and normalizes a chat message.
// The body is trimmed; an empty body is a validation error.
func NewText(body, target, credential, author string, replyTo *MessageID) (Text, error) {
	const op = "message.NewText"

	body = strings.TrimSpace(body)
	if body == "" {
		return Text{}, Errorf(KindValidation, op, "body is empty")
	}
	author = NormalizeAuthor(author)
	if author == "" {
		return Text{}, Errorf(KindValidation, op, "author is empty")
	}
	return Text{
		Body:       body,
		Author:     author,
		Target:     target,
		Credential: credential,
		ReplyTo:    copyID(replyTo),
	}, nil
}

// NewFileUpload checks that path names a readable regular file and captures
// the upload intent. Checking here means an unreadable path fails in the
// caller's hands instead of inside a dispatched goroutine.
func NewFileUpload(path, target, credential, author string, replyTo *MessageID) (FileUpload, error) {
	const op = "message.NewFileUpload"

	author = NormalizeAuthor(author)
	if author == "" {
		return FileUpload{}, Errorf(KindValidation, op, "author is empty")
	}
	if err := probeReadable(path); err != nil {
		return FileUpload{}, &Error{Kind: KindIO, Op: op, Err: err}
	}
	return FileUpload{
		Path:       path,
		Author:     author,
		Target:     target,
		Credential: credential,
		ReplyTo:    copyID(replyTo),
	}, nil
}

// NewFileFetch builds a fetch request. Whether the index exists is for the
// endpoint to decide.
func NewFileFetch(index uint64, credential, author string) FileFetch {
	return FileFetch{Index: index, Author: NormalizeAuthor(author), Credential: credential}
}

// NewDelete builds a delete-mark request for id.
func NewDelete(id MessageID, credential, author string) DeleteMark {
	return DeleteMark{MessageID: id, Author: NormalizeAuthor(author), Credential: credential}
}

// NormalizeAuthor is the form of an author name that credentials are bound
// to. Login and every request constructor apply it.
func NormalizeAuthor(author string) string {
	return strings.TrimSpace(author)
}

func probeReadable(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path is empty")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

// copyID detaches the reply reference from the caller's variable.
func copyID(id *MessageID) *MessageID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
