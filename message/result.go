package message

import "fmt"

// Result is one of Delivered, FileMeta, FileBytes, DeletedAck or Failure.
// Every dispatch produces exactly one.
type Result interface {
	isResult()
}

// Delivered confirms a text message was accepted under MessageID.
type Delivered struct {
	MessageID MessageID
}

// FileMeta advertises an uploaded file.
type FileMeta struct {
	Index    uint64
	FileName string
	Size     uint64
}

// FileBytes carries the content of file Index.
type FileBytes struct {
	Index uint64
	Bytes []byte
}

// DeletedAck confirms MessageID is now marked deleted.
type DeletedAck struct {
	MessageID MessageID
}

// Failure is the terminal result of a dispatch that did not succeed.
type Failure struct {
	Kind    ErrorKind
	Reason  string
	Request *Summary // nil when the request could not be summarized
}

func (Delivered) isResult()  {}
func (FileMeta) isResult()   {}
func (FileBytes) isResult()  {}
func (DeletedAck) isResult() {}
func (Failure) isResult()    {}

// Err converts the failure back into an error matching its kind sentinel.
func (f Failure) Err() error {
	return &Error{Kind: f.Kind, Op: "dispatch", Err: fmt.Errorf("%s", f.Reason)}
}

// NewFailure builds the Failure for err raised while serving req.
func NewFailure(req ClientRequest, err error) Failure {
	return Failure{
		Kind:    KindOf(err),
		Reason:  err.Error(),
		Request: Summarize(req),
	}
}

// Summary is the part of a request worth showing next to a failure.
// It never carries the credential or the message body.
type Summary struct {
	Kind      RequestKind
	Author    string
	Target    string
	FileName  string
	Index     uint64
	MessageID MessageID
}

func (s Summary) String() string {
	switch s.Kind {
	case KindFileUpload:
		return fmt.Sprintf("%s %q by %s", s.Kind, s.FileName, s.Author)
	case KindFileFetch:
		return fmt.Sprintf("%s #%d by %s", s.Kind, s.Index, s.Author)
	case KindDeleteMark:
		return fmt.Sprintf("%s message %d by %s", s.Kind, s.MessageID, s.Author)
	default:
		return fmt.Sprintf("%s to %s by %s", s.Kind, s.Target, s.Author)
	}
}

// Summarize returns the summary of req, or nil for a nil request.
func Summarize(req ClientRequest) *Summary {
	switch r := req.(type) {
	case Text:
		return &Summary{Kind: KindText, Author: r.Author, Target: r.Target}
	case FileUpload:
		return &Summary{Kind: KindFileUpload, Author: r.Author, Target: r.Target, FileName: r.FileName()}
	case FileFetch:
		return &Summary{Kind: KindFileFetch, Author: r.Author, Index: r.Index}
	case DeleteMark:
		return &Summary{Kind: KindDeleteMark, Author: r.Author, MessageID: r.MessageID}
	default:
		return nil
	}
}
