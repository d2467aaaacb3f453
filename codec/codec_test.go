package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/risa-org/chatlink/message"
)

func TestUploadCarriesNameAndContent(t *testing.T) {
	parent := message.MessageID(9)
	req := message.FileUpload{
		Path:       "/home/alice/docs/report.pdf",
		Author:     "alice",
		Credential: "cred",
		ReplyTo:    &parent,
	}
	content := []byte{0x00, 0xff, 0x10, 0x20}

	payload, err := EncodeRequest(req, content)
	if err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}
	if bytes.Contains(payload, []byte("/home/alice")) {
		t.Error("local path leaked onto the wire")
	}

	in, err := DecodeRequest(payload)
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	up, ok := in.Request.(message.FileUpload)
	if !ok {
		t.Fatalf("expected FileUpload, got %T", in.Request)
	}
	if up.Path != "report.pdf" {
		t.Errorf("expected advertised name report.pdf, got %q", up.Path)
	}
	if up.ReplyTo == nil || *up.ReplyTo != 9 {
		t.Errorf("expected reply_to 9, got %v", up.ReplyTo)
	}
	if !bytes.Equal(in.Content, content) {
		t.Errorf("content corrupted: %v", in.Content)
	}
}

func TestTextWithoutReplyOmitsField(t *testing.T) {
	msg, _ := message.NewText("hi", "addr", "cred", "alice", nil)
	payload, err := EncodeRequest(msg, nil)
	if err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}
	if bytes.Contains(payload, []byte("reply_to")) {
		t.Errorf("expected no reply_to in %s", payload)
	}

	in, err := DecodeRequest(payload)
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if got := in.Request.(message.Text); got.Body != "hi" || got.ReplyTo != nil {
		t.Errorf("unexpected text %+v", got)
	}
}

func TestErrorFrameIsRemoteError(t *testing.T) {
	payload, err := EncodeError(CodeNotFound, "no file 7")
	if err != nil {
		t.Fatalf("EncodeError failed: %v", err)
	}

	_, err = DecodeResult(payload)
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected *RemoteError, got %v", err)
	}
	if remote.Code != CodeNotFound {
		t.Errorf("expected code %s, got %s", CodeNotFound, remote.Code)
	}
	if !errors.Is(err, message.ErrRemote) || message.KindOf(err) != message.KindRemote {
		t.Errorf("expected remote kind, got %v", message.KindOf(err))
	}
}

func TestMalformedFramesAreProtocolErrors(t *testing.T) {
	cases := map[string][]byte{
		"not json":     []byte("{{{"),
		"missing type": []byte(`{"data":{}}`),
		"unknown type": []byte(`{"type":"telepathy","data":{}}`),
		"bad data":     []byte(`{"type":"file_bytes","data":{"index":"seven"}}`),
	}

	for name, payload := range cases {
		_, err := DecodeResult(payload)
		if !errors.Is(err, message.ErrProtocol) {
			t.Errorf("%s: expected ErrProtocol, got %v", name, err)
		}
		if message.KindOf(err) != message.KindProtocol {
			t.Errorf("%s: expected KindProtocol, got %v", name, message.KindOf(err))
		}
	}
}

func TestFileBytesKeepsEmptyContent(t *testing.T) {
	payload, err := EncodeResult(message.FileBytes{Index: 3})
	if err != nil {
		t.Fatalf("EncodeResult failed: %v", err)
	}
	res, err := DecodeResult(payload)
	if err != nil {
		t.Fatalf("DecodeResult failed: %v", err)
	}
	fb, ok := res.(message.FileBytes)
	if !ok || fb.Index != 3 || len(fb.Bytes) != 0 {
		t.Errorf("unexpected result %#v", res)
	}
}

func TestLoginExchange(t *testing.T) {
	payload, err := EncodeLogin("alice", "hunter2")
	if err != nil {
		t.Fatalf("EncodeLogin failed: %v", err)
	}
	in, err := DecodeRequest(payload)
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if in.Login == nil || in.Login.Author != "alice" || in.Login.Secret != "hunter2" {
		t.Fatalf("unexpected login %+v", in.Login)
	}
	if in.Request != nil {
		t.Error("login frame should not decode into a client request")
	}

	ok, _ := EncodeLoginOK("token")
	cred, err := DecodeLoginOK(ok)
	if err != nil || cred != "token" {
		t.Errorf("expected credential 'token', got %q (%v)", cred, err)
	}

	refused, _ := EncodeError(CodeUnauthorized, "bad secret")
	if _, err := DecodeLoginOK(refused); !errors.Is(err, message.ErrRemote) {
		t.Errorf("expected remote error for refused login, got %v", err)
	}
}

func TestMaxContentSizeFitsFrame(t *testing.T) {
	const frame = 256 << 10
	content := bytes.Repeat([]byte{0xAB}, int(MaxContentSize(frame)))
	req := message.FileUpload{
		Path:       "/tmp/" + string(bytes.Repeat([]byte("n"), 200)),
		Author:     "alice",
		Target:     "lobby",
		Credential: string(bytes.Repeat([]byte("c"), 200)),
	}

	payload, err := EncodeRequest(req, content)
	if err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}
	if len(payload) > frame {
		t.Errorf("largest allowed upload encodes to %d bytes, frame is %d", len(payload), frame)
	}
	if MaxContentSize(EnvelopeOverhead) != 0 {
		t.Error("expected no room for content in a frame no larger than the overhead")
	}
}
