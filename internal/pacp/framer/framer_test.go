package framer

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"
)

func TestReadFrameSplitsOnNewlines(t *testing.T) {
	r := NewReader(bytes.NewBufferString("{\"a\":1}\n{\"b\":2}\n"))

	ctx := context.Background()
	got1, err := r.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(got1) != `{"a":1}` {
		t.Errorf("got %q, want {\"a\":1}", got1)
	}

	got2, err := r.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(got2) != `{"b":2}` {
		t.Errorf("got %q, want {\"b\":2}", got2)
	}

	_, err = r.ReadFrame(ctx)
	if err != io.EOF {
		t.Errorf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestReadFrameDetectsTruncation(t *testing.T) {
	r := NewReader(bytes.NewBufferString(`{"a":1}` + "\n" + `{"partial":true`))

	ctx := context.Background()
	if _, err := r.ReadFrame(ctx); err != nil {
		t.Fatalf("ReadFrame (first): %v", err)
	}

	_, err := r.ReadFrame(ctx)
	if err != ErrTruncated {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
}

func TestReadFrameCancelable(t *testing.T) {
	pr, _ := io.Pipe() // never written to, blocks forever
	r := NewReader(pr)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.ReadFrame(ctx)
	if err != context.DeadlineExceeded {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestWriteFrameAppendsNewline(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	if err := w.WriteFrame([]byte(`{"a":1}`)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if err := w.WriteFrame([]byte(`{"b":2}`)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	want := "{\"a\":1}\n{\"b\":2}\n"
	if buf.String() != want {
		t.Errorf("buf = %q, want %q", buf.String(), want)
	}
}

func TestWriteFrameRejectsEmbeddedNewline(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	if err := w.WriteFrame([]byte("{\"a\":\n1}")); err == nil {
		t.Fatal("expected error for embedded newline")
	}
}

func TestWriteFrameAfterCloseFails(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Close()

	if err := w.WriteFrame([]byte(`{}`)); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestRoundTripWriterThenReader(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	r := NewReader(&buf)

	frames := []string{`{"a":1}`, `{"b":2}`, `{"c":3}`}
	for _, f := range frames {
		if err := w.WriteFrame([]byte(f)); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}

	ctx := context.Background()
	for _, want := range frames {
		got, err := r.ReadFrame(ctx)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if string(got) != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}
