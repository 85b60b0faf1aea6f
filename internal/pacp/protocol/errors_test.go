package protocol

import (
	"encoding/json"
	"testing"
)

func TestErrorConstructorsProduceResponses(t *testing.T) {
	id := json.RawMessage(`1`)

	cases := []struct {
		name string
		f    *Frame
		code int
	}{
		{"parse error", NewParseError(id, nil), ErrCodeParseError},
		{"invalid request", NewInvalidRequestError(id, "bad"), ErrCodeInvalidRequest},
		{"method not found", NewMethodNotFoundError(id, "foo"), ErrCodeMethodNotFound},
		{"invalid params", NewInvalidParamsError(id, "bad"), ErrCodeInvalidParams},
		{"internal error", NewInternalError(id, "boom"), ErrCodeInternalError},
		{"chain shutdown", NewChainShutdownError(id), ErrCodeChainShutdown},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if c.f.Classify() != KindResponse {
				t.Fatalf("Classify() = %v, want KindResponse", c.f.Classify())
			}
			if c.f.Error == nil {
				t.Fatal("expected non-nil Error")
			}
			if c.f.Error.Code != c.code {
				t.Errorf("Code = %d, want %d", c.f.Error.Code, c.code)
			}
		})
	}
}

func TestRPCErrorImplementsError(t *testing.T) {
	e := &RPCError{Code: -32000, Message: "chain-shutdown"}
	if e.Error() == "" {
		t.Fatal("expected non-empty error string")
	}

	e2 := &RPCError{Code: -32000, Message: "chain-shutdown", Data: "component crashed"}
	if e2.Error() == e.Error() {
		t.Error("expected Data to change rendered error string")
	}
}
