package mcptool

import "testing"

func TestRegistryListAndCall(t *testing.T) {
	r := NewRegistry()
	r.Register(Tool{Name: "echo", Description: "echoes input"}, func(args map[string]any) (CallResult, error) {
		return NewTextContent(args["text"].(string)), nil
	})

	tools := r.List()
	if len(tools) != 1 || tools[0].Name != "echo" {
		t.Fatalf("List() = %v, want one tool named echo", tools)
	}

	res, err := r.Call(CallParams{Name: "echo", Arguments: map[string]any{"text": "hi"}})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.IsError || len(res.Content) != 1 || res.Content[0].Text != "hi" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestRegistryCallUnknownTool(t *testing.T) {
	r := NewRegistry()
	res, err := r.Call(CallParams{Name: "nope"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !res.IsError {
		t.Error("expected IsError for an unregistered tool name")
	}
}
