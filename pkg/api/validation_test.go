package api

import "testing"

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

func TestValidateChatRequest(t *testing.T) {
	tests := []struct {
		name      string
		req       ChatRequest
		wantParam string // empty means valid
	}{
		{
			name: "valid single message",
			req: ChatRequest{
				Model:    "qwen3-max-latest",
				Messages: []Message{{Role: RoleUser, Content: "hi"}},
			},
		},
		{
			name: "valid full conversation",
			req: ChatRequest{
				Model: "gpt-4",
				Messages: []Message{
					{Role: RoleSystem, Content: "be brief"},
					{Role: RoleUser, Content: "hello"},
					{Role: RoleAssistant, Content: "hi there"},
					{Role: RoleUser, Content: "bye"},
				},
				Temperature: floatPtr(0.7),
				MaxTokens:   intPtr(100),
			},
		},
		{
			name:      "empty messages",
			req:       ChatRequest{Model: "m"},
			wantParam: "messages",
		},
		{
			name: "missing role",
			req: ChatRequest{
				Messages: []Message{{Content: "hi"}},
			},
			wantParam: "messages[0].role",
		},
		{
			name: "unknown role",
			req: ChatRequest{
				Messages: []Message{{Role: "tool", Content: "hi"}},
			},
			wantParam: "messages[0].role",
		},
		{
			name: "missing content",
			req: ChatRequest{
				Messages: []Message{
					{Role: RoleUser, Content: "hi"},
					{Role: RoleAssistant},
				},
			},
			wantParam: "messages[1].content",
		},
		{
			name: "temperature out of range",
			req: ChatRequest{
				Messages:    []Message{{Role: RoleUser, Content: "hi"}},
				Temperature: floatPtr(2.5),
			},
			wantParam: "temperature",
		},
		{
			name: "negative max_tokens",
			req: ChatRequest{
				Messages:  []Message{{Role: RoleUser, Content: "hi"}},
				MaxTokens: intPtr(-1),
			},
			wantParam: "max_tokens",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChatRequest(&tt.req)
			if tt.wantParam == "" {
				if err != nil {
					t.Fatalf("ValidateChatRequest() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("ValidateChatRequest() = nil, want error on param %q", tt.wantParam)
			}
			if err.Param != tt.wantParam {
				t.Errorf("Param = %q, want %q", err.Param, tt.wantParam)
			}
			if err.Type != ErrorTypeInvalidRequest {
				t.Errorf("Type = %q, want %q", err.Type, ErrorTypeInvalidRequest)
			}
		})
	}
}
