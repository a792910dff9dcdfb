package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/openrouter"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/qstash"
)

func TestHTTPHandlerPostsRequest(t *testing.T) {
	t.Parallel()

	var got contractx.ToolRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing auth header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		fmt.Fprint(w, `{"data":{"status":"shipped"}}`)
	}))
	t.Cleanup(server.Close)

	h, err := NewHTTPHandler(server.URL, "secret", server.Client())
	if err != nil {
		t.Fatalf("NewHTTPHandler() error = %v", err)
	}
	out, err := h.Execute(context.Background(), contractx.ToolRequest{
		ConversationID: "c1",
		ToolName:       ToolLiveInformation,
		Query:          "where is my order",
		Inputs:         map[string]string{SlotOrderID: "123422"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got.Inputs[SlotOrderID] != "123422" {
		t.Fatalf("inputs not forwarded: %+v", got)
	}
	data, _ := out["data"].(map[string]any)
	if data["status"] != "shipped" {
		t.Fatalf("payload = %v", out)
	}
}

func TestHTTPHandlerErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"not found", http.StatusNotFound, `{}`, contractx.ErrToolUnavailable},
		{"server error", http.StatusInternalServerError, `oops`, contractx.ErrToolExecution},
		{"error field", http.StatusOK, `{"error":"order not found"}`, contractx.ErrToolExecution},
		{"not json", http.StatusOK, `<html>`, contractx.ErrToolExecution},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			t.Cleanup(server.Close)

			h, _ := NewHTTPHandler(server.URL, "", server.Client())
			if _, err := h.Execute(context.Background(), contractx.ToolRequest{ToolName: "x"}); !errors.Is(err, tt.wantErr) {
				t.Fatalf("Execute() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

type fakePublisher struct {
	reqs []qstash.PublishRequest
	err  error
}

func (f *fakePublisher) Publish(ctx context.Context, req qstash.PublishRequest) (qstash.PublishResponse, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return qstash.PublishResponse{}, f.err
	}
	return qstash.PublishResponse{MessageID: "msg_1"}, nil
}

func TestQStashHandlerUsesCommitmentIDForDedup(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	h, err := NewQStashHandler(pub, "https://tickets.example.com/hook")
	if err != nil {
		t.Fatalf("NewQStashHandler() error = %v", err)
	}

	out, err := h.Execute(context.Background(), contractx.ToolRequest{
		ConversationID: "c1",
		CommitmentID:   "offer-7",
		ToolName:       ToolRaiseTicket,
		Query:          "damaged item",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out["reference"] != "offer-7" || out["message_id"] != "msg_1" {
		t.Fatalf("payload = %v", out)
	}
	if out["status"] != "queued" {
		t.Fatalf("status = %v, want queued", out["status"])
	}
	if _, ok := out["ticket_id"]; ok {
		t.Fatalf("dispatch must not claim a ticket number: %v", out)
	}
	if len(pub.reqs) != 1 || pub.reqs[0].DeduplicationID != "c1:offer-7" {
		t.Fatalf("publish requests = %+v", pub.reqs)
	}

	pub.err = errors.New("quota")
	if _, err := h.Execute(context.Background(), contractx.ToolRequest{ToolName: ToolAssignAgent}); !errors.Is(err, contractx.ErrToolExecution) {
		t.Fatalf("Execute() error = %v, want ErrToolExecution", err)
	}
}

func TestVisionHandlerParsesFencedJSON(t *testing.T) {
	t.Parallel()

	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)

		content := "```json\n{\"analysis\":{\"damage_detected\":true,\"severity\":\"moderate\"},\"ai_detection\":{\"is_ai_generated\":false}}\n```"
		encoded, _ := json.Marshal(content)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"x","object":"chat.completion","created":1,"model":"vision","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":%s}}]}`, encoded)
	}))
	t.Cleanup(server.Close)

	client := openrouter.NewClient(openrouter.Config{APIKey: "k", BaseURL: server.URL, Model: "vision"})
	h, err := NewVisionHandler(client, "vision")
	if err != nil {
		t.Fatalf("NewVisionHandler() error = %v", err)
	}

	out, err := h.Execute(context.Background(), contractx.ToolRequest{
		ToolName: ToolImageAnalysis,
		Query:    "is the mug broken",
		Inputs:   map[string]string{SlotPhotoReference: "https://cdn.example.com/p.jpg"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	analysis, _ := out["analysis"].(map[string]any)
	if analysis["damage_detected"] != true {
		t.Fatalf("payload = %v", out)
	}
	if !strings.Contains(gotBody, "https://cdn.example.com/p.jpg") {
		t.Fatalf("image url not sent: %s", gotBody)
	}

	if _, err := h.Execute(context.Background(), contractx.ToolRequest{ToolName: ToolImageAnalysis}); !errors.Is(err, contractx.ErrToolExecution) {
		t.Fatalf("missing photo error = %v", err)
	}
}
