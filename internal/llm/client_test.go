package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChatParsesContent(t *testing.T) {
	var gotAuth string
	var gotReq Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Hola, ¿en qué ciudad buscas?"}}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "sk-test")
	resp, err := c.Chat(context.Background(), Request{
		Model:    "gpt-4o-mini",
		Messages: []Message{{Role: "user", Content: "hola"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "Hola, ¿en qué ciudad buscas?" {
		t.Errorf("content = %q", resp.Content)
	}
	if len(resp.ToolCalls) != 0 {
		t.Errorf("unexpected tool calls: %+v", resp.ToolCalls)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotReq.Model != "gpt-4o-mini" || len(gotReq.Messages) != 1 {
		t.Errorf("request = %+v", gotReq)
	}
}

func TestChatParsesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[
			{"id":"call-1","type":"function","function":{"name":"search_vacancies_tool","arguments":"{\"city\":\"San Pedro Sula\"}"}}
		]}}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	resp, err := c.Chat(context.Background(), Request{Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "call-1" || tc.Function.Name != "search_vacancies_tool" {
		t.Errorf("tool call = %+v", tc)
	}
}

func TestChatAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[],"error":{"message":"model overloaded"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k")
	if _, err := c.Chat(context.Background(), Request{Model: "m"}); err == nil {
		t.Fatal("api error accepted")
	}
}

func TestChatHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, "bad")
	if _, err := c.Chat(context.Background(), Request{Model: "m"}); err == nil {
		t.Fatal("401 accepted")
	}
}

func TestChatNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k")
	if _, err := c.Chat(context.Background(), Request{Model: "m"}); err == nil {
		t.Fatal("empty choices accepted")
	}
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("messages = %+v", req.Messages)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"sentiment\":\"neutral\"}"}}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k")
	out, err := c.Generate(context.Background(), "m", "analiza esta conversación")
	if err != nil {
		t.Fatal(err)
	}
	if out != `{"sentiment":"neutral"}` {
		t.Errorf("out = %q", out)
	}
}
