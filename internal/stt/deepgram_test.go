package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestStreamURL(t *testing.T) {
	u, err := url.Parse(DeepgramConfig{Model: "nova-3", Language: "en-US", Punctuate: true, Endpointing: 300}.StreamURL())
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	for k, want := range map[string]string{"model": "nova-3", "language": "en-US", "punctuate": "true", "interim_results": "true", "vad_events": "true", "endpointing": "300"} {
		if got := q.Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
	if q.Has("encoding") || q.Has("sample_rate") {
		t.Error("containerized audio should not set encoding")
	}

	raw := DeepgramConfig{Encoding: "linear16", SampleRate: 16000}.StreamURL()
	if !strings.Contains(raw, "encoding=linear16") || !strings.Contains(raw, "sample_rate=16000") {
		t.Errorf("url = %q", raw)
	}
}

func TestDeepgramClient(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotAudio := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token dg-key" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"SpeechStarted"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Metadata"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"hello world","confidence":0.97}]}}`))
		_, msg, err := conn.ReadMessage()
		if err == nil {
			gotAudio <- msg
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cfg := DeepgramConfig{APIKey: "dg-key", URL: "ws" + strings.TrimPrefix(srv.URL, "http")}
	client, err := DeepgramDialer(cfg)(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	first := <-client.Results()
	if !first.SpeechStarted {
		t.Errorf("first result = %+v, want SpeechStarted", first)
	}
	second := <-client.Results()
	if second.Text != "hello world" || !second.IsFinal || !second.SpeechFinal {
		t.Errorf("second result = %+v", second)
	}

	if err := client.StreamAudio(context.Background(), []byte{1, 2, 3}); err != nil {
		t.Fatalf("StreamAudio: %v", err)
	}
	select {
	case msg := <-gotAudio:
		if len(msg) != 3 {
			t.Errorf("server got %d bytes", len(msg))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive audio")
	}

	if err := client.Close(); err != nil {
		t.Logf("Close: %v", err)
	}
	_ = client.Close()
	if err := client.StreamAudio(context.Background(), []byte{1}); err == nil {
		t.Error("StreamAudio after Close should fail")
	}
}
