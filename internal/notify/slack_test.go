package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/linnemanlabs/aegis/internal/fault"
)

func TestSlackSenderPostsAttachment(t *testing.T) {
	t.Parallel()

	var payload struct {
		Attachments []struct {
			Color string `json:"color"`
			Title string `json:"title"`
			Text  string `json:"text"`
		} `json:"attachments"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSlackSender(srv.URL)
	id, err := s.Send(context.Background(), &Request{
		DeliveryID: "d-1",
		IncidentID: "INC-1",
		Type:       TypeSlack,
		Priority:   PriorityCritical,
		Subject:    "db down",
		Body:       "primary unreachable",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id == "" {
		t.Fatal("empty message id")
	}
	if len(payload.Attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(payload.Attachments))
	}
	att := payload.Attachments[0]
	if att.Color != "#FF0000" {
		t.Fatalf("critical color = %q, want #FF0000", att.Color)
	}
	if att.Title != "db down" || att.Text != "primary unreachable" {
		t.Fatalf("unexpected attachment: %+v", att)
	}
}

func TestSlackColorByPriority(t *testing.T) {
	t.Parallel()

	cases := map[Priority]string{
		PriorityCritical: "#FF0000",
		PriorityHigh:     "#FF9900",
		PriorityNormal:   "#FFCC00",
		PriorityLow:      "#00CC00",
	}
	for pri, want := range cases {
		if got := slackColor(pri); got != want {
			t.Errorf("slackColor(%s) = %q, want %q", pri, got, want)
		}
	}
}

func TestSlackSenderSurfacesWebhookErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewSlackSender(srv.URL)
	_, err := s.Send(context.Background(), &Request{DeliveryID: "d-1", Type: TypeSlack, Subject: "s"})
	if !fault.IsExternal(err) {
		t.Fatalf("error kind = %v, want external", fault.KindOf(err))
	}
}

