package sms

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sent struct {
	to, subject, body string
}

type recordingProvider struct {
	fail map[string]bool
	sent []sent
}

func (r *recordingProvider) Send(_ context.Context, to, subject, body string) error {
	if r.fail[to] {
		return errors.New("carrier rejected")
	}
	r.sent = append(r.sent, sent{to, subject, body})
	return nil
}

func TestSendToTopicAttemptsEverySubscriber(t *testing.T) {
	p := &recordingProvider{fail: map[string]bool{"+2": true}}
	s := New(p, []Subscriber{
		{Provider: p, Address: "+1"},
		{Provider: p, Address: "+2"},
		{Provider: p, Address: "+3"},
	}, testLogger())

	err := s.SendToTopic(context.Background(), "Flight Hunter Alert", "deal!")
	if err == nil || !strings.Contains(err.Error(), "+2") {
		t.Errorf("SendToTopic() error = %v, want failure naming +2", err)
	}
	if len(p.sent) != 2 || p.sent[0].to != "+1" || p.sent[1].to != "+3" {
		t.Errorf("sent = %+v, want +1 and +3", p.sent)
	}
	if p.sent[0].subject != "Flight Hunter Alert" || p.sent[0].body != "deal!" {
		t.Errorf("sent[0] = %+v", p.sent[0])
	}
}

func TestSendToTopicNoSubscribers(t *testing.T) {
	s := New(&recordingProvider{}, nil, testLogger())
	if err := s.SendToTopic(context.Background(), "s", "b"); err != nil {
		t.Errorf("SendToTopic() error = %v, want nil", err)
	}
}

func TestSendToContact(t *testing.T) {
	p := &recordingProvider{}
	s := New(p, nil, testLogger())

	if err := s.SendToContact(context.Background(), "+15555550100", "code 123456"); err != nil {
		t.Fatalf("SendToContact() error = %v", err)
	}
	if len(p.sent) != 1 || p.sent[0].to != "+15555550100" || p.sent[0].body != "code 123456" {
		t.Errorf("sent = %+v", p.sent)
	}
}

func TestParseSubscribers(t *testing.T) {
	smsP := &recordingProvider{}
	emailP := &recordingProvider{}

	subs := ParseSubscribers(" +15555550100, admin@example.com,, +15555550101 ", smsP, emailP, testLogger())
	if len(subs) != 3 {
		t.Fatalf("ParseSubscribers() returned %d, want 3", len(subs))
	}
	if subs[0].Address != "+15555550100" || subs[0].Provider != smsP {
		t.Errorf("subs[0] = %+v", subs[0])
	}
	if subs[1].Address != "admin@example.com" || subs[1].Provider != emailP {
		t.Errorf("subs[1] = %+v", subs[1])
	}

	subs = ParseSubscribers("admin@example.com,+1", smsP, nil, testLogger())
	if len(subs) != 1 || subs[0].Address != "+1" {
		t.Errorf("ParseSubscribers() without email provider = %+v", subs)
	}
}

func TestTwilioSend(t *testing.T) {
	var gotPath, gotUser, gotPass string
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotForm = r.PostForm
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	p := NewTwilioProvider("AC123", "token", "+15550000000", testLogger())
	p.baseURL = srv.URL

	if err := p.Send(context.Background(), "+15555550100", "ignored", "hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gotPath != "/2010-04-01/Accounts/AC123/Messages.json" {
		t.Errorf("path = %q", gotPath)
	}
	if gotUser != "AC123" || gotPass != "token" {
		t.Errorf("basic auth = %q/%q", gotUser, gotPass)
	}
	if gotForm.Get("To") != "+15555550100" || gotForm.Get("From") != "+15550000000" || gotForm.Get("Body") != "hello" {
		t.Errorf("form = %v", gotForm)
	}
}

func TestTwilioClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"code":21211,"message":"Invalid 'To' Phone Number"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewTwilioProvider("AC123", "token", "+15550000000", testLogger())
	p.baseURL = srv.URL

	err := p.Send(context.Background(), "not-a-number", "", "hello")
	if err == nil || !strings.Contains(err.Error(), "21211") {
		t.Errorf("Send() error = %v, want Twilio error body", err)
	}
	if calls.Load() != 1 {
		t.Errorf("server called %d times, want 1", calls.Load())
	}
}

func TestMIMEMessage(t *testing.T) {
	msg := mimeMessage("admin@example.com\r\nBcc: evil@example.com", "Flight Hunter Alert", "IAD -> BLR $450")

	if !strings.Contains(msg, "MIME-Version: 1.0") {
		t.Error("MIME message missing version header")
	}
	if !strings.Contains(msg, "To: admin@example.comBcc: evil@example.com\r\n") {
		t.Error("MIME message To header not sanitized")
	}
	if !strings.Contains(msg, "Subject: Flight Hunter Alert") {
		t.Error("MIME message missing Subject header")
	}
	if !strings.Contains(msg, "Content-Type: text/plain") {
		t.Error("MIME message missing content type")
	}
	if !strings.HasSuffix(msg, "\r\n\r\nIAD -> BLR $450") {
		t.Error("MIME message missing body")
	}
}

func TestBrevoSend(t *testing.T) {
	var gotKey string
	var got brevoSMSRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/transactionalSMS/sms" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotKey = r.Header.Get("api-key")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	p := NewBrevoProvider("xkeysib-1", "FlightHunt", testLogger())
	p.baseURL = srv.URL

	if err := p.Send(context.Background(), "+15555550100", "ignored", "hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gotKey != "xkeysib-1" {
		t.Errorf("api-key = %q", gotKey)
	}
	want := brevoSMSRequest{Sender: "FlightHunt", Recipient: "+15555550100", Content: "hello", Type: "transactional"}
	if got != want {
		t.Errorf("request = %+v, want %+v", got, want)
	}
}

func TestBrevoRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	p := NewBrevoProvider("key", "FlightHunt", testLogger())
	p.baseURL = srv.URL

	if err := p.Send(context.Background(), "+15555550100", "", "hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("server called %d times, want 2", calls.Load())
	}
}

func TestBrevoBadRequestNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewBrevoProvider("key", "FlightHunt", testLogger())
	p.baseURL = srv.URL

	if err := p.Send(context.Background(), "bogus", "", "hello"); err == nil {
		t.Error("Send() expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("server called %d times, want 1", calls.Load())
	}
}
