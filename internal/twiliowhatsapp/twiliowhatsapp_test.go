package twiliowhatsapp

import (
	"context"
	"errors"
	"testing"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeAPI struct {
	params []*twilioApi.CreateMessageParams
	err    error
}

func (f *fakeAPI) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestClient_SendMessage_Channels(t *testing.T) {
	tests := []struct {
		channel  Channel
		wantTo   string
		wantFrom string
	}{
		{ChannelSMS, "+15550002", "+15550001"},
		{ChannelWhatsApp, "whatsapp:+15550002", "whatsapp:+15550001"},
	}
	for _, tt := range tests {
		t.Run(string(tt.channel), func(t *testing.T) {
			api := &fakeAPI{}
			c := &Client{api: api, from: "+15550001", channel: tt.channel}
			if err := c.SendMessage(context.Background(), "+15550002", "Your consent was approved"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(api.params) != 1 {
				t.Fatalf("expected one API call, got %d", len(api.params))
			}
			p := api.params[0]
			if *p.To != tt.wantTo || *p.From != tt.wantFrom {
				t.Errorf("got to=%s from=%s, want to=%s from=%s", *p.To, *p.From, tt.wantTo, tt.wantFrom)
			}
			if *p.Body != "Your consent was approved" {
				t.Errorf("unexpected body %q", *p.Body)
			}
		})
	}
}

func TestClient_SendMessage_Error(t *testing.T) {
	c := &Client{api: &fakeAPI{err: errors.New("20003 auth")}, from: "+1", channel: ChannelSMS}
	if err := c.SendMessage(context.Background(), "+2", "hi"); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewClient_Validation(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok")); err == nil {
		t.Error("expected error without from number")
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok"), WithFrom("+1"), WithChannel("fax")); err == nil {
		t.Error("expected error for unknown channel")
	}
	c, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok"), WithFrom("+1"), WithChannel(ChannelWhatsApp))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.channel != ChannelWhatsApp {
		t.Errorf("expected whatsapp channel, got %s", c.channel)
	}
}

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	if err := mock.SendMessage(ctx, "12345", "Hello Test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := mock.Sent()
	if len(sent) != 1 || sent[0].Body != "Hello Test" {
		t.Fatalf("unexpected messages %+v", sent)
	}

	mock.Err = errors.New("down")
	if err := mock.SendMessage(ctx, "12345", "again"); err == nil {
		t.Error("expected configured error")
	}
}
