package cmd

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/fluxorio/appbridge/pkg/bus"
	"github.com/fluxorio/appbridge/pkg/core"
	"github.com/fluxorio/appbridge/pkg/lifecycle"
)

type fakeManager struct {
	sent  []string
	acked []string
}

func (f *fakeManager) Registered() []string { return []string{"com.example.a", "com.example.b"} }

func (f *fakeManager) Acknowledge(appID string) error {
	f.acked = append(f.acked, appID)
	return nil
}

func (f *fakeManager) Notify(appID string, e lifecycle.Event) error {
	if appID == "com.example.missing" {
		return core.ErrServiceNotFound
	}
	body, err := lifecycle.Encode(e)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, appID+" "+body)
	return nil
}

func (f *fakeManager) NotifyRaw(appID, body string) error {
	f.sent = append(f.sent, appID+" "+body)
	return nil
}

func (f *fakeManager) HandleEvent(appID string, e lifecycle.Event, onReply bus.ReplyHandler) error {
	f.sent = append(f.sent, "call "+appID+" "+e.Kind())
	onReply(context.Background(), replyMessage(`{"returnValue":true}`))
	return nil
}

type replyMessage string

func (m replyMessage) ID() string           { return "1" }
func (m replyMessage) Payload() string      { return string(m) }
func (m replyMessage) Sender() string       { return "com.example.a" }
func (m replyMessage) Method() string       { return "/handleEvent" }
func (m replyMessage) Reply(_ string) error { return errors.New("no reply address") }

func TestConsole(t *testing.T) {
	f := &fakeManager{}
	var out bytes.Buffer
	c := &console{manager: f, out: &out, logger: core.NewNopLogger()}

	input := strings.Join([]string{
		"# comment",
		"list",
		"activate com.example.a",
		"relaunch com.example.a a=1 b=2",
		"lowmemory com.example.a critical",
		"suspending com.example.b",
		"call deactivate com.example.a",
		`raw com.example.b {"event":"custom"}`,
		"ack com.example.b",
		"lowmemory com.example.a huge",
		"activate",
		"activate com.example.missing",
		"explode com.example.a",
		"",
	}, "\n")
	c.run(context.Background(), strings.NewReader(input))

	wantSent := []string{
		`com.example.a {"event":"activating"}`,
		`com.example.a {"event":"relaunched","parameters":"a=1 b=2"}`,
		`com.example.a {"event":"lowmemory","state":"critical"}`,
		`com.example.b {"event":"suspending"}`,
		"call com.example.a deactivating",
		`com.example.b {"event":"custom"}`,
	}
	if !reflect.DeepEqual(f.sent, wantSent) {
		t.Errorf("sent = %v\nwant %v", f.sent, wantSent)
	}
	if !reflect.DeepEqual(f.acked, []string{"com.example.b"}) {
		t.Errorf("acked = %v", f.acked)
	}

	got := out.String()
	for _, want := range []string{
		"com.example.a\ncom.example.b\n",
		`com.example.a replied {"returnValue":true}`,
		`error: unknown memory state "huge"`,
		"error: usage: activate <appId>",
		"error: service does not exist",
		`error: unknown command "explode"`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}
