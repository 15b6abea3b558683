package chat

import (
	"errors"
	"reflect"
	"testing"

	"github.com/onnwee/ghostlog/record"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Event
	}{
		{
			name: "privmsg with tags",
			line: "@badge-info=;color=#FF0000;display-name=Alice;id=abc;emotes= :alice!alice@alice.tmi.twitch.tv PRIVMSG #foo :hello there :)\r\n",
			want: Event{
				Command: "PRIVMSG",
				Params:  []string{"#foo", "hello there :)"},
				Tags: []record.Tag{
					{Key: "badge-info"}, {Key: "color", Value: "#FF0000"}, {Key: "display-name", Value: "Alice"},
					{Key: "id", Value: "abc"}, {Key: "emotes"},
				},
				Prefix: &Prefix{Raw: "alice!alice@alice.tmi.twitch.tv", Nick: "alice", User: "alice", Host: "alice.tmi.twitch.tv"},
			},
		},
		{
			name: "clearchat channel wide",
			line: "@room-id=1;tmi-sent-ts=2 :tmi.twitch.tv CLEARCHAT #foo",
			want: Event{
				Command: "CLEARCHAT",
				Params:  []string{"#foo"},
				Tags:    []record.Tag{{Key: "room-id", Value: "1"}, {Key: "tmi-sent-ts", Value: "2"}},
				Prefix:  &Prefix{Raw: "tmi.twitch.tv", Host: "tmi.twitch.tv"},
			},
		},
		{
			name: "no prefix no tags",
			line: "PING :tmi.twitch.tv",
			want: Event{Command: "PING", Params: []string{"tmi.twitch.tv"}},
		},
		{
			name: "flag tag and escapes",
			line: `@system-msg=a\sb\:c\\d\ne;flag :x USERNOTICE #foo`,
			want: Event{
				Command: "USERNOTICE",
				Params:  []string{"#foo"},
				Tags:    []record.Tag{{Key: "system-msg", Value: "a b;c\\d\ne"}, {Key: "flag"}},
				Prefix:  &Prefix{Raw: "x", Nick: "x"},
			},
		},
		{
			name: "empty trailing",
			line: ":tmi.twitch.tv CLEARCHAT #foo :",
			want: Event{Command: "CLEARCHAT", Params: []string{"#foo", ""}, Prefix: &Prefix{Raw: "tmi.twitch.tv", Host: "tmi.twitch.tv"}},
		},
		{
			name: "lowercase command",
			line: "privmsg #foo bar",
			want: Event{Command: "PRIVMSG", Params: []string{"#foo", "bar"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLine(tt.line)
			if err != nil {
				t.Fatalf("ParseLine: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ParseLine = %#v\nwant %#v", got, tt.want)
			}
		})
	}
}

func TestParseLineErrors(t *testing.T) {
	for _, line := range []string{"", "@a=b", ":prefix", "@a=b :prefix", "   "} {
		if _, err := ParseLine(line); !errors.Is(err, ErrInvalidLine) {
			t.Errorf("ParseLine(%q) err = %v, want ErrInvalidLine", line, err)
		}
	}
}

func mustParse(t *testing.T, line string) Event {
	t.Helper()
	ev, err := ParseLine(line)
	if err != nil {
		t.Fatalf("ParseLine(%q): %v", line, err)
	}
	return ev
}

func TestClassifyPersisted(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		channel string
		encoded string
	}{
		{
			name:    "privmsg",
			line:    "@id=1 :alice!alice@alice.tmi.twitch.tv PRIVMSG #foo :hello",
			channel: "#foo",
			encoded: `PRIVMSG(sender:"alice",message:"hello",tags:{"id":"1"})`,
		},
		{
			name:    "privmsg without prefix",
			line:    "PRIVMSG #foo :hello",
			channel: "#foo",
			encoded: `PRIVMSG(sender:"???",message:"hello",tags:{})`,
		},
		{
			name:    "privmsg from server",
			line:    ":tmi.twitch.tv PRIVMSG #foo :hello",
			channel: "#foo",
			encoded: `PRIVMSG(sender:"???",message:"hello",tags:{})`,
		},
		{
			name:    "clearchat",
			line:    ":tmi.twitch.tv CLEARCHAT #foo",
			channel: "#foo",
			encoded: `CLEARCHAT(tags:{})`,
		},
		{
			name:    "clearchat user",
			line:    ":tmi.twitch.tv CLEARCHAT #foo :bob",
			channel: "#foo",
			encoded: `CLEARCHAT(user:"bob",tags:{})`,
		},
		{
			name:    "clearmsg",
			line:    "@login=bob;target-msg-id=xyz :tmi.twitch.tv CLEARMSG #foo :bad words",
			channel: "#foo",
			encoded: `CLEARMSG(message:"bad words",tags:{"login":"bob","target-msg-id":"xyz"})`,
		},
		{
			name:    "roomstate",
			line:    "@emote-only=0;slow=10 :tmi.twitch.tv ROOMSTATE #foo",
			channel: "#foo",
			encoded: `ROOMSTATE(tags:{"emote-only":"0","slow":"10"})`,
		},
		{
			name:    "usernotice with message",
			line:    "@msg-id=resub :tmi.twitch.tv USERNOTICE #bar :great stream",
			channel: "#bar",
			encoded: `USERNOTICE(tags:{"msg-id":"resub"})`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Classify(mustParse(t, tt.line))
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if c.Action != ActionPersist || c.Channel != tt.channel {
				t.Fatalf("classification = %v on %q, want persist on %q", c.Action, c.Channel, tt.channel)
			}
			if got := record.Encode(c.Record); got != tt.encoded {
				t.Fatalf("record = %s, want %s", got, tt.encoded)
			}
		})
	}
}

func TestClassifyMalformed(t *testing.T) {
	tests := []Event{
		{Command: "CLEARCHAT"},
		{Command: "CLEARCHAT", Params: []string{"#foo", "bob", "extra"}},
		{Command: "CLEARMSG", Params: []string{"#foo"}},
		{Command: "CLEARMSG", Params: []string{"#foo", "id", "extra"}},
		{Command: "PRIVMSG", Params: []string{"#foo"}},
		{Command: "ROOMSTATE"},
		{Command: "USERNOTICE"},
	}
	for _, ev := range tests {
		t.Run(ev.Command, func(t *testing.T) {
			c, err := Classify(ev)
			if !errors.Is(err, ErrMalformedEvent) {
				t.Fatalf("Classify(%v) err = %v, want ErrMalformedEvent", ev, err)
			}
			if c.Record != nil {
				t.Fatalf("malformed event produced a record: %#v", c.Record)
			}
		})
	}
}

func TestClassifyPrintOnly(t *testing.T) {
	for _, line := range []string{
		":tmi.twitch.tv 001 justinfan123 :Welcome, GLHF!",
		"@msg-id=slow_on :tmi.twitch.tv NOTICE #foo :This room is now in slow mode.",
		":justinfan123!justinfan123@justinfan123.tmi.twitch.tv JOIN #foo",
		":tmi.twitch.tv USERSTATE #foo",
		":tmi.twitch.tv RECONNECT",
	} {
		c, err := Classify(mustParse(t, line))
		if err != nil {
			t.Fatalf("Classify(%q): %v", line, err)
		}
		if c.Action != ActionPrint || c.Record != nil {
			t.Fatalf("Classify(%q) = %+v, want print only", line, c)
		}
	}
}

func TestBareNames(t *testing.T) {
	got := bareNames([]string{"#foo", "bar"})
	if !reflect.DeepEqual(got, []string{"foo", "bar"}) {
		t.Fatalf("bareNames = %v", got)
	}
}
