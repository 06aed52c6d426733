package chat_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/jacobsa/sysprog/chat"

	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"
)

func TestChat(t *testing.T) { RunTests(t) }

type ChatTest struct {
	server *chat.Server
}

func init() { RegisterTestSuite(&ChatTest{}) }

func (t *ChatTest) SetUp(ti *TestInfo) {
	t.server = chat.New()
	AssertEq(nil, t.server.Listen(0))
}

func (t *ChatTest) TearDown() {
	t.server.Close()
}

func (t *ChatTest) dial() *chat.Client {
	c := chat.NewClient()
	AssertEq(nil, c.Connect(fmt.Sprintf("127.0.0.1:%d", t.server.Port())))
	return c
}

func (t *ChatTest) TestPeerNamesItselfBeforeSendingMessages() {
	alice := t.dial()
	defer alice.Close()
	AssertEq(nil, alice.Feed([]byte("alice")))
	AssertEq(nil, alice.Feed([]byte("hello there")))

	deadline := time.Now().Add(2 * time.Second)
	var got chat.Message
	found := false
	for time.Now().Before(deadline) && !found {
		t.server.Update(20 * time.Millisecond)
		alice.Update(10 * time.Millisecond)
		if m, ok := t.server.PopNext(); ok {
			got = m
			found = true
		}
	}
	AssertTrue(found)
	ExpectEq("alice", got.Author)
	ExpectEq("hello there", string(got.Data))
}

func (t *ChatTest) TestServerRelaysLineToOtherPeerWithAuthorPrefix() {
	alice := t.dial()
	defer alice.Close()
	bob := t.dial()
	defer bob.Close()

	AssertEq(nil, alice.Feed([]byte("alice")))
	AssertEq(nil, bob.Feed([]byte("bob")))
	AssertEq(nil, alice.Feed([]byte("hi bob")))

	deadline := time.Now().Add(2 * time.Second)
	var got chat.Message
	found := false
	for time.Now().Before(deadline) && !found {
		t.server.Update(20 * time.Millisecond)
		alice.Update(10 * time.Millisecond)
		bob.Update(10 * time.Millisecond)
		if m, ok := bob.PopNext(); ok {
			got = m
			found = true
		}
	}
	AssertTrue(found)
	ExpectEq("alice", got.Author)
	ExpectEq("hi bob", string(got.Data))
}

func (t *ChatTest) TestFeedReplaysToLateJoiner() {
	AssertEq(nil, t.server.Feed([]byte("server is restarting soon")))

	late := t.dial()
	defer late.Close()

	deadline := time.Now().Add(2 * time.Second)
	var got chat.Message
	found := false
	for time.Now().Before(deadline) && !found {
		t.server.Update(20 * time.Millisecond)
		late.Update(10 * time.Millisecond)
		if m, ok := late.PopNext(); ok {
			got = m
			found = true
		}
	}
	AssertTrue(found)
	ExpectEq("server", got.Author)
	ExpectEq("server is restarting soon", string(got.Data))
}

func (t *ChatTest) TestEventsReportsOutputOnlyWhenPending() {
	ExpectEq(chat.EventInput, t.server.Events())

	AssertEq(nil, t.server.Feed([]byte("ping")))
	ExpectTrue(t.server.Events()&chat.EventOutput == 0) // no peers yet to owe output to
}

func (t *ChatTest) TestFeedBeforeAnyPeerJoinsLeavesEventsInputOnly() {
	second := chat.New()
	AssertEq(nil, second.Listen(0))
	defer second.Close()

	AssertEq(nil, second.Feed([]byte("hello")))
	ExpectThat(second.Events(), Equals(chat.EventInput))
}

func (t *ChatTest) TestDoubleListenFails() {
	err := t.server.Listen(0)
	ExpectThat(err, Error(HasSubstr("already started")))
}
