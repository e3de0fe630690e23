package chat

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/andy6609/direct-chat-server/internal/history"
	"github.com/andy6609/direct-chat-server/internal/mocks"
	"github.com/andy6609/direct-chat-server/internal/protocol"
)

var fixedNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.Local)

// peer is the client end of a session served over net.Pipe.
type peer struct {
	t    *testing.T
	raw  net.Conn
	conn *protocol.Conn
	done chan struct{}
}

func newTestRouter(t *testing.T, sink history.Sink) (*Router, *Registry) {
	t.Helper()
	reg := NewRegistry(nil)
	r := NewRouter(reg, sink, nil, 16)
	r.now = func() time.Time { return fixedNow }
	return r, reg
}

func connect(t *testing.T, r *Router, opts ...protocol.Option) *peer {
	t.Helper()
	clientEnd, serverEnd := net.Pipe()
	p := &peer{t: t, raw: clientEnd, conn: protocol.NewConn(clientEnd), done: make(chan struct{})}
	go func() {
		defer close(p.done)
		r.Serve(context.Background(), protocol.NewConn(serverEnd, opts...), "pipe")
	}()
	t.Cleanup(func() {
		_ = p.raw.Close()
		p.waitClosed()
	})
	return p
}

func (p *peer) send(e protocol.Envelope) {
	p.t.Helper()
	_ = p.raw.SetWriteDeadline(time.Now().Add(time.Second))
	require.NoError(p.t, p.conn.Send(e))
}

func (p *peer) receive() (protocol.Envelope, error) {
	_ = p.raw.SetReadDeadline(time.Now().Add(time.Second))
	return p.conn.Receive()
}

func (p *peer) expect(want protocol.Envelope) {
	p.t.Helper()
	got, err := p.receive()
	require.NoError(p.t, err)
	require.Equal(p.t, want, got)
}

func (p *peer) expectClosed() {
	p.t.Helper()
	_, err := p.receive()
	require.ErrorIs(p.t, err, protocol.ErrConnectionClosed)
	p.waitClosed()
}

func (p *peer) waitClosed() {
	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		p.t.Error("session did not end")
	}
}

func (p *peer) register(name string) {
	p.t.Helper()
	p.send(protocol.Register(name))
	p.expect(protocol.SystemNotice("Welcome " + name))
}

func TestRouter_DirectMessageIsDeliveredAndLogged(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	logged := make(chan history.Record, 1)
	sink.EXPECT().
		Append(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, r history.Record) error {
			logged <- r
			return nil
		}).
		Times(1)

	router, _ := newTestRouter(t, sink)
	alice := connect(t, router)
	bob := connect(t, router)

	// Given alice and bob are registered
	alice.register("alice")
	bob.register("bob")

	// When alice messages bob
	alice.send(protocol.DirectMessage("bob", "hi"))

	// Then bob receives it from alice
	bob.expect(protocol.Delivery("alice", "hi"))

	// And the chat log gains one record
	select {
	case r := <-logged:
		req.Equal("alice", r.From)
		req.Equal("bob", r.To)
		req.Equal("hi", r.Content)
		req.Equal(fixedNow, r.At)
	case <-time.After(time.Second):
		req.Fail("message was not logged")
	}
}

func TestRouter_DuplicateUsernameIsRejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	sink.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	router, reg := newTestRouter(t, sink)
	alice := connect(t, router)
	alice.register("alice")

	// When another client claims the same name
	impostor := connect(t, router)
	impostor.send(protocol.Register("alice"))

	// Then it is told so and disconnected
	impostor.expect(protocol.ErrorNotice("Username already taken"))
	impostor.expectClosed()

	// And alice still owns the name
	require.Equal(t, []string{"alice"}, reg.Usernames())
	bob := connect(t, router)
	bob.register("bob")
	bob.send(protocol.DirectMessage("alice", "still there?"))
	alice.expect(protocol.Delivery("bob", "still there?"))
}

func TestRouter_DisconnectReleasesUsername(t *testing.T) {
	req := require.New(t)
	router, reg := newTestRouter(t, mocks.NewMockSink(gomock.NewController(t)))
	alice := connect(t, router)
	bob := connect(t, router)
	alice.register("alice")
	bob.register("bob")

	// When alice drops her connection
	_ = alice.raw.Close()
	alice.waitClosed()

	// Then her name is gone
	_, ok := reg.Lookup("alice")
	req.False(ok)

	// And messages for her are reported as undeliverable
	bob.send(protocol.DirectMessage("alice", "hello?"))
	bob.expect(protocol.ErrorNotice("User alice not found"))
}

func TestRouter_MessageToUnknownUser(t *testing.T) {
	// No Append expected: nothing was routed
	router, reg := newTestRouter(t, mocks.NewMockSink(gomock.NewController(t)))
	alice := connect(t, router)
	alice.register("alice")
	before := reg.Usernames()

	alice.send(protocol.DirectMessage("ghost", "boo"))
	alice.expect(protocol.ErrorNotice("User ghost not found"))

	// Exactly one notice: the next reply belongs to the next request
	alice.send(protocol.ChatRequest("alice"))
	alice.expect(protocol.SystemNotice("Chat started with alice"))
	require.Equal(t, before, reg.Usernames())
}

func TestRouter_ChatRequest(t *testing.T) {
	router, _ := newTestRouter(t, mocks.NewMockSink(gomock.NewController(t)))
	alice := connect(t, router)
	bob := connect(t, router)
	alice.register("alice")
	bob.register("bob")

	alice.send(protocol.ChatRequest("bob"))
	alice.expect(protocol.SystemNotice("Chat started with bob"))

	alice.send(protocol.ChatRequest("carol"))
	alice.expect(protocol.ErrorNotice("User carol not found"))

	// bob was not notified: his next envelope is his own reply
	bob.send(protocol.ChatRequest("alice"))
	bob.expect(protocol.SystemNotice("Chat started with alice"))
}

func TestRouter_UnexpectedEnvelopeKeepsConnectionOpen(t *testing.T) {
	router, _ := newTestRouter(t, mocks.NewMockSink(gomock.NewController(t)))
	alice := connect(t, router)
	alice.register("alice")

	alice.send(protocol.Register("alice2"))
	alice.expect(protocol.ErrorNotice("Unexpected message"))

	alice.send(protocol.SystemNotice("spoofed"))
	alice.expect(protocol.ErrorNotice("Unexpected message"))

	alice.send(protocol.ChatRequest("alice"))
	alice.expect(protocol.SystemNotice("Chat started with alice"))
}

func TestRouter_FirstEnvelopeMustRegister(t *testing.T) {
	router, reg := newTestRouter(t, mocks.NewMockSink(gomock.NewController(t)))
	p := connect(t, router)

	p.send(protocol.ChatRequest("bob"))
	p.expectClosed()
	require.Zero(t, reg.Len())
}

func TestRouter_MalformedFirstFrameClosesConnection(t *testing.T) {
	router, reg := newTestRouter(t, mocks.NewMockSink(gomock.NewController(t)))
	p := connect(t, router)

	_ = p.raw.SetWriteDeadline(time.Now().Add(time.Second))
	_, err := p.raw.Write([]byte{0, 0, 0, 5, 'h', 'e', 'l', 'l', 'o'})
	require.NoError(t, err)
	p.expectClosed()
	require.Zero(t, reg.Len())
}

func TestRouter_MalformedFrameAfterRegistrationIsFatal(t *testing.T) {
	router, reg := newTestRouter(t, mocks.NewMockSink(gomock.NewController(t)))
	p := connect(t, router)
	p.register("alice")

	_ = p.raw.SetWriteDeadline(time.Now().Add(time.Second))
	_, err := p.raw.Write([]byte{0, 0, 0, 2, '{', '{'})
	require.NoError(t, err)
	p.expectClosed()

	_, ok := reg.Lookup("alice")
	require.False(t, ok)
}

func TestRouter_BareUsernameRegistration(t *testing.T) {
	router, _ := newTestRouter(t, mocks.NewMockSink(gomock.NewController(t)))
	p := connect(t, router)

	payload := `{"username":"alice"}`
	frame := append([]byte{0, 0, 0, byte(len(payload))}, payload...)
	_ = p.raw.SetWriteDeadline(time.Now().Add(time.Second))
	_, err := p.raw.Write(frame)
	require.NoError(t, err)
	p.expect(protocol.SystemNotice("Welcome alice"))
}

func TestRouter_FailedDeliveryIsReportedToSender(t *testing.T) {
	// No Append expected: the message never reached its target
	router, reg := newTestRouter(t, mocks.NewMockSink(gomock.NewController(t)))
	require.True(t, reg.TryRegister("ghost", &fakeSink{err: ErrSinkClosed}))

	alice := connect(t, router)
	alice.register("alice")
	alice.send(protocol.DirectMessage("ghost", "anyone?"))
	alice.expect(protocol.ErrorNotice("User ghost is unreachable"))

	// The target's entry is left for its own session to clean up
	_, ok := reg.Lookup("ghost")
	require.True(t, ok)
}

func TestRouter_HistoryFailureDoesNotBreakSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	sink.EXPECT().Append(gomock.Any(), gomock.Any()).Return(errors.New("disk full")).Times(2)

	router, _ := newTestRouter(t, sink)
	alice := connect(t, router)
	bob := connect(t, router)
	alice.register("alice")
	bob.register("bob")

	alice.send(protocol.DirectMessage("bob", "one"))
	bob.expect(protocol.Delivery("alice", "one"))
	alice.send(protocol.DirectMessage("bob", "two"))
	bob.expect(protocol.Delivery("alice", "two"))
}

func TestRouter_MessagesFromOneSenderKeepOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	sink.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil).Times(10)

	router, _ := newTestRouter(t, sink)
	alice := connect(t, router)
	bob := connect(t, router)
	alice.register("alice")
	bob.register("bob")

	contents := []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}
	_ = alice.raw.SetWriteDeadline(time.Now().Add(2 * time.Second))
	go func() {
		for _, c := range contents {
			_ = alice.conn.Send(protocol.DirectMessage("bob", c))
		}
	}()
	for _, c := range contents {
		bob.expect(protocol.Delivery("alice", c))
	}
}

func TestRouter_OversizedDeliveryIsRefusedForSender(t *testing.T) {
	req := require.New(t)
	// No Append expected: the message never reached its target
	router, reg := newTestRouter(t, mocks.NewMockSink(gomock.NewController(t)))
	router.maxFrameSize = 200
	sender := strings.Repeat("s", 40)

	// Given a sender whose name makes the delivery larger than its message
	long := connect(t, router, protocol.WithMaxFrameSize(200))
	bob := connect(t, router, protocol.WithMaxFrameSize(200))
	long.register(sender)
	bob.register("b")

	content := strings.Repeat("<", 151)
	payload, err := protocol.Marshal(protocol.DirectMessage("b", content))
	req.NoError(err)
	req.LessOrEqual(len(payload), 200)

	// When it sends a message that fits the inbound limit
	long.send(protocol.DirectMessage("b", content))

	// Then the sender is told and bob's session is untouched
	long.expect(protocol.ErrorNotice("Message to b is too large"))
	_, ok := reg.Lookup("b")
	req.True(ok)
	bob.send(protocol.ChatRequest(sender))
	bob.expect(protocol.SystemNotice("Chat started with " + sender))
}
