package session

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aqual-ai/aqual-gateway/pkg/core/realtime"
	"github.com/aqual-ai/aqual-gateway/pkg/gateway/live/protocol"
	"github.com/aqual-ai/aqual-gateway/pkg/gateway/live/sessions"
)

type readFrame struct {
	mt   int
	data []byte
}

type fakeConn struct {
	mu      sync.Mutex
	written []any
	reads   chan readFrame
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan readFrame, 64)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	fr, ok := <-c.reads
	if !ok {
		return 0, nil, io.EOF
	}
	return fr.mt, fr.data, nil
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	c.written = append(c.written, v)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) sendText(s string) {
	c.reads <- readFrame{mt: websocket.TextMessage, data: []byte(s)}
}

func (c *fakeConn) sendBinary(b []byte) {
	c.reads <- readFrame{mt: websocket.BinaryMessage, data: b}
}

func (c *fakeConn) endClient() { close(c.reads) }

func (c *fakeConn) statusCount(state string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.written {
		if st, ok := v.(protocol.ServerStatus); ok && st.State == state {
			n++
		}
	}
	return n
}

func (c *fakeConn) lastStatus(state string) (protocol.ServerStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out protocol.ServerStatus
	found := false
	for _, v := range c.written {
		if st, ok := v.(protocol.ServerStatus); ok && st.State == state {
			out = st
			found = true
		}
	}
	return out, found
}

func (c *fakeConn) turnResults() []protocol.ServerTurnResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.ServerTurnResult
	for _, v := range c.written {
		if tr, ok := v.(protocol.ServerTurnResult); ok {
			out = append(out, tr)
		}
	}
	return out
}

func (c *fakeConn) audioChunks() []protocol.ServerAudioChunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.ServerAudioChunk
	for _, v := range c.written {
		if ch, ok := v.(protocol.ServerAudioChunk); ok {
			out = append(out, ch)
		}
	}
	return out
}

func (c *fakeConn) inputTranscripts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, v := range c.written {
		if tr, ok := v.(protocol.ServerInputTranscript); ok {
			out = append(out, tr.Text)
		}
	}
	return out
}

func (c *fakeConn) pongCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.written {
		if _, ok := v.(protocol.ServerPong); ok {
			n++
		}
	}
	return n
}

type fakeRemote struct {
	events    chan realtime.Event
	closedCh  chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	audio [][]byte
	media [][]byte
	texts []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		events:   make(chan realtime.Event, 64),
		closedCh: make(chan struct{}),
	}
}

func (r *fakeRemote) emit(ev realtime.Event) { r.events <- ev }

// drop simulates the remote side going away.
func (r *fakeRemote) drop() {
	r.closeOnce.Do(func() { close(r.closedCh) })
}

func (r *fakeRemote) SendAudio(ctx context.Context, pcm []byte, mimeType string) error {
	r.mu.Lock()
	r.audio = append(r.audio, pcm)
	r.mu.Unlock()
	return nil
}

func (r *fakeRemote) SendMedia(ctx context.Context, data []byte, mimeType string) error {
	r.mu.Lock()
	r.media = append(r.media, data)
	r.mu.Unlock()
	return nil
}

func (r *fakeRemote) SendText(ctx context.Context, text string) error {
	r.mu.Lock()
	r.texts = append(r.texts, text)
	r.mu.Unlock()
	return nil
}

func (r *fakeRemote) SendActivityStart(ctx context.Context) error { return nil }
func (r *fakeRemote) SendActivityEnd(ctx context.Context) error   { return nil }

func (r *fakeRemote) Receive(ctx context.Context) (realtime.Event, error) {
	select {
	case ev := <-r.events:
		return ev, nil
	case <-r.closedCh:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *fakeRemote) Close() error {
	r.drop()
	return nil
}

func (r *fakeRemote) audioCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.audio)
}

func (r *fakeRemote) mediaCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.media)
}

func (r *fakeRemote) textCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.texts)
}

type fakeDialer struct {
	mu       sync.Mutex
	failures int
	dials    int
	opts     []realtime.DialOptions
	sessions []*fakeRemote
}

func (d *fakeDialer) Dial(ctx context.Context, opts realtime.DialOptions) (realtime.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.opts = append(d.opts, opts)
	if d.dials <= d.failures {
		return nil, errors.New("dial refused")
	}
	rs := newFakeRemote()
	d.sessions = append(d.sessions, rs)
	return rs, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) session(i int) *fakeRemote {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[i]
}

func (d *fakeDialer) dialOpts(i int) realtime.DialOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts[i]
}

// failNext makes the next n dials fail.
func (d *fakeDialer) failNext(n int) {
	d.mu.Lock()
	d.failures = d.dials + n
	d.mu.Unlock()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func loudPCM() []byte {
	pcm := make([]byte, 32)
	binary.LittleEndian.PutUint16(pcm[4:6], uint16(int16(8000)))
	return pcm
}

func testConfig() Config {
	return Config{
		Model:     "m-live",
		ReadPoll:  5 * time.Millisecond,
		StopGrace: 200 * time.Millisecond,
	}
}

func startSupervisor(t *testing.T, conn *fakeConn, d *fakeDialer, store *sessions.Store, claim *sessions.Claim) chan error {
	t.Helper()
	sup, err := New(Dependencies{
		Conn:   conn,
		Dialer: d,
		Store:  store,
		Claim:  claim,
		Config: testConfig(),
	})
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- sup.Run(context.Background()) }()
	return done
}

func waitDone(t *testing.T, done chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("supervisor did not stop")
		return nil
	}
}

func TestSupervisor_FullTurn(t *testing.T) {
	reg := sessions.NewRegistry()
	claim := reg.Claim("default", nil)
	store := sessions.NewStore(0, 0, nil)
	conn := newFakeConn()
	d := &fakeDialer{}

	done := startSupervisor(t, conn, d, store, claim)
	waitFor(t, "dial", func() bool { return d.dialCount() == 1 })
	rs := d.session(0)

	conn.sendBinary(loudPCM())
	waitFor(t, "audio forwarded", func() bool { return rs.audioCount() == 1 })

	rs.emit(realtime.ActivityStart{})
	rs.emit(realtime.InputTranscript{Text: "what is"})
	rs.emit(realtime.InputTranscript{Text: " this"})
	rs.emit(realtime.OutputText{Text: "An example page."})
	rs.emit(realtime.OutputAudio{Data: []byte{1, 2, 3}, MIMEType: "audio/pcm;rate=24000"})
	rs.emit(realtime.TurnComplete{})
	waitFor(t, "turn result", func() bool { return len(conn.turnResults()) == 1 })

	conn.sendText(`{"type":"stop"}`)
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run error = %v", err)
	}

	tr := conn.turnResults()[0]
	if tr.TurnID != 1 || tr.Answer != "An example page." || tr.Model != "m-live" {
		t.Fatalf("turn_result = %+v", tr)
	}

	chunks := conn.audioChunks()
	if len(chunks) != 1 {
		t.Fatalf("audio chunks = %d, want 1", len(chunks))
	}
	if chunks[0].TurnID != 1 {
		t.Fatalf("chunk turnId=%d, want 1 (streamed under the finalized id)", chunks[0].TurnID)
	}
	if chunks[0].AudioBase64 != base64.StdEncoding.EncodeToString([]byte{1, 2, 3}) {
		t.Fatalf("chunk audio=%q", chunks[0].AudioBase64)
	}

	transcripts := conn.inputTranscripts()
	if len(transcripts) != 2 || transcripts[1] != "what is this" {
		t.Fatalf("input transcripts = %v", transcripts)
	}

	if got := conn.statusCount(protocol.StatusResponding); got != 1 {
		t.Fatalf("responding emitted %d times, want once", got)
	}
	if conn.statusCount(protocol.StatusConnecting) != 1 {
		t.Fatalf("missing connecting status")
	}
	if conn.statusCount(protocol.StatusReady) != 1 {
		t.Fatalf("missing ready status")
	}
}

func TestSupervisor_PhantomTurnDiscarded(t *testing.T) {
	reg := sessions.NewRegistry()
	claim := reg.Claim("default", nil)
	conn := newFakeConn()
	d := &fakeDialer{}

	done := startSupervisor(t, conn, d, sessions.NewStore(0, 0, nil), claim)
	waitFor(t, "dial", func() bool { return d.dialCount() == 1 })
	rs := d.session(0)

	// Model output with no speech evidence at all: a phantom turn.
	rs.emit(realtime.OutputText{Text: "ghost answer"})
	rs.emit(realtime.TurnComplete{})

	// listening is re-emitted after the discard (connect emits the
	// first one).
	waitFor(t, "listening re-emitted", func() bool {
		return conn.statusCount(protocol.StatusListening) >= 2
	})
	if got := conn.turnResults(); len(got) != 0 {
		t.Fatalf("phantom turn produced a result: %+v", got)
	}

	// A real turn afterwards takes id 1: discards consume no ids.
	rs.emit(realtime.ActivityStart{})
	rs.emit(realtime.OutputText{Text: "real answer"})
	rs.emit(realtime.TurnComplete{})
	waitFor(t, "real turn result", func() bool { return len(conn.turnResults()) == 1 })
	if tr := conn.turnResults()[0]; tr.TurnID != 1 || tr.Answer != "real answer" {
		t.Fatalf("turn_result = %+v", tr)
	}

	conn.sendText(`{"type":"stop"}`)
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run error = %v", err)
	}
}

func TestSupervisor_SilentAudioDoesNotValidateTurn(t *testing.T) {
	reg := sessions.NewRegistry()
	claim := reg.Claim("default", nil)
	conn := newFakeConn()
	d := &fakeDialer{}

	done := startSupervisor(t, conn, d, sessions.NewStore(0, 0, nil), claim)
	waitFor(t, "dial", func() bool { return d.dialCount() == 1 })
	rs := d.session(0)

	// Pure silence: below the amplitude gate, no remote VAD, no input
	// transcript. The model still answers (noise-triggered).
	conn.sendBinary(make([]byte, 32))
	waitFor(t, "silent audio forwarded", func() bool { return rs.audioCount() == 1 })
	rs.emit(realtime.OutputText{Text: "noise answer"})
	rs.emit(realtime.TurnComplete{})
	waitFor(t, "listening after discard", func() bool {
		return conn.statusCount(protocol.StatusListening) >= 2
	})
	if got := conn.turnResults(); len(got) != 0 {
		t.Fatalf("silent turn produced a result: %+v", got)
	}

	// Loud speech on the next turn is kept.
	conn.sendBinary(loudPCM())
	waitFor(t, "loud audio forwarded", func() bool { return rs.audioCount() == 2 })
	rs.emit(realtime.OutputText{Text: "spoken answer"})
	rs.emit(realtime.TurnComplete{})
	waitFor(t, "spoken turn result", func() bool { return len(conn.turnResults()) == 1 })
	if tr := conn.turnResults()[0]; tr.Answer != "spoken answer" {
		t.Fatalf("turn_result = %+v", tr)
	}

	conn.sendText(`{"type":"stop"}`)
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run error = %v", err)
	}
}

func TestSupervisor_SupersededClaimStopsSession(t *testing.T) {
	reg := sessions.NewRegistry()
	claim := reg.Claim("default", nil)
	conn := newFakeConn()
	d := &fakeDialer{}

	done := startSupervisor(t, conn, d, sessions.NewStore(0, 0, nil), claim)
	waitFor(t, "dial", func() bool { return d.dialCount() == 1 })

	// A new connection takes the slot.
	reg.Claim("default", nil)

	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if claim.Active() {
		t.Fatalf("superseded claim still active")
	}
}

func TestSupervisor_ReconnectCarriesResumeHandle(t *testing.T) {
	reg := sessions.NewRegistry()
	claim := reg.Claim("default", nil)
	store := sessions.NewStore(0, 0, nil)
	conn := newFakeConn()
	d := &fakeDialer{}

	done := startSupervisor(t, conn, d, store, claim)
	waitFor(t, "dial", func() bool { return d.dialCount() == 1 })
	rs := d.session(0)

	conn.sendText(`{"type":"context","conversationId":"conv1"}`)
	rs.emit(realtime.ResumptionUpdate{Handle: "h1", Resumable: true})
	waitFor(t, "handle stored", func() bool { return store.Handle("conv1") == "h1" })

	rs.drop()
	waitFor(t, "redial", func() bool { return d.dialCount() == 2 })
	if got := d.dialOpts(1).ResumeHandle; got != "h1" {
		t.Fatalf("redial ResumeHandle=%q, want h1", got)
	}
	if conn.statusCount(protocol.StatusReconnecting) < 1 {
		t.Fatalf("missing reconnecting status")
	}
	waitFor(t, "ready after reconnect", func() bool {
		return conn.statusCount(protocol.StatusReady) == 2
	})

	conn.sendText(`{"type":"stop"}`)
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run error = %v", err)
	}
}

func TestSupervisor_StatusFramesCarryConversationID(t *testing.T) {
	reg := sessions.NewRegistry()
	claim := reg.Claim("default", nil)
	conn := newFakeConn()
	d := &fakeDialer{}

	store := sessions.NewStore(0, 0, nil)
	done := startSupervisor(t, conn, d, store, claim)
	waitFor(t, "dial", func() bool { return d.dialCount() == 1 })
	rs := d.session(0)

	// Before any context frame the status frames carry an empty id.
	if st, ok := conn.lastStatus(protocol.StatusReady); !ok || st.ConversationID != "" {
		t.Fatalf("ready status = %+v, want empty conversationId", st)
	}

	// The socket reader applies frames in order, so the forwarded page
	// text proves the conversation id landed before anything else.
	conn.sendText(`{"type":"context","conversationId":"conv1","pageUrl":"https://example.com"}`)
	conn.sendBinary(loudPCM())
	waitFor(t, "context applied", func() bool { return rs.textCount() == 1 })

	rs.emit(realtime.ActivityStart{})
	waitFor(t, "listening with conversation id", func() bool {
		st, ok := conn.lastStatus(protocol.StatusListening)
		return ok && st.ConversationID == "conv1"
	})

	conn.sendText(`{"type":"stop"}`)
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run error = %v", err)
	}
}

func TestSupervisor_ResumeHandleSurvivesOneDialFailure(t *testing.T) {
	reg := sessions.NewRegistry()
	claim := reg.Claim("default", nil)
	store := sessions.NewStore(0, 0, nil)
	conn := newFakeConn()
	d := &fakeDialer{}

	done := startSupervisor(t, conn, d, store, claim)
	waitFor(t, "dial", func() bool { return d.dialCount() == 1 })
	rs := d.session(0)

	conn.sendText(`{"type":"context","conversationId":"conv1","pageUrl":"https://example.com"}`)
	conn.sendBinary(loudPCM())
	waitFor(t, "context applied", func() bool { return rs.textCount() == 1 })
	rs.emit(realtime.ResumptionUpdate{Handle: "h1", Resumable: true})
	waitFor(t, "handle stored", func() bool { return store.Handle("conv1") == "h1" })

	// One dial failure is treated as transient: the handle survives and
	// rides along on the retry.
	d.failNext(1)
	rs.drop()
	waitFor(t, "reconnected after one failure", func() bool { return d.dialCount() >= 3 })
	if got := d.dialOpts(1).ResumeHandle; got != "h1" {
		t.Fatalf("failed dial ResumeHandle=%q, want h1", got)
	}
	if got := d.dialOpts(2).ResumeHandle; got != "h1" {
		t.Fatalf("retry ResumeHandle=%q, want h1 after a single failure", got)
	}
	if got := store.Handle("conv1"); got != "h1" {
		t.Fatalf("stored handle=%q, want h1", got)
	}

	conn.sendText(`{"type":"stop"}`)
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run error = %v", err)
	}
}

func TestSupervisor_ResumeHandleClearedAfterRepeatedDialFailures(t *testing.T) {
	reg := sessions.NewRegistry()
	claim := reg.Claim("default", nil)
	store := sessions.NewStore(0, 0, nil)
	conn := newFakeConn()
	d := &fakeDialer{}

	done := startSupervisor(t, conn, d, store, claim)
	waitFor(t, "dial", func() bool { return d.dialCount() == 1 })
	rs := d.session(0)

	conn.sendText(`{"type":"context","conversationId":"conv1","pageUrl":"https://example.com"}`)
	conn.sendBinary(loudPCM())
	waitFor(t, "context applied", func() bool { return rs.textCount() == 1 })
	rs.emit(realtime.ResumptionUpdate{Handle: "h1", Resumable: true})
	waitFor(t, "handle stored", func() bool { return store.Handle("conv1") == "h1" })

	// Two consecutive dial failures with the handle point at the handle
	// itself; it is dropped and the next attempt starts fresh.
	d.failNext(2)
	rs.drop()
	waitFor(t, "reconnected after two failures", func() bool { return d.dialCount() >= 4 })
	if got := d.dialOpts(2).ResumeHandle; got != "h1" {
		t.Fatalf("second failed dial ResumeHandle=%q, want h1", got)
	}
	if got := d.dialOpts(3).ResumeHandle; got != "" {
		t.Fatalf("fresh dial ResumeHandle=%q, want empty after clearing", got)
	}
	if got := store.Handle("conv1"); got != "" {
		t.Fatalf("stored handle=%q, want cleared", got)
	}

	conn.sendText(`{"type":"stop"}`)
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run error = %v", err)
	}
}

func TestSupervisor_DialFailuresRetryThenConnect(t *testing.T) {
	reg := sessions.NewRegistry()
	claim := reg.Claim("default", nil)
	conn := newFakeConn()
	d := &fakeDialer{failures: 2}

	done := startSupervisor(t, conn, d, sessions.NewStore(0, 0, nil), claim)
	waitFor(t, "third dial succeeds", func() bool { return d.dialCount() >= 3 })
	waitFor(t, "ready", func() bool { return conn.statusCount(protocol.StatusReady) == 1 })
	if conn.statusCount(protocol.StatusReconnecting) < 2 {
		t.Fatalf("reconnecting=%d, want >= 2", conn.statusCount(protocol.StatusReconnecting))
	}

	conn.sendText(`{"type":"stop"}`)
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run error = %v", err)
	}
}

func TestSupervisor_ScreenshotDedup(t *testing.T) {
	reg := sessions.NewRegistry()
	claim := reg.Claim("default", nil)
	conn := newFakeConn()
	d := &fakeDialer{}

	done := startSupervisor(t, conn, d, sessions.NewStore(0, 0, nil), claim)
	waitFor(t, "dial", func() bool { return d.dialCount() == 1 })
	rs := d.session(0)

	shotA := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("capture-a"))
	shotB := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("capture-b"))
	ctxFrame := func(shot string) string {
		return fmt.Sprintf(`{"type":"context","conversationId":"conv1","screenshotDataUrl":"%s","pageUrl":"https://example.com"}`, shot)
	}

	conn.sendText(ctxFrame(shotA))
	conn.sendBinary(loudPCM())
	waitFor(t, "first screenshot sent", func() bool { return rs.mediaCount() == 1 })
	waitFor(t, "page url sent", func() bool { return rs.textCount() == 1 })

	// Same capture again: dedup suppresses the media send.
	conn.sendText(ctxFrame(shotA))
	conn.sendBinary(loudPCM())
	waitFor(t, "second audio forwarded", func() bool { return rs.audioCount() == 2 })
	if got := rs.mediaCount(); got != 1 {
		t.Fatalf("mediaCount=%d after duplicate screenshot, want 1", got)
	}

	// A changed capture goes through.
	conn.sendText(ctxFrame(shotB))
	conn.sendBinary(loudPCM())
	waitFor(t, "changed screenshot sent", func() bool { return rs.mediaCount() == 2 })

	conn.sendText(`{"type":"stop"}`)
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run error = %v", err)
	}
}

func TestSupervisor_MalformedFrameIgnored(t *testing.T) {
	reg := sessions.NewRegistry()
	claim := reg.Claim("default", nil)
	conn := newFakeConn()
	d := &fakeDialer{}

	done := startSupervisor(t, conn, d, sessions.NewStore(0, 0, nil), claim)
	waitFor(t, "dial", func() bool { return d.dialCount() == 1 })

	conn.sendText(`{not json at all`)
	conn.sendText(`{"type":"mystery"}`)
	conn.sendText(`{"type":"ping"}`)
	waitFor(t, "pong", func() bool { return conn.pongCount() == 1 })

	conn.sendText(`{"type":"stop"}`)
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run error = %v", err)
	}
}

type logCapture struct {
	mu       sync.Mutex
	messages []string
}

func (h *logCapture) Enabled(context.Context, slog.Level) bool { return true }

func (h *logCapture) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	h.messages = append(h.messages, r.Message)
	h.mu.Unlock()
	return nil
}

func (h *logCapture) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *logCapture) WithGroup(string) slog.Handler      { return h }

func (h *logCapture) has(msg string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.messages {
		if m == msg {
			return true
		}
	}
	return false
}

func TestSupervisor_AudioBackpressureDropIsLogged(t *testing.T) {
	reg := sessions.NewRegistry()
	claim := reg.Claim("default", nil)
	conn := newFakeConn()
	logs := &logCapture{}

	sup, err := New(Dependencies{
		Conn:   conn,
		Dialer: &fakeDialer{},
		Store:  sessions.NewStore(0, 0, nil),
		Claim:  claim,
		Logger: slog.New(logs),
		Config: testConfig(),
	})
	if err != nil {
		t.Fatalf("New error = %v", err)
	}

	// Drive the socket reader alone, with no pump draining the queue:
	// the frame past capacity is dropped and logged, not blocked on.
	go sup.readLoop()
	for i := 0; i < cap(sup.frames)+1; i++ {
		conn.sendBinary(loudPCM())
	}
	waitFor(t, "drop logged", func() bool {
		return logs.has("audio frame dropped, queue full")
	})
	conn.endClient()
	waitFor(t, "reader done", func() bool {
		select {
		case <-sup.readerDone:
			return true
		default:
			return false
		}
	})
}

func TestSupervisor_ClientGoneEndsSession(t *testing.T) {
	reg := sessions.NewRegistry()
	claim := reg.Claim("default", nil)
	conn := newFakeConn()
	d := &fakeDialer{}

	done := startSupervisor(t, conn, d, sessions.NewStore(0, 0, nil), claim)
	waitFor(t, "dial", func() bool { return d.dialCount() == 1 })

	conn.endClient()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if claim.Active() {
		t.Fatalf("claim not released")
	}
}
