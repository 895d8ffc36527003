// Package room implements the room actor (C3), the room registry (C4),
// and the per-connection WebSocket endpoint (C2): the three
// concurrency-facing components that make up a live competitive
// programming room.
//
// Grounded on the teacher's session/hub.go and session/client.go: a
// single-writer actor reading commands off a channel, a mutex-guarded
// registry of actors, and a readPump/writePump pair bridging the
// network to the actor's channel.
package room

import (
	"context"
	"errors"
	"time"

	"github.com/giilbert/radix/internal/v1/codec"
	"github.com/giilbert/radix/internal/v1/domain"
	"github.com/giilbert/radix/internal/v1/judge"
	"github.com/giilbert/radix/internal/v1/logging"
	"github.com/giilbert/radix/internal/v1/metrics"
	"go.uber.org/zap"
)

// inboxCapacity bounds the room actor's command channel. A full inbox
// blocks senders (the connection endpoints), giving backpressure
// instead of dropping commands.
const inboxCapacity = 200

// chatHistoryCapacity is the maximum number of chat messages retained
// per room, oldest evicted first.
const chatHistoryCapacity = 250

// idleDeletionGrace is how long a room survives with zero connections
// before its deletion timer stops it (the registry then drops it via
// onEmpty).
const idleDeletionGrace = 30 * time.Second

// sendTimeout bounds how long a send to a stalled connection is
// allowed to block before it's logged and dropped.
const sendTimeout = 5 * time.Second

// judgeTimeout bounds one Test/Submit round trip through the judge queue.
const judgeTimeout = 20 * time.Second

var errUnknownProblem = errors.New("unknown problem index")

// outbound is anything the room actor can hand a connection to write.
type outbound = []byte

// connectionHandle is the actor's view of one connected client: a
// channel to push frames on, and the identity that frame belongs to.
type connectionHandle struct {
	connID domain.ConnectionIDType
	user   domain.User
	send   chan<- outbound
}

type commandKind int

const (
	cmdAddConnection commandKind = iota
	cmdRemoveConnection
	cmdClientSent
	cmdSetProblems
	cmdApplySubmission
	cmdStop
)

// command is the tagged union of everything the room's single-writer
// loop processes. Exactly one goroutine (run) ever touches room state,
// so no field of Room needs a mutex.
type command struct {
	kind commandKind

	conn   connectionHandle
	connID domain.ConnectionIDType
	client codec.ClientCommand

	problems []problemState

	submitUser         domain.User
	submitProblemIndex uint32
	passed             bool
}

// problemState tracks one problem's local round state.
type problemState struct {
	problem domain.Problem
}

// userState tracks one connected user's progress through the problem set.
type userState struct {
	user          domain.User
	editorContent string
	solved        map[uint32]bool
	finished      bool
	finishedPlace int
}

// Room is the single-writer actor owning all state for one room. Every
// exported method that mutates state sends a command on inbox instead
// of taking a lock; run is the only goroutine that reads inbox.
type Room struct {
	id     domain.RoomIDType
	config domain.RoomConfig

	inbox chan command

	queue *judge.Queue

	connections  map[domain.ConnectionIDType]connectionHandle
	users        map[domain.UserIDType]*userState
	chatHistory  []domain.ChatMessage
	problems     []problemState
	roundStarted bool
	finishOrder  int

	deleteTimer *time.Timer
	onEmpty     func(domain.RoomIDType)
	stopped     chan struct{}
}

// NewRoom constructs a room actor and starts its command loop. Callers
// must arrange for onEmpty to remove the room from the registry once
// it fires (the room itself does not know about the registry map).
func NewRoom(id domain.RoomIDType, cfg domain.RoomConfig, queue *judge.Queue, onEmpty func(domain.RoomIDType)) *Room {
	r := &Room{
		id:          id,
		config:      cfg,
		inbox:       make(chan command, inboxCapacity),
		queue:       queue,
		connections: make(map[domain.ConnectionIDType]connectionHandle),
		users:       make(map[domain.UserIDType]*userState),
		onEmpty:     onEmpty,
		stopped:     make(chan struct{}),
	}
	r.resetDeleteTimer()
	go r.run()
	return r
}

// ID returns the room's identifier.
func (r *Room) ID() domain.RoomIDType { return r.id }

// Config returns the room's static configuration.
func (r *Room) Config() domain.RoomConfig { return r.config }

// send enqueues a command, blocking if the inbox is full, until the
// room stops.
func (r *Room) send(cmd command) {
	select {
	case r.inbox <- cmd:
	case <-r.stopped:
	}
}

// AddConnection registers a new connection under the given user identity
// and hands it an outbound channel to receive frames on.
func (r *Room) AddConnection(connID domain.ConnectionIDType, user domain.User, send chan<- outbound) {
	r.send(command{kind: cmdAddConnection, conn: connectionHandle{connID: connID, user: user, send: send}})
}

// RemoveConnection unregisters a connection, e.g. when its socket closes.
func (r *Room) RemoveConnection(connID domain.ConnectionIDType) {
	r.send(command{kind: cmdRemoveConnection, connID: connID})
}

// ClientSent delivers a decoded client command as if it were sent by
// connID, to be processed by the room's single-writer loop.
func (r *Room) ClientSent(connID domain.ConnectionIDType, cmd codec.ClientCommand) {
	r.send(command{kind: cmdClientSent, connID: connID, client: cmd})
}

// SetProblems installs the problem set for the room. Per the late-joiner
// rule, every connected client is re-sent SetProblems once a round has
// begun so a client that joined before the set was chosen still converges.
func (r *Room) SetProblems(problems []domain.Problem) {
	states := make([]problemState, len(problems))
	for i, p := range problems {
		states[i] = problemState{problem: p}
	}
	r.send(command{kind: cmdSetProblems, problems: states})
}

// Stop tears the room down: the deletion timer is cancelled, onEmpty
// runs and the command loop exits. Open connections are not closed by
// the room. Safe to call more than once.
func (r *Room) Stop() {
	select {
	case <-r.stopped:
		return
	default:
	}
	r.send(command{kind: cmdStop})
}

// Stopped reports whether Stop has completed.
func (r *Room) Stopped() <-chan struct{} { return r.stopped }

func (r *Room) run() {
	defer close(r.stopped)
	for cmd := range r.inbox {
		start := time.Now()
		eventType := "unknown"
		switch cmd.kind {
		case cmdAddConnection:
			eventType = "add_connection"
			r.handleAddConnection(cmd.conn)
		case cmdRemoveConnection:
			eventType = "remove_connection"
			r.handleRemoveConnection(cmd.connID)
		case cmdClientSent:
			eventType = string(cmd.client.Tag)
			r.handleClientCommand(cmd.connID, cmd.client)
		case cmdSetProblems:
			eventType = "set_problems"
			r.handleSetProblems(cmd.problems)
		case cmdApplySubmission:
			eventType = "apply_submission"
			r.handleApplySubmission(cmd.submitUser, cmd.submitProblemIndex, cmd.passed)
		case cmdStop:
			r.handleStop()
			metrics.MessageProcessingDuration.WithLabelValues("stop").Observe(time.Since(start).Seconds())
			return
		}
		metrics.MessageProcessingDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}
}

// handleAddConnection registers the connection, then delivers the
// joiner's initial frames in the order the client expects to receive
// them: the chat history as it stood before this join, the room's
// config, a Connection chat entry (broadcast, so the joiner sees its
// own arrival land in history rather than be sent it twice), and
// finally the user list including the joiner.
func (r *Room) handleAddConnection(conn connectionHandle) {
	r.connections[conn.connID] = conn

	r.sendTo(conn.connID, func() ([]byte, error) { return codec.EncodeChatHistory(r.chatHistory) })
	r.sendTo(conn.connID, func() ([]byte, error) {
		return codec.EncodeSetRoomConfig(r.config.Name, r.config.Public, r.config.Owner.ToPublic())
	})

	if _, ok := r.users[conn.user.ID]; !ok {
		r.users[conn.user.ID] = &userState{user: conn.user, solved: make(map[uint32]bool)}
		r.appendChatMessage(domain.NewConnection(conn.user.Name))
	}
	r.resetDeleteTimer()

	metrics.ActiveWebSocketConnections.Inc()
	metrics.RoomParticipants.WithLabelValues(string(r.id)).Set(float64(len(r.connections)))

	r.broadcastAll(func() ([]byte, error) { return codec.EncodeSetUsers(r.publicUsers()) })

	if r.roundStarted {
		r.sendTo(conn.connID, func() ([]byte, error) { return codec.EncodeSetProblems(r.publicProblems()) })
	}
}

func (r *Room) handleRemoveConnection(connID domain.ConnectionIDType) {
	conn, ok := r.connections[connID]
	if !ok {
		return
	}
	delete(r.connections, connID)
	metrics.ActiveWebSocketConnections.Dec()
	metrics.RoomParticipants.WithLabelValues(string(r.id)).Set(float64(len(r.connections)))

	if !r.userStillConnected(conn.user.ID) {
		delete(r.users, conn.user.ID)
		r.appendChatMessage(domain.NewDisconnection(conn.user.Name))
		r.broadcastAll(func() ([]byte, error) { return codec.EncodeSetUsers(r.publicUsers()) })
	}

	r.resetDeleteTimer()
}

func (r *Room) userStillConnected(userID domain.UserIDType) bool {
	for _, c := range r.connections {
		if c.user.ID == userID {
			return true
		}
	}
	return false
}

func (r *Room) handleSetProblems(problems []problemState) {
	r.problems = problems
	if r.roundStarted {
		r.broadcastAll(func() ([]byte, error) { return codec.EncodeSetProblems(r.publicProblems()) })
	}
}

func (r *Room) handleStop() {
	if r.deleteTimer != nil {
		r.deleteTimer.Stop()
	}
	metrics.RoomParticipants.DeleteLabelValues(string(r.id))
	if r.onEmpty != nil {
		r.onEmpty(r.id)
	}
}

func (r *Room) handleClientCommand(connID domain.ConnectionIDType, cmd codec.ClientCommand) {
	conn, ok := r.connections[connID]
	if !ok {
		return
	}

	switch cmd.Tag {
	case codec.ClientPing:
		// No-op: the connection's read deadline is extended only by
		// WebSocket pong frames, not by this command.
	case codec.ClientSendChatMessage:
		r.appendChatMessage(domain.NewUserChat(conn.user.ToPublic(), cmd.Content))
	case codec.ClientBeginRound:
		r.beginRound()
	case codec.ClientSetEditorContent:
		if us, ok := r.users[conn.user.ID]; ok {
			us.editorContent = cmd.Content
		}
	case codec.ClientTestCode:
		us, ok := r.users[conn.user.ID]
		if !ok || us.editorContent == "" {
			return
		}
		go runJudgeAndReply(conn.send, r.queue, cmd.Language, us.editorContent, cmd.TestCases)
	case codec.ClientSubmitCode:
		if int(cmd.ProblemIndex) >= len(r.problems) {
			go sendFrame(conn.send, func() ([]byte, error) {
				return codec.EncodeSetTestResponse(codec.TestResponse{Kind: codec.TestResponseError, Message: errUnknownProblem.Error()})
			})
			return
		}
		us, ok := r.users[conn.user.ID]
		if !ok || us.editorContent == "" {
			return
		}
		r.appendChatMessage(domain.NewUserSubmitted(conn.user.Name))
		testCases := r.problems[cmd.ProblemIndex].problem.TestCases
		go r.runSubmitCode(conn, cmd.ProblemIndex, cmd.Language, us.editorContent, testCases)
	}
}

func (r *Room) beginRound() {
	if r.roundStarted {
		return
	}
	r.roundStarted = true
	metrics.RoundsStarted.Inc()
	r.appendChatMessage(domain.NewRoundBegin())
	r.broadcastAll(func() ([]byte, error) { return codec.EncodeSetProblems(r.publicProblems()) })
}

// runJudgeAndReply runs a Test request through the judge queue and
// writes the response straight to the connection's own channel. It
// does not touch room state, so it's safe to run outside the actor
// loop; the judge queue itself already serializes execution.
func runJudgeAndReply(send chan<- outbound, queue *judge.Queue, language, code string, testCases []domain.TestCase) {
	ctx, cancel := context.WithTimeout(context.Background(), judgeTimeout)
	defer cancel()

	result, err := queue.Submit(ctx, language, code, testCases)
	resp := testResponseFromResult(result, err, false)
	sendFrame(send, func() ([]byte, error) { return codec.EncodeSetTestResponse(resp) })
}

// runSubmitCode judges a Submit request outside the actor loop, replies
// to the submitting connection directly, and reports the outcome (with
// a passed flag) back to the actor via cmdApplySubmission so chat
// history and finish tracking stay single-writer; the actor ignores
// anything but an unambiguous pass.
func (r *Room) runSubmitCode(conn connectionHandle, problemIndex uint32, language, code string, testCases []domain.TestCase) {
	ctx, cancel := context.WithTimeout(context.Background(), judgeTimeout)
	defer cancel()

	result, err := r.queue.Submit(ctx, language, code, testCases)
	resp := testResponseFromResult(result, err, true)
	sendFrame(conn.send, func() ([]byte, error) { return codec.EncodeSetTestResponse(resp) })

	passed := err == nil && len(result.FailedTests) == 0
	r.send(command{kind: cmdApplySubmission, submitUser: conn.user, submitProblemIndex: problemIndex, passed: passed})
}

// handleApplySubmission records a passing submission's effect on solve
// and finish state. UserSubmitted is appended unconditionally by
// handleClientCommand before the judge even runs; this only fires for
// an unambiguous pass on a problem not already solved.
func (r *Room) handleApplySubmission(user domain.User, problemIndex uint32, passed bool) {
	if !passed {
		return
	}
	us, ok := r.users[user.ID]
	if !ok {
		return
	}
	if us.solved[problemIndex] {
		return
	}
	us.solved[problemIndex] = true

	r.appendChatMessage(domain.NewUserProblemCompletion(user.Name, int(problemIndex)))

	if len(us.solved) >= len(r.problems) && !us.finished {
		us.finished = true
		r.finishOrder++
		us.finishedPlace = r.finishOrder
		r.appendChatMessage(domain.NewUserFinished(user.Name, us.finishedPlace))
	}
}

func testResponseFromResult(result domain.JudgingResult, err error, firstFailedOnly bool) codec.TestResponse {
	if err != nil {
		return codec.TestResponse{Kind: codec.TestResponseError, Message: err.Error()}
	}
	if len(result.FailedTests) == 0 {
		return codec.TestResponse{Kind: codec.TestResponseAllTestsPassed, OkayTests: result.OkayTests, RuntimeMs: result.RuntimeMs}
	}
	failed := result.FailedTests
	if firstFailedOnly {
		// A submission surfaces only its first failing test; a Test
		// request gets every failing test.
		failed = failed[:1]
	}
	return codec.TestResponse{
		Kind:        codec.TestResponseRan,
		FailedTests: failed,
		OkayTests:   result.OkayTests,
		RuntimeMs:   result.RuntimeMs,
	}
}

func (r *Room) resetDeleteTimer() {
	if r.deleteTimer != nil {
		r.deleteTimer.Stop()
		r.deleteTimer = nil
	}
	if len(r.connections) > 0 {
		return
	}
	r.deleteTimer = time.AfterFunc(idleDeletionGrace, func() {
		logging.Info(context.Background(), "room idle grace period expired, stopping", zap.String("room_id", string(r.id)))
		r.Stop()
	})
}

func (r *Room) appendChatMessage(msg domain.ChatMessage) {
	r.chatHistory = append(r.chatHistory, msg)
	if len(r.chatHistory) > chatHistoryCapacity {
		r.chatHistory = r.chatHistory[len(r.chatHistory)-chatHistoryCapacity:]
	}
	r.broadcastAll(func() ([]byte, error) { return codec.EncodeChatMessage(msg) })
}

func (r *Room) publicUsers() []domain.PublicUser {
	out := make([]domain.PublicUser, 0, len(r.users))
	for _, us := range r.users {
		out = append(out, us.user.ToPublic())
	}
	return out
}

func (r *Room) publicProblems() []domain.PublicProblem {
	if !r.roundStarted {
		return nil
	}
	out := make([]domain.PublicProblem, len(r.problems))
	for i, p := range r.problems {
		out[i] = p.problem.ToPublic()
	}
	return out
}

// sendFrame delivers an encoded frame on send, blocking until accepted
// or dropped with a log line if the receiver stalls past sendTimeout.
// Blocking here (rather than a non-blocking select/default) is
// deliberate: a slow client should apply backpressure rather than
// silently miss events.
func sendFrame(send chan<- outbound, encode func() ([]byte, error)) {
	frame, err := encode()
	if err != nil {
		logging.Error(context.Background(), "failed to encode frame", zap.Error(err))
		return
	}
	select {
	case send <- frame:
	case <-time.After(sendTimeout):
		logging.Warn(context.Background(), "dropped frame: connection outbound buffer stalled")
	}
}

// sendTo delivers an encoded frame to one connection by id, looked up
// from actor-owned state. Only safe to call from the actor's own
// goroutine (run and its handlers).
func (r *Room) sendTo(connID domain.ConnectionIDType, encode func() ([]byte, error)) {
	conn, ok := r.connections[connID]
	if !ok {
		return
	}
	sendFrame(conn.send, encode)
}

func (r *Room) broadcastAll(encode func() ([]byte, error)) {
	r.broadcastExcept("", encode)
}

func (r *Room) broadcastExcept(except domain.ConnectionIDType, encode func() ([]byte, error)) {
	frame, err := encode()
	if err != nil {
		logging.Error(context.Background(), "failed to encode broadcast frame", zap.Error(err), zap.String("room_id", string(r.id)))
		return
	}
	for connID, conn := range r.connections {
		if except != "" && connID == except {
			continue
		}
		select {
		case conn.send <- frame:
		case <-time.After(sendTimeout):
			logging.Warn(context.Background(), "dropped broadcast frame: connection outbound buffer stalled", zap.String("room_id", string(r.id)), zap.String("connection_id", string(connID)))
		}
	}
}
