// Package domain defines the shared value types owned by the room
// runtime: users, problems, test cases, chat messages, and room
// configuration. Types here are plain data — no behavior beyond
// projection helpers and validation.
package domain

import "encoding/json"

// UserIDType uniquely identifies a user across rooms.
type UserIDType string

// ConnectionIDType uniquely identifies one joined connection within a
// room. Generated by room.NewConnectionID when the connection endpoint
// registers a new socket with the room; lifetime is scoped to
// membership in that room.
type ConnectionIDType string

// RoomIDType is the unique, per-process room name.
type RoomIDType string

// ProblemIDType uniquely identifies a problem.
type ProblemIDType string

// User is the authoritative account record. Immutable for the room's
// purposes; opaque fields are preserved for marshalling round-trips
// even though the room never inspects them.
type User struct {
	ID     UserIDType `json:"id"`
	Name   string     `json:"name"`
	Image  string     `json:"image"`
	Opaque json.RawMessage `json:"-"`
}

// PublicUser is the safe projection of a User shipped over the wire.
type PublicUser struct {
	ID    UserIDType `json:"id"`
	Name  string     `json:"name"`
	Image string     `json:"image"`
}

// ToPublic projects a User down to its wire-safe shape.
func (u User) ToPublic() PublicUser {
	return PublicUser{ID: u.ID, Name: u.Name, Image: u.Image}
}

// TestCase is one judge input/output pair. Input decodes to a JSON
// array of positional arguments; Output decodes to the expected
// return value. Both are kept as raw JSON text so the judge harness
// can re-serialize them verbatim.
type TestCase struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// BoilerplateCode holds per-language starter code for a problem.
type BoilerplateCode struct {
	Python     string `json:"python"`
	JavaScript string `json:"javascript"`
}

// Problem is immutable within a room once attached to it.
type Problem struct {
	ID              ProblemIDType   `json:"id"`
	AuthorID        UserIDType      `json:"authorId"`
	Title           string          `json:"title"`
	Author          PublicUser      `json:"author"`
	Description     string          `json:"description"`
	BoilerplateCode BoilerplateCode `json:"boilerplateCode"`
	TestCases       []TestCase      `json:"testCases"`
	Difficulty      string          `json:"difficulty"`
}

// PublicProblem is the Problem projection sent to clients: testCases is
// replaced with defaultTestCases, the first three (or fewer) cases.
type PublicProblem struct {
	ID                ProblemIDType   `json:"id"`
	Title             string          `json:"title"`
	Author            PublicUser      `json:"author"`
	Description       string          `json:"description"`
	BoilerplateCode   BoilerplateCode `json:"boilerplateCode"`
	DefaultTestCases  []TestCase      `json:"defaultTestCases"`
	Difficulty        string          `json:"difficulty"`
}

// ToPublic projects a Problem, substituting the first three test cases
// for the full set.
func (p Problem) ToPublic() PublicProblem {
	n := len(p.TestCases)
	if n > 3 {
		n = 3
	}
	return PublicProblem{
		ID:               p.ID,
		Title:            p.Title,
		Author:           p.Author,
		Description:      p.Description,
		BoilerplateCode:  p.BoilerplateCode,
		DefaultTestCases: append([]TestCase(nil), p.TestCases[:n]...),
		Difficulty:       p.Difficulty,
	}
}

// RoomConfig is the immutable configuration a room is created with.
type RoomConfig struct {
	Name   string     `json:"name"`
	Public bool       `json:"public"`
	Owner  User       `json:"-"`
}

// FailedTestCase reports one test case that did not match expectations.
type FailedTestCase struct {
	Input    string `json:"input"`
	Output   string `json:"output"`
	Expected string `json:"expected"`
}

// JudgingResult is the outcome of a successful judge run.
type JudgingResult struct {
	FailedTests []FailedTestCase `json:"failedTests"`
	OkayTests   []TestCase       `json:"okayTests"`
	RuntimeMs   int64            `json:"runtime"`
}

// ChatMessageTag enumerates the ChatMessage tagged-union variants.
type ChatMessageTag string

const (
	ChatUserChat               ChatMessageTag = "UserChat"
	ChatConnection             ChatMessageTag = "Connection"
	ChatDisconnection          ChatMessageTag = "Disconnection"
	ChatRoundBegin             ChatMessageTag = "RoundBegin"
	ChatUserSubmitted          ChatMessageTag = "UserSubmitted"
	ChatUserProblemCompletion  ChatMessageTag = "UserProblemCompletion"
	ChatUserFinished           ChatMessageTag = "UserFinished"
	ChatRoundEnd               ChatMessageTag = "RoundEnd"
	ChatBad                    ChatMessageTag = "Bad"
)

// ChatMessage is the tagged-union value appended to a room's chat
// history and broadcast to every connection. Only the fields relevant
// to Tag are populated; it is marshalled through the codec package's
// tagged-envelope helpers, not encoding/json directly.
type ChatMessage struct {
	Tag          ChatMessageTag `json:"-"`
	Author       PublicUser     `json:"author,omitempty"`
	Content      string         `json:"content,omitempty"`
	Username     string         `json:"username,omitempty"`
	ProblemIndex int            `json:"problemIndex,omitempty"`
	Place        int            `json:"place,omitempty"`
}

// NewUserChat builds a ChatMessage for a user's chat line.
func NewUserChat(author PublicUser, content string) ChatMessage {
	return ChatMessage{Tag: ChatUserChat, Author: author, Content: content}
}

// NewConnection builds a ChatMessage announcing a join.
func NewConnection(username string) ChatMessage {
	return ChatMessage{Tag: ChatConnection, Username: username}
}

// NewDisconnection builds a ChatMessage announcing a leave.
func NewDisconnection(username string) ChatMessage {
	return ChatMessage{Tag: ChatDisconnection, Username: username}
}

// NewRoundBegin builds the RoundBegin marker message.
func NewRoundBegin() ChatMessage { return ChatMessage{Tag: ChatRoundBegin} }

// NewUserSubmitted builds a ChatMessage for a submission attempt.
func NewUserSubmitted(username string) ChatMessage {
	return ChatMessage{Tag: ChatUserSubmitted, Username: username}
}

// NewUserProblemCompletion builds a ChatMessage for a solved problem.
func NewUserProblemCompletion(username string, problemIndex int) ChatMessage {
	return ChatMessage{Tag: ChatUserProblemCompletion, Username: username, ProblemIndex: problemIndex}
}

// NewUserFinished builds a ChatMessage for a user finishing the round.
func NewUserFinished(username string, place int) ChatMessage {
	return ChatMessage{Tag: ChatUserFinished, Username: username, Place: place}
}
