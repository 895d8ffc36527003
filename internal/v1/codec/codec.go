// Package codec implements the tagged-union wire protocol (C5) shared
// by every client and server command: a JSON envelope of the shape
// {"t": <tag>, "c": <payload>}, camelCase field names throughout.
//
// Grounded on session/room.go's own json.Marshal(Message{Event,
// Payload}) broadcast path in the teacher repo (the proto path is not
// used here — see DESIGN.md for why).
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/giilbert/radix/internal/v1/domain"
)

// envelope is the wire shape every tagged command uses.
type envelope struct {
	Tag     string          `json:"t"`
	Content json.RawMessage `json:"c,omitempty"`
}

// ---- Client -> Server commands ----

// ClientTag enumerates the client -> server command tags.
type ClientTag string

const (
	ClientPing             ClientTag = "Ping"
	ClientSendChatMessage  ClientTag = "SendChatMessage"
	ClientBeginRound       ClientTag = "BeginRound"
	ClientSetEditorContent ClientTag = "SetEditorContent"
	ClientTestCode         ClientTag = "TestCode"
	ClientSubmitCode       ClientTag = "SubmitCode"
)

// ClientCommand is the decoded form of any client -> server frame.
type ClientCommand struct {
	Tag              ClientTag
	Content          string
	ProblemIndex     uint32
	Language         string
	TestCases        []domain.TestCase
}

type sendChatMessagePayload struct {
	Content string `json:"content"`
}

type setEditorContentPayload struct {
	Content string `json:"content"`
}

type testCodePayload struct {
	TestCases []domain.TestCase `json:"testCases"`
	Language  string            `json:"language"`
}

type submitCodePayload struct {
	ProblemIndex uint32 `json:"problemIndex"`
	Language     string `json:"language"`
}

// DecodeClientCommand parses one text frame into a ClientCommand.
// Unknown tags and malformed payloads are reported as an error; the
// caller (the Connection Endpoint) logs and drops per spec.md §4.2.
func DecodeClientCommand(raw []byte) (ClientCommand, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ClientCommand{}, fmt.Errorf("decode envelope: %w", err)
	}

	switch ClientTag(env.Tag) {
	case ClientPing:
		return ClientCommand{Tag: ClientPing}, nil
	case ClientBeginRound:
		return ClientCommand{Tag: ClientBeginRound}, nil
	case ClientSendChatMessage:
		var p sendChatMessagePayload
		if err := json.Unmarshal(env.Content, &p); err != nil {
			return ClientCommand{}, fmt.Errorf("decode SendChatMessage: %w", err)
		}
		return ClientCommand{Tag: ClientSendChatMessage, Content: p.Content}, nil
	case ClientSetEditorContent:
		var p setEditorContentPayload
		if err := json.Unmarshal(env.Content, &p); err != nil {
			return ClientCommand{}, fmt.Errorf("decode SetEditorContent: %w", err)
		}
		return ClientCommand{Tag: ClientSetEditorContent, Content: p.Content}, nil
	case ClientTestCode:
		var p testCodePayload
		if err := json.Unmarshal(env.Content, &p); err != nil {
			return ClientCommand{}, fmt.Errorf("decode TestCode: %w", err)
		}
		return ClientCommand{Tag: ClientTestCode, TestCases: p.TestCases, Language: p.Language}, nil
	case ClientSubmitCode:
		var p submitCodePayload
		if err := json.Unmarshal(env.Content, &p); err != nil {
			return ClientCommand{}, fmt.Errorf("decode SubmitCode: %w", err)
		}
		return ClientCommand{Tag: ClientSubmitCode, ProblemIndex: p.ProblemIndex, Language: p.Language}, nil
	default:
		return ClientCommand{}, fmt.Errorf("unknown client tag %q", env.Tag)
	}
}

// ---- Server -> Client commands ----

// ServerTag enumerates the server -> client command tags.
type ServerTag string

const (
	ServerError          ServerTag = "Error"
	ServerChatHistory    ServerTag = "ChatHistory"
	ServerChatMessage    ServerTag = "ChatMessage"
	ServerSetUsers       ServerTag = "SetUsers"
	ServerSetRoomConfig  ServerTag = "SetRoomConfig"
	ServerSetProblems    ServerTag = "SetProblems"
	ServerSetTestResponse ServerTag = "SetTestResponse"
)

type setRoomConfigPayload struct {
	Name   string            `json:"name"`
	Public bool              `json:"public"`
	Owner  domain.PublicUser `json:"owner"`
}

// TestResponseKind enumerates the SetTestResponse sub-variants.
type TestResponseKind string

const (
	TestResponseError          TestResponseKind = "Error"
	TestResponseRan            TestResponseKind = "Ran"
	TestResponseAllTestsPassed TestResponseKind = "AllTestsPassed"
)

// TestResponse is the payload of SetTestResponse.
type TestResponse struct {
	Kind        TestResponseKind        `json:"kind"`
	Message     string                  `json:"message,omitempty"`
	FailedTests []domain.FailedTestCase `json:"failedTests,omitempty"`
	OkayTests   []domain.TestCase       `json:"okayTests,omitempty"`
	RuntimeMs   int64                   `json:"runtime,omitempty"`
}

func marshalEnvelope(tag ServerTag, content any) ([]byte, error) {
	var raw json.RawMessage
	if content != nil {
		b, err := json.Marshal(content)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", tag, err)
		}
		raw = b
	}
	return json.Marshal(envelope{Tag: string(tag), Content: raw})
}

// EncodeError builds an Error(string) server frame.
func EncodeError(message string) ([]byte, error) {
	return marshalEnvelope(ServerError, message)
}

// EncodeChatHistory builds a ChatHistory([]ChatMessage) server frame.
func EncodeChatHistory(messages []domain.ChatMessage) ([]byte, error) {
	encoded, err := encodeChatMessages(messages)
	if err != nil {
		return nil, err
	}
	return marshalEnvelope(ServerChatHistory, encoded)
}

// EncodeChatMessage builds a ChatMessage(ChatMessage) server frame.
func EncodeChatMessage(msg domain.ChatMessage) ([]byte, error) {
	encoded, err := encodeChatMessage(msg)
	if err != nil {
		return nil, err
	}
	return marshalEnvelope(ServerChatMessage, encoded)
}

// EncodeSetUsers builds a SetUsers([]PublicUser) server frame.
func EncodeSetUsers(users []domain.PublicUser) ([]byte, error) {
	return marshalEnvelope(ServerSetUsers, users)
}

// EncodeSetRoomConfig builds a SetRoomConfig{...} server frame.
func EncodeSetRoomConfig(name string, public bool, owner domain.PublicUser) ([]byte, error) {
	return marshalEnvelope(ServerSetRoomConfig, setRoomConfigPayload{Name: name, Public: public, Owner: owner})
}

// EncodeSetProblems builds a SetProblems(Option<[]PublicProblem>) frame.
// Pass nil to encode the "no problems" (None) case.
func EncodeSetProblems(problems []domain.PublicProblem) ([]byte, error) {
	return marshalEnvelope(ServerSetProblems, problems)
}

// EncodeSetTestResponse builds a SetTestResponse(TestResponse) frame.
func EncodeSetTestResponse(resp TestResponse) ([]byte, error) {
	return marshalEnvelope(ServerSetTestResponse, resp)
}

// ChatMessage is itself a tagged variant (spec.md §3) and follows the
// same {"t": <tag>, "c": <payload>} envelope as every other command so
// the wire format is uniform end to end.
type chatUserChatPayload struct {
	Author  domain.PublicUser `json:"author"`
	Content string            `json:"content"`
}

type chatUsernamePayload struct {
	Username string `json:"username"`
}

type chatUserProblemCompletionPayload struct {
	Username     string `json:"username"`
	ProblemIndex int    `json:"problemIndex"`
}

type chatUserFinishedPayload struct {
	Username string `json:"username"`
	Place    int    `json:"place"`
}

func encodeChatMessage(m domain.ChatMessage) (json.RawMessage, error) {
	var content any
	switch m.Tag {
	case domain.ChatUserChat:
		content = chatUserChatPayload{Author: m.Author, Content: m.Content}
	case domain.ChatConnection, domain.ChatDisconnection, domain.ChatUserSubmitted:
		content = chatUsernamePayload{Username: m.Username}
	case domain.ChatUserProblemCompletion:
		content = chatUserProblemCompletionPayload{Username: m.Username, ProblemIndex: m.ProblemIndex}
	case domain.ChatUserFinished:
		content = chatUserFinishedPayload{Username: m.Username, Place: m.Place}
	case domain.ChatRoundBegin, domain.ChatRoundEnd, domain.ChatBad:
		content = nil
	}

	var raw json.RawMessage
	if content != nil {
		b, err := json.Marshal(content)
		if err != nil {
			return nil, fmt.Errorf("marshal chat message payload: %w", err)
		}
		raw = b
	}
	return json.Marshal(envelope{Tag: string(m.Tag), Content: raw})
}

func encodeChatMessages(msgs []domain.ChatMessage) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		enc, err := encodeChatMessage(m)
		if err != nil {
			return nil, err
		}
		out = append(out, enc)
	}
	return out, nil
}

// DecodeChatMessage parses one tagged ChatMessage envelope back into a
// domain.ChatMessage, the inverse of encodeChatMessage.
func DecodeChatMessage(raw json.RawMessage) (domain.ChatMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("decode chat envelope: %w", err)
	}

	tag := domain.ChatMessageTag(env.Tag)
	switch tag {
	case domain.ChatUserChat:
		var p chatUserChatPayload
		if err := json.Unmarshal(env.Content, &p); err != nil {
			return domain.ChatMessage{}, err
		}
		return domain.NewUserChat(p.Author, p.Content), nil
	case domain.ChatConnection:
		var p chatUsernamePayload
		if err := json.Unmarshal(env.Content, &p); err != nil {
			return domain.ChatMessage{}, err
		}
		return domain.NewConnection(p.Username), nil
	case domain.ChatDisconnection:
		var p chatUsernamePayload
		if err := json.Unmarshal(env.Content, &p); err != nil {
			return domain.ChatMessage{}, err
		}
		return domain.NewDisconnection(p.Username), nil
	case domain.ChatUserSubmitted:
		var p chatUsernamePayload
		if err := json.Unmarshal(env.Content, &p); err != nil {
			return domain.ChatMessage{}, err
		}
		return domain.NewUserSubmitted(p.Username), nil
	case domain.ChatUserProblemCompletion:
		var p chatUserProblemCompletionPayload
		if err := json.Unmarshal(env.Content, &p); err != nil {
			return domain.ChatMessage{}, err
		}
		return domain.NewUserProblemCompletion(p.Username, p.ProblemIndex), nil
	case domain.ChatUserFinished:
		var p chatUserFinishedPayload
		if err := json.Unmarshal(env.Content, &p); err != nil {
			return domain.ChatMessage{}, err
		}
		return domain.NewUserFinished(p.Username, p.Place), nil
	case domain.ChatRoundBegin:
		return domain.NewRoundBegin(), nil
	case domain.ChatRoundEnd:
		return domain.ChatMessage{Tag: domain.ChatRoundEnd}, nil
	case domain.ChatBad:
		return domain.ChatMessage{Tag: domain.ChatBad}, nil
	default:
		return domain.ChatMessage{}, fmt.Errorf("unknown chat message tag %q", env.Tag)
	}
}
