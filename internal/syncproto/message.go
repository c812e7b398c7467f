// Package syncproto implements spec §4.F: the CBOR-framed message
// envelope exchanged with a sync relay, and the per-peer sync-state bag.
package syncproto

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ProtocolV1 is the only supported protocol version, sent in every join.
const ProtocolV1 = "1"

// PeerMetadata accompanies a join handshake.
type PeerMetadata struct {
	StorageID   *string `cbor:"storageId,omitempty"`
	IsEphemeral bool    `cbor:"isEphemeral"`
}

// ErrUnknownMessageType is returned by DecodeServerMessage for a tag this
// client doesn't recognize; callers ignore it and keep reading frames.
var ErrUnknownMessageType = errors.New("syncproto: unknown server message type")

// envelope is the wire shape shared by every client and server message;
// only the fields relevant to Type are populated on either side.
type envelope struct {
	Type                      string        `cbor:"type"`
	SenderID                  string        `cbor:"senderId,omitempty"`
	TargetID                  string        `cbor:"targetId,omitempty"`
	PeerMetadata              *PeerMetadata `cbor:"peerMetadata,omitempty"`
	SupportedProtocolVersions []string      `cbor:"supportedProtocolVersions,omitempty"`
	SelectedProtocolVersion   string        `cbor:"selectedProtocolVersion,omitempty"`
	DocumentID                string        `cbor:"documentId,omitempty"`
	Data                      []byte        `cbor:"data,omitempty"`
	Message                   string        `cbor:"message,omitempty"`
}

// EncodeJoin builds the client "join" handshake message.
func EncodeJoin(senderID string) ([]byte, error) {
	env := envelope{
		Type:                      "join",
		SenderID:                  senderID,
		PeerMetadata:              &PeerMetadata{},
		SupportedProtocolVersions: []string{ProtocolV1},
	}
	return marshal(env)
}

// EncodeRequest builds the client "request" message: "I want this document".
func EncodeRequest(senderID, targetID, documentID string, data []byte) ([]byte, error) {
	return marshal(envelope{
		Type: "request", SenderID: senderID, TargetID: targetID,
		DocumentID: documentID, Data: data,
	})
}

// EncodeSync builds the client "sync" message carrying opaque CRDT bytes.
func EncodeSync(senderID, targetID, documentID string, data []byte) ([]byte, error) {
	return marshal(envelope{
		Type: "sync", SenderID: senderID, TargetID: targetID,
		DocumentID: documentID, Data: data,
	})
}

func marshal(env envelope) ([]byte, error) {
	out, err := cbor.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("syncproto: encode %s: %w", env.Type, err)
	}
	return out, nil
}

// ServerMessageKind discriminates the decoded server message tag.
type ServerMessageKind string

const (
	ServerPeer           ServerMessageKind = "peer"
	ServerSync           ServerMessageKind = "sync"
	ServerDocUnavailable ServerMessageKind = "doc-unavailable"
	ServerError          ServerMessageKind = "error"
)

// ServerMessage is the decoded shape of any server message; only the
// fields relevant to Kind are meaningful.
type ServerMessage struct {
	Kind                    ServerMessageKind
	SenderID                string
	TargetID                string
	PeerMetadata            PeerMetadata
	SelectedProtocolVersion string
	DocumentID              string
	Data                    []byte
	Message                 string
}

// DecodeServerMessage decodes a CBOR frame into a ServerMessage. Returns
// ErrUnknownMessageType for tags this client doesn't recognize; callers
// should ignore those and keep reading, per spec §4.F.
func DecodeServerMessage(frame []byte) (*ServerMessage, error) {
	var env envelope
	if err := cbor.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("syncproto: decode frame: %w", err)
	}

	kind := ServerMessageKind(env.Type)
	switch kind {
	case ServerPeer, ServerSync, ServerDocUnavailable, ServerError:
	default:
		return nil, ErrUnknownMessageType
	}

	msg := &ServerMessage{
		Kind:                    kind,
		SenderID:                env.SenderID,
		TargetID:                env.TargetID,
		SelectedProtocolVersion: env.SelectedProtocolVersion,
		DocumentID:              env.DocumentID,
		Data:                    env.Data,
		Message:                 env.Message,
	}
	if env.PeerMetadata != nil {
		msg.PeerMetadata = *env.PeerMetadata
	}

	return msg, nil
}
