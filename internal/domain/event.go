package domain

// ConversationID identifies a chat with a single user.
type ConversationID int64

// MessageKind tags the shape of an inbound message. It is decided once when the
// transport decodes an update.
type MessageKind int

const (
	MessageText MessageKind = iota + 1
	MessagePhoto
	MessageAudio
	MessageVideo
	MessageDocument
)

// Message is an inbound chat message.
// Text is set for MessageText; FileRef and Caption for every other kind.
type Message struct {
	Kind     MessageKind
	Text     string
	FileRef  string
	FileName string
	Caption  string
}

// ItemKind maps a media message to the item kind it would create.
func (m Message) ItemKind() (Kind, bool) {
	switch m.Kind {
	case MessageText:
		return KindText, true
	case MessagePhoto:
		return KindPhoto, true
	case MessageAudio:
		return KindAudio, true
	case MessageVideo:
		return KindVideo, true
	}
	return 0, false
}

// Event is a single inbound update from the transport.
type Event struct {
	UpdateID     int64
	Conversation ConversationID
	Message      Message
}
