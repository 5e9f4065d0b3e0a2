package domain

import "fmt"

// Kind is the type of an item's prompt.
type Kind int

const (
	KindText Kind = iota + 1
	KindPhoto
	KindAudio
	KindVideo
)

var (
	kindNames  = [...]string{KindText: "text", KindPhoto: "photo", KindAudio: "audio", KindVideo: "video"}
	kindByName = map[string]Kind{
		"text":  KindText,
		"photo": KindPhoto,
		"audio": KindAudio,
		"video": KindVideo,
	}
)

func (k Kind) Valid() bool {
	return k >= KindText && k <= KindVideo
}

func (k Kind) String() string {
	if k.Valid() {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind converts a stored kind name back into a Kind.
func ParseKind(s string) (Kind, error) {
	k, ok := kindByName[s]
	if !ok {
		return 0, fmt.Errorf("invalid item kind: %q", s)
	}
	return k, nil
}
