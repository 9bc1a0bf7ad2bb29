package bus

// InboundMessage is a line of user input arriving from a presentation channel.
type InboundMessage struct {
	Channel  string            `json:"channel"`
	SenderID string            `json:"sender_id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type OutboundKind string

const (
	KindNarration    OutboundKind = "narration"
	KindUserEcho     OutboundKind = "user"
	KindRaw          OutboundKind = "raw"
	KindQuickActions OutboundKind = "actions"
	KindImage        OutboundKind = "image"
	KindError        OutboundKind = "error"
	KindStatus       OutboundKind = "status"
)

// OutboundMessage is one publish towards the presentation channels. Only the
// fields matching Kind are set.
type OutboundMessage struct {
	Kind      OutboundKind      `json:"kind"`
	Text      string            `json:"text,omitempty"`
	Actions   map[string]string `json:"actions,omitempty"`
	Image     []byte            `json:"image,omitempty"`
	Connected bool              `json:"connected,omitempty"`
}
