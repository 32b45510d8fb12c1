package chat

import "sort"

// Entry is a message with its participant already resolved.
type Entry struct {
	Message     Message
	Participant Participant
}

// IsSender reports which side the entry is drawn on.
func (e Entry) IsSender() bool { return e.Participant.IsSender }

// Snapshot is the immutable input of one export. It never aliases the
// Conversation it was built from.
type Snapshot struct {
	Title        string
	IsGroup      bool
	Entries      []Entry
	Participants []Participant
}

// NewSnapshot copies the conversation, orders messages by Order (stable for
// equal values) and resolves participants. A message pointing at an unknown
// participant is treated as sent by an anonymous sender.
func NewSnapshot(c Conversation) Snapshot {
	participants := make([]Participant, len(c.Participants))
	byID := make(map[string]Participant, len(c.Participants))
	for i, p := range c.Participants {
		p.Avatar.Image = append([]byte(nil), p.Avatar.Image...)
		participants[i] = p
		byID[p.ID] = p
	}

	msgs := append([]Message(nil), c.Messages...)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Order < msgs[j].Order })

	entries := make([]Entry, len(msgs))
	for i, m := range msgs {
		p, ok := byID[m.ParticipantID]
		if !ok {
			p = Participant{ID: m.ParticipantID, IsSender: true}
		}
		entries[i] = Entry{Message: m, Participant: p}
	}

	return Snapshot{
		Title:        c.Title,
		IsGroup:      c.IsGroupChat || len(participants) > 2,
		Entries:      entries,
		Participants: participants,
	}
}

// MainContact is the first participant that is not the sender. 1:1 headers
// show it.
func (s Snapshot) MainContact() (Participant, bool) {
	for _, p := range s.Participants {
		if !p.IsSender {
			return p, true
		}
	}
	return Participant{}, false
}

// Receivers lists every non-sender participant in declaration order.
func (s Snapshot) Receivers() []Participant {
	var out []Participant
	for _, p := range s.Participants {
		if !p.IsSender {
			out = append(out, p)
		}
	}
	return out
}
