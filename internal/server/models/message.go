package models

import (
	"fmt"
	"time"
)

// Phase is the lifecycle stage of a message. A message is either a draft or
// sent, never both. Trash is an orthogonal flag on Message, so a trashed
// message keeps its phase and gets it back when restored.
type Phase int

const (
	PhaseDraft Phase = iota
	PhaseSent
)

func (p Phase) String() string {
	switch p {
	case PhaseDraft:
		return "draft"
	case PhaseSent:
		return "sent"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Flags returns the (is_draft, is_sent) column pair for p. The two columns
// exist for schema compatibility; Phase keeps them mutually exclusive.
func (p Phase) Flags() (draft bool, sent bool) {
	return p == PhaseDraft, p == PhaseSent
}

// PhaseFromFlags reconstructs a Phase from the stored column pair.
// A row with both or neither flag set is corrupt.
func PhaseFromFlags(draft, sent bool) (Phase, error) {
	switch {
	case draft && !sent:
		return PhaseDraft, nil
	case sent && !draft:
		return PhaseSent, nil
	default:
		return 0, fmt.Errorf("inconsistent phase flags: draft=%v sent=%v", draft, sent)
	}
}

// Party is the sender or recipient of a message as folder queries return it,
// joined in a single round trip so listings never need a second lookup.
type Party struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
}

// Message is a single mail record scoped to exactly one sender and one
// recipient. Sending to N addresses creates N independent messages.
//
// RecipientID is never empty: a draft whose recipient is not resolved yet
// carries the sender's own ID as a placeholder until the draft is sent.
type Message struct {
	ID          string
	SenderID    string
	RecipientID string
	Subject     string
	Content     string
	CreatedAt   time.Time

	Phase   Phase
	Read    bool
	Starred bool
	Trashed bool

	// Populated by folder queries and single-message reads.
	Sender         *Party
	Recipient      *Party
	HasAttachments bool
}

// MessagePage is one page of a folder query, newest first.
type MessagePage struct {
	Items      []*Message
	Page       int
	PageSize   int
	TotalCount int64
}

// TotalPages returns the number of pages the query spans.
func (p *MessagePage) TotalPages() int {
	if p.PageSize <= 0 {
		return 0
	}
	return int((p.TotalCount + int64(p.PageSize) - 1) / int64(p.PageSize))
}
