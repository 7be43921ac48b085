package models

// ReactionUp and ReactionDown are the mutually exclusive vote pair. The
// remote store accepts other reaction types but the client protocol only
// enforces exclusivity between these two.
const (
	ReactionUp   = "up"
	ReactionDown = "down"
)

// Comment is a single entry in a record's discussion thread. Ordering is
// server-assigned creation order; clients never reorder.
type Comment struct {
	ID          string     `json:"id"`
	Record      int64      `json:"record"`
	AuthorID    string     `json:"author_id,omitempty"`
	AuthorLogin string     `json:"author_login"`
	Body        string     `json:"body"`
	CreatedTS   int64      `json:"created_ts"`
	UpdatedTS   int64      `json:"updated_ts,omitempty"`
	Reactions   []Reaction `json:"reactions,omitempty"`
}

// Reaction is a togglable mark left by an author on a comment.
type Reaction struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	AuthorLogin string `json:"author_login"`
}

// HasReaction reports whether author holds a reaction of the given type and
// returns it when present.
func HasReaction(set []Reaction, authorLogin, typ string) (Reaction, bool) {
	for _, rx := range set {
		if rx.AuthorLogin == authorLogin && rx.Type == typ {
			return rx, true
		}
	}
	return Reaction{}, false
}
