package chatgpt

// Completion is the final outcome of a consumed stream. MessageID and
// ConversationID are set only by transports whose upstream assigns ids
// (the web backend); otherwise they are empty and the caller mints ids.
type Completion struct {
	Text           string
	MessageID      string
	ConversationID string
}

// Stream is a finite sequence of incremental completion text deltas.
// Recv returns io.EOF after the last delta; a delta may be empty when an
// upstream event carried no content. A consumed stream cannot be
// replayed; retrying requires a fresh upstream call.
type Stream interface {
	// Recv returns the next text delta
	Recv() (string, error)

	// Result returns the accumulated completion. Valid once Recv has
	// returned io.EOF.
	Result() Completion

	// Close releases the underlying connection
	Close() error
}
