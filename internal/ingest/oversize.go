package ingest

const (
	// MessageOK accompanies documents that carry the file content.
	MessageOK = "ok"
	// MessageTooLarge accompanies metadata-only documents for oversize files.
	MessageTooLarge = "too large"
)

// Payload says whether a file's bytes travel with its document
type Payload struct {
	Inline  bool
	Message string
}

// Shape decides the payload for a file of size bytes. Files strictly larger
// than threshold are sent without content.
func Shape(size, threshold int64) Payload {
	if size > threshold {
		return Payload{Inline: false, Message: MessageTooLarge}
	}
	return Payload{Inline: true, Message: MessageOK}
}
