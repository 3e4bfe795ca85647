package pipeline

// Observer receives pipeline events. Calls come from the consumer loop or
// the goroutine issuing a command, never from the audio callback, and must
// not block.
type Observer interface {
	StatusChanged(text string, severity Severity)
	TranscriptAppended(text string)
	SummaryUpdated(text string)
}

// Funcs adapts plain functions to Observer. Nil fields are ignored.
type Funcs struct {
	Status     func(text string, severity Severity)
	Transcript func(text string)
	Summary    func(text string)
}

func (f Funcs) StatusChanged(text string, severity Severity) {
	if f.Status != nil {
		f.Status(text, severity)
	}
}

func (f Funcs) TranscriptAppended(text string) {
	if f.Transcript != nil {
		f.Transcript(text)
	}
}

func (f Funcs) SummaryUpdated(text string) {
	if f.Summary != nil {
		f.Summary(text)
	}
}
