package relay

import "time"

// EventSink receives relay events in emission order. Implementations must
// deliver each event before returning; a Send error means the client is
// unreachable and aborts the batch.
type EventSink interface {
	Send(event any) error
}

// ProgressEvent marks a question as starting.
type ProgressEvent struct {
	Type      string `json:"type"`
	Current   int    `json:"current"`
	Total     int    `json:"total"`
	Question  string `json:"question"`
	Index     int    `json:"index"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// TokenEvent carries one incremental answer fragment.
type TokenEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Chunk string `json:"chunk"`
}

// AnswerDoneEvent closes out a question with its full answer, or a failure
// description when Error is true.
type AnswerDoneEvent struct {
	Type      string `json:"type"`
	Index     int    `json:"index"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Error     bool   `json:"error"`
	Timestamp string `json:"timestamp"`
}

// CompleteEvent marks the end of a batch stream.
type CompleteEvent struct {
	Type           string `json:"type"`
	TotalQuestions int    `json:"totalQuestions"`
}

func newProgressEvent(index, total int, question string) ProgressEvent {
	return ProgressEvent{
		Type:      "progress",
		Current:   index + 1,
		Total:     total,
		Question:  question,
		Index:     index,
		Status:    "processing",
		Timestamp: eventTimestamp(),
	}
}

func newTokenEvent(index int, chunk string) TokenEvent {
	return TokenEvent{Type: "token", Index: index, Chunk: chunk}
}

func newAnswerDoneEvent(index int, question, answer string, failed bool) AnswerDoneEvent {
	return AnswerDoneEvent{
		Type:      "answer_done",
		Index:     index,
		Question:  question,
		Answer:    answer,
		Error:     failed,
		Timestamp: eventTimestamp(),
	}
}

func newCompleteEvent(total int) CompleteEvent {
	return CompleteEvent{Type: "complete", TotalQuestions: total}
}

func eventTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
