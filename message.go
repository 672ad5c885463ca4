package remux

import "github.com/cleoag/remux/internal/flv"

// Message is an instruction to the remuxer. The set of messages is closed.
type Message interface {
	message()
}

// PushTag queues an FLV tag for remuxing
type PushTag struct {
	Tag flv.Tag
}

// PushFlvHeader applies the FLV file header
type PushFlvHeader struct {
	Header flv.Header
}

// PushMetadata applies an onMetaData script object
type PushMetadata struct {
	Metadata flv.RawMetaData
}

// StartRemuxing enables processing of queued tags
type StartRemuxing struct{}

// StopRemuxing pauses processing. Tags keep queueing.
type StopRemuxing struct{}

// CloseWorker flushes buffered media and ends the remuxer loop
type CloseWorker struct{}

// Heartbeat wakes the remuxer without changing its state
type Heartbeat struct{}

func (PushTag) message()       {}
func (PushFlvHeader) message() {}
func (PushMetadata) message()  {}
func (StartRemuxing) message() {}
func (StopRemuxing) message()  {}
func (CloseWorker) message()   {}
func (Heartbeat) message()     {}
