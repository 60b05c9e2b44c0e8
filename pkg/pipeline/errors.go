package pipeline

import "github.com/pkg/errors"

var (
	// ErrEndOfStream is the control signal a generator raises once its input
	// is exhausted. It travels downstream in-band as an Item's Err field and
	// causes every stage that observes it to forward it once, then exit.
	ErrEndOfStream = errors.New("pipeline: end of stream")

	// ErrBufferClosed is raised by a BufferQueue when Push or Pop is called
	// while the queue is in the Closed mode. It is never produced by user
	// code and is never forwarded downstream: it means the buffer itself is
	// gone, not that the data stream ended.
	ErrBufferClosed = errors.New("pipeline: buffer closed")

	// ErrPipelineNil is returned by an Add* builder function called with a
	// nil *Pipeline.
	ErrPipelineNil = errors.New("pipeline: pipeline must be set")

	// ErrInputNil is returned by an Add* builder function called with a nil
	// upstream stage handle.
	ErrInputNil = errors.New("pipeline: input stage must be set")
)

// IsControlSignal reports whether err is one of the control signals the
// library uses internally (ErrEndOfStream, ErrBufferClosed) rather than a
// genuine user/programmer error.
func IsControlSignal(err error) bool {
	return errors.Is(err, ErrEndOfStream) || errors.Is(err, ErrBufferClosed)
}
