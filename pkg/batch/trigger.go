package batch

// Reason explains why a flush was triggered.
type Reason string

const (
	ReasonBatchSize    Reason = "batch size reached"
	ReasonStreamChange Reason = "stream boundary crossed"
)

// Decision names the stream to flush, if any. The zero value means no
// flush.
type Decision struct {
	Stream string
	Reason Reason
}

// Flush reports whether the decision selects a stream.
func (d Decision) Flush() bool { return d.Stream != "" }

// Evaluate decides whether the record just appended to the current
// stream forces an interim flush.
//
// A count that is a multiple of syncBatch flushes the current stream;
// failing that, crossing a stream boundary (with flushOnChange set)
// flushes the previous stream. At most one stream is selected per
// record, and the batch-size trigger wins when both conditions hold.
// syncBatch <= 0 means unbounded: no batch-size flushes.
func Evaluate(current string, count, syncBatch int, flushOnChange bool, previous string) Decision {
	if syncBatch > 0 && count > 0 && count%syncBatch == 0 {
		return Decision{Stream: current, Reason: ReasonBatchSize}
	}
	if flushOnChange && previous != "" && previous != current {
		return Decision{Stream: previous, Reason: ReasonStreamChange}
	}
	return Decision{}
}
