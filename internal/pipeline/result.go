package pipeline

// Kind says how the driver treats a failed stage.
type Kind int

const (
	// KindFatal fails the track, and with it a single-track job.
	KindFatal Kind = iota
	// KindSkip ends the track early without counting it as failed.
	KindSkip
	// KindBestEffort is logged and the track carries on with what it had.
	KindBestEffort
)

func (k Kind) String() string {
	switch k {
	case KindFatal:
		return "fatal"
	case KindSkip:
		return "skip"
	case KindBestEffort:
		return "best_effort"
	}
	return "unknown"
}

// Result is the outcome of one stage: a value, or a reason and a Kind.
type Result[T any] struct {
	Value  T
	Reason string
	Kind   Kind
	failed bool
}

// Ok wraps a successful stage value.
func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Failed reports a stage failure.
func Failed[T any](reason string, kind Kind) Result[T] {
	return Result[T]{Reason: reason, Kind: kind, failed: true}
}

// Fatal is Failed(err.Error(), KindFatal).
func Fatal[T any](err error) Result[T] {
	return Failed[T](err.Error(), KindFatal)
}

// Skipped reports a skip that still carries a value, such as the path of
// the file that made the work unnecessary.
func Skipped[T any](v T, reason string) Result[T] {
	return Result[T]{Value: v, Reason: reason, Kind: KindSkip, failed: true}
}

// OK reports whether the stage succeeded.
func (r Result[T]) OK() bool { return !r.failed }

// Is reports whether the stage failed with kind k.
func (r Result[T]) Is(k Kind) bool { return r.failed && r.Kind == k }
