package pipeline

// Filtered marks the output of a filtering stage: one that ingests N inputs
// and produces at most N outputs. When Ok is false, the item that produced
// it is dropped and no downstream push happens, but the stage's worker
// keeps processing the next input.
type Filtered[T any] struct {
	Value T
	Ok    bool
}

// Filter wraps a callable I -> (O, error) into one that produces a
// Filtered[O], for use with AddFilter. The returned Filtered always carries
// Ok=true; callables that need to drop an item should be written directly
// against the Filtered-returning signature AddFilter expects instead of
// through Filter.
func Filter[I, O any](operation func(I) (O, error)) func(I) (Filtered[O], error) {
	return func(in I) (Filtered[O], error) {
		out, err := operation(in)
		if err != nil {
			return Filtered[O]{}, err
		}
		return Filtered[O]{Value: out, Ok: true}, nil
	}
}

// Hatchable marks the input/output of a hatching stage: one that ingests N
// inputs and produces at least N outputs. The zero value (Ok=false) is the
// "continue emitting" ping fed to a hatch-transform callable after its
// first invocation for a given input, and the "no more outputs for this
// input" signal the callable returns to end the burst.
type Hatchable[T any] struct {
	Value T
	Ok    bool
}

// Hatch wraps a single-value callable I -> (O, error) into a hatch-transform
// callable that emits exactly one output per input, for composing with
// AddHatchTransform when a stage only occasionally needs to emit more than
// one value. The wrapped callable ends the burst on the first empty ping.
func Hatch[I, O any](operation func(I) (O, error)) func(Hatchable[I]) (Hatchable[O], error) {
	return func(in Hatchable[I]) (Hatchable[O], error) {
		if !in.Ok {
			return Hatchable[O]{}, nil
		}
		out, err := operation(in.Value)
		if err != nil {
			return Hatchable[O]{}, err
		}
		return Hatchable[O]{Value: out, Ok: true}, nil
	}
}
