package ragzip

import "errors"

// The four error kinds ragzip distinguishes. Wrap one of these with
// fmt.Errorf's %w so callers can classify a failure with errors.Is, without
// caring about the exact operation that produced it.
var (
	// ErrConfiguration marks a bad caller-supplied parameter: an out of
	// range P/I, a resume against a file whose tree shape or footer version
	// doesn't match what the caller asked for.
	ErrConfiguration = errors.New("ragzip: configuration error")

	// ErrFormat marks a file that isn't shaped like a ragzip file: bad
	// magic, a missing RA subfield where one was required, a non-monotone
	// offset during tree descent, an unsupported footer version, a short
	// read where a fixed-size structure was expected.
	ErrFormat = errors.New("ragzip: format error")

	// ErrIntegrity marks a file that is shaped correctly but whose
	// checksums don't verify: gzip CRC/ISIZE mismatch, a deflate error
	// partway through a member, a premature end of stream.
	ErrIntegrity = errors.New("ragzip: integrity error")

	// ErrCapacity marks an operation that would exceed a hard limit:
	// MaxUncompressedSize, MaxExtensionCount, MaxExtensionPayload.
	ErrCapacity = errors.New("ragzip: capacity exceeded")
)

// FormatError carries the byte offset at which a format violation was
// detected, for diagnosability when ErrFormat bubbles up through several
// layers of tree descent.
type FormatError struct {
	Offset int64
	Msg    string
}

func (e *FormatError) Error() string {
	return "ragzip: format error at offset " + itoa(e.Offset) + ": " + e.Msg
}

func (e *FormatError) Unwrap() error { return ErrFormat }

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// StageError records a failure that occurred inside one named stage of a
// parallel pipeline (C7/C8).
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return "ragzip: stage " + e.Stage + ": " + e.Err.Error() }
func (e *StageError) Unwrap() error  { return e.Err }

// PipelineError aggregates every stage failure a parallel pipeline run
// captured before shutting down, in the order they were received.
type PipelineError struct {
	Stages []*StageError
}

func (e *PipelineError) Error() string {
	if len(e.Stages) == 1 {
		return e.Stages[0].Error()
	}
	s := "ragzip: pipeline failed with " + itoa(int64(len(e.Stages))) + " stage errors"
	if len(e.Stages) > 0 {
		s += ": " + e.Stages[0].Error()
	}
	return s
}

func (e *PipelineError) Unwrap() []error {
	errs := make([]error, len(e.Stages))
	for i, s := range e.Stages {
		errs[i] = s
	}
	return errs
}
