package policy

import (
	"errors"
	"fmt"
)

// Remedial is implemented by errors that carry user-facing next steps.
type Remedial interface {
	error
	Remedies() []string
}

// Remedies collects the suggestions from every Remedial error in err's chain.
func Remedies(err error) []string {
	var out []string
	for err != nil {
		if r, ok := err.(Remedial); ok {
			out = append(out, r.Remedies()...)
		}
		err = errors.Unwrap(err)
	}
	return out
}

// TooLargeError is returned when an input exceeds the in-memory ceiling.
type TooLargeError struct {
	Op    string
	Size  int64
	Limit int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("%s: file is %.0f MB, limit is %.0f MB (needs about %.0f MB of memory)",
		e.Op, ToMB(e.Size), ToMB(e.Limit), ToMB(e.Size*WorkingSetFactor))
}

// Remedies suggests alternatives that avoid a full in-memory pass.
func (e *TooLargeError) Remedies() []string {
	return []string{
		"Truncate the backup to recent messages on a computer and import the smaller file",
		"Export a shorter date range from the backup app",
		fmt.Sprintf("Keep the file under %.0f MB (under 20 MB is safest)", ToMB(e.Limit)),
	}
}

// RiskyError is returned for inputs in the risky band when the caller did
// not opt in.
type RiskyError struct {
	Op   string
	Size int64
}

func (e *RiskyError) Error() string {
	return fmt.Sprintf("%s: file is %.0f MB and needs about %.0f MB of memory; this may fail",
		e.Op, ToMB(e.Size), ToMB(e.Size*WorkingSetFactor))
}

// Remedies suggests how to continue.
func (e *RiskyError) Remedies() []string {
	return []string{
		"Re-run with -force to try anyway",
		"Split the file into smaller backups instead",
		"Reduce the file on a computer before importing",
	}
}

// FatalError aborts an import run.
type FatalError struct {
	Op      string
	Err     error
	Suggest []string
}

func (e *FatalError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Remedies returns the attached suggestions, or a generic retry hint.
func (e *FatalError) Remedies() []string {
	if len(e.Suggest) == 0 {
		return []string{"Check the file and try again"}
	}
	return e.Suggest
}

// ErrNoMessages is wrapped when a backup holds no extractable messages.
var ErrNoMessages = errors.New("no SMS messages found in file")

// Fatal wraps err with remediation suggestions.
func Fatal(op string, err error, suggest ...string) *FatalError {
	return &FatalError{Op: op, Err: err, Suggest: suggest}
}
