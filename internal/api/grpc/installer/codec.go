package installer

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	svc "github.com/oshokin/boot-installer/internal/service/installer"
)

// Message field names.
const (
	fieldOperation   = "operation"
	fieldInputPath   = "input_path"
	fieldRequestedBy = "requested_by"
	fieldSession     = "session"
	fieldStates      = "states"
	fieldOutput      = "output"
	fieldConsole     = "console"
	fieldError       = "error"
	fieldActive      = "active"
	fieldVersion     = "version"
)

var (
	// ErrRemoteFailed wraps the failure reported by the daemon for an operation.
	ErrRemoteFailed = errors.New("remote installation failed")

	errMalformedMessage = errors.New("malformed message")
)

// Call is an Execute request.
type Call struct {
	// Operation to run on the daemon.
	Operation svc.Operation
	// InputPath is the daemon-side path of the file for the patch operation.
	InputPath string
	// RequestedBy identifies the caller in daemon logs.
	RequestedBy string
}

// Status is the daemon state returned by Status.
type Status struct {
	// Active is true while an operation runs.
	Active bool
	// Version of the daemon.
	Version string
}

// EncodeCall converts c to its wire form.
func EncodeCall(c Call) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		fieldOperation:   c.Operation.String(),
		fieldInputPath:   c.InputPath,
		fieldRequestedBy: c.RequestedBy,
	})
}

// DecodeCall parses an Execute request.
func DecodeCall(s *structpb.Struct) (Call, error) {
	fields := s.GetFields()

	op, err := svc.ParseOperation(fields[fieldOperation].GetStringValue())
	if err != nil {
		return Call{}, err
	}

	return Call{
		Operation:   op,
		InputPath:   fields[fieldInputPath].GetStringValue(),
		RequestedBy: fields[fieldRequestedBy].GetStringValue(),
	}, nil
}

// EncodeResult converts an operation result and its error to the wire form.
func EncodeResult(res *svc.Result, runErr error) (*structpb.Struct, error) {
	if res == nil {
		res = new(svc.Result)
	}

	states := make([]any, 0, len(res.States))
	for _, s := range res.States {
		states = append(states, s.String())
	}

	lines := make([]any, 0, len(res.Console))
	for _, line := range res.Console {
		lines = append(lines, line)
	}

	fields := map[string]any{
		fieldOperation: res.Operation.String(),
		fieldSession:   res.Session,
		fieldStates:    states,
		fieldOutput:    res.Output,
		fieldConsole:   lines,
	}

	if runErr != nil {
		fields[fieldError] = runErr.Error()
	}

	return structpb.NewStruct(fields)
}

// DecodeResult parses an Execute response. A failure reported by the daemon is
// returned as ErrRemoteFailed together with the decoded result.
func DecodeResult(s *structpb.Struct) (*svc.Result, error) {
	fields := s.GetFields()

	op, err := svc.ParseOperation(fields[fieldOperation].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformedMessage, err)
	}

	res := &svc.Result{
		Operation: op,
		Session:   fields[fieldSession].GetStringValue(),
		Output:    fields[fieldOutput].GetStringValue(),
	}

	for _, v := range fields[fieldStates].GetListValue().GetValues() {
		state, ok := svc.ParseState(v.GetStringValue())
		if !ok {
			return nil, fmt.Errorf("%w: unknown state %q", errMalformedMessage, v.GetStringValue())
		}

		res.States = append(res.States, state)
	}

	for _, v := range fields[fieldConsole].GetListValue().GetValues() {
		res.Console = append(res.Console, v.GetStringValue())
	}

	if msg := fields[fieldError].GetStringValue(); msg != "" {
		return res, fmt.Errorf("%w: %s", ErrRemoteFailed, msg)
	}

	return res, nil
}

// EncodeStatus converts st to the wire form.
func EncodeStatus(st Status) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		fieldActive:  st.Active,
		fieldVersion: st.Version,
	})
}

// DecodeStatus parses a Status response.
func DecodeStatus(s *structpb.Struct) Status {
	fields := s.GetFields()

	return Status{
		Active:  fields[fieldActive].GetBoolValue(),
		Version: fields[fieldVersion].GetStringValue(),
	}
}
