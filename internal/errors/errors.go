// Package errors provides coded errors shared by the pipeline stages and the
// helper-process client, with a mapping to gRPC status codes.
package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Code classifies a failure.
type Code string

const (
	Unknown           Code = "UNKNOWN"
	Internal          Code = "INTERNAL"
	InvalidArgument   Code = "INVALID_ARGUMENT"
	Unavailable       Code = "UNAVAILABLE"
	Timeout           Code = "TIMEOUT"
	Cancelled         Code = "CANCELLED"
	FrameInvalid      Code = "FRAME_INVALID"
	FrameExpired      Code = "FRAME_EXPIRED"
	DetectorFailed    Code = "DETECTOR_FAILED"
	RecognizerFailed  Code = "RECOGNIZER_FAILED"
	CropFailed        Code = "CROP_FAILED"
	DiffFailed        Code = "DIFF_FAILED"
	TranslationFailed Code = "TRANSLATION_FAILED"
	ConfigInvalid     Code = "CONFIG_INVALID"
)

var grpcCodeMap = map[Code]codes.Code{
	Unknown:           codes.Unknown,
	Internal:          codes.Internal,
	InvalidArgument:   codes.InvalidArgument,
	Unavailable:       codes.Unavailable,
	Timeout:           codes.DeadlineExceeded,
	Cancelled:         codes.Canceled,
	FrameInvalid:      codes.InvalidArgument,
	FrameExpired:      codes.FailedPrecondition,
	DetectorFailed:    codes.Internal,
	RecognizerFailed:  codes.Internal,
	CropFailed:        codes.Internal,
	DiffFailed:        codes.Internal,
	TranslationFailed: codes.Internal,
	ConfigInvalid:     codes.InvalidArgument,
}

// AppError carries a code, message and optional metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// Detail encodes the error as a protobuf Struct for status details.
func (e *AppError) Detail() *structpb.Struct {
	fields := map[string]any{"code": string(e.Code), "message": e.Message}
	if len(e.Metadata) > 0 {
		md := make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			md[k] = v
		}
		fields["metadata"] = md
	}
	s, _ := structpb.NewStruct(fields)
	return s
}

// GRPCStatus returns a gRPC status with the detail attached.
func (e *AppError) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Error())
	if withDetail, err := st.WithDetails(e.Detail()); err == nil {
		return withDetail
	}
	return st
}

// New creates an AppError.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates an AppError with a formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a code.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps err with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds a metadata entry.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// FromGRPCError converts a gRPC error into an AppError, preferring an
// attached detail over the bare status code.
func FromGRPCError(err error) *AppError {
	st, ok := status.FromError(err)
	if !ok {
		return &AppError{Code: Unknown, Message: err.Error(), Cause: err}
	}
	for _, d := range st.Details() {
		s, ok := d.(*structpb.Struct)
		if !ok {
			if a, isAny := d.(*anypb.Any); isAny {
				s = &structpb.Struct{}
				ok = a.UnmarshalTo(s) == nil
			}
		}
		if !ok {
			continue
		}
		fields := s.GetFields()
		code := Code(fields["code"].GetStringValue())
		if code == "" {
			continue
		}
		appErr := &AppError{Code: code, Message: fields["message"].GetStringValue(), Cause: err}
		for k, v := range fields["metadata"].GetStructValue().GetFields() {
			appErr.WithMetadata(k, v.GetStringValue())
		}
		return appErr
	}
	return &AppError{Code: fromGRPCCode(st.Code()), Message: st.Message(), Cause: err}
}

func fromGRPCCode(c codes.Code) Code {
	switch c {
	case codes.InvalidArgument:
		return InvalidArgument
	case codes.Unavailable:
		return Unavailable
	case codes.DeadlineExceeded:
		return Timeout
	case codes.Canceled:
		return Cancelled
	case codes.Internal:
		return Internal
	default:
		return Unknown
	}
}

// CodeOf returns the code of the first AppError in err's chain, or Unknown.
func CodeOf(err error) Code {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return Unknown
}

// IsCode checks whether err carries code anywhere in its chain.
func IsCode(err error, code Code) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}

// IsRetryable reports whether the failure is transient.
func IsRetryable(err error) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case Unavailable, Timeout:
		return true
	default:
		return false
	}
}
