package fault

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Description is what can be learned from a native error.
type Description struct {
	Code           string
	Message        string
	AdditionalData []any
}

func (d Description) details() map[string]any {
	out := make(map[string]any, 3)
	if d.Code != "" {
		out["code"] = d.Code
	}
	if d.Message != "" {
		out["message"] = d.Message
	}
	if len(d.AdditionalData) > 0 {
		out["additionalData"] = d.AdditionalData
	}
	return out
}

// Describe extracts a shell-style code and a message from a native error.
// gRPC status errors, Coder implementations and context errors carry a code;
// other errors only contribute their message.
func Describe(err error) Description {
	if err == nil {
		return Description{}
	}

	var coder Coder
	switch {
	case errors.As(err, &coder):
		return Description{Code: CodeName(coder.ErrorCode()), Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return Description{Code: "deadline-exceeded", Message: err.Error()}
	case errors.Is(err, context.Canceled):
		return Description{Code: "cancelled", Message: err.Error()}
	}

	if s, ok := status.FromError(err); ok && s.Code() != codes.OK {
		d := Description{Code: grpcCodeName(s.Code()), Message: s.Message()}
		if det := s.Details(); len(det) > 0 {
			d.AdditionalData = det
		}
		return d
	}

	return Description{Message: err.Error()}
}

func grpcCodeName(c codes.Code) string {
	if c == codes.Canceled {
		return "cancelled"
	}
	return CodeName(c.String())
}

// CodeName converts an error code to the shell's lower-case dashed form:
// "DEADLINE_EXCEEDED" and "DeadlineExceeded" both become "deadline-exceeded".
func CodeName(code string) string {
	if code == "" {
		return ""
	}
	if strings.ContainsAny(code, "_-") || strings.ToUpper(code) == code {
		return strings.ReplaceAll(strings.ToLower(code), "_", "-")
	}

	var b strings.Builder
	for i, r := range code {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('-')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
