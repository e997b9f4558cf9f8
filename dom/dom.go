// Package dom defines the numeric DOM exception codes shared by the worker
// context, the indexed list and the script bridge.
package dom

import (
	"fmt"

	"github.com/pkg/errors"
)

// ExceptionCode is a legacy DOMException code. Zero means no exception.
type ExceptionCode uint16

const (
	NoException ExceptionCode = iota
	IndexSizeError
	DOMStringSizeError
	HierarchyRequestError
	WrongDocumentError
	InvalidCharacterError
	NoDataAllowedError
	NoModificationAllowedError
	NotFoundError
	NotSupportedError
	InUseAttributeError
	InvalidStateError
	SyntaxError
	InvalidModificationError
	NamespaceError
	InvalidAccessError
	ValidationError
	TypeMismatchError
	SecurityError
	NetworkError
	AbortError
	URLMismatchError
	QuotaExceededError
	TimeoutError
	InvalidNodeTypeError
	DataCloneError
)

var names = [...]string{
	NoException:                "",
	IndexSizeError:             "IndexSizeError",
	DOMStringSizeError:         "DOMStringSizeError",
	HierarchyRequestError:      "HierarchyRequestError",
	WrongDocumentError:         "WrongDocumentError",
	InvalidCharacterError:      "InvalidCharacterError",
	NoDataAllowedError:         "NoDataAllowedError",
	NoModificationAllowedError: "NoModificationAllowedError",
	NotFoundError:              "NotFoundError",
	NotSupportedError:          "NotSupportedError",
	InUseAttributeError:        "InUseAttributeError",
	InvalidStateError:          "InvalidStateError",
	SyntaxError:                "SyntaxError",
	InvalidModificationError:   "InvalidModificationError",
	NamespaceError:             "NamespaceError",
	InvalidAccessError:         "InvalidAccessError",
	ValidationError:            "ValidationError",
	TypeMismatchError:          "TypeMismatchError",
	SecurityError:              "SecurityError",
	NetworkError:               "NetworkError",
	AbortError:                 "AbortError",
	URLMismatchError:           "URLMismatchError",
	QuotaExceededError:         "QuotaExceededError",
	TimeoutError:               "TimeoutError",
	InvalidNodeTypeError:       "InvalidNodeTypeError",
	DataCloneError:             "DataCloneError",
}

var constantNames = [...]string{
	IndexSizeError:             "INDEX_SIZE_ERR",
	DOMStringSizeError:         "DOMSTRING_SIZE_ERR",
	HierarchyRequestError:      "HIERARCHY_REQUEST_ERR",
	WrongDocumentError:         "WRONG_DOCUMENT_ERR",
	InvalidCharacterError:      "INVALID_CHARACTER_ERR",
	NoDataAllowedError:         "NO_DATA_ALLOWED_ERR",
	NoModificationAllowedError: "NO_MODIFICATION_ALLOWED_ERR",
	NotFoundError:              "NOT_FOUND_ERR",
	NotSupportedError:          "NOT_SUPPORTED_ERR",
	InUseAttributeError:        "INUSE_ATTRIBUTE_ERR",
	InvalidStateError:          "INVALID_STATE_ERR",
	SyntaxError:                "SYNTAX_ERR",
	InvalidModificationError:   "INVALID_MODIFICATION_ERR",
	NamespaceError:             "NAMESPACE_ERR",
	InvalidAccessError:         "INVALID_ACCESS_ERR",
	ValidationError:            "VALIDATION_ERR",
	TypeMismatchError:          "TYPE_MISMATCH_ERR",
	SecurityError:              "SECURITY_ERR",
	NetworkError:               "NETWORK_ERR",
	AbortError:                 "ABORT_ERR",
	URLMismatchError:           "URL_MISMATCH_ERR",
	QuotaExceededError:         "QUOTA_EXCEEDED_ERR",
	TimeoutError:               "TIMEOUT_ERR",
	InvalidNodeTypeError:       "INVALID_NODE_TYPE_ERR",
	DataCloneError:             "DATA_CLONE_ERR",
}

// Codes returns every defined code except NoException, in order.
func Codes() []ExceptionCode {
	result := make([]ExceptionCode, 0, len(names)-1)
	for c := IndexSizeError; int(c) < len(names); c++ {
		result = append(result, c)
	}
	return result
}

// ConstantName returns the legacy constant name of c, e.g. "INDEX_SIZE_ERR".
func (c ExceptionCode) ConstantName() string {
	if int(c) < len(constantNames) {
		return constantNames[c]
	}
	return ""
}

// Name returns the DOMException name for c, e.g. "IndexSizeError".
func (c ExceptionCode) Name() string {
	if int(c) < len(names) {
		return names[c]
	}
	return fmt.Sprintf("DOMException%d", uint16(c))
}

func (c ExceptionCode) String() string {
	return c.Name()
}

// Exception is the Go side of a DOMException. It travels as an error until
// the script bridge turns it into a thrown script object.
type Exception struct {
	Code    ExceptionCode
	Message string
}

// New returns an *Exception with a stack attached.
func New(code ExceptionCode, format string, args ...any) error {
	return errors.WithStack(&Exception{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	})
}

func (e *Exception) Error() string {
	if e.Message == "" {
		return e.Code.Name()
	}
	return fmt.Sprintf("%s: %s", e.Code.Name(), e.Message)
}

// Is makes errors.Is match any *Exception with the same code.
func (e *Exception) Is(target error) bool {
	other, ok := target.(*Exception)
	return ok && other.Code == e.Code
}

// CodeOf returns the code of the first *Exception in err's chain, or
// NoException.
func CodeOf(err error) ExceptionCode {
	var ex *Exception
	if errors.As(err, &ex) {
		return ex.Code
	}
	return NoException
}

// Err is a code-only target for errors.Is, e.g. errors.Is(err, dom.Err(dom.IndexSizeError)).
func Err(code ExceptionCode) error {
	return &Exception{Code: code}
}
