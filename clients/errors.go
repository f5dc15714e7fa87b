package clients

import (
	"errors"
	"fmt"
)

const (
	// -----------------------------
	// GETTER EXECUTION
	// -----------------------------
	ErrGetterExitCode  = "getter_nonzero_exit_code"
	ErrGetterBadResult = "getter_unexpected_result_shape"

	// -----------------------------
	// TRANSPORT
	// -----------------------------
	ErrLiteserverUnavailable = "liteserver_unavailable"
	ErrBlockNotReady         = "masterchain_block_not_ready"

	// -----------------------------
	// ACCOUNT
	// -----------------------------
	ErrAccountNotFound = "account_not_found"
)

// ContractExecError preserves the TVM exit code of a failed get-method
// run. A nonzero exit code from a registration getter means the record
// does not exist yet, which is a retryable condition, not a fault.
type ContractExecError struct {
	Code int32
}

func (e *ContractExecError) Error() string {
	return fmt.Sprintf("contract getter exited with code %d", e.Code)
}

// IsExitCode reports whether err is a TVM exit-code failure.
func IsExitCode(err error) bool {
	var execErr *ContractExecError
	return errors.As(err, &execErr)
}
