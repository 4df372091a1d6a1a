package ledger

import (
	"fmt"

	"github.com/schoolfees/schoolfees/internal/shared"
)

var (
	// ErrInvalidAmount indicates a non-positive money amount.
	ErrInvalidAmount = fmt.Errorf("ledger: amount must be positive: %w", shared.ErrValidation)
	// ErrInvalidPercentage indicates a percentage outside (0, 100].
	ErrInvalidPercentage = fmt.Errorf("ledger: percentage must be within (0, 100]: %w", shared.ErrValidation)
	// ErrInvalidLateFeeType indicates an unknown late fee type.
	ErrInvalidLateFeeType = fmt.Errorf("ledger: late fee type must be fixed or percentage: %w", shared.ErrValidation)
	// ErrFeeNotFound indicates the fee line is not on the student.
	ErrFeeNotFound = fmt.Errorf("ledger: fee %w", shared.ErrNotFound)
	// ErrLedgerMismatch indicates stored derived values disagree with a recompute.
	ErrLedgerMismatch = fmt.Errorf("ledger: recompute mismatch: %w", shared.ErrConsistency)
)
