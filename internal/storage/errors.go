package storage

import "errors"

// ErrCorruptLedger is returned when a persisted position fails validation on load.
var ErrCorruptLedger = errors.New("corrupt position ledger")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("storage closed")
