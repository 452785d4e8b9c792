package aggregate

import "errors"

// Aggregation failure kinds. Operations fail fast with one of these;
// batch forms recover per symbol instead.
var (
	ErrEmptyInput                = errors.New("empty quote input")
	ErrInsufficientSources       = errors.New("fewer quotes than minimum sources")
	ErrInsufficientRecentSources = errors.New("fewer recent quotes than minimum sources after window filter")
	ErrSymbolMismatch            = errors.New("quote symbol does not match requested symbol")
	ErrInvalidPriceValue         = errors.New("quote price is not finite and strictly positive")
	ErrUnknownMethod             = errors.New("unknown aggregation method")
	ErrZeroTotalWeight           = errors.New("total weight is zero")
	ErrInvalidTrimFraction       = errors.New("trim fraction must be in [0, 0.5)")
	ErrInvalidMinSources         = errors.New("minimum sources must be at least 1")
	ErrEmptySymbol               = errors.New("symbol must not be empty")
)
