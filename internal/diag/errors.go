package diag

import "errors"

// Error taxonomy shared by the archive, memory, codec and loading layers.
// Callers match with errors.Is.
var (
	// ErrSourceNotFound indicates the archive or image file does not exist.
	ErrSourceNotFound = errors.New("source not found")

	// ErrSourceEmpty indicates the source exists but has zero size or no images.
	ErrSourceEmpty = errors.New("source is empty")

	// ErrSourceIncompatible indicates the source failed a path-length or
	// structure check.
	ErrSourceIncompatible = errors.New("source incompatible")

	// ErrOpenFailed indicates the container could not be opened for reading.
	ErrOpenFailed = errors.New("open failed")

	// ErrEnumerationFailed indicates the entry listing failed or violated a
	// structure limit.
	ErrEnumerationFailed = errors.New("enumeration failed")

	// ErrExtractionFailed indicates a single entry could not be extracted.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrCorruptedEntry indicates the entry failed before and is skipped.
	ErrCorruptedEntry = errors.New("entry known corrupted")

	// ErrMemoryExhausted indicates an allocation was denied or failed.
	ErrMemoryExhausted = errors.New("memory exhausted")

	// ErrDecodeFailed indicates the image codec rejected the bytes.
	ErrDecodeFailed = errors.New("decode failed")

	// ErrInvalidIndex indicates an out-of-range or negative entry index.
	ErrInvalidIndex = errors.New("invalid index")
)
