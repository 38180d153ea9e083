package storage

import "fmt"

// Transfer operations
const (
	OpArchive  = "archive"
	OpUpload   = "upload"
	OpDownload = "download"
	OpCopy     = "copy"
)

// TransferError reports a failed archive, upload, download or copy.
// It carries the source, destination and underlying cause.
type TransferError struct {
	Op  string
	Src string
	Dst string
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s -> %s: %v", e.Op, e.Src, e.Dst, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
