package source

import (
	"context"

	"github.com/firefart/dmarcanalyzer/internal/dmarc"
)

// Source supplies parsed aggregate reports. Documents that could be read
// are returned even if others failed, the failures are reported in the
// error.
type Source interface {
	Load(ctx context.Context) ([]dmarc.Document, error)
}
