package dmarc

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ReportFilename holds the parts of an aggregate report filename as
// described in RFC 7489 section 7.2.1.1.
type ReportFilename struct {
	Receiver     string
	PolicyDomain string
	Begin        time.Time
	End          time.Time
	UniqueID     string
}

// ParseReportFilename splits a filename of the form
//
//	receiver "!" policy-domain "!" begin-timestamp "!" end-timestamp [ "!" unique-id ] "." extension
func ParseReportFilename(filename string) (ReportFilename, error) {
	filename = filepath.Base(filename)
	// domains contain dots, so extensions (often .xml.gz) are only stripped
	// after the last "!"
	if last := strings.LastIndex(filename, "!"); last >= 0 {
		if i := strings.Index(filename[last+1:], "."); i >= 0 {
			filename = filename[:last+1+i]
		}
	}
	parts := strings.Split(filename, "!")
	if len(parts) < 4 {
		return ReportFilename{}, fmt.Errorf("filename %q does not match RFC", filename)
	}
	begin, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return ReportFilename{}, fmt.Errorf("invalid begin timestamp in %q: %w", filename, err)
	}
	end, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return ReportFilename{}, fmt.Errorf("invalid end timestamp in %q: %w", filename, err)
	}
	ret := ReportFilename{
		Receiver:     parts[0],
		PolicyDomain: parts[1],
		Begin:        time.Unix(begin, 0).UTC(),
		End:          time.Unix(end, 0).UTC(),
	}
	if len(parts) > 4 {
		ret.UniqueID = parts[4]
	}
	return ret, nil
}
