package export

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"github.com/firefart/dmarcanalyzer/internal/analyzer"
	"github.com/firefart/dmarcanalyzer/internal/dmarc"
)

const (
	FormatJSON = "json"
	FormatXML  = "xml"
)

type CustomTime time.Time

func (t CustomTime) MarshalJSON() ([]byte, error) {
	stamp := fmt.Sprintf("\"%s\"", time.Time(t).Format(time.RFC822Z))
	return []byte(stamp), nil
}

func (t CustomTime) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	stamp := time.Time(t).Format(time.RFC822Z)
	return e.EncodeElement(stamp, start)
}

// Entry is a single consolidated record as written to stdout or syslog.
type Entry struct {
	XMLName         xml.Name   `xml:"dmarc_record" json:"-"`                                    // for xml serialisation
	EventID         string     `xml:"event_id,omitempty" json:"event_id,omitempty"`             // SIEM specific
	EventCategory   string     `xml:"event_category,omitempty" json:"event_category,omitempty"` // SIEM specific
	RunID           string     `xml:"run_id" json:"run_id"`
	Timestamp       CustomTime `xml:"timestamp" json:"timestamp"`
	SourceIP        string     `xml:"source_ip" json:"source_ip"`
	SourceDNS       []string   `xml:"source_dns>dns" json:"source_dns"`
	SourceDNSString string     `xml:"source_dns_string" json:"source_dns_string"`
	Country         string     `xml:"country,omitempty" json:"country,omitempty"`
	ASN             uint       `xml:"asn,omitempty" json:"asn,omitempty"`
	ASOrg           string     `xml:"as_org,omitempty" json:"as_org,omitempty"`
	Count           int        `xml:"count" json:"count"`
	HeaderFrom      string     `xml:"header_from" json:"header_from"`
	ResultSpf       ResultSPF  `xml:"result_spf" json:"result_spf"`
	ResultDkim      ResultDKIM `xml:"result_dkim" json:"result_dkim"`
	DMARCResult     string     `xml:"dmarc_result" json:"dmarc_result"`
	Note            dmarc.Note `xml:"note" json:"note"`
	Error           bool       `xml:"error" json:"error"`
}

type ResultSPF struct {
	Domain string `xml:"domain" json:"domain"`
	Result string `xml:"result" json:"result"`
}

type ResultDKIM struct {
	Domain   string `xml:"domain" json:"domain"`
	Selector string `xml:"selector" json:"selector"`
	Result   string `xml:"result" json:"result"`
}

type Options struct {
	EventID       string
	EventCategory string
}

// Entries converts the displayed records of a run.
func Entries(res *analyzer.Result, opts Options, now time.Time) []Entry {
	entries := make([]Entry, len(res.Displayed))
	for i, r := range res.Displayed {
		info := res.Sources[r.SourceIP]
		domains := info.Hostnames
		if domains == nil {
			domains = []string{}
		}
		entries[i] = Entry{
			EventID:         opts.EventID,
			EventCategory:   opts.EventCategory,
			RunID:           res.RunID.String(),
			Timestamp:       CustomTime(now),
			SourceIP:        r.SourceIP,
			SourceDNS:       domains,
			SourceDNSString: info.Hosts(),
			Country:         info.Country,
			ASN:             info.ASN,
			ASOrg:           info.ASOrg,
			Count:           r.Count,
			HeaderFrom:      r.HeaderFrom,
			ResultSpf: ResultSPF{
				Domain: r.SPFDomain,
				Result: r.SPFResult,
			},
			ResultDkim: ResultDKIM{
				Domain:   r.DKIMDomain,
				Selector: r.DKIMSelector,
				Result:   r.DKIMResult,
			},
			DMARCResult: r.DMARCResult,
			Note:        r.Note,
			Error:       dmarc.HasError(r),
		}
	}
	return entries
}

func ConvertJSON(entries []Entry) ([][]byte, error) {
	var ret [][]byte
	for _, entry := range entries {
		jsonString, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("could not marshal JSON: %w", err)
		}
		ret = append(ret, jsonString)
	}
	return ret, nil
}

func ConvertXML(entries []Entry) ([][]byte, error) {
	var ret [][]byte
	for _, entry := range entries {
		xmlString, err := xml.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("could not marshal XML: %w", err)
		}
		ret = append(ret, xmlString)
	}
	return ret, nil
}

// Convert serializes entries in the given format, one message per entry.
func Convert(format string, entries []Entry) ([][]byte, error) {
	switch format {
	case FormatJSON:
		return ConvertJSON(entries)
	case FormatXML:
		return ConvertXML(entries)
	default:
		return nil, fmt.Errorf("invalid format %s", format)
	}
}

// WriteLines writes every message followed by a newline.
func WriteLines(w io.Writer, messages [][]byte) error {
	for _, m := range messages {
		if _, err := w.Write(append(m, '\n')); err != nil {
			return err
		}
	}
	return nil
}
