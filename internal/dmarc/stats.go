package dmarc

import (
	"strings"
)

// Summary holds the statistics of a set of evaluated records. All counts
// are record counts, not message volume.
type Summary struct {
	Total       int               `json:"total"`
	SPFFailed   int               `json:"spf_failed"`
	DKIMFailed  int               `json:"dkim_failed"`
	DMARCFailed int               `json:"dmarc_failed"`
	Domains     []HeaderFromStats `json:"domains"`
	External    []ExternalDomain  `json:"external_domains"`
}

// HeaderFromStats is the breakdown for a single header_from domain.
type HeaderFromStats struct {
	Domain string `json:"domain"`
	Total  int    `json:"total"`
	Failed int    `json:"failed"`
}

// FailRate returns the percentage of DMARC failures for the domain.
func (h HeaderFromStats) FailRate() (float64, bool) {
	return Percent(h.Failed, h.Total)
}

// Percent returns part as a percentage of total. The second return value
// is false if total is zero, no percentage should be shown then.
func Percent(part, total int) (float64, bool) {
	if total <= 0 {
		return 0, false
	}
	return float64(part) / float64(total) * 100, true
}

// Summarize computes the statistics for records.
func Summarize(records []EvaluatedRecord) Summary {
	s := Summary{
		Total: len(records),
	}

	domainIndex := make(map[string]int)
	external := newExternalStats()

	for _, r := range records {
		if r.SPFResult != ResultPass {
			s.SPFFailed++
		}
		if r.DKIMResult != ResultPass {
			s.DKIMFailed++
		}
		if r.DMARCResult != ResultPass {
			s.DMARCFailed++
		}

		i, ok := domainIndex[r.HeaderFrom]
		if !ok {
			i = len(s.Domains)
			domainIndex[r.HeaderFrom] = i
			s.Domains = append(s.Domains, HeaderFromStats{Domain: r.HeaderFrom})
		}
		s.Domains[i].Total++
		if r.DMARCResult != ResultPass {
			s.Domains[i].Failed++
		}

		external.add(r)
	}

	s.External = GroupDomains(external.stats)
	return s
}

// DomainStats counts SPF and DKIM results seen for an external domain.
type DomainStats struct {
	SPFPass     int `json:"spf_pass"`
	SPFSoftfail int `json:"spf_softfail"`
	SPFFail     int `json:"spf_fail"`
	SPFNone     int `json:"spf_none"`
	SPFOther    int `json:"spf_other"`
	DKIMPass    int `json:"dkim_pass"`
	DKIMFail    int `json:"dkim_fail"`
	DKIMOther   int `json:"dkim_other"`
}

// Add returns the field wise sum of s and o.
func (s DomainStats) Add(o DomainStats) DomainStats {
	return DomainStats{
		SPFPass:     s.SPFPass + o.SPFPass,
		SPFSoftfail: s.SPFSoftfail + o.SPFSoftfail,
		SPFFail:     s.SPFFail + o.SPFFail,
		SPFNone:     s.SPFNone + o.SPFNone,
		SPFOther:    s.SPFOther + o.SPFOther,
		DKIMPass:    s.DKIMPass + o.DKIMPass,
		DKIMFail:    s.DKIMFail + o.DKIMFail,
		DKIMOther:   s.DKIMOther + o.DKIMOther,
	}
}

func (s DomainStats) SPFTotal() int {
	return s.SPFPass + s.SPFSoftfail + s.SPFFail + s.SPFNone + s.SPFOther
}

func (s DomainStats) DKIMTotal() int {
	return s.DKIMPass + s.DKIMFail + s.DKIMOther
}

func (s DomainStats) Total() int {
	return s.SPFTotal() + s.DKIMTotal()
}

func (s *DomainStats) addSPF(result string) {
	switch strings.ToLower(result) {
	case "pass":
		s.SPFPass++
	case "softfail":
		s.SPFSoftfail++
	case "fail":
		s.SPFFail++
	case "none":
		s.SPFNone++
	default:
		s.SPFOther++
	}
}

func (s *DomainStats) addDKIM(result string) {
	switch strings.ToLower(result) {
	case "pass":
		s.DKIMPass++
	case "fail":
		s.DKIMFail++
	default:
		s.DKIMOther++
	}
}

// externalStats accumulates DomainStats for domains that authenticated a
// message on behalf of a different header_from domain.
type externalStats struct {
	stats map[string]DomainStats
}

func newExternalStats() *externalStats {
	return &externalStats{stats: make(map[string]DomainStats)}
}

func (e *externalStats) add(r EvaluatedRecord) {
	if isExternal(r.SPFDomain, r.HeaderFrom) {
		d := strings.ToLower(r.SPFDomain)
		s := e.stats[d]
		s.addSPF(r.SPFResult)
		e.stats[d] = s
	}
	if isExternal(r.DKIMDomain, r.HeaderFrom) {
		d := strings.ToLower(r.DKIMDomain)
		s := e.stats[d]
		s.addDKIM(r.DKIMResult)
		e.stats[d] = s
	}
}

func isExternal(domain, headerFrom string) bool {
	return domain != "" && !strings.EqualFold(domain, headerFrom)
}
