package dmarc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedRecord is returned for records without a row or identifiers
// element. Such a record is skipped, the rest of the report is still used.
var ErrMalformedRecord = errors.New("malformed record")

// DefaultCount is used when a record has no usable count.
const DefaultCount = 1

// NormalizePolicy converts the policy_published element. A nil element
// yields the defaults.
func NormalizePolicy(p *XMLPolicyPublished) PolicyPublished {
	policy := PolicyPublished{
		ADKIM: AlignRelaxed,
		ASPF:  AlignRelaxed,
	}
	if p == nil {
		return policy
	}
	policy.Domain = p.Domain
	policy.P = p.P
	if p.Adkim != nil && *p.Adkim != "" {
		policy.ADKIM = Align(*p.Adkim)
	}
	if p.Aspf != nil && *p.Aspf != "" {
		policy.ASPF = Align(*p.Aspf)
	}
	return policy
}

// NormalizeRecord turns one report record into a RawRecord.
func NormalizeRecord(r XMLRecord, policy PolicyPublished) (RawRecord, error) {
	if r.Row == nil {
		return RawRecord{}, fmt.Errorf("%w: missing row element", ErrMalformedRecord)
	}
	if r.Identifiers == nil {
		return RawRecord{}, fmt.Errorf("%w: missing identifiers element", ErrMalformedRecord)
	}

	raw := RawRecord{
		SourceIP:        r.Row.SourceIP,
		Count:           parseCount(r.Row.Count),
		HeaderFrom:      r.Identifiers.HeaderFrom,
		EnvelopeFrom:    r.Identifiers.EnvelopeFrom,
		PolicyPublished: policy,
	}

	if pe := r.Row.PolicyEvaluated; pe != nil {
		raw.PolicyEvaluated = PolicyEvaluated{
			Disposition: pe.Disposition,
			DKIM:        pe.Dkim,
			SPF:         pe.Spf,
		}
	}

	for _, spf := range r.AuthResults.Spf {
		raw.SPFResults = append(raw.SPFResults, AuthResult{
			Domain: spf.Domain,
			Result: spf.Result,
		})
	}
	for _, dkim := range r.AuthResults.Dkim {
		raw.DKIMResults = append(raw.DKIMResults, AuthResult{
			Domain:   dkim.Domain,
			Result:   dkim.Result,
			Selector: dkim.Selector,
		})
	}

	return raw, nil
}

// NormalizeReport normalizes every record of a report. Malformed records
// are skipped and returned as errors next to the usable ones.
func NormalizeReport(report XMLReport) ([]RawRecord, []error) {
	policy := NormalizePolicy(report.PolicyPublished)
	records := make([]RawRecord, 0, len(report.Records))
	var errs []error
	for i, r := range report.Records {
		raw, err := NormalizeRecord(r, policy)
		if err != nil {
			errs = append(errs, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		records = append(records, raw)
	}
	return records, errs
}

func parseCount(s *string) int {
	if s == nil {
		return DefaultCount
	}
	c, err := strconv.Atoi(strings.TrimSpace(*s))
	if err != nil || c < 1 {
		return DefaultCount
	}
	return c
}
