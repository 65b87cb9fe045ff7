package dmarc

// Evaluate computes the DMARC verdict for a record.
//
// When the reporter supplied both a DKIM and an SPF verdict in
// policy_evaluated, that verdict is used as is. Otherwise alignment is
// computed from auth_results: DMARC passes if any SPF or DKIM result passed
// and its domain aligns with header_from.
//
// The SPF and DKIM fields of the returned record are for display only and do
// not necessarily show the result that decided the verdict.
func Evaluate(r RawRecord) EvaluatedRecord {
	var pass bool
	var note Note
	if r.PolicyEvaluated.Complete() {
		pass = r.PolicyEvaluated.DKIM == ResultPass || r.PolicyEvaluated.SPF == ResultPass
		note = NotePolicyEvaluated
	} else {
		pass = alignedPass(r.SPFResults, r.HeaderFrom, r.PolicyPublished.ASPF) ||
			alignedPass(r.DKIMResults, r.HeaderFrom, r.PolicyPublished.ADKIM)
		note = NoteManualEvaluation
	}

	spf := displaySPF(r.SPFResults)
	dkim := displayDKIM(r.DKIMResults)

	result := ResultFail
	if pass {
		result = ResultPass
	}

	return EvaluatedRecord{
		SourceIP:     r.SourceIP,
		Count:        r.Count,
		HeaderFrom:   r.HeaderFrom,
		SPFDomain:    spf.Domain,
		SPFResult:    spf.Result,
		DKIMDomain:   dkim.Domain,
		DKIMResult:   dkim.Result,
		DKIMSelector: dkim.Selector,
		DMARCResult:  result,
		Note:         note,
	}
}

// EvaluateAll evaluates records in order.
func EvaluateAll(records []RawRecord) []EvaluatedRecord {
	ret := make([]EvaluatedRecord, len(records))
	for i, r := range records {
		ret[i] = Evaluate(r)
	}
	return ret
}

func alignedPass(results []AuthResult, headerFrom string, mode Align) bool {
	for _, res := range results {
		if res.Result == ResultPass && Aligned(res.Domain, headerFrom, mode) {
			return true
		}
	}
	return false
}

// displaySPF returns the first SPF result in document order.
func displaySPF(results []AuthResult) AuthResult {
	if len(results) == 0 {
		return AuthResult{}
	}
	return AuthResult{Domain: results[0].Domain, Result: results[0].Result}
}

// displayDKIM prefers the first passing signature and falls back to the
// first one.
func displayDKIM(results []AuthResult) AuthResult {
	for _, res := range results {
		if res.Result == ResultPass {
			return res
		}
	}
	if len(results) == 0 {
		return AuthResult{}
	}
	return results[0]
}
