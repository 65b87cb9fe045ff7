package dmarc

// Align is the identifier alignment mode published by the domain owner.
type Align string

const (
	// AlignRelaxed compares organizational domains. It is the default.
	AlignRelaxed Align = "r"
	// AlignStrict requires an exact domain match.
	AlignStrict Align = "s"
)

const (
	ResultPass = "pass"
	ResultFail = "fail"
)

// Note tells where the DMARC verdict of an EvaluatedRecord came from.
type Note string

const (
	NotePolicyEvaluated  Note = "policy_evaluated"
	NoteManualEvaluation Note = "manual_evaluation"
)

// PolicyPublished is the policy declared once per report and shared by all
// of its records.
type PolicyPublished struct {
	Domain string
	ADKIM  Align
	ASPF   Align
	P      string
}

// PolicyEvaluated is the reporter's own verdict for a record.
type PolicyEvaluated struct {
	Disposition string
	DKIM        string
	SPF         string
}

// Complete reports whether the reporter supplied both a DKIM and an SPF
// verdict. Only then is the reporter's verdict trusted.
func (p PolicyEvaluated) Complete() bool {
	return p.DKIM != "" && p.SPF != ""
}

// AuthResult is a single SPF or DKIM entry from auth_results. Selector is
// only set for DKIM.
type AuthResult struct {
	Domain   string
	Result   string
	Selector string
}

// RawRecord is one normalized report record together with its report's
// published policy.
type RawRecord struct {
	SourceIP        string
	Count           int
	HeaderFrom      string
	EnvelopeFrom    string
	PolicyEvaluated PolicyEvaluated
	SPFResults      []AuthResult
	DKIMResults     []AuthResult
	PolicyPublished PolicyPublished
}

// EvaluatedRecord is the outcome of evaluating a RawRecord.
type EvaluatedRecord struct {
	SourceIP     string `json:"source_ip" xml:"source_ip"`
	Count        int    `json:"count" xml:"count"`
	HeaderFrom   string `json:"header_from" xml:"header_from"`
	SPFDomain    string `json:"spf_domain" xml:"spf_domain"`
	SPFResult    string `json:"spf_result" xml:"spf_result"`
	DKIMDomain   string `json:"dkim_domain" xml:"dkim_domain"`
	DKIMResult   string `json:"dkim_result" xml:"dkim_result"`
	DKIMSelector string `json:"dkim_selector" xml:"dkim_selector"`
	DMARCResult  string `json:"dmarc_result" xml:"dmarc_result"`
	Note         Note   `json:"note" xml:"note"`
}

// Key identifies records that are merged during consolidation.
type Key struct {
	SourceIP     string
	HeaderFrom   string
	SPFDomain    string
	SPFResult    string
	DKIMDomain   string
	DKIMResult   string
	DKIMSelector string
	DMARCResult  string
}

func (r EvaluatedRecord) Key() Key {
	return Key{
		SourceIP:     r.SourceIP,
		HeaderFrom:   r.HeaderFrom,
		SPFDomain:    r.SPFDomain,
		SPFResult:    r.SPFResult,
		DKIMDomain:   r.DKIMDomain,
		DKIMResult:   r.DKIMResult,
		DKIMSelector: r.DKIMSelector,
		DMARCResult:  r.DMARCResult,
	}
}
