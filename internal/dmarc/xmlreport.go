package dmarc

// XMLReport represents the top element of a DMARC report
// https://tools.ietf.org/html/rfc7489#appendix-C
type XMLReport struct {
	Version        string `xml:"version"`
	ReportMetadata struct {
		OrgName          string `xml:"org_name"`
		Email            string `xml:"email"`
		ExtraContactInfo string `xml:"extra_contact_info"`
		ReportID         string `xml:"report_id"`
		DateRange        struct {
			Begin int64 `xml:"begin"`
			End   int64 `xml:"end"`
		} `xml:"date_range"`
		Error []string `xml:"error"`
	} `xml:"report_metadata"`
	PolicyPublished *XMLPolicyPublished `xml:"policy_published"`
	Records         []XMLRecord         `xml:"record"`
}

// XMLPolicyPublished is the policy_published element. Adkim and Aspf are
// pointers so a missing element can be told apart from an empty one.
type XMLPolicyPublished struct {
	Domain string  `xml:"domain"`
	Adkim  *string `xml:"adkim"`
	Aspf   *string `xml:"aspf"`
	P      string  `xml:"p"`
	Sp     string  `xml:"sp"`
	Pct    string  `xml:"pct"`
	Fo     string  `xml:"fo"`
}

// XMLRecord represents the record element of a DMARC report.
// Row and Identifiers are mandatory, everything else may be missing.
type XMLRecord struct {
	Row         *XMLRow         `xml:"row"`
	Identifiers *XMLIdentifiers `xml:"identifiers"`
	AuthResults struct {
		Spf  []XMLSPFResult  `xml:"spf"`
		Dkim []XMLDKIMResult `xml:"dkim"`
	} `xml:"auth_results"`
}

type XMLRow struct {
	SourceIP string `xml:"source_ip"`
	// kept as text, non numeric counts fall back to the default
	Count           *string             `xml:"count"`
	PolicyEvaluated *XMLPolicyEvaluated `xml:"policy_evaluated"`
}

type XMLPolicyEvaluated struct {
	Disposition string                 `xml:"disposition"`
	Dkim        string                 `xml:"dkim"`
	Spf         string                 `xml:"spf"`
	Reason      []PolicyOverrideReason `xml:"reason"`
}

type XMLIdentifiers struct {
	EnvelopeTo   string `xml:"envelope_to"`
	HeaderFrom   string `xml:"header_from"`
	EnvelopeFrom string `xml:"envelope_from"`
}

type XMLSPFResult struct {
	Domain string `xml:"domain"`
	Scope  string `xml:"scope"`
	Result string `xml:"result"`
}

type XMLDKIMResult struct {
	Domain      string `xml:"domain"`
	Selector    string `xml:"selector"`
	Result      string `xml:"result"`
	HumanResult string `xml:"human_result"`
}

// PolicyOverrideReason represents the reason element of a DMARC report
type PolicyOverrideReason struct {
	Type    string `xml:"type"`
	Comment string `xml:"comment"`
}
