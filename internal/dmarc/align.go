package dmarc

import (
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Aligned checks if two domains are aligned according to the given
// alignment mode.
//
// Relaxed alignment compares the last two labels of both domains. This is an
// approximation of the organizational domain and gets multi label public
// suffixes like co.jp wrong. OrgDomainCaveat can be used to flag those cases.
// Every mode other than relaxed is treated as strict.
func Aligned(domain1, domain2 string, mode Align) bool {
	if domain1 == "" || domain2 == "" {
		return false
	}
	d1 := strings.ToLower(domain1)
	d2 := strings.ToLower(domain2)
	if d1 == d2 {
		return true
	}
	if mode != AlignRelaxed {
		return false
	}
	return OrgDomain(d1) == OrgDomain(d2)
}

// OrgDomain returns the last two dot separated labels of domain in lower
// case. A domain without a dot is its own organizational domain.
func OrgDomain(domain string) string {
	domain = strings.ToLower(domain)
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return domain
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

// pslOrgDomain returns the eTLD+1 of domain per the Public Suffix List.
func pslOrgDomain(domain string) string {
	domain = strings.TrimSuffix(strings.ToLower(domain), ".")
	etld1, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		return domain
	}
	return etld1
}

// Caveat describes an auth result whose relaxed alignment outcome would
// differ if the Public Suffix List was used instead of the two label rule.
type Caveat struct {
	Mechanism    string `json:"mechanism"`
	Domain       string `json:"domain"`
	HeaderFrom   string `json:"header_from"`
	Heuristic    bool   `json:"heuristic_aligned"`
	PublicSuffix bool   `json:"psl_aligned"`
}

// OrgDomainCaveat compares the relaxed alignment of domain and headerFrom
// against a Public Suffix List lookup. It never changes a verdict, it only
// reports the disagreement.
func OrgDomainCaveat(domain, headerFrom string) (heuristic, psl bool, disagree bool) {
	heuristic = Aligned(domain, headerFrom, AlignRelaxed)
	if domain == "" || headerFrom == "" {
		return heuristic, heuristic, false
	}
	psl = strings.EqualFold(domain, headerFrom) || pslOrgDomain(domain) == pslOrgDomain(headerFrom)
	return heuristic, psl, heuristic != psl
}

// Caveats lists the passing auth results of a record that are evaluated
// under relaxed alignment and where the two label rule and the Public
// Suffix List disagree. Records carrying a complete reporter verdict never
// have caveats since alignment is not computed for them.
func Caveats(r RawRecord) []Caveat {
	if r.PolicyEvaluated.Complete() {
		return nil
	}
	var caveats []Caveat
	check := func(mechanism string, mode Align, results []AuthResult) {
		if mode != AlignRelaxed {
			return
		}
		for _, res := range results {
			if res.Result != ResultPass {
				continue
			}
			h, p, disagree := OrgDomainCaveat(res.Domain, r.HeaderFrom)
			if !disagree {
				continue
			}
			caveats = append(caveats, Caveat{
				Mechanism:    mechanism,
				Domain:       res.Domain,
				HeaderFrom:   r.HeaderFrom,
				Heuristic:    h,
				PublicSuffix: p,
			})
		}
	}
	check("spf", r.PolicyPublished.ASPF, r.SPFResults)
	check("dkim", r.PolicyPublished.ADKIM, r.DKIMResults)
	return caveats
}
