package dmarc

import (
	"sort"
	"strings"
)

const (
	// domains with at least this many labels are candidates for grouping
	groupMinLabels = 4
	// labels of the shared suffix used as group key
	groupSuffixLabels = 3
	// distinct domains needed before a suffix is collapsed into a wildcard
	groupThreshold = 3
)

// ExternalDomain is one line of the external domain listing. Domain is
// either a full domain or a wildcard like *.bnc.salesforce.com when Members
// domains were merged.
type ExternalDomain struct {
	Domain  string      `json:"domain"`
	Members int         `json:"members"`
	Stats   DomainStats `json:"stats"`
}

func (e ExternalDomain) Total() int {
	return e.Stats.Total()
}

// Grouped reports whether the entry is a merged wildcard entry.
func (e ExternalDomain) Grouped() bool {
	return e.Members > 1
}

// groupKey returns the key a domain is reduced under. Shallow domains are
// their own key, deep domains are keyed by their last three labels.
func groupKey(domain string) (key string, deep bool) {
	labels := strings.Split(domain, ".")
	if len(labels) < groupMinLabels {
		return domain, false
	}
	return strings.Join(labels[len(labels)-groupSuffixLabels:], "."), true
}

// GroupDomains collapses deep subdomains sharing a three label suffix into a
// single wildcard entry once at least three distinct domains share it. All
// other domains are listed individually. The result is sorted by total
// count descending and by name for equal totals.
func GroupDomains(stats map[string]DomainStats) []ExternalDomain {
	// first pass: bucket deep domains by suffix
	buckets := make(map[string][]string)
	var ret []ExternalDomain
	for domain, s := range stats {
		key, deep := groupKey(domain)
		if !deep {
			ret = append(ret, ExternalDomain{Domain: domain, Members: 1, Stats: s})
			continue
		}
		buckets[key] = append(buckets[key], domain)
	}

	// second pass: fold each bucket
	for suffix, domains := range buckets {
		if len(domains) < groupThreshold {
			for _, d := range domains {
				ret = append(ret, ExternalDomain{Domain: d, Members: 1, Stats: stats[d]})
			}
			continue
		}
		var sum DomainStats
		for _, d := range domains {
			sum = sum.Add(stats[d])
		}
		ret = append(ret, ExternalDomain{
			Domain:  "*." + suffix,
			Members: len(domains),
			Stats:   sum,
		})
	}

	sort.Slice(ret, func(i, j int) bool {
		if ret[i].Total() != ret[j].Total() {
			return ret[i].Total() > ret[j].Total()
		}
		return ret[i].Domain < ret[j].Domain
	})
	return ret
}
