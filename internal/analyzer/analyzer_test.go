package analyzer

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/firefart/dmarcanalyzer/internal/dmarc"
	"github.com/firefart/dmarcanalyzer/internal/geoip"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string {
	return &s
}

func testAnalyzer(showAll bool) *Analyzer {
	return New(Options{ShowAll: showAll}, log.New(io.Discard))
}

func record(ip, count, headerFrom string, spf []dmarc.XMLSPFResult, dkim []dmarc.XMLDKIMResult) dmarc.XMLRecord {
	var r dmarc.XMLRecord
	r.Row = &dmarc.XMLRow{SourceIP: ip, Count: strPtr(count)}
	r.Identifiers = &dmarc.XMLIdentifiers{HeaderFrom: headerFrom}
	r.AuthResults.Spf = spf
	r.AuthResults.Dkim = dkim
	return r
}

func document(name string, policy *dmarc.XMLPolicyPublished, records ...dmarc.XMLRecord) dmarc.Document {
	return dmarc.Document{
		Name: name,
		Report: &dmarc.XMLReport{
			PolicyPublished: policy,
			Records:         records,
		},
	}
}

func TestAnalyzeSingleRecordScenario(t *testing.T) {
	t.Parallel()

	doc := document("report.xml",
		&dmarc.XMLPolicyPublished{Domain: "example.com", Aspf: strPtr("r")},
		record("1.2.3.4", "5", "example.com",
			[]dmarc.XMLSPFResult{{Domain: "example.com", Result: "pass"}},
			[]dmarc.XMLDKIMResult{{Domain: "example.com", Result: "fail"}}),
	)

	res := testAnalyzer(false).Analyze([]dmarc.Document{doc})
	require.Len(t, res.Consolidated, 1)
	r := res.Consolidated[0]
	assert.Equal(t, "1.2.3.4", r.SourceIP)
	assert.Equal(t, 5, r.Count)
	assert.Equal(t, dmarc.ResultPass, r.DMARCResult)
	assert.Equal(t, dmarc.ResultPass, r.SPFResult)
	assert.Equal(t, dmarc.ResultFail, r.DKIMResult)
	assert.Equal(t, dmarc.NoteManualEvaluation, r.Note)

	// passes DMARC but is still listed because DKIM failed
	require.Len(t, res.Displayed, 1)
	assert.Equal(t, r, res.Displayed[0])
	assert.Zero(t, res.CleanCount)
	assert.True(t, res.HasErrors())
	assert.NotEqual(t, uuid.Nil, res.RunID)
}

func TestAnalyzeFixture(t *testing.T) {
	t.Parallel()

	name := "google.com!example.com!1700000000!1700086399.xml"
	content, err := os.ReadFile(filepath.Join("..", "..", "testdata", "reports", name))
	require.NoError(t, err)
	docs, err := dmarc.ReadFile(name, content)
	require.NoError(t, err)

	res := testAnalyzer(false).Analyze(docs)
	assert.Equal(t, 1, res.Documents)
	assert.Equal(t, 3, res.Evaluated)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Consolidated, 3)
	assert.Equal(t, 16, res.Volume())

	require.Len(t, res.Displayed, 2)
	assert.Equal(t, 1, res.CleanCount)
	assert.Equal(t, len(res.Consolidated), len(res.Displayed)+res.CleanCount)

	failing := res.Displayed[0]
	assert.Equal(t, "198.51.100.7", failing.SourceIP)
	assert.Equal(t, dmarc.ResultFail, failing.DMARCResult)
	assert.Equal(t, dmarc.NotePolicyEvaluated, failing.Note)
	assert.Equal(t, "softfail", failing.SPFResult)

	manual := res.Displayed[1]
	assert.Equal(t, "203.0.113.5", manual.SourceIP)
	assert.Equal(t, 1, manual.Count)
	assert.Equal(t, dmarc.ResultPass, manual.DMARCResult)
	assert.Equal(t, dmarc.NoteManualEvaluation, manual.Note)
	assert.Equal(t, "mail.example.com", manual.DKIMDomain)
	assert.Equal(t, "s2", manual.DKIMSelector)
	assert.Empty(t, manual.SPFResult)

	s := res.Summary()
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 2, s.SPFFailed)
	assert.Equal(t, 1, s.DKIMFailed)
	assert.Equal(t, 1, s.DMARCFailed)
	require.Len(t, s.Domains, 1)
	assert.Equal(t, dmarc.HeaderFromStats{Domain: "example.com", Total: 2, Failed: 1}, s.Domains[0])
}

func TestAnalyzeShowAll(t *testing.T) {
	t.Parallel()

	policy := &dmarc.XMLPolicyPublished{Domain: "example.com"}
	pass := record("192.0.2.1", "4", "example.com",
		[]dmarc.XMLSPFResult{{Domain: "example.com", Result: "pass"}},
		[]dmarc.XMLDKIMResult{{Domain: "example.com", Result: "pass", Selector: "s1"}})

	res := testAnalyzer(true).Analyze([]dmarc.Document{document("a.xml", policy, pass)})
	assert.Len(t, res.Displayed, 1)
	assert.Zero(t, res.CleanCount)
	assert.True(t, res.ShowAll)
	assert.False(t, res.HasErrors())

	res = testAnalyzer(false).Analyze([]dmarc.Document{document("a.xml", policy, pass)})
	assert.Empty(t, res.Displayed)
	assert.Equal(t, 1, res.CleanCount)
}

func TestAnalyzeConsolidatesAcrossDocuments(t *testing.T) {
	t.Parallel()

	spf := []dmarc.XMLSPFResult{{Domain: "example.com", Result: "pass"}}
	dkim := []dmarc.XMLDKIMResult{{Domain: "example.com", Result: "fail", Selector: "s1"}}

	withVerdict := record("192.0.2.1", "2", "example.com", spf, dkim)
	withVerdict.Row.PolicyEvaluated = &dmarc.XMLPolicyEvaluated{Dkim: "fail", Spf: "pass"}
	manual := record("192.0.2.1", "3", "example.com", spf, dkim)

	docs := []dmarc.Document{
		document("a.xml", &dmarc.XMLPolicyPublished{Domain: "example.com"}, withVerdict),
		document("b.xml", &dmarc.XMLPolicyPublished{Domain: "example.com"}, manual, manual),
	}
	res := testAnalyzer(false).Analyze(docs)
	assert.Equal(t, 3, res.Evaluated)
	require.Len(t, res.Consolidated, 1)
	assert.Equal(t, 8, res.Consolidated[0].Count)
	// the first occurrence decides the note
	assert.Equal(t, dmarc.NotePolicyEvaluated, res.Consolidated[0].Note)
}

func TestAnalyzeCaveats(t *testing.T) {
	t.Parallel()

	doc := document("report.xml",
		&dmarc.XMLPolicyPublished{Domain: "example.co.uk"},
		record("192.0.2.7", "1", "example.co.uk",
			nil,
			[]dmarc.XMLDKIMResult{{Domain: "other.co.uk", Result: "pass"}}),
	)
	res := testAnalyzer(false).Analyze([]dmarc.Document{doc})
	require.Len(t, res.Caveats, 1)
	assert.Equal(t, "dkim", res.Caveats[0].Mechanism)
	assert.True(t, res.Caveats[0].Heuristic)
	assert.False(t, res.Caveats[0].PublicSuffix)
	// the heuristic still decides the verdict
	require.Len(t, res.Consolidated, 1)
	assert.Equal(t, dmarc.ResultPass, res.Consolidated[0].DMARCResult)
}

func TestAnalyzeEmpty(t *testing.T) {
	t.Parallel()

	res := testAnalyzer(false).Analyze(nil)
	assert.Empty(t, res.Consolidated)
	assert.Empty(t, res.Displayed)
	assert.Zero(t, res.Volume())
	assert.Zero(t, res.Summary().Total)
}

func TestAnalyzeSkipsDocumentWithoutReport(t *testing.T) {
	t.Parallel()

	spf := []dmarc.XMLSPFResult{{Domain: "example.com", Result: "pass"}}
	docs := []dmarc.Document{
		{Name: "broken.xml"},
		document("a.xml", &dmarc.XMLPolicyPublished{Domain: "example.com"},
			record("192.0.2.1", "2", "example.com", spf, nil)),
	}
	var res *Result
	require.NotPanics(t, func() {
		res = testAnalyzer(true).Analyze(docs)
	})
	assert.Equal(t, 2, res.Documents)
	assert.Equal(t, 1, res.Evaluated)
	require.Len(t, res.Consolidated, 1)
	assert.Equal(t, 2, res.Consolidated[0].Count)
}

type fakeResolver struct {
	calls atomic.Int32
}

func (f *fakeResolver) CachedDNSLookup(_ context.Context, ip string) ([]string, error) {
	f.calls.Add(1)
	if ip == "198.51.100.7" {
		return nil, errors.New("no such host")
	}
	return []string{"mail-" + ip + ".example.net"}, nil
}

type fakeLocator struct{}

func (fakeLocator) Lookup(ip string) geoip.Info {
	return geoip.Info{Country: "DE", ASN: 64496, ASOrg: "Example AS"}
}

func TestEnrich(t *testing.T) {
	t.Parallel()

	res := &Result{
		Displayed: []dmarc.EvaluatedRecord{
			{SourceIP: "192.0.2.1"},
			{SourceIP: "198.51.100.7"},
			{SourceIP: "192.0.2.1"},
			{SourceIP: ""},
		},
	}
	resolver := &fakeResolver{}
	require.NoError(t, res.Enrich(context.Background(), resolver, fakeLocator{}))
	assert.Equal(t, int32(2), resolver.calls.Load())
	require.Len(t, res.Sources, 2)

	info := res.Sources["192.0.2.1"]
	assert.Equal(t, "mail-192.0.2.1.example.net", info.Hosts())
	assert.Equal(t, "DE", info.Country)
	assert.Equal(t, uint(64496), info.ASN)

	info = res.Sources["198.51.100.7"]
	assert.Empty(t, info.Hostnames)
	assert.Equal(t, "DE", info.Country)
}

type emptyLocator struct{}

func (emptyLocator) Lookup(string) geoip.Info {
	return geoip.Info{}
}

func TestEnrichSkipsUnknownSources(t *testing.T) {
	t.Parallel()

	res := &Result{
		Displayed: []dmarc.EvaluatedRecord{
			{SourceIP: "192.0.2.1"},
			{SourceIP: "198.51.100.7"},
		},
	}
	require.NoError(t, res.Enrich(context.Background(), &fakeResolver{}, emptyLocator{}))
	require.NotNil(t, res.Sources)
	assert.Len(t, res.Sources, 1)
	assert.Contains(t, res.Sources, "192.0.2.1")
	// the resolver failed and the databases know nothing
	assert.NotContains(t, res.Sources, "198.51.100.7")
}

func TestEnrichDisabled(t *testing.T) {
	t.Parallel()

	res := &Result{Displayed: []dmarc.EvaluatedRecord{{SourceIP: "192.0.2.1"}}}
	require.NoError(t, res.Enrich(context.Background(), nil, nil))
	assert.Nil(t, res.Sources)

	require.NoError(t, res.Enrich(context.Background(), nil, fakeLocator{}))
	assert.Empty(t, res.Sources["192.0.2.1"].Hostnames)
	assert.Equal(t, "DE", res.Sources["192.0.2.1"].Country)
}

func TestEnrichCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := &Result{Displayed: []dmarc.EvaluatedRecord{{SourceIP: "192.0.2.1"}}}
	assert.ErrorIs(t, res.Enrich(ctx, &fakeResolver{}, nil), context.Canceled)
}
