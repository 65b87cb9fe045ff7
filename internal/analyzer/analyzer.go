package analyzer

import (
	"github.com/firefart/dmarcanalyzer/internal/dmarc"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

type Options struct {
	// ShowAll keeps records without errors in the displayed set.
	ShowAll bool
}

// Result is the outcome of one analysis run.
type Result struct {
	RunID     uuid.UUID
	Documents int
	// Evaluated is the number of records before consolidation.
	Evaluated int
	// Skipped counts malformed records that were dropped.
	Skipped      int
	Consolidated []dmarc.EvaluatedRecord
	// Displayed is Consolidated, reduced to records with errors unless
	// ShowAll was set.
	Displayed  []dmarc.EvaluatedRecord
	CleanCount int
	ShowAll    bool
	Caveats    []dmarc.Caveat
	Sources    map[string]SourceInfo
}

// Volume is the number of messages covered by the consolidated records.
func (r *Result) Volume() int {
	return dmarc.TotalCount(r.Consolidated)
}

// HasErrors reports whether at least one consolidated record has an error.
func (r *Result) HasErrors() bool {
	for _, rec := range r.Consolidated {
		if dmarc.HasError(rec) {
			return true
		}
	}
	return false
}

// Summary computes the statistics over the displayed records.
func (r *Result) Summary() dmarc.Summary {
	return dmarc.Summarize(r.Displayed)
}

type Analyzer struct {
	options Options
	logger  *log.Logger
}

func New(options Options, logger *log.Logger) *Analyzer {
	return &Analyzer{
		options: options,
		logger:  logger,
	}
}

// Analyze evaluates and consolidates the records of all documents.
// Documents are processed in the given order, so the first occurrence of a
// consolidation key decides its display fields.
func (a *Analyzer) Analyze(docs []dmarc.Document) *Result {
	res := &Result{
		RunID:     uuid.New(),
		Documents: len(docs),
		ShowAll:   a.options.ShowAll,
	}
	logger := a.logger.With("run", res.RunID.String())

	total := dmarc.NewConsolidator()
	for _, doc := range docs {
		if c := a.analyzeDocument(logger, doc, res); c != nil {
			total.Merge(c)
		}
	}

	res.Consolidated = total.Records()
	if a.options.ShowAll {
		res.Displayed = res.Consolidated
	} else {
		res.Displayed, res.CleanCount = dmarc.FilterErrors(res.Consolidated)
	}
	logger.Info("analysis finished",
		"documents", res.Documents,
		"records", res.Evaluated,
		"consolidated", total.Len(),
		"displayed", len(res.Displayed))
	return res
}

func (a *Analyzer) analyzeDocument(logger *log.Logger, doc dmarc.Document, res *Result) *dmarc.Consolidator {
	logger = logger.With("file", doc.Name)
	if f, err := dmarc.ParseReportFilename(doc.Name); err == nil {
		logger = logger.With("receiver", f.Receiver, "domain", f.PolicyDomain)
	}
	if doc.Report == nil {
		logger.Warn("skipping document without report")
		return nil
	}
	logger.Info("processing report", "records", len(doc.Report.Records))

	raw, errs := dmarc.NormalizeReport(*doc.Report)
	for _, err := range errs {
		logger.Warn("skipping record", "err", err)
	}
	res.Skipped += len(errs)

	for _, r := range raw {
		for _, caveat := range dmarc.Caveats(r) {
			logger.Warn("organizational domain heuristic disagrees with the public suffix list",
				"mechanism", caveat.Mechanism,
				"domain", caveat.Domain,
				"header_from", caveat.HeaderFrom,
				"aligned", caveat.Heuristic)
			res.Caveats = append(res.Caveats, caveat)
		}
	}

	c := dmarc.NewConsolidator()
	for _, r := range dmarc.EvaluateAll(raw) {
		c.Add(r)
	}
	res.Evaluated += len(raw)
	logger.Debug("report consolidated", "records", len(raw), "consolidated", c.Len())
	return c
}
