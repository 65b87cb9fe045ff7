package dmarc

// HasError reports whether any of SPF, DKIM or DMARC did not pass. A record
// passing DMARC through SPF alone is still an error if DKIM failed.
func HasError(r EvaluatedRecord) bool {
	return r.SPFResult != ResultPass || r.DKIMResult != ResultPass || r.DMARCResult != ResultPass
}

// FilterErrors returns the records with errors in their original order and
// the number of records that were left out.
func FilterErrors(records []EvaluatedRecord) ([]EvaluatedRecord, int) {
	var errorRecords []EvaluatedRecord
	for _, r := range records {
		if HasError(r) {
			errorRecords = append(errorRecords, r)
		}
	}
	return errorRecords, len(records) - len(errorRecords)
}
