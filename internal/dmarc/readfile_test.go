package dmarc

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureName = "google.com!example.com!1700000000!1700086399.xml"

func readFixture(t *testing.T) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("..", "..", "testdata", "reports", fixtureName))
	require.NoError(t, err)
	return b
}

func gzipBytes(t *testing.T, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zipBytes(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestReadFileXML(t *testing.T) {
	t.Parallel()

	docs, err := ReadFile(fixtureName, readFixture(t))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, fixtureName, docs[0].Name)

	report := docs[0].Report
	assert.Equal(t, "google.com", report.ReportMetadata.OrgName)
	assert.Equal(t, int64(1700000000), report.ReportMetadata.DateRange.Begin)
	require.NotNil(t, report.PolicyPublished)
	assert.Equal(t, "example.com", report.PolicyPublished.Domain)
	require.Len(t, report.Records, 4)
	assert.Nil(t, report.Records[3].Row)
	require.Len(t, report.Records[2].AuthResults.Dkim, 2)

	records, errs := NormalizeReport(*report)
	assert.Len(t, records, 3)
	assert.Len(t, errs, 1)
	assert.Equal(t, 12, records[0].Count)
	assert.Equal(t, DefaultCount, records[2].Count)
}

func TestReadFileGzip(t *testing.T) {
	t.Parallel()

	docs, err := ReadFile(fixtureName+".gz", gzipBytes(t, readFixture(t)))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, fixtureName, docs[0].Name)
	assert.Len(t, docs[0].Report.Records, 4)
}

func TestReadFileZip(t *testing.T) {
	t.Parallel()

	content := zipBytes(t, map[string][]byte{
		"a.xml":      readFixture(t),
		"readme.txt": []byte("not a report"),
		"b.XML":      readFixture(t),
	})
	docs, err := ReadFile("reports.zip", content)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	_, err = ReadFile("empty.zip", zipBytes(t, map[string][]byte{"readme.txt": []byte("x")}))
	assert.Error(t, err)
}

func TestReadFileZipPartialFailure(t *testing.T) {
	t.Parallel()

	content := zipBytes(t, map[string][]byte{
		"good.xml": readFixture(t),
		"bad.xml":  []byte("<feedback><record>"),
	})
	docs, err := ReadFile("reports.zip", content)
	require.Error(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "good.xml", docs[0].Name)
}

func TestReadFileSniffing(t *testing.T) {
	t.Parallel()

	docs, err := ReadFile("attachment.bin", gzipBytes(t, readFixture(t)))
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	docs, err = ReadFile("noextension", readFixture(t))
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	_, err = ReadFile("image.png", []byte{0x89, 'P', 'N', 'G'})
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestReadFileInvalid(t *testing.T) {
	t.Parallel()

	_, err := ReadFile("broken.xml", []byte("<feedback><record>"))
	assert.Error(t, err)

	_, err = ReadFile("broken.gz", []byte("not gzip"))
	assert.Error(t, err)
}

func TestParseXMLSchemaTag(t *testing.T) {
	t.Parallel()

	content := []byte(`<?xml version="1.0"?>` + xsTag + `<feedback><policy_published><domain>example.com</domain></policy_published></feedback>`)
	report, err := ParseXML(content)
	require.NoError(t, err)
	require.NotNil(t, report.PolicyPublished)
	assert.Equal(t, "example.com", report.PolicyPublished.Domain)
}

func TestParseXMLCharset(t *testing.T) {
	t.Parallel()

	content := []byte(`<?xml version="1.0" encoding="ISO-8859-1"?><feedback><report_metadata><org_name>M` + "\xfc" + `ller</org_name></report_metadata></feedback>`)
	report, err := ParseXML(content)
	require.NoError(t, err)
	assert.Equal(t, "Müller", report.ReportMetadata.OrgName)
}

func TestParseReportFilename(t *testing.T) {
	t.Parallel()

	f, err := ParseReportFilename("/tmp/google.com!example.com!1700000000!1700086399.xml.gz")
	require.NoError(t, err)
	assert.Equal(t, "google.com", f.Receiver)
	assert.Equal(t, "example.com", f.PolicyDomain)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), f.Begin)
	assert.Equal(t, time.Unix(1700086399, 0).UTC(), f.End)
	assert.Empty(t, f.UniqueID)

	f, err = ParseReportFilename("enterprise.protection.outlook.com!example.com!1700000000!1700086399!abc123.zip")
	require.NoError(t, err)
	assert.Equal(t, "enterprise.protection.outlook.com", f.Receiver)
	assert.Equal(t, "abc123", f.UniqueID)

	_, err = ParseReportFilename("report.xml")
	assert.Error(t, err)

	_, err = ParseReportFilename("a!b!c!d.xml")
	assert.Error(t, err)
}
