package dmarc

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/firefart/dmarcanalyzer/internal/helper"

	"github.com/emersion/go-message/charset"
	"github.com/hashicorp/go-multierror"
)

const xsTag = `<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema" targetNamespace="http://dmarc.org/dmarc-xml/0.1">`

// ErrUnknownFormat is returned for files that are neither XML nor a
// supported archive.
var ErrUnknownFormat = errors.New("unknown file format")

// Document is a parsed aggregate report together with the name of the XML
// file it was read from.
type Document struct {
	Name   string
	Report *XMLReport
}

type xmlFile struct {
	name    string
	content []byte
}

func readGZ(content []byte) ([]byte, error) {
	buf := bytes.NewBuffer(content)
	gz, err := gzip.NewReader(buf)
	if err != nil {
		return nil, fmt.Errorf("could not gzip read: %w", err)
	}
	defer gz.Close()

	xmlContent, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("could not read: %w", err)
	}
	return xmlContent, nil
}

// readZIP returns every .xml file inside the archive.
func readZIP(content []byte) ([]xmlFile, error) {
	buf := bytes.NewReader(content)
	r, err := zip.NewReader(buf, int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("could not open zip: %w", err)
	}
	var files []xmlFile
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if !strings.EqualFold(filepath.Ext(f.Name), ".xml") {
			continue
		}
		x, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("could not open file %s inside zip: %w", f.Name, err)
		}
		xmlContent, err := io.ReadAll(x)
		x.Close()
		if err != nil {
			return nil, fmt.Errorf("could not read file %s inside zip: %w", f.Name, err)
		}
		files = append(files, xmlFile{name: f.FileInfo().Name(), content: xmlContent})
	}
	if len(files) == 0 {
		return nil, errors.New("no xml file found within zip archive")
	}
	return files, nil
}

// extract turns the file content into one or more XML files based on the
// extension, falling back to the magic bytes.
func extract(filename string, content []byte) ([]xmlFile, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".xml":
		return []xmlFile{{name: filename, content: content}}, nil
	case ".gz":
		xmlContent, err := readGZ(content)
		if err != nil {
			return nil, err
		}
		return []xmlFile{{name: strings.TrimSuffix(filename, filepath.Ext(filename)), content: xmlContent}}, nil
	case ".zip":
		return readZIP(content)
	}

	switch helper.DetectArchive(content) {
	case helper.ArchiveGzip:
		xmlContent, err := readGZ(content)
		if err != nil {
			return nil, err
		}
		return []xmlFile{{name: strings.TrimSuffix(filename, filepath.Ext(filename)), content: xmlContent}}, nil
	case helper.ArchiveZip:
		return readZIP(content)
	}
	if helper.LooksLikeXML(content) {
		return []xmlFile{{name: filename, content: content}}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, filename)
}

// ParseXML parses a single aggregate report.
func ParseXML(content []byte) (*XMLReport, error) {
	// some xmls contain invalid XML by adding an unclosed xs tag
	content = bytes.ReplaceAll(content, []byte(xsTag), []byte(""))

	// reports are not always utf-8 encoded
	decoder := xml.NewDecoder(bytes.NewReader(content))
	decoder.CharsetReader = charset.Reader

	var xmlDocument XMLReport
	if err := decoder.Decode(&xmlDocument); err != nil {
		return nil, fmt.Errorf("error on xml unmarshal: %w", err)
	}
	return &xmlDocument, nil
}

// ReadFile decompresses and parses a report file. Zip archives may hold
// several reports. Documents that could be parsed are returned even when
// others in the same archive failed, the failures are combined in the
// returned error.
func ReadFile(filename string, content []byte) ([]Document, error) {
	files, err := extract(filename, content)
	if err != nil {
		return nil, err
	}

	var docs []Document
	var result *multierror.Error
	for _, f := range files {
		report, err := ParseXML(f.content)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", f.name, err))
			continue
		}
		docs = append(docs, Document{Name: f.name, Report: report})
	}
	return docs, result.ErrorOrNil()
}
