package imap

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/firefart/dmarcanalyzer/internal/dmarc"
	"github.com/firefart/dmarcanalyzer/internal/helper"

	"github.com/charmbracelet/log"
	"github.com/emersion/go-message/mail"
	"github.com/hashicorp/go-multierror"
)

// ExtractReports parses a raw email and returns the aggregate reports found
// in its attachments. Archives sent inline instead of as an attachment are
// detected by their magic bytes.
func ExtractReports(ctx context.Context, r io.Reader, logger *log.Logger) ([]dmarc.Document, error) {
	m, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("could not create reader: %w", err)
	}
	defer m.Close()

	logger.Debug("processing message",
		"date", m.Header.Get("Date"),
		"from", m.Header.Get("From"),
		"subject", m.Header.Get("Subject"))

	var docs []dmarc.Document
	var result *multierror.Error
	for {
		if err := ctx.Err(); err != nil {
			return docs, err
		}
		p, err := m.NextPart()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return docs, fmt.Errorf("could not get next part: %w", err)
		}

		var filename string
		var b []byte
		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			b, err = io.ReadAll(p.Body)
			if err != nil {
				return docs, fmt.Errorf("could not read inline body: %w", err)
			}
			if !helper.IsSupportedArchive(b) {
				continue
			}
			_, params, _ := h.ContentDisposition()
			filename = params["filename"]
			if filename == "" {
				filename = "inline." + helper.DetectArchive(b).String()
			}
			logger.Info("found inline attachment", "file", filename)
		case *mail.AttachmentHeader:
			filename, err = h.Filename()
			if err != nil {
				return docs, fmt.Errorf("could not get attachment filename: %w", err)
			}
			b, err = io.ReadAll(p.Body)
			if err != nil {
				return docs, fmt.Errorf("could not read attachment: %w", err)
			}
			logger.Info("found attachment", "file", filename)
		default:
			logger.Debug("skipping unknown part", "header", p.Header)
			continue
		}

		parsed, err := dmarc.ReadFile(filename, b)
		docs = append(docs, parsed...)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", filename, err))
		}
	}
	return docs, result.ErrorOrNil()
}
