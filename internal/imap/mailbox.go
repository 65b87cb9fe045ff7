package imap

import (
	"context"
	"fmt"

	"github.com/firefart/dmarcanalyzer/internal/config"
	"github.com/firefart/dmarcanalyzer/internal/dmarc"
	"github.com/firefart/dmarcanalyzer/internal/source"

	"github.com/charmbracelet/log"
	goimap "github.com/emersion/go-imap"
	"github.com/hashicorp/go-multierror"
)

// Mailbox reads aggregate reports from the attachments of the mails in an
// IMAP folder.
type Mailbox struct {
	config config.IMAPConfig
	logger *log.Logger
}

var _ source.Source = (*Mailbox)(nil)

func NewMailbox(conf config.IMAPConfig, logger *log.Logger) *Mailbox {
	return &Mailbox{
		config: conf,
		logger: logger,
	}
}

// Load fetches all mails in batches. Every batch uses a fresh connection as
// some IMAP servers have pretty short timeouts and the imap library does not
// handle reconnects. Mails that do not contain a report are skipped and
// reported in the returned error.
func (m *Mailbox) Load(ctx context.Context) ([]dmarc.Document, error) {
	var docs []dmarc.Document
	var result *multierror.Error
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return docs, err
		}
		m.logger.Debug("starting new imap batch", "batch_size", m.config.BatchSize, "offset", offset)
		b, err := m.fetchBatch(ctx, offset)
		docs = append(docs, b.docs...)
		if b.failures != nil {
			result = multierror.Append(result, b.failures.Errors...)
		}
		if err != nil {
			if result == nil {
				return docs, err
			}
			return docs, multierror.Append(result, err)
		}
		if !b.hasMore || b.processed == 0 {
			break
		}
		// deleted mails are gone after expunge, the next batch starts at
		// the beginning again
		if !m.config.Delete {
			offset += b.processed
		}
	}
	return docs, result.ErrorOrNil()
}

type batch struct {
	docs      []dmarc.Document
	failures  *multierror.Error
	processed int
	hasMore   bool
}

func (m *Mailbox) fetchBatch(ctx context.Context, offset int) (batch, error) {
	var b batch

	c, err := Connect(m.config, m.logger.StandardLog())
	if err != nil {
		return b, fmt.Errorf("could not connect to %s: %w", m.config.Host, err)
	}
	m.logger.Debug("connected to imap server")

	// also log IMAP messages in debug mode
	if m.logger.GetLevel() <= log.DebugLevel {
		c.SetDebug(m.logger.StandardLog(log.StandardLogOptions{ForceLevel: log.DebugLevel}).Writer())
	}

	if err := c.Login(m.config.User, m.config.Pass); err != nil {
		return b, fmt.Errorf("could not login: %w", err)
	}
	m.logger.Debug("successful login")

	defer func() {
		if err := c.Logout(); err != nil {
			m.logger.Error("error on logout", "err", err)
		}
	}()

	hasFolder, err := HasImapFolder(c, m.config.Folder)
	if err != nil {
		return b, fmt.Errorf("could not check if folder %s exists: %w", m.config.Folder, err)
	}
	if !hasFolder {
		return b, fmt.Errorf("imap folder %s not found in account", m.config.Folder)
	}

	mbox, err := c.Select(m.config.Folder, !m.config.Delete)
	if err != nil {
		return b, fmt.Errorf("could not select folder %s: %w", m.config.Folder, err)
	}
	m.logger.Info("opened mailbox", "name", mbox.Name, "messages", mbox.Messages, "unseen", mbox.Unseen)

	criteria := goimap.NewSearchCriteria()
	criteria.WithoutFlags = []string{goimap.DeletedFlag}
	ids, err := c.Search(criteria)
	if err != nil {
		return b, fmt.Errorf("could not search for mails: %w", err)
	}
	m.logger.Debug("found mails without the DELETED flag", "count", len(ids))

	ids, b.hasMore = window(ids, offset, m.config.BatchSize)
	if len(ids) == 0 {
		return b, nil
	}

	seqset := new(goimap.SeqSet)
	seqset.AddNum(ids...)
	m.logger.Debug("fetching messages", "set", seqset.String())

	messages := make(chan *goimap.Message)
	done := make(chan error, 1)

	section := &goimap.BodySectionName{}
	if !m.config.Delete {
		// do not set the \Seen flag on a read only run
		section.Peek = true
	}
	items := []goimap.FetchItem{
		section.FetchItem(),
		goimap.FetchEnvelope,
		goimap.FetchUid,
	}
	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	var processed []uint32
	for msg := range messages {
		b.processed++
		subject := ""
		if msg.Envelope != nil {
			subject = msg.Envelope.Subject
		}
		m.logger.Info("processing email", "subject", subject, "uid", msg.Uid)

		body := msg.GetBody(section)
		if body == nil {
			b.failures = multierror.Append(b.failures, fmt.Errorf("message %d: server didn't return message body", msg.Uid))
			continue
		}
		docs, err := ExtractReports(ctx, body, m.logger)
		b.docs = append(b.docs, docs...)
		if err != nil {
			b.failures = multierror.Append(b.failures, fmt.Errorf("message %d: %w", msg.Uid, err))
		}
		if len(docs) == 0 {
			m.logger.Info("message does not seem to be a valid dmarc report", "subject", subject)
		}
		// always delete a processed message to clean up junk behind
		processed = append(processed, msg.Uid)
	}

	if err := <-done; err != nil {
		return b, fmt.Errorf("error on fetch: %w", err)
	}

	if m.config.Delete {
		m.logger.Info("marking messages as deleted", "count", len(processed))
		if err := MarkMessagesAsDeleted(c, processed); err != nil {
			return b, fmt.Errorf("could not set delete flag: %w", err)
		}
		m.logger.Info("running expunge command (delete all marked messages)")
		if err := c.Expunge(nil); err != nil {
			return b, fmt.Errorf("could not expunge: %w", err)
		}
	}

	m.logger.Info("processed emails", "count", b.processed)
	return b, nil
}

// window returns up to size ids starting at offset and whether more ids
// follow.
func window(ids []uint32, offset, size int) ([]uint32, bool) {
	if offset >= len(ids) {
		return nil, false
	}
	ids = ids[offset:]
	if size <= 0 || size >= len(ids) {
		return ids, false
	}
	return ids[:size], true
}
