package imap

import (
	"crypto/tls"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/firefart/dmarcanalyzer/internal/config"
)

// Connect dials the configured server. Plain connections are upgraded with
// STARTTLS when the server supports it.
func Connect(conf config.IMAPConfig, logger imap.Logger) (*client.Client, error) {
	tlsConfig := tls.Config{} // nolint: gosec
	if conf.IgnoreCert {
		tlsConfig.InsecureSkipVerify = true // nolint:gosec
	}

	var c *client.Client
	var err error
	if conf.SSL {
		c, err = client.DialTLS(conf.Host, &tlsConfig)
	} else {
		c, err = client.Dial(conf.Host)
	}
	if err != nil {
		return nil, err
	}
	c.ErrorLog = logger
	c.Timeout = conf.Timeout.Duration
	if conf.SSL {
		return c, nil
	}

	support, err := c.SupportStartTLS()
	if err != nil {
		_ = c.Logout()
		return nil, err
	}
	if support {
		if err := c.StartTLS(&tlsConfig); err != nil {
			_ = c.Logout()
			return nil, err
		}
	}
	return c, nil
}

func HasImapFolder(c *client.Client, folderName string) (bool, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "*", mailboxes)
	}()

	// drain the channel so List can finish
	hasFolder := false
	for m := range mailboxes {
		if m.Name == folderName {
			hasFolder = true
		}
	}

	if err := <-done; err != nil {
		return false, err
	}

	return hasFolder, nil
}

func MarkMessagesAsDeleted(c *client.Client, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	seq := new(imap.SeqSet)
	seq.AddNum(uids...)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.DeletedFlag}
	return c.UidStore(seq, item, flags, nil)
}
