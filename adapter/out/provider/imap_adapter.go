// Package provider implements the mailbox source adapters.
package provider

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"alert_worker/core/port/out"
	"alert_worker/pkg/logger"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// IMAPConfig holds IMAP connection settings.
type IMAPConfig struct {
	Host     string
	Port     int
	UseSSL   bool
	Username string
	Password string
	Folders  []string
}

// IMAPAdapter implements out.MailProvider over IMAP. A fresh connection
// is dialed per fetch; alert volume is low enough that connection reuse
// is not worth the stale-session handling.
type IMAPAdapter struct {
	cfg IMAPConfig
	log *logger.Logger
}

func NewIMAPAdapter(cfg IMAPConfig) *IMAPAdapter {
	return &IMAPAdapter{
		cfg: cfg,
		log: logger.Default().WithField("component", "imap"),
	}
}

func (a *IMAPAdapter) Name() string { return "imap" }

func (a *IMAPAdapter) Folders() []string {
	if len(a.cfg.Folders) == 0 {
		return []string{"INBOX"}
	}
	return a.cfg.Folders
}

func (a *IMAPAdapter) Close() error { return nil }

func (a *IMAPAdapter) dial() (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port)

	var (
		c   *client.Client
		err error
	)
	if a.cfg.UseSSL {
		c, err = client.DialTLS(addr, nil)
	} else {
		c, err = client.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	if err := c.Login(a.cfg.Username, a.cfg.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("imap login: %w", err)
	}
	return c, nil
}

// FetchNew returns messages with UID above the cursor in ascending
// order. A zero cursor searches by date going back the backfill window
// instead.
func (a *IMAPAdapter) FetchNew(ctx context.Context, folder string, cursor int64, backfill time.Duration) ([]*out.FetchedMessage, error) {
	c, err := a.dial()
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Logout() }()

	if _, err := c.Select(folder, true); err != nil {
		return nil, fmt.Errorf("select %s: %w", folder, err)
	}

	seqset, err := a.searchSet(c, cursor, backfill)
	if err != nil {
		return nil, err
	}
	if seqset == nil {
		return nil, nil
	}

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	var fetched []*out.FetchedMessage
	for msg := range messages {
		// A cursor+1:* range echoes the last message back when the
		// mailbox has nothing new.
		if int64(msg.Uid) <= cursor {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			a.log.WithError(err).WithField("folder", folder).Warn("Failed to read message body")
			continue
		}
		fetched = append(fetched, &out.FetchedMessage{
			Folder: folder,
			UID:    int64(msg.Uid),
			MIME:   raw,
		})
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("uid fetch: %w", err)
	}

	sort.Slice(fetched, func(i, j int) bool { return fetched[i].UID < fetched[j].UID })
	return fetched, nil
}

func (a *IMAPAdapter) searchSet(c *client.Client, cursor int64, backfill time.Duration) (*imap.SeqSet, error) {
	if cursor > 0 {
		set := new(imap.SeqSet)
		set.AddRange(uint32(cursor+1), 0)
		return set, nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = time.Now().Add(-backfill)
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("uid search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	set := new(imap.SeqSet)
	set.AddNum(uids...)
	return set, nil
}
