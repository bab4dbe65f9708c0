//go:build windows

package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"alert_worker/core/domain"
	"alert_worker/core/port/out"
	"alert_worker/pkg/logger"

	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
)

const (
	olFolderInbox    = 6
	outlookFetchMax  = 50
	outlookTimeLayout = "01/02/2006 03:04:05 PM"
)

// OutlookAdapter implements out.MailProvider against a running desktop
// Outlook instance over COM. The client does not expose raw MIME, so
// messages come back pre-parsed. UIDs are ReceivedTime unix timestamps,
// same convention as the Graph adapter.
type OutlookAdapter struct {
	folders []string
	log     *logger.Logger
}

func NewOutlookAdapter(folders []string) (*OutlookAdapter, error) {
	return &OutlookAdapter{
		folders: folders,
		log:     logger.Default().WithField("component", "outlook"),
	}, nil
}

func (a *OutlookAdapter) Name() string { return "outlook" }

func (a *OutlookAdapter) Folders() []string {
	if len(a.folders) == 0 {
		return []string{"Inbox"}
	}
	return a.folders
}

func (a *OutlookAdapter) Close() error { return nil }

// FetchNew walks the folder newest-first and stops at the cursor or the
// per-poll cap. COM objects are created and released inside the call;
// the apartment is initialized per call because the poller may invoke
// this from any goroutine.
func (a *OutlookAdapter) FetchNew(ctx context.Context, folder string, cursor int64, backfill time.Duration) ([]*out.FetchedMessage, error) {
	if err := ole.CoInitialize(0); err != nil {
		if oleErr, ok := err.(*ole.OleError); !ok || oleErr.Code() != 1 { // S_FALSE: already initialized
			return nil, fmt.Errorf("com init: %w", err)
		}
	}
	defer ole.CoUninitialize()

	unknown, err := oleutil.CreateObject("Outlook.Application")
	if err != nil {
		return nil, fmt.Errorf("outlook not available: %w", err)
	}
	defer unknown.Release()

	app, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return nil, fmt.Errorf("outlook dispatch: %w", err)
	}
	defer app.Release()

	ns, err := oleutil.CallMethod(app, "GetNamespace", "MAPI")
	if err != nil {
		return nil, fmt.Errorf("mapi namespace: %w", err)
	}
	nsDisp := ns.ToIDispatch()
	defer nsDisp.Release()

	folderDisp, err := a.resolveFolder(nsDisp, folder)
	if err != nil {
		return nil, err
	}
	defer folderDisp.Release()

	items, err := oleutil.GetProperty(folderDisp, "Items")
	if err != nil {
		return nil, fmt.Errorf("folder items: %w", err)
	}
	itemsDisp := items.ToIDispatch()
	defer itemsDisp.Release()

	if _, err := oleutil.CallMethod(itemsDisp, "Sort", "[ReceivedTime]", true); err != nil {
		return nil, fmt.Errorf("sort items: %w", err)
	}

	count := int(oleutil.MustGetProperty(itemsDisp, "Count").Val)
	floor := time.Unix(cursor, 0)
	if cursor == 0 {
		floor = time.Now().Add(-backfill)
	}

	var fetched []*out.FetchedMessage
	for i := 1; i <= count && len(fetched) < outlookFetchMax; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item, err := oleutil.CallMethod(itemsDisp, "Item", i)
		if err != nil {
			continue
		}
		msg := a.readItem(item.ToIDispatch(), folder)
		item.ToIDispatch().Release()
		if msg == nil {
			continue
		}
		// Sorted newest-first; past the floor means everything older is too.
		if msg.UID <= cursor || !time.Unix(msg.UID, 0).After(floor) {
			break
		}
		fetched = append(fetched, msg)
	}

	sort.Slice(fetched, func(i, j int) bool { return fetched[i].UID < fetched[j].UID })
	return fetched, nil
}

func (a *OutlookAdapter) resolveFolder(ns *ole.IDispatch, folder string) (*ole.IDispatch, error) {
	inbox, err := oleutil.CallMethod(ns, "GetDefaultFolder", olFolderInbox)
	if err != nil {
		return nil, fmt.Errorf("default folder: %w", err)
	}
	inboxDisp := inbox.ToIDispatch()
	if strings.EqualFold(folder, "Inbox") || strings.EqualFold(folder, "INBOX") {
		return inboxDisp, nil
	}
	defer inboxDisp.Release()

	subs, err := oleutil.GetProperty(inboxDisp, "Folders")
	if err != nil {
		return nil, fmt.Errorf("subfolders: %w", err)
	}
	subsDisp := subs.ToIDispatch()
	defer subsDisp.Release()

	sub, err := oleutil.CallMethod(subsDisp, "Item", folder)
	if err != nil {
		return nil, fmt.Errorf("folder %q not found: %w", folder, err)
	}
	return sub.ToIDispatch(), nil
}

// readItem decodes one MailItem into a pre-parsed message. Non-mail
// items (meeting requests, reports) are skipped.
func (a *OutlookAdapter) readItem(item *ole.IDispatch, folder string) *out.FetchedMessage {
	if cls, err := oleutil.GetProperty(item, "Class"); err != nil || cls.Val != 43 { // olMail
		return nil
	}

	received, ok := oleVariantTime(item, "ReceivedTime")
	if !ok {
		return nil
	}

	entryID := oleString(item, "EntryID")
	email := &domain.RawEmail{
		Folder:      folder,
		UID:         received.Unix(),
		MessageID:   entryID,
		Subject:     oleString(item, "Subject"),
		FromAddress: strings.ToLower(oleString(item, "SenderEmailAddress")),
		BodyText:    oleString(item, "Body"),
		BodyHTML:    oleString(item, "HTMLBody"),
		DateHeader:  &received,
		ParseStatus: domain.ParseStatusPending,
	}
	if to := oleString(item, "To"); to != "" {
		email.ToAddresses = strings.Split(to, "; ")
	}
	if id := oleString(item, "InternetMessageId"); id != "" {
		email.MessageID = id
	}

	return &out.FetchedMessage{
		Folder:    folder,
		UID:       email.UID,
		PreParsed: email,
	}
}

func oleString(item *ole.IDispatch, prop string) string {
	v, err := oleutil.GetProperty(item, prop)
	if err != nil {
		return ""
	}
	defer v.Clear()
	return v.ToString()
}

func oleVariantTime(item *ole.IDispatch, prop string) (time.Time, bool) {
	v, err := oleutil.GetProperty(item, prop)
	if err != nil {
		return time.Time{}, false
	}
	defer v.Clear()
	if t, ok := v.Value().(time.Time); ok {
		return t.UTC(), true
	}
	if t, err := time.ParseInLocation(outlookTimeLayout, v.ToString(), time.Local); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}
