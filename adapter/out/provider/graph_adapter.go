package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"alert_worker/core/port/out"
	"alert_worker/pkg/httputil"
	"alert_worker/pkg/logger"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// GraphConfig holds Microsoft Graph application credentials.
type GraphConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Mailbox      string
	Folders      []string
}

// GraphAdapter implements out.MailProvider against the Microsoft Graph
// mail API with client-credentials auth. Message order keys on
// receivedDateTime; the UID is its unix timestamp, which keeps the
// shared integer-cursor contract.
type GraphAdapter struct {
	cfg    GraphConfig
	client *http.Client

	mu        sync.Mutex
	folderIDs map[string]string
	log       *logger.Logger
}

func NewGraphAdapter(ctx context.Context, cfg GraphConfig) *GraphAdapter {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.TenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}

	httpCtx := context.WithValue(ctx, oauth2.HTTPClient, httputil.GraphClient())
	return &GraphAdapter{
		cfg:       cfg,
		client:    cc.Client(httpCtx),
		folderIDs: make(map[string]string),
		log:       logger.Default().WithField("component", "graph"),
	}
}

func (a *GraphAdapter) Name() string { return "graph" }

func (a *GraphAdapter) Folders() []string {
	if len(a.cfg.Folders) == 0 {
		return []string{"Inbox"}
	}
	return a.cfg.Folders
}

func (a *GraphAdapter) Close() error { return nil }

type graphMessageList struct {
	Value []struct {
		ID               string    `json:"id"`
		ReceivedDateTime time.Time `json:"receivedDateTime"`
	} `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

type graphFolderList struct {
	Value []struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
	} `json:"value"`
}

// FetchNew lists messages received after the cursor instant and
// downloads each one's raw MIME.
func (a *GraphAdapter) FetchNew(ctx context.Context, folder string, cursor int64, backfill time.Duration) ([]*out.FetchedMessage, error) {
	folderID, err := a.resolveFolder(ctx, folder)
	if err != nil {
		return nil, err
	}

	since := time.Unix(cursor, 0).UTC()
	if cursor == 0 {
		since = time.Now().Add(-backfill).UTC()
	}

	listURL := fmt.Sprintf(
		"%s/users/%s/mailFolders/%s/messages?$filter=receivedDateTime gt %s&$orderby=receivedDateTime asc&$top=50&$select=id,receivedDateTime",
		graphBaseURL, url.PathEscape(a.cfg.Mailbox), folderID,
		since.Format("2006-01-02T15:04:05Z"))

	var fetched []*out.FetchedMessage
	for listURL != "" {
		var page graphMessageList
		if err := a.getJSON(ctx, listURL, &page); err != nil {
			return nil, err
		}

		for _, m := range page.Value {
			uid := m.ReceivedDateTime.Unix()
			if uid <= cursor {
				continue
			}
			raw, err := a.fetchMIME(ctx, m.ID)
			if err != nil {
				a.log.WithError(err).WithField("folder", folder).Warn("Failed to download message MIME")
				continue
			}
			fetched = append(fetched, &out.FetchedMessage{
				Folder: folder,
				UID:    uid,
				MIME:   raw,
			})
		}
		listURL = page.NextLink
	}

	sort.Slice(fetched, func(i, j int) bool { return fetched[i].UID < fetched[j].UID })
	return fetched, nil
}

// resolveFolder maps a display name to the Graph folder id, cached for
// the adapter's lifetime.
func (a *GraphAdapter) resolveFolder(ctx context.Context, folder string) (string, error) {
	a.mu.Lock()
	if id, ok := a.folderIDs[folder]; ok {
		a.mu.Unlock()
		return id, nil
	}
	a.mu.Unlock()

	listURL := fmt.Sprintf("%s/users/%s/mailFolders?$filter=displayName eq '%s'",
		graphBaseURL, url.PathEscape(a.cfg.Mailbox), url.QueryEscape(folder))

	var folders graphFolderList
	if err := a.getJSON(ctx, listURL, &folders); err != nil {
		return "", err
	}
	if len(folders.Value) == 0 {
		return "", fmt.Errorf("graph folder %q not found", folder)
	}

	id := folders.Value[0].ID
	a.mu.Lock()
	a.folderIDs[folder] = id
	a.mu.Unlock()
	return id, nil
}

func (a *GraphAdapter) fetchMIME(ctx context.Context, messageID string) ([]byte, error) {
	u := fmt.Sprintf("%s/users/%s/messages/%s/$value",
		graphBaseURL, url.PathEscape(a.cfg.Mailbox), messageID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph mime fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graph mime fetch: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (a *GraphAdapter) getJSON(ctx context.Context, u string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("graph request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("graph request: status %d: %s", resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
