package provider

import (
	"context"
	"fmt"

	"alert_worker/config"
	"alert_worker/core/port/out"
)

// New builds the mail provider selected by EMAIL_PROVIDER.
func New(ctx context.Context, cfg *config.Config) (out.MailProvider, error) {
	switch cfg.EmailProvider {
	case "imap":
		if cfg.IMAPHost == "" {
			return nil, fmt.Errorf("IMAP_HOST is required for the imap provider")
		}
		return NewIMAPAdapter(IMAPConfig{
			Host:     cfg.IMAPHost,
			Port:     cfg.IMAPPort,
			UseSSL:   cfg.IMAPSSL,
			Username: cfg.IMAPUser,
			Password: cfg.IMAPPassword,
			Folders:  cfg.IMAPFolders,
		}), nil

	case "graph":
		if cfg.GraphTenantID == "" || cfg.GraphClientID == "" {
			return nil, fmt.Errorf("GRAPH_TENANT_ID and GRAPH_CLIENT_ID are required for the graph provider")
		}
		return NewGraphAdapter(ctx, GraphConfig{
			TenantID:     cfg.GraphTenantID,
			ClientID:     cfg.GraphClientID,
			ClientSecret: cfg.GraphClientSecret,
			Mailbox:      cfg.GraphMailbox,
			Folders:      cfg.GraphFolders,
		}), nil

	case "file":
		return NewFileAdapter(cfg.FileWatchPath)

	case "outlook":
		return NewOutlookAdapter(cfg.OutlookFolders)

	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.EmailProvider)
	}
}
