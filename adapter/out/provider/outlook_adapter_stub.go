//go:build !windows

package provider

import (
	"context"
	"errors"
	"time"

	"alert_worker/core/port/out"
)

var errOutlookUnsupported = errors.New("outlook provider requires Windows (desktop Outlook COM automation)")

// OutlookAdapter drives a desktop Outlook instance over COM, which only
// exists on Windows. This stub keeps non-Windows builds compiling; the
// constructor rejects the provider at startup.
type OutlookAdapter struct{}

func NewOutlookAdapter(folders []string) (*OutlookAdapter, error) {
	return nil, errOutlookUnsupported
}

func (a *OutlookAdapter) Name() string      { return "outlook" }
func (a *OutlookAdapter) Folders() []string { return nil }
func (a *OutlookAdapter) Close() error      { return nil }

func (a *OutlookAdapter) FetchNew(ctx context.Context, folder string, cursor int64, backfill time.Duration) ([]*out.FetchedMessage, error) {
	return nil, errOutlookUnsupported
}
