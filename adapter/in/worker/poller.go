// Package worker hosts the inbound workers: the mailbox poller, the
// stream processor and the periodic scheduler.
package worker

import (
	"context"
	"sync"
	"time"

	"alert_worker/core/port/out"
	"alert_worker/core/service/intake"
	"alert_worker/pkg/logger"
)

// Poller drives one MailProvider, polling every folder on an interval
// and handing fetched messages to intake. The per-folder cursor lives in
// the database and is advanced by intake's store transaction, so a
// crashed poll resumes where the last stored email left off.
type Poller struct {
	provider out.MailProvider
	emails   out.RawEmailRepository
	intake   *intake.Service

	interval time.Duration
	backfill time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *logger.Logger
}

func NewPoller(provider out.MailProvider, emails out.RawEmailRepository, svc *intake.Service, interval, backfill time.Duration) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		provider: provider,
		emails:   emails,
		intake:   svc,
		interval: interval,
		backfill: backfill,
		ctx:      ctx,
		cancel:   cancel,
		log:      logger.Default().WithField("component", "poller"),
	}
}

// Start launches one polling goroutine per folder.
func (p *Poller) Start() {
	folders := p.provider.Folders()
	p.log.WithFields(map[string]any{
		"provider": p.provider.Name(),
		"folders":  len(folders),
	}).Info("Starting mailbox poller")

	for _, folder := range folders {
		p.wg.Add(1)
		go p.run(folder)
	}
}

// Stop cancels all folder loops and waits for them to drain.
func (p *Poller) Stop() {
	p.cancel()
	p.wg.Wait()
	if err := p.provider.Close(); err != nil {
		p.log.WithError(err).Warn("Provider close failed")
	}
	p.log.Info("Mailbox poller stopped")
}

func (p *Poller) run(folder string) {
	defer p.wg.Done()

	log := p.log.WithField("folder", folder)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollOnce(folder, log)
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(folder, log)
		}
	}
}

func (p *Poller) pollOnce(folder string, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(p.ctx, 5*time.Minute)
	defer cancel()

	var lastUID int64
	if cursor, err := p.emails.GetCursor(ctx, folder); err != nil {
		log.WithError(err).Warn("Failed to load folder cursor")
		return
	} else if cursor != nil {
		lastUID = cursor.LastUID
	}

	messages, err := p.provider.FetchNew(ctx, folder, lastUID, p.backfill)
	if err != nil {
		log.WithError(err).Warn("Poll failed")
		if rerr := p.emails.RecordPollError(ctx, folder, err); rerr != nil {
			log.WithError(rerr).Warn("Failed to record poll error")
		}
		return
	}
	if len(messages) == 0 {
		return
	}

	stored := 0
	for _, msg := range messages {
		if ctx.Err() != nil {
			return
		}
		if _, isNew, err := p.intake.Ingest(ctx, msg); err != nil {
			log.WithError(err).WithField("uid", msg.UID).Warn("Failed to ingest message")
			if rerr := p.emails.RecordPollError(ctx, folder, err); rerr != nil {
				log.WithError(rerr).Warn("Failed to record poll error")
			}
			// Stop the batch so the cursor does not skip past the failure.
			return
		} else if isNew {
			stored++
		}
	}

	log.WithFields(map[string]any{
		"fetched": len(messages),
		"stored":  stored,
	}).Info("Poll cycle complete")
}
