package worker

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"leadpilot/config"
	"leadpilot/engine"
	"leadpilot/store"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
)

// ReplyWorker polls the sending mailbox over IMAP and matches inbound
// replies back to sequence sends via their In-Reply-To header, feeding
// Ingest.RecordReply so the lead exits the sequence.
type ReplyWorker struct {
	store    store.Store
	ingest   *engine.Ingest
	cfg      config.IMAPConfig
	interval time.Duration
	logger   *logrus.Logger
}

func NewReplyWorker(s store.Store, ingest *engine.Ingest, cfg config.IMAPConfig, interval time.Duration, logger *logrus.Logger) *ReplyWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &ReplyWorker{
		store:    s,
		ingest:   ingest,
		cfg:      cfg,
		interval: interval,
		logger:   logger,
	}
}

func (rw *ReplyWorker) Start(ctx context.Context) {
	if rw.cfg.Host == "" {
		rw.logger.Info("no IMAP host configured, reply worker disabled")
		return
	}
	rw.logger.WithField("interval", rw.interval).Info("reply worker started")

	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rw.logger.Info("reply worker shutting down")
			return
		case <-ticker.C:
			if err := rw.fetchReplies(ctx); err != nil {
				rw.logger.WithError(err).Error("fetching replies failed")
			}
		}
	}
}

func (rw *ReplyWorker) fetchReplies(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", rw.cfg.Host, rw.cfg.Port)
	imapClient, err := client.DialTLS(addr, &tls.Config{ServerName: rw.cfg.Host})
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer imapClient.Logout()

	if err := imapClient.Login(rw.cfg.Username, rw.cfg.Password); err != nil {
		return fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	mailbox := rw.cfg.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := imapClient.Select(mailbox, false); err != nil {
		return fmt.Errorf("failed to select mailbox: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := imapClient.Search(criteria)
	if err != nil {
		return fmt.Errorf("failed to search messages: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- imapClient.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchItem("BODY.PEEK[]")}, messages)
	}()

	for msg := range messages {
		if err := rw.processMessage(ctx, msg); err != nil {
			rw.logger.WithError(err).WithField("seq_num", msg.SeqNum).Warn("failed to process inbound message")
		}
	}

	if err := <-done; err != nil {
		return fmt.Errorf("error during fetch: %w", err)
	}
	return nil
}

func (rw *ReplyWorker) processMessage(ctx context.Context, msg *imap.Message) error {
	if msg.Envelope == nil {
		return nil
	}
	inReplyTo := strings.Trim(msg.Envelope.InReplyTo, "<> ")

	if msg.Body != nil {
		section := imap.BodySectionName{}
		if literal, ok := msg.Body[&section]; ok {
			mr, err := mail.CreateReader(literal)
			if err == nil {
				h := mr.Header
				// Auto-responders (out-of-office and friends) are not
				// replies; a lead should not fall out of a sequence over
				// one.
				if as := h.Get("Auto-Submitted"); as != "" && !strings.EqualFold(as, "no") {
					return nil
				}
				if inReplyTo == "" {
					inReplyTo = strings.Trim(h.Get("In-Reply-To"), "<> ")
				}
			}
		}
	}

	if inReplyTo == "" {
		return nil
	}
	ev, err := rw.store.SentEventByMessageID(ctx, inReplyTo)
	if err != nil {
		// Not one of ours.
		return nil
	}
	return rw.ingest.RecordReply(ctx, ev.EnrollmentID, ev.StepID, "reply:"+strings.Trim(msg.Envelope.MessageId, "<> "))
}
