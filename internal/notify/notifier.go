package notify

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/AlColeNS/search-expiscor-sub004/internal/common"
	"github.com/AlColeNS/search-expiscor-sub004/internal/pipeline"
)

// Row is one noteworthy event accumulated during a crawl for the summary
// mail, typically a per-document failure.
type Row struct {
	Time    time.Time
	DocID   string
	Phase   string
	Status  string
	Message string
}

// Notifier accumulates crawl events and mails a summary when a crawl
// finishes. Disabled notifiers accept events and silently discard the
// summary. Safe for concurrent use.
type Notifier struct {
	config *common.MailConfig
	name   string
	logger arbor.ILogger

	mu   sync.Mutex
	rows []Row
}

// NewNotifier creates a notifier for the named connector.
func NewNotifier(config *common.MailConfig, name string, logger arbor.ILogger) *Notifier {
	return &Notifier{
		config: config,
		name:   name,
		logger: logger,
	}
}

// Add records one event row.
func (n *Notifier) Add(row Row) {
	if row.Time.IsZero() {
		row.Time = time.Now().UTC()
	}
	n.mu.Lock()
	n.rows = append(n.rows, row)
	n.mu.Unlock()
}

// Rows returns a copy of the accumulated events.
func (n *Notifier) Rows() []Row {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Row, len(n.rows))
	copy(out, n.rows)
	return out
}

// Reset clears the accumulated events; called at the start of each crawl.
func (n *Notifier) Reset() {
	n.mu.Lock()
	n.rows = nil
	n.mu.Unlock()
}

// SendSummary mails the crawl outcome. A disabled notifier or an empty
// recipient list is a no-op.
func (n *Notifier) SendSummary(crawlType string, report *pipeline.Report, runErr error) error {
	if !n.config.Enabled || len(n.config.To) == 0 {
		return nil
	}

	subject := fmt.Sprintf("%s: %s crawl completed", n.name, crawlType)
	if runErr != nil {
		subject = fmt.Sprintf("%s: %s crawl FAILED", n.name, crawlType)
	}

	body := n.buildBody(crawlType, report, runErr)
	if err := n.send(subject, body); err != nil {
		return fmt.Errorf("failed to send crawl summary: %w", err)
	}
	n.logger.Info().Int("recipients", len(n.config.To)).Msg("Crawl summary sent")
	return nil
}

func (n *Notifier) buildBody(crawlType string, report *pipeline.Report, runErr error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Connector: %s\r\n", n.name)
	fmt.Fprintf(&b, "Crawl type: %s\r\n", crawlType)
	fmt.Fprintf(&b, "Finished: %s\r\n", time.Now().UTC().Format(time.RFC3339))
	if runErr != nil {
		fmt.Fprintf(&b, "Result: FAILED: %v\r\n", runErr)
	} else {
		fmt.Fprintf(&b, "Result: completed\r\n")
	}
	if report != nil {
		fmt.Fprintf(&b, "Documents: %d\r\n", report.Documents)
		fmt.Fprintf(&b, "Failures: %d\r\n", report.Failures)
		fmt.Fprintf(&b, "Elapsed: %s\r\n", report.Elapsed.Round(time.Millisecond))
		for phase, stats := range report.Phases {
			fmt.Fprintf(&b, "  %s: count=%d avg=%s max=%s\r\n",
				phase, stats.Count,
				stats.Average().Round(time.Microsecond),
				stats.Max.Round(time.Microsecond))
		}
	}

	rows := n.Rows()
	if len(rows) > 0 {
		fmt.Fprintf(&b, "\r\nEvents (%d):\r\n", len(rows))
		for _, row := range rows {
			fmt.Fprintf(&b, "  %s  %s  %s  %s  %s\r\n",
				row.Time.Format(time.RFC3339), row.DocID, row.Phase, row.Status, row.Message)
		}
	}
	return b.String()
}

func (n *Notifier) send(subject, body string) error {
	addr := fmt.Sprintf("%s:%d", n.config.Host, n.config.Port)

	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer client.Close()

	if n.config.UseTLS {
		if err := client.StartTLS(&tls.Config{ServerName: n.config.Host}); err != nil {
			return fmt.Errorf("starttls failed: %w", err)
		}
	}
	if n.config.Username != "" {
		auth := smtp.PlainAuth("", n.config.Username, n.config.Password, n.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}

	if err := client.Mail(n.config.From); err != nil {
		return fmt.Errorf("mail from rejected: %w", err)
	}
	for _, to := range n.config.To {
		if err := client.Rcpt(to); err != nil {
			return fmt.Errorf("recipient %s rejected: %w", to, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return err
	}
	message := fmt.Sprintf("From: %s <%s>\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		n.config.FromName, n.config.From, strings.Join(n.config.To, ", "), subject, body)
	if _, err := writer.Write([]byte(message)); err != nil {
		writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	return client.Quit()
}
