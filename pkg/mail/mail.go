// Package mail delivers the review invitations: one personal,
// single-use link per evaluator.
package mail

import (
	"bytes"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	texttemplate "text/template"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/peergrade/peergrade/pkg/config"
	"github.com/peergrade/peergrade/pkg/data"
)

//go:embed templates/*
var templateFS embed.FS

// Invitation is one evaluator's notification payload.
type Invitation struct {
	Evaluator string
	Name      string
	Email     string
	Link      string
	Targets   []string
	Course    string
	Deadline  string
}

// SendReport summarizes one notification round.
type SendReport struct {
	Sent   int `json:"sent" yaml:"sent"`
	Failed int `json:"failed" yaml:"failed"`
	DryRun int `json:"dry_run,omitempty" yaml:"dryRun,omitempty"`
}

// Sender delivers invitations over SMTP, pacing sends to stay under
// provider rate limits. With DryRun set nothing leaves the machine and
// every invitation is logged as dry-run.
type Sender struct {
	client   *mail.Client
	fromName string
	fromAddr string
	delay    time.Duration
	dryRun   bool

	textTmpl *texttemplate.Template
	htmlTmpl *htmltemplate.Template
}

// NewSender builds a Sender from SMTP settings. The password comes from
// the caller, not the config file.
func NewSender(cfg config.SMTP, password string, dryRun bool) (*Sender, error) {
	if cfg.FromAddress == "" {
		return nil, errors.New("smtp from address not configured")
	}

	s := &Sender{
		fromName: cfg.FromName,
		fromAddr: cfg.FromAddress,
		delay:    time.Duration(cfg.DelayMS) * time.Millisecond,
		dryRun:   dryRun,
	}

	var err error
	if s.textTmpl, err = texttemplate.ParseFS(templateFS, "templates/invite.txt.tmpl"); err != nil {
		return nil, fmt.Errorf("parsing text template: %w", err)
	}
	if s.htmlTmpl, err = htmltemplate.ParseFS(templateFS, "templates/invite.html.tmpl"); err != nil {
		return nil, fmt.Errorf("parsing html template: %w", err)
	}

	if dryRun {
		return s, nil
	}

	if cfg.Host == "" {
		return nil, errors.New("smtp host not configured")
	}
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(password),
		)
	}
	if s.client, err = mail.NewClient(cfg.Host, opts...); err != nil {
		return nil, fmt.Errorf("creating smtp client: %w", err)
	}
	return s, nil
}

// Send delivers the batch, logging every attempt to the send log.
// Individual delivery failures are recorded and skipped, not fatal.
func (s *Sender) Send(db *sql.DB, invitations []*Invitation) (*SendReport, error) {
	report := &SendReport{}

	for i, inv := range invitations {
		if i > 0 && s.delay > 0 && !s.dryRun {
			time.Sleep(s.delay)
		}

		if s.dryRun {
			slog.Info("dry-run: would send invitation",
				"evaluator", inv.Evaluator, "email", inv.Email, "targets", len(inv.Targets))
			report.DryRun++
			if err := data.LogSend(db, inv.Evaluator, inv.Email, data.SendStatusDryRun, ""); err != nil {
				return report, err
			}
			continue
		}

		if err := s.deliver(inv); err != nil {
			slog.Error("sending invitation failed",
				"evaluator", inv.Evaluator, "email", inv.Email, "error", err)
			report.Failed++
			if logErr := data.LogSend(db, inv.Evaluator, inv.Email, data.SendStatusFailed, err.Error()); logErr != nil {
				return report, logErr
			}
			continue
		}

		slog.Info("invitation sent", "evaluator", inv.Evaluator, "email", inv.Email)
		report.Sent++
		if err := data.LogSend(db, inv.Evaluator, inv.Email, data.SendStatusSent, ""); err != nil {
			return report, err
		}
	}

	return report, nil
}

func (s *Sender) deliver(inv *Invitation) error {
	text, html, err := s.render(inv)
	if err != nil {
		return err
	}

	msg := mail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.fromAddr); err != nil {
		return fmt.Errorf("setting from address: %w", err)
	}
	if err := msg.To(inv.Email); err != nil {
		return fmt.Errorf("setting to address: %w", err)
	}
	msg.Subject(fmt.Sprintf("%s: your peer review assignment", inv.Course))
	msg.SetBodyString(mail.TypeTextPlain, text)
	msg.AddAlternativeString(mail.TypeTextHTML, html)

	if err := s.client.DialAndSend(msg); err != nil {
		return fmt.Errorf("delivering to %s: %w", inv.Email, err)
	}
	return nil
}

func (s *Sender) render(inv *Invitation) (text, html string, err error) {
	var tb, hb bytes.Buffer
	if err = s.textTmpl.Execute(&tb, inv); err != nil {
		return "", "", fmt.Errorf("rendering text body: %w", err)
	}
	if err = s.htmlTmpl.Execute(&hb, inv); err != nil {
		return "", "", fmt.Errorf("rendering html body: %w", err)
	}
	return tb.String(), hb.String(), nil
}
