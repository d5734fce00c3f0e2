package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/peergrade/peergrade/pkg/data"
	"github.com/peergrade/peergrade/pkg/mail"
)

const smtpPasswordEnvVar = "PEERGRADE_SMTP_PASSWORD"

var (
	dryRunFlag = &cli.BoolFlag{
		Name:  "dry-run",
		Usage: "Log what would be sent without sending anything",
	}

	onlyToFlag = &cli.StringFlag{
		Name:  "only",
		Usage: "Send only to this evaluator id (test mode)",
	}

	notifyCmd = &cli.Command{
		Name:    "notify",
		Aliases: []string{"n"},
		Usage:   "Email each evaluator their personal review link",
		UsageText: `peergrade notify --dry-run     # check the batch first
   peergrade notify --only s042   # single-recipient test
   peergrade notify               # send the round`,
		Action: cmdNotify,
		Flags: []cli.Flag{
			dryRunFlag,
			onlyToFlag,
		},
	}
)

func cmdNotify(c *cli.Context) error {
	cfg := getConfig(c)
	dryRun := c.Bool(dryRunFlag.Name)
	only := c.String(onlyToFlag.Name)

	tokens, err := data.GetTokens(cfg.DB)
	if err != nil {
		return fmt.Errorf("loading tokens: %w", err)
	}
	if len(tokens) == 0 {
		return fmt.Errorf("no tokens minted, run assign first")
	}

	invitations, err := buildInvitations(cfg, tokens, only)
	if err != nil {
		return err
	}
	if len(invitations) == 0 {
		return fmt.Errorf("no matching recipients")
	}

	sender, err := mail.NewSender(cfg.Conf.SMTP, os.Getenv(smtpPasswordEnvVar), dryRun)
	if err != nil {
		return fmt.Errorf("creating smtp sender: %w", err)
	}

	report, err := sender.Send(cfg.DB, invitations)
	if err != nil {
		return fmt.Errorf("sending invitations: %w", err)
	}
	return encode(report)
}

func buildInvitations(cfg *appConfig, tokens []*data.TokenRecord, only string) ([]*mail.Invitation, error) {
	deadline := cfg.Conf.Course.Deadline

	invitations := make([]*mail.Invitation, 0, len(tokens))
	for _, t := range tokens {
		if only != "" && t.Evaluator != only {
			continue
		}

		student, err := data.GetStudent(cfg.DB, t.Evaluator)
		if err != nil {
			return nil, fmt.Errorf("loading student %s: %w", t.Evaluator, err)
		}
		if student == nil {
			return nil, fmt.Errorf("token for unknown student %s", t.Evaluator)
		}

		assignments, err := data.GetAssignmentsFor(cfg.DB, t.Evaluator)
		if err != nil {
			return nil, fmt.Errorf("loading assignments for %s: %w", t.Evaluator, err)
		}
		if len(assignments) == 0 {
			continue
		}
		targets := make([]string, 0, len(assignments))
		for _, a := range assignments {
			targets = append(targets, a.Target)
		}

		inv := &mail.Invitation{
			Evaluator: t.Evaluator,
			Name:      student.Name,
			Email:     student.Email,
			Link:      fmt.Sprintf("%s/evaluate?token=%s", cfg.Conf.Server.BaseURL, t.Signed),
			Targets:   targets,
			Course:    cfg.Conf.Course.Name,
			Deadline:  deadline,
		}
		if inv.Deadline == "" {
			inv.Deadline = t.ExpiresAt.Format(time.DateOnly)
		}
		invitations = append(invitations, inv)
	}
	return invitations, nil
}
