package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/peergrade/peergrade/pkg/server"
	"github.com/peergrade/peergrade/pkg/token"
)

var (
	portFlag = &cli.IntFlag{
		Name:  "port",
		Usage: "Port on which the collection server will listen (default from config)",
	}

	serverCmd = &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Start the evaluation collection server",
		Action:  cmdStartServer,
		Flags: []cli.Flag{
			portFlag,
		},
	}
)

func cmdStartServer(c *cli.Context) error {
	cfg := getConfig(c)

	port := cfg.Conf.Server.Port
	if c.IsSet(portFlag.Name) {
		port = c.Int(portFlag.Name)
	}

	secret, err := token.LoadOrCreateSecret(cfg.Home)
	if err != nil {
		return fmt.Errorf("loading signing secret: %w", err)
	}
	issuer, err := token.NewIssuer(secret, cfg.Conf.Tokens.Issuer, cfg.Conf.Tokens.ExpiryDays)
	if err != nil {
		return fmt.Errorf("creating token issuer: %w", err)
	}

	srv, err := server.New(cfg.DB, issuer, cfg.Conf)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	return srv.Start(port)
}
