/*
Copyright (C) 2024 Hub Identity Core Authors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program. If not, see <https://www.gnu.org/licenses/>.
*/

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ettle/strcase"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/traefik/hub-identity-core/pkg/logger"
	"github.com/traefik/hub-identity-core/pkg/version"
)

const (
	flagLogLevel  = "log-level"
	flagLogFormat = "log-format"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error while executing command")
	}
}

func run() error {
	app := &cli.App{
		Name:    "identity-core",
		Usage:   "Runs the browser account identity and URL fraud-rating core",
		Version: version.String(),
		Commands: []*cli.Command{
			newServeCmd().build(),
			newVersionCmd().build(),
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return app.RunContext(ctx, os.Args)
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    flagLogLevel,
			Usage:   "Log level to use (debug, info, warn, error or fatal)",
			EnvVars: []string{strcase.ToSNAKE(flagLogLevel)},
			Value:   "info",
		},
		&cli.StringFlag{
			Name:    flagLogFormat,
			Usage:   "Log format to use (json or console)",
			EnvVars: []string{strcase.ToSNAKE(flagLogFormat)},
			Value:   "json",
			Hidden:  true,
		},
	}
}

func setupLogging(cliCtx *cli.Context) {
	logger.Setup(cliCtx.String(flagLogLevel), cliCtx.String(flagLogFormat))
	version.Log()
}
