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
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/traefik/hub-identity-core/internal/clock"
	"github.com/traefik/hub-identity-core/internal/cryptoops"
	"github.com/traefik/hub-identity-core/internal/httpdoer"
	"github.com/traefik/hub-identity-core/internal/prefstore"
	"github.com/traefik/hub-identity-core/pkg/authservice"
	"github.com/traefik/hub-identity-core/pkg/devicename"
	"github.com/traefik/hub-identity-core/pkg/diagnostics"
	"github.com/traefik/hub-identity-core/pkg/fraud"
	"github.com/traefik/hub-identity-core/pkg/netmanager"
	"github.com/traefik/hub-identity-core/pkg/netrequest"
	"github.com/traefik/hub-identity-core/pkg/session"
	"github.com/traefik/hub-identity-core/pkg/throttle"
	"github.com/traefik/hub-identity-core/pkg/tokencache"
	"github.com/traefik/hub-identity-core/pkg/tokenstore"
)

const (
	flagClientID            = "client-id"
	flagOAuth2BaseURL       = "oauth2-base-url"
	flagOAuth1BaseURL       = "oauth1-base-url"
	flagSitecheckHost       = "sitecheck-host"
	flagAllowInsecureOAuth1 = "allow-insecure-oauth1"
	flagAllowInsecureOAuth2 = "allow-insecure-oauth2"
	flagFullMetricsEnabled  = "full-metrics-enabled"
	flagFraudCheckServer    = "fraud-check-server"
	flagEncryptionKey       = "encryption-key"
)

type serveCmd struct {
	flags []cli.Flag
}

func newServeCmd() serveCmd {
	flgs := []cli.Flag{
		&cli.StringFlag{
			Name:     flagClientID,
			Usage:    "OAuth2 client_id stamped on every outbound request",
			EnvVars:  []string{"IDENTITY_CORE_CLIENT_ID"},
			Required: true,
		},
		&cli.StringFlag{
			Name:    flagOAuth2BaseURL,
			Usage:   "Base URL of the OAuth2 token endpoint",
			EnvVars: []string{"IDENTITY_CORE_OAUTH2_BASE_URL"},
			Value:   "https://auth2.opera.com",
		},
		&cli.StringFlag{
			Name:    flagOAuth1BaseURL,
			Usage:   "Base URL of the legacy OAuth1 migration endpoint",
			EnvVars: []string{"IDENTITY_CORE_OAUTH1_BASE_URL"},
			Value:   "https://auth.opera.com",
		},
		&cli.StringFlag{
			Name:    flagSitecheckHost,
			Usage:   "Host of the URL fraud-rating (sitecheck) service",
			EnvVars: []string{"IDENTITY_CORE_SITECHECK_HOST"},
			Value:   "sitecheck2.opera.com",
		},
		&cli.StringFlag{
			Name:    flagFraudCheckServer,
			Usage:   "Override for the fraud-check server base URL, in place of sitecheck-host",
			EnvVars: []string{"IDENTITY_CORE_FRAUD_CHECK_SERVER"},
		},
		&cli.BoolFlag{
			Name:    flagAllowInsecureOAuth1,
			Usage:   "Allow plain-HTTP connections to the OAuth1 migration endpoint",
			EnvVars: []string{"IDENTITY_CORE_ALLOW_INSECURE_OAUTH1"},
		},
		&cli.BoolFlag{
			Name:    flagAllowInsecureOAuth2,
			Usage:   "Allow plain-HTTP connections to the OAuth2 token endpoint",
			EnvVars: []string{"IDENTITY_CORE_ALLOW_INSECURE_OAUTH2"},
		},
		&cli.BoolFlag{
			Name:    flagFullMetricsEnabled,
			Usage:   "Send the session id as the sid query parameter on token requests",
			EnvVars: []string{"IDENTITY_CORE_FULL_METRICS_ENABLED"},
		},
		&cli.StringFlag{
			Name:     flagEncryptionKey,
			Usage:    "Key used to encrypt session, token, and device-name state at rest",
			EnvVars:  []string{"IDENTITY_CORE_ENCRYPTION_KEY"},
			Required: true,
		},
	}

	flgs = append(flgs, globalFlags()...)

	return serveCmd{flags: flgs}
}

func (c serveCmd) build() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Starts the identity core and blocks until signaled",
		Flags:  c.flags,
		Action: c.run,
	}
}

// run wires every collaborator the spec names and brings the engine to a
// ready state, then blocks until the process is signaled. Session load
// and token-cache load happen inside AuthService.Start, coordinated by
// an errgroup the same way the agent's own commands group their startup
// goroutines.
func (c serveCmd) run(cliCtx *cli.Context) error {
	setupLogging(cliCtx)

	ops, err := cryptoops.NewAESCTR([]byte(cliCtx.String(flagEncryptionKey)))
	if err != nil {
		return fmt.Errorf("create crypto ops: %w", err)
	}

	realClock := clock.Real{}

	sitecheckHost := cliCtx.String(flagSitecheckHost)
	sitecheckBaseURL := "https://" + sitecheckHost
	if override := cliCtx.String(flagFraudCheckServer); override != "" {
		sitecheckBaseURL = override
	}

	manager := netmanager.New(map[netrequest.URLType]netmanager.URLConfig{
		netrequest.URLTypeOAuth2:    {BaseURL: cliCtx.String(flagOAuth2BaseURL), AllowInsecure: cliCtx.Bool(flagAllowInsecureOAuth2)},
		netrequest.URLTypeOAuth1:    {BaseURL: cliCtx.String(flagOAuth1BaseURL), AllowInsecure: cliCtx.Bool(flagAllowInsecureOAuth1)},
		netrequest.URLTypeSitecheck: {BaseURL: sitecheckBaseURL},
	}, httpdoer.NewDefault(), realClock)

	sess := session.New(prefstore.NewMemory(), ops)
	cache := tokencache.New(tokenstore.NewMemory(ops), realClock)
	throttler := throttle.New(realClock, true)
	devNames := devicename.New(prefstore.NewMemory(), ops, currentDeviceName)

	svc := authservice.New(authservice.Config{
		ClientID:           cliCtx.String(flagClientID),
		FullMetricsEnabled: cliCtx.Bool(flagFullMetricsEnabled),
	}, sess, cache, manager, throttler, devNames, nil, realClock)

	fraudSvc := fraud.NewProtectionService(manager, realClock, sitecheckHost)

	diag := diagnostics.New(32, cache, sess, fraudSvc)

	group, groupCtx := errgroup.WithContext(cliCtx.Context)
	group.Go(func() error {
		svc.Start()
		return nil
	})

	if err := group.Wait(); err != nil {
		return fmt.Errorf("start identity core: %w", err)
	}

	snap := diag.TakeSnapshot()
	log.Info().
		Str("client_id", cliCtx.String(flagClientID)).
		Str("sitecheck_host", sitecheckHost).
		Interface("diagnostics", snap.Fields).
		Msg("Identity core started")

	<-groupCtx.Done()
	return nil
}

func currentDeviceName() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown-device"
	}
	return name
}
