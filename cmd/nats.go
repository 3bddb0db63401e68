package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/Synternet/bondingcurve-indexer/internal/config"
)

func setErrorHandlers(conn *nats.Conn) {
	if conn == nil {
		return
	}

	conn.SetErrorHandler(func(c *nats.Conn, s *nats.Subscription, err error) {
		slog.Error("NATS error", "err", err)
	})
	conn.SetDisconnectErrHandler(func(c *nats.Conn, err error) {
		slog.Error("NATS disconnected", "err", err)
	})
	conn.SetReconnectHandler(func(c *nats.Conn) {
		slog.Info("NATS reconnected", "url", c.ConnectedUrl())
	})
}

// connectNats returns nil without error when no NATS URL is configured.
func connectNats(name string, nc config.NATSConfig, urls []string) (*nats.Conn, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	// Sacrifice some security for the sake of user experience by allowing to
	// supply NATS account NKey instead of passing created user NKey and user JWS.
	if nc.AccNKey != "" {
		nkey, jwt, err := CreateUser(nc.AccNKey)
		if err != nil {
			return nil, fmt.Errorf("failed to generate user JWT: %w", err)
		}
		nc.NKey, nc.JWT = *nkey, *jwt
	}

	opts := []nats.Option{nats.Name(name), nats.MaxReconnects(-1)}
	switch {
	case nc.Creds != "":
		opts = append(opts, nats.UserCredentials(nc.Creds))
	case nc.JWT != "" && nc.NKey != "":
		opts = append(opts, nats.UserJWTAndSeed(nc.JWT, nc.NKey))
	}
	if nc.CACert != "" {
		opts = append(opts, nats.RootCAs(nc.CACert))
	}
	if nc.ClientCert != "" && nc.ClientKey != "" {
		opts = append(opts, nats.ClientCert(nc.ClientCert, nc.ClientKey))
	}

	conn, err := nats.Connect(strings.Join(urls, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS %s: %w", strings.Join(urls, ","), err)
	}
	setErrorHandlers(conn)
	return conn, nil
}
