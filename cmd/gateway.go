// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/ttrushin/ha-aromatech-scent-diffuser/internal/bridge"
	"github.com/ttrushin/ha-aromatech-scent-diffuser/internal/session"
)

// GetPassword retrieves the gateway password from the environment or
// prompts for it without echo.
func GetPassword() (string, error) {
	if pw := os.Getenv("AROMALINK_WS_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// openLink opens the gateway link selected by the connection flags.
func openLink(ctx context.Context) (bridge.Link, string, error) {
	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		link, err := bridge.DialWSLink(ctx, bridge.WSOptions{
			URL:           wsURL,
			Username:      wsUsername,
			Password:      password,
			SkipSSLVerify: wsNoSSLVerify,
		}, logger)
		if err != nil {
			return nil, "", err
		}

		return link, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if portName != "" {
		link, err := bridge.OpenSerialLink(portName, baudRate, logger)
		if err != nil {
			return nil, "", err
		}

		return link, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", fmt.Errorf("either --port or --url must be specified")
}

// openSession builds a single-device session over a freshly opened link.
// The returned cleanup shuts the session down and closes the link.
func openSession(ctx context.Context) (*session.Session, func(), error) {
	if deviceAddress == "" {
		return nil, nil, fmt.Errorf("--address is required")
	}

	link, connInfo, err := openLink(ctx)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug().Str("gateway", connInfo).Str("device", deviceAddress).Msg("gateway link open")

	mux := bridge.NewMux(link, logger)
	sess := session.New(session.Config{
		Address:  deviceAddress,
		Password: devicePassword,
	}, mux.Client(deviceAddress), logger)

	cleanup := func() {
		sess.Shutdown()
		mux.Close()
	}
	return sess, cleanup, nil
}
