package controller

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Handshake sends TEST until the controller answers OK, at most attempts
// times with interval between tries. If the controller never answers, the
// transport is closed and ErrConnection is returned.
func Handshake(t Transport, clk clock.Clock, attempts int, interval time.Duration, logger *zap.SugaredLogger) error {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	for i := 0; i < attempts; i++ {
		response, err := exchangeTest(t)
		if err == nil && response == RespOK {
			logger.Debugw("connection test passed", "attempt", i+1)
			return nil
		}
		logger.Debugw("connection test failed", "attempt", i+1, "response", response, "error", err)

		if i+1 < attempts {
			clk.Sleep(interval)
		}
	}

	err := errors.Wrapf(ErrConnection, "no %s after %d attempts", RespOK, attempts)
	return multierr.Append(err, t.Close())
}

func exchangeTest(t Transport) (string, error) {
	if err := t.Send(CmdTest); err != nil {
		return "", err
	}
	return t.Read()
}
