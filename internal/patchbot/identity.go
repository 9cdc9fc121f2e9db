package patchbot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/patchbot/internal/gitexec"
	"github.com/simplesurance/patchbot/internal/logfields"
)

type UserIDResolver interface {
	UserID(ctx context.Context, login string) (int64, error)
}

// BotLogin returns the login name of the github user that GitHub creates
// for an app.
func BotLogin(appName string) string {
	return appName + "[bot]"
}

// ResolveIdentity returns the git identity of the github app with the
// given name.
// Transient errors of clt are retried.
func ResolveIdentity(ctx context.Context, retryer *Retryer, clt UserIDResolver, appName string) (gitexec.Identity, error) {
	login := BotLogin(appName)
	logF := []zap.Field{zap.String("github.login", login)}

	var userID int64

	err := retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		userID, err = clt.UserID(ctx, login)
		return err
	}, logF)
	if err != nil {
		return gitexec.Identity{}, fmt.Errorf("retrieving user id of %q failed: %w", login, err)
	}

	zap.L().Named(loggerName).Debug(
		"resolved git identity of app",
		logfields.Event("bot_identity_resolved"),
		zap.String("github.login", login),
		zap.Int64("github.user_id", userID),
	)

	return gitexec.BotIdentity(login, userID), nil
}
