package seed

import (
	"context"

	"go.uber.org/zap"
)

type adminCreator interface {
	EnsureAdmin(ctx context.Context, email, password, name string) (bool, error)
}

// Admin creates the first administrator unless the email is already taken.
func Admin(ctx context.Context, admins adminCreator, email, password, name string, logger *zap.Logger) error {
	if name == "" {
		name = "Administrator"
	}
	created, err := admins.EnsureAdmin(ctx, email, password, name)
	if err != nil {
		return err
	}
	if created {
		logger.Info("administrator created", zap.String("email", email))
	} else {
		logger.Info("administrator already exists", zap.String("email", email))
	}
	return nil
}
