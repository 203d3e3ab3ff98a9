package auth

import (
	"context"

	"identity-service/internal/model"
	"identity-service/internal/util"
)

// CodeDelivery hands a one-time code to the user out of band. Production
// wires an SMS or email gateway; development logs the code.
type CodeDelivery interface {
	Deliver(ctx context.Context, user *model.User, purpose, code string) error
}

// LogDelivery writes codes to the debug log. Development only.
type LogDelivery struct{}

func (LogDelivery) Deliver(_ context.Context, user *model.User, purpose, code string) error {
	util.Debug("One-time code delivery",
		util.String("username", user.Username),
		util.String("purpose", purpose),
		util.String("code", code))
	return nil
}
