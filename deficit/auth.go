package deficit

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/deficit-engine/generic"
	"github.com/warp/deficit-engine/metrics"
)

// Gate checks the manager PIN before privileged actions (cancellation,
// payroll settlement, settings changes). A denied attempt changes nothing
// and can be retried at once.
type Gate struct {
	settings *settingsStore
	log      logrus.FieldLogger
}

func newGate(settings *settingsStore, log logrus.FieldLogger) *Gate {
	return &Gate{settings: settings, log: log.WithField("module", "auth")}
}

// Verify returns nil if pin matches the stored hash, else
// generic.ErrAuthorizationDenied.
func (g *Gate) Verify(_ context.Context, pin string) error {
	hash := g.settings.get().ManagerPINHash
	if pin == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) != nil {
		metrics.AuthorizationDenied.Inc()
		g.log.Warn("manager pin rejected")
		return generic.ErrAuthorizationDenied
	}
	return nil
}
