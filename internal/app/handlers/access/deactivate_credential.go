package access

import (
	"context"
	"log/slog"

	"staybook/internal/app/commands"
	"staybook/internal/app/handlers/support"
	"staybook/internal/app/uow"
	domainaccess "staybook/internal/domain/access"
)

const deactivateCredentialKey = "host.credentials.deactivate"

type DeactivateCredentialCommand struct {
	HostID       string `validate:"required"`
	CredentialID string `validate:"required"`
}

func (c DeactivateCredentialCommand) Key() string { return deactivateCredentialKey }

func (c DeactivateCredentialCommand) LogAttrs() []any {
	return []any{"host_id", c.HostID, "credential_id", c.CredentialID}
}

type CredentialResult struct {
	ID         string `json:"id"`
	PropertyID string `json:"property_id"`
	Label      string `json:"label,omitempty"`
	Active     bool   `json:"active"`
	UsageCount int    `json:"usage_count"`
}

// DeactivateCredentialHandler soft-deactivates a credential. Bookings that hold
// its code keep their snapshot; the cursor keeps cycling over the rest.
type DeactivateCredentialHandler struct {
	UoWFactory uow.UoWFactory
	Logger     *slog.Logger
	Clock      support.Clock
}

func (h *DeactivateCredentialHandler) Handle(ctx context.Context, cmd DeactivateCredentialCommand) (*CredentialResult, error) {
	var result *CredentialResult
	err := support.InUnit(ctx, h.UoWFactory, func(ctx context.Context, unit uow.UnitOfWork) error {
		cred, err := unit.Credentials().ByID(ctx, domainaccess.CredentialID(cmd.CredentialID))
		if err != nil {
			return err
		}
		prop, err := unit.Properties().ByID(ctx, cred.PropertyID)
		if err != nil {
			return err
		}
		if string(prop.Host) != cmd.HostID {
			return domainaccess.ErrCredentialNotFound
		}
		cred.Deactivate(h.Clock.Now())
		if err := unit.Credentials().Save(ctx, cred); err != nil {
			return err
		}
		result = &CredentialResult{
			ID:         string(cred.ID),
			PropertyID: string(cred.PropertyID),
			Label:      cred.Label,
			Active:     cred.Active,
			UsageCount: cred.UsageCount,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if h.Logger != nil {
		h.Logger.Info("access credential deactivated", "credential_id", cmd.CredentialID, "host_id", cmd.HostID)
	}
	return result, nil
}

var _ commands.Handler[DeactivateCredentialCommand, *CredentialResult] = (*DeactivateCredentialHandler)(nil)
