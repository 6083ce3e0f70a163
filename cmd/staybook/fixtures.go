package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	domainaccess "staybook/internal/domain/access"
	domainproperty "staybook/internal/domain/property"
	"staybook/internal/domain/shared/money"
)

type fixtureFile struct {
	Properties []propertyFixture `json:"properties"`
}

type propertyFixture struct {
	ID                 string              `json:"id"`
	Host               string              `json:"host"`
	HostEmail          string              `json:"host_email"`
	Name               string              `json:"name"`
	Currency           string              `json:"currency"`
	NightlyRate        int64               `json:"nightly_rate"`
	CleaningFee        int64               `json:"cleaning_fee"`
	MinNights          int                 `json:"min_nights"`
	MaxNights          int                 `json:"max_nights"`
	DepositBasisPoints int                 `json:"deposit_bps"`
	RotationEnabled    bool                `json:"rotation_enabled"`
	Credentials        []credentialFixture `json:"credentials"`
}

type credentialFixture struct {
	ID    string `json:"id"`
	Code  string `json:"code"`
	Label string `json:"label"`
}

// loadFixtures seeds properties and their access credentials. Properties that
// fail validation are logged and skipped.
func loadFixtures(ctx context.Context, path string, props domainproperty.Repository, creds domainaccess.Repository, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("fixtures file not found, skipping", "path", path)
			return nil
		}
		return fmt.Errorf("read fixtures: %w", err)
	}
	if len(data) == 0 {
		logger.Warn("fixtures file empty", "path", path)
		return nil
	}
	var file fixtureFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("decode fixtures: %w", err)
	}

	now := time.Now().UTC()
	for _, fx := range file.Properties {
		prop, err := fx.property(now)
		if err != nil {
			logger.Error("fixture invalid", "property_id", fx.ID, "error", err)
			continue
		}
		if err := props.Save(ctx, prop); err != nil {
			logger.Error("cannot store fixture property", "property_id", fx.ID, "error", err)
			continue
		}
		for i, cf := range fx.Credentials {
			cred := &domainaccess.Credential{
				ID:         domainaccess.CredentialID(cf.ID),
				PropertyID: prop.ID,
				Index:      i,
				Code:       cf.Code,
				Label:      cf.Label,
				Active:     true,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := creds.Save(ctx, cred); err != nil {
				logger.Error("cannot store fixture credential", "credential_id", cf.ID, "error", err)
			}
		}
		logger.Info("property fixture imported", "property_id", prop.ID, "credentials", len(fx.Credentials))
	}
	return nil
}

func (fx propertyFixture) property(now time.Time) (*domainproperty.Property, error) {
	rate, err := money.New(fx.NightlyRate, fx.Currency)
	if err != nil {
		return nil, err
	}
	fee, err := money.New(fx.CleaningFee, fx.Currency)
	if err != nil {
		return nil, err
	}
	prop := &domainproperty.Property{
		ID:                 domainproperty.PropertyID(fx.ID),
		Host:               domainproperty.HostID(fx.Host),
		HostEmail:          fx.HostEmail,
		Name:               fx.Name,
		NightlyRate:        rate,
		CleaningFee:        fee,
		MinNights:          fx.MinNights,
		MaxNights:          fx.MaxNights,
		DepositBasisPoints: fx.DepositBasisPoints,
		RotationEnabled:    fx.RotationEnabled,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	return prop, prop.Validate()
}

func defaultFixturesPath() string {
	candidates := []string{
		filepath.Join("data", "fixtures.json"),
		filepath.Join("..", "..", "data", "fixtures.json"),
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return candidates[0]
}
