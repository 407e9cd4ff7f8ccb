package config

import (
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/aurapacs/portal/internal/dicomstore"
)

// Validate ensures the configuration is usable. The store section is left
// to RequireStore, since client commands never open a store.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server),
		validation.Field(&c.Study),
		validation.Field(&c.Viewer),
		validation.Field(&c.Ingest),
		validation.Field(&c.Logging),
	)
}

func (s Server) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Port, validation.Required, is.Port),
		validation.Field(&s.APIBase, validation.Required),
		validation.Field(&s.MaxUploadBytes, validation.Min(int64(1))),
	)
}

// RequireStore validates the store section for the selected backend.
func (c *Config) RequireStore() error {
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

func (s Store) Validate() error {
	err := validation.ValidateStruct(&s,
		validation.Field(&s.Backend, validation.Required, validation.In(dicomstore.BackendHealthcare, dicomstore.BackendDICOMweb)),
		validation.Field(&s.Endpoint, is.URL),
	)
	if err != nil {
		return err
	}

	switch s.Backend {
	case dicomstore.BackendDICOMweb:
		return validation.ValidateStruct(&s,
			validation.Field(&s.DICOMwebURL, validation.Required, is.URL),
		)
	case dicomstore.BackendHealthcare:
		return validation.ValidateStruct(&s,
			validation.Field(&s.ProjectID, validation.Required),
			validation.Field(&s.Location, validation.Required),
			validation.Field(&s.DatasetID, validation.Required),
			validation.Field(&s.DicomStoreID, validation.Required),
		)
	}
	return errors.New("unreachable backend")
}

func (s Study) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Concurrency, validation.Min(1), validation.Max(64)),
	)
}

func (v Viewer) Validate() error {
	return validation.ValidateStruct(&v,
		validation.Field(&v.Tool, validation.In("Zoom", "Pan", "Wwwc", "zoom", "pan", "wwwc", "window")),
		validation.Field(&v.PrefetchConnections, validation.Min(1), validation.Max(32)),
	)
}

func (i Ingest) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.Workers, validation.Min(1)),
		validation.Field(&i.Interval, validation.Min(time.Second)),
		validation.Field(&i.Settle, validation.Min(time.Duration(0))),
	)
}

func (l Logging) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&l.Format, validation.In("text", "json")),
	)
}
