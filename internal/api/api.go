package api

import (
	"notifcast/internal/config"
	"notifcast/internal/registry"
	"notifcast/internal/scheduler"
	"notifcast/internal/storage"
)

type API struct {
	Storage  *storage.Storage
	Registry *registry.Registry
	Pub      scheduler.Publisher
	Cfg      *config.Config
}

func NewAPI(db *storage.Storage, reg *registry.Registry, pub scheduler.Publisher, cfg *config.Config) *API {
	return &API{
		Storage:  db,
		Registry: reg,
		Pub:      pub,
		Cfg:      cfg,
	}
}
