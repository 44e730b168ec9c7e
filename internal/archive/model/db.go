package model

import (
	"context"

	errors "github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"

	"github.com/lirano/guild-archiver/library/db/mongo"
)

// New dials the archive document store from the shared settings.
func New(ctx context.Context) (db mongo.DB, err error) {
	db, err = mongo.NewDB(ctx,
		mongo.DialInfo{
			Addr:   gconfig.Shared.GetString("settings.archive.db.addr"),
			DBName: gconfig.Shared.GetString("settings.archive.db.db"),
			User:   gconfig.Shared.GetString("settings.archive.db.user"),
			Pwd:    gconfig.Shared.GetString("settings.archive.db.pwd"),
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "dial db")
	}

	return db, nil
}
