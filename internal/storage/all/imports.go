// Package all wires the built-in storage backends into the storage factory.
//
// It exists purely for side effects: a blank import runs each backend's init
// function, which registers its factory with the storage package. Importing
// it makes the "sqlite" and "postgres" kinds available to storage.New.
package all

import (
	_ "github.com/Chando-ra/fraudprep/internal/storage/postgres"
	_ "github.com/Chando-ra/fraudprep/internal/storage/sqlite"
)
