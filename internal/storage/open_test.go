package storage_test

import (
	"context"
	"testing"

	qt "github.com/frankban/quicktest"

	"geolisting/internal/shared"
	"geolisting/internal/storage"
	"geolisting/internal/storage/memory"
)

func TestOpen_Memory(t *testing.T) {
	c := qt.New(t)
	s, err := storage.Open(context.Background(), shared.Config{DBDriver: "memory"})
	c.Assert(err, qt.IsNil)
	_, ok := s.(*memory.Store)
	c.Assert(ok, qt.IsTrue)
	c.Assert(s.Migrate(context.Background()), qt.IsNil)
	c.Assert(s.Close(), qt.IsNil)
}

func TestOpen_UnknownDriver(t *testing.T) {
	c := qt.New(t)
	_, err := storage.Open(context.Background(), shared.Config{DBDriver: "sqlite"})
	c.Assert(err, qt.ErrorMatches, `unknown DB_DRIVER "sqlite"`)
}
