package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/Chando-ra/fraudprep/internal/frame"
)

func TestNewUnknownKind(t *testing.T) {
	_, err := New(context.Background(), Config{Kind: "oracle"})
	if err == nil || !strings.Contains(err.Error(), "oracle") {
		t.Errorf("New(oracle) = %v, want unsupported-kind error", err)
	}
}

func TestDefsFromSchema(t *testing.T) {
	s := frame.NewSchema([]frame.Column{
		{Name: "id", Kind: frame.KindInt},
		{Name: "name", Kind: frame.KindString},
	})
	defs := DefsFromSchema(s)
	if len(defs) != 2 || defs[0].Name != "id" || defs[0].Kind != frame.KindInt {
		t.Errorf("DefsFromSchema = %v", defs)
	}
}
