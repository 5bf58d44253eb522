package bridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// argSchema validates decoded addon arguments against a manifest schema.
type argSchema struct {
	schema *gojsonschema.Schema
}

func compileArgSchema(raw json.RawMessage) (*argSchema, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, err
	}
	return &argSchema{schema: schema}, nil
}

func (s *argSchema) validate(args any) error {
	if s == nil {
		return nil
	}
	result, err := s.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return fmt.Errorf("%s", strings.Join(details, "; "))
}
