package schema

import "fmt"

// SchemaError reports an invalid data model. It is fatal: the server refuses
// to start while the schema fails to bind.
type SchemaError struct {
	Message string
}

func (e *SchemaError) Error() string {
	return "schema error: " + e.Message
}

func schemaErrorf(format string, args ...interface{}) *SchemaError {
	return &SchemaError{Message: fmt.Sprintf(format, args...)}
}
