package datastore

import (
	"github.com/lampwatch/lampwatch/internal/errors"
)

const componentName = "datastore"

// dbError creates a database category error with key/value context pairs.
func dbError(err error, operation string, context ...any) error {
	builder := errors.New(err).
		Component(componentName).
		Category(errors.CategoryDatabase).
		Context("operation", operation)

	for i := 0; i+1 < len(context); i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}
	return builder.Build()
}
