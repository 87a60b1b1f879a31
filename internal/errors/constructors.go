package errors

// Convenience functions for common error patterns

// Config errors

func ConfigNotFound(path string) *PromoterError {
	return New(CategoryConfig, SeverityFatal, "configuration file not found").
		WithContext("path", path)
}

func ConfigRequired(field string) *PromoterError {
	return New(CategoryConfig, SeverityFatal, "required configuration missing").
		WithContext("field", field)
}

func ValidationFailed(field, reason string) *PromoterError {
	return New(CategoryValidation, SeverityFatal, "validation failed").
		WithContext("field", field).
		WithContext("reason", reason)
}

// Build pipeline errors

func SpecMissing(key string) *PromoterError {
	return New(CategoryStore, SeverityError, "build spec not found in store").
		WithContext("key", key)
}

func BuildFailed(servicePath string, cause error) *PromoterError {
	return Wrap(cause, CategoryBuilder, SeverityError, "image build failed").
		WithContext("service_path", servicePath)
}

func PromoteFailed(imageRef string, cause error) *PromoterError {
	return Wrap(cause, CategoryBuilder, SeverityError, "image promotion failed").
		WithContext("image", imageRef)
}

// Store errors

func StoreReadError(key string, cause error) *PromoterError {
	return WrapRetryable(cause, CategoryStore, SeverityError, "store read failed").
		WithContext("key", key)
}

func StoreWriteError(key string, cause error) *PromoterError {
	return WrapRetryable(cause, CategoryStore, SeverityError, "store write failed").
		WithContext("key", key)
}

// Notify errors

func PublishError(group string, cause error) *PromoterError {
	return WrapRetryable(cause, CategoryNotify, SeverityWarning, "event publish failed").
		WithContext("group", group)
}

// Internal errors

func InternalError(message string, cause error) *PromoterError {
	return Wrap(cause, CategoryInternal, SeverityFatal, message)
}
