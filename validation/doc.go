// Package validation checks configuration structs with go-playground
// validator tags and request inputs with a small fluent Validator. Both
// report failures as INVALID_INPUT AppErrors carrying per-field details.
package validation
