package app

import (
	"fmt"
	"net/http"
	"strings"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func unknownKind(kind string) *DomainError {
	return domainError(http.StatusNotFound, "UNKNOWN_KIND", fmt.Sprintf("Unknown document kind %q", kind), nil)
}

func unknownSections(names []string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "UNKNOWN_SECTION",
		"Unknown section: "+strings.Join(names, ", "),
		map[string]any{"sections": names})
}

func missingFields(missing []string) *DomainError {
	message := "Missing required fields: " + strings.Join(missing, ", ")
	if len(missing) == 1 {
		message = missing[0] + " is required"
	}
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message,
		map[string]any{"missing": missing})
}
