package app

import "fmt"

// DomainError is an expected business outcome (not found, forbidden,
// validation, conflict) carried to the HTTP layer, which renders it as the
// {code, error, details} envelope with the embedded status.
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
