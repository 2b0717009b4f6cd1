package api

import (
	"fmt"
	"strings"

	"fruitlog/pkg/storage"
)

// LogRequest is the body accepted by POST /api/logs. Absent fields decode to nil.
type LogRequest struct {
	Date       *string `json:"date"`
	Fruit      *string `json:"fruit"`
	Origin     *string `json:"origin"`
	Rating     *int    `json:"rating"`
	Store      *string `json:"store"`
	UserRegion *string `json:"userRegion"`
}

// ValidationError lists the required fields a request left out.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Missing, ", "))
}

// Validate checks that date, fruit and rating are present. Absent and null
// fields are missing; empty strings are values like any other.
func (r LogRequest) Validate() error {
	var missing []string
	if r.Date == nil {
		missing = append(missing, "date")
	}
	if r.Fruit == nil {
		missing = append(missing, "fruit")
	}
	if r.Rating == nil {
		missing = append(missing, "rating")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

// Log converts a validated request into a storage log, applying defaults.
func (r LogRequest) Log() storage.Log {
	l := storage.Log{
		Region: storage.DefaultRegion,
	}
	if r.Date != nil {
		l.Date = *r.Date
	}
	if r.Fruit != nil {
		l.Fruit = *r.Fruit
	}
	if r.Origin != nil {
		l.Origin = *r.Origin
	}
	if r.Rating != nil {
		l.Rating = *r.Rating
	}
	if r.Store != nil {
		l.Store = *r.Store
	}
	if r.UserRegion != nil {
		l.Region = *r.UserRegion
	}
	return l
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}
