package httpserver

import (
	"regexp"
	"strconv"
	"strings"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

var validJobID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateJobID validates a job ID
func ValidateJobID(jobID string) ValidationResult {
	if jobID == "" {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Field:   "jobId",
					Code:    "REQUIRED",
					Message: "Job ID is required",
				},
			},
		}
	}

	if len(jobID) > 100 {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Field:   "jobId",
					Code:    "TOO_LONG",
					Message: "Job ID is too long (max 100 characters)",
				},
			},
		}
	}

	if !validJobID.MatchString(jobID) {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Field:   "jobId",
					Code:    "INVALID_FORMAT",
					Message: "Job ID contains invalid characters",
				},
			},
		}
	}

	return ValidationResult{Valid: true}
}

// ValidateLimit validates a list page size parameter.
func ValidateLimit(limit string) ValidationResult {
	if limit == "" {
		return ValidationResult{Valid: true}
	}
	n, err := strconv.Atoi(limit)
	if err != nil || n < 1 || n > 500 {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Field:   "limit",
					Code:    "INVALID_FORMAT",
					Message: "Limit must be between 1 and 500",
				},
			},
		}
	}
	return ValidationResult{Valid: true}
}

// ValidateStatus validates a job status filter
func ValidateStatus(status string) ValidationResult {
	if status == "" {
		return ValidationResult{Valid: true}
	}

	validStatuses := []string{"queued", "running", "processing_artifacts", "completed", "failed", "cancelled", "expired"}
	for _, validStatus := range validStatuses {
		if status == validStatus {
			return ValidationResult{Valid: true}
		}
	}

	return ValidationResult{
		Valid: false,
		Errors: []ValidationError{
			{
				Field:   "status",
				Code:    "INVALID_VALUE",
				Message: "Status must be one of: " + strings.Join(validStatuses, ", "),
			},
		},
	}
}

// ValidateUserID validates an optional user filter.
func ValidateUserID(userID string) ValidationResult {
	if userID == "" {
		return ValidationResult{Valid: true}
	}
	if len(userID) > 256 {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Field:   "userId",
					Code:    "TOO_LONG",
					Message: "User ID is too long (max 256 characters)",
				},
			},
		}
	}
	if strings.ContainsAny(userID, "\x00\n\r") {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Field:   "userId",
					Code:    "INVALID_FORMAT",
					Message: "User ID contains invalid characters",
				},
			},
		}
	}
	return ValidationResult{Valid: true}
}
